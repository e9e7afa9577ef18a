package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kioskflow/api/internal/domain"
	"github.com/kioskflow/api/internal/repositories"
)

const (
	testActivityID = "01HZX3K9P6Q8W7VJ2T5N4M3A01"
	testRoomID     = "01HZX3K9P6Q8W7VJ2T5N4M3A02"
	testKioskID    = "01HZX3K9P6Q8W7VJ2T5N4M3A03"
	testOtherKiosk = "01HZX3K9P6Q8W7VJ2T5N4M3A04"
	testReaderID   = "01HZX3K9P6Q8W7VJ2T5N4M3A05"
	testProductA   = "01HZX3K9P6Q8W7VJ2T5N4M3A06"
	testProductC   = "01HZX3K9P6Q8W7VJ2T5N4M3A07"
	testOptionB    = "01HZX3K9P6Q8W7VJ2T5N4M3A08"
	testOrderID    = "01HZX3K9P6Q8W7VJ2T5N4M3A09"
	testOrderID2   = "01HZX3K9P6Q8W7VJ2T5N4M3A0A"
	testMissingID  = "01HZX3K9P6Q8W7VJ2T5N4M3A0B"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

var errStubNotFound = stubRepoError{notFound: true}

type stubCatalog struct {
	products map[string]int64
	options  map[string]int64
	err      error
	calls    int
}

func (s *stubCatalog) FindProduct(_ context.Context, id string) (domain.CatalogItem, error) {
	return s.find(s.products, id)
}

func (s *stubCatalog) FindOption(_ context.Context, id string) (domain.CatalogItem, error) {
	return s.find(s.options, id)
}

func (s *stubCatalog) find(prices map[string]int64, id string) (domain.CatalogItem, error) {
	s.calls++
	if s.err != nil {
		return domain.CatalogItem{}, s.err
	}
	price, ok := prices[id]
	if !ok {
		return domain.CatalogItem{}, errStubNotFound
	}
	return domain.CatalogItem{ID: id, Price: price}, nil
}

type stubKiosks struct {
	kiosks map[string]domain.Kiosk
	err    error
}

func (s *stubKiosks) FindByID(_ context.Context, id string) (domain.Kiosk, error) {
	if s.err != nil {
		return domain.Kiosk{}, s.err
	}
	kiosk, ok := s.kiosks[id]
	if !ok {
		return domain.Kiosk{}, errStubNotFound
	}
	return kiosk, nil
}

type stubReaders struct {
	readers map[string]domain.Reader
}

func (s *stubReaders) FindByID(_ context.Context, id string) (domain.Reader, error) {
	reader, ok := s.readers[id]
	if !ok {
		return domain.Reader{}, errStubNotFound
	}
	return reader, nil
}

type stubGateway struct {
	createFn func(context.Context, TerminalCheckoutRequest) (TerminalCheckout, error)
	cancelFn func(context.Context, string) error
	lookupFn func(context.Context, string) (TerminalCheckoutStatus, error)

	createCalls []TerminalCheckoutRequest
	cancelCalls []string
}

func (s *stubGateway) CreateCheckout(ctx context.Context, req TerminalCheckoutRequest) (TerminalCheckout, error) {
	s.createCalls = append(s.createCalls, req)
	if s.createFn != nil {
		return s.createFn(ctx, req)
	}
	return TerminalCheckout{ClientTransactionID: "tx1"}, nil
}

func (s *stubGateway) CancelCheckout(ctx context.Context, readerRef string) error {
	s.cancelCalls = append(s.cancelCalls, readerRef)
	if s.cancelFn != nil {
		return s.cancelFn(ctx, readerRef)
	}
	return nil
}

func (s *stubGateway) LookupCheckout(ctx context.Context, txID string) (TerminalCheckoutStatus, error) {
	if s.lookupFn != nil {
		return s.lookupFn(ctx, txID)
	}
	return TerminalCheckoutStatus{ClientTransactionID: txID, Status: domain.PaymentStatusPending}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

// memoryOrderRepo mimics the Firestore repository: inserts check references and batch updates
// apply atomically.
type memoryOrderRepo struct {
	orders   map[string]domain.Order
	catalog  *stubCatalog
	kiosks   *stubKiosks
	existing map[string]bool
	insertFn func(context.Context, domain.Order) error
	inserts  int
}

func newMemoryOrderRepo(catalog *stubCatalog, kiosks *stubKiosks) *memoryOrderRepo {
	return &memoryOrderRepo{
		orders:   map[string]domain.Order{},
		catalog:  catalog,
		kiosks:   kiosks,
		existing: map[string]bool{testActivityID: true, testRoomID: true},
	}
}

func (r *memoryOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if r.insertFn != nil {
		return r.insertFn(ctx, order)
	}
	refErr := &repositories.ReferenceError{Op: "orders.insert"}
	if !r.existing[order.ActivityID] {
		refErr.Add(repositories.ReferenceActivity, order.ActivityID)
	}
	if !r.existing[order.RoomID] {
		refErr.Add(repositories.ReferenceRoom, order.RoomID)
	}
	if order.KioskID != nil && r.kiosks != nil {
		if _, ok := r.kiosks.kiosks[*order.KioskID]; !ok {
			refErr.Add(repositories.ReferenceKiosk, *order.KioskID)
		}
	}
	if r.catalog != nil {
		for _, item := range order.Products {
			if _, ok := r.catalog.products[item.ItemID]; !ok {
				refErr.Add(repositories.ReferenceProduct, item.ItemID)
			}
		}
		for _, item := range order.Options {
			if _, ok := r.catalog.options[item.ItemID]; !ok {
				refErr.Add(repositories.ReferenceOption, item.ItemID)
			}
		}
	}
	if !refErr.Empty() {
		return refErr
	}
	if _, ok := r.orders[order.ID]; ok {
		return stubRepoError{conflict: true}
	}
	r.inserts++
	r.orders[order.ID] = order
	return nil
}

func (r *memoryOrderRepo) FindByID(_ context.Context, id string) (domain.Order, error) {
	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, errStubNotFound
	}
	return cloneOrder(order), nil
}

func (r *memoryOrderRepo) UpdateStatuses(_ context.Context, ids []string, mutate repositories.OrderStatusMutator) ([]repositories.OrderStatusChange, error) {
	staged := make(map[string]domain.Order)
	var changes []repositories.OrderStatusChange
	for _, id := range ids {
		current, ok := r.orders[id]
		if !ok {
			continue
		}
		updated, changed, err := mutate(cloneOrder(current))
		if err != nil {
			return nil, err
		}
		if changed {
			staged[id] = updated
		} else {
			updated = cloneOrder(current)
		}
		changes = append(changes, repositories.OrderStatusChange{Previous: current.Status, Order: updated})
	}
	for id, order := range staged {
		r.orders[id] = order
	}
	return changes, nil
}

func (r *memoryOrderRepo) UpdatePayment(_ context.Context, txID string, mutate repositories.PaymentMutator) (domain.Order, bool, error) {
	for id, order := range r.orders {
		if order.Payment == nil || order.Payment.ClientTransactionID == nil || *order.Payment.ClientTransactionID != txID {
			continue
		}
		updated, changed, err := mutate(cloneOrder(order))
		if err != nil {
			return domain.Order{}, false, err
		}
		if changed {
			r.orders[id] = updated
			return updated, true, nil
		}
		return cloneOrder(order), false, nil
	}
	return domain.Order{}, false, errStubNotFound
}

func (r *memoryOrderRepo) ListPendingPayments(_ context.Context, filter repositories.PendingPaymentFilter) ([]domain.Order, error) {
	var out []domain.Order
	for _, order := range r.orders {
		if order.CheckoutMethod != filter.Method || order.Payment == nil || order.Payment.Status != domain.PaymentStatusPending {
			continue
		}
		if !order.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		out = append(out, cloneOrder(order))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func cloneOrder(order domain.Order) domain.Order {
	out := order
	out.Products = append([]domain.OrderItem(nil), order.Products...)
	out.Options = append([]domain.OrderItem(nil), order.Options...)
	if order.Payment != nil {
		payment := *order.Payment
		out.Payment = &payment
	}
	return out
}

func fixedClock() func() time.Time {
	now := time.Date(2024, time.May, 1, 9, 30, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func qty(v float64) *float64 { return &v }

func strPtr(v string) *string { return &v }

var errBoom = errors.New("boom")
