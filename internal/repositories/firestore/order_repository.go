package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kioskflow/api/internal/domain"
	pfirestore "github.com/kioskflow/api/internal/platform/firestore"
	"github.com/kioskflow/api/internal/repositories"
)

// OrderRepository stores orders and enforces referential integrity inside the write transaction.
type OrderRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

type referenceCheck struct {
	kind repositories.ReferenceKind
	id   string
	ref  *firestore.DocumentRef
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("orders.insert: order id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	checks := referenceChecks(client, order)
	orderRef := client.Collection(ordersCollection).Doc(order.ID)
	doc := newOrderDocument(order)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		refs := make([]*firestore.DocumentRef, 0, len(checks))
		for _, check := range checks {
			refs = append(refs, check.ref)
		}
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		missing := &repositories.ReferenceError{Op: "orders.insert"}
		for i, snap := range snaps {
			if snap == nil || !snap.Exists() {
				missing.Add(checks[i].kind, checks[i].id)
			}
		}
		if !missing.Empty() {
			return missing
		}
		return tx.Create(orderRef, doc)
	})
	if err != nil {
		var refErr *repositories.ReferenceError
		if errors.As(err, &refErr) {
			return refErr
		}
		if status.Code(err) == codes.AlreadyExists {
			return repositories.NewOrderError(repositories.OrderErrorAlreadyExists, fmt.Sprintf("order %s already exists", order.ID), err)
		}
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// referenceChecks lists every distinct document the order points to. Duplicated item ids are read once.
func referenceChecks(client *firestore.Client, order domain.Order) []referenceCheck {
	var checks []referenceCheck
	seen := make(map[string]struct{})
	add := func(kind repositories.ReferenceKind, collection, id string) {
		key := collection + "/" + id
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		checks = append(checks, referenceCheck{kind: kind, id: id, ref: client.Collection(collection).Doc(id)})
	}
	add(repositories.ReferenceActivity, activitiesCollection, order.ActivityID)
	add(repositories.ReferenceRoom, roomsCollection, order.RoomID)
	if order.KioskID != nil {
		add(repositories.ReferenceKiosk, kiosksCollection, *order.KioskID)
	}
	for _, item := range order.Products {
		add(repositories.ReferenceProduct, productsCollection, item.ItemID)
	}
	for _, item := range order.Options {
		add(repositories.ReferenceOption, optionsCollection, item.ItemID)
	}
	return checks
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := client.Collection(ordersCollection).Doc(orderID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	return decodeOrder(snap)
}

func (r *OrderRepository) UpdateStatuses(ctx context.Context, ids []string, mutate repositories.OrderStatusMutator) ([]repositories.OrderStatusChange, error) {
	if mutate == nil {
		return nil, errors.New("orders.updateStatuses: mutator is required")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	col := client.Collection(ordersCollection)
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, col.Doc(id))
	}

	var changes []repositories.OrderStatusChange
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		changes = changes[:0]
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		type pending struct {
			ref   *firestore.DocumentRef
			order domain.Order
		}
		var writes []pending
		for _, snap := range snaps {
			if snap == nil || !snap.Exists() {
				continue
			}
			current, err := decodeOrder(snap)
			if err != nil {
				return err
			}
			updated, changed, err := mutate(current)
			if err != nil {
				return err
			}
			changes = append(changes, repositories.OrderStatusChange{Previous: current.Status, Order: updated})
			if changed {
				writes = append(writes, pending{ref: snap.Ref, order: updated})
			}
		}
		for _, w := range writes {
			if err := tx.Set(w.ref, newOrderDocument(w.order)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapOrderError("orders.updateStatuses", err)
	}
	return changes, nil
}

func (r *OrderRepository) UpdatePayment(ctx context.Context, clientTransactionID string, mutate repositories.PaymentMutator) (domain.Order, bool, error) {
	if mutate == nil {
		return domain.Order{}, false, errors.New("orders.updatePayment: mutator is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, false, err
	}
	query := client.Collection(ordersCollection).
		Where("payment.clientTransactionId", "==", clientTransactionID).
		Limit(1)

	var (
		result  domain.Order
		changed bool
	)
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		iter := tx.Documents(query)
		defer iter.Stop()
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("no order for transaction %s", clientTransactionID), nil)
		}
		if err != nil {
			return err
		}
		current, err := decodeOrder(snap)
		if err != nil {
			return err
		}
		updated, didChange, err := mutate(current)
		if err != nil {
			return err
		}
		result, changed = updated, didChange
		if !didChange {
			return nil
		}
		return tx.Set(snap.Ref, newOrderDocument(updated))
	})
	if err != nil {
		return domain.Order{}, false, wrapOrderError("orders.updatePayment", err)
	}
	return result, changed, nil
}

func (r *OrderRepository) ListPendingPayments(ctx context.Context, filter repositories.PendingPaymentFilter) ([]domain.Order, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	query := client.Collection(ordersCollection).
		Where("payment.status", "==", string(domain.PaymentStatusPending))
	if filter.Method != "" {
		query = query.Where("checkoutMethod", "==", string(filter.Method))
	}
	if !filter.CreatedBefore.IsZero() {
		query = query.Where("createdAt", "<", filter.CreatedBefore.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Asc)
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()
	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("orders.listPendingPayments", err)
		}
		order, err := decodeOrder(snap)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

func decodeOrder(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorCorrupt, fmt.Sprintf("decode order %s", snap.Ref.ID), err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// wrapOrderError keeps typed errors produced inside a transaction callback and classifies the rest.
func wrapOrderError(op string, err error) error {
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	// Errors raised by the mutator carry service sentinels and are returned untouched.
	if status.Code(err) == codes.Unknown {
		return err
	}
	return pfirestore.WrapError(op, err)
}
