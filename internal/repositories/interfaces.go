package repositories

import (
	"context"
	"time"

	"github.com/kioskflow/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CatalogRepository resolves prices for products and options. Missing records must return a
// RepositoryError with IsNotFound so callers can distinguish them from backend failures.
type CatalogRepository interface {
	FindProduct(ctx context.Context, productID string) (domain.CatalogItem, error)
	FindOption(ctx context.Context, optionID string) (domain.CatalogItem, error)
}

// KioskRepository reads kiosk records.
type KioskRepository interface {
	FindByID(ctx context.Context, kioskID string) (domain.Kiosk, error)
}

// ReaderRepository reads payment reader records.
type ReaderRepository interface {
	FindByID(ctx context.Context, readerID string) (domain.Reader, error)
}

// OrderStatusChange captures a status write prepared inside an UpdateStatuses transaction.
type OrderStatusChange struct {
	Previous domain.OrderStatus
	Order    domain.Order
}

// OrderStatusMutator decides the new state of one matched order. Returning an error aborts the
// whole batch. Returning changed=false leaves the document untouched.
type OrderStatusMutator func(order domain.Order) (updated domain.Order, changed bool, err error)

// PendingPaymentFilter selects orders whose terminal payment has not settled.
type PendingPaymentFilter struct {
	Method        domain.CheckoutMethod
	CreatedBefore time.Time
	Limit         int
}

// PaymentMutator applies a settlement to an order inside a transaction.
type PaymentMutator func(order domain.Order) (updated domain.Order, changed bool, err error)

// OrderRepository persists orders.
type OrderRepository interface {
	// Insert stores a new order after confirming that every entity it references exists. A missing
	// reference aborts the write with a *ReferenceError.
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// UpdateStatuses loads every existing order among ids within a single transaction, applies
	// mutate, and writes the changed ones. Ids without a document are skipped. The returned slice
	// holds every matched order in the order of ids.
	UpdateStatuses(ctx context.Context, ids []string, mutate OrderStatusMutator) ([]OrderStatusChange, error)
	// UpdatePayment locates the order by its client transaction id and applies mutate atomically.
	UpdatePayment(ctx context.Context, clientTransactionID string, mutate PaymentMutator) (domain.Order, bool, error)
	ListPendingPayments(ctx context.Context, filter PendingPaymentFilter) ([]domain.Order, error)
}

// HealthRepository exposes dependency health probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
