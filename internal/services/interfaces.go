package services

import (
	"context"
	"time"

	"github.com/kioskflow/api/internal/domain"
)

// OrderService owns order creation, fulfillment status changes, and terminal checkout cancellation.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, query GetOrderQuery) (domain.Order, error)
	UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) ([]domain.Order, error)
	CancelCheckout(ctx context.Context, cmd CancelCheckoutCommand) error
}

// SettlementService applies asynchronous payment outcomes reported by the terminal gateway.
type SettlementService interface {
	ApplySettlement(ctx context.Context, cmd SettlementCommand) (domain.Order, error)
	Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error)
}

// SystemService exposes health information.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.HealthReport, error)
}

// TerminalGateway is the card-present payment processor driving the kiosk readers.
type TerminalGateway interface {
	CreateCheckout(ctx context.Context, req TerminalCheckoutRequest) (TerminalCheckout, error)
	CancelCheckout(ctx context.Context, readerRef string) error
	LookupCheckout(ctx context.Context, clientTransactionID string) (TerminalCheckoutStatus, error)
}

// TerminalCheckoutRequest asks the gateway to charge amount on the reader.
type TerminalCheckoutRequest struct {
	ReaderRef string
	// Amount in minor currency units.
	Amount   int64
	OrderRef string
}

// TerminalCheckout identifies the checkout created on the reader.
type TerminalCheckout struct {
	ClientTransactionID string
}

// TerminalCheckoutStatus reports the gateway's view of a checkout.
type TerminalCheckoutStatus struct {
	ClientTransactionID string
	Status              domain.PaymentStatus
	// Amount charged in minor units, when the gateway reports it.
	Amount *int64
}

// OrderEventPublisher publishes order events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent is emitted after an order is created or mutated.
type OrderEvent struct {
	Type           string
	OrderID        string
	KioskID        string
	PreviousStatus string
	CurrentStatus  string
	PaymentStatus  string

	// PreviousPaymentStatus is set when the event records a payment settlement.
	PreviousPaymentStatus string
	OccurredAt            time.Time
	Order                 domain.PublicOrder
}

// ItemInput is an order line as submitted by the caller, before validation.
type ItemInput struct {
	ItemID   string
	Quantity *float64
}

// CreateOrderCommand carries the order request.
type CreateOrderCommand struct {
	ActivityID     string
	RoomID         string
	KioskID        *string
	Products       []ItemInput
	Options        []ItemInput
	CheckoutMethod string
}

// GetOrderQuery reads one order. ViewerKioskID restricts the lookup to orders of that kiosk.
type GetOrderQuery struct {
	OrderID       string
	ViewerKioskID string
}

// UpdateOrderStatusCommand moves a batch of orders to Status.
type UpdateOrderStatusCommand struct {
	OrderIDs []string
	Status   string
	ActorID  string
}

// CancelCheckoutCommand cancels the pending terminal checkout of an order.
type CancelCheckoutCommand struct {
	KioskID string
	OrderID string
}

// SettlementCommand reports the outcome of a terminal checkout.
type SettlementCommand struct {
	ClientTransactionID string
	Status              string
	Source              string
}

// ReconcileCommand asks the settlement service to poll the gateway for stale pending payments.
type ReconcileCommand struct {
	Now time.Time
}

// ReconcileResult summarises a reconcile run.
type ReconcileResult struct {
	Checked int
	Settled int
	Failed  int
}
