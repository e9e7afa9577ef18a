package domain

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// OrderStatus enumerates the fulfillment states of an order.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed and awaits preparation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates staff accepted the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusDelivered indicates the order was handed over.
	OrderStatusDelivered OrderStatus = "delivered"
)

// Valid reports whether the status is one of the known fulfillment states.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusDelivered:
		return true
	}
	return false
}

// Rank orders statuses along the fulfillment lifecycle.
func (s OrderStatus) Rank() int {
	switch s {
	case OrderStatusPending:
		return 0
	case OrderStatusConfirmed:
		return 1
	case OrderStatusDelivered:
		return 2
	}
	return -1
}

// PaymentStatus enumerates payment settlement states.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusSuccessful PaymentStatus = "successful"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// Valid reports whether the payment status is known.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusSuccessful, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further settlement transition is expected.
func (s PaymentStatus) Terminal() bool {
	return s.Valid() && s != PaymentStatusPending
}

// CheckoutMethod selects how an order is paid.
type CheckoutMethod string

const (
	// CheckoutMethodSumUp charges the kiosk's card reader terminal.
	CheckoutMethodSumUp CheckoutMethod = "sumUp"
	// CheckoutMethodLater defers payment to the counter.
	CheckoutMethodLater CheckoutMethod = "later"
	// CheckoutMethodManual is used by staff entering orders by hand.
	CheckoutMethodManual CheckoutMethod = "manual"
	// CheckoutMethodMobilePay is reserved and not yet supported.
	CheckoutMethodMobilePay CheckoutMethod = "mobilePay"
)

// Valid reports whether the method is one of the accepted checkout methods.
func (m CheckoutMethod) Valid() bool {
	switch m {
	case CheckoutMethodSumUp, CheckoutMethodLater, CheckoutMethodManual, CheckoutMethodMobilePay:
		return true
	}
	return false
}

// OrderItem references a catalog product or option with a quantity.
type OrderItem struct {
	ItemID   string
	Quantity int
}

// Payment is embedded in the order and never stored on its own.
type Payment struct {
	Status              PaymentStatus
	ClientTransactionID *string
}

// Order is the persisted order aggregate.
type Order struct {
	ID             string
	ActivityID     string
	RoomID         string
	KioskID        *string
	Products       []OrderItem
	Options        []OrderItem
	Status         OrderStatus
	CheckoutMethod CheckoutMethod
	Payment        *Payment
	// Subtotal is kept in minor currency units for reconciliation and is not exposed publicly.
	Subtotal  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OwnedBy reports whether the order was placed by the given kiosk.
func (o Order) OwnedBy(kioskID string) bool {
	return o.KioskID != nil && kioskID != "" && *o.KioskID == kioskID
}

// CatalogItem is the pricing view of a product or option.
type CatalogItem struct {
	ID    string
	Price int64
}

// Kiosk is the subset of kiosk data needed for checkout.
type Kiosk struct {
	ID       string
	ReaderID *string
}

// Reader is a physical card terminal registered with the payment gateway.
type Reader struct {
	ID                  string
	ExternalReferenceID string
}

// ValidID reports whether id is a syntactically valid entity reference.
func ValidID(id string) bool {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" || trimmed != id {
		return false
	}
	_, err := ulid.ParseStrict(trimmed)
	return err == nil
}

// NewID returns a fresh entity identifier.
func NewID() string {
	return ulid.Make().String()
}
