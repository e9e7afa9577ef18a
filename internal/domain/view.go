package domain

import "time"

// PublicItem is the external shape of an order line.
type PublicItem struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// PublicOrder is the order representation returned to callers and published on events.
type PublicOrder struct {
	ID                  string         `json:"id"`
	Products            []PublicItem   `json:"products"`
	Options             []PublicItem   `json:"options"`
	ActivityID          string         `json:"activityId"`
	RoomID              string         `json:"roomId"`
	KioskID             *string        `json:"kioskId"`
	Status              OrderStatus    `json:"status"`
	PaymentStatus       *PaymentStatus `json:"paymentStatus"`
	CheckoutMethod      CheckoutMethod `json:"checkoutMethod"`
	ClientTransactionID *string        `json:"clientTransactionId,omitempty"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

// NewPublicOrder builds the view shared with staff and event consumers.
func NewPublicOrder(order Order) PublicOrder {
	view := PublicOrder{
		ID:             order.ID,
		Products:       publicItems(order.Products),
		Options:        publicItems(order.Options),
		ActivityID:     order.ActivityID,
		RoomID:         order.RoomID,
		KioskID:        copyString(order.KioskID),
		Status:         order.Status,
		CheckoutMethod: order.CheckoutMethod,
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
	}
	if order.Payment != nil {
		status := order.Payment.Status
		view.PaymentStatus = &status
	}
	return view
}

// NewKioskOrderView builds the view for the kiosk that placed the order. The client
// transaction id is included only when the viewer owns the order.
func NewKioskOrderView(order Order, viewerKioskID string) PublicOrder {
	view := NewPublicOrder(order)
	if order.OwnedBy(viewerKioskID) && order.Payment != nil {
		view.ClientTransactionID = copyString(order.Payment.ClientTransactionID)
	}
	return view
}

func publicItems(items []OrderItem) []PublicItem {
	out := make([]PublicItem, 0, len(items))
	for _, item := range items {
		out = append(out, PublicItem{ID: item.ItemID, Quantity: item.Quantity})
	}
	return out
}

func copyString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
