package firestore

import (
	"time"

	"github.com/kioskflow/api/internal/domain"
)

const (
	ordersCollection     = "orders"
	productsCollection   = "products"
	optionsCollection    = "options"
	kiosksCollection     = "kiosks"
	readersCollection    = "readers"
	activitiesCollection = "activities"
	roomsCollection      = "rooms"
)

type orderItemDocument struct {
	ItemID   string `firestore:"id"`
	Quantity int    `firestore:"quantity"`
}

type paymentDocument struct {
	Status              string  `firestore:"status"`
	ClientTransactionID *string `firestore:"clientTransactionId"`
}

type orderDocument struct {
	ActivityID     string              `firestore:"activityId"`
	RoomID         string              `firestore:"roomId"`
	KioskID        *string             `firestore:"kioskId"`
	Products       []orderItemDocument `firestore:"products"`
	Options        []orderItemDocument `firestore:"options"`
	Status         string              `firestore:"status"`
	CheckoutMethod string              `firestore:"checkoutMethod"`
	Payment        *paymentDocument    `firestore:"payment"`
	Subtotal       int64               `firestore:"subtotal"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
}

type catalogDocument struct {
	Name  string `firestore:"name"`
	Price int64  `firestore:"price"`
}

type kioskDocument struct {
	Name     string  `firestore:"name"`
	ReaderID *string `firestore:"readerId"`
}

type readerDocument struct {
	Name                string `firestore:"name"`
	ExternalReferenceID string `firestore:"externalReferenceId"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		ActivityID:     order.ActivityID,
		RoomID:         order.RoomID,
		KioskID:        order.KioskID,
		Products:       newItemDocuments(order.Products),
		Options:        newItemDocuments(order.Options),
		Status:         string(order.Status),
		CheckoutMethod: string(order.CheckoutMethod),
		Subtotal:       order.Subtotal,
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
	}
	if order.Payment != nil {
		doc.Payment = &paymentDocument{
			Status:              string(order.Payment.Status),
			ClientTransactionID: order.Payment.ClientTransactionID,
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:             id,
		ActivityID:     d.ActivityID,
		RoomID:         d.RoomID,
		KioskID:        d.KioskID,
		Products:       d.itemsToDomain(d.Products),
		Options:        d.itemsToDomain(d.Options),
		Status:         domain.OrderStatus(d.Status),
		CheckoutMethod: domain.CheckoutMethod(d.CheckoutMethod),
		Subtotal:       d.Subtotal,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
	if d.Payment != nil {
		order.Payment = &domain.Payment{
			Status:              domain.PaymentStatus(d.Payment.Status),
			ClientTransactionID: d.Payment.ClientTransactionID,
		}
	}
	return order
}

func newItemDocuments(items []domain.OrderItem) []orderItemDocument {
	out := make([]orderItemDocument, 0, len(items))
	for _, item := range items {
		out = append(out, orderItemDocument{ItemID: item.ItemID, Quantity: item.Quantity})
	}
	return out
}

func (orderDocument) itemsToDomain(items []orderItemDocument) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		out = append(out, domain.OrderItem{ItemID: item.ItemID, Quantity: item.Quantity})
	}
	return out
}
