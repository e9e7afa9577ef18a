package domain

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNewKioskOrderViewExposesTransactionOnlyToOwner(t *testing.T) {
	kiosk := "01HZX3K9P6Q8W7VJ2T5N4M3B1A"
	tx := "tx-1"
	order := Order{
		ID:             "01HZX3K9P6Q8W7VJ2T5N4M3B1C",
		ActivityID:     "act",
		RoomID:         "room",
		KioskID:        &kiosk,
		Products:       []OrderItem{{ItemID: "p1", Quantity: 2}},
		Status:         OrderStatusPending,
		CheckoutMethod: CheckoutMethodSumUp,
		Payment:        &Payment{Status: PaymentStatusPending, ClientTransactionID: &tx},
		Subtotal:       250,
		CreatedAt:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}

	owner := NewKioskOrderView(order, kiosk)
	if owner.ClientTransactionID == nil || *owner.ClientTransactionID != tx {
		t.Fatalf("expected owner view to carry transaction id, got %#v", owner.ClientTransactionID)
	}

	other := NewKioskOrderView(order, "01HZX3K9P6Q8W7VJ2T5N4M3B1B")
	if other.ClientTransactionID != nil {
		t.Fatalf("expected transaction id hidden from other kiosks")
	}

	public := NewPublicOrder(order)
	if public.ClientTransactionID != nil {
		t.Fatalf("expected public view without transaction id")
	}
	want := []PublicItem{{ID: "p1", Quantity: 2}}
	if diff := cmp.Diff(want, public.Products); diff != "" {
		t.Fatalf("products mismatch (-want +got):\n%s", diff)
	}
	if public.Options == nil || len(public.Options) != 0 {
		t.Fatalf("expected empty options slice, got %#v", public.Options)
	}
	if public.PaymentStatus == nil || *public.PaymentStatus != PaymentStatusPending {
		t.Fatalf("expected flattened payment status")
	}
}

func TestValidID(t *testing.T) {
	cases := map[string]bool{
		NewID():                        true,
		"01HZX3K9P6Q8W7VJ2T5N4M3B1A":   true,
		"":                             false,
		"not-an-id":                    false,
		" 01HZX3K9P6Q8W7VJ2T5N4M3B1A":  false,
		"01HZX3K9P6Q8W7VJ2T5N4M3B1":    false,
		"01HZX3K9P6Q8W7VJ2T5N4M3B1AXX": false,
	}
	for id, want := range cases {
		if got := ValidID(id); got != want {
			t.Fatalf("ValidID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestOrderStatusRank(t *testing.T) {
	if !(OrderStatusPending.Rank() < OrderStatusConfirmed.Rank() && OrderStatusConfirmed.Rank() < OrderStatusDelivered.Rank()) {
		t.Fatalf("unexpected rank ordering")
	}
	if OrderStatus("shipped").Valid() {
		t.Fatalf("expected unknown status invalid")
	}
	if PaymentStatusPending.Terminal() || !PaymentStatusRefunded.Terminal() {
		t.Fatalf("unexpected terminal classification")
	}
}
