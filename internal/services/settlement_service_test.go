package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kioskflow/api/internal/domain"
)

func newSettlementFixture(t *testing.T, gateway TerminalGateway) (SettlementService, *memoryOrderRepo, *recordingPublisher) {
	t.Helper()
	orders := newMemoryOrderRepo(nil, nil)
	publisher := &recordingPublisher{}
	svc, err := NewSettlementService(SettlementServiceDeps{
		Orders:    orders,
		Gateway:   gateway,
		Events:    publisher,
		MinAge:    5 * time.Minute,
		BatchSize: 10,
		Clock:     fixedClock(),
	})
	if err != nil {
		t.Fatalf("NewSettlementService: %v", err)
	}
	return svc, orders, publisher
}

func pendingTerminalOrder(id, txID string, createdAt time.Time) domain.Order {
	kiosk := testKioskID
	return domain.Order{
		ID:             id,
		ActivityID:     testActivityID,
		RoomID:         testRoomID,
		KioskID:        &kiosk,
		Products:       []domain.OrderItem{{ItemID: testProductA, Quantity: 1}},
		Status:         domain.OrderStatusPending,
		CheckoutMethod: domain.CheckoutMethodSumUp,
		Payment:        &domain.Payment{Status: domain.PaymentStatusPending, ClientTransactionID: &txID},
		Subtotal:       100,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

func TestApplySettlementMovesPendingToTerminal(t *testing.T) {
	svc, orders, publisher := newSettlementFixture(t, nil)
	orders.orders[testOrderID] = pendingTerminalOrder(testOrderID, "tx1", fixedClock()())

	order, err := svc.ApplySettlement(context.Background(), SettlementCommand{ClientTransactionID: "tx1", Status: "successful"})
	if err != nil {
		t.Fatalf("ApplySettlement: %v", err)
	}
	if order.Payment.Status != domain.PaymentStatusSuccessful {
		t.Fatalf("expected successful, got %s", order.Payment.Status)
	}
	if len(publisher.events) != 1 || publisher.events[0].PaymentStatus != "successful" {
		t.Fatalf("expected update event, got %#v", publisher.events)
	}
	if ev := publisher.events[0]; ev.PreviousPaymentStatus != "pending" || ev.PreviousStatus != "" {
		t.Fatalf("expected previous payment status pending and no status transition, got %#v", ev)
	}

	// Replaying the same outcome is a no-op.
	if _, err := svc.ApplySettlement(context.Background(), SettlementCommand{ClientTransactionID: "tx1", Status: "successful"}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("replay must not publish")
	}

	_, err = svc.ApplySettlement(context.Background(), SettlementCommand{ClientTransactionID: "tx1", Status: "failed"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state leaving terminal status, got %v", err)
	}
}

func TestApplySettlementValidation(t *testing.T) {
	svc, _, _ := newSettlementFixture(t, nil)
	for _, cmd := range []SettlementCommand{
		{Status: "successful"},
		{ClientTransactionID: "tx1", Status: "pending"},
		{ClientTransactionID: "tx1", Status: "paid"},
	} {
		if _, err := svc.ApplySettlement(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("%#v: expected invalid input, got %v", cmd, err)
		}
	}
	if _, err := svc.ApplySettlement(context.Background(), SettlementCommand{ClientTransactionID: "unknown", Status: "failed"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReconcileSettlesStalePayments(t *testing.T) {
	now := fixedClock()()
	amount := int64(100)
	wrongAmount := int64(90)
	gateway := &stubGateway{lookupFn: func(_ context.Context, txID string) (TerminalCheckoutStatus, error) {
		switch txID {
		case "tx-ok":
			return TerminalCheckoutStatus{ClientTransactionID: txID, Status: domain.PaymentStatusSuccessful, Amount: &amount}, nil
		case "tx-failed":
			return TerminalCheckoutStatus{ClientTransactionID: txID, Status: domain.PaymentStatusFailed}, nil
		case "tx-mismatch":
			return TerminalCheckoutStatus{ClientTransactionID: txID, Status: domain.PaymentStatusSuccessful, Amount: &wrongAmount}, nil
		case "tx-error":
			return TerminalCheckoutStatus{}, errBoom
		}
		return TerminalCheckoutStatus{ClientTransactionID: txID, Status: domain.PaymentStatusPending}, nil
	}}
	svc, orders, _ := newSettlementFixture(t, gateway)
	old := now.Add(-time.Hour)
	orders.orders["o1"] = pendingTerminalOrder("o1", "tx-ok", old)
	orders.orders["o2"] = pendingTerminalOrder("o2", "tx-failed", old)
	orders.orders["o3"] = pendingTerminalOrder("o3", "tx-mismatch", old)
	orders.orders["o4"] = pendingTerminalOrder("o4", "tx-error", old)
	orders.orders["o5"] = pendingTerminalOrder("o5", "tx-pending", old)
	orders.orders["o6"] = pendingTerminalOrder("o6", "tx-ok-recent", now)

	result, err := svc.Reconcile(context.Background(), ReconcileCommand{Now: now})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	want := ReconcileResult{Checked: 5, Settled: 2, Failed: 2}
	if result != want {
		t.Fatalf("expected %#v, got %#v", want, result)
	}
	if orders.orders["o1"].Payment.Status != domain.PaymentStatusSuccessful {
		t.Fatalf("expected o1 settled")
	}
	if orders.orders["o2"].Payment.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected o2 failed")
	}
	if orders.orders["o3"].Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("expected amount mismatch to stay pending")
	}
	if orders.orders["o6"].Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("recent orders must not be reconciled")
	}
}

func TestReconcileRequiresGateway(t *testing.T) {
	svc, _, _ := newSettlementFixture(t, nil)
	if _, err := svc.Reconcile(context.Background(), ReconcileCommand{}); !errors.Is(err, ErrOrderPaymentFailed) {
		t.Fatalf("expected payment failure without gateway, got %v", err)
	}
}
