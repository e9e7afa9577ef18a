package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/kioskflow/api/internal/domain"
	"github.com/kioskflow/api/internal/services"
)

type fakeProvider struct {
	name      string
	createErr error
	creates   int
	cancels   []string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) CreateCheckout(ctx context.Context, req services.TerminalCheckoutRequest) (services.TerminalCheckout, error) {
	f.creates++
	if f.createErr != nil {
		return services.TerminalCheckout{}, f.createErr
	}
	return services.TerminalCheckout{ClientTransactionID: f.name + "-tx"}, nil
}

func (f *fakeProvider) CancelCheckout(ctx context.Context, readerRef string) error {
	f.cancels = append(f.cancels, readerRef)
	return nil
}

func (f *fakeProvider) LookupCheckout(ctx context.Context, txID string) (services.TerminalCheckoutStatus, error) {
	return services.TerminalCheckoutStatus{ClientTransactionID: txID, Status: domain.PaymentStatusSuccessful}, nil
}

func TestManagerRoutesToActiveProvider(t *testing.T) {
	sumup := &fakeProvider{name: "sumup"}
	stripe := &fakeProvider{name: "stripe"}
	manager, err := NewManager("Stripe", sumup, stripe)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if manager.Active() != "stripe" {
		t.Fatalf("expected stripe active, got %s", manager.Active())
	}
	checkout, err := manager.CreateCheckout(context.Background(), services.TerminalCheckoutRequest{ReaderRef: "r", Amount: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if checkout.ClientTransactionID != "stripe-tx" || sumup.creates != 0 {
		t.Fatalf("expected stripe to handle checkout, got %q (sumup calls %d)", checkout.ClientTransactionID, sumup.creates)
	}
	if err := manager.CancelCheckout(context.Background(), "r1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(stripe.cancels) != 1 {
		t.Fatalf("expected cancel on stripe")
	}
}

func TestManagerSingleProviderDefault(t *testing.T) {
	manager, err := NewManager("", &fakeProvider{name: "sumup"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if manager.Active() != "sumup" {
		t.Fatalf("expected sumup, got %s", manager.Active())
	}
}

func TestManagerRejectsUnknownProvider(t *testing.T) {
	_, err := NewManager("paypal", &fakeProvider{name: "sumup"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
	if _, err := NewManager("sumup"); err == nil {
		t.Fatalf("expected error without providers")
	}
	if _, err := NewManager("sumup", &fakeProvider{name: "sumup"}, &fakeProvider{name: "SUMUP"}); err == nil {
		t.Fatalf("expected duplicate provider error")
	}
}

func TestInstrumentedGatewayDelegates(t *testing.T) {
	boom := errors.New("boom")
	inner := &fakeProvider{name: "sumup", createErr: boom}
	gw, err := Instrument(inner, "sumup")
	if err != nil {
		t.Fatalf("instrument: %v", err)
	}
	if _, err := gw.CreateCheckout(context.Background(), services.TerminalCheckoutRequest{Amount: 5}); !errors.Is(err, boom) {
		t.Fatalf("expected inner error, got %v", err)
	}
	status, err := gw.LookupCheckout(context.Background(), "tx")
	if err != nil || status.Status != domain.PaymentStatusSuccessful {
		t.Fatalf("unexpected lookup result %#v, %v", status, err)
	}
	if err := gw.CancelCheckout(context.Background(), "rdr"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if inner.creates != 1 || len(inner.cancels) != 1 {
		t.Fatalf("expected delegation, got creates=%d cancels=%d", inner.creates, len(inner.cancels))
	}
	if _, err := Instrument(nil, "x"); err == nil {
		t.Fatalf("expected error for nil gateway")
	}
}
