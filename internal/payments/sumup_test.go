package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kioskflow/api/internal/domain"
	"github.com/kioskflow/api/internal/services"
)

func newTestSumUp(t *testing.T, handler http.HandlerFunc) *SumUpGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	gw, err := NewSumUpGateway(SumUpConfig{
		APIKey:       "sup_sk_test",
		MerchantCode: "MC123",
		BaseURL:      srv.URL,
		Currency:     "EUR",
		HTTPClient:   srv.Client(),
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gw
}

func TestSumUpCreateCheckout(t *testing.T) {
	var got sumUpCheckoutRequest
	gw := newTestSumUp(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v0.1/merchants/MC123/readers/rdr_1/checkout" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sup_sk_test" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"client_transaction_id":"tx-42"}}`))
	})

	checkout, err := gw.CreateCheckout(context.Background(), services.TerminalCheckoutRequest{
		ReaderRef: "rdr_1",
		Amount:    1250,
		OrderRef:  "ord1",
	})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if checkout.ClientTransactionID != "tx-42" {
		t.Fatalf("expected tx-42, got %q", checkout.ClientTransactionID)
	}
	want := sumUpAmount{Currency: "EUR", MinorUnit: 2, Value: 1250}
	if diff := cmp.Diff(want, got.TotalAmount); diff != "" {
		t.Fatalf("amount mismatch (-want +got):\n%s", diff)
	}
}

func TestSumUpCreateCheckoutMissingTransactionID(t *testing.T) {
	gw := newTestSumUp(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	})
	_, err := gw.CreateCheckout(context.Background(), services.TerminalCheckoutRequest{ReaderRef: "rdr_1", Amount: 100})
	if err == nil {
		t.Fatalf("expected error for empty transaction id")
	}
}

func TestSumUpErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{name: "server error", status: http.StatusBadGateway, want: ErrGatewayUnavailable},
		{name: "rate limited", status: http.StatusTooManyRequests, want: ErrGatewayUnavailable},
		{name: "reader busy", status: http.StatusUnprocessableEntity, want: ErrCheckoutRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := newTestSumUp(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error_code":"READER_BUSY","message":"reader is busy"}`))
			})
			err := gw.CancelCheckout(context.Background(), "rdr_1")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.Code != "READER_BUSY" {
				t.Fatalf("expected api error with code, got %#v", err)
			}
		})
	}
}

func TestSumUpCancelCheckoutTerminates(t *testing.T) {
	called := false
	gw := newTestSumUp(t, func(w http.ResponseWriter, r *http.Request) {
		called = r.Method == http.MethodPost && r.URL.Path == "/v0.1/merchants/MC123/readers/rdr_9/terminate"
		w.WriteHeader(http.StatusAccepted)
	})
	if err := gw.CancelCheckout(context.Background(), "rdr_9"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !called {
		t.Fatalf("expected terminate endpoint to be called")
	}
}

func TestSumUpLookupCheckout(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status domain.PaymentStatus
		amount int64
	}{
		{name: "successful", body: `{"status":"SUCCESSFUL","amount":12.5}`, status: domain.PaymentStatusSuccessful, amount: 1250},
		{name: "cancelled", body: `{"status":"CANCELLED","amount":12.5}`, status: domain.PaymentStatusFailed, amount: 1250},
		{name: "refunded", body: `{"status":"SUCCESSFUL","simple_status":"REFUNDED","amount":3.1}`, status: domain.PaymentStatusRefunded, amount: 310},
		{name: "pending", body: `{"status":"PENDING"}`, status: domain.PaymentStatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := newTestSumUp(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("client_transaction_id") != "tx-1" {
					t.Errorf("unexpected query %q", r.URL.RawQuery)
				}
				_, _ = w.Write([]byte(tc.body))
			})
			got, err := gw.LookupCheckout(context.Background(), "tx-1")
			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			if got.Status != tc.status {
				t.Fatalf("expected %s, got %s", tc.status, got.Status)
			}
			if tc.amount == 0 {
				if got.Amount != nil {
					t.Fatalf("expected no amount, got %d", *got.Amount)
				}
				return
			}
			if got.Amount == nil || *got.Amount != tc.amount {
				t.Fatalf("expected amount %d, got %v", tc.amount, got.Amount)
			}
		})
	}
}

func TestNewSumUpGatewayValidates(t *testing.T) {
	if _, err := NewSumUpGateway(SumUpConfig{MerchantCode: "MC"}); err == nil {
		t.Fatalf("expected api key error")
	}
	if _, err := NewSumUpGateway(SumUpConfig{APIKey: "k"}); err == nil {
		t.Fatalf("expected merchant error")
	}
	if _, err := NewSumUpGateway(SumUpConfig{APIKey: "k", MerchantCode: "MC", Currency: "??"}); err == nil {
		t.Fatalf("expected currency error")
	}
}
