package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kioskflow/api/internal/domain"
	"github.com/kioskflow/api/internal/services"
)

type stubSettlementService struct {
	applyFn     func(context.Context, services.SettlementCommand) (domain.Order, error)
	reconcileFn func(context.Context, services.ReconcileCommand) (services.ReconcileResult, error)
}

func (s *stubSettlementService) ApplySettlement(ctx context.Context, cmd services.SettlementCommand) (domain.Order, error) {
	if s.applyFn != nil {
		return s.applyFn(ctx, cmd)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubSettlementService) Reconcile(ctx context.Context, cmd services.ReconcileCommand) (services.ReconcileResult, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, cmd)
	}
	return services.ReconcileResult{}, errors.New("not implemented")
}

func serveWebhook(h *PaymentWebhookHandlers, provider, body string) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.Route("/webhooks", h.Routes)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/"+provider, strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestPaymentWebhook_AppliesSettlement(t *testing.T) {
	var captured services.SettlementCommand
	svc := &stubSettlementService{
		applyFn: func(_ context.Context, cmd services.SettlementCommand) (domain.Order, error) {
			captured = cmd
			order := sampleOrder("kiosk-1")
			order.Payment.Status = domain.PaymentStatusSuccessful
			return order, nil
		},
	}
	h := NewPaymentWebhookHandlers(svc)

	rr := serveWebhook(h, "SumUp", `{"clientTransactionId":"tx-123","status":"successful"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ClientTransactionID != "tx-123" || captured.Status != "successful" || captured.Source != "sumup" {
		t.Fatalf("unexpected command %+v", captured)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["paymentStatus"] != "successful" {
		t.Fatalf("unexpected payment status %v", body["paymentStatus"])
	}
}

func TestPaymentWebhook_ValidatesPayload(t *testing.T) {
	cases := map[string]string{
		"missing transaction": `{"status":"successful"}`,
		"pending status":      `{"clientTransactionId":"tx","status":"pending"}`,
		"unknown status":      `{"clientTransactionId":"tx","status":"paid"}`,
		"not json":            `status=successful`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubSettlementService{
				applyFn: func(context.Context, services.SettlementCommand) (domain.Order, error) {
					t.Fatalf("service must not be called")
					return domain.Order{}, nil
				},
			}
			rr := serveWebhook(NewPaymentWebhookHandlers(svc), "sumup", body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestPaymentWebhook_MapsServiceErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: unknown transaction", services.ErrOrderNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: already refunded", services.ErrOrderInvalidState), http.StatusConflict},
	}
	for _, tc := range cases {
		svc := &stubSettlementService{
			applyFn: func(context.Context, services.SettlementCommand) (domain.Order, error) {
				return domain.Order{}, tc.err
			},
		}
		rr := serveWebhook(NewPaymentWebhookHandlers(svc), "sumup", `{"clientTransactionId":"tx","status":"failed"}`)
		if rr.Code != tc.status {
			t.Fatalf("expected %d for %v, got %d", tc.status, tc.err, rr.Code)
		}
	}
}

func TestPaymentProviderFromPath(t *testing.T) {
	cases := map[string]string{
		"/api/v1/webhooks/payments/SumUp":   "sumup",
		"/api/v1/webhooks/payments/stripe/": "stripe",
		"/api/v1/webhooks/other":            "",
	}
	for path, want := range cases {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if got := PaymentProviderFromPath(req); got != want {
			t.Fatalf("%s: expected %q, got %q", path, want, got)
		}
	}
}

func TestInternalHandlers_Reconcile(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var captured services.ReconcileCommand
	svc := &stubSettlementService{
		reconcileFn: func(_ context.Context, cmd services.ReconcileCommand) (services.ReconcileResult, error) {
			captured = cmd
			return services.ReconcileResult{Checked: 3, Settled: 2, Failed: 1}, nil
		},
	}
	h := NewInternalHandlers(svc, func() time.Time { return now })

	router := chi.NewRouter()
	router.Route("/internal", h.Routes)
	req := httptest.NewRequest(http.MethodPost, "/internal/payments:reconcile", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !captured.Now.Equal(now) {
		t.Fatalf("expected reconcile at %v, got %v", now, captured.Now)
	}
	var body reconcileResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body != (reconcileResponse{Checked: 3, Settled: 2, Failed: 1}) {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestInternalHandlers_ReconcileWithoutGateway(t *testing.T) {
	svc := &stubSettlementService{
		reconcileFn: func(context.Context, services.ReconcileCommand) (services.ReconcileResult, error) {
			return services.ReconcileResult{}, fmt.Errorf("%w: terminal payments are not configured", services.ErrOrderPaymentFailed)
		},
	}
	router := chi.NewRouter()
	router.Route("/internal", NewInternalHandlers(svc, nil).Routes)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/payments:reconcile", nil))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}
