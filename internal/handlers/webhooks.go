package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kioskflow/api/internal/domain"
	"github.com/kioskflow/api/internal/platform/auth"
	"github.com/kioskflow/api/internal/platform/httpx"
	"github.com/kioskflow/api/internal/platform/observability"
	"github.com/kioskflow/api/internal/services"
)

const maxWebhookBodySize = 16 * 1024

type paymentWebhookRequest struct {
	ClientTransactionID string `json:"clientTransactionId" validate:"required,max=128"`
	Status              string `json:"status" validate:"required,oneof=successful failed refunded"`
}

type paymentWebhookResponse struct {
	OrderID       string               `json:"orderId"`
	PaymentStatus domain.PaymentStatus `json:"paymentStatus"`
}

// PaymentWebhookHandlers receives checkout outcomes from payment providers. Signature
// verification is applied by the webhook group middleware.
type PaymentWebhookHandlers struct {
	settlement services.SettlementService
	validate   *validator.Validate
}

// NewPaymentWebhookHandlers constructs the webhook handlers.
func NewPaymentWebhookHandlers(settlement services.SettlementService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{
		settlement: settlement,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.handlePayment)
}

func (h *PaymentWebhookHandlers) handlePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settlement == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settlement_unavailable", "settlement service unavailable", http.StatusServiceUnavailable))
		return
	}

	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	if meta, ok := auth.HMACMetadataFromContext(ctx); ok && meta.Provider != "" && meta.Provider != provider {
		httpx.WriteError(ctx, w, httpx.NewError("provider_mismatch", "signature provider does not match route", http.StatusUnauthorized))
		return
	}

	var req paymentWebhookRequest
	if err := httpx.DecodeJSON(r, maxWebhookBodySize, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid settlement payload", http.StatusBadRequest).WithDetails(map[string]any{
			"fields": validationFields(err),
		}))
		return
	}

	order, err := h.settlement.ApplySettlement(ctx, services.SettlementCommand{
		ClientTransactionID: req.ClientTransactionID,
		Status:              req.Status,
		Source:              provider,
	})
	if err != nil {
		observability.FromContext(ctx).Warn("payment webhook rejected",
			zap.String("provider", provider),
			zap.String("client_transaction_id", observability.SanitizeIdentifier(req.ClientTransactionID)),
			zap.Error(err),
		)
		writeOrderError(ctx, w, err)
		return
	}

	resp := paymentWebhookResponse{OrderID: order.ID}
	if order.Payment != nil {
		resp.PaymentStatus = order.Payment.Status
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// PaymentProviderFromPath resolves the provider segment of a payment webhook path. Group
// middleware runs before chi resolves route parameters, so the path is parsed directly.
func PaymentProviderFromPath(r *http.Request) string {
	_, rest, ok := strings.Cut(r.URL.Path, "/webhooks/payments/")
	if !ok {
		return ""
	}
	provider, _, _ := strings.Cut(rest, "/")
	return strings.ToLower(strings.TrimSpace(provider))
}

func validationFields(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return fields
}
