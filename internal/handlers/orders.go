package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kioskflow/api/internal/domain"
	"github.com/kioskflow/api/internal/platform/auth"
	"github.com/kioskflow/api/internal/platform/httpx"
	"github.com/kioskflow/api/internal/platform/observability"
	"github.com/kioskflow/api/internal/services"
)

const maxOrderBodySize = 32 * 1024

type orderItemRequest struct {
	ID       string   `json:"id"`
	Quantity *float64 `json:"quantity"`
}

type createOrderRequest struct {
	ActivityID     string             `json:"activityId"`
	RoomID         string             `json:"roomId"`
	KioskID        *string            `json:"kioskId"`
	Products       []orderItemRequest `json:"products"`
	Options        []orderItemRequest `json:"options"`
	CheckoutMethod string             `json:"checkoutMethod"`
}

type updateOrderStatusRequest struct {
	IDs    []string `json:"ids"`
	Status string   `json:"status"`
}

type orderResponse struct {
	Order domain.PublicOrder `json:"order"`
}

type orderListResponse struct {
	Orders []domain.PublicOrder `json:"orders"`
}

// OrderHandlers exposes the kiosk ordering endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises order handler construction.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency guards order creation with the given middleware. It must run after
// authentication so keys are scoped per caller.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(h.require(auth.RoleKiosk, auth.RoleStaff, auth.RoleAdmin)...).Get("/{orderID}", h.getOrder)
	r.With(h.require(auth.RoleStaff, auth.RoleAdmin)...).Patch("/status", h.updateStatus)
	r.With(h.require(auth.RoleKiosk)...).Post("/{orderID}:cancel", h.cancelOrder)

	create := h.require(auth.RoleKiosk, auth.RoleStaff, auth.RoleAdmin)
	if h.idempotency != nil {
		create = append(create, h.idempotency)
	}
	r.With(create...).Post("/", h.createOrder)
}

func (h *OrderHandlers) require(roles ...string) []func(http.Handler) http.Handler {
	if h.authn == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{h.authn.RequireFirebaseAuth(roles...)}
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	kioskID := req.KioskID
	if viewer := viewerKiosk(identity); viewer != "" {
		switch {
		case kioskID == nil:
			kioskID = &viewer
		case strings.TrimSpace(*kioskID) != viewer:
			httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", "kiosk may only order for itself", http.StatusForbidden))
			return
		}
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		ActivityID:     req.ActivityID,
		RoomID:         req.RoomID,
		KioskID:        kioskID,
		Products:       itemInputs(req.Products),
		Options:        itemInputs(req.Options),
		CheckoutMethod: req.CheckoutMethod,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: domain.NewKioskOrderView(order, viewerKiosk(identity))})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	viewer := viewerKiosk(identity)
	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{OrderID: orderID, ViewerKioskID: viewer})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: domain.NewKioskOrderView(order, viewer)})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req updateOrderStatusRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	orders, err := h.orders.UpdateOrderStatus(ctx, services.UpdateOrderStatusCommand{
		OrderIDs: req.IDs,
		Status:   req.Status,
		ActorID:  identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := orderListResponse{Orders: make([]domain.PublicOrder, 0, len(orders))}
	for _, order := range orders {
		payload.Orders = append(payload.Orders, domain.NewPublicOrder(order))
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if identity.KioskID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", "only kiosk devices can cancel checkouts", http.StatusForbidden))
		return
	}

	err := h.orders.CancelCheckout(ctx, services.CancelCheckoutCommand{
		KioskID: identity.KioskID,
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// viewerKiosk returns the kiosk a device caller acts as. Operators see every kiosk.
func viewerKiosk(identity *auth.Identity) string {
	if identity == nil || identity.IsOperator() {
		return ""
	}
	return identity.KioskID
}

func itemInputs(items []orderItemRequest) []services.ItemInput {
	if items == nil {
		return nil
	}
	out := make([]services.ItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, services.ItemInput{ItemID: item.ID, Quantity: item.Quantity})
	}
	return out
}

func writeDecodeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, httpx.ErrBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderReferenceNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_reference_not_found", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderRuleViolation):
		httpx.WriteError(ctx, w, httpx.NewError("order_rule_violation", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderNotImplemented):
		httpx.WriteError(ctx, w, httpx.NewError("not_implemented", err.Error(), http.StatusNotImplemented))
	case errors.Is(err, services.ErrOrderPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment could not be processed", http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		observability.FromContext(ctx).Error("order request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
