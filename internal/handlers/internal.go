package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kioskflow/api/internal/platform/httpx"
	"github.com/kioskflow/api/internal/services"
)

type reconcileResponse struct {
	Checked int `json:"checked"`
	Settled int `json:"settled"`
	Failed  int `json:"failed"`
}

// InternalHandlers serves job triggers called by the scheduler. Callers are authenticated by
// the internal group middleware.
type InternalHandlers struct {
	settlement services.SettlementService
	clock      func() time.Time
}

// NewInternalHandlers constructs internal job handlers.
func NewInternalHandlers(settlement services.SettlementService, clock func() time.Time) *InternalHandlers {
	if clock == nil {
		clock = time.Now
	}
	return &InternalHandlers{settlement: settlement, clock: clock}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments:reconcile", h.reconcilePayments)
}

func (h *InternalHandlers) reconcilePayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settlement == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settlement_unavailable", "settlement service unavailable", http.StatusServiceUnavailable))
		return
	}

	result, err := h.settlement.Reconcile(ctx, services.ReconcileCommand{Now: h.clock().UTC()})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reconcileResponse{
		Checked: result.Checked,
		Settled: result.Settled,
		Failed:  result.Failed,
	})
}
