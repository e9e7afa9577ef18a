package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kioskflow/api/internal/domain"
	"github.com/kioskflow/api/internal/repositories"
)

const (
	defaultReconcileMinAge = 10 * time.Minute
	defaultReconcileBatch  = 50
)

// SettlementServiceDeps bundles collaborators for payment settlement.
type SettlementServiceDeps struct {
	Orders  repositories.OrderRepository
	Gateway TerminalGateway
	Events  OrderEventPublisher
	// MinAge is how long a terminal payment may stay pending before Reconcile polls the gateway.
	MinAge    time.Duration
	BatchSize int
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type settlementService struct {
	orders    repositories.OrderRepository
	gateway   TerminalGateway
	events    OrderEventPublisher
	minAge    time.Duration
	batchSize int
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

var _ SettlementService = (*settlementService)(nil)

// NewSettlementService constructs the settlement service.
func NewSettlementService(deps SettlementServiceDeps) (SettlementService, error) {
	if deps.Orders == nil {
		return nil, errors.New("settlement service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	minAge := deps.MinAge
	if minAge <= 0 {
		minAge = defaultReconcileMinAge
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &settlementService{
		orders:    deps.Orders,
		gateway:   deps.Gateway,
		events:    deps.Events,
		minAge:    minAge,
		batchSize: batch,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ApplySettlement moves a pending payment to its terminal status. Repeating an already applied
// outcome is accepted without changes.
func (s *settlementService) ApplySettlement(ctx context.Context, cmd SettlementCommand) (domain.Order, error) {
	txID := strings.TrimSpace(cmd.ClientTransactionID)
	if txID == "" {
		return domain.Order{}, fmt.Errorf("%w: clientTransactionId is required", ErrOrderInvalidInput)
	}
	target := domain.PaymentStatus(strings.TrimSpace(cmd.Status))
	if !target.Terminal() {
		return domain.Order{}, fmt.Errorf("%w: settlement status %q is not terminal", ErrOrderInvalidInput, cmd.Status)
	}

	now := s.clock()
	var previous domain.PaymentStatus
	order, changed, err := s.orders.UpdatePayment(ctx, txID, func(order domain.Order) (domain.Order, bool, error) {
		if order.Payment == nil {
			return order, false, fmt.Errorf("%w: order %s has no payment", ErrOrderInvalidState, order.ID)
		}
		current := order.Payment.Status
		previous = current
		if current == target {
			return order, false, nil
		}
		if current != domain.PaymentStatusPending {
			return order, false, fmt.Errorf("%w: payment of order %s is already %s", ErrOrderInvalidState, order.ID, current)
		}
		order.Payment.Status = target
		order.UpdatedAt = now
		return order, true, nil
	})
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}

	if changed {
		s.logger(ctx, "order.payment.settled", map[string]any{
			"order":  order.ID,
			"status": string(target),
			"source": cmd.Source,
		})
		event := newOrderEvent(orderEventUpdated, order, "", now)
		event.PreviousPaymentStatus = string(previous)
		publishOrderEvent(ctx, s.events, s.logger, event)
	}
	return order, nil
}

// Reconcile polls the gateway for terminal payments that stayed pending longer than the minimum age.
// Individual failures are logged and counted; the run continues with the next order.
func (s *settlementService) Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error) {
	if s.gateway == nil {
		return ReconcileResult{}, fmt.Errorf("%w: terminal payments are not configured", ErrOrderPaymentFailed)
	}
	now := cmd.Now
	if now.IsZero() {
		now = s.clock()
	}

	pending, err := s.orders.ListPendingPayments(ctx, repositories.PendingPaymentFilter{
		Method:        domain.CheckoutMethodSumUp,
		CreatedBefore: now.Add(-s.minAge),
		Limit:         s.batchSize,
	})
	if err != nil {
		return ReconcileResult{}, mapRepositoryError(err)
	}

	var result ReconcileResult
	for _, order := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if order.Payment == nil || order.Payment.ClientTransactionID == nil {
			continue
		}
		result.Checked++
		txID := *order.Payment.ClientTransactionID

		status, err := s.gateway.LookupCheckout(ctx, txID)
		if err != nil {
			result.Failed++
			s.logger(ctx, "order.payment.reconcile.lookup.failed", map[string]any{
				"order": order.ID,
				"error": err.Error(),
			})
			continue
		}
		if !status.Status.Terminal() {
			continue
		}
		if status.Status == domain.PaymentStatusSuccessful && status.Amount != nil && *status.Amount != order.Subtotal {
			result.Failed++
			s.logger(ctx, "order.payment.reconcile.amount.mismatch", map[string]any{
				"order":    order.ID,
				"expected": order.Subtotal,
				"charged":  *status.Amount,
			})
			continue
		}
		if _, err := s.ApplySettlement(ctx, SettlementCommand{
			ClientTransactionID: txID,
			Status:              string(status.Status),
			Source:              "reconcile",
		}); err != nil {
			result.Failed++
			s.logger(ctx, "order.payment.reconcile.apply.failed", map[string]any{
				"order": order.ID,
				"error": err.Error(),
			})
			continue
		}
		result.Settled++
	}
	return result, nil
}
