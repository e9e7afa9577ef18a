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
	orderEventCreated = "order.created"
	orderEventUpdated = "order.updated"
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders  repositories.OrderRepository
	Catalog repositories.CatalogRepository
	Kiosks  repositories.KioskRepository
	Readers repositories.ReaderRepository
	Gateway TerminalGateway
	Events  OrderEventPublisher
	// EnforceForwardStatus rejects batches that would move an order back along
	// pending -> confirmed -> delivered.
	EnforceForwardStatus bool
	Clock                func() time.Time
	IDGenerator          func() string
	Logger               func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	kiosks      repositories.KioskRepository
	readers     repositories.ReaderRepository
	gateway     TerminalGateway
	subtotals   *SubtotalCalculator
	router      *PaymentRouter
	events      OrderEventPublisher
	forwardOnly bool
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Kiosks == nil {
		return nil, errors.New("order service: kiosk repository is required")
	}
	if deps.Readers == nil {
		return nil, errors.New("order service: reader repository is required")
	}
	subtotals, err := NewSubtotalCalculator(deps.Catalog)
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = domain.NewID
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		kiosks:    deps.Kiosks,
		readers:   deps.Readers,
		gateway:   deps.Gateway,
		subtotals: subtotals,
		router: NewPaymentRouter(PaymentRouterDeps{
			Kiosks:  deps.Kiosks,
			Readers: deps.Readers,
			Gateway: deps.Gateway,
		}),
		events:      deps.Events,
		forwardOnly: deps.EnforceForwardStatus,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	method := domain.CheckoutMethod(strings.TrimSpace(cmd.CheckoutMethod))
	manual := method == domain.CheckoutMethodManual

	if err := ValidateItemList(cmd.Products); err != nil {
		return domain.Order{}, fmt.Errorf("%w: products: %v", ErrOrderInvalidInput, err)
	}
	if len(cmd.Products) == 0 && !manual {
		return domain.Order{}, fmt.Errorf("%w: products must not be empty", ErrOrderRuleViolation)
	}
	if err := ValidateItemList(cmd.Options); err != nil {
		return domain.Order{}, fmt.Errorf("%w: options: %v", ErrOrderInvalidInput, err)
	}
	if cmd.KioskID != nil && !domain.ValidID(*cmd.KioskID) {
		return domain.Order{}, fmt.Errorf("%w: kioskId is malformed", ErrOrderInvalidInput)
	}
	if !domain.ValidID(cmd.ActivityID) {
		return domain.Order{}, fmt.Errorf("%w: activityId is malformed", ErrOrderInvalidInput)
	}
	if !domain.ValidID(cmd.RoomID) {
		return domain.Order{}, fmt.Errorf("%w: roomId is malformed", ErrOrderInvalidInput)
	}
	if !method.Valid() {
		return domain.Order{}, fmt.Errorf("%w: checkoutMethod %q is not supported", ErrOrderInvalidInput, cmd.CheckoutMethod)
	}
	if manual && cmd.KioskID != nil {
		return domain.Order{}, fmt.Errorf("%w: manual orders must not reference a kiosk", ErrOrderRuleViolation)
	}
	if !manual && cmd.KioskID == nil {
		return domain.Order{}, fmt.Errorf("%w: kioskId is required for %s orders", ErrOrderRuleViolation, method)
	}

	products := RemoveZeroItems(toOrderItems(cmd.Products))
	options := RemoveZeroItems(toOrderItems(cmd.Options))
	if len(products) == 0 && !manual {
		return domain.Order{}, fmt.Errorf("%w: order has no products with a positive quantity", ErrOrderRuleViolation)
	}
	products = CombineItems(products)
	options = CombineItems(options)

	subtotal, err := s.subtotals.Compute(ctx, products, options)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	orderID := s.newID()
	payment, err := s.router.Route(ctx, method, cmd.KioskID, subtotal, orderID)
	if err != nil {
		s.logger(ctx, "order.payment.route.failed", map[string]any{
			"order":  orderID,
			"method": string(method),
			"error":  err.Error(),
		})
		return domain.Order{}, err
	}

	now := s.clock()
	order := domain.Order{
		ID:             orderID,
		ActivityID:     cmd.ActivityID,
		RoomID:         cmd.RoomID,
		KioskID:        cloneStringPtr(cmd.KioskID),
		Products:       products,
		Options:        options,
		Status:         domain.OrderStatusPending,
		CheckoutMethod: method,
		Payment:        &payment,
		Subtotal:       subtotal,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		if payment.ClientTransactionID != nil {
			s.logger(ctx, "order.persist.failed.after.checkout", map[string]any{
				"order":               orderID,
				"clientTransactionId": *payment.ClientTransactionID,
				"error":               err.Error(),
			})
		}
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "order.created", map[string]any{
		"order":         order.ID,
		"method":        string(method),
		"paymentStatus": string(payment.Status),
		"subtotal":      subtotal,
	})
	s.publishEvent(ctx, newOrderEvent(orderEventCreated, order, "", now))
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, query GetOrderQuery) (domain.Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if !domain.ValidID(orderID) {
		return domain.Order{}, fmt.Errorf("%w: order id is malformed", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if viewer := strings.TrimSpace(query.ViewerKioskID); viewer != "" && !order.OwnedBy(viewer) {
		// Foreign orders are reported as missing so kiosks cannot probe each other's ids.
		return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) ([]domain.Order, error) {
	if len(cmd.OrderIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one order id is required", ErrOrderInvalidInput)
	}
	ids := make([]string, 0, len(cmd.OrderIDs))
	seen := make(map[string]struct{}, len(cmd.OrderIDs))
	for _, id := range cmd.OrderIDs {
		if !domain.ValidID(id) {
			return nil, fmt.Errorf("%w: order id %q is malformed", ErrOrderInvalidInput, id)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	target := domain.OrderStatus(strings.TrimSpace(cmd.Status))
	if !target.Valid() {
		return nil, fmt.Errorf("%w: status %q is not supported", ErrOrderInvalidInput, cmd.Status)
	}

	now := s.clock()
	changes, err := s.orders.UpdateStatuses(ctx, ids, func(order domain.Order) (domain.Order, bool, error) {
		if order.Status == target {
			return order, false, nil
		}
		if s.forwardOnly && target.Rank() < order.Status.Rank() {
			return order, false, fmt.Errorf("%w: order %s cannot move from %s back to %s", ErrOrderInvalidState, order.ID, order.Status, target)
		}
		order.Status = target
		order.UpdatedAt = now
		if err := validateStoredOrder(order); err != nil {
			return order, false, err
		}
		return order, true, nil
	})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("%w: no order matched the given ids", ErrOrderNotFound)
	}

	result := make([]domain.Order, 0, len(changes))
	for _, change := range changes {
		result = append(result, change.Order)
		if change.Previous == change.Order.Status {
			continue
		}
		s.publishEvent(ctx, newOrderEvent(orderEventUpdated, change.Order, string(change.Previous), now))
	}
	s.logger(ctx, "order.status.updated", map[string]any{
		"status":  string(target),
		"matched": len(changes),
		"actor":   cmd.ActorID,
	})
	return result, nil
}

func (s *orderService) CancelCheckout(ctx context.Context, cmd CancelCheckoutCommand) error {
	kioskID := strings.TrimSpace(cmd.KioskID)
	if kioskID == "" {
		return fmt.Errorf("%w: kiosk identity is required", ErrOrderForbidden)
	}
	kiosk, err := s.kiosks.FindByID(ctx, kioskID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return fmt.Errorf("%w: kiosk %s is not registered", ErrOrderForbidden, kioskID)
		}
		return s.mapRepositoryError(err)
	}
	if kiosk.ReaderID == nil || strings.TrimSpace(*kiosk.ReaderID) == "" {
		return ErrCancelKioskWithoutReader
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	if !domain.ValidID(orderID) {
		return ErrCancelInvalidOrderID
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if order.Payment == nil {
		return ErrCancelMissingPayment
	}
	if order.CheckoutMethod != domain.CheckoutMethodSumUp {
		return ErrCancelNotTerminalPayment
	}
	if !order.OwnedBy(kiosk.ID) {
		return ErrCancelNotOwner
	}
	if order.Payment.Status != domain.PaymentStatusPending {
		return ErrCancelPaymentNotPending
	}

	if s.gateway == nil {
		return fmt.Errorf("%w: terminal payments are not configured", ErrOrderPaymentFailed)
	}
	reader, err := s.readers.FindByID(ctx, *kiosk.ReaderID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return fmt.Errorf("%w: reader %s not found", ErrOrderPaymentFailed, *kiosk.ReaderID)
		}
		return s.mapRepositoryError(err)
	}
	readerRef := strings.TrimSpace(reader.ExternalReferenceID)
	if readerRef == "" {
		return fmt.Errorf("%w: reader %s has no external reference", ErrOrderPaymentFailed, reader.ID)
	}
	if err := s.gateway.CancelCheckout(ctx, readerRef); err != nil {
		s.logger(ctx, "order.checkout.cancel.failed", map[string]any{
			"order": order.ID,
			"kiosk": kiosk.ID,
			"error": err.Error(),
		})
		return fmt.Errorf("%w: cancel checkout: %v", ErrOrderPaymentFailed, err)
	}
	s.logger(ctx, "order.checkout.cancel.requested", map[string]any{
		"order": order.ID,
		"kiosk": kiosk.ID,
	})
	return nil
}

func validateStoredOrder(order domain.Order) error {
	switch {
	case !order.Status.Valid():
		return fmt.Errorf("%w: order %s has unknown status %q", ErrOrderInvalidState, order.ID, order.Status)
	case !order.CheckoutMethod.Valid():
		return fmt.Errorf("%w: order %s has unknown checkout method %q", ErrOrderInvalidState, order.ID, order.CheckoutMethod)
	case order.Payment == nil:
		return fmt.Errorf("%w: order %s has no payment", ErrOrderInvalidState, order.ID)
	case order.CheckoutMethod == domain.CheckoutMethodManual && order.KioskID != nil:
		return fmt.Errorf("%w: manual order %s references a kiosk", ErrOrderInvalidState, order.ID)
	}
	return nil
}

func (s *orderService) mapRepositoryError(err error) error {
	return mapRepositoryError(err)
}

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var refErr *repositories.ReferenceError
	if errors.As(err, &refErr) {
		return fmt.Errorf("%w: %v", ErrOrderReferenceNotFound, err)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	publishOrderEvent(ctx, s.events, s.logger, event)
}

func publishOrderEvent(ctx context.Context, events OrderEventPublisher, logger func(context.Context, string, map[string]any), event OrderEvent) {
	if events == nil {
		return
	}
	if err := events.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func newOrderEvent(eventType string, order domain.Order, previous string, at time.Time) OrderEvent {
	event := OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		PreviousStatus: previous,
		CurrentStatus:  string(order.Status),
		OccurredAt:     at,
		Order:          domain.NewPublicOrder(order),
	}
	if order.KioskID != nil {
		event.KioskID = *order.KioskID
	}
	if order.Payment != nil {
		event.PaymentStatus = string(order.Payment.Status)
	}
	return event
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
