package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kioskflow/api/internal/domain"
	"github.com/kioskflow/api/internal/repositories"
)

// PaymentRouter turns a checkout method into the initial payment of a new order.
type PaymentRouter struct {
	kiosks  repositories.KioskRepository
	readers repositories.ReaderRepository
	gateway TerminalGateway
}

// PaymentRouterDeps bundles router collaborators. Kiosks, Readers and Gateway are only consulted
// for terminal checkouts.
type PaymentRouterDeps struct {
	Kiosks  repositories.KioskRepository
	Readers repositories.ReaderRepository
	Gateway TerminalGateway
}

// NewPaymentRouter constructs a PaymentRouter.
func NewPaymentRouter(deps PaymentRouterDeps) *PaymentRouter {
	return &PaymentRouter{kiosks: deps.Kiosks, readers: deps.Readers, gateway: deps.Gateway}
}

// Route returns the payment for the method. kioskID is only read for terminal checkouts.
func (r *PaymentRouter) Route(ctx context.Context, method domain.CheckoutMethod, kioskID *string, subtotal int64, orderRef string) (domain.Payment, error) {
	switch method {
	case domain.CheckoutMethodLater, domain.CheckoutMethodManual:
		return domain.Payment{Status: domain.PaymentStatusSuccessful}, nil
	case domain.CheckoutMethodSumUp:
		return r.routeTerminal(ctx, kioskID, subtotal, orderRef)
	case domain.CheckoutMethodMobilePay:
		return domain.Payment{}, fmt.Errorf("%w: %s", ErrOrderNotImplemented, method)
	default:
		return domain.Payment{}, fmt.Errorf("%w: unknown checkout method %q", ErrOrderInvalidInput, method)
	}
}

func (r *PaymentRouter) routeTerminal(ctx context.Context, kioskID *string, subtotal int64, orderRef string) (domain.Payment, error) {
	if subtotal <= 0 {
		return domain.Payment{}, fmt.Errorf("%w: terminal checkout requires a positive subtotal", ErrOrderRuleViolation)
	}
	if kioskID == nil || strings.TrimSpace(*kioskID) == "" {
		return domain.Payment{}, fmt.Errorf("%w: terminal checkout requires a kiosk", ErrOrderPaymentFailed)
	}
	if r.kiosks == nil || r.readers == nil || r.gateway == nil {
		return domain.Payment{}, fmt.Errorf("%w: terminal payments are not configured", ErrOrderPaymentFailed)
	}

	readerRef, err := resolveReaderRef(ctx, r.kiosks, r.readers, *kioskID)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("%w: %v", ErrOrderPaymentFailed, err)
	}

	checkout, err := r.gateway.CreateCheckout(ctx, TerminalCheckoutRequest{
		ReaderRef: readerRef,
		Amount:    subtotal,
		OrderRef:  orderRef,
	})
	if err != nil {
		return domain.Payment{}, fmt.Errorf("%w: create checkout: %v", ErrOrderPaymentFailed, err)
	}
	txID := strings.TrimSpace(checkout.ClientTransactionID)
	if txID == "" {
		return domain.Payment{}, fmt.Errorf("%w: gateway returned no transaction id", ErrOrderPaymentFailed)
	}
	return domain.Payment{Status: domain.PaymentStatusPending, ClientTransactionID: &txID}, nil
}

var (
	errKioskNotFound  = errors.New("kiosk not found")
	errNoReader       = errors.New("kiosk has no reader assigned")
	errReaderNotFound = errors.New("reader not found")
	errReaderNoExtRef = errors.New("reader has no external reference")
)

// resolveReaderRef follows kiosk -> reader -> gateway reference.
func resolveReaderRef(ctx context.Context, kiosks repositories.KioskRepository, readers repositories.ReaderRepository, kioskID string) (string, error) {
	kiosk, err := kiosks.FindByID(ctx, kioskID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return "", errKioskNotFound
		}
		return "", err
	}
	if kiosk.ReaderID == nil || strings.TrimSpace(*kiosk.ReaderID) == "" {
		return "", errNoReader
	}
	reader, err := readers.FindByID(ctx, *kiosk.ReaderID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return "", errReaderNotFound
		}
		return "", err
	}
	ref := strings.TrimSpace(reader.ExternalReferenceID)
	if ref == "" {
		return "", errReaderNoExtRef
	}
	return ref, nil
}
