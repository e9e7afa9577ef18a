package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/kioskflow/api/internal/domain"
	"github.com/kioskflow/api/internal/services"
)

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeReaderAPI interface {
	ProcessPaymentIntent(id string, params *stripe.TerminalReaderProcessPaymentIntentParams) (*stripe.TerminalReader, error)
	CancelAction(id string, params *stripe.TerminalReaderCancelActionParams) (*stripe.TerminalReader, error)
}

type stripeClients struct {
	intents stripeIntentAPI
	readers stripeReaderAPI
}

// StripeTerminalConfig configures card-present checkouts on Stripe Terminal readers.
type StripeTerminalConfig struct {
	APIKey    string
	AccountID string
	Currency  string
	Backends  *stripe.Backends
	Logger    Logger
	Clients   *stripeClients
}

// StripeTerminalGateway creates PaymentIntents and hands them to a Stripe Terminal reader.
type StripeTerminalGateway struct {
	api      stripeClients
	account  string
	currency Currency
	logger   Logger
}

var _ Provider = (*StripeTerminalGateway)(nil)

// NewStripeTerminalGateway constructs the Stripe Terminal provider.
func NewStripeTerminalGateway(cfg StripeTerminalConfig) (*StripeTerminalGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}
	cur, err := ParseCurrency(defaultString(cfg.Currency, "EUR"))
	if err != nil {
		return nil, err
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			readers: sc.TerminalReaders,
		}
	}
	if clients.intents == nil || clients.readers == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeTerminalGateway{
		api:      clients,
		account:  strings.TrimSpace(cfg.AccountID),
		currency: cur,
		logger:   logger,
	}, nil
}

func (g *StripeTerminalGateway) Name() string { return "stripe" }

// CreateCheckout creates a card_present PaymentIntent and pushes it to the reader. The intent id is
// the client transaction id used for settlement.
func (g *StripeTerminalGateway) CreateCheckout(ctx context.Context, req services.TerminalCheckoutRequest) (services.TerminalCheckout, error) {
	reader := strings.TrimSpace(req.ReaderRef)
	if reader == "" {
		return services.TerminalCheckout{}, errors.New("stripe: reader reference is required")
	}
	if req.Amount <= 0 {
		return services.TerminalCheckout{}, errors.New("stripe: amount must be positive")
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(strings.ToLower(g.currency.Code)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card_present"}),
		CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodAutomatic)),
	}
	params.Context = ctx
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	if req.OrderRef != "" {
		params.AddMetadata("order_id", req.OrderRef)
		params.SetIdempotencyKey("terminal-checkout-" + req.OrderRef)
	}
	intent, err := g.api.intents.New(params)
	if err != nil {
		return services.TerminalCheckout{}, classifyStripeError("create payment intent", err)
	}
	if intent == nil || strings.TrimSpace(intent.ID) == "" {
		return services.TerminalCheckout{}, errors.New("stripe: payment intent missing id")
	}

	process := &stripe.TerminalReaderProcessPaymentIntentParams{
		PaymentIntent: stripe.String(intent.ID),
	}
	process.Context = ctx
	if g.account != "" {
		process.SetStripeAccount(g.account)
	}
	if _, err := g.api.readers.ProcessPaymentIntent(reader, process); err != nil {
		return services.TerminalCheckout{}, classifyStripeError("process payment intent", err)
	}

	g.logger(ctx, "payments.stripe.terminal.checkout.created", map[string]any{
		"reader":        reader,
		"order":         req.OrderRef,
		"paymentIntent": intent.ID,
	})
	return services.TerminalCheckout{ClientTransactionID: intent.ID}, nil
}

func (g *StripeTerminalGateway) CancelCheckout(ctx context.Context, readerRef string) error {
	reader := strings.TrimSpace(readerRef)
	if reader == "" {
		return errors.New("stripe: reader reference is required")
	}
	params := &stripe.TerminalReaderCancelActionParams{}
	params.Context = ctx
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	if _, err := g.api.readers.CancelAction(reader, params); err != nil {
		return classifyStripeError("cancel reader action", err)
	}
	g.logger(ctx, "payments.stripe.terminal.checkout.cancelled", map[string]any{"reader": reader})
	return nil
}

func (g *StripeTerminalGateway) LookupCheckout(ctx context.Context, clientTransactionID string) (services.TerminalCheckoutStatus, error) {
	id := strings.TrimSpace(clientTransactionID)
	if id == "" {
		return services.TerminalCheckoutStatus{}, errors.New("stripe: payment intent id is required")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	intent, err := g.api.intents.Get(id, params)
	if err != nil {
		return services.TerminalCheckoutStatus{}, classifyStripeError("get payment intent", err)
	}
	status := services.TerminalCheckoutStatus{
		ClientTransactionID: id,
		Status:              stripeIntentStatus(intent.Status),
	}
	if status.Status == domain.PaymentStatusSuccessful {
		received := intent.AmountReceived
		status.Amount = &received
	}
	return status, nil
}

func stripeIntentStatus(status stripe.PaymentIntentStatus) domain.PaymentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return domain.PaymentStatusSuccessful
	case stripe.PaymentIntentStatusCanceled:
		return domain.PaymentStatusFailed
	default:
		return domain.PaymentStatusPending
	}
}

func classifyStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError || stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: stripe %s: %v", ErrGatewayUnavailable, op, err)
		}
		return fmt.Errorf("%w: stripe %s: %v", ErrCheckoutRejected, op, err)
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}
