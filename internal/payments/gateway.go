package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kioskflow/api/internal/services"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrGatewayUnavailable marks transient gateway failures such as timeouts or 5xx responses.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrCheckoutRejected marks requests the gateway refused.
	ErrCheckoutRejected = errors.New("payments: checkout rejected")
)

// Logger defines the logging contract for gateway operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Provider is a terminal payment processor adapter.
type Provider interface {
	services.TerminalGateway
	Name() string
}

// Manager selects the active terminal provider and exposes it as a services.TerminalGateway.
type Manager struct {
	providers map[string]Provider
	active    string
}

var _ services.TerminalGateway = (*Manager)(nil)

// NewManager registers providers and activates the named one.
func NewManager(active string, providers ...Provider) (*Manager, error) {
	registry := make(map[string]Provider, len(providers))
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(provider.Name()))
		if name == "" {
			return nil, errors.New("payments: provider name is required")
		}
		if _, exists := registry[name]; exists {
			return nil, fmt.Errorf("payments: provider %s registered twice", name)
		}
		registry[name] = provider
	}
	if len(registry) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	key := strings.ToLower(strings.TrimSpace(active))
	if key == "" && len(registry) == 1 {
		for name := range registry {
			key = name
		}
	}
	if _, ok := registry[key]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, active)
	}
	return &Manager{providers: registry, active: key}, nil
}

// Active returns the name of the provider handling new checkouts.
func (m *Manager) Active() string {
	return m.active
}

func (m *Manager) CreateCheckout(ctx context.Context, req services.TerminalCheckoutRequest) (services.TerminalCheckout, error) {
	return m.providers[m.active].CreateCheckout(ctx, req)
}

func (m *Manager) CancelCheckout(ctx context.Context, readerRef string) error {
	return m.providers[m.active].CancelCheckout(ctx, readerRef)
}

func (m *Manager) LookupCheckout(ctx context.Context, clientTransactionID string) (services.TerminalCheckoutStatus, error) {
	return m.providers[m.active].LookupCheckout(ctx, clientTransactionID)
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
