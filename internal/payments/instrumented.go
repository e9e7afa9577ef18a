package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kioskflow/api/internal/services"
)

const instrumentationName = "github.com/kioskflow/api/internal/payments"

// InstrumentedGateway records spans and metrics around every gateway call.
type InstrumentedGateway struct {
	next     services.TerminalGateway
	provider string
	tracer   trace.Tracer
	latency  metric.Float64Histogram
	failures metric.Int64Counter
	clock    func() time.Time
}

var _ services.TerminalGateway = (*InstrumentedGateway)(nil)

// InstrumentOption customises instrumentation.
type InstrumentOption func(*instrumentConfig)

type instrumentConfig struct {
	meter  metric.Meter
	tracer trace.Tracer
	clock  func() time.Time
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) InstrumentOption {
	return func(cfg *instrumentConfig) {
		cfg.meter = m
	}
}

// WithTracer injects a custom tracer.
func WithTracer(t trace.Tracer) InstrumentOption {
	return func(cfg *instrumentConfig) {
		cfg.tracer = t
	}
}

// WithClock overrides the clock used for latency measurements.
func WithClock(clock func() time.Time) InstrumentOption {
	return func(cfg *instrumentConfig) {
		cfg.clock = clock
	}
}

// Instrument wraps next with tracing and metrics labelled by provider.
func Instrument(next services.TerminalGateway, provider string, opts ...InstrumentOption) (*InstrumentedGateway, error) {
	if next == nil {
		return nil, errors.New("payments: gateway is required")
	}
	cfg := instrumentConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	if cfg.tracer == nil {
		cfg.tracer = otel.Tracer(instrumentationName)
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}

	latency, err := cfg.meter.Float64Histogram(
		"payments.gateway.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for terminal gateway calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("payments: create latency histogram: %w", err)
	}
	failures, err := cfg.meter.Int64Counter(
		"payments.gateway.failures",
		metric.WithDescription("Count of failed terminal gateway calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("payments: create failure counter: %w", err)
	}

	return &InstrumentedGateway{
		next:     next,
		provider: provider,
		tracer:   cfg.tracer,
		latency:  latency,
		failures: failures,
		clock:    cfg.clock,
	}, nil
}

func (g *InstrumentedGateway) CreateCheckout(ctx context.Context, req services.TerminalCheckoutRequest) (services.TerminalCheckout, error) {
	ctx, finish := g.start(ctx, "create_checkout", attribute.Int64("payments.amount", req.Amount))
	checkout, err := g.next.CreateCheckout(ctx, req)
	finish(err)
	return checkout, err
}

func (g *InstrumentedGateway) CancelCheckout(ctx context.Context, readerRef string) error {
	ctx, finish := g.start(ctx, "cancel_checkout")
	err := g.next.CancelCheckout(ctx, readerRef)
	finish(err)
	return err
}

func (g *InstrumentedGateway) LookupCheckout(ctx context.Context, clientTransactionID string) (services.TerminalCheckoutStatus, error) {
	ctx, finish := g.start(ctx, "lookup_checkout")
	status, err := g.next.LookupCheckout(ctx, clientTransactionID)
	if err == nil {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("payments.status", string(status.Status)))
	}
	finish(err)
	return status, err
}

func (g *InstrumentedGateway) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	base := []attribute.KeyValue{
		attribute.String("payments.provider", g.provider),
		attribute.String("payments.operation", op),
	}
	ctx, span := g.tracer.Start(ctx, "payments."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(base, attrs...)...),
	)
	started := g.clock()
	return ctx, func(err error) {
		defer span.End()
		elapsed := g.clock().Sub(started)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			if errors.Is(err, ErrGatewayUnavailable) {
				outcome = "unavailable"
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			g.failures.Add(ctx, 1, metric.WithAttributes(append(base, attribute.String("outcome", outcome))...))
		}
		g.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond),
			metric.WithAttributes(append(base, attribute.String("outcome", outcome))...))
	}
}
