package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MetricsRecorder records verification outcomes for observability.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// MetricsRecorderFunc adapts a function to MetricsRecorder.
type MetricsRecorderFunc func(context.Context, string, bool, string, time.Duration)

// RecordVerification implements MetricsRecorder.
func (f MetricsRecorderFunc) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if f != nil {
		f(ctx, kind, success, reason, duration)
	}
}

type otelRecorder struct {
	latency  metric.Float64Histogram
	outcomes metric.Int64Counter
}

// NewMeterRecorder publishes verification latency and outcome counts on the supplied meter.
// A nil meter falls back to a no-op provider.
func NewMeterRecorder(meter metric.Meter) (MetricsRecorder, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("auth")
	}
	latency, err := meter.Float64Histogram("auth.verification.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent verifying inbound credentials"),
	)
	if err != nil {
		return nil, err
	}
	outcomes, err := meter.Int64Counter("auth.verification.outcomes",
		metric.WithDescription("Verification results by kind and reason"),
	)
	if err != nil {
		return nil, err
	}
	return &otelRecorder{latency: latency, outcomes: outcomes}, nil
}

func (r *otelRecorder) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("auth.kind", kind),
		attribute.Bool("auth.success", success),
		attribute.String("auth.reason", reason),
	)
	r.latency.Record(ctx, float64(duration)/float64(time.Millisecond), attrs)
	r.outcomes.Add(ctx, 1, attrs)
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	})
}
