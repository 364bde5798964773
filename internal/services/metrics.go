package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/BradenHooton/fieldnotes/internal/services"

// AuthMetrics holds the counters emitted by the auth services. The zero
// value is usable and records nothing.
type AuthMetrics struct {
	auditWriteFailures metric.Int64Counter
	throttleBlocks     metric.Int64Counter
	loginResults       metric.Int64Counter
}

// NewAuthMetrics registers counters on meter, or on the global provider when meter is nil
func NewAuthMetrics(meter metric.Meter) (*AuthMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	auditWriteFailures, err := meter.Int64Counter("audit.write.failures",
		metric.WithDescription("Audit entries that could not be written to the sink"))
	if err != nil {
		return nil, err
	}
	throttleBlocks, err := meter.Int64Counter("auth.throttle.blocks",
		metric.WithDescription("Requests rejected by the brute-force throttle"))
	if err != nil {
		return nil, err
	}
	loginResults, err := meter.Int64Counter("auth.login.attempts",
		metric.WithDescription("Login attempts by outcome"))
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{
		auditWriteFailures: auditWriteFailures,
		throttleBlocks:     throttleBlocks,
		loginResults:       loginResults,
	}, nil
}

func (m *AuthMetrics) auditWriteFailed(ctx context.Context, action string) {
	if m == nil || m.auditWriteFailures == nil {
		return
	}
	m.auditWriteFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func (m *AuthMetrics) throttleBlocked(ctx context.Context, scope string) {
	if m == nil || m.throttleBlocks == nil {
		return
	}
	m.throttleBlocks.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}

func (m *AuthMetrics) loginResult(ctx context.Context, outcome string) {
	if m == nil || m.loginResults == nil {
		return
	}
	m.loginResults.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
