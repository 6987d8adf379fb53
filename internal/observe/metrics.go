// Package observe provides the OpenTelemetry metric instruments for the
// server: round resolution latency, provider call outcomes, summarisation
// work, and live connection gauges.
//
// Metrics are recorded through the OTel Metrics API and exported via the
// Prometheus bridge set up by [InitProvider], so the standard /metrics
// endpoint keeps working. Tests should call [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all instruments below.
const meterName = "github.com/reverie-rp/reverie"

// Metrics holds every metric instrument the server records. The underlying
// OTel types handle their own synchronisation.
type Metrics struct {
	// RoundDuration tracks end-to-end round resolution latency, from the
	// completing input to the committed narration.
	RoundDuration metric.Float64Histogram

	// LLMDuration tracks provider chain run latency, labelled by the entry
	// that served (or the family when the whole chain failed).
	LLMDuration metric.Float64Histogram

	// SummariseDuration tracks history condensation latency.
	SummariseDuration metric.Float64Histogram

	// RoundsResolved counts resolved rounds. Attributes:
	//   attribute.String("status", "ok"|"error"), attribute.Bool("fallback", ...)
	RoundsResolved metric.Int64Counter

	// ProviderRequests counts provider calls by provider and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures by provider.
	ProviderErrors metric.Int64Counter

	// Summarisations counts overflow-triggered summary rebuilds.
	Summarisations metric.Int64Counter

	// ActiveConnections tracks open websocket connections.
	ActiveConnections metric.Int64UpDownCounter

	// ActivePlayers tracks connections currently bound to a player seat.
	ActivePlayers metric.Int64UpDownCounter
}

// latencyBuckets covers the range from local file writes to slow model
// completions, in seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RoundDuration, err = m.Float64Histogram("reverie.round.duration",
		metric.WithDescription("End-to-end round resolution latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("reverie.llm.duration",
		metric.WithDescription("Latency of a single provider completion call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SummariseDuration, err = m.Float64Histogram("reverie.summarise.duration",
		metric.WithDescription("Latency of history condensation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.RoundsResolved, err = m.Int64Counter("reverie.rounds.resolved",
		metric.WithDescription("Resolved rounds by status and fallback use."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("reverie.provider.requests",
		metric.WithDescription("Provider API calls by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("reverie.provider.errors",
		metric.WithDescription("Provider failures by provider."),
	); err != nil {
		return nil, err
	}
	if met.Summarisations, err = m.Int64Counter("reverie.summarisations",
		metric.WithDescription("Overflow-triggered summary rebuilds."),
	); err != nil {
		return nil, err
	}

	if met.ActiveConnections, err = m.Int64UpDownCounter("reverie.active_connections",
		metric.WithDescription("Open websocket connections."),
	); err != nil {
		return nil, err
	}
	if met.ActivePlayers, err = m.Int64UpDownCounter("reverie.active_players",
		metric.WithDescription("Connections bound to a player seat."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance, created on first use
// from the global meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordRound records one resolved round.
func (m *Metrics) RecordRound(ctx context.Context, seconds float64, status string, fallback bool) {
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.Bool("fallback", fallback),
	)
	m.RoundDuration.Record(ctx, seconds, attrs)
	m.RoundsResolved.Add(ctx, 1, attrs)
}

// RecordProviderRequest records one provider chain run: its latency, the
// call count, and on failure the error count.
func (m *Metrics) RecordProviderRequest(ctx context.Context, seconds float64, provider, status string) {
	m.LLMDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("provider", provider)))
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
	if status != "ok" {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
	}
}
