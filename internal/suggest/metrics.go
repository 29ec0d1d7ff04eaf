package suggest

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/thebtf/suggestd/internal/novelty"
	"github.com/thebtf/suggestd/pkg/models"
)

// Metrics records engine counters on the global OpenTelemetry meter provider.
// Without an installed SDK every instrument is a no-op.
type Metrics struct {
	candidates otelmetric.Int64Counter
	bypasses   otelmetric.Int64Counter
	fallbacks  otelmetric.Int64Counter
	failures   otelmetric.Int64Counter
	latency    otelmetric.Float64Histogram
}

// NewMetrics creates the engine instruments.
func NewMetrics(logger zerolog.Logger) *Metrics {
	meter := otel.Meter("suggestd/suggest")
	m := &Metrics{}

	var err error
	m.candidates, err = meter.Int64Counter("suggest_candidates", otelmetric.WithDescription("Candidates by disposition"))
	if err != nil {
		logger.Warn().Err(err).Msg("otel counter suggest_candidates")
	}
	m.bypasses, err = meter.Int64Counter("suggest_cooldown_bypasses")
	if err != nil {
		logger.Warn().Err(err).Msg("otel counter suggest_cooldown_bypasses")
	}
	m.fallbacks, err = meter.Int64Counter("suggest_reinforcement_fallbacks")
	if err != nil {
		logger.Warn().Err(err).Msg("otel counter suggest_reinforcement_fallbacks")
	}
	m.failures, err = meter.Int64Counter("suggest_side_effect_failures")
	if err != nil {
		logger.Warn().Err(err).Msg("otel counter suggest_side_effect_failures")
	}
	m.latency, err = meter.Float64Histogram("suggest_latency_ms", otelmetric.WithUnit("ms"))
	if err != nil {
		logger.Warn().Err(err).Msg("otel histogram suggest_latency_ms")
	}
	return m
}

func surfaceAttr(surface models.Surface) otelmetric.MeasurementOption {
	return otelmetric.WithAttributes(attribute.String("surface", string(surface)))
}

func (m *Metrics) recordDispositions(ctx context.Context, surface models.Surface, plan []PlanEntry) {
	if m == nil || m.candidates == nil {
		return
	}
	counts := make(map[novelty.Disposition]int64)
	for _, p := range plan {
		counts[p.Disposition]++
	}
	for d, n := range counts {
		m.candidates.Add(ctx, n, otelmetric.WithAttributes(
			attribute.String("surface", string(surface)),
			attribute.String("disposition", string(d)),
		))
	}
}

func (m *Metrics) recordBypass(ctx context.Context, surface models.Surface) {
	if m == nil || m.bypasses == nil {
		return
	}
	m.bypasses.Add(ctx, 1, surfaceAttr(surface))
}

func (m *Metrics) recordFallback(ctx context.Context, surface models.Surface) {
	if m == nil || m.fallbacks == nil {
		return
	}
	m.fallbacks.Add(ctx, 1, surfaceAttr(surface))
}

func (m *Metrics) recordFailure(ctx context.Context, kind novelty.IntentKind) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("intent", string(kind))))
}

func (m *Metrics) recordLatency(ctx context.Context, surface models.Surface, started time.Time) {
	if m == nil || m.latency == nil {
		return
	}
	m.latency.Record(ctx, float64(time.Since(started).Milliseconds()), surfaceAttr(surface))
}
