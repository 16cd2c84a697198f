package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// CoordinatorMetrics holds the instruments recorded by the storage coordinator.
// A nil *CoordinatorMetrics is valid and records nothing.
type CoordinatorMetrics struct {
	pipelineOutcomes metric.Int64Counter
	poolWait         metric.Float64Histogram
	poolExhausted    metric.Int64Counter
	cacheLookups     metric.Int64Counter
	orphansFound     metric.Int64Counter
}

// NewCoordinatorMetrics registers the instruments on meter.
func NewCoordinatorMetrics(meter metric.Meter) (*CoordinatorMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("ledgerlink")
	}
	var (
		m   CoordinatorMetrics
		err error
	)
	if m.pipelineOutcomes, err = meter.Int64Counter("ledgerlink.pipeline.outcomes",
		metric.WithDescription("Extraction-to-posting runs by outcome")); err != nil {
		return nil, err
	}
	if m.poolWait, err = meter.Float64Histogram("ledgerlink.pool.acquire_wait",
		metric.WithDescription("Time spent waiting for a pooled connection"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.poolExhausted, err = meter.Int64Counter("ledgerlink.pool.exhausted",
		metric.WithDescription("Acquire attempts that hit the pool timeout")); err != nil {
		return nil, err
	}
	if m.cacheLookups, err = meter.Int64Counter("ledgerlink.cache.lookups",
		metric.WithDescription("Cache lookups by result")); err != nil {
		return nil, err
	}
	if m.orphansFound, err = meter.Int64Counter("ledgerlink.reconciliation.orphans",
		metric.WithDescription("Orphaned cross-store links found by audits")); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordPipelineOutcome counts one pipeline run.
func (m *CoordinatorMetrics) RecordPipelineOutcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.pipelineOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordPoolAcquire records how long an acquire on pool waited.
func (m *CoordinatorMetrics) RecordPoolAcquire(ctx context.Context, pool string, wait time.Duration, exhausted bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("pool", pool))
	m.poolWait.Record(ctx, float64(wait.Microseconds())/1000, attrs)
	if exhausted {
		m.poolExhausted.Add(ctx, 1, attrs)
	}
}

// RecordCacheLookup counts a cache hit or miss.
func (m *CoordinatorMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordOrphans counts audit findings by kind.
func (m *CoordinatorMetrics) RecordOrphans(ctx context.Context, kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.orphansFound.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
}
