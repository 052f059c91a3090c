package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "engram"

// Metrics holds all engram metric instruments.
type Metrics struct {
	ContextHits        metric.Int64Counter
	ContextMisses      metric.Int64Counter
	ExtractionsRun     metric.Int64Counter
	ExtractionsFailed  metric.Int64Counter
	FactsStored        metric.Int64Counter
	QuotaEvictions     metric.Int64Counter
	ReflectorExpired   metric.Int64Counter
	ReflectorCompacted metric.Int64Counter
	ExtractionDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ContextHits, err = meter.Int64Counter("engram.context.cache_hits",
		metric.WithDescription("Context loads served from cache"))
	if err != nil {
		return nil, err
	}

	m.ContextMisses, err = meter.Int64Counter("engram.context.cache_misses",
		metric.WithDescription("Context loads that queried the store"))
	if err != nil {
		return nil, err
	}

	m.ExtractionsRun, err = meter.Int64Counter("engram.extractions.run",
		metric.WithDescription("Extraction pipeline runs started"))
	if err != nil {
		return nil, err
	}

	m.ExtractionsFailed, err = meter.Int64Counter("engram.extractions.failed",
		metric.WithDescription("Extraction pipeline runs that failed"))
	if err != nil {
		return nil, err
	}

	m.FactsStored, err = meter.Int64Counter("engram.facts.stored",
		metric.WithDescription("Observations stored by extraction"))
	if err != nil {
		return nil, err
	}

	m.QuotaEvictions, err = meter.Int64Counter("engram.quota.evictions",
		metric.WithDescription("Green observations evicted by quota pressure"))
	if err != nil {
		return nil, err
	}

	m.ReflectorExpired, err = meter.Int64Counter("engram.reflector.expired",
		metric.WithDescription("Green observations expired by retention"))
	if err != nil {
		return nil, err
	}

	m.ReflectorCompacted, err = meter.Int64Counter("engram.reflector.compacted",
		metric.WithDescription("Green observations compacted over quota"))
	if err != nil {
		return nil, err
	}

	m.ExtractionDuration, err = meter.Float64Histogram("engram.extraction.duration_seconds",
		metric.WithDescription("Extraction pipeline duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
