package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all engine metric instruments. The background failure and
// drop counters are the bounded error side channel for fire-and-forget work.
type Metrics struct {
	ExtractionFailures metric.Int64Counter
	ExtractionFacts    metric.Int64Counter
	StoreEvictions     metric.Int64Counter
	TriggersFired      metric.Int64Counter
	TriggersSuppressed metric.Int64Counter
	InjectionChars     metric.Int64Histogram
	SearchDuration     metric.Float64Histogram
	SearchCacheHits    metric.Int64Counter
	BackgroundDepth    metric.Int64UpDownCounter
	BackgroundDrops    metric.Int64Counter
	BackgroundFailures metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ExtractionFailures, err = meter.Int64Counter("workmem.extraction.failures",
		metric.WithDescription("Extraction pipeline failures swallowed at the boundary"),
	)
	if err != nil {
		return nil, err
	}

	m.ExtractionFacts, err = meter.Int64Counter("workmem.extraction.facts",
		metric.WithDescription("Facts recorded by compaction extraction"),
	)
	if err != nil {
		return nil, err
	}

	m.StoreEvictions, err = meter.Int64Counter("workmem.store.evictions",
		metric.WithDescription("Records evicted by store capacity policies"),
	)
	if err != nil {
		return nil, err
	}

	m.TriggersFired, err = meter.Int64Counter("workmem.trigger.fired",
		metric.WithDescription("Proactive triggers emitted after cooldown filtering"),
	)
	if err != nil {
		return nil, err
	}

	m.TriggersSuppressed, err = meter.Int64Counter("workmem.trigger.suppressed",
		metric.WithDescription("Trigger candidates dropped by cooldown dedup"),
	)
	if err != nil {
		return nil, err
	}

	m.InjectionChars, err = meter.Int64Histogram("workmem.injection.chars",
		metric.WithDescription("Characters per rendered injection block"),
	)
	if err != nil {
		return nil, err
	}

	m.SearchDuration, err = meter.Float64Histogram("workmem.search.duration",
		metric.WithDescription("Hybrid search duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.SearchCacheHits, err = meter.Int64Counter("workmem.search.cache_hits",
		metric.WithDescription("Search queries served from the result cache"),
	)
	if err != nil {
		return nil, err
	}

	m.BackgroundDepth, err = meter.Int64UpDownCounter("workmem.background.depth",
		metric.WithDescription("Jobs queued for background execution"),
	)
	if err != nil {
		return nil, err
	}

	m.BackgroundDrops, err = meter.Int64Counter("workmem.background.drops",
		metric.WithDescription("Background submissions rejected by a full queue"),
	)
	if err != nil {
		return nil, err
	}

	m.BackgroundFailures, err = meter.Int64Counter("workmem.background.failures",
		metric.WithDescription("Background jobs that returned an error or panicked"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
