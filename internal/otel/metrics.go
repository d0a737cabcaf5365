package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all TaskDeck metrics instruments.
type Metrics struct {
	RequestDuration  metric.Float64Histogram
	CommandDuration  metric.Float64Histogram
	CommandErrors    metric.Int64Counter
	BatchSize        metric.Int64Histogram
	ActiveStreams    metric.Int64UpDownCounter
	StreamFrames     metric.Int64Counter
	RateLimitRejects metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("taskdeck.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.CommandDuration, err = meter.Float64Histogram("taskdeck.command.duration",
		metric.WithDescription("Command pipeline duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.CommandErrors, err = meter.Int64Counter("taskdeck.command.errors",
		metric.WithDescription("Commands resolved to a failure envelope"),
	)
	if err != nil {
		return nil, err
	}

	m.BatchSize, err = meter.Int64Histogram("taskdeck.batch.size",
		metric.WithDescription("Commands per batch request"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveStreams, err = meter.Int64UpDownCounter("taskdeck.stream.active",
		metric.WithDescription("Streaming executions currently being consumed"),
	)
	if err != nil {
		return nil, err
	}

	m.StreamFrames, err = meter.Int64Counter("taskdeck.stream.frames",
		metric.WithDescription("Total stream frames delivered"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("taskdeck.ratelimit.rejects",
		metric.WithDescription("Requests rejected by rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
