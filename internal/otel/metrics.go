package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds om's coordination instruments.
type Metrics struct {
	EventsTotal    metric.Int64Counter
	SkipsTotal     metric.Int64Counter
	RunsStarted    metric.Int64Counter
	RunDuration    metric.Float64Histogram
	RunFailures    metric.Int64Counter
	LockContention metric.Int64Counter
	StaleReclaims  metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.EventsTotal, err = meter.Int64Counter("om.events",
		metric.WithDescription("Lifecycle events received, by kind"),
	)
	if err != nil {
		return nil, err
	}

	m.SkipsTotal, err = meter.Int64Counter("om.skips",
		metric.WithDescription("Throttle skips, by reason"),
	)
	if err != nil {
		return nil, err
	}

	m.RunsStarted, err = meter.Int64Counter("om.runs.started",
		metric.WithDescription("Compression runs launched"),
	)
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("om.run.duration",
		metric.WithDescription("Compression subprocess duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.RunFailures, err = meter.Int64Counter("om.runs.failed",
		metric.WithDescription("Compression runs that exited nonzero"),
	)
	if err != nil {
		return nil, err
	}

	m.LockContention, err = meter.Int64Counter("om.lock.contended",
		metric.WithDescription("Acquisitions refused because a run was in flight"),
	)
	if err != nil {
		return nil, err
	}

	m.StaleReclaims, err = meter.Int64Counter("om.lock.reclaimed",
		metric.WithDescription("Stale lock markers reclaimed"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
