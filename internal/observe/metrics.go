// SPDX-License-Identifier: MIT

// Package observe records pvrec metrics through the OpenTelemetry Metrics API
// and exposes them for Prometheus scraping. Tests construct Metrics with
// their own MeterProvider.
package observe

import (
	"context"
	"errors"
	"sync"

	"pvrec/internal/capture"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all pvrec metrics.
const meterName = "pvrec"

// StatsSource is satisfied by *capture.Session.
type StatsSource interface {
	Stats() capture.Stats
}

// Metrics holds the instruments recorded by the poll loop. Counters that the
// producer owns (overruns, transfers) are observed from a StatsSource at
// collection time so the capture path never touches OpenTelemetry.
type Metrics struct {
	// FramesDelivered counts frames handed to the detection engine.
	FramesDelivered metric.Int64Counter

	// Detections counts keyword hits. Use with attribute.String("keyword", ...).
	Detections metric.Int64Counter

	// Faults counts sessions that entered the faulted state.
	Faults metric.Int64Counter

	// EngineDuration tracks per-frame engine processing time.
	EngineDuration metric.Float64Histogram

	meter metric.Meter

	mu   sync.Mutex
	regs []metric.Registration
}

// engineBuckets are in seconds; a 32 ms frame must be processed well within
// its own period.
var engineBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.FramesDelivered, err = m.Int64Counter("pvrec.frames.delivered",
		metric.WithDescription("Frames delivered to the detection engine."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("pvrec.detections",
		metric.WithDescription("Keyword detections by keyword."),
	); err != nil {
		return nil, err
	}
	if met.Faults, err = m.Int64Counter("pvrec.faults",
		metric.WithDescription("Capture sessions that faulted on a hardware transfer error."),
	); err != nil {
		return nil, err
	}
	if met.EngineDuration, err = m.Float64Histogram("pvrec.engine.duration",
		metric.WithDescription("Detection engine processing time per frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(engineBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// ObserveSession registers asynchronous instruments reading src on every
// collection. Call Unobserve before src goes away.
func (m *Metrics) ObserveSession(src StatsSource) error {
	overruns, err := m.meter.Int64ObservableCounter("pvrec.frames.overrun",
		metric.WithDescription("Frames overwritten before the consumer read them."),
	)
	if err != nil {
		return err
	}
	transfers, err := m.meter.Int64ObservableCounter("pvrec.transfers",
		metric.WithDescription("Producer transfers accepted while recording."),
	)
	if err != nil {
		return err
	}
	state, err := m.meter.Int64ObservableGauge("pvrec.session.state",
		metric.WithDescription("Capture session state (0 uninitialized to 5 faulted)."),
	)
	if err != nil {
		return err
	}

	reg, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := src.Stats()
		o.ObserveInt64(overruns, int64(st.Overruns))
		o.ObserveInt64(transfers, int64(st.Transfers))
		o.ObserveInt64(state, int64(st.State), metric.WithAttributes(attribute.String("state", st.State.String())))
		return nil
	}, overruns, transfers, state)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.regs = append(m.regs, reg)
	m.mu.Unlock()
	return nil
}

// Unobserve removes every callback registered by ObserveSession.
func (m *Metrics) Unobserve() error {
	m.mu.Lock()
	regs := m.regs
	m.regs = nil
	m.mu.Unlock()

	var errs []error
	for _, r := range regs {
		if err := r.Unregister(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordDetection increments the detection counter for keyword.
func (m *Metrics) RecordDetection(ctx context.Context, keyword string) {
	m.Detections.Add(ctx, 1, metric.WithAttributes(attribute.String("keyword", keyword)))
}
