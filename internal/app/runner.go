// SPDX-License-Identifier: MIT

// Package app runs the consumer side of the capture pipeline: it polls the
// session for frames, hands them to the detection engine and fans results
// out to the recorder, spectrum telemetry, transports and metrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pvrec/internal/analysis"
	"pvrec/internal/audio"
	"pvrec/internal/capture"
	"pvrec/internal/detect"
	"pvrec/internal/log"
	"pvrec/internal/observe"
	"pvrec/internal/pingpong"
	"pvrec/internal/transport"

	"golang.org/x/sync/errgroup"
)

// ErrMismatch is returned by NewRunner when the engine and session disagree
// on frame length or sample rate.
var ErrMismatch = errors.New("app: engine and session formats differ")

// Detection is one keyword hit.
type Detection struct {
	Seq     uint64
	Index   int
	Keyword string
	Time    time.Time
}

// Finisher is implemented by drivers whose input runs out.
type Finisher interface {
	Done() <-chan struct{}
}

// Options wires a Runner. Session and Engine are required; the rest are
// optional and skipped when nil.
type Options struct {
	Session *capture.Session
	Engine  detect.Engine

	Transport transport.Transport
	Recorder  *audio.Recorder // written while Recording() is true
	Spectrum  *analysis.SpectrumProcessor
	Bands     *analysis.BandEnergyProcessor
	Gate      *audio.Gate // spectrum runs only for frames the gate passes
	Metrics   *observe.Metrics

	// Input ends the run when its Done channel closes, after the last ready
	// frame is drained. Done is read after the session starts; the file
	// driver goes here.
	Input Finisher

	// PollInterval defaults to a quarter of the frame period.
	PollInterval time.Duration
	// StatusInterval enables periodic StatusEvents on Transport.
	StatusInterval time.Duration

	// OnDetection is called from the poll goroutine.
	OnDetection func(Detection)
}

// Stats is a snapshot of the runner and its session.
type Stats struct {
	Session       capture.Stats
	Frames        uint64
	Detections    uint64
	LastDetection Detection
}

// Runner owns the poll loop for one session.
type Runner struct {
	opts Options

	mu    sync.Mutex
	stats Stats
}

// NewRunner validates the options and fills defaults.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Session == nil || opts.Engine == nil {
		return nil, errors.New("app: session and engine are required")
	}
	cfg := opts.Session.Config()
	if opts.Engine.FrameLength() != cfg.FrameLength || opts.Engine.SampleRate() != cfg.SampleRate {
		return nil, fmt.Errorf("%w: engine %d samples at %d Hz, session %d samples at %d Hz", ErrMismatch,
			opts.Engine.FrameLength(), opts.Engine.SampleRate(), cfg.FrameLength, cfg.SampleRate)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = cfg.FramePeriod() / 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Millisecond
	}
	return &Runner{opts: opts}, nil
}

// Stats returns the current counters. Safe from any goroutine.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	st := r.stats
	r.mu.Unlock()
	st.Session = r.opts.Session.Stats()
	return st
}

// Run starts the session and polls it until ctx is cancelled, Done closes,
// or the session faults. The session is stopped before Run returns. A fault
// is returned as the session's error; cancellation and end of input return
// nil.
func (r *Runner) Run(ctx context.Context) error {
	s := r.opts.Session
	if err := s.Start(); err != nil {
		return err
	}
	log.Infof("app: recording (%d-sample frames, polling every %s)", s.Config().FrameLength, r.opts.PollInterval)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	var done <-chan struct{}
	if r.opts.Input != nil {
		done = r.opts.Input.Done()
	}

	g.Go(func() error {
		defer cancel()
		return r.poll(gctx, done)
	})
	if r.opts.Transport != nil && r.opts.StatusInterval > 0 {
		g.Go(func() error {
			r.status(gctx)
			return nil
		})
	}
	runErr := g.Wait()

	if err := s.Stop(); err != nil && runErr == nil {
		runErr = err
	}
	if r.opts.Transport != nil && r.opts.StatusInterval > 0 {
		r.sendStatus()
	}
	st := r.Stats()
	log.Infof("app: stopped after %d frames, %d detections, %d overruns", st.Frames, st.Detections, st.Session.Overruns)
	return runErr
}

func (r *Runner) poll(ctx context.Context, done <-chan struct{}) error {
	s := r.opts.Session
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Faulted():
			if m := r.opts.Metrics; m != nil {
				m.Faults.Add(ctx, 1)
			}
			err := s.Err()
			log.Errorf("app: session faulted: %v", err)
			return err
		case <-done:
			// The producer has finished; pick up its last frame.
			if err := r.drain(ctx); err != nil {
				return err
			}
			log.Infof("app: input finished")
			return nil
		case <-ticker.C:
			if err := r.drain(ctx); err != nil {
				return err
			}
		}
	}
}

func (r *Runner) drain(ctx context.Context) error {
	for {
		frame, ok := r.opts.Session.GetFrame()
		if !ok {
			return nil
		}
		if err := r.handle(ctx, frame); err != nil {
			return err
		}
	}
}

func (r *Runner) handle(ctx context.Context, frame pingpong.Frame) error {
	start := time.Now()
	idx, err := r.opts.Engine.Process(frame.Samples)
	if err != nil {
		return fmt.Errorf("app: engine: %w", err)
	}
	if m := r.opts.Metrics; m != nil {
		m.EngineDuration.Record(ctx, time.Since(start).Seconds())
		m.FramesDelivered.Add(ctx, 1)
	}

	r.mu.Lock()
	r.stats.Frames++
	r.mu.Unlock()

	if idx != detect.NoKeyword {
		r.detected(ctx, frame.Seq, idx)
	}

	if rec := r.opts.Recorder; rec != nil && rec.Recording() {
		if err := rec.Write(frame.Samples); err != nil {
			log.Errorf("app: recorder: %v", err)
		}
	}

	if sp := r.opts.Spectrum; sp != nil {
		if g := r.opts.Gate; g == nil || g.Open(frame.Samples) {
			sp.Process(frame.Samples)
			if r.opts.Bands != nil {
				r.opts.Bands.Publish(frame.Seq)
			}
		}
	}
	return nil
}

func (r *Runner) detected(ctx context.Context, seq uint64, idx int) {
	d := Detection{
		Seq:     seq,
		Index:   idx,
		Keyword: detect.KeywordName(r.opts.Engine, idx),
		Time:    time.Now(),
	}

	r.mu.Lock()
	r.stats.Detections++
	r.stats.LastDetection = d
	r.mu.Unlock()

	log.Infof("app: detected %q in frame %d", d.Keyword, d.Seq)
	if m := r.opts.Metrics; m != nil {
		m.RecordDetection(ctx, d.Keyword)
	}
	if t := r.opts.Transport; t != nil {
		ev := transport.DetectionEvent{
			Type:    transport.EventDetection,
			Seq:     d.Seq,
			Keyword: d.Keyword,
			Index:   d.Index,
			Time:    d.Time,
		}
		if err := t.Send(ev); err != nil {
			log.Warnf("app: sending detection: %v", err)
		}
	}
	if r.opts.OnDetection != nil {
		r.opts.OnDetection(d)
	}
}

func (r *Runner) status(ctx context.Context) {
	ticker := time.NewTicker(r.opts.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sendStatus()
		}
	}
}

func (r *Runner) sendStatus() {
	st := r.opts.Session.Stats()
	ev := transport.StatusEvent{
		Type:      transport.EventStatus,
		State:     st.State.String(),
		Delivered: st.Delivered,
		Overruns:  st.Overruns,
		Faulted:   st.Faulted,
	}
	if err := r.opts.Session.Err(); err != nil {
		ev.Error = err.Error()
	}
	if err := r.opts.Transport.Send(ev); err != nil {
		log.Debugf("app: sending status: %v", err)
	}
}
