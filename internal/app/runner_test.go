// SPDX-License-Identifier: MIT
package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"pvrec/internal/analysis"
	"pvrec/internal/audio"
	"pvrec/internal/capture"
	"pvrec/internal/capture/capturetest"
	"pvrec/internal/detect"
	"pvrec/internal/dsp"
	"pvrec/internal/observe"
	"pvrec/internal/transport"
	"pvrec/pkg/utils"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const (
	testSampleRate  = 16000
	testFrameLength = 256
)

func newSession(t *testing.T) (*capture.Session, *capturetest.Manual) {
	t.Helper()
	drv := &capturetest.Manual{}
	s, err := capture.New(capture.Config{
		SampleRate:  testSampleRate,
		Channels:    1,
		FrameLength: testFrameLength,
		Mode:        dsp.ModeNone,
	}, drv)
	if err != nil {
		t.Fatalf("capture.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, drv
}

func newEngine(t *testing.T) *detect.EnergyEngine {
	t.Helper()
	cfg := detect.DefaultEnergyConfig()
	cfg.FrameLength = testFrameLength
	cfg.SampleRate = testSampleRate
	cfg.Cooldown = 0
	e, err := detect.NewEnergyEngine(cfg)
	if err != nil {
		t.Fatalf("NewEnergyEngine: %v", err)
	}
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// runAsync starts r and waits until the driver streams.
func runAsync(t *testing.T, r *Runner, drv *capturetest.Manual) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()
	t.Cleanup(cancel)
	waitFor(t, "driver to stream", drv.Streaming)
	return cancel, errc
}

func result(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func feed(t *testing.T, r *Runner, drv *capturetest.Manual, amplitude float64) {
	t.Helper()
	before := r.Stats().Frames
	if !drv.PCM(utils.GenerateSineWave(440, testSampleRate, testFrameLength, amplitude)) {
		t.Fatal("driver not streaming")
	}
	waitFor(t, "frame to be consumed", func() bool { return r.Stats().Frames > before })
}

func TestNewRunnerValidation(t *testing.T) {
	s, _ := newSession(t)

	if _, err := NewRunner(Options{Session: s}); err == nil {
		t.Error("missing engine accepted")
	}

	cfg := detect.DefaultEnergyConfig() // 512 samples
	e, err := detect.NewEnergyEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewRunner(Options{Session: s, Engine: e}); !errors.Is(err, ErrMismatch) {
		t.Errorf("err = %v, want ErrMismatch", err)
	}

	r, err := NewRunner(Options{Session: s, Engine: newEngine(t)})
	if err != nil {
		t.Fatal(err)
	}
	if want := 4 * time.Millisecond; r.opts.PollInterval != want {
		t.Errorf("PollInterval = %s, want %s (quarter of 16 ms)", r.opts.PollInterval, want)
	}
}

func TestRunnerDetects(t *testing.T) {
	s, drv := newSession(t)
	mt := &utils.MockTransport{}
	var hits []Detection
	r, err := NewRunner(Options{
		Session:      s,
		Engine:       newEngine(t),
		Transport:    mt,
		PollInterval: time.Millisecond,
		OnDetection:  func(d Detection) { hits = append(hits, d) },
	})
	if err != nil {
		t.Fatal(err)
	}

	cancel, errc := runAsync(t, r, drv)
	feed(t, r, drv, 0.01)
	feed(t, r, drv, 0.5)
	cancel()
	if err := result(t, errc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	st := r.Stats()
	if st.Frames != 2 || st.Detections != 1 {
		t.Fatalf("frames/detections = %d/%d, want 2/1", st.Frames, st.Detections)
	}
	if st.LastDetection.Keyword != "onset" || st.LastDetection.Seq != 2 {
		t.Errorf("LastDetection = %+v", st.LastDetection)
	}
	if len(hits) != 1 || hits[0] != st.LastDetection {
		t.Errorf("OnDetection saw %+v", hits)
	}
	if s.State() != capture.StateStopped {
		t.Errorf("state = %v after Run, want Stopped", s.State())
	}

	var got []transport.DetectionEvent
	for _, ev := range mt.Events() {
		if d, ok := ev.(transport.DetectionEvent); ok {
			got = append(got, d)
		}
	}
	if len(got) != 1 || got[0].Seq != 2 || got[0].Keyword != "onset" {
		t.Errorf("detection events = %+v", got)
	}
}

func TestRunnerStopsOnFault(t *testing.T) {
	s, drv := newSession(t)
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	r, err := NewRunner(Options{Session: s, Engine: newEngine(t), Metrics: metrics, PollInterval: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	_, errc := runAsync(t, r, drv)

	dma := errors.New("dma underrun")
	if err := drv.Fail(dma); err != nil {
		t.Fatal(err)
	}
	err = result(t, errc)
	if !errors.Is(err, capture.ErrHardwareTransfer) || !errors.Is(err, dma) {
		t.Fatalf("Run = %v, want ErrHardwareTransfer wrapping the driver error", err)
	}
	if s.State() != capture.StateStopped {
		t.Errorf("state = %v, want Stopped", s.State())
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var faults int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "pvrec.faults" {
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					faults += dp.Value
				}
			}
		}
	}
	if faults != 1 {
		t.Errorf("faults metric = %d, want 1", faults)
	}
}

type doneChan chan struct{}

func (d doneChan) Done() <-chan struct{} { return d }

func TestRunnerDrainsOnDone(t *testing.T) {
	s, drv := newSession(t)
	done := make(doneChan)
	r, err := NewRunner(Options{
		Session:      s,
		Engine:       newEngine(t),
		Input:        done,
		PollInterval: time.Hour, // only Done can trigger a read
	})
	if err != nil {
		t.Fatal(err)
	}
	_, errc := runAsync(t, r, drv)

	drv.PCM(utils.GenerateSineWave(440, testSampleRate, testFrameLength, 0.2))
	close(done)
	if err := result(t, errc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := r.Stats().Frames; got != 1 {
		t.Errorf("Frames = %d, want the final frame drained", got)
	}
}

func TestRunnerFansOut(t *testing.T) {
	s, drv := newSession(t)
	mt := &utils.MockTransport{}

	rec := audio.NewRecorder(testSampleRate, testFrameLength)
	if err := rec.StartRecording(filepath.Join(t.TempDir(), "out.wav")); err != nil {
		t.Fatal(err)
	}
	sp, err := analysis.NewSpectrumForFrame(testFrameLength, testSampleRate, analysis.Hann)
	if err != nil {
		t.Fatal(err)
	}
	bands, err := analysis.NewBandEnergyProcessor(mt, sp, nil)
	if err != nil {
		t.Fatal(err)
	}
	gate := audio.NewGate(0.05)
	gate.EnableGate()

	r, err := NewRunner(Options{
		Session:        s,
		Engine:         newEngine(t),
		Transport:      mt,
		Recorder:       rec,
		Spectrum:       sp,
		Bands:          bands,
		Gate:           gate,
		PollInterval:   time.Millisecond,
		StatusInterval: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}

	cancel, errc := runAsync(t, r, drv)
	feed(t, r, drv, 0.01) // below the gate
	feed(t, r, drv, 0.3)
	cancel()
	if err := result(t, errc); err != nil {
		t.Fatal(err)
	}
	if err := rec.StopRecording(); err != nil {
		t.Fatal(err)
	}

	if rec.Frames() != 2 {
		t.Errorf("recorded %d frames, want 2", rec.Frames())
	}
	if sp.Frames() != 1 {
		t.Errorf("spectrum saw %d frames, want 1 (gate closed on the quiet one)", sp.Frames())
	}

	var spectra, statuses int
	var last transport.StatusEvent
	for _, ev := range mt.Events() {
		switch e := ev.(type) {
		case transport.SpectrumEvent:
			spectra++
		case transport.StatusEvent:
			statuses++
			last = e
		}
	}
	if spectra != 1 {
		t.Errorf("spectrum events = %d, want 1", spectra)
	}
	if statuses == 0 || last.State != capture.StateStopped.String() || last.Delivered != 2 {
		t.Errorf("final status = %+v (%d events)", last, statuses)
	}
}
