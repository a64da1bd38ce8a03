// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pvrec/internal/analysis"
	"pvrec/internal/app"
	"pvrec/internal/audio"
	"pvrec/internal/capture"
	"pvrec/internal/config"
	"pvrec/internal/detect"
	"pvrec/internal/dsp"
	"pvrec/internal/log"
	"pvrec/internal/observe"
	"pvrec/internal/transport"
	"pvrec/internal/transport/udp"
	"pvrec/internal/tui"
	"pvrec/pkg/build"
)

var (
	// ErrNoDevice is returned when the device picker is closed without a choice.
	ErrNoDevice = errors.New("no input device selected")
	// ErrRateMismatch is returned when a replayed PCM file does not match the
	// configured sample rate.
	ErrRateMismatch = errors.New("sample rate mismatch")
)

// replayChunkFrames is the file driver transfer size, capped at one frame so a
// fast replay never completes two frames in one transfer.
const replayChunkFrames = 256

func pickDevice() (int, error) {
	d, ok, err := tui.PickDevice()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNoDevice
	}
	return d.ID, nil
}

// openDriver returns the sample source named by cfg.Driver. For the file
// driver a PCM recording must be at the configured sample rate; its channel
// count replaces the configured one. The returned cleanup must be called after
// the session is closed.
func openDriver(cfg *config.Config) (capture.Driver, func(), error) {
	mode, err := dsp.ParseMode(cfg.Capture.Mode)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Driver.Kind {
	case config.DriverFile:
		fd, err := audio.OpenFile(cfg.Driver.File, audio.FileOptions{
			ChunkFrames: min(replayChunkFrames, cfg.Capture.FrameLength),
			Realtime:    cfg.Driver.Realtime,
			Loop:        cfg.Driver.Loop,
			PDMChannels: cfg.Capture.PDM.InChannels,
			PDMRate:     cfg.PDMBitRate(),
		})
		if err != nil {
			return nil, nil, err
		}
		if fd.IsPDM() != (mode == dsp.ModePDMDecimate) {
			return nil, nil, fmt.Errorf("%s does not match capture mode %q", cfg.Driver.File, cfg.Capture.Mode)
		}
		if !fd.IsPDM() {
			if fd.SampleRate() != cfg.Capture.SampleRate {
				return nil, nil, fmt.Errorf("%w: %s is %d Hz, the detector runs at %d Hz",
					ErrRateMismatch, filepath.Base(cfg.Driver.File), fd.SampleRate(), cfg.Capture.SampleRate)
			}
			if fd.Channels() != cfg.Capture.Channels {
				log.Infof("using %s layout: %d channel(s)", filepath.Base(cfg.Driver.File), fd.Channels())
			}
			cfg.Capture.Channels = fd.Channels()
			if cfg.Capture.Channel >= fd.Channels() {
				cfg.Capture.Channel = 0
			}
		}
		return fd, func() {}, nil

	default:
		if mode == dsp.ModePDMDecimate {
			return nil, nil, errors.New("pdm mode needs a .pdm file; PortAudio delivers PCM")
		}
		if err := audio.Initialize(); err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if err := audio.Terminate(); err != nil {
				log.Warnf("%v", err)
			}
		}
		pd, err := audio.NewPortAudioDriver(audio.PortAudioConfig{
			DeviceID:        cfg.Driver.InputDevice,
			SampleRate:      float64(cfg.Capture.SampleRate),
			Channels:        cfg.Capture.Channels,
			FramesPerBuffer: cfg.Driver.FramesPerBuffer,
			LowLatency:      cfg.Driver.LowLatency,
			StallTimeout:    cfg.Driver.StallTimeout,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		log.Infof("capturing from %q", pd.DeviceName())
		return pd, cleanup, nil
	}
}

// run wires the pipeline described by cfg and blocks until ctx is cancelled,
// the input ends or the session faults.
func run(ctx context.Context, cfg *config.Config, withTUI bool) error {
	// ==================== STARTUP PHASE (Cold Path) ====================

	driver, cleanup, err := openDriver(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	sc, err := cfg.SessionConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	session, err := capture.New(sc, driver)
	if err != nil {
		return err
	}
	defer session.Close()

	ec, err := cfg.EnergyConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	engine, err := detect.NewEnergyEngine(ec)
	if err != nil {
		return err
	}
	defer engine.Close()

	opts := app.Options{
		Session:        session,
		Engine:         engine,
		StatusInterval: cfg.Transport.StatusInterval,
	}
	if fd, ok := driver.(*audio.FileDriver); ok {
		opts.Input = fd
	}

	transports := transport.Multi{transport.NewLoggingTransport()}
	if cfg.Transport.WebSocketEnabled {
		ws := transport.NewWebSocketTransport(cfg.Transport.WebSocketAddress)
		go func() {
			if err := ws.ListenAndServe(); err != nil {
				log.Errorf("websocket: %v", err)
			}
		}()
		transports = append(transports, ws)
	}
	defer transports.Close()
	opts.Transport = transports

	if cfg.Analysis.Enabled || cfg.Transport.UDPEnabled {
		window, _ := analysis.ParseWindowFunc(cfg.Analysis.FFTWindow)
		sp, err := analysis.NewSpectrumForFrame(sc.FrameLength, float64(sc.SampleRate), window)
		if err != nil {
			return err
		}
		opts.Spectrum = sp

		if cfg.Analysis.Enabled {
			bands, err := analysis.NewBandEnergyProcessor(transports, sp, analysis.DefaultBands)
			if err != nil {
				return err
			}
			opts.Bands = bands
		}
		if cfg.Analysis.GateEnabled {
			gate := audio.NewGate(cfg.Analysis.GateThreshold)
			gate.EnableGate()
			opts.Gate = gate
		}

		if cfg.Transport.UDPEnabled {
			sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
			if err != nil {
				return err
			}
			defer sender.Close()
			publisher, err := udp.NewUDPPublisher(cfg.Transport.UDPSendInterval, sender, sp)
			if err != nil {
				return err
			}
			publisher.Start()
			defer publisher.Close()
		}
	}

	if cfg.Recording.Enabled {
		rec := audio.NewRecorder(sc.SampleRate, sc.FrameLength)
		name := filepath.Join(cfg.Recording.OutputDir, fmt.Sprintf("recording-%s.wav", time.Now().Format("20060102-150405")))
		if dir := cfg.Recording.OutputDir; dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		if err := rec.StartRecording(name); err != nil {
			return err
		}
		defer func() {
			if err := rec.StopRecording(); err != nil {
				log.Errorf("stopping recording: %v", err)
				return
			}
			log.Infof("recording saved to %s (%d frames)", name, rec.Frames())
		}()
		opts.Recorder = rec
	}

	if cfg.Telemetry.MetricsEnabled {
		provider, err := observe.InitProvider(observe.ProviderConfig{
			ServiceVersion: build.Current().Version,
			SetGlobal:      true,
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = provider.Shutdown(shutdownCtx)
		}()

		metrics, err := observe.NewMetrics(provider.MeterProvider)
		if err != nil {
			return err
		}
		if err := metrics.ObserveSession(session); err != nil {
			return err
		}
		defer metrics.Unobserve()
		opts.Metrics = metrics

		serveCtx, stopServing := context.WithCancel(ctx)
		defer stopServing()
		go func() {
			if err := provider.Serve(serveCtx, cfg.Telemetry.MetricsAddress); err != nil {
				log.Errorf("metrics: %v", err)
			}
		}()
	}

	runner, err := app.NewRunner(opts)
	if err != nil {
		return err
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	if !withTUI {
		return runner.Run(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ui := tui.NewStatusUI("pvrec "+build.Current().Version, runner)
	errc := make(chan error, 1)
	go func() {
		err := runner.Run(ctx)
		ui.Done(err)
		errc <- err
	}()
	uiErr := ui.Run()

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	cancel()
	if err := <-errc; err != nil {
		return err
	}
	return uiErr
}
