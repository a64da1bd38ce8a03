// SPDX-License-Identifier: MIT
/*
Package audio provides the capture drivers and consumer-side audio helpers:
- PortAudio capture driver feeding a capture.Sink from the host callback
- File replay driver for WAV, MP3, Ogg Vorbis and raw PDM recordings
- Noise gate with branchless peak detection
- WAV recording of delivered frames with atomic state management

Thread Safety:
- Driver callbacks use pre-allocated buffers only
- Pause and Stop return only after the callback has finished
- Locks OS thread during audio processing
*/
package audio

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"pvrec/internal/capture"
	"pvrec/internal/log"

	"github.com/gordonklaus/portaudio"
)

// ErrStreamStalled is reported to the sink when the host stops delivering
// callbacks while the stream should be running.
var ErrStreamStalled = errors.New("audio: input stream stalled")

// stream is the part of *portaudio.Stream the driver uses.
type stream interface {
	Start() error
	Stop() error
	Close() error
}

// paOpenStream opens the host input stream, replaced in tests.
var paOpenStream = func(p portaudio.StreamParameters, callback any) (stream, error) {
	st, err := portaudio.OpenStream(p, callback)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// PortAudioConfig selects the device and stream shape.
type PortAudioConfig struct {
	DeviceID        int
	SampleRate      float64
	Channels        int
	FramesPerBuffer int
	LowLatency      bool

	// StallTimeout is how long the callback may stay silent before the
	// session is faulted. Zero disables the watchdog.
	StallTimeout time.Duration
}

// PortAudioDriver implements capture.Driver on a PortAudio input stream.
type PortAudioDriver struct {
	cfg          PortAudioConfig
	inputDevice  *portaudio.DeviceInfo
	inputLatency time.Duration
	inputStream  stream
	running      bool // inputStream is started

	sink capture.Sink

	epoch        time.Time
	lastCallback atomic.Int64 // nanoseconds since epoch
	streaming    atomic.Bool
	overflows    atomic.Uint64

	watchdogQuit chan struct{}
	watchdogWG   sync.WaitGroup
}

var _ capture.Driver = (*PortAudioDriver)(nil)

// NewPortAudioDriver resolves the input device. PortAudio must be initialised.
func NewPortAudioDriver(cfg PortAudioConfig) (*PortAudioDriver, error) {
	inputDevice, err := InputDevice(cfg.DeviceID)
	if err != nil {
		return nil, err
	}

	d := &PortAudioDriver{
		cfg:         cfg,
		inputDevice: inputDevice,
		epoch:       time.Now(),
	}
	if cfg.LowLatency {
		d.inputLatency = inputDevice.DefaultLowInputLatency
	} else {
		d.inputLatency = inputDevice.DefaultHighInputLatency
	}
	return d, nil
}

// DeviceName returns the name of the resolved input device.
func (d *PortAudioDriver) DeviceName() string {
	return d.inputDevice.Name
}

// Overflows returns the number of callbacks flagged with input overflow.
func (d *PortAudioDriver) Overflows() uint64 {
	return d.overflows.Load()
}

func (d *PortAudioDriver) Start(sink capture.Sink) error {
	if d.inputStream != nil {
		return fmt.Errorf("audio: stream already open")
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: d.cfg.Channels,
			Device:   d.inputDevice,
			Latency:  d.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: d.cfg.FramesPerBuffer,
		SampleRate:      d.cfg.SampleRate,
	}

	d.sink = sink
	st, err := paOpenStream(params, d.processInputStream)
	if err != nil {
		return err
	}
	d.inputStream = st

	if err := d.resume(); err != nil {
		d.inputStream.Close()
		d.inputStream = nil
		return err
	}

	if d.cfg.StallTimeout > 0 {
		d.watchdogQuit = make(chan struct{})
		d.watchdogWG.Add(1)
		go d.watchdog(d.watchdogQuit)
	}
	log.Infof("audio: capturing from %q at %.0f Hz, %d channel(s), latency %v",
		d.inputDevice.Name, d.cfg.SampleRate, d.cfg.Channels, d.inputLatency)
	return nil
}

// Pause stops the stream. Pa_StopStream returns after the last callback.
func (d *PortAudioDriver) Pause() error {
	if d.inputStream == nil {
		return fmt.Errorf("audio: stream not open")
	}
	d.streaming.Store(false)
	if !d.running {
		return nil
	}
	if err := d.inputStream.Stop(); err != nil {
		return err
	}
	d.running = false
	return nil
}

func (d *PortAudioDriver) Resume() error {
	if d.inputStream == nil {
		return fmt.Errorf("audio: stream not open")
	}
	return d.resume()
}

func (d *PortAudioDriver) resume() error {
	d.markCallback()
	if !d.running {
		if err := d.inputStream.Start(); err != nil {
			return err
		}
		d.running = true
	}
	d.streaming.Store(true)
	return nil
}

func (d *PortAudioDriver) Stop() error {
	if d.watchdogQuit != nil {
		close(d.watchdogQuit)
		d.watchdogWG.Wait()
		d.watchdogQuit = nil
	}
	if d.inputStream == nil {
		return nil
	}
	d.streaming.Store(false)

	// A paused stream is already stopped; stopping it again is an error.
	var stopErr error
	if d.running {
		stopErr = d.inputStream.Stop()
		d.running = false
	}
	closeErr := d.inputStream.Close()
	d.inputStream = nil
	return errors.Join(stopErr, closeErr)
}

// processInputStream is the host audio callback.
// Performance Critical:
// - Uses pre-allocated buffers only
// - No dynamic allocations in the hot path
func (d *PortAudioDriver) processInputStream(in []int16, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	d.markCallback()
	if flags&portaudio.InputOverflow != 0 {
		d.overflows.Add(1)
	}
	d.sink.OnPCM(in)
}

func (d *PortAudioDriver) markCallback() {
	d.lastCallback.Store(int64(time.Since(d.epoch)))
}

// watchdog faults the session once if callbacks stop while streaming.
func (d *PortAudioDriver) watchdog(quit <-chan struct{}) {
	defer d.watchdogWG.Done()

	ticker := time.NewTicker(d.cfg.StallTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			if !d.streaming.Load() {
				continue
			}
			silent := time.Since(d.epoch) - time.Duration(d.lastCallback.Load())
			if silent > d.cfg.StallTimeout {
				log.Errorf("audio: no input callback for %v", silent)
				d.sink.OnTransferError(fmt.Errorf("%w: no callback for %v", ErrStreamStalled, silent))
				return
			}
		}
	}
}
