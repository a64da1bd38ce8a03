// SPDX-License-Identifier: MIT
/*
Package capture drives an audio capture session: it owns the ping-pong buffer,
the conditioning stage and the lifecycle of the driver that feeds them.

Contexts:
  - The producer side is the Sink implementation (OnPCM, OnPDM,
    OnTransferError), called from the driver's callback. It never blocks,
    allocates or takes a lock.
  - The consumer side is every other method. Lifecycle calls and GetFrame are
    expected from one goroutine; State and Stats may be read from anywhere.

Lifecycle:

	Uninitialized -> Initialized -> Recording <-> Paused -> Stopped -> Initialized
	                                    |            |
	                                    +-> Faulted -+-> Stopped (after Stop)

A faulted session must be stopped and re-initialised before it can record.
*/
package capture

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"pvrec/internal/dsp"
	"pvrec/internal/log"
	"pvrec/internal/pingpong"
)

// Session couples a driver to a ping-pong buffer.
type Session struct {
	cfg    Config
	driver Driver

	// Allocated at Init, released at Close.
	buf     *pingpong.Buffer
	filters *dsp.FilterBank
	decim   dsp.Decimator
	scratch []int16

	state    atomic.Int32
	inflight atomic.Int32

	// faultErr is written once by the producer that wins the transition to
	// Faulted, before faultSet is stored.
	faultErr error
	faultSet atomic.Bool
	faulted  chan struct{}

	transfers atomic.Uint64
	rejected  atomic.Uint64

	// mu serialises lifecycle calls. The producer never takes it.
	mu        sync.Mutex
	needsInit bool
}

var (
	_ Sink    = (*Session)(nil)
	_ Backlog = (*Session)(nil)
)

// New validates cfg, allocates the buffer and returns an Initialized session.
func New(cfg Config, driver Driver) (*Session, error) {
	if driver == nil {
		return nil, fmt.Errorf("%w: nil driver", ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == dsp.ModePDMDecimate && cfg.Decimator == nil {
		// Validate ran on a copy; keep the defaults it filled in.
		_ = cfg.PDM.Validate()
	}

	s := &Session{
		cfg:     cfg,
		driver:  driver,
		faulted: make(chan struct{}, 1),
	}
	if err := s.allocate(); err != nil {
		return nil, err
	}
	s.state.Store(int32(StateInitialized))
	log.Debugf("capture: session initialized (frame=%d, rate=%d, channels=%d, mode=%s)",
		cfg.FrameLength, cfg.SampleRate, cfg.Channels, cfg.Mode)
	return s, nil
}

func (s *Session) allocate() error {
	buf, err := pingpong.New(s.cfg.FrameLength)
	if err != nil {
		if errors.Is(err, pingpong.ErrAllocation) {
			return fmt.Errorf("%w: %w", ErrAllocation, err)
		}
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	s.buf = buf

	switch s.cfg.Mode {
	case dsp.ModeHighPass:
		s.filters = dsp.NewFilterBank(s.cfg.Channels)
	case dsp.ModePDMDecimate:
		dec := s.cfg.Decimator
		if dec == nil {
			if dec, err = dsp.NewCICDecimator(s.cfg.PDM); err != nil {
				return fmt.Errorf("%w: %w", ErrConfiguration, err)
			}
		}
		s.decim = dec
		s.scratch = make([]int16, dec.OutputLen())
	}
	return nil
}

// Config returns the configuration the session was created with.
func (s *Session) Config() Config {
	return s.cfg
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Faulted is signalled once when the producer reports a transfer error.
func (s *Session) Faulted() <-chan struct{} {
	return s.faulted
}

// Err returns the transfer error that faulted the session, wrapped in
// ErrHardwareTransfer, or nil.
func (s *Session) Err() error {
	if !s.faultSet.Load() {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrHardwareTransfer, s.faultErr)
}

// Start begins recording from Initialized or Stopped.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.State()
	if prev != StateInitialized && prev != StateStopped {
		return s.invalid("Start", prev)
	}
	if s.needsInit {
		return fmt.Errorf("%w: Start after a fault requires Init", ErrInvalidState)
	}

	// Recording must be visible before the first callback can arrive.
	s.state.Store(int32(StateRecording))
	if err := s.driver.Start(s); err != nil {
		s.state.Store(int32(prev))
		s.quiesce()
		return fmt.Errorf("capture: driver start: %w", err)
	}
	log.Debugf("capture: recording")
	return nil
}

// Pause suspends the driver. Buffer and filter state are retained.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CompareAndSwap(int32(StateRecording), int32(StatePaused)) {
		return s.invalid("Pause", s.State())
	}
	if err := s.driver.Pause(); err != nil {
		s.state.CompareAndSwap(int32(StatePaused), int32(StateRecording))
		return fmt.Errorf("capture: driver pause: %w", err)
	}
	log.Debugf("capture: paused")
	return nil
}

// Resume continues recording after Pause.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CompareAndSwap(int32(StatePaused), int32(StateRecording)) {
		return s.invalid("Resume", s.State())
	}
	if err := s.driver.Resume(); err != nil {
		s.state.CompareAndSwap(int32(StateRecording), int32(StatePaused))
		return fmt.Errorf("capture: driver resume: %w", err)
	}
	log.Debugf("capture: resumed")
	return nil
}

// Stop halts the driver, waits for any producer call in flight and resets the
// buffer and filters. It is allowed from Initialized, Recording, Paused and
// Faulted. Once Stop returns no producer call can touch the buffer.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.State()
	switch prev {
	case StateInitialized, StateRecording, StatePaused, StateFaulted:
	default:
		return s.invalid("Stop", prev)
	}

	s.state.Store(int32(StateStopped))
	var err error
	if prev != StateInitialized {
		if err = s.driver.Stop(); err != nil {
			err = fmt.Errorf("capture: driver stop: %w", err)
		}
	}
	s.quiesce()
	s.reset()
	if prev == StateFaulted {
		s.needsInit = true
	}
	log.Debugf("capture: stopped (from %s)", prev)
	return err
}

// Init returns a Stopped or Uninitialized session to Initialized, allocating
// buffers if Close released them and clearing any recorded fault.
func (s *Session) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch prev := s.State(); prev {
	case StateUninitialized:
		if err := s.allocate(); err != nil {
			return err
		}
	case StateStopped:
		s.reset()
	default:
		return s.invalid("Init", prev)
	}

	s.faultErr = nil
	s.faultSet.Store(false)
	select {
	case <-s.faulted:
	default:
	}
	s.needsInit = false
	s.state.Store(int32(StateInitialized))
	return nil
}

// Close stops the session if needed and releases its buffers. The session
// returns to Uninitialized and can be revived with Init.
func (s *Session) Close() error {
	var err error
	if st := s.State(); st != StateStopped && st != StateUninitialized {
		err = s.Stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == StateUninitialized {
		return err
	}
	s.buf, s.filters, s.decim, s.scratch = nil, nil, nil, nil
	if s.cfg.Mode == dsp.ModePDMDecimate && s.cfg.Decimator != nil {
		// A caller-supplied decimator is reused on the next Init.
		s.cfg.Decimator.Reset()
	}
	s.state.Store(int32(StateUninitialized))
	return err
}

// GetFrame returns the newest complete frame if one is ready and unread. It
// reports false outside Recording and Paused.
func (s *Session) GetFrame() (pingpong.Frame, bool) {
	if !s.State().Active() {
		return pingpong.Frame{}, false
	}
	return s.buf.GetFrame()
}

// FramePending reports whether a completed frame has not been read by GetFrame
// yet. Drivers may call it from their producer goroutine.
func (s *Session) FramePending() bool {
	return s.State().Active() && s.buf.Pending()
}

// quiesce waits until no producer call is between its state check and return.
func (s *Session) quiesce() {
	for s.inflight.Load() != 0 {
		runtime.Gosched()
	}
}

func (s *Session) reset() {
	if s.buf != nil {
		s.buf.Reset()
	}
	if s.filters != nil {
		s.filters.Reset()
	}
	if s.decim != nil {
		s.decim.Reset()
	}
}

func (s *Session) invalid(op string, st State) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidState, op, st)
}
