// SPDX-License-Identifier: MIT

// Package capturetest provides a hand-cranked capture driver for tests.
package capturetest

import (
	"errors"
	"sync"

	"pvrec/internal/capture"
)

// ErrNotStreaming is returned by Manual methods that need a started driver.
var ErrNotStreaming = errors.New("capturetest: driver not streaming")

// Manual is a capture.Driver whose transfers are issued explicitly by the
// test. Deliveries are dropped while the driver is paused or stopped, the
// same as hardware that has been halted.
type Manual struct {
	mu      sync.Mutex
	sink    capture.Sink
	running bool
	paused  bool

	// Errors returned by the next corresponding lifecycle call.
	StartErr, PauseErr, ResumeErr, StopErr error

	Starts, Pauses, Resumes, Stops int
}

var _ capture.Driver = (*Manual)(nil)

func (m *Manual) Start(sink capture.Sink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Starts++
	if err := m.StartErr; err != nil {
		m.StartErr = nil
		return err
	}
	m.sink, m.running, m.paused = sink, true, false
	return nil
}

func (m *Manual) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pauses++
	if err := m.PauseErr; err != nil {
		m.PauseErr = nil
		return err
	}
	m.paused = true
	return nil
}

func (m *Manual) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resumes++
	if err := m.ResumeErr; err != nil {
		m.ResumeErr = nil
		return err
	}
	m.paused = false
	return nil
}

func (m *Manual) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stops++
	m.running, m.paused, m.sink = false, false, nil
	if err := m.StopErr; err != nil {
		m.StopErr = nil
		return err
	}
	return nil
}

// Streaming reports whether transfers would currently reach the sink.
func (m *Manual) Streaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running && !m.paused
}

// PCM delivers one interleaved PCM transfer. It returns false if the driver
// is not streaming.
func (m *Manual) PCM(samples []int16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.paused {
		return false
	}
	m.sink.OnPCM(samples)
	return true
}

// PDM delivers one PDM transfer.
func (m *Manual) PDM(bits []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.paused {
		return false
	}
	m.sink.OnPDM(bits)
	return true
}

// Fail reports a transfer error. Errors are reported while paused too, the
// way a DMA controller can flag a fault on a suspended channel.
func (m *Manual) Fail(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return ErrNotStreaming
	}
	m.sink.OnTransferError(err)
	return nil
}

// Sink returns the sink passed to the last successful Start, or nil.
func (m *Manual) Sink() capture.Sink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sink
}
