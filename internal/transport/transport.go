// SPDX-License-Identifier: MIT

// Package transport publishes detection, spectrum and status events to
// observers outside the process.
package transport

import (
	"errors"
	"time"
)

// Transport defines a generic interface for sending processed data or events.
// Implementations must be safe for concurrent use and must not block the
// caller for long; the poll loop calls Send between frames.
type Transport interface {
	Send(data any) error
	Close() error
}

// Event type tags carried in every event's Type field.
const (
	EventDetection = "detection"
	EventSpectrum  = "spectrum"
	EventStatus    = "status"
)

// DetectionEvent reports a keyword detected in frame Seq.
type DetectionEvent struct {
	Type    string    `json:"type"`
	Seq     uint64    `json:"seq"`
	Keyword string    `json:"keyword"`
	Index   int       `json:"index"`
	Time    time.Time `json:"time"`
}

// SpectrumEvent carries per-band levels in [0, 1] for frame Seq.
type SpectrumEvent struct {
	Type  string             `json:"type"`
	Seq   uint64             `json:"seq"`
	Bands map[string]float64 `json:"bands"`
}

// StatusEvent is a periodic snapshot of the capture session.
type StatusEvent struct {
	Type      string `json:"type"`
	State     string `json:"state"`
	Delivered uint64 `json:"delivered"`
	Overruns  uint64 `json:"overruns"`
	Faulted   bool   `json:"faulted"`
	Error     string `json:"error,omitempty"`
}

// Multi fans every event out to all transports. Send returns the joined
// errors; one failing transport does not stop the others.
type Multi []Transport

func (m Multi) Send(data any) error {
	var errs []error
	for _, t := range m {
		if err := t.Send(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, t := range m {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Transport = Multi(nil)
