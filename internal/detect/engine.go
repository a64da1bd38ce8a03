// SPDX-License-Identifier: MIT

// Package detect defines the contract between the frame consumer and a
// keyword detection engine.
package detect

import (
	"errors"
	"fmt"
)

// NoKeyword is returned by Engine.Process when nothing was detected.
const NoKeyword = -1

// ErrFrameLength is returned when a frame does not hold exactly
// Engine.FrameLength samples.
var ErrFrameLength = errors.New("detect: frame length mismatch")

// Engine consumes fixed-length mono frames at a fixed sample rate.
type Engine interface {
	// FrameLength is the number of samples Process expects per call.
	FrameLength() int
	// SampleRate is the rate the engine was built for, in Hz.
	SampleRate() int
	// Keywords lists the names of the detectable keywords by index.
	Keywords() []string
	// Process returns the index of a detected keyword, or NoKeyword.
	Process(frame []int16) (int, error)
	// Close releases engine resources.
	Close() error
}

// KeywordName returns the printable name of index for e.
func KeywordName(e Engine, index int) string {
	names := e.Keywords()
	if index >= 0 && index < len(names) {
		return names[index]
	}
	if index == NoKeyword {
		return "none"
	}
	return fmt.Sprintf("keyword-%d", index)
}

func checkFrame(e Engine, frame []int16) error {
	if len(frame) != e.FrameLength() {
		return fmt.Errorf("%w: got %d samples, want %d", ErrFrameLength, len(frame), e.FrameLength())
	}
	return nil
}
