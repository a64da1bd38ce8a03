// SPDX-License-Identifier: MIT
package dsp

import (
	"fmt"
	"strings"
)

// Mode selects the conditioning applied to raw samples before buffering.
type Mode int

const (
	ModeNone Mode = iota
	ModeHighPass
	ModePDMDecimate
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeHighPass:
		return "hpf"
	case ModePDMDecimate:
		return "pdm"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a configuration name (case-insensitive) to a Mode.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "passthrough":
		return ModeNone, nil
	case "hpf", "highpass", "high_pass", "dc":
		return ModeHighPass, nil
	case "pdm", "pdm_decimate", "decimate":
		return ModePDMDecimate, nil
	default:
		return ModeNone, fmt.Errorf("unknown conditioning mode: '%s'", name)
	}
}

// FilterBank holds one high-pass filter per channel.
type FilterBank struct {
	filters []HighPass
}

// NewFilterBank allocates filters for the given number of channels.
func NewFilterBank(channels int) *FilterBank {
	return &FilterBank{filters: make([]HighPass, channels)}
}

// Filter runs x through the filter of channel ch.
func (fb *FilterBank) Filter(ch int, x int16) int16 {
	return fb.filters[ch].Filter(x)
}

// Channel returns the filter for channel ch.
func (fb *FilterBank) Channel(ch int) *HighPass {
	return &fb.filters[ch]
}

// Reset returns every filter to rest.
func (fb *FilterBank) Reset() {
	for i := range fb.filters {
		fb.filters[i].Reset()
	}
}
