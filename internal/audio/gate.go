// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"sync/atomic"
)

// Gate is a peak noise gate over 16-bit frames. Settings may be changed from
// any goroutine while Open runs on the consumer.
type Gate struct {
	gateEnabled   atomic.Bool
	gateThreshold atomic.Int32 // Absolute amplitude threshold (0-32767)
}

// NewGate returns an enabled gate with the given 0.0-1.0 threshold.
func NewGate(threshold float64) *Gate {
	g := &Gate{}
	g.gateEnabled.Store(true)
	g.SetGateThreshold(threshold)
	return g
}

func (g *Gate) EnableGate() {
	g.gateEnabled.Store(true)
}

func (g *Gate) DisableGate() {
	g.gateEnabled.Store(false)
}

// Enabled reports whether the gate filters frames.
func (g *Gate) Enabled() bool {
	return g.gateEnabled.Load()
}

// SetGateThreshold adjusts the noise gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (g *Gate) SetGateThreshold(threshold float64) {
	if threshold < 0.0 {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}

	g.gateThreshold.Store(int32(threshold * float64(math.MaxInt16)))
}

// GetGateThreshold returns the current noise gate threshold as a float64.
func (g *Gate) GetGateThreshold() float64 {
	return float64(g.gateThreshold.Load()) / float64(math.MaxInt16)
}

// Open reports whether the frame's peak exceeds the threshold. A disabled gate
// is always open.
func (g *Gate) Open(samples []int16) bool {
	if !g.gateEnabled.Load() {
		return true
	}
	return PeakAmplitude(samples) > g.gateThreshold.Load()
}

// PeakAmplitude returns the largest absolute sample value without branching.
func PeakAmplitude(samples []int16) int32 {
	var maxAmplitude int32
	for _, s := range samples {
		sample := int32(s)
		mask := sample >> 31
		amplitude := (sample ^ mask) - mask
		diff := amplitude - maxAmplitude
		maxAmplitude += (diff & (diff >> 31)) ^ diff
	}
	return maxAmplitude
}
