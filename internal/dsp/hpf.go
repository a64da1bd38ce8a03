// SPDX-License-Identifier: MIT
/*
Package dsp holds the sample conditioning applied between the capture driver
and the frame buffer: the fixed-point DC-removal high-pass filter and the
PDM-to-PCM decimation contract.

Everything on the per-sample path is allocation free and uses integer
arithmetic only, matching what a microcontroller capture path would run.
*/
package dsp

import "math"

// High-pass filter coefficients. The pole sits at HPFNumerator/HPFDenominator
// (0.984375), a light DC-blocking filter.
const (
	HPFNumerator   = 0xFC
	HPFDenominator = 0x100
)

// HPFPole is the pole of the filter as a float, for reference computations.
const HPFPole = float64(HPFNumerator) / float64(HPFDenominator)

// HighPass is a single-pole DC-removal filter for one channel:
//
//	state = (K * (state + x[n] - x[n-1])) / M
//	y[n]  = clamp_int16(state)
//
// The zero value is a filter at rest.
type HighPass struct {
	state int32 // previous output before clamping
	prev  int16 // previous raw input
}

// Filter runs one sample through the filter. Division truncates toward zero.
func (f *HighPass) Filter(x int16) int16 {
	f.state = (HPFNumerator * (f.state + int32(x) - int32(f.prev))) / HPFDenominator
	f.prev = x
	return ClampInt16(f.state)
}

// State returns the accumulator value after the last sample.
func (f *HighPass) State() int32 {
	return f.state
}

// Reset returns the filter to rest.
func (f *HighPass) Reset() {
	f.state = 0
	f.prev = 0
}

// ClampInt16 saturates v to the int16 range.
func ClampInt16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
