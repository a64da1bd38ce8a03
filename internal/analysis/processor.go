// SPDX-License-Identifier: MIT

// Package analysis computes spectrum telemetry from delivered frames. It runs
// on the consumer side, after the frame has been handed to the detector.
package analysis

// FrameProcessor analyzes one delivered frame.
type FrameProcessor interface {
	Process(frame []int16)
}

// SpectrumProvider exposes the latest magnitude spectrum. It decouples band
// and telemetry consumers from the concrete FFT implementation.
type SpectrumProvider interface {
	GetMagnitudesInto(dest []float64) error  // copies the latest magnitudes without allocating
	GetFrequencyForBin(binIndex int) float64 // center frequency (Hz) of a bin
	GetFFTSize() int                         // number of FFT points
	GetSampleRate() float64                  // sample rate of the analysed frames
}

// BinCount is the number of magnitude bins a provider produces.
func BinCount(p SpectrumProvider) int {
	return p.GetFFTSize()/2 + 1
}
