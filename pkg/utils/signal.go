// SPDX-License-Identifier: MIT

// Package utils holds test signal generators and doubles shared by package
// tests.
package utils

import "math"

// GenerateSineWave returns size samples of a sine at frequency Hz with peak
// amplitude given as a fraction of full scale.
func GenerateSineWave(frequency, sampleRate float64, size int, amplitude float64) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = int16(math.Sin(2*math.Pi*frequency*t) * amplitude * math.MaxInt16)
	}
	return buffer
}

// GenerateComplexWave returns a 440 Hz fundamental with two harmonics at 90%
// of full scale.
func GenerateComplexWave(size int, sampleRate float64) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = int16(signal * math.MaxInt16 * 0.9)
	}
	return buffer
}

// Interleave merges equal-length mono channels into one interleaved buffer.
func Interleave(channels ...[]int16) []int16 {
	if len(channels) == 0 {
		return nil
	}
	n := len(channels[0])
	out := make([]int16, n*len(channels))
	for i := 0; i < n; i++ {
		for ch, samples := range channels {
			out[i*len(channels)+ch] = samples[i]
		}
	}
	return out
}

// EncodePDM converts PCM to a mono PDM bitstream with a first-order
// sigma-delta modulator, holding each sample for decimation bits. Bits are
// packed LSB first. decimation must be a multiple of 8.
func EncodePDM(pcm []int16, decimation int) []byte {
	out := make([]byte, len(pcm)*decimation/8)
	var integrator float64
	bit := 0
	for _, s := range pcm {
		x := float64(s) / math.MaxInt16
		for k := 0; k < decimation; k++ {
			y := -1.0
			if integrator >= 0 {
				y = 1.0
				out[bit/8] |= 1 << (bit % 8)
			}
			integrator += x - y
			bit++
		}
	}
	return out
}

// FindPeakBin returns the index of the largest magnitude in [startBin, endBin].
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
