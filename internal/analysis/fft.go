// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strings"
	"sync"

	"pvrec/internal/log"
	"pvrec/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc defines the type for selecting an FFT window function.
type WindowFunc int

// Enum for available window functions.
const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

var (
	ErrFFTSize     = errors.New("analysis: fft size must be a power of 2")
	ErrSampleRate  = errors.New("analysis: sample rate must be positive")
	ErrDestination = errors.New("analysis: destination length does not match bin count")
)

// Pre-allocated buffers for FFT calculations.
type fftWorkspace struct {
	input     []float64    // Windowed input signal.
	fftOutput []complex128 // FFT complex results.
	magnitude []float64    // Calculated magnitudes.
	window    []float64    // Pre-calculated window coefficients.
	mu        sync.RWMutex // Protects magnitude against concurrent readers.
}

// SpectrumProcessor computes the magnitude spectrum of 16-bit frames. Frames
// shorter than the FFT size are zero-padded; longer frames are truncated.
type SpectrumProcessor struct {
	fftCalculator *fourier.FFT
	fftSize       int
	sampleRate    float64
	windowType    WindowFunc
	frames        uint64
	workspace     fftWorkspace
}

var (
	_ FrameProcessor   = (*SpectrumProcessor)(nil)
	_ SpectrumProvider = (*SpectrumProcessor)(nil)
)

// NewSpectrumProcessor validates the FFT size and pre-computes the window.
func NewSpectrumProcessor(fftSize int, sampleRate float64, windowType WindowFunc) (*SpectrumProcessor, error) {
	if !bitint.IsPowerOfTwo(fftSize) {
		return nil, fmt.Errorf("%w, got %d", ErrFFTSize, fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w, got %f", ErrSampleRate, sampleRate)
	}

	windowCoeffs := make([]float64, fftSize)
	applyWindow(windowCoeffs, windowType)

	// FFT output size for real input is N/2 + 1 complex values.
	magnitudeSize := fftSize/2 + 1

	log.Debugf("analysis: spectrum processor (size %d, %.0f Hz, window %s)", fftSize, sampleRate, windowType)

	return &SpectrumProcessor{
		fftCalculator: fourier.NewFFT(fftSize),
		fftSize:       fftSize,
		sampleRate:    sampleRate,
		windowType:    windowType,
		workspace: fftWorkspace{
			input:     make([]float64, fftSize),
			fftOutput: make([]complex128, magnitudeSize),
			magnitude: make([]float64, magnitudeSize),
			window:    windowCoeffs,
		},
	}, nil
}

// NewSpectrumForFrame sizes the FFT to the next power of two of frameLength.
func NewSpectrumForFrame(frameLength int, sampleRate float64, windowType WindowFunc) (*SpectrumProcessor, error) {
	return NewSpectrumProcessor(bitint.NextPowerOfTwo(frameLength), sampleRate, windowType)
}

// Process windows the frame, runs the FFT and stores normalised magnitudes.
func (p *SpectrumProcessor) Process(frame []int16) {
	p.workspace.mu.Lock()
	defer p.workspace.mu.Unlock()

	const normFactor = 1.0 / float64(-math.MinInt16)
	for i := range p.fftSize {
		if i < len(frame) {
			p.workspace.input[i] = float64(frame[i]) * normFactor * p.workspace.window[i]
		} else {
			p.workspace.input[i] = 0
		}
	}

	p.fftCalculator.Coefficients(p.workspace.fftOutput, p.workspace.input)

	// Scale so a full-scale sine at a bin center reads about 1.0 with a
	// rectangular window.
	scale := 2.0 / float64(p.fftSize)
	for i, c := range p.workspace.fftOutput {
		p.workspace.magnitude[i] = cmplx.Abs(c) * scale
	}
	p.frames++
}

// Frames returns the number of frames processed.
func (p *SpectrumProcessor) Frames() uint64 {
	p.workspace.mu.RLock()
	defer p.workspace.mu.RUnlock()
	return p.frames
}

// GetMagnitudes returns a copy of the latest magnitudes. It allocates; use
// GetMagnitudesInto on hot paths.
func (p *SpectrumProcessor) GetMagnitudes() []float64 {
	p.workspace.mu.RLock()
	defer p.workspace.mu.RUnlock()

	magCopy := make([]float64, len(p.workspace.magnitude))
	copy(magCopy, p.workspace.magnitude)
	return magCopy
}

// GetMagnitudesInto copies the latest magnitudes into dest, which must hold
// exactly fftSize/2 + 1 values.
func (p *SpectrumProcessor) GetMagnitudesInto(dest []float64) error {
	p.workspace.mu.RLock()
	defer p.workspace.mu.RUnlock()

	if len(dest) != len(p.workspace.magnitude) {
		return fmt.Errorf("%w: got %d, want %d", ErrDestination, len(dest), len(p.workspace.magnitude))
	}

	copy(dest, p.workspace.magnitude)
	return nil
}

// GetFrequencyForBin returns the center frequency (Hz) of binIndex, or 0 when
// it is out of range. Size and rate are immutable, so no lock is taken.
func (p *SpectrumProcessor) GetFrequencyForBin(binIndex int) float64 {
	if binIndex < 0 || binIndex >= len(p.workspace.fftOutput) {
		return 0.0
	}
	return float64(binIndex) * (p.sampleRate / float64(p.fftSize))
}

func (p *SpectrumProcessor) GetFFTSize() int {
	return p.fftSize
}

func (p *SpectrumProcessor) GetSampleRate() float64 {
	return p.sampleRate
}

func (w WindowFunc) String() string {
	switch w {
	case BartlettHann:
		return "bartletthann"
	case Blackman:
		return "blackman"
	case BlackmanNuttall:
		return "blackmannuttall"
	case Hann:
		return "hann"
	case Hamming:
		return "hamming"
	case Lanczos:
		return "lanczos"
	case Nuttall:
		return "nuttall"
	default:
		return fmt.Sprintf("WindowFunc(%d)", int(w))
	}
}

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc
// enum, returns a known default (Hann) and an error if the name is unknown.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(name) {
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Hann, fmt.Errorf("unknown FFT window function name: '%s'", name)
	}
}

// applyWindow fills coeffs with the selected window, Hann if unknown.
func applyWindow(coeffs []float64, windowType WindowFunc) {
	// gonum windows scale the slice in place.
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch windowType {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		log.Warnf("analysis: unknown window function type %d, defaulting to Hann", windowType)
		window.Hann(coeffs)
	}
}
