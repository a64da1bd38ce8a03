// SPDX-License-Identifier: MIT
package dsp

import (
	"errors"
	"fmt"
	"math"
)

// BitOrder is the order in which PDM bits are packed into each byte.
type BitOrder int

const (
	LSBFirst BitOrder = iota
	MSBFirst
)

// PDMConfig describes one PDM-to-PCM conversion. Input bytes are interleaved
// per channel: byte i carries bits of channel i % InChannels.
type PDMConfig struct {
	Decimation    int      // PDM bits per PCM sample; a multiple of 8.
	OutputSamples int      // PCM samples per channel produced per Process call.
	InChannels    int      // Channels interleaved in the PDM stream.
	OutChannels   int      // Channels written to the PCM output, at most InChannels.
	GainDB        float64  // Output gain applied after normalisation.
	BitOrder      BitOrder // Bit packing within each byte.
	Order         int      // CIC filter order; 0 selects DefaultCICOrder.
}

// DefaultCICOrder is the CIC order used when PDMConfig.Order is zero.
const DefaultCICOrder = 4

var ErrInvalidPDMConfig = errors.New("dsp: invalid PDM configuration")

// Decimator converts chunks of a PDM bitstream to interleaved 16-bit PCM.
// Process must not allocate; it is called from the capture callback.
type Decimator interface {
	// InputBytes is the number of PDM bytes one Process call consumes.
	InputBytes() int
	// OutputLen is the number of int16 values one Process call writes.
	OutputLen() int
	// Process converts pdm into pcm and returns the number of int16 values
	// written. Trailing input that does not fill a PCM sample is ignored.
	Process(pdm []byte, pcm []int16) int
	// Reset clears the filter history.
	Reset()
}

// Validate checks the configuration and fills in defaults.
func (c *PDMConfig) Validate() error {
	if c.Order == 0 {
		c.Order = DefaultCICOrder
	}
	switch {
	case c.Decimation <= 0 || c.Decimation%8 != 0:
		return fmt.Errorf("%w: decimation %d must be a positive multiple of 8", ErrInvalidPDMConfig, c.Decimation)
	case c.OutputSamples <= 0:
		return fmt.Errorf("%w: output samples must be positive, got %d", ErrInvalidPDMConfig, c.OutputSamples)
	case c.InChannels <= 0:
		return fmt.Errorf("%w: input channels must be positive, got %d", ErrInvalidPDMConfig, c.InChannels)
	case c.OutChannels <= 0 || c.OutChannels > c.InChannels:
		return fmt.Errorf("%w: output channels %d must be in [1, %d]", ErrInvalidPDMConfig, c.OutChannels, c.InChannels)
	case c.Order < 1 || c.Order > 6:
		return fmt.Errorf("%w: CIC order %d must be in [1, 6]", ErrInvalidPDMConfig, c.Order)
	case c.BitOrder != LSBFirst && c.BitOrder != MSBFirst:
		return fmt.Errorf("%w: unknown bit order %d", ErrInvalidPDMConfig, c.BitOrder)
	}
	if math.Pow(float64(c.Decimation), float64(c.Order)) >= math.MaxInt32 {
		return fmt.Errorf("%w: decimation^order overflows the 32-bit accumulator", ErrInvalidPDMConfig)
	}
	return nil
}

// cicState is the integrator and comb history of one channel.
type cicState struct {
	integ []int32
	comb  []int32
}

// CICDecimator is a cascaded integrator-comb (sinc^N) decimator. Accumulators
// rely on two's complement wraparound, which Go integer arithmetic guarantees.
type CICDecimator struct {
	cfg          PDMConfig
	bytesPerSamp int // bytes per PCM sample per channel
	scale        int64
	channels     []cicState
}

var _ Decimator = (*CICDecimator)(nil)

// NewCICDecimator validates cfg and allocates per-channel filter state.
func NewCICDecimator(cfg PDMConfig) (*CICDecimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Full scale of the filter output is decimation^order. Scale it to int16
	// in Q24 with the requested gain folded in.
	fullScale := math.Pow(float64(cfg.Decimation), float64(cfg.Order))
	gain := math.Pow(10, cfg.GainDB/20)
	scale := int64(math.Round(math.MaxInt16 * gain * (1 << 24) / fullScale))

	d := &CICDecimator{
		cfg:          cfg,
		bytesPerSamp: cfg.Decimation / 8,
		scale:        scale,
		channels:     make([]cicState, cfg.OutChannels),
	}
	for i := range d.channels {
		d.channels[i] = cicState{
			integ: make([]int32, cfg.Order),
			comb:  make([]int32, cfg.Order),
		}
	}
	return d, nil
}

// Config returns the validated configuration.
func (d *CICDecimator) Config() PDMConfig {
	return d.cfg
}

func (d *CICDecimator) InputBytes() int {
	return d.cfg.OutputSamples * d.bytesPerSamp * d.cfg.InChannels
}

func (d *CICDecimator) OutputLen() int {
	return d.cfg.OutputSamples * d.cfg.OutChannels
}

func (d *CICDecimator) Process(pdm []byte, pcm []int16) int {
	in := d.cfg.InChannels
	frameBytes := d.bytesPerSamp * in
	samples := len(pdm) / frameBytes
	if limit := len(pcm) / d.cfg.OutChannels; samples > limit {
		samples = limit
	}

	for n := 0; n < samples; n++ {
		base := n * frameBytes
		for ch := range d.channels {
			st := &d.channels[ch]
			for k := 0; k < d.bytesPerSamp; k++ {
				d.integrate(st, pdm[base+k*in+ch])
			}
			pcm[n*d.cfg.OutChannels+ch] = d.comb(st)
		}
	}
	return samples * d.cfg.OutChannels
}

// integrate feeds the eight bits of b, mapped to +1/-1, through the
// integrator cascade.
func (d *CICDecimator) integrate(st *cicState, b byte) {
	for bit := 0; bit < 8; bit++ {
		var set byte
		if d.cfg.BitOrder == LSBFirst {
			set = (b >> bit) & 1
		} else {
			set = (b >> (7 - bit)) & 1
		}
		x := int32(set)*2 - 1

		st.integ[0] += x
		for i := 1; i < len(st.integ); i++ {
			st.integ[i] += st.integ[i-1]
		}
	}
}

// comb runs the comb cascade at the output rate and scales to int16.
func (d *CICDecimator) comb(st *cicState) int16 {
	y := st.integ[len(st.integ)-1]
	for i := range st.comb {
		prev := st.comb[i]
		st.comb[i] = y
		y -= prev
	}
	v := (int64(y) * d.scale) >> 24
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func (d *CICDecimator) Reset() {
	for ch := range d.channels {
		clear(d.channels[ch].integ)
		clear(d.channels[ch].comb)
	}
}
