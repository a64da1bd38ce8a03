// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"math"

	"pvrec/internal/log"
	"pvrec/internal/transport"
)

// FrequencyBand defines the name and frequency range for an energy band.
type FrequencyBand struct {
	Name   string
	LowHz  float64
	HighHz float64
}

// DefaultBands covers the speech range. The top band is capped at Nyquist.
var DefaultBands = []FrequencyBand{
	{Name: "low", LowHz: 60, HighHz: 300},
	{Name: "voice", LowHz: 300, HighHz: 1000},
	{Name: "formant", LowHz: 1000, HighHz: 3000},
	{Name: "sibilant", LowHz: 3000, HighHz: math.Inf(1)},
}

// BandEnergyProcessor reduces the latest spectrum to per-band RMS levels and
// sends them as a transport.SpectrumEvent.
type BandEnergyProcessor struct {
	transport transport.Transport
	provider  SpectrumProvider
	bands     []FrequencyBand
	binBand   []int // band index per bin, -1 when outside all bands
	counts    []int
	mags      []float64
	energy    []float64
}

// NewBandEnergyProcessor precomputes the bin to band mapping. A nil bands
// slice selects DefaultBands.
func NewBandEnergyProcessor(t transport.Transport, provider SpectrumProvider, bands []FrequencyBand) (*BandEnergyProcessor, error) {
	if provider == nil {
		return nil, errors.New("analysis: band energy requires a spectrum provider")
	}
	if len(bands) == 0 {
		bands = DefaultBands
	}

	nyquist := provider.GetSampleRate() / 2
	capped := make([]FrequencyBand, len(bands))
	for i, b := range bands {
		capped[i] = b
		if capped[i].HighHz > nyquist {
			capped[i].HighHz = nyquist
		}
	}

	n := BinCount(provider)
	p := &BandEnergyProcessor{
		transport: t,
		provider:  provider,
		bands:     capped,
		binBand:   make([]int, n),
		counts:    make([]int, len(capped)),
		mags:      make([]float64, n),
		energy:    make([]float64, len(capped)),
	}
	for i := range n {
		p.binBand[i] = -1
		freq := provider.GetFrequencyForBin(i)
		for j, b := range capped {
			if freq >= b.LowHz && freq < b.HighHz {
				p.binBand[i] = j
				p.counts[j]++
				break
			}
		}
	}
	log.Debugf("analysis: band energy with %d bands over %d bins", len(capped), n)
	return p, nil
}

// Bands returns the bands after Nyquist capping.
func (p *BandEnergyProcessor) Bands() []FrequencyBand {
	return p.bands
}

// Energies returns the last computed per-band levels. The slice is reused.
func (p *BandEnergyProcessor) Energies() []float64 {
	return p.energy
}

// Compute updates Energies from the provider's latest magnitudes.
func (p *BandEnergyProcessor) Compute() error {
	if err := p.provider.GetMagnitudesInto(p.mags); err != nil {
		return err
	}
	for j := range p.energy {
		p.energy[j] = 0
	}
	for i, m := range p.mags {
		if j := p.binBand[i]; j >= 0 {
			p.energy[j] += m * m
		}
	}
	for j, e := range p.energy {
		if p.counts[j] > 0 {
			p.energy[j] = math.Min(1.0, math.Sqrt(e/float64(p.counts[j])))
		} else {
			p.energy[j] = 0
		}
	}
	return nil
}

// Publish computes the band levels and sends them tagged with seq.
func (p *BandEnergyProcessor) Publish(seq uint64) {
	if p.transport == nil {
		return
	}
	if err := p.Compute(); err != nil {
		log.Errorf("analysis: band energy: %v", err)
		return
	}
	ev := transport.SpectrumEvent{
		Type:  transport.EventSpectrum,
		Seq:   seq,
		Bands: make(map[string]float64, len(p.bands)),
	}
	for j, b := range p.bands {
		ev.Bands[b.Name] = p.energy[j]
	}
	if err := p.transport.Send(ev); err != nil {
		log.Warnf("analysis: sending band energy: %v", err)
	}
}
