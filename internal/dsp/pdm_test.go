// SPDX-License-Identifier: MIT
package dsp

import (
	"errors"
	"math"
	"testing"
)

func monoPDM() PDMConfig {
	return PDMConfig{
		Decimation:    64,
		OutputSamples: 16,
		InChannels:    1,
		OutChannels:   1,
		BitOrder:      LSBFirst,
	}
}

func newTestDecimator(t *testing.T, cfg PDMConfig) *CICDecimator {
	t.Helper()
	d, err := NewCICDecimator(cfg)
	if err != nil {
		t.Fatalf("NewCICDecimator: %v", err)
	}
	return d
}

func filled(n int, b byte) []byte {
	s := make([]byte, n)
	for i := range s {
		s[i] = b
	}
	return s
}

// run feeds blocks PDM chunks of a constant byte and returns the last output.
func run(d *CICDecimator, b byte, blocks int) []int16 {
	pdm := filled(d.InputBytes(), b)
	pcm := make([]int16, d.OutputLen())
	for i := 0; i < blocks; i++ {
		d.Process(pdm, pcm)
	}
	return pcm
}

func TestPDMConfigValidate(t *testing.T) {
	tests := []struct {
		desc   string
		mutate func(*PDMConfig)
		valid  bool
	}{
		{"Default mono", func(c *PDMConfig) {}, true},
		{"Decimation not multiple of 8", func(c *PDMConfig) { c.Decimation = 60 }, false},
		{"Zero decimation", func(c *PDMConfig) { c.Decimation = 0 }, false},
		{"Zero output samples", func(c *PDMConfig) { c.OutputSamples = 0 }, false},
		{"More outputs than inputs", func(c *PDMConfig) { c.OutChannels = 2 }, false},
		{"No input channels", func(c *PDMConfig) { c.InChannels = 0 }, false},
		{"Order too high", func(c *PDMConfig) { c.Order = 7 }, false},
		{"Accumulator overflow", func(c *PDMConfig) { c.Decimation = 256; c.Order = 4 }, false},
		{"Unknown bit order", func(c *PDMConfig) { c.BitOrder = 5 }, false},
		{"Stereo in, mono out", func(c *PDMConfig) { c.InChannels = 2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			cfg := monoPDM()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidPDMConfig) {
				t.Errorf("expected ErrInvalidPDMConfig, got %v", err)
			}
		})
	}
}

func TestCICDefaultsOrder(t *testing.T) {
	d := newTestDecimator(t, monoPDM())
	if d.Config().Order != DefaultCICOrder {
		t.Errorf("Order: got %d, want %d", d.Config().Order, DefaultCICOrder)
	}
	if d.InputBytes() != 16*8 {
		t.Errorf("InputBytes: got %d, want %d", d.InputBytes(), 16*8)
	}
}

func TestCICFullScaleDensity(t *testing.T) {
	d := newTestDecimator(t, monoPDM())

	high := run(d, 0xFF, 4)
	for i, v := range high {
		if v < math.MaxInt16-1 {
			t.Fatalf("all-ones density sample %d: got %d, want ~%d", i, v, math.MaxInt16)
		}
	}

	d.Reset()
	low := run(d, 0x00, 4)
	for i, v := range low {
		if v > -(math.MaxInt16 - 1) {
			t.Fatalf("all-zeros density sample %d: got %d, want ~%d", i, v, -math.MaxInt16)
		}
	}
}

func TestCICHalfDensityIsSilence(t *testing.T) {
	d := newTestDecimator(t, monoPDM())
	for i, v := range run(d, 0xAA, 4) {
		if v != 0 {
			t.Fatalf("alternating bits sample %d: got %d, want 0", i, v)
		}
	}
}

func TestCICBitOrder(t *testing.T) {
	lsb := monoPDM()
	msb := monoPDM()
	msb.BitOrder = MSBFirst

	a := run(newTestDecimator(t, lsb), 0x0F, 3)
	b := run(newTestDecimator(t, msb), 0xF0, 3)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d: LSB-first 0x0F gave %d, MSB-first 0xF0 gave %d", i, a[i], b[i])
		}
	}
}

func TestCICSelectsInterleavedChannel(t *testing.T) {
	cfg := monoPDM()
	cfg.InChannels = 2
	cfg.OutChannels = 2
	d := newTestDecimator(t, cfg)

	// Channel 0 carries all ones, channel 1 all zeros.
	pdm := make([]byte, d.InputBytes())
	for i := range pdm {
		if i%2 == 0 {
			pdm[i] = 0xFF
		}
	}
	pcm := make([]int16, d.OutputLen())
	for i := 0; i < 4; i++ {
		if n := d.Process(pdm, pcm); n != len(pcm) {
			t.Fatalf("Process wrote %d values, want %d", n, len(pcm))
		}
	}
	for n := 0; n < cfg.OutputSamples; n++ {
		if pcm[2*n] <= 0 || pcm[2*n+1] >= 0 {
			t.Fatalf("sample %d: ch0=%d ch1=%d, want positive/negative", n, pcm[2*n], pcm[2*n+1])
		}
	}
}

func TestCICGain(t *testing.T) {
	cfg := monoPDM()
	cfg.GainDB = -6
	d := newTestDecimator(t, cfg)

	// Three quarters density settles near half of full scale after -6 dB.
	out := run(d, 0x77, 6)
	want := 0.5 * math.Pow(10, -6.0/20) * math.MaxInt16
	if got := float64(out[len(out)-1]); math.Abs(got-want) > 200 {
		t.Errorf("gain: got %.0f, want about %.0f", got, want)
	}
}

func TestCICShortInput(t *testing.T) {
	d := newTestDecimator(t, monoPDM())
	pcm := make([]int16, d.OutputLen())
	if n := d.Process(make([]byte, 7), pcm); n != 0 {
		t.Errorf("Process with less than one sample of input wrote %d values", n)
	}
	if n := d.Process(make([]byte, 24), pcm); n != 3 {
		t.Errorf("Process with three samples of input wrote %d values", n)
	}
}

func TestCICNoAllocsHotPath(t *testing.T) {
	d := newTestDecimator(t, monoPDM())
	pdm := filled(d.InputBytes(), 0x5A)
	pcm := make([]int16, d.OutputLen())

	allocs := testing.AllocsPerRun(100, func() {
		d.Process(pdm, pcm)
	})

	if allocs > 0 {
		t.Errorf("Expected zero allocations in PDM decimation, got %.1f", allocs)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"", ModeNone, true},
		{"none", ModeNone, true},
		{"HPF", ModeHighPass, true},
		{"highpass", ModeHighPass, true},
		{"pdm", ModePDMDecimate, true},
		{"bogus", ModeNone, false},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseMode(%q) = %v, %v", tt.in, got, err)
		}
		if tt.ok && got.String() == "" {
			t.Errorf("Mode %d has empty name", got)
		}
	}
}

func TestFilterBankChannelsIndependent(t *testing.T) {
	fb := NewFilterBank(2)
	fb.Filter(0, 1000)
	if got := fb.Channel(1).State(); got != 0 {
		t.Errorf("channel 1 state touched by channel 0: %d", got)
	}
	if got := fb.Filter(1, 1000); got != 984 {
		t.Errorf("channel 1 first step: got %d, want 984", got)
	}
	fb.Reset()
	if fb.Channel(0).State() != 0 || fb.Channel(1).State() != 0 {
		t.Error("Reset did not clear all channels")
	}
}
