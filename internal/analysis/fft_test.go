// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"math"
	"testing"

	"pvrec/internal/transport"
	"pvrec/pkg/utils"

	"gonum.org/v1/gonum/floats"
)

const (
	testFrameLength = 512
	testSampleRate  = 16000
)

func newTestSpectrum(t *testing.T, w WindowFunc) *SpectrumProcessor {
	t.Helper()
	p, err := NewSpectrumForFrame(testFrameLength, testSampleRate, w)
	if err != nil {
		t.Fatalf("NewSpectrumForFrame: %v", err)
	}
	return p
}

func TestNewSpectrumProcessorValidation(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		rate    float64
		wantErr error
	}{
		{"Power of two", 512, 16000, nil},
		{"Not a power of two", 500, 16000, ErrFFTSize},
		{"Zero size", 0, 16000, ErrFFTSize},
		{"Zero rate", 512, 0, ErrSampleRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSpectrumProcessor(tt.size, tt.rate, Hann)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewSpectrumForFrameRoundsUp(t *testing.T) {
	p, err := NewSpectrumForFrame(480, testSampleRate, Hann)
	if err != nil {
		t.Fatal(err)
	}
	if p.GetFFTSize() != 512 {
		t.Errorf("fft size = %d, want 512", p.GetFFTSize())
	}
}

func TestSpectrumPeak(t *testing.T) {
	p := newTestSpectrum(t, Hann)
	// 1000 Hz lands exactly on bin 32 at 31.25 Hz per bin.
	p.Process(utils.GenerateSineWave(1000, testSampleRate, testFrameLength, 0.8))

	mags := p.GetMagnitudes()
	if len(mags) != BinCount(p) {
		t.Fatalf("len = %d, want %d", len(mags), BinCount(p))
	}
	if got := floats.MaxIdx(mags); got != 32 {
		t.Errorf("peak bin = %d, want 32", got)
	}
	if f := p.GetFrequencyForBin(32); f != 1000 {
		t.Errorf("GetFrequencyForBin(32) = %f, want 1000", f)
	}
	if p.Frames() != 1 {
		t.Errorf("Frames = %d, want 1", p.Frames())
	}
}

func TestSpectrumShortFrameIsZeroPadded(t *testing.T) {
	p := newTestSpectrum(t, Hann)
	p.Process(utils.GenerateSineWave(1000, testSampleRate, testFrameLength, 0.8))
	p.Process(make([]int16, 16))

	for i, m := range p.GetMagnitudes() {
		if m != 0 {
			t.Fatalf("bin %d = %g after silent short frame, want 0", i, m)
		}
	}
}

func TestGetMagnitudesInto(t *testing.T) {
	p := newTestSpectrum(t, Hann)
	p.Process(utils.GenerateComplexWave(testFrameLength, testSampleRate))

	if err := p.GetMagnitudesInto(make([]float64, 3)); !errors.Is(err, ErrDestination) {
		t.Errorf("short dest err = %v, want ErrDestination", err)
	}

	dest := make([]float64, BinCount(p))
	if err := p.GetMagnitudesInto(dest); err != nil {
		t.Fatal(err)
	}
	if !floats.Equal(dest, p.GetMagnitudes()) {
		t.Error("GetMagnitudesInto differs from GetMagnitudes")
	}
}

func TestGetFrequencyForBinOutOfRange(t *testing.T) {
	p := newTestSpectrum(t, Hann)
	for _, bin := range []int{-1, BinCount(p)} {
		if f := p.GetFrequencyForBin(bin); f != 0 {
			t.Errorf("GetFrequencyForBin(%d) = %f, want 0", bin, f)
		}
	}
	if f := p.GetFrequencyForBin(BinCount(p) - 1); f != testSampleRate/2 {
		t.Errorf("last bin = %f, want Nyquist", f)
	}
}

func TestParseWindowFunc(t *testing.T) {
	tests := []struct {
		in      string
		want    WindowFunc
		wantErr bool
	}{
		{"hann", Hann, false},
		{"HANNING", Hann, false},
		{"Blackman", Blackman, false},
		{"nuttall", Nuttall, false},
		{"boxcar", Hann, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWindowFunc(tt.in)
			if got != tt.want || (err != nil) != tt.wantErr {
				t.Errorf("ParseWindowFunc(%q) = %v, %v", tt.in, got, err)
			}
			if !tt.wantErr {
				if back, _ := ParseWindowFunc(got.String()); back != got {
					t.Errorf("String round trip: %v -> %q -> %v", got, got.String(), back)
				}
			}
		})
	}
}

func TestSpectrumHotPath(t *testing.T) {
	p := newTestSpectrum(t, Hann)
	frame := utils.GenerateComplexWave(testFrameLength, testSampleRate)
	dest := make([]float64, BinCount(p))

	p.Process(frame)
	allocs := testing.AllocsPerRun(100, func() {
		p.Process(frame)
		_ = p.GetMagnitudesInto(dest)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in spectrum hot path, got %.1f", allocs)
	}
}

func TestBandEnergy(t *testing.T) {
	p := newTestSpectrum(t, Hann)
	mt := &utils.MockTransport{}
	be, err := NewBandEnergyProcessor(mt, p, nil)
	if err != nil {
		t.Fatal(err)
	}

	bands := be.Bands()
	if last := bands[len(bands)-1]; last.HighHz != testSampleRate/2 {
		t.Errorf("top band HighHz = %f, want Nyquist", last.HighHz)
	}

	// 500 Hz sits in the "voice" band.
	p.Process(utils.GenerateSineWave(500, testSampleRate, testFrameLength, 0.8))
	be.Publish(7)

	events := mt.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev, ok := events[0].(transport.SpectrumEvent)
	if !ok {
		t.Fatalf("event type %T, want transport.SpectrumEvent", events[0])
	}
	if ev.Seq != 7 || ev.Type != transport.EventSpectrum {
		t.Errorf("event header = %+v", ev)
	}
	loudest := ""
	for name, v := range ev.Bands {
		if v < 0 || v > 1 || math.IsNaN(v) {
			t.Errorf("band %s = %f outside [0,1]", name, v)
		}
		if loudest == "" || v > ev.Bands[loudest] {
			loudest = name
		}
	}
	if loudest != "voice" {
		t.Errorf("loudest band = %q, want voice (%v)", loudest, ev.Bands)
	}
}

func TestBandEnergyRequiresProvider(t *testing.T) {
	if _, err := NewBandEnergyProcessor(nil, nil, nil); err == nil {
		t.Error("expected error for nil provider")
	}
}

func BenchmarkSpectrumProcess(b *testing.B) {
	p, err := NewSpectrumForFrame(testFrameLength, testSampleRate, Hann)
	if err != nil {
		b.Fatal(err)
	}
	frame := utils.GenerateComplexWave(testFrameLength, testSampleRate)

	b.ReportAllocs()
	for b.Loop() {
		p.Process(frame)
	}
}
