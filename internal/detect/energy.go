// SPDX-License-Identifier: MIT
package detect

import (
	"fmt"
	"math"
	"time"

	"pvrec/internal/log"
)

// EnergyConfig configures an EnergyEngine.
type EnergyConfig struct {
	FrameLength int
	SampleRate  int
	Keyword     string        // Name reported for index 0.
	Threshold   float64       // Minimum RMS, 0.0-1.0 of full scale.
	MinRatio    float64       // Minimum RMS increase over the previous frame.
	Cooldown    time.Duration // Dead time after a detection.
}

// DefaultEnergyConfig matches a 32 ms frame at 16 kHz.
func DefaultEnergyConfig() EnergyConfig {
	return EnergyConfig{
		FrameLength: 512,
		SampleRate:  16000,
		Keyword:     "onset",
		Threshold:   0.05,
		MinRatio:    2.0,
		Cooldown:    500 * time.Millisecond,
	}
}

// EnergyEngine reports an onset whenever frame energy jumps above a threshold.
// It stands in for a real keyword engine and has a single keyword.
type EnergyEngine struct {
	cfg            EnergyConfig
	lastEnergy     float64 // Energy of the previous frame
	cooldownFrames int
	remaining      int
}

var _ Engine = (*EnergyEngine)(nil)

func NewEnergyEngine(cfg EnergyConfig) (*EnergyEngine, error) {
	switch {
	case cfg.FrameLength <= 0:
		return nil, fmt.Errorf("detect: frame length must be positive, got %d", cfg.FrameLength)
	case cfg.SampleRate <= 0:
		return nil, fmt.Errorf("detect: sample rate must be positive, got %d", cfg.SampleRate)
	case cfg.Threshold < 0 || cfg.Threshold > 1:
		return nil, fmt.Errorf("detect: threshold %.3f outside [0, 1]", cfg.Threshold)
	case cfg.MinRatio < 1:
		return nil, fmt.Errorf("detect: minimum energy ratio %.2f below 1", cfg.MinRatio)
	}
	if cfg.Keyword == "" {
		cfg.Keyword = "onset"
	}

	framePeriod := time.Duration(cfg.FrameLength) * time.Second / time.Duration(cfg.SampleRate)
	cooldown := int((cfg.Cooldown + framePeriod - 1) / framePeriod)

	log.Debugf("detect: energy engine (threshold %.3f, ratio %.2f, cooldown %d frames)",
		cfg.Threshold, cfg.MinRatio, cooldown)
	return &EnergyEngine{cfg: cfg, cooldownFrames: cooldown}, nil
}

func (e *EnergyEngine) FrameLength() int   { return e.cfg.FrameLength }
func (e *EnergyEngine) SampleRate() int    { return e.cfg.SampleRate }
func (e *EnergyEngine) Keywords() []string { return []string{e.cfg.Keyword} }
func (e *EnergyEngine) Close() error       { return nil }

// Process analyzes one frame for an energy onset.
func (e *EnergyEngine) Process(frame []int16) (int, error) {
	if err := checkFrame(e, frame); err != nil {
		return NoKeyword, err
	}

	currentEnergy := RMS(frame)
	idx := e.onset(currentEnergy)
	e.lastEnergy = currentEnergy
	return idx, nil
}

func (e *EnergyEngine) onset(currentEnergy float64) int {
	if e.remaining > 0 {
		e.remaining--
		return NoKeyword
	}
	if currentEnergy <= e.cfg.Threshold {
		return NoKeyword
	}
	if e.lastEnergy != 0 && currentEnergy/e.lastEnergy <= e.cfg.MinRatio {
		return NoKeyword
	}

	e.remaining = e.cooldownFrames
	return 0
}

// Reset forgets the previous frame and any running cooldown.
func (e *EnergyEngine) Reset() {
	e.lastEnergy = 0
	e.remaining = 0
}

// RMS returns the root mean square of frame as a fraction of full scale.
func RMS(frame []int16) float64 {
	if len(frame) == 0 {
		return 0.0
	}

	var sumSquare float64
	for _, sample := range frame {
		floatSample := float64(sample) / float64(math.MaxInt16)
		sumSquare += floatSample * floatSample
	}

	return math.Sqrt(sumSquare / float64(len(frame)))
}
