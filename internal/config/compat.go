// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"strings"

	"pvrec/internal/capture"
	"pvrec/internal/detect"
	"pvrec/internal/dsp"
)

// PDMBlockSamples is the PCM samples per channel produced per decimator call.
const PDMBlockSamples = 16

// SessionConfig converts the capture section into a capture.Config and
// validates it.
func (c *Config) SessionConfig() (capture.Config, error) {
	mode, err := dsp.ParseMode(c.Capture.Mode)
	if err != nil {
		return capture.Config{}, fmt.Errorf("capture.mode: %w", err)
	}

	sc := capture.Config{
		SampleRate:  c.Capture.SampleRate,
		Channels:    c.Capture.Channels,
		Channel:     c.Capture.Channel,
		FrameLength: c.Capture.FrameLength,
		Mode:        mode,
	}
	if mode == dsp.ModePDMDecimate {
		order, err := parseBitOrder(c.Capture.PDM.BitOrder)
		if err != nil {
			return capture.Config{}, err
		}
		in := c.Capture.PDM.InChannels
		if in == 0 {
			in = c.Capture.Channels
		}
		sc.PDM = dsp.PDMConfig{
			Decimation:    c.Capture.PDM.Decimation,
			OutputSamples: PDMBlockSamples,
			InChannels:    in,
			OutChannels:   c.Capture.Channels,
			GainDB:        c.Capture.PDM.GainDB,
			BitOrder:      order,
			Order:         c.Capture.PDM.Order,
		}
	}
	if err := sc.Validate(); err != nil {
		return capture.Config{}, err
	}
	return sc, nil
}

// PDMBitRate is the bitstream rate implied by the sample rate and decimation.
func (c *Config) PDMBitRate() int {
	return c.Capture.SampleRate * c.Capture.PDM.Decimation
}

// EnergyConfig converts the detect section, sized to the capture frame.
func (c *Config) EnergyConfig() (detect.EnergyConfig, error) {
	ec := detect.EnergyConfig{
		FrameLength: c.Capture.FrameLength,
		SampleRate:  c.Capture.SampleRate,
		Keyword:     c.Detect.Keyword,
		Threshold:   c.Detect.Threshold,
		MinRatio:    c.Detect.MinRatio,
		Cooldown:    c.Detect.Cooldown,
	}
	switch {
	case ec.Threshold < 0 || ec.Threshold > 1:
		return ec, fmt.Errorf("detect.threshold %g outside [0, 1]", ec.Threshold)
	case ec.MinRatio < 1:
		return ec, fmt.Errorf("detect.min_ratio %g below 1", ec.MinRatio)
	case ec.Cooldown < 0:
		return ec, fmt.Errorf("detect.cooldown must not be negative")
	}
	return ec, nil
}

func parseBitOrder(s string) (dsp.BitOrder, error) {
	switch strings.ToLower(s) {
	case "", "lsb":
		return dsp.LSBFirst, nil
	case "msb":
		return dsp.MSBFirst, nil
	default:
		return dsp.LSBFirst, fmt.Errorf("capture.pdm.bit_order %q must be lsb or msb", s)
	}
}
