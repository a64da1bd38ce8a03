// SPDX-License-Identifier: MIT
package capture

import (
	"fmt"
	"time"

	"pvrec/internal/dsp"
)

// Config fixes the shape of a capture session. Changing any field requires
// stopping the session and creating a new one.
type Config struct {
	SampleRate  int      // PCM sample rate in Hz after any decimation.
	Channels    int      // Interleaved PCM channels delivered to the producer.
	Channel     int      // Index of the channel that is buffered.
	FrameLength int      // Samples per frame, set by the detection engine.
	Mode        dsp.Mode // Conditioning applied before buffering.

	// PDM describes the bitstream layout when Mode is ModePDMDecimate. Its
	// OutChannels must equal Channels.
	PDM dsp.PDMConfig

	// Decimator overrides the built-in CIC decimator in ModePDMDecimate.
	Decimator dsp.Decimator
}

// Validate reports the first configuration problem, wrapped in ErrConfiguration.
func (c Config) Validate() error {
	switch {
	case c.FrameLength <= 0:
		return fmt.Errorf("%w: frame length must be positive, got %d", ErrConfiguration, c.FrameLength)
	case c.Channels <= 0:
		return fmt.Errorf("%w: channel count must be positive, got %d", ErrConfiguration, c.Channels)
	case c.Channel < 0 || c.Channel >= c.Channels:
		return fmt.Errorf("%w: channel %d out of range for %d channels", ErrConfiguration, c.Channel, c.Channels)
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrConfiguration, c.SampleRate)
	}

	switch c.Mode {
	case dsp.ModeNone, dsp.ModeHighPass:
	case dsp.ModePDMDecimate:
		if c.Decimator != nil {
			break
		}
		pdm := c.PDM
		if err := pdm.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		if pdm.OutChannels != c.Channels {
			return fmt.Errorf("%w: PDM output channels %d differ from channel count %d",
				ErrConfiguration, pdm.OutChannels, c.Channels)
		}
	default:
		return fmt.Errorf("%w: unknown conditioning mode %v", ErrConfiguration, c.Mode)
	}
	return nil
}

// FramePeriod is the time the hardware takes to fill one frame.
func (c Config) FramePeriod() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.FrameLength) * time.Second / time.Duration(c.SampleRate)
}
