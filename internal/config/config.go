// SPDX-License-Identifier: MIT

// Package config loads the pvrec runtime configuration from built-in
// defaults, an optional YAML file, an optional .env file and ENV_*
// variables, in that order of precedence (last wins).
package config

import "time"

// Defaults and limits for the capture pipeline.
const (
	DefaultSampleRate      = 16000 // Wake-word engines run at 16 kHz
	DefaultChannels        = 1
	DefaultFrameLength     = 512 // Samples per frame handed to the engine
	DefaultMode            = "hpf"
	DefaultDriver          = DriverPortAudio
	DefaultDeviceID        = MinDeviceID
	DefaultFramesPerBuffer = 256
	DefaultStallTimeout    = 2 * time.Second
	DefaultPDMDecimation   = 64
	DefaultFFTWindow       = "Hann"
	DefaultUDPInterval     = 33 * time.Millisecond // ~30Hz
	DefaultStatusInterval  = time.Second

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer
)

// Driver names accepted in driver.kind.
const (
	DriverPortAudio = "portaudio"
	DriverFile      = "file"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Forces the debug log level.
	LogLevel  string          `yaml:"log_level"` // debug, info, warn, error.
	Log       LogConfig       `yaml:"log"`
	Capture   CaptureConfig   `yaml:"capture"`
	Driver    DriverConfig    `yaml:"driver"`
	Detect    DetectConfig    `yaml:"detect"`
	Recording RecordingConfig `yaml:"recording"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Transport TransportConfig `yaml:"transport"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LogConfig selects the log format and an optional rotating file.
type LogConfig struct {
	Format     string `yaml:"format"` // text or json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// CaptureConfig describes the session: rate, channel layout, frame length and
// conditioning mode.
type CaptureConfig struct {
	SampleRate  int       `yaml:"sample_rate"`
	Channels    int       `yaml:"channels"`
	Channel     int       `yaml:"channel"`
	FrameLength int       `yaml:"frame_length"`
	Mode        string    `yaml:"mode"` // none, hpf or pdm
	PDM         PDMConfig `yaml:"pdm"`
}

// PDMConfig describes the raw bitstream in pdm mode.
type PDMConfig struct {
	Decimation int     `yaml:"decimation"`
	InChannels int     `yaml:"in_channels"`
	BitOrder   string  `yaml:"bit_order"` // lsb or msb
	GainDB     float64 `yaml:"gain_db"`
	Order      int     `yaml:"order"`
}

// DriverConfig selects and configures the sample source.
type DriverConfig struct {
	Kind            string        `yaml:"kind"`              // portaudio or file
	InputDevice     int           `yaml:"input_device"`      // PortAudio device index, -1 for default.
	FramesPerBuffer int           `yaml:"frames_per_buffer"` // Samples per callback.
	LowLatency      bool          `yaml:"low_latency"`
	StallTimeout    time.Duration `yaml:"stall_timeout"` // 0 disables the watchdog.
	File            string        `yaml:"file"`          // .wav, .mp3 or .pdm for the file driver.
	Realtime        bool          `yaml:"realtime"`
	Loop            bool          `yaml:"loop"`
}

// DetectConfig configures the energy onset engine.
type DetectConfig struct {
	Keyword   string        `yaml:"keyword"`
	Threshold float64       `yaml:"threshold"`
	MinRatio  float64       `yaml:"min_ratio"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// RecordingConfig holds settings related to audio recording functionality.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
}

// AnalysisConfig controls spectrum telemetry.
type AnalysisConfig struct {
	Enabled       bool    `yaml:"enabled"`
	FFTWindow     string  `yaml:"fft_window"`
	GateEnabled   bool    `yaml:"gate_enabled"`
	GateThreshold float64 `yaml:"gate_threshold"` // Fraction of full scale.
}

// TransportConfig holds settings related to sending events over the network.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`
	WebSocketAddress string        `yaml:"websocket_address"`
	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address"`
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`
	StatusInterval   time.Duration `yaml:"status_interval"`
}

// TelemetryConfig controls the Prometheus metrics endpoint.
type TelemetryConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsAddress string `yaml:"metrics_address"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		LogLevel: "info",
		Log: LogConfig{
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Capture: CaptureConfig{
			SampleRate:  DefaultSampleRate,
			Channels:    DefaultChannels,
			FrameLength: DefaultFrameLength,
			Mode:        DefaultMode,
			PDM: PDMConfig{
				Decimation: DefaultPDMDecimation,
				InChannels: DefaultChannels,
				BitOrder:   "lsb",
			},
		},
		Driver: DriverConfig{
			Kind:            DefaultDriver,
			InputDevice:     DefaultDeviceID,
			FramesPerBuffer: DefaultFramesPerBuffer,
			StallTimeout:    DefaultStallTimeout,
			Realtime:        true,
		},
		Detect: DetectConfig{
			Keyword:   "onset",
			Threshold: 0.05,
			MinRatio:  2.0,
			Cooldown:  500 * time.Millisecond,
		},
		Recording: RecordingConfig{
			OutputDir: "./recordings",
		},
		Analysis: AnalysisConfig{
			FFTWindow:     DefaultFFTWindow,
			GateThreshold: 0.01,
		},
		Transport: TransportConfig{
			WebSocketAddress: "127.0.0.1:8080",
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  DefaultUDPInterval,
			StatusInterval:   DefaultStatusInterval,
		},
		Telemetry: TelemetryConfig{
			MetricsAddress: "127.0.0.1:9464",
		},
	}
}
