// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"pvrec/internal/analysis"
	"pvrec/internal/log"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from path, reading ./.env first when it
// exists. See Load.
func LoadConfig(path string) (*Config, error) {
	return Load(path, ".env")
}

// Load builds the configuration. If path is empty it tries "config.yaml" in
// the working directory and falls back to defaults when that is absent. The
// optional envFile is loaded with godotenv before ENV_* overrides are
// applied; variables already set in the environment win over the file.
func Load(path, envFile string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	// Apply environment variable overrides AFTER loading from file.
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks fields the capture session does not check itself.
func (c *Config) Validate() error {
	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("log_level %q is not a level", c.LogLevel)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}

	if c.Capture.SampleRate < MinSampleRate || c.Capture.SampleRate > MaxSampleRate {
		return fmt.Errorf("capture.sample_rate %d outside [%d, %d]", c.Capture.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if _, err := c.SessionConfig(); err != nil {
		return err
	}

	switch c.Driver.Kind {
	case DriverPortAudio:
		if c.Driver.InputDevice < MinDeviceID {
			return fmt.Errorf("driver.input_device %d is invalid", c.Driver.InputDevice)
		}
		if c.Driver.FramesPerBuffer <= 0 || c.Driver.FramesPerBuffer > MaxBufferFrames {
			return fmt.Errorf("driver.frames_per_buffer %d outside (0, %d]", c.Driver.FramesPerBuffer, MaxBufferFrames)
		}
	case DriverFile:
		if c.Driver.File == "" {
			return errors.New("driver.file must be set for the file driver")
		}
	default:
		return fmt.Errorf("driver.kind %q must be %s or %s", c.Driver.Kind, DriverPortAudio, DriverFile)
	}
	if c.Driver.StallTimeout < 0 {
		return errors.New("driver.stall_timeout must not be negative")
	}

	if _, err := c.EnergyConfig(); err != nil {
		return err
	}

	if c.Analysis.Enabled {
		if _, err := analysis.ParseWindowFunc(c.Analysis.FFTWindow); err != nil {
			return fmt.Errorf("analysis.fft_window: %w", err)
		}
	}
	if c.Analysis.GateThreshold < 0 || c.Analysis.GateThreshold > 1 {
		return fmt.Errorf("analysis.gate_threshold %g outside [0, 1]", c.Analysis.GateThreshold)
	}

	if c.Transport.UDPEnabled {
		if !strings.Contains(c.Transport.UDPTargetAddress, ":") {
			return fmt.Errorf("transport.udp_target_address %q appears invalid (missing port?)", c.Transport.UDPTargetAddress)
		}
		if c.Transport.UDPSendInterval <= 0 {
			return errors.New("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}
	if c.Transport.WebSocketEnabled && c.Transport.WebSocketAddress == "" {
		return errors.New("transport.websocket_address must be set when the websocket is enabled")
	}
	if c.Telemetry.MetricsEnabled && c.Telemetry.MetricsAddress == "" {
		return errors.New("telemetry.metrics_address must be set when metrics are enabled")
	}
	return nil
}

// applyEnvOverrides applies ENV_* variables on top of the file values. A
// variable that is set but unparsable is an error.
func (c *Config) applyEnvOverrides() error {
	var errs []error
	envBool("ENV_DEBUG", &c.Debug, &errs)
	envString("ENV_LOG_LEVEL", &c.LogLevel)
	envString("ENV_LOG_FILE", &c.Log.File)

	envInt("ENV_SAMPLE_RATE", &c.Capture.SampleRate, &errs)
	envInt("ENV_FRAME_LENGTH", &c.Capture.FrameLength, &errs)
	envString("ENV_MODE", &c.Capture.Mode)

	envString("ENV_DRIVER", &c.Driver.Kind)
	envInt("ENV_INPUT_DEVICE", &c.Driver.InputDevice, &errs)
	envString("ENV_FILE", &c.Driver.File)

	envBool("ENV_UDP_ENABLED", &c.Transport.UDPEnabled, &errs)
	envString("ENV_UDP_TARGET_ADDRESS", &c.Transport.UDPTargetAddress)
	envDuration("ENV_UDP_SEND_INTERVAL", &c.Transport.UDPSendInterval, &errs)
	envBool("ENV_WEBSOCKET_ENABLED", &c.Transport.WebSocketEnabled, &errs)
	envString("ENV_WEBSOCKET_ADDRESS", &c.Transport.WebSocketAddress)

	envBool("ENV_METRICS_ENABLED", &c.Telemetry.MetricsEnabled, &errs)
	envString("ENV_METRICS_ADDRESS", &c.Telemetry.MetricsAddress)

	if c.Debug {
		c.LogLevel = "debug"
	}
	return errors.Join(errs...)
}

func envString(key string, dst *string) {
	if val, ok := os.LookupEnv(key); ok {
		*dst = val
		log.Debugf("config: %s overrides to %q", key, val)
	}
}

func envBool(key string, dst *bool, errs *[]error) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
		log.Debugf("config: %s overrides to %v", key, b)
	}
}

func envInt(key string, dst *int, errs *[]error) {
	if val, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
		log.Debugf("config: %s overrides to %d", key, n)
	}
}

func envDuration(key string, dst *time.Duration, errs *[]error) {
	if val, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
		log.Debugf("config: %s overrides to %s", key, d)
	}
}
