// SPDX-License-Identifier: MIT

// Package cmd implements the pvrec command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"pvrec/internal/audio"
	"pvrec/internal/config"
	"pvrec/internal/log"
	"pvrec/pkg/build"

	"github.com/spf13/cobra"
)

// runFlags holds command line values that override the configuration file.
// Only flags the user actually set are applied.
type runFlags struct {
	configPath  string
	logLevel    string
	device      int
	pick        bool
	file        string
	fast        bool
	loop        bool
	sampleRate  int
	channels    int
	channel     int
	frameLength int
	mode        string
	record      bool
	outputDir   string
	analysis    bool
	websocket   string
	udp         string
	metrics     string
	tui         bool
}

// NewRootCommand builds the command tree. out receives command output.
func NewRootCommand(out io.Writer) *cobra.Command {
	info := build.Current()
	flags := &runFlags{}

	rootCmd := &cobra.Command{
		Use:           "pvrec",
		Short:         "Wake-word audio capture with ping-pong frame hand-off",
		Version:       info.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "",
		"Configuration file (default ./config.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "",
		"Log level: debug, info, warn or error")

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := audio.Initialize(); err != nil {
				return err
			}
			defer audio.Terminate()
			return audio.ListDevices(cmd.OutOrStdout())
		},
	}

	runCmd := newRunCommand(flags)

	rootCmd.AddCommand(listCmd, runCmd)
	return rootCmd
}

// newRunCommand builds the run subcommand, binding its flags to flags.
func newRunCommand(flags *runFlags) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Capture audio and run keyword detection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, flags.tui)
		},
	}
	f := runCmd.Flags()
	f.IntVarP(&flags.device, "device", "d", config.DefaultDeviceID,
		"Input device ID. Use 'list' command to see available devices.")
	f.BoolVar(&flags.pick, "pick", false, "Choose the input device interactively")
	f.StringVarP(&flags.file, "file", "f", "", "Replay a .wav, .mp3, .ogg or .pdm file instead of capturing")
	f.BoolVar(&flags.fast, "fast", false, "Replay files as fast as possible instead of in real time")
	f.BoolVar(&flags.loop, "loop", false, "Restart file replay at end of file")
	f.IntVarP(&flags.sampleRate, "sample-rate", "s", config.DefaultSampleRate, "Sample rate, measured in Hertz (Hz)")
	f.IntVarP(&flags.channels, "channels", "c", config.DefaultChannels, "Interleaved input channels")
	f.IntVar(&flags.channel, "channel", 0, "Channel handed to the detector")
	f.IntVar(&flags.frameLength, "frame-length", config.DefaultFrameLength, "Samples per detection frame")
	f.StringVarP(&flags.mode, "mode", "m", config.DefaultMode, "Conditioning: none, hpf or pdm")
	f.BoolVarP(&flags.record, "record", "r", false, "Record delivered frames to a WAV file")
	f.StringVarP(&flags.outputDir, "output-dir", "o", "", "Directory for recordings")
	f.BoolVar(&flags.analysis, "analysis", false, "Publish spectrum band levels")
	f.StringVar(&flags.websocket, "websocket", "", "Serve events over WebSocket on this address")
	f.StringVar(&flags.udp, "udp", "", "Send spectrum datagrams to this host:port")
	f.StringVar(&flags.metrics, "metrics", "", "Serve Prometheus metrics on this address")
	f.BoolVar(&flags.tui, "tui", false, "Show the live status view")
	return runCmd
}

// load reads the configuration and applies the flags that were set.
func (fl *runFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(fl.configPath)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("log-level") {
		cfg.LogLevel = fl.logLevel
	}
	if changed("device") {
		cfg.Driver.InputDevice = fl.device
	}
	if changed("file") {
		cfg.Driver.Kind = config.DriverFile
		cfg.Driver.File = fl.file
	}
	if changed("fast") {
		cfg.Driver.Realtime = !fl.fast
	}
	if changed("loop") {
		cfg.Driver.Loop = fl.loop
	}
	if changed("sample-rate") {
		cfg.Capture.SampleRate = fl.sampleRate
	}
	if changed("channels") {
		cfg.Capture.Channels = fl.channels
	}
	if changed("channel") {
		cfg.Capture.Channel = fl.channel
	}
	if changed("frame-length") {
		cfg.Capture.FrameLength = fl.frameLength
	}
	if changed("mode") {
		cfg.Capture.Mode = fl.mode
	}
	if changed("record") {
		cfg.Recording.Enabled = fl.record
	}
	if changed("output-dir") {
		cfg.Recording.OutputDir = fl.outputDir
	}
	if changed("analysis") {
		cfg.Analysis.Enabled = fl.analysis
	}
	if changed("websocket") {
		cfg.Transport.WebSocketEnabled = true
		cfg.Transport.WebSocketAddress = fl.websocket
	}
	if changed("udp") {
		cfg.Transport.UDPEnabled = true
		cfg.Transport.UDPTargetAddress = fl.udp
	}
	if changed("metrics") {
		cfg.Telemetry.MetricsEnabled = true
		cfg.Telemetry.MetricsAddress = fl.metrics
	}

	if fl.pick && cfg.Driver.Kind == config.DriverPortAudio {
		id, err := pickDevice()
		if err != nil {
			return nil, err
		}
		cfg.Driver.InputDevice = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := setupLogging(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) error {
	level, _ := log.ParseLevel(cfg.LogLevel)
	return log.Setup(log.Options{
		Level:      level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}

// Execute runs the command line with os.Args and ctx.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand(os.Stdout)
	rootCmd.SetArgs(os.Args[1:])
	return rootCmd.ExecuteContext(ctx)
}
