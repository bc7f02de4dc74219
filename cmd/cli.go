// SPDX-License-Identifier: MIT
package cmd

import (
	"io"
	"os"

	"rosettas/internal/config"
	"rosettas/pkg/bitint"
	"rosettas/pkg/build"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// One-off commands. An empty Command runs the live session.
const (
	CommandList         = "list"
	CommandAnalyze      = "analyze"
	CommandArchiveList  = "archive list"
	CommandArchiveClear = "archive clear"
)

// options mirrors the command line flags before they are folded into the
// loaded configuration.
type options struct {
	configPath      string
	deviceID        int
	channels        int
	sampleRate      float64
	framesPerBuffer int
	lowLatency      bool
	record          bool
	outputFile      string
	verbose         bool
	headless        bool
	report          bool
	context         string
	interactive     bool
}

// ParseArgs parses os.Args. A nil config with a nil error means cobra
// already handled the invocation (help or version) and there is nothing
// left to run.
func ParseArgs() (*config.Config, error) {
	return parse(os.Args[1:], os.Stdout)
}

func parse(args []string, out io.Writer) (*config.Config, error) {
	buildInfo := build.GetBuildFlags()

	var (
		opts options
		cfg  *config.Config
	)

	// load runs before any command body, so every command sees the merged
	// file, environment and flag configuration.
	load := func(cmd *cobra.Command, _ []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		loaded, err := config.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd.Flags(), &opts, loaded)
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		return nil
	}

	rootCmd := &cobra.Command{
		Use:               buildInfo.Name,
		Short:             "Real-time acoustic topology tokenizer",
		Version:           buildInfo.Version,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: load,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}
	rootCmd.SetVersionTemplate(buildInfo.String() + "\n")
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.SetOut(out)

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Command = CommandList
			cfg.Interactive = opts.interactive
			return nil
		},
	}
	listCmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false,
		"Pick a device and sample rate interactively")
	rootCmd.AddCommand(listCmd)

	// Analyze command
	analyzeCmd := &cobra.Command{
		Use:   "analyze <file.wav>",
		Short: "Run the tokenizer over a WAV file and archive the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Command = CommandAnalyze
			cfg.Input = args[0]
			return nil
		},
	}
	rootCmd.AddCommand(analyzeCmd)

	// Archive commands
	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect archived session summaries",
	}
	archiveCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List archived results, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg.Command = CommandArchiveList
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every archived result",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg.Command = CommandArchiveClear
				return nil
			},
		},
	)
	rootCmd.AddCommand(archiveCmd)

	flags := rootCmd.PersistentFlags()

	flags.StringVar(&opts.configPath, "config", "",
		"Path to config.yaml (default: ./config.yaml when present)")

	// Audio Device Configuration
	flags.IntVarP(&opts.deviceID, "device", "d", config.DefaultDeviceID,
		"Specify input device ID. Use 'list' command to see available devices.")
	flags.IntVarP(&opts.channels, "channels", "c", config.DefaultChannels,
		"Number of channels to capture (analysis uses the first)")
	flags.Float64VarP(&opts.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	flags.IntVarP(&opts.framesPerBuffer, "frames-per-buffer", "b", config.DefaultHopSize,
		"The number of frames per buffer, one analysis frame each (affects latency)")
	flags.BoolVarP(&opts.lowLatency, "low-latency", "l", config.DefaultLowLatency,
		"Use low latency mode for real-time processing")

	// Recording Configuration
	flags.BoolVarP(&opts.record, "record", "r", false,
		"Record audio from the specified input device")
	flags.StringVarP(&opts.outputFile, "output", "o", "",
		"Recording file name. Default is <output_dir>/rosettas-YYYYMMDD-HHMMSS.wav")

	// Session Configuration
	flags.BoolVar(&opts.headless, "headless", false,
		"Log frames instead of starting the monitor")
	flags.BoolVar(&opts.report, "report", false,
		"Request a narrative report of the token sequence")
	flags.StringVar(&opts.context, "context", config.DefaultReportContext,
		"Free text describing the recording, sent with the report request")

	// Debug Configuration
	flags.BoolVarP(&opts.verbose, "verbose", "v", false,
		"Show verbose output")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags overrides cfg with the flags given on the command line.
func applyFlags(fs *pflag.FlagSet, opts *options, cfg *config.Config) {
	if fs.Changed("device") {
		cfg.Audio.InputDevice = opts.deviceID
	}
	if fs.Changed("channels") {
		cfg.Audio.InputChannels = opts.channels
	}
	if fs.Changed("sample-rate") {
		cfg.Audio.SampleRate = opts.sampleRate
	}
	if fs.Changed("frames-per-buffer") {
		cfg.Audio.HopSize = opts.framesPerBuffer
		// A hop never exceeds the analysis window.
		if opts.framesPerBuffer > cfg.Audio.WindowSize {
			cfg.Audio.WindowSize = bitint.NextPowerOfTwo(opts.framesPerBuffer)
		}
	}
	if fs.Changed("low-latency") {
		cfg.Audio.LowLatency = opts.lowLatency
	}
	if opts.record || opts.outputFile != "" {
		cfg.Recording.Enabled = true
	}
	cfg.OutputFile = opts.outputFile
	cfg.Headless = opts.headless
	cfg.Verbose = opts.verbose
	if opts.report {
		cfg.Report.Enabled = true
	}
	if fs.Changed("context") {
		cfg.Report.Context = opts.context
	}
}
