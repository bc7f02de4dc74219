// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"rosettas/internal/analysis"
	"rosettas/internal/log"
	"rosettas/internal/pipeline"
	"rosettas/internal/significance"
	"rosettas/internal/stability"
	"rosettas/pkg/bitint"

	"gopkg.in/yaml.v3"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Enable debug mode (forces DEBUG logging).
	LogLevel  string          `yaml:"log_level"` // Logging level ("debug", "info", "warn", "error").
	Audio     AudioConfig     `yaml:"audio"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
	Report    ReportConfig    `yaml:"report"`
	Archive   ArchiveConfig   `yaml:"archive"`

	// Runtime only, set from the command line.
	Command     string `yaml:"-"` // One-off command to run instead of a live session.
	Input       string `yaml:"-"` // WAV file for the analyze command.
	Interactive bool   `yaml:"-"` // Pick the device in a TUI for the list command.
	Verbose     bool   `yaml:"-"`
	Headless    bool   `yaml:"-"` // Log frames instead of starting the TUI.
	OutputFile  string `yaml:"-"` // Explicit recording path.
}

// AudioConfig holds settings related to audio capture and frequency extraction.
type AudioConfig struct {
	InputDevice    int     `yaml:"input_device"`    // PortAudio device index (-1 for default).
	SampleRate     float64 `yaml:"sample_rate"`     // Sample rate in Hz (e.g., 44100, 48000).
	InputChannels  int     `yaml:"input_channels"`  // Channels to capture; analysis uses channel 0.
	WindowSize     int     `yaml:"window_size"`     // FFT window in samples, power of two.
	HopSize        int     `yaml:"hop_size"`        // Frames per PortAudio buffer, one analysis frame each.
	LowLatency     bool    `yaml:"low_latency"`     // Request low latency settings from the device.
	FFTWindow      string  `yaml:"fft_window"`      // Window function name (e.g., "Hann", "Hamming").
	NoiseThreshold float64 `yaml:"noise_threshold"` // Normalised spectral peak below which a frame is silence.
	GateThreshold  float64 `yaml:"gate_threshold"`  // Amplitude gate, 0..1 of full scale.
}

// AnalysisConfig holds the tokenizer thresholds.
type AnalysisConfig struct {
	BaselineHz          float64       `yaml:"baseline_hz"`
	StabilityThreshold  int           `yaml:"stability_threshold"`
	LiquidDeltaMax      int           `yaml:"liquid_delta_max"`
	ChaoticDeltaMin     int           `yaml:"chaotic_delta_min"`
	SkepticismThreshold float64       `yaml:"skepticism_threshold"`
	QuantizerLambda     float64       `yaml:"quantizer_lambda"`
	MaxHistory          int           `yaml:"max_history"`
	ShuffleTrials       int           `yaml:"shuffle_trials"`
	MinTokens           int           `yaml:"min_tokens"`
	ValidationInterval  time.Duration `yaml:"validation_interval"` // 0 runs the significance test on demand only.
}

// RecordingConfig holds settings related to audio recording functionality.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`    // Record the input stream to WAV.
	OutputDir string `yaml:"output_dir"` // Directory for generated recording names.
	BitDepth  int    `yaml:"bit_depth"`  // Bit depth for recorded audio (16, 24 or 32).
}

// TransportConfig holds settings related to sending frames over the network.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`
	WebSocketAddress string        `yaml:"websocket_address"`  // Listen address of the /ws endpoint.
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Enable sending frames over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port (e.g., "127.0.0.1:9090").
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between UDP packets.
}

// ReportConfig configures the narrative report generator.
type ReportConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"` // Environment variable holding the API key.
	Timeout   time.Duration `yaml:"timeout"`
	Context   string        `yaml:"context"` // Free text describing the recording.
	Window    int           `yaml:"window"`  // Number of most recent labels sent.
}

// ArchiveConfig selects where session summaries are kept.
type ArchiveConfig struct {
	Backend  string `yaml:"backend"` // badger, sqlite or memory.
	Path     string `yaml:"path"`
	Capacity int    `yaml:"capacity"`
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidates := []string{"config.yaml", "config.yml"}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
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

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate reports every problem found in the configuration, joined.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log_level '%s' is not a known level", c.LogLevel))
	}

	a := c.Audio
	check(a.SampleRate > 0, "audio.sample_rate must be positive, got %v", a.SampleRate)
	check(a.InputChannels >= 1, "audio.input_channels must be at least 1, got %d", a.InputChannels)
	switch {
	case a.WindowSize < 1 || a.WindowSize > MaxBufferFrames:
		errs = append(errs, fmt.Errorf("audio.window_size must be a power of two up to %d, got %d", MaxBufferFrames, a.WindowSize))
	case !bitint.IsPowerOfTwo(a.WindowSize):
		errs = append(errs, fmt.Errorf("audio.window_size must be a power of two, got %d (try %d)",
			a.WindowSize, min(bitint.NextPowerOfTwo(a.WindowSize), MaxBufferFrames)))
	}
	check(a.HopSize > 0 && a.HopSize <= a.WindowSize,
		"audio.hop_size must be in (0, window_size], got %d", a.HopSize)
	check(a.NoiseThreshold >= 0, "audio.noise_threshold must not be negative")
	check(a.GateThreshold >= 0 && a.GateThreshold <= 1, "audio.gate_threshold must be in [0, 1], got %v", a.GateThreshold)
	if _, err := analysis.ParseWindowFunc(a.FFTWindow); err != nil {
		errs = append(errs, fmt.Errorf("audio.fft_window: %w", err))
	}

	an := c.Analysis
	check(an.BaselineHz > 0, "analysis.baseline_hz must be positive, got %v", an.BaselineHz)
	check(an.StabilityThreshold >= 0 && an.LiquidDeltaMax >= 0 && an.ChaoticDeltaMin >= 0 &&
		an.SkepticismThreshold >= 0 && an.QuantizerLambda >= 0,
		"analysis thresholds must not be negative")
	check(an.MaxHistory >= 1, "analysis.max_history must be at least 1, got %d", an.MaxHistory)
	check(an.ShuffleTrials >= 1, "analysis.shuffle_trials must be at least 1, got %d", an.ShuffleTrials)
	check(an.MinTokens >= 2, "analysis.min_tokens must be at least 2, got %d", an.MinTokens)
	check(an.ValidationInterval >= 0, "analysis.validation_interval must not be negative")

	switch c.Recording.BitDepth {
	case 16, 24, 32:
	default:
		errs = append(errs, fmt.Errorf("recording.bit_depth must be 16, 24 or 32, got %d", c.Recording.BitDepth))
	}

	t := c.Transport
	if t.UDPEnabled {
		if _, _, err := net.SplitHostPort(t.UDPTargetAddress); err != nil {
			errs = append(errs, fmt.Errorf("transport.udp_target_address '%s' appears invalid: %w", t.UDPTargetAddress, err))
		}
		check(t.UDPSendInterval > 0, "transport.udp_send_interval must be positive when UDP is enabled")
	}
	if t.WebSocketEnabled {
		check(t.WebSocketAddress != "", "transport.websocket_address must be set when the WebSocket is enabled")
	}

	check(c.Report.Window >= 1, "report.window must be at least 1, got %d", c.Report.Window)

	switch c.Archive.Backend {
	case BackendBadger, BackendSQLite, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("archive.backend must be one of %s, %s, %s, got '%s'",
			BackendBadger, BackendSQLite, BackendMemory, c.Archive.Backend))
	}
	check(c.Archive.Capacity >= 1, "archive.capacity must be at least 1, got %d", c.Archive.Capacity)

	return errors.Join(errs...)
}

// WindowFunc returns the parsed FFT window.
func (a AudioConfig) WindowFunc() analysis.WindowFunc {
	w, _ := analysis.ParseWindowFunc(a.FFTWindow)
	return w
}

// PipelineParams converts the analysis section into per-stage parameters.
func (a AnalysisConfig) PipelineParams() pipeline.Params {
	return pipeline.Params{
		BaselineHz:      a.BaselineHz,
		QuantizerLambda: a.QuantizerLambda,
		MaxHistory:      a.MaxHistory,
		Stability: stability.Params{
			StabilityThreshold:  a.StabilityThreshold,
			LiquidDeltaMax:      a.LiquidDeltaMax,
			ChaoticDeltaMin:     a.ChaoticDeltaMin,
			SkepticismThreshold: a.SkepticismThreshold,
		},
		Significance: significance.Params{
			SkepticismThreshold: a.SkepticismThreshold,
			Trials:              a.ShuffleTrials,
			MinTokens:           a.MinTokens,
		},
	}
}

// EffectiveLogLevel resolves the level to log at: DEBUG when debug or
// verbose is set, otherwise log_level.
func (c *Config) EffectiveLogLevel() log.LogLevel {
	if c.Debug || c.Verbose {
		return log.LevelDebug
	}
	level, _ := log.ParseLevel(c.LogLevel)
	return level
}

// applyEnvOverrides applies ENV_* variables on top of the file values.
func (c *Config) applyEnvOverrides() {
	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Debug = bVal
			log.Infof("configuration: overriding debug from env: %v", bVal)
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok && val != "" {
		c.LogLevel = strings.ToLower(val)
		log.Infof("configuration: overriding log_level from env: %s", c.LogLevel)
	}

	// ENV_BASELINE_HZ
	if val, ok := os.LookupEnv("ENV_BASELINE_HZ"); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			c.Analysis.BaselineHz = f
			log.Infof("configuration: overriding analysis.baseline_hz from env: %v", f)
		}
	}
	// ENV_MAX_HISTORY
	if val, ok := os.LookupEnv("ENV_MAX_HISTORY"); ok {
		if n, err := strconv.Atoi(val); err == nil {
			c.Analysis.MaxHistory = n
			log.Infof("configuration: overriding analysis.max_history from env: %d", n)
		}
	}

	// ENV_WS_{...} and ENV_UDP_{...} are specific to the transport layer.
	if val, ok := os.LookupEnv("ENV_WS_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Transport.WebSocketEnabled = bVal
			log.Infof("configuration: overriding transport.websocket_enabled from env: %v", bVal)
		}
	}
	if val, ok := os.LookupEnv("ENV_WS_ADDRESS"); ok {
		c.Transport.WebSocketAddress = val
		log.Infof("configuration: overriding transport.websocket_address from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Transport.UDPEnabled = bVal
			log.Infof("configuration: overriding transport.udp_enabled from env: %v", bVal)
		}
	}
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		c.Transport.UDPTargetAddress = val
		log.Infof("configuration: overriding transport.udp_target_address from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			c.Transport.UDPSendInterval = dur
			log.Infof("configuration: overriding transport.udp_send_interval from env: %s", dur)
		}
	}

	// ENV_ARCHIVE_{...}
	if val, ok := os.LookupEnv("ENV_ARCHIVE_BACKEND"); ok {
		c.Archive.Backend = strings.ToLower(val)
		log.Infof("configuration: overriding archive.backend from env: %s", c.Archive.Backend)
	}
	if val, ok := os.LookupEnv("ENV_ARCHIVE_PATH"); ok {
		c.Archive.Path = val
		log.Infof("configuration: overriding archive.path from env: %s", val)
	}
}
