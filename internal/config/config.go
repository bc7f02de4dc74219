// SPDX-License-Identifier: MIT
package config

import "time"

// Core configuration constants that define the boundaries and defaults
// of a session.
const (
	// Audio capture.
	DefaultDeviceID       = MinDeviceID // System default device.
	DefaultSampleRate     = 44100       // CD-quality audio.
	DefaultChannels       = 1           // Mono audio.
	DefaultWindowSize     = 2048        // FFT window in samples.
	DefaultHopSize        = 512         // Frames per PortAudio buffer.
	DefaultLowLatency     = false
	DefaultFFTWindow      = "Hann"
	DefaultNoiseThreshold = 0.05
	DefaultGateThreshold  = 0.001 // ~0.1% of full scale.

	// Analysis.
	DefaultBaselineHz          = 432.0
	DefaultStabilityThreshold  = 8
	DefaultLiquidDeltaMax      = 2
	DefaultChaoticDeltaMin     = 3
	DefaultSkepticismThreshold = 1.5
	DefaultQuantizerLambda     = 0.75
	DefaultMaxHistory          = 500
	DefaultShuffleTrials       = 50
	DefaultMinTokens           = 15

	// Recording.
	DefaultOutputDir = "./recordings"
	DefaultBitDepth  = 32

	// Transport.
	DefaultWebSocketAddress = ":8080"
	DefaultUDPTargetAddress = "127.0.0.1:9090"
	DefaultUDPSendInterval  = 33 * time.Millisecond // ~30Hz.

	// Report.
	DefaultReportModel   = "gemini-2.5-flash"
	DefaultAPIKeyEnv     = "GEMINI_API_KEY"
	DefaultReportTimeout = 30 * time.Second
	DefaultReportContext = "Standard field recording"
	DefaultReportWindow  = 15

	// Archive.
	DefaultArchiveBackend  = BackendBadger
	DefaultArchivePath     = "./archive"
	DefaultArchiveCapacity = 50

	// Hardware and processing limits.
	MinDeviceID     = -1     // -1 represents the system default device.
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz).
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz).
	MaxBufferFrames = 8192   // Maximum frames per buffer and window size.

	// Stop recording after this many consecutive WAV write failures.
	DefaultMaxConsecutiveWriteFailures = 5
)

// Archive backends.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Debug:    false,
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:    DefaultDeviceID,
			SampleRate:     DefaultSampleRate,
			InputChannels:  DefaultChannels,
			WindowSize:     DefaultWindowSize,
			HopSize:        DefaultHopSize,
			LowLatency:     DefaultLowLatency,
			FFTWindow:      DefaultFFTWindow,
			NoiseThreshold: DefaultNoiseThreshold,
			GateThreshold:  DefaultGateThreshold,
		},
		Analysis: AnalysisConfig{
			BaselineHz:          DefaultBaselineHz,
			StabilityThreshold:  DefaultStabilityThreshold,
			LiquidDeltaMax:      DefaultLiquidDeltaMax,
			ChaoticDeltaMin:     DefaultChaoticDeltaMin,
			SkepticismThreshold: DefaultSkepticismThreshold,
			QuantizerLambda:     DefaultQuantizerLambda,
			MaxHistory:          DefaultMaxHistory,
			ShuffleTrials:       DefaultShuffleTrials,
			MinTokens:           DefaultMinTokens,
		},
		Recording: RecordingConfig{
			Enabled:   false,
			OutputDir: DefaultOutputDir,
			BitDepth:  DefaultBitDepth,
		},
		Transport: TransportConfig{
			WebSocketAddress: DefaultWebSocketAddress,
			UDPTargetAddress: DefaultUDPTargetAddress,
			UDPSendInterval:  DefaultUDPSendInterval,
		},
		Report: ReportConfig{
			Model:     DefaultReportModel,
			APIKeyEnv: DefaultAPIKeyEnv,
			Timeout:   DefaultReportTimeout,
			Context:   DefaultReportContext,
			Window:    DefaultReportWindow,
		},
		Archive: ArchiveConfig{
			Backend:  DefaultArchiveBackend,
			Path:     DefaultArchivePath,
			Capacity: DefaultArchiveCapacity,
		},
	}
}
