// SPDX-License-Identifier: MIT
/*
Package audio captures input through PortAudio and turns it into pipeline
frames:
- Lock-free audio capture using PortAudio
- Down-mix to channel 0 and a sliding analysis window
- Noise gate with branchless implementation
- WAV recording with atomic state management
- Offline WAV input for file analysis

Each callback delivers one hop of samples. The hop is shifted into a window
of WindowSize samples, the dominant frequency of the window is extracted
and handed to the FrameSink as exactly one frame.

Thread Safety:
- Uses atomic operations for recording state and metering
- Pre-allocates buffers to avoid GC in hot path
- Locks OS thread during audio processing
*/
package audio

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"rosettas/internal/analysis"
	"rosettas/internal/config"
	"rosettas/internal/log"
	"rosettas/internal/pipeline"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gordonklaus/portaudio"
)

// FrameSink consumes one dominant frequency per analysis frame.
// *pipeline.Pipeline satisfies it.
type FrameSink interface {
	Process(freq float64) (pipeline.Frame, error)
}

type Engine struct {
	// Core configuration and state.
	config   config.AudioConfig
	bitDepth int
	logger   *log.Logger

	// Audio input handling.
	inputBuffer  []int32
	inputDevice  *portaudio.DeviceInfo
	inputLatency time.Duration
	inputStream  *portaudio.Stream

	// Frequency extraction over a sliding window.
	extractor analysis.FrequencyExtractor
	sink      FrameSink
	monoInput []int32 // Channel 0 of the current hop.
	window    []int32 // Last WindowSize mono samples, oldest first.

	// Noise gate for signal conditioning.
	gateEnabled   bool
	gateThreshold int32 // Absolute amplitude threshold (0-2147483647)

	// Metering, written from the audio thread.
	level     atomic.Uint64 // math.Float64bits of the last hop RMS.
	frames    atomic.Uint64
	rejected  atomic.Uint64
	writeErrs atomic.Uint64

	// Recording state and buffers.
	isRecording     int32 // Atomic flag for thread-safe state
	outputFile      *os.File
	outputPath      string
	wavEncoder      *wav.Encoder
	sampleBuf       *audio.IntBuffer // Reusable buffer for format conversion
	writeFailures   int              // Consecutive, audio thread only.
	maxWriteFailure int
}

// NewEngine opens the configured input device and prepares a peak extractor
// feeding sink. The stream is not started.
func NewEngine(cfg *config.Config, sink FrameSink) (*Engine, error) {
	inputDevice, err := InputDevice(cfg.Audio.InputDevice)
	if err != nil {
		return nil, err
	}

	extractor, err := analysis.NewPeakExtractor(
		cfg.Audio.WindowSize,
		cfg.Audio.SampleRate,
		cfg.Audio.WindowFunc(),
		cfg.Audio.NoiseThreshold,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create frequency extractor: %w", err)
	}

	engine := newEngine(cfg.Audio, extractor, sink)
	engine.bitDepth = cfg.Recording.BitDepth
	engine.inputDevice = inputDevice

	if engine.config.LowLatency {
		engine.inputLatency = engine.inputDevice.DefaultLowInputLatency
	} else {
		engine.inputLatency = engine.inputDevice.DefaultHighInputLatency
	}

	return engine, nil
}

// newEngine builds an engine without touching PortAudio.
func newEngine(cfg config.AudioConfig, extractor analysis.FrequencyExtractor, sink FrameSink) *Engine {
	channels := max(cfg.InputChannels, 1)
	cfg.InputChannels = channels

	e := &Engine{
		config:          cfg,
		bitDepth:        config.DefaultBitDepth,
		logger:          log.New("audio"),
		inputBuffer:     make([]int32, cfg.HopSize*channels),
		extractor:       extractor,
		sink:            sink,
		monoInput:       make([]int32, cfg.HopSize),
		window:          make([]int32, max(cfg.WindowSize, cfg.HopSize)),
		gateEnabled:     true,
		maxWriteFailure: config.DefaultMaxConsecutiveWriteFailures,
	}
	e.SetGateThreshold(cfg.GateThreshold)
	return e
}

func (e *Engine) StartInputStream() error {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: e.config.InputChannels,
			Device:   e.inputDevice,
			Latency:  e.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: e.config.HopSize,
		SampleRate:      e.config.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, e.processInputStream)
	if err != nil {
		return err
	}
	e.inputStream = stream

	if err := e.inputStream.Start(); err != nil {
		e.inputStream.Close()
		return err
	}

	e.logger.Infof("Input stream started on %s (%d ch, %.0f Hz, hop %d, window %d)",
		e.inputDevice.Name, e.config.InputChannels, e.config.SampleRate,
		e.config.HopSize, e.config.WindowSize)
	return nil
}

func (e *Engine) StopInputStream() error {
	if e.inputStream != nil {
		if err := e.inputStream.Stop(); err != nil {
			return err
		}

		if err := e.inputStream.Close(); err != nil {
			return err
		}

		e.inputStream = nil
	}

	return nil
}

// DeviceName returns the name of the input device, or "" for an engine
// built without one.
func (e *Engine) DeviceName() string {
	if e.inputDevice == nil {
		return ""
	}
	return e.inputDevice.Name
}

// Level returns the RMS of the most recent hop, 0..1 of full scale.
func (e *Engine) Level() float64 {
	return math.Float64frombits(e.level.Load())
}

// Stats reports how many frames were emitted, how many the sink rejected and
// how many WAV writes failed.
func (e *Engine) Stats() (frames, rejected, writeErrors uint64) {
	return e.frames.Load(), e.rejected.Load(), e.writeErrs.Load()
}

// processInputStream is the core audio processing callback.
// Performance Critical:
// - Runs in a dedicated OS thread (LockOSThread)
// - Uses pre-allocated buffers only
// - No dynamic allocations in the hot path
func (e *Engine) processInputStream(in []int32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	copy(e.inputBuffer, in)
	e.processBuffer(e.inputBuffer)

	if atomic.LoadInt32(&e.isRecording) == 1 && e.wavEncoder != nil {
		e.writeRecording(e.inputBuffer)
	}
}

// processBuffer turns one interleaved hop into one frame.
func (e *Engine) processBuffer(buffer []int32) {
	channels := e.config.InputChannels
	for i := range e.monoInput {
		if idx := i * channels; idx < len(buffer) {
			e.monoInput[i] = buffer[idx]
		} else {
			e.monoInput[i] = 0
		}
	}

	e.level.Store(math.Float64bits(analysis.RMS(e.monoInput)))

	hop := len(e.monoInput)
	copy(e.window, e.window[hop:])
	copy(e.window[len(e.window)-hop:], e.monoInput)

	e.analyze(e.window, e.monoInput)
}

// analyze extracts the frequency of window when the gate opens on hop and
// emits the frame. A closed gate emits silence.
func (e *Engine) analyze(window, hop []int32) {
	var freq float64
	if e.gateOpen(hop) && e.extractor != nil {
		freq = e.extractor.Process(window)
	}

	e.frames.Add(1)
	if e.sink == nil {
		return
	}
	if _, err := e.sink.Process(freq); err != nil {
		e.rejected.Add(1)
	}
}
