// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"time"

	"rosettas/internal/analysis"
	"rosettas/internal/config"

	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

var ErrInvalidWAV = errors.New("not a valid PCM WAV file")

// Clip is a decoded mono recording at full int32 scale.
type Clip struct {
	Samples    []int32
	SampleRate int
	Channels   int // Channels in the source file.
	BitDepth   int
}

// Duration returns the playback length of the clip.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// ReadWAV decodes a PCM WAV file, keeping channel 0 only.
func ReadWAV(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidWAV)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%s: unsupported WAV format %d: %w", path, dec.WavAudioFormat, ErrInvalidWAV)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	channels := int(dec.NumChans)
	bitDepth := int(dec.BitDepth)
	if channels < 1 || bitDepth < 8 || bitDepth > 32 {
		return nil, fmt.Errorf("%s: %d channels at %d bits: %w", path, channels, bitDepth, ErrInvalidWAV)
	}

	shift := 32 - bitDepth
	samples := make([]int32, len(buf.Data)/channels)
	for i := range samples {
		v := buf.Data[i*channels]
		if bitDepth == 8 {
			v -= 128 // 8-bit PCM is unsigned.
		}
		samples[i] = int32(v) << shift
	}

	return &Clip{
		Samples:    samples,
		SampleRate: int(dec.SampleRate),
		Channels:   channels,
		BitDepth:   bitDepth,
	}, nil
}

// Frames yields one window per hop, in the same layout the live engine
// analyses: window samples ending at the hop boundary, zero-padded at the
// start of the clip. A trailing partial hop is dropped. The yielded slice is
// reused between iterations. Nothing is yielded unless 0 < hop <= window.
func (c *Clip) Frames(window, hop int) iter.Seq[[]int32] {
	return func(yield func([]int32) bool) {
		if hop <= 0 || window <= 0 || hop > window {
			return
		}
		buf := make([]int32, window)
		for end := hop; end <= len(c.Samples); end += hop {
			copy(buf, buf[hop:])
			copy(buf[window-hop:], c.Samples[end-hop:end])
			if !yield(buf) {
				return
			}
		}
	}
}

// AnalyzeClip runs clip through the same gate and extractor as a live
// session, one frame per hop, and returns the number of frames emitted.
func AnalyzeClip(cfg config.AudioConfig, clip *Clip, sink FrameSink) (int, error) {
	cfg.SampleRate = float64(clip.SampleRate)
	cfg.InputChannels = 1

	extractor, err := analysis.NewPeakExtractor(cfg.WindowSize, cfg.SampleRate, cfg.WindowFunc(), cfg.NoiseThreshold)
	if err != nil {
		return 0, fmt.Errorf("failed to create frequency extractor: %w", err)
	}

	e := newEngine(cfg, extractor, sink)
	n := 0
	for w := range clip.Frames(cfg.WindowSize, cfg.HopSize) {
		e.analyze(w, w[len(w)-cfg.HopSize:])
		n++
	}
	return n, nil
}
