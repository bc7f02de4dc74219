// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// RecordingName returns a timestamped WAV path inside dir.
func RecordingName(dir string, now time.Time) string {
	return filepath.Join(dir, "rosettas-"+now.Format("20060102-150405")+".wav")
}

func (e *Engine) StartRecording(filename string) error {
	if atomic.LoadInt32(&e.isRecording) == 1 {
		return fmt.Errorf("already recording")
	}

	switch e.bitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("unsupported bit depth: %d", e.bitDepth)
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create recording directory: %w", err)
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	e.outputFile = file
	e.outputPath = filename

	e.wavEncoder = wav.NewEncoder(file, int(e.config.SampleRate),
		e.bitDepth, e.config.InputChannels, 1)

	e.sampleBuf = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: e.config.InputChannels,
			SampleRate:  int(e.config.SampleRate),
		},
		Data:           make([]int, e.config.HopSize*e.config.InputChannels),
		SourceBitDepth: e.bitDepth,
	}
	e.writeFailures = 0

	atomic.StoreInt32(&e.isRecording, 1)
	e.logger.Infof("Recording to %s (%d-bit)", filename, e.bitDepth)

	return nil
}

// IsRecording reports whether input is currently written to disk.
func (e *Engine) IsRecording() bool {
	return atomic.LoadInt32(&e.isRecording) == 1
}

// RecordingPath returns the path of the current or last recording.
func (e *Engine) RecordingPath() string {
	return e.outputPath
}

func (e *Engine) StopRecording() error {
	atomic.StoreInt32(&e.isRecording, 0)

	if e.wavEncoder != nil {
		if err := e.wavEncoder.Close(); err != nil {
			return err
		}
		e.wavEncoder = nil
	}

	if e.outputFile != nil {
		if err := e.outputFile.Close(); err != nil {
			return err
		}
		e.outputFile = nil
	}

	return nil
}

// writeRecording scales full-scale int32 samples down to the file bit depth
// and appends them. Recording stops after maxWriteFailure consecutive errors;
// analysis continues either way.
func (e *Engine) writeRecording(buffer []int32) {
	shift := 32 - e.bitDepth
	for i, sample := range buffer {
		e.sampleBuf.Data[i] = int(sample >> shift)
	}
	e.sampleBuf.Data = e.sampleBuf.Data[:len(buffer)]

	if err := e.wavEncoder.Write(e.sampleBuf); err != nil {
		e.writeErrs.Add(1)
		e.writeFailures++
		if e.writeFailures >= e.maxWriteFailure {
			atomic.StoreInt32(&e.isRecording, 0)
			e.logger.Errorf("Recording stopped after %d failed writes: %v", e.writeFailures, err)
		}
		return
	}
	e.writeFailures = 0
}

func (e *Engine) Close() error {
	if err := e.StopRecording(); err != nil {
		return err
	}

	if err := e.StopInputStream(); err != nil {
		return err
	}

	return nil
}
