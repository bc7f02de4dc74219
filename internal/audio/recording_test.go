// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func newTestEngine() *Engine {
	return newEngine(testAudioConfig(2, 1024, testFrameSize), constExtractor(0), discardSink{})
}

func TestRecordingName(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	got := RecordingName("out", now)
	if want := filepath.Join("out", "rosettas-20260304-050607.wav"); got != want {
		t.Errorf("RecordingName = %q, want %q", got, want)
	}
}

func TestRecordingStartStop(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "nested", "test_recording.wav")
	engine := newTestEngine()

	if err := engine.StartRecording(filename); err != nil {
		t.Fatalf("Failed to start recording: %v", err)
	}

	if !engine.IsRecording() {
		t.Error("Engine should be in recording state")
	}
	if engine.RecordingPath() != filename {
		t.Errorf("RecordingPath = %q", engine.RecordingPath())
	}
	if engine.outputFile == nil || engine.wavEncoder == nil || engine.sampleBuf == nil {
		t.Fatal("Recording resources should be initialized")
	}

	if engine.sampleBuf.Format.NumChannels != engine.config.InputChannels {
		t.Errorf("Buffer channels mismatch: got %d, want %d",
			engine.sampleBuf.Format.NumChannels, engine.config.InputChannels)
	}
	if engine.sampleBuf.Format.SampleRate != int(engine.config.SampleRate) {
		t.Errorf("Buffer sample rate mismatch: got %d, want %d",
			engine.sampleBuf.Format.SampleRate, int(engine.config.SampleRate))
	}
	if len(engine.sampleBuf.Data) != engine.config.HopSize*engine.config.InputChannels {
		t.Errorf("Buffer size mismatch: got %d, want %d",
			len(engine.sampleBuf.Data), engine.config.HopSize*engine.config.InputChannels)
	}

	outputFile := engine.outputFile

	if err := engine.StopRecording(); err != nil {
		t.Fatalf("Failed to stop recording: %v", err)
	}

	if engine.IsRecording() {
		t.Error("Engine should not be in recording state after stopping")
	}
	if engine.outputFile != nil || engine.wavEncoder != nil {
		t.Error("Recording resources should be released after stopping")
	}
	if err := outputFile.Close(); err == nil {
		t.Error("File should already be closed")
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		t.Error("Recording file was not created")
	}
}

func TestRecordingErrorCases(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		desc          string
		filename      string
		isRecording   int32
		bitDepth      int
		expectError   bool
		errorContains string
	}{
		{"Already recording", filepath.Join(dir, "valid.wav"), 1, 32, true, "already recording"},
		{"Directory is a file", filepath.Join(blocker, "sub", "file.wav"), 0, 32, true, "recording directory"},
		{"Unsupported bit depth", filepath.Join(dir, "eight.wav"), 0, 8, true, "unsupported bit depth"},
		{"Valid path", filepath.Join(dir, "test.wav"), 0, 16, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			engine := newTestEngine()
			engine.bitDepth = tt.bitDepth
			atomic.StoreInt32(&engine.isRecording, tt.isRecording)

			err := engine.StartRecording(tt.filename)
			if err == nil {
				_ = engine.StopRecording()
			}

			if tt.expectError && err == nil {
				t.Errorf("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if tt.errorContains != "" && err != nil && !strings.Contains(err.Error(), tt.errorContains) {
				t.Errorf("Error %q does not contain %q", err.Error(), tt.errorContains)
			}
		})
	}
}

func TestStopWhenNotRecording(t *testing.T) {
	if err := newTestEngine().StopRecording(); err != nil {
		t.Errorf("StopRecording on idle engine: %v", err)
	}
}

func TestRecordingWritesBitDepth(t *testing.T) {
	tests := []struct {
		bitDepth int
		want     int
	}{
		{16, 0x4000},
		{24, 0x400000},
		{32, 0x40000000},
	}

	for _, tt := range tests {
		t.Run(formatFloat(float64(tt.bitDepth)), func(t *testing.T) {
			filename := filepath.Join(t.TempDir(), "depth.wav")
			engine := newEngine(testAudioConfig(1, 4, 4), constExtractor(0), discardSink{})
			engine.bitDepth = tt.bitDepth

			if err := engine.StartRecording(filename); err != nil {
				t.Fatal(err)
			}
			engine.writeRecording([]int32{0x40000000, 0, -0x40000000, 0})
			if err := engine.StopRecording(); err != nil {
				t.Fatal(err)
			}

			f, err := os.Open(filename)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()
			dec := wav.NewDecoder(f)
			buf, err := dec.FullPCMBuffer()
			if err != nil {
				t.Fatal(err)
			}
			if int(dec.BitDepth) != tt.bitDepth {
				t.Errorf("file bit depth = %d", dec.BitDepth)
			}
			if len(buf.Data) != 4 || buf.Data[0] != tt.want || buf.Data[2] != -tt.want {
				t.Errorf("samples = %v, want ±%#x", buf.Data, tt.want)
			}
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }
func (failingWriter) Seek(int64, int) (int64, error) { return 0, nil }

func TestRecordingStopsAfterWriteFailures(t *testing.T) {
	engine := newEngine(testAudioConfig(1, 4, 4), constExtractor(0), discardSink{})
	engine.wavEncoder = wav.NewEncoder(failingWriter{}, int(testSampleRate), 32, 1, 1)
	engine.sampleBuf = &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: int(testSampleRate)},
		Data:   make([]int, 4),
	}
	atomic.StoreInt32(&engine.isRecording, 1)

	for range engine.maxWriteFailure - 1 {
		engine.processInputStream([]int32{1, 2, 3, 4})
	}
	if !engine.IsRecording() {
		t.Fatal("recording stopped before the failure limit")
	}

	engine.processInputStream([]int32{1, 2, 3, 4})
	if engine.IsRecording() {
		t.Error("recording should stop after consecutive write failures")
	}
	_, _, writeErrs := engine.Stats()
	if writeErrs != uint64(engine.maxWriteFailure) {
		t.Errorf("write errors = %d, want %d", writeErrs, engine.maxWriteFailure)
	}
	if frames, _, _ := engine.Stats(); frames != uint64(engine.maxWriteFailure) {
		t.Errorf("analysis must continue while recording fails: frames = %d", frames)
	}
	engine.wavEncoder = nil
}

func TestCloseEngineWithRecording(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "test_close_engine.wav")
	engine := newTestEngine()

	if err := engine.StartRecording(filename); err != nil {
		t.Fatalf("Failed to start recording: %v", err)
	}

	if err := engine.Close(); err != nil {
		t.Fatalf("Failed to close engine: %v", err)
	}

	if engine.IsRecording() {
		t.Error("Engine should not be in recording state after Close()")
	}
	if engine.outputFile != nil || engine.wavEncoder != nil {
		t.Error("Recording resources should be released after Close()")
	}
}

func BenchmarkRecordingStartStop(b *testing.B) {
	engine := newTestEngine()
	dir := b.TempDir()

	b.ReportAllocs()
	for b.Loop() {
		filename := filepath.Join(dir, "bench.wav")
		_ = os.Remove(filename)
		_ = engine.StartRecording(filename)
		_ = engine.StopRecording()
	}
}

func BenchmarkRecordingWrite(b *testing.B) {
	engine := newEngine(testAudioConfig(1, testFrameSize, testFrameSize), constExtractor(0), discardSink{})
	if err := engine.StartRecording(filepath.Join(b.TempDir(), "bench_process.wav")); err != nil {
		b.Fatal(err)
	}
	defer engine.StopRecording()

	b.ReportAllocs()
	for b.Loop() {
		engine.writeRecording(testBuffer)
	}
}
