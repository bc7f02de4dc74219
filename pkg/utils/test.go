// SPDX-License-Identifier: MIT
// Package utils holds signal generators and fakes shared by tests.
package utils

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
)

// ErrClosed is returned by MockTransport.Send after Close.
var ErrClosed = errors.New("mock transport closed")

// MockTransport records every payload it is sent instead of transmitting.
type MockTransport struct {
	mu     sync.Mutex
	sent   []any
	closed bool
	// Err, when set, is returned by Send and nothing is recorded.
	Err error
}

func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, data)
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Sent returns a copy of everything sent so far.
func (m *MockTransport) Sent() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.sent...)
}

// Len returns the number of recorded payloads.
func (m *MockTransport) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GenerateSineWave returns size samples of a sine at frequency with the given
// amplitude relative to full scale.
func GenerateSineWave(size int, sampleRate, frequency, amplitude float64) []int32 {
	buffer := make([]int32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = int32(math.Sin(2*math.Pi*frequency*t) * math.MaxInt32 * amplitude)
	}
	return buffer
}

// GenerateComplexWave returns a 440 Hz fundamental with two harmonics.
func GenerateComplexWave(size int, sampleRate float64) []int32 {
	buffer := make([]int32, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = int32(signal * math.MaxInt32 * 0.9)
	}
	return buffer
}

// GenerateToneSequence concatenates one tone of samplesEach samples per
// frequency. A zero frequency produces silence.
func GenerateToneSequence(freqs []float64, samplesEach int, sampleRate, amplitude float64) []int32 {
	out := make([]int32, 0, len(freqs)*samplesEach)
	for _, f := range freqs {
		if f == 0 {
			out = append(out, make([]int32, samplesEach)...)
			continue
		}
		out = append(out, GenerateSineWave(samplesEach, sampleRate, f, amplitude)...)
	}
	return out
}

// GenerateNoise returns uniform white noise from a seeded source.
func GenerateNoise(size int, amplitude float64, seed uint64) []int32 {
	rng := rand.New(rand.NewPCG(seed, seed))
	buffer := make([]int32, size)
	for i := range buffer {
		buffer[i] = int32((rng.Float64()*2 - 1) * math.MaxInt32 * amplitude)
	}
	return buffer
}

// FindPeakBin returns the index of the largest magnitude in
// [startBin, endBin], clamped to the slice.
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
