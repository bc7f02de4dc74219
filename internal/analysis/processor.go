// SPDX-License-Identifier: MIT
// Package analysis turns raw sample windows into the scalar signals the
// tokenizer consumes.
package analysis

// FrequencyExtractor reduces a window of samples to one dominant frequency
// in Hz, 0 meaning silence. Implementations run inside the audio callback
// and must not allocate.
type FrequencyExtractor interface {
	Process(inputBuffer []int32) float64
}

// SpectrumProvider exposes the spectrum behind the last extracted
// frequency, for displays.
type SpectrumProvider interface {
	Magnitudes() []float64
	FrequencyForBin(binIndex int) float64
	FFTSize() int
	SampleRate() float64
}
