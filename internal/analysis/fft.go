// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math/cmplx"
	"strings"
	"sync"

	"rosettas/internal/log"
	"rosettas/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc defines the type for selecting an FFT window function.
type WindowFunc int

// Enum for available window functions.
const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

var windowNames = [...]string{
	BartlettHann:    "BartlettHann",
	Blackman:        "Blackman",
	BlackmanNuttall: "BlackmanNuttall",
	Hann:            "Hann",
	Hamming:         "Hamming",
	Lanczos:         "Lanczos",
	Nuttall:         "Nuttall",
}

func (w WindowFunc) String() string {
	if w >= 0 && int(w) < len(windowNames) {
		return windowNames[w]
	}
	return fmt.Sprintf("WindowFunc(%d)", int(w))
}

// DefaultNoiseThreshold is the normalised peak magnitude below which a
// window is reported as silence.
const DefaultNoiseThreshold = 0.05

// Normalization factor for int32 to float64 range [-1.0, 1.0).
const normFactor = 1.0 / float64(0x80000000)

// Pre-allocated buffers for FFT calculations.
type fftWorkspace struct {
	input     []float64    // Windowed input signal.
	fftOutput []complex128 // FFT complex results.
	magnitude []float64    // Calculated magnitudes.
	window    []float64    // Pre-calculated window coefficients.
	mu        sync.RWMutex // Protects the magnitude buffer against readers.
}

// PeakExtractor reduces a window of samples to its dominant frequency: the
// centre of the strongest FFT bin, or 0 when that bin is below the noise
// floor.
type PeakExtractor struct {
	fftCalculator  *fourier.FFT
	fftSize        int
	sampleRate     float64
	noiseThreshold float64
	// Amplitude of a full-scale sine at the peak bin, sum(window)/2.
	peakGain  float64
	workspace fftWorkspace

	peak      int
	peakLevel float64
}

var _ FrequencyExtractor = (*PeakExtractor)(nil)
var _ SpectrumProvider = (*PeakExtractor)(nil)

// NewPeakExtractor creates an extractor for windows of fftSize samples. A
// non-positive noiseThreshold disables the noise floor.
func NewPeakExtractor(fftSize int, sampleRate float64, windowType WindowFunc, noiseThreshold float64) (*PeakExtractor, error) {
	if !bitint.IsPowerOfTwo(fftSize) {
		return nil, fmt.Errorf("fft size must be a power of 2, got %d", fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}

	windowCoeffs := make([]float64, fftSize)
	applyWindow(windowCoeffs, windowType)

	var sum float64
	for _, c := range windowCoeffs {
		sum += c
	}

	// FFT output size for real input is N/2 + 1 complex values.
	magnitudeSize := fftSize/2 + 1

	log.Debugf("analysis: PeakExtractor (size %d, %d stages, %.2f Hz/bin, window %v, noise floor %.3f)",
		fftSize, bitint.Log2(fftSize), sampleRate/float64(fftSize), windowType, noiseThreshold)

	return &PeakExtractor{
		fftCalculator:  fourier.NewFFT(fftSize),
		fftSize:        fftSize,
		sampleRate:     sampleRate,
		noiseThreshold: noiseThreshold,
		peakGain:       sum / 2,
		workspace: fftWorkspace{
			input:     make([]float64, fftSize),
			fftOutput: make([]complex128, magnitudeSize),
			magnitude: make([]float64, magnitudeSize),
			window:    windowCoeffs,
		},
	}, nil
}

// Process applies the window, runs the FFT and returns the dominant
// frequency in Hz. Shorter input is zero padded, longer input truncated.
func (p *PeakExtractor) Process(inputBuffer []int32) float64 {
	ws := &p.workspace
	ws.mu.Lock()
	defer ws.mu.Unlock()

	inputLen := len(inputBuffer)
	for i := range p.fftSize {
		if i < inputLen {
			ws.input[i] = float64(inputBuffer[i]) * normFactor * ws.window[i]
		} else {
			ws.input[i] = 0
		}
	}

	p.fftCalculator.Coefficients(ws.fftOutput, ws.input)

	// Bin 0 is DC and never a candidate. First maximum wins.
	p.peak = 0
	best := 0.0
	for i, c := range ws.fftOutput {
		m := cmplx.Abs(c)
		ws.magnitude[i] = m
		if i > 0 && m > best {
			best = m
			p.peak = i
		}
	}

	p.peakLevel = 0
	if p.peakGain > 0 {
		p.peakLevel = best / p.peakGain
	}

	if p.peak == 0 || p.peakLevel < p.noiseThreshold {
		return 0
	}
	return p.FrequencyForBin(p.peak)
}

// PeakLevel returns the normalised magnitude of the last peak, roughly the
// peak amplitude of the dominant sinusoid relative to full scale.
func (p *PeakExtractor) PeakLevel() float64 {
	p.workspace.mu.RLock()
	defer p.workspace.mu.RUnlock()
	return p.peakLevel
}

// Magnitudes returns a copy of the latest magnitude spectrum.
func (p *PeakExtractor) Magnitudes() []float64 {
	p.workspace.mu.RLock()
	defer p.workspace.mu.RUnlock()

	magCopy := make([]float64, len(p.workspace.magnitude))
	copy(magCopy, p.workspace.magnitude)
	return magCopy
}

// MagnitudesInto copies the latest spectrum into dest, which must have
// FFTSize()/2+1 elements.
func (p *PeakExtractor) MagnitudesInto(dest []float64) error {
	p.workspace.mu.RLock()
	defer p.workspace.mu.RUnlock()

	if len(dest) != len(p.workspace.magnitude) {
		return fmt.Errorf("destination slice length %d does not match required length %d", len(dest), len(p.workspace.magnitude))
	}
	copy(dest, p.workspace.magnitude)
	return nil
}

// FrequencyForBin returns the centre frequency (Hz) of an FFT bin, or 0 for
// an index outside the spectrum.
func (p *PeakExtractor) FrequencyForBin(binIndex int) float64 {
	if binIndex < 0 || binIndex >= len(p.workspace.fftOutput) {
		return 0.0
	}
	return float64(binIndex) * (p.sampleRate / float64(p.fftSize))
}

func (p *PeakExtractor) FFTSize() int { return p.fftSize }

func (p *PeakExtractor) SampleRate() float64 { return p.sampleRate }

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc
// enum, returns a known default (Hann) and an error if the name is unknown.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(name) {
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Hann, fmt.Errorf("unknown FFT window function name: '%s'", name)
	}
}

// applyWindow fills coeffs with the selected window. Unknown types fall
// back to Hann.
func applyWindow(coeffs []float64, windowType WindowFunc) {
	// The gonum window funcs scale in place.
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch windowType {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		log.Warnf("analysis: unknown window function type %d, defaulting to Hann", windowType)
		window.Hann(coeffs)
	}
}
