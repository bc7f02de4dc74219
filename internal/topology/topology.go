// SPDX-License-Identifier: MIT
/*
Package topology maps a spectral peak frequency onto a small topological
descriptor, the AcousticToken.

The mapping is a fixed formula relative to a baseline frequency:

	ratio  = f / baseline
	n      = clamp(round(3 * ratio), 3, 12)      symmetry order
	m      = clamp(floor(log10(f + 1)), 1, 6)    radial ring count
	β0     = max(1, round(n / 3))
	β1     = max(0, m - 1)
	label  = "β-{β0}.{β1}"

A frequency of exactly 0 is silence and maps to the SILENCE token with every
numeric field zero.
*/
package topology

import (
	"fmt"
	"math"
)

const (
	// SilenceLabel is the label carried by the token for a 0 Hz frame.
	SilenceLabel = "SILENCE"

	// DefaultBaselineHz is the reference frequency for the harmonic ratio.
	DefaultBaselineHz = 432.0

	MinSymmetry = 3
	MaxSymmetry = 12
	MinRings    = 1
	MaxRings    = 6
)

// Token is the per-frame topological descriptor. It is a plain value and is
// never mutated after Map returns it.
type Token struct {
	N                  int     `json:"n"`
	M                  int     `json:"m"`
	Betti0             int     `json:"betti0"`
	Betti1             int     `json:"betti1"`
	HarmonicComplexity float64 `json:"harmonicComplexity"`
	Label              string  `json:"label"`
}

// Silence is the token produced for frequency 0.
var Silence = Token{Label: SilenceLabel}

// IsSilence reports whether t is the silence token.
func (t Token) IsSilence() bool {
	return t.Label == SilenceLabel
}

// Mapper converts frequencies to tokens against a fixed baseline.
type Mapper struct {
	baselineHz float64
}

// NewMapper returns a Mapper for the given baseline. A non-positive baseline
// falls back to DefaultBaselineHz.
func NewMapper(baselineHz float64) *Mapper {
	if baselineHz <= 0 || math.IsNaN(baselineHz) || math.IsInf(baselineHz, 0) {
		baselineHz = DefaultBaselineHz
	}
	return &Mapper{baselineHz: baselineHz}
}

// BaselineHz returns the configured baseline.
func (mp *Mapper) BaselineHz() float64 {
	return mp.baselineHz
}

// Map returns the token for freq. freq must satisfy ValidFrequency; other
// values produce an unspecified token.
func (mp *Mapper) Map(freq float64) Token {
	if freq == 0 {
		return Silence
	}

	ratio := freq / mp.baselineHz

	n := clamp(int(math.Round(ratio*3)), MinSymmetry, MaxSymmetry)
	m := clamp(int(math.Floor(math.Log10(freq+1))), MinRings, MaxRings)

	betti0 := max(1, int(math.Round(float64(n)/3)))
	betti1 := max(0, m-1)

	return Token{
		N:                  n,
		M:                  m,
		Betti0:             betti0,
		Betti1:             betti1,
		HarmonicComplexity: float64(n*m*(betti1+1)) / 20,
		Label:              Label(betti0, betti1),
	}
}

// Label formats the label for a pair of Betti numbers.
func Label(betti0, betti1 int) string {
	return fmt.Sprintf("β-%d.%d", betti0, betti1)
}

// ValidFrequency reports whether f is an acceptable input for Map.
func ValidFrequency(f float64) bool {
	return f >= 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// Delta is the L1 distance between two tokens' (n, m) pairs.
func Delta(prev, cur Token) int {
	return absInt(cur.N-prev.N) + absInt(cur.M-prev.M)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
