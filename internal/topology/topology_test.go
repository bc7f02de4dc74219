// SPDX-License-Identifier: MIT
package topology

import (
	"math"
	"testing"
)

func TestMapKnownFrequencies(t *testing.T) {
	mapper := NewMapper(DefaultBaselineHz)

	tests := []struct {
		desc string
		freq float64
		want Token
	}{
		{"Baseline", 432, Token{N: 3, M: 2, Betti0: 1, Betti1: 1, HarmonicComplexity: 0.6, Label: "β-1.1"}},
		{"1kHz", 1000, Token{N: 7, M: 3, Betti0: 2, Betti1: 2, HarmonicComplexity: 3.15, Label: "β-2.2"}},
		{"Low tone", 10, Token{N: 3, M: 1, Betti0: 1, Betti1: 0, HarmonicComplexity: 0.15, Label: "β-1.0"}},
		{"Sub-hertz", 0.5, Token{N: 3, M: 1, Betti0: 1, Betti1: 0, HarmonicComplexity: 0.15, Label: "β-1.0"}},
		{"20kHz", 20000, Token{N: 12, M: 4, Betti0: 4, Betti1: 3, HarmonicComplexity: 9.6, Label: "β-4.3"}},
		{"Ultrasonic", 1e7, Token{N: 12, M: 6, Betti0: 4, Betti1: 5, HarmonicComplexity: 21.6, Label: "β-4.5"}},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got := mapper.Map(tt.freq)
			if got.N != tt.want.N || got.M != tt.want.M ||
				got.Betti0 != tt.want.Betti0 || got.Betti1 != tt.want.Betti1 ||
				got.Label != tt.want.Label {
				t.Errorf("Map(%v) = %+v, want %+v", tt.freq, got, tt.want)
			}
			if math.Abs(got.HarmonicComplexity-tt.want.HarmonicComplexity) > 1e-9 {
				t.Errorf("Map(%v).HarmonicComplexity = %v, want %v",
					tt.freq, got.HarmonicComplexity, tt.want.HarmonicComplexity)
			}
		})
	}
}

func TestMapSilence(t *testing.T) {
	got := NewMapper(DefaultBaselineHz).Map(0)
	if got != Silence {
		t.Errorf("Map(0) = %+v, want %+v", got, Silence)
	}
	if !got.IsSilence() {
		t.Error("Map(0) should be silence")
	}
	if got.N != 0 || got.M != 0 || got.Betti0 != 0 || got.Betti1 != 0 || got.HarmonicComplexity != 0 {
		t.Errorf("silence token has non-zero fields: %+v", got)
	}
}

func TestMapClampingAndDeterminism(t *testing.T) {
	mapper := NewMapper(DefaultBaselineHz)

	for f := 0.01; f < 5e6; f *= 1.37 {
		a := mapper.Map(f)
		b := mapper.Map(f)
		if a != b {
			t.Fatalf("Map(%v) is not deterministic: %+v vs %+v", f, a, b)
		}
		if a.IsSilence() {
			t.Fatalf("Map(%v) returned silence for a positive frequency", f)
		}
		if a.N < MinSymmetry || a.N > MaxSymmetry {
			t.Errorf("Map(%v).N = %d out of [%d,%d]", f, a.N, MinSymmetry, MaxSymmetry)
		}
		if a.M < MinRings || a.M > MaxRings {
			t.Errorf("Map(%v).M = %d out of [%d,%d]", f, a.M, MinRings, MaxRings)
		}
		if a.Label != Label(a.Betti0, a.Betti1) {
			t.Errorf("Map(%v).Label = %q, not derived from Betti numbers", f, a.Label)
		}
	}
}

func TestMapBaseline(t *testing.T) {
	// Doubling the baseline halves the ratio: 864 Hz at baseline 864
	// lands where 432 Hz does at the default baseline, apart from m.
	got := NewMapper(864).Map(864)
	if got.N != 3 {
		t.Errorf("N = %d, want 3", got.N)
	}

	if NewMapper(-1).BaselineHz() != DefaultBaselineHz {
		t.Error("invalid baseline should fall back to the default")
	}
}

func TestValidFrequency(t *testing.T) {
	tests := []struct {
		f    float64
		want bool
	}{
		{0, true},
		{440, true},
		{-1, false},
		{math.NaN(), false},
		{math.Inf(1), false},
	}
	for _, tt := range tests {
		if got := ValidFrequency(tt.f); got != tt.want {
			t.Errorf("ValidFrequency(%v) = %v, want %v", tt.f, got, tt.want)
		}
	}
}

func TestDelta(t *testing.T) {
	a := Token{N: 3, M: 2}
	b := Token{N: 7, M: 1}
	if d := Delta(a, b); d != 5 {
		t.Errorf("Delta = %d, want 5", d)
	}
	if d := Delta(b, a); d != 5 {
		t.Errorf("Delta should be symmetric, got %d", d)
	}
	if d := Delta(Silence, a); d != 5 {
		t.Errorf("Delta from silence = %d, want 5", d)
	}
}

func TestMapZeroAllocsForSilence(t *testing.T) {
	mapper := NewMapper(DefaultBaselineHz)
	allocs := testing.AllocsPerRun(100, func() {
		_ = mapper.Map(0)
	})
	if allocs > 0 {
		t.Errorf("Map(0) allocated: got %.1f allocs, want 0", allocs)
	}
}

func BenchmarkMap(b *testing.B) {
	mapper := NewMapper(DefaultBaselineHz)
	b.ReportAllocs()
	for b.Loop() {
		_ = mapper.Map(440)
	}
}
