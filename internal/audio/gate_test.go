// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"testing"
)

func TestGateEnable(t *testing.T) {
	engine := &Engine{
		gateEnabled:   false,
		gateThreshold: lowThreshold,
	}

	engine.EnableGate()
	engine.EnableGate() // Multiple calls should be idempotent
	if !engine.gateEnabled {
		t.Error("Gate should be enabled after EnableGate()")
	}

	engine.DisableGate()
	engine.DisableGate()
	if engine.gateEnabled {
		t.Error("Gate should be disabled after DisableGate()")
	}
	if !engine.gateOpen(quietBuffer) {
		t.Error("A disabled gate must pass every buffer")
	}
}

func TestGateThresholdBoundaries(t *testing.T) {
	tests := []struct {
		input    float64
		expected float64
	}{
		{-0.1, 0.0}, // Below min
		{0.0, 0.0},
		{0.5, 0.5},
		{1.0, 1.0},
		{1.5, 1.0}, // Above max
	}

	engine := &Engine{gateEnabled: true}

	for _, tt := range tests {
		t.Run(formatFloat(tt.input), func(t *testing.T) {
			engine.SetGateThreshold(tt.input)
			got := engine.GetGateThreshold()

			if absFloat(got-tt.expected) > 0.001 {
				t.Errorf("Gate threshold conversion: got %.3f, want %.3f", got, tt.expected)
			}
		})
	}
}

func TestGateThresholdPrecision(t *testing.T) {
	engine := &Engine{}

	for _, ratio := range []float64{0.0, 0.1, 0.25, 0.5, 0.75, 0.999, 1.0} {
		t.Run(formatFloat(ratio), func(t *testing.T) {
			engine.SetGateThreshold(ratio)
			if result := engine.GetGateThreshold(); absFloat(result-ratio) > 0.0001 {
				t.Errorf("Threshold conversion error: got %.6f, want %.6f", result, ratio)
			}

			expectedInt32 := int32(ratio * float64(math.MaxInt32))
			if absInt32(expectedInt32-engine.gateThreshold) > 100 {
				t.Errorf("Int32 threshold mismatch: got %d, want %d", engine.gateThreshold, expectedInt32)
			}
		})
	}
}

func TestPeakAmplitude(t *testing.T) {
	tests := []struct {
		desc   string
		buffer []int32
		want   int32
	}{
		{"Empty", nil, 0},
		{"Silence", make([]int32, 16), 0},
		{"Positive", []int32{1, 5, 3}, 5},
		{"Negative dominates", []int32{4, -9, 2}, 9},
		{"Full scale", []int32{math.MaxInt32, -math.MaxInt32}, math.MaxInt32},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if got := peakAmplitude(tt.buffer); got != tt.want {
				t.Errorf("peakAmplitude = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGateDetection(t *testing.T) {
	tests := []struct {
		desc          string
		buffer        []int32
		gateEnabled   bool
		threshold     float64
		shouldTrigger bool
	}{
		{"Gate disabled/Quiet signal", quietBuffer, false, 0.1, true},
		{"Gate disabled/Loud signal", loudBuffer, false, 0.1, true},
		{"Gate enabled/Quiet signal/Low threshold", quietBuffer, true, 0.0001, true},
		{"Gate enabled/Quiet signal/Mid threshold", quietBuffer, true, 0.1, false},
		{"Gate enabled/Loud signal/Mid threshold", loudBuffer, true, 0.1, true},
		{"Gate enabled/Loud signal/High threshold", loudBuffer, true, 0.999, false},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			engine := &Engine{gateEnabled: tt.gateEnabled}
			engine.SetGateThreshold(tt.threshold)

			if got := engine.gateOpen(tt.buffer); got != tt.shouldTrigger {
				t.Errorf("gateOpen = %v, want %v (max amplitude=%d, threshold=%d)",
					got, tt.shouldTrigger, peakAmplitude(tt.buffer), engine.gateThreshold)
			}
		})
	}
}

func TestGateOpenNoAllocs(t *testing.T) {
	engine := &Engine{gateEnabled: true, gateThreshold: lowThreshold}

	allocs := testing.AllocsPerRun(100, func() {
		_ = engine.gateOpen(testBuffer)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in noise gate hot path, got %.1f", allocs)
	}
}

func BenchmarkGateThresholdConversion(b *testing.B) {
	engine := &Engine{}
	values := []float64{0.0, 0.25, 0.5, 0.75, 1.0}

	for _, v := range values {
		b.Run(formatFloat(v), func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				engine.SetGateThreshold(v)
				_ = engine.GetGateThreshold()
			}
		})
	}
}

func BenchmarkGateOpen(b *testing.B) {
	benchmarks := []struct {
		name      string
		buffer    []int32
		threshold int32
		enabled   bool
	}{
		{"Gate disabled/Normal", testBuffer, lowThreshold, false},
		{"Gate enabled/Quiet signal/Low threshold", quietBuffer, lowThreshold, true},
		{"Gate enabled/Normal signal/Low threshold", testBuffer, lowThreshold, true},
		{"Gate enabled/Loud signal/High threshold", loudBuffer, highThreshold, true},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			engine := &Engine{
				gateEnabled:   bm.enabled,
				gateThreshold: bm.threshold,
			}

			b.ReportAllocs()
			for b.Loop() {
				_ = engine.gateOpen(bm.buffer)
			}
		})
	}
}

// absInt32 returns the absolute value of x.
func absInt32(x int32) int32 {
	mask := x >> 31
	return (x ^ mask) - mask
}
