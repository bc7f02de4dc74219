// SPDX-License-Identifier: MIT
// Package significance decides whether the structure in a token sequence is
// distinguishable from chance using a block shuffle Monte-Carlo test.
package significance

import (
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Verdict summarises a test result.
type Verdict string

const (
	SystemNoiseArtifact      Verdict = "SYSTEM_NOISE_ARTIFACT"
	StatisticallySignificant Verdict = "STATISTICALLY_SIGNIFICANT"
	PatternEmergent          Verdict = "PATTERN_EMERGENT"
	Stochastic               Verdict = "STOCHASTIC"
)

const (
	DefaultTrials              = 50
	DefaultMinTokens           = 15
	DefaultSkepticismThreshold = 1.5

	// Entropy (bits) below which a sequence counts as reliable whatever its
	// z-score.
	reliableEntropy = 2.5

	significantZ = 5
	emergentZ    = 2.5

	minStdDev      = 0.001
	maxCompression = 15
	compressionMul = 1.1
	entropyEpsilon = 1e-10
)

// Metrics is the result of one test.
type Metrics struct {
	NativeDelta      float64 `json:"nativeDelta"`
	ShuffledDelta    float64 `json:"shuffledDelta"`
	ZScore           float64 `json:"zScore"`
	CompressionRatio float64 `json:"compressionRatio"`
	Entropy          float64 `json:"entropy"`
	Verdict          Verdict `json:"verdict"`
	IsReliable       bool    `json:"isReliable"`
}

// Params configures the tester.
type Params struct {
	SkepticismThreshold float64
	// Trials is the number of shuffled surrogates.
	Trials int
	// MinTokens is the smallest sequence that is tested at all.
	MinTokens int
}

// DefaultParams returns the default test parameters.
func DefaultParams() Params {
	return Params{
		SkepticismThreshold: DefaultSkepticismThreshold,
		Trials:              DefaultTrials,
		MinTokens:           DefaultMinTokens,
	}
}

// Tester runs the shuffle test. A Tester owns its random source and is not
// safe for concurrent use.
type Tester struct {
	params Params
	rng    *rand.Rand

	// Reused between calls.
	shuffled []string
	deltas   []float64
}

// NewTester returns a Tester drawing permutations from rng. A nil rng is
// replaced by a PCG seeded from the clock.
func NewTester(params Params, rng *rand.Rand) *Tester {
	if params.Trials < 1 {
		params.Trials = DefaultTrials
	}
	if params.MinTokens < 1 {
		params.MinTokens = DefaultMinTokens
	}
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	return &Tester{
		params: params,
		rng:    rng,
		deltas: make([]float64, params.Trials),
	}
}

// Params returns the tester configuration.
func (t *Tester) Params() Params { return t.params }

// Test evaluates the sequence. It reports false when the sequence is too
// short to test.
func (t *Tester) Test(tokens []string) (Metrics, bool) {
	if len(tokens) < t.params.MinTokens {
		return Metrics{}, false
	}

	native := TransitionRate(tokens)

	t.shuffled = append(t.shuffled[:0], tokens...)
	for i := range t.deltas {
		t.rng.Shuffle(len(t.shuffled), func(a, b int) {
			t.shuffled[a], t.shuffled[b] = t.shuffled[b], t.shuffled[a]
		})
		t.deltas[i] = TransitionRate(t.shuffled)
	}

	mean, std := stat.PopMeanStdDev(t.deltas, nil)
	if std < minStdDev || math.IsNaN(std) {
		std = minStdDev
	}
	z := (mean - native) / std

	entropy := Entropy(tokens)
	reliable := z > t.params.SkepticismThreshold || entropy < reliableEntropy

	return Metrics{
		NativeDelta:      native,
		ShuffledDelta:    mean,
		ZScore:           z,
		CompressionRatio: CompressionRatio(tokens),
		Entropy:          entropy,
		Verdict:          verdict(z, reliable),
		IsReliable:       reliable,
	}, true
}

func verdict(z float64, reliable bool) Verdict {
	switch {
	case !reliable:
		return SystemNoiseArtifact
	case z > significantZ:
		return StatisticallySignificant
	case z > emergentZ:
		return PatternEmergent
	default:
		return Stochastic
	}
}

// TransitionRate is the number of adjacent changes divided by the sequence
// length. Empty sequences have rate 0.
func TransitionRate(seq []string) float64 {
	if len(seq) == 0 {
		return 0
	}
	changes := 0
	for i := 1; i < len(seq); i++ {
		if seq[i] != seq[i-1] {
			changes++
		}
	}
	return float64(changes) / float64(len(seq))
}

// Entropy returns the Shannon entropy of the token distribution in bits.
func Entropy(seq []string) float64 {
	if len(seq) == 0 {
		return 0
	}
	counts := make(map[string]int, 16)
	for _, s := range seq {
		counts[s]++
	}
	n := float64(len(seq))
	h := 0.0
	for _, c := range counts {
		p := float64(c) / n
		h -= p * math.Log2(p+entropyEpsilon)
	}
	// A single symbol gives -log2(1+eps), a hair below zero.
	return max(0, h)
}

// CompressionRatio estimates how repetitive a sequence is: length over the
// number of distinct tokens, scaled and capped.
func CompressionRatio(seq []string) float64 {
	if len(seq) == 0 {
		return 0
	}
	unique := make(map[string]struct{}, 16)
	for _, s := range seq {
		unique[s] = struct{}{}
	}
	return min(maxCompression, float64(len(seq))/float64(len(unique))*compressionMul)
}
