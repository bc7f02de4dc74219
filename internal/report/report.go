// SPDX-License-Identifier: MIT
// Package report produces narrative structural reports from recent token
// labels. Reports are advisory: a failing generator degrades to a fixed
// fallback report and never touches pipeline state.
package report

import (
	"context"
	"fmt"
	"math"

	"rosettas/internal/log"
	"rosettas/internal/pipeline"
)

// DefaultWindow is the number of most recent labels sent with a request.
const DefaultWindow = 15

// Request is the input of a report.
type Request struct {
	Labels  []string `json:"labels"`
	Context string   `json:"context"` // Free-text description supplied by a human.
}

// Report is a structural analysis of a token sequence.
type Report struct {
	StructuralAnalysis    string  `json:"structuralAnalysis"`
	ComparativeContext    string  `json:"comparativeContext"`
	EfficiencyRating      float64 `json:"efficiencyRating"`
	ConfidenceInterval    float64 `json:"confidenceInterval"`
	FalsifiabilityWarning *string `json:"falsifiabilityWarning"`

	// Degraded is set on the fallback report.
	Degraded bool `json:"degraded,omitempty"`
}

// Generator turns a request into a report.
type Generator interface {
	Generate(ctx context.Context, req Request) (Report, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (Report, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Report, error) {
	return f(ctx, req)
}

const fallbackWarning = "High probability of stochastic hallucination."

// Fallback returns the report used whenever generation fails.
func Fallback() Report {
	warning := fallbackWarning
	return Report{
		StructuralAnalysis:    "Signal entropy exceeds structural thresholds for reliable analysis.",
		ComparativeContext:    "Stochastic background",
		EfficiencyRating:      0.1,
		ConfidenceInterval:    0,
		FalsifiabilityWarning: &warning,
		Degraded:              true,
	}
}

// NewRequest builds a request from the last window frames of history, using
// token labels. A non-positive window uses DefaultWindow.
func NewRequest(history []pipeline.Frame, window int, context string) Request {
	if window <= 0 {
		window = DefaultWindow
	}
	start := max(0, len(history)-window)

	labels := make([]string, 0, len(history)-start)
	for _, f := range history[start:] {
		labels = append(labels, f.Token.Label)
	}
	return Request{Labels: labels, Context: context}
}

// Safe wraps gen so that Generate never fails: errors, panics and a nil gen
// all yield Fallback(). Ratings of successful reports are clamped to [0,1].
func Safe(gen Generator) Generator {
	return &safeGenerator{gen: gen, logger: log.New("report")}
}

type safeGenerator struct {
	gen    Generator
	logger *log.Logger
}

func (s *safeGenerator) Generate(ctx context.Context, req Request) (rep Report, err error) {
	if s.gen == nil {
		return Fallback(), nil
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("Generator panicked: %v", r)
			rep, err = Fallback(), nil
		}
	}()

	rep, err = s.gen.Generate(ctx, req)
	if err != nil {
		s.logger.Warnf("Report generation failed, using fallback: %v", err)
		return Fallback(), nil
	}

	rep.EfficiencyRating = clamp01(rep.EfficiencyRating)
	rep.ConfidenceInterval = clamp01(rep.ConfidenceInterval)
	return rep, nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return min(max(v, 0), 1)
}

// String renders the report for terminals.
func (r Report) String() string {
	s := fmt.Sprintf("Structural analysis: %s\nComparative context: %s\nEfficiency: %.2f  Confidence: %.2f",
		r.StructuralAnalysis, r.ComparativeContext, r.EfficiencyRating, r.ConfidenceInterval)
	if r.FalsifiabilityWarning != nil && *r.FalsifiabilityWarning != "" {
		s += "\nWarning: " + *r.FalsifiabilityWarning
	}
	return s
}
