// SPDX-License-Identifier: MIT
package report

import (
	"context"
	"errors"
	"math"
	"slices"
	"strings"
	"testing"
	"time"

	"rosettas/internal/config"
	"rosettas/internal/pipeline"
	"rosettas/internal/topology"

	"google.golang.org/genai"
)

func framesWithLabels(labels ...string) []pipeline.Frame {
	frames := make([]pipeline.Frame, len(labels))
	for i, l := range labels {
		frames[i] = pipeline.Frame{Token: topology.Token{Label: l}}
	}
	return frames
}

func TestNewRequestWindow(t *testing.T) {
	tests := []struct {
		desc   string
		labels []string
		window int
		want   []string
	}{
		{"Shorter than window", []string{"a", "b"}, 15, []string{"a", "b"}},
		{"Keeps most recent", []string{"a", "b", "c", "d"}, 2, []string{"c", "d"}},
		{"Default window", slices.Repeat([]string{"x"}, 20), 0, slices.Repeat([]string{"x"}, DefaultWindow)},
		{"Empty history", nil, 15, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			req := NewRequest(framesWithLabels(tt.labels...), tt.window, "lab")
			if !slices.Equal(req.Labels, tt.want) {
				t.Errorf("labels = %v, want %v", req.Labels, tt.want)
			}
			if req.Context != "lab" {
				t.Errorf("context = %q", req.Context)
			}
		})
	}
}

func TestSafeFallsBackOnError(t *testing.T) {
	failing := GeneratorFunc(func(context.Context, Request) (Report, error) {
		return Report{}, errors.New("service unavailable")
	})

	rep, err := Safe(failing).Generate(context.Background(), Request{Labels: []string{"4:2"}})
	if err != nil {
		t.Fatalf("Safe must not return errors, got %v", err)
	}
	assertFallback(t, rep)
}

func TestSafeNilGenerator(t *testing.T) {
	rep, err := Safe(nil).Generate(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	assertFallback(t, rep)
}

func TestSafeRecoversPanic(t *testing.T) {
	panicking := GeneratorFunc(func(context.Context, Request) (Report, error) {
		panic("boom")
	})
	rep, err := Safe(panicking).Generate(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	assertFallback(t, rep)
}

func assertFallback(t *testing.T, rep Report) {
	t.Helper()
	if !rep.Degraded {
		t.Error("fallback report must be marked degraded")
	}
	if rep.EfficiencyRating != 0.1 || rep.ConfidenceInterval != 0 {
		t.Errorf("ratings = %v/%v, want 0.1/0", rep.EfficiencyRating, rep.ConfidenceInterval)
	}
	if rep.ComparativeContext != "Stochastic background" {
		t.Errorf("context = %q", rep.ComparativeContext)
	}
	if rep.FalsifiabilityWarning == nil || *rep.FalsifiabilityWarning != "High probability of stochastic hallucination." {
		t.Errorf("warning = %v", rep.FalsifiabilityWarning)
	}
}

func TestSafeClampsRatings(t *testing.T) {
	tests := []struct {
		desc                   string
		efficiency, confidence float64
		wantEff, wantConf      float64
	}{
		{"In range", 0.4, 0.9, 0.4, 0.9},
		{"Above one", 3, 1.5, 1, 1},
		{"Negative", -1, -0.1, 0, 0},
		{"NaN", math.NaN(), math.NaN(), 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			gen := GeneratorFunc(func(context.Context, Request) (Report, error) {
				return Report{EfficiencyRating: tt.efficiency, ConfidenceInterval: tt.confidence}, nil
			})
			rep, _ := Safe(gen).Generate(context.Background(), Request{})
			if rep.EfficiencyRating != tt.wantEff || rep.ConfidenceInterval != tt.wantConf {
				t.Errorf("got %v/%v, want %v/%v", rep.EfficiencyRating, rep.ConfidenceInterval, tt.wantEff, tt.wantConf)
			}
			if rep.Degraded {
				t.Error("successful report marked degraded")
			}
		})
	}
}

func TestSafeLeavesPipelineUntouched(t *testing.T) {
	p := pipeline.New(pipeline.DefaultParams())
	for _, f := range []float64{432, 432, 864} {
		if _, err := p.Process(f); err != nil {
			t.Fatal(err)
		}
	}
	before := p.History()

	failing := GeneratorFunc(func(context.Context, Request) (Report, error) {
		return Report{}, errors.New("timeout")
	})
	Safe(failing).Generate(context.Background(), NewRequest(p.History(), DefaultWindow, ""))

	if !slices.Equal(p.History(), before) {
		t.Error("report generation changed pipeline history")
	}
}

func TestReportString(t *testing.T) {
	s := Fallback().String()
	if !strings.Contains(s, "Stochastic background") || !strings.Contains(s, "Warning: High probability") {
		t.Errorf("String() = %q", s)
	}
}

// fakeModels captures the request and replays a canned response.
type fakeModels struct {
	text   string
	err    error
	model  string
	prompt string
	config *genai.GenerateContentConfig
	ctxDue bool
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.config = cfg
	_, f.ctxDue = ctx.Deadline()
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.prompt = contents[0].Parts[0].Text
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(f.text, genai.RoleModel)}},
	}, nil
}

func TestGeminiGenerate(t *testing.T) {
	fake := &fakeModels{text: `{"structuralAnalysis":"periodic","comparativeContext":"carrier tone","efficiencyRating":0.7,"confidenceInterval":0.6,"falsifiabilityWarning":null}`}
	gen := newGeminiGenerator(fake, config.ReportConfig{Timeout: time.Second})

	rep, err := gen.Generate(context.Background(), Request{Labels: []string{"4:2", "4:2"}, Context: "tuning fork"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if rep.StructuralAnalysis != "periodic" || rep.EfficiencyRating != 0.7 || rep.FalsifiabilityWarning != nil {
		t.Errorf("report = %+v", rep)
	}

	if fake.model != config.DefaultReportModel {
		t.Errorf("model = %q", fake.model)
	}
	if !fake.ctxDue {
		t.Error("timeout not applied to the request context")
	}
	if !strings.Contains(fake.prompt, "[4:2, 4:2]") || !strings.Contains(fake.prompt, "tuning fork") {
		t.Errorf("prompt = %q", fake.prompt)
	}
	if fake.config.ResponseMIMEType != "application/json" || fake.config.ResponseSchema == nil {
		t.Error("structured output not requested")
	}
}

func TestGeminiGenerateErrors(t *testing.T) {
	tests := []struct {
		desc string
		fake *fakeModels
	}{
		{"API error", &fakeModels{err: errors.New("quota exceeded")}},
		{"Invalid JSON", &fakeModels{text: "the signal is stochastic"}},
		{"Empty", &fakeModels{text: "  "}},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			gen := newGeminiGenerator(tt.fake, config.ReportConfig{Model: "test-model"})
			if _, err := gen.Generate(context.Background(), Request{}); err == nil {
				t.Error("expected error")
			}
			if tt.fake.model != "test-model" {
				t.Errorf("model = %q", tt.fake.model)
			}
			if tt.fake.ctxDue {
				t.Error("zero timeout must not set a deadline")
			}
		})
	}
}

func TestParseReportCodeFence(t *testing.T) {
	rep, err := parseReport("```json\n{\"structuralAnalysis\":\"x\",\"falsifiabilityWarning\":\"noise\"}\n```")
	if err != nil {
		t.Fatal(err)
	}
	if rep.StructuralAnalysis != "x" || rep.FalsifiabilityWarning == nil || *rep.FalsifiabilityWarning != "noise" {
		t.Errorf("report = %+v", rep)
	}
}

func TestBuildPromptDefaultContext(t *testing.T) {
	if p := buildPrompt(Request{}); !strings.Contains(p, config.DefaultReportContext) {
		t.Errorf("prompt = %q", p)
	}
}

func TestResponseSchemaRequiresAllFields(t *testing.T) {
	s := responseSchema()
	for name := range s.Properties {
		if !slices.Contains(s.Required, name) {
			t.Errorf("%s not required", name)
		}
	}
	if w := s.Properties["falsifiabilityWarning"]; w.Nullable == nil || !*w.Nullable {
		t.Error("falsifiabilityWarning must be nullable")
	}
}

func TestNewGeminiGeneratorMissingKey(t *testing.T) {
	t.Setenv("ROSETTAS_TEST_EMPTY_KEY", "")
	_, err := NewGeminiGenerator(context.Background(), config.ReportConfig{APIKeyEnv: "ROSETTAS_TEST_EMPTY_KEY"})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("err = %v, want ErrMissingAPIKey", err)
	}
}
