// SPDX-License-Identifier: MIT
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"rosettas/internal/config"

	"google.golang.org/genai"
)

var ErrMissingAPIKey = errors.New("report: API key not set")

const systemPrompt = `You analyse sequences of acoustic topology tokens produced by a deterministic
frequency-to-ratio mapping. Use Digital Signal Processing and linguistic terminology only.
Avoid metaphysical or spiritual claims. If the sequence lacks structure, state plainly that it is stochastic.`

// contentGenerator is the subset of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator asks a Gemini model for a JSON report matching
// responseSchema.
type GeminiGenerator struct {
	models  contentGenerator
	model   string
	timeout time.Duration
}

var _ Generator = (*GeminiGenerator)(nil)

// NewGeminiGenerator creates a client using the API key found in the
// environment variable named by cfg.APIKeyEnv.
func NewGeminiGenerator(ctx context.Context, cfg config.ReportConfig) (*GeminiGenerator, error) {
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = config.DefaultAPIKeyEnv
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrMissingAPIKey, keyEnv)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return newGeminiGenerator(client.Models, cfg), nil
}

func newGeminiGenerator(models contentGenerator, cfg config.ReportConfig) *GeminiGenerator {
	model := cfg.Model
	if model == "" {
		model = config.DefaultReportModel
	}
	return &GeminiGenerator{models: models, model: model, timeout: cfg.Timeout}
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (Report, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(float32(0.2)),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    responseSchema(),
	}

	resp, err := g.models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(buildPrompt(req), genai.RoleUser)}, cfg)
	if err != nil {
		return Report{}, fmt.Errorf("failed to generate content: %w", err)
	}

	return parseReport(resp.Text())
}

func buildPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("Topological sequence: [")
	sb.WriteString(strings.Join(req.Labels, ", "))
	sb.WriteString("]\nHuman context: ")
	if req.Context == "" {
		sb.WriteString(config.DefaultReportContext)
	} else {
		sb.WriteString(req.Context)
	}
	sb.WriteString("\n\nProvide a structural report on the isomorphism between this acoustic topology and known signal patterns.")
	return sb.String()
}

func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"structuralAnalysis": {Type: genai.TypeString},
			"comparativeContext": {Type: genai.TypeString},
			"efficiencyRating":   {Type: genai.TypeNumber},
			"confidenceInterval": {
				Type:        genai.TypeNumber,
				Description: "Statistical confidence in the pattern identification [0-1]",
			},
			"falsifiabilityWarning": {
				Type:        genai.TypeString,
				Nullable:    genai.Ptr(true),
				Description: "Warning if signal might be noise-induced artifact",
			},
		},
		Required: []string{
			"structuralAnalysis", "comparativeContext", "efficiencyRating",
			"confidenceInterval", "falsifiabilityWarning",
		},
	}
}

// parseReport decodes the model output, tolerating a markdown code fence.
func parseReport(text string) (Report, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return Report{}, errors.New("report: empty response")
	}

	var rep Report
	if err := json.Unmarshal([]byte(text), &rep); err != nil {
		return Report{}, fmt.Errorf("report: invalid JSON response: %w", err)
	}
	rep.Degraded = false
	return rep, nil
}
