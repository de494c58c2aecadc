package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/probeai/orchestrator/internal/retry"
)

const (
	DefaultGeminiFlash = "gemini-1.5-flash"
	DefaultGeminiPro   = "gemini-1.5-pro"
)

// geminiModels is the part of *genai.Models the client uses.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini generates text with the Google Gen AI SDK.
type Gemini struct {
	models geminiModels
	guard  *guard
}

// NewGemini creates a client for the Gemini API with an API key.
func NewGemini(ctx context.Context, apiKey string, cfg ProviderConfig, logger *zap.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return newGemini(client.Models, cfg, logger), nil
}

func newGemini(models geminiModels, cfg ProviderConfig, logger *zap.Logger) *Gemini {
	tiers := map[string]string{
		ModelFlash: orDefault(cfg.FlashModel, DefaultGeminiFlash),
		ModelPro:   orDefault(cfg.ProModel, DefaultGeminiPro),
	}
	return &Gemini{
		models: models,
		guard:  newGuard("gemini", tiers, retry.GeneratorPolicy(cfg.Timeout), logger),
	}
}

var _ Generator = (*Gemini)(nil)

func (g *Gemini) Enabled() bool { return true }

func (g *Gemini) Generate(ctx context.Context, req Request) (*Response, error) {
	return g.guard.run(ctx, req, g.complete)
}

func (g *Gemini) complete(ctx context.Context, model string, req Request) (*Response, error) {
	config := &genai.GenerateContentConfig{}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(*req.Temperature)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: req.Prompt}},
	}}

	resp, err := g.models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	out := &Response{Text: sb.String(), Model: model}
	if resp.UsageMetadata != nil {
		out.TokenUsage = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
