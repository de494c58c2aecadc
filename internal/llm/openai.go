package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/probeai/orchestrator/internal/retry"
)

const (
	DefaultOpenAIFlash = "gpt-4o-mini"
	DefaultOpenAIPro   = "gpt-4o"
)

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI generates text with any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client chatCompleter
	guard  *guard
}

// NewOpenAI creates a client. cfg.BaseURL selects a compatible endpoint.
func NewOpenAI(apiKey string, cfg ProviderConfig, logger *zap.Logger) *OpenAI {
	oc := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return newOpenAI(openai.NewClientWithConfig(oc), cfg, logger)
}

func newOpenAI(client chatCompleter, cfg ProviderConfig, logger *zap.Logger) *OpenAI {
	tiers := map[string]string{
		ModelFlash: orDefault(cfg.FlashModel, DefaultOpenAIFlash),
		ModelPro:   orDefault(cfg.ProModel, DefaultOpenAIPro),
	}
	return &OpenAI{
		client: client,
		guard:  newGuard("openai", tiers, retry.GeneratorPolicy(cfg.Timeout), logger),
	}
}

var _ Generator = (*OpenAI)(nil)

func (o *OpenAI) Enabled() bool { return true }

func (o *OpenAI) Generate(ctx context.Context, req Request) (*Response, error) {
	return o.guard.run(ctx, req, o.complete)
}

func (o *OpenAI) complete(ctx context.Context, model string, req Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	creq := openai.ChatCompletionRequest{Model: model, Messages: messages}
	if req.Temperature != nil {
		creq.Temperature = *req.Temperature
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	return &Response{
		Text:       resp.Choices[0].Message.Content,
		Model:      resp.Model,
		TokenUsage: resp.Usage.TotalTokens,
	}, nil
}
