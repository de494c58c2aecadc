package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/probeai/orchestrator/internal/retry"
	"github.com/probeai/orchestrator/internal/session"
)

type fakeGemini struct {
	calls  int
	model  string
	config *genai.GenerateContentConfig
	prompt string
	errs   []error
	text   string
}

func (f *fakeGemini) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.model = model
	f.config = config
	f.prompt = contents[0].Parts[0].Text
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: f.text[:3]}, {Text: f.text[3:]}}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{TotalTokenCount: 42},
	}, nil
}

func fastGemini(t *testing.T, f *fakeGemini) *Gemini {
	g := newGemini(f, ProviderConfig{Timeout: time.Second}, zaptest.NewLogger(t))
	g.guard.policy.InitialInterval = time.Millisecond
	return g
}

func TestGeminiGenerate(t *testing.T) {
	f := &fakeGemini{text: `{"mode":"deep_probe"}`}
	g := fastGemini(t, f)

	resp, err := g.Generate(context.Background(), Request{
		System:      "classify",
		Prompt:      "query",
		Model:       ModelPro,
		JSON:        true,
		Temperature: Temperature(0.2),
		Caller:      "analyzer",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"mode":"deep_probe"}`, resp.Text)
	assert.Equal(t, DefaultGeminiPro, resp.Model)
	assert.Equal(t, 42, resp.TokenUsage)

	assert.Equal(t, DefaultGeminiPro, f.model)
	assert.Equal(t, "application/json", f.config.ResponseMIMEType)
	assert.Equal(t, "classify", f.config.SystemInstruction.Parts[0].Text)
	assert.InDelta(t, 0.2, *f.config.Temperature, 1e-6)
	assert.Equal(t, "query", f.prompt)
}

func TestGeminiModelResolution(t *testing.T) {
	f := &fakeGemini{text: "hello"}
	g := fastGemini(t, f)

	_, err := g.Generate(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, DefaultGeminiFlash, f.model)

	_, err = g.Generate(context.Background(), Request{Prompt: "p", Model: "gemini-2.0-flash"})
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", f.model)
}

func TestGeminiRetriesOnceThenWrapsProviderError(t *testing.T) {
	f := &fakeGemini{text: "hello", errs: []error{errors.New("unavailable")}}
	g := fastGemini(t, f)
	resp, err := g.Generate(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, 2, f.calls)

	f = &fakeGemini{errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	g = fastGemini(t, f)
	_, err = g.Generate(context.Background(), Request{Prompt: "p"})
	var pe *session.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "gemini", pe.Provider)
	assert.Equal(t, 2, f.calls)
}

type fakeChat struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, nil
}

func TestOpenAIGenerate(t *testing.T) {
	f := &fakeChat{resp: openai.ChatCompletionResponse{
		Model:   "gpt-4o-mini-2024",
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: `{"ok":true}`}}},
		Usage:   openai.Usage{TotalTokens: 7},
	}}
	o := newOpenAI(f, ProviderConfig{Timeout: time.Second}, zaptest.NewLogger(t))

	var out struct{ OK bool }
	resp, err := GenerateJSON(context.Background(), o, Request{System: "sys", Prompt: "p"}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, 7, resp.TokenUsage)
	assert.Equal(t, DefaultOpenAIFlash, f.req.Model)
	require.Len(t, f.req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, f.req.Messages[0].Role)
	require.NotNil(t, f.req.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, f.req.ResponseFormat.Type)
}

func TestOpenAIEmptyChoices(t *testing.T) {
	o := newOpenAI(&fakeChat{}, ProviderConfig{Timeout: time.Second}, zaptest.NewLogger(t))
	o.guard.policy.InitialInterval = time.Millisecond
	_, err := o.Generate(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGuardTreatsNilResponseAsEmpty(t *testing.T) {
	g := newGuard("nil-provider", map[string]string{ModelFlash: "flash"}, retry.GeneratorPolicy(time.Second), zaptest.NewLogger(t))
	g.policy.InitialInterval = time.Millisecond
	calls := 0
	resp, err := g.run(context.Background(), Request{Prompt: "p"}, func(context.Context, string, Request) (*Response, error) {
		calls++
		return nil, nil
	})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Positive(t, calls)
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n[1,2]\n```", `[1,2]`},
		{"Here you go: {\"a\":{\"b\":2}} thanks", `{"a":{"b":2}}`},
		{`{"a":1}`, `{"a":1}`},
		{"no json", "no json"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripFences(tt.in), tt.in)
	}
	var v map[string]int
	assert.ErrorIs(t, DecodeJSON("   ", &v), ErrEmptyResponse)
	assert.Error(t, DecodeJSON("{broken", &v))
}

func TestMockMode(t *testing.T) {
	assert.True(t, MockMode(Config{}))
	assert.True(t, MockMode(Config{APIKey: "your_api_key_here"}))
	assert.True(t, MockMode(Config{APIKey: "real", Mock: true}))
	assert.True(t, MockMode(Config{APIKey: "real", Provider: "mock"}))
	assert.False(t, MockMode(Config{APIKey: "real"}))

	g, err := New(context.Background(), Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, g.Enabled())
	_, err = g.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = New(context.Background(), Config{APIKey: "k", Provider: "claude-ish"}, zaptest.NewLogger(t))
	assert.Error(t, err)

	g, err = New(context.Background(), Config{APIKey: "k", Provider: "openai", RPM: 60}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, g.Enabled())
	assert.IsType(t, &Limited{}, g)
}
