package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config selects and tunes the language model provider.
type Config struct {
	Provider      string        `mapstructure:"provider"`
	APIKey        string        `mapstructure:"api_key"`
	FlashModel    string        `mapstructure:"flash_model"`
	ProModel      string        `mapstructure:"pro_model"`
	OpenAIBaseURL string        `mapstructure:"openai_base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RPM           int           `mapstructure:"rpm"`
	// Mock forces mock mode (MOCK_AI / SKIP_GEMINI).
	Mock bool `mapstructure:"mock"`
}

// ProviderConfig is the per-provider subset of Config.
type ProviderConfig struct {
	FlashModel string
	ProModel   string
	BaseURL    string
	Timeout    time.Duration
}

// MockMode reports whether cfg selects the disabled generator.
func MockMode(cfg Config) bool {
	if cfg.Mock || strings.EqualFold(cfg.Provider, "mock") {
		return true
	}
	key := strings.TrimSpace(cfg.APIKey)
	return key == "" || key == "your_api_key_here"
}

// New builds the configured Generator, wrapped in a rate limiter when RPM is set.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if MockMode(cfg) {
		logger.Warn("Language model disabled; using deterministic fallbacks",
			zap.String("provider", cfg.Provider),
		)
		return Disabled{}, nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	pc := ProviderConfig{
		FlashModel: cfg.FlashModel,
		ProModel:   cfg.ProModel,
		BaseURL:    cfg.OpenAIBaseURL,
		Timeout:    cfg.Timeout,
	}

	var g Generator
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "gemini":
		gem, err := NewGemini(ctx, cfg.APIKey, pc, logger)
		if err != nil {
			return nil, err
		}
		g = gem
	case "openai":
		g = NewOpenAI(cfg.APIKey, pc, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	logger.Info("Language model configured", zap.String("provider", cfg.Provider))
	return NewLimited(g, cfg.RPM), nil
}
