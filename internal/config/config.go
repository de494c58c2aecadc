package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/probeai/orchestrator/internal/db"
	"github.com/probeai/orchestrator/internal/llm"
	"github.com/probeai/orchestrator/internal/research"
	"github.com/probeai/orchestrator/internal/search"
	"github.com/probeai/orchestrator/internal/tracing"
)

// DefaultPath is read when CONFIG_PATH is unset.
const DefaultPath = "./config/config.yaml"

const envPrefix = "PROBEAI"

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	AuthToken    string        `mapstructure:"auth_token"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File enables a rotating log file next to stdout.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type StoreConfig struct {
	Backend       string        `mapstructure:"backend"`
	Dir           string        `mapstructure:"dir"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type AnalyzerConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Config is the whole service configuration.
type Config struct {
	Server     ServerConfig              `mapstructure:"server"`
	Logging    LoggingConfig             `mapstructure:"logging"`
	Store      StoreConfig               `mapstructure:"store"`
	Secondary  db.Config                 `mapstructure:"secondary"`
	Search     search.Config             `mapstructure:"search"`
	LLM        llm.Config                `mapstructure:"llm"`
	Engine     research.EngineConfig     `mapstructure:"engine"`
	Analyzer   AnalyzerConfig            `mapstructure:"analyzer"`
	Visualizer research.VisualizerConfig `mapstructure:"visualizer"`
	Tracing    tracing.Config            `mapstructure:"tracing"`
	Metrics    MetricsConfig             `mapstructure:"metrics"`
	// RateLimitsPath points at the provider rate limit table.
	RateLimitsPath string `mapstructure:"rate_limits_path"`
}

// Path returns CONFIG_PATH or DefaultPath.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.jwt_secret", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.dir", "./data/sessions")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.ttl", 0)

	v.SetDefault("secondary.enabled", false)
	v.SetDefault("secondary.driver", "postgres")
	v.SetDefault("secondary.dsn", "")
	v.SetDefault("secondary.workers", 4)
	v.SetDefault("secondary.queue_size", 1000)

	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.tavily_api_key", "")
	v.SetDefault("search.tavily_url", "")
	v.SetDefault("search.searxng_url", "")
	v.SetDefault("search.timeout", 15*time.Second)
	v.SetDefault("search.rpm", 0)
	v.SetDefault("search.max_retries", 2)
	v.SetDefault("search.cache_ttl", 10*time.Minute)
	v.SetDefault("search.enrich", false)

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.flash_model", "")
	v.SetDefault("llm.pro_model", "")
	v.SetDefault("llm.openai_base_url", "")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.rpm", 0)
	v.SetDefault("llm.mock", false)

	defaults := research.DefaultEngineConfig()
	v.SetDefault("engine.concurrency", defaults.Concurrency)
	v.SetDefault("engine.min_score", defaults.MinScore)
	v.SetDefault("engine.max_content", defaults.MaxContent)

	v.SetDefault("analyzer.timeout", 5*time.Second)

	v.SetDefault("visualizer.enabled", true)
	v.SetDefault("visualizer.min_confidence", 0)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "probeai-orchestrator")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("rate_limits_path", "./config/ratelimits.yaml")
}

// legacyEnv maps keys to the unprefixed variables older deployments set.
var legacyEnv = map[string][]string{
	"search.tavily_api_key": {"TAVILY_API_KEY"},
	"search.searxng_url":    {"SEARXNG_URL"},
	"store.redis_addr":      {"REDIS_ADDR"},
	"store.redis_password":  {"REDIS_PASSWORD"},
	"secondary.dsn":         {"DATABASE_URL"},
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(append([]string{key, prefixed}, names...)...)
	}
	return v
}

// read loads the file if there is one. A missing file leaves defaults and
// the environment in effect.
func read(v *viper.Viper) (bool, error) {
	err := v.ReadInConfig()
	if err == nil {
		return true, nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("read config: %w", err)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyLegacy(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyLegacy honours provider specific key variables and the mock switches.
func applyLegacy(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		switch strings.ToLower(cfg.LLM.Provider) {
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		default:
			cfg.LLM.APIKey = os.Getenv("GOOGLE_GENERATIVE_AI_API_KEY")
		}
	}
	if envTrue("MOCK_AI") || envTrue("SKIP_GEMINI") {
		cfg.LLM.Mock = true
	}
	if os.Getenv("DATABASE_URL") != "" && os.Getenv(envPrefix+"_SECONDARY_ENABLED") == "" {
		cfg.Secondary.Enabled = true
	}
}

func envTrue(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "file", "redis":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Secondary.Enabled {
		switch c.Secondary.Driver {
		case "postgres", "sqlite3":
		default:
			return fmt.Errorf("unknown secondary driver %q", c.Secondary.Driver)
		}
	}
	if c.Engine.Concurrency < 0 {
		return fmt.Errorf("engine.concurrency must not be negative")
	}
	if c.Visualizer.MinConfidence < 0 || c.Visualizer.MinConfidence > 1 {
		return fmt.Errorf("visualizer.min_confidence must be within [0, 1]")
	}
	return nil
}

// Load reads the configuration once, without watching.
func Load(path string) (*Config, error) {
	v := newViper(path)
	if _, err := read(v); err != nil {
		return nil, err
	}
	return decode(v)
}
