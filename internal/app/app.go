// Package app composes the research service from configuration. The server
// binary and the probe CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/probeai/orchestrator/internal/agents"
	"github.com/probeai/orchestrator/internal/auth"
	"github.com/probeai/orchestrator/internal/circuitbreaker"
	"github.com/probeai/orchestrator/internal/config"
	"github.com/probeai/orchestrator/internal/db"
	"github.com/probeai/orchestrator/internal/health"
	"github.com/probeai/orchestrator/internal/httpapi"
	"github.com/probeai/orchestrator/internal/llm"
	"github.com/probeai/orchestrator/internal/orchestrator"
	"github.com/probeai/orchestrator/internal/ratecontrol"
	"github.com/probeai/orchestrator/internal/research"
	"github.com/probeai/orchestrator/internal/search"
	"github.com/probeai/orchestrator/internal/session"
	"github.com/probeai/orchestrator/internal/streaming"
	"github.com/probeai/orchestrator/internal/tracing"
)

// App holds the wired service and everything that must be closed with it.
type App struct {
	Config  *config.Manager
	Logger  *zap.Logger
	Service *orchestrator.Service
	Events  *streaming.Manager
	Health  *health.Manager

	level      zap.AtomicLevel
	auth       *auth.Middleware
	engine     *research.Engine
	visualizer *research.Visualizer
	closers    []func(context.Context) error
}

// Bootstrap loads the configuration at path and builds the configured logger.
func Bootstrap(path string) (*config.Manager, *zap.Logger, zap.AtomicLevel, error) {
	mgr, err := config.NewManager(path, nil)
	if err != nil {
		return nil, nil, zap.AtomicLevel{}, err
	}
	logger, level, err := config.NewLogger(mgr.Current().Logging)
	if err != nil {
		return nil, nil, zap.AtomicLevel{}, err
	}
	mgr.SetLogger(logger)
	return mgr, logger, level, nil
}

// New wires stores, providers, agents and the orchestrator from the current
// configuration. On error everything opened so far is closed.
func New(ctx context.Context, mgr *config.Manager, logger *zap.Logger, level zap.AtomicLevel) (*App, error) {
	cfg := mgr.Current()
	a := &App{
		Config: mgr,
		Logger: logger,
		Events: streaming.NewManager(streaming.DefaultCapacity),
		Health: health.NewManager(logger),
		level:  level,
		auth:   auth.NewMiddleware(cfg.Server.AuthToken, cfg.Server.JWTSecret),
	}
	if err := a.build(ctx, cfg); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	mgr.OnChange(a.applyReload)
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config) error {
	shutdown, err := tracing.Initialize(cfg.Tracing, a.Logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, shutdown)

	store, err := a.buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	limits, err := ratecontrol.Load(cfg.RateLimitsPath)
	if err != nil {
		return err
	}
	searchCfg := cfg.Search
	searchCfg.RPM = limits.RPM(providerOr(searchCfg.Provider, "tavily"), searchCfg.RPM)
	searcher, err := search.New(searchCfg, a.Logger)
	if err != nil {
		return fmt.Errorf("search provider: %w", err)
	}

	llmCfg := cfg.LLM
	llmCfg.RPM = limits.RPM(providerOr(llmCfg.Provider, "gemini"), llmCfg.RPM)
	gen, err := llm.New(ctx, llmCfg, a.Logger)
	if err != nil {
		return fmt.Errorf("language model: %w", err)
	}

	a.engine = research.NewEngine(searcher, cfg.Engine, a.Events, a.Logger)
	a.visualizer = research.NewVisualizer(gen, cfg.Visualizer, a.Logger)
	a.Service = orchestrator.NewService(orchestrator.Deps{
		Store:       store,
		Analyzer:    agents.NewAnalyzer(gen, cfg.Analyzer.Timeout, a.Logger),
		Planner:     agents.NewPlanner(gen, a.Logger),
		Engine:      a.engine,
		Synthesizer: research.NewSynthesizer(gen, store, a.Events, a.Logger),
		Visualizer:  a.visualizer,
		Events:      a.Events,
	}, a.Logger)

	_ = a.Health.RegisterChecker(health.NewProviderChecker("search", func() bool {
		_, unconfigured := searcher.(search.Unconfigured)
		return !unconfigured
	}, "searches fail"))
	_ = a.Health.RegisterChecker(health.NewProviderChecker("llm", gen.Enabled, "deterministic fallbacks"))
	_ = a.Health.RegisterChecker(health.NewBreakerChecker(circuitbreaker.DefaultRegistry))
	return nil
}

func (a *App) buildStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	var store session.Store
	switch strings.ToLower(cfg.Store.Backend) {
	case "", "memory":
		store = session.NewMemoryStore()
	case "file":
		fs, err := session.NewFileStore(cfg.Store.Dir)
		if err != nil {
			return nil, err
		}
		store = fs
	case "redis":
		rs, err := session.NewRedisStore(ctx, session.RedisOptions{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			TTL:      cfg.Store.TTL,
		}, a.Logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return rs.Close() })
		_ = a.Health.RegisterChecker(health.NewPingChecker("redis", rs, true))
		store = rs
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
	a.Logger.Info("Session store ready", zap.String("backend", cfg.Store.Backend))

	if !cfg.Secondary.Enabled {
		return store, nil
	}
	client, err := db.NewClient(ctx, cfg.Secondary, a.Logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	_ = a.Health.RegisterChecker(health.NewDatabaseChecker(client.Wrapper()))
	return session.NewMirroredStore(store, client), nil
}

// applyReload pushes hot-reloadable settings into running components.
func (a *App) applyReload(old, updated *config.Config) {
	if old.Logging.Level != updated.Logging.Level {
		if err := config.SetLevel(a.level, updated.Logging.Level); err != nil {
			a.Logger.Warn("Ignoring log level", zap.String("level", updated.Logging.Level), zap.Error(err))
		}
	}
	a.engine.Configure(updated.Engine)
	a.visualizer.Configure(updated.Visualizer)
}

// Handler returns the HTTP surface: the research API, health and metrics.
func (a *App) Handler() http.Handler {
	cfg := a.Config.Current()
	mux := http.NewServeMux()
	httpapi.NewHandler(a.Service, a.Events, a.auth, a.Logger).RegisterRoutes(mux)
	health.NewHTTPHandler(a.Health, a.Logger).RegisterRoutes(mux)
	if cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return mux
}

// Serve runs the HTTP server until ctx is cancelled, then drains it.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config.Current().Server
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      a.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	a.Config.Watch()

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("HTTP server listening", zap.String("addr", cfg.Addr), zap.Bool("auth", a.auth.Enabled()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.Logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close releases stores, the mirror and the tracer in reverse order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func providerOr(provider, fallback string) string {
	if strings.TrimSpace(provider) == "" {
		return fallback
	}
	return provider
}
