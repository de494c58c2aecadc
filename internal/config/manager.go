package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ChangeHandler is called with the previous and the new configuration after
// a successful reload.
type ChangeHandler func(old, updated *Config)

// Manager holds the live configuration and reloads it when the file changes.
type Manager struct {
	v        *viper.Viper
	path     string
	fromFile bool
	logger   *zap.Logger

	mu       sync.RWMutex
	current  *Config
	handlers []ChangeHandler
}

// NewManager loads the configuration at path.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := newViper(path)
	found, err := read(v)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Manager{v: v, path: path, fromFile: found, logger: logger, current: cfg}, nil
}

// SetLogger replaces the logger once the configured one is built.
func (m *Manager) SetLogger(logger *zap.Logger) {
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
}

// Current returns the live configuration. Callers must not modify it.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers a reload handler.
func (m *Manager) OnChange(h ChangeHandler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

// Watch starts hot reload. It does nothing when no file was loaded.
func (m *Manager) Watch() {
	if !m.fromFile {
		m.logger.Info("No config file found, hot reload disabled", zap.String("path", m.path))
		return
	}
	m.v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		m.reload(e.Name)
	})
	m.v.WatchConfig()
	m.logger.Info("Watching config file", zap.String("path", m.path))
}

// reload decodes what viper has re-read. Invalid files keep the previous
// configuration.
func (m *Manager) reload(file string) {
	cfg, err := decode(m.v)

	m.mu.Lock()
	logger := m.logger
	if err != nil {
		m.mu.Unlock()
		logger.Warn("Config reload rejected", zap.String("file", file), zap.Error(err))
		return
	}
	old := m.current
	m.current = cfg
	handlers := append([]ChangeHandler(nil), m.handlers...)
	m.mu.Unlock()

	logger.Info("Configuration reloaded", zap.String("file", file))
	for _, h := range handlers {
		h(old, cfg)
	}
}
