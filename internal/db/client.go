package db

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/probeai/orchestrator/internal/circuitbreaker"
)

// Config holds database configuration
type Config struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = "postgres"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 25
	}
	if c.IdleConnections == 0 {
		c.IdleConnections = 5
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 5 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Client owns the secondary database and its async write queue.
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
	config Config

	writeQueue chan writeRequest
	stopCh     chan struct{}
	workerWg   sync.WaitGroup
	started    bool
	closed     atomic.Bool
}

type writeType int

const (
	writeUpsert writeType = iota
	writeDelete
)

// String returns the string representation of writeType
func (wt writeType) String() string {
	switch wt {
	case writeUpsert:
		return "upsert"
	case writeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

type writeRequest struct {
	kind writeType
	row  SessionRow
	id   string
}

// NewClient opens the database, creates the schema and starts the write workers.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.DSN == "" {
		return nil, fmt.Errorf("secondary database dsn is empty")
	}
	raw, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	raw.SetMaxOpenConns(cfg.MaxConnections)
	raw.SetMaxIdleConns(cfg.IdleConnections)
	raw.SetConnMaxLifetime(cfg.MaxLifetime)
	if cfg.Driver == "sqlite3" {
		// One connection keeps in-memory databases shared and writes serialized.
		raw.SetMaxOpenConns(1)
	}

	c := newClient(raw, cfg, logger)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.db.PingContext(pingCtx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := c.EnsureSchema(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	c.start()

	logger.Info("Secondary database initialized",
		zap.String("driver", cfg.Driver),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Int("workers", cfg.Workers),
	)
	return c, nil
}

// newClient wires a client around db without starting workers.
func newClient(db *sqlx.DB, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Client{
		db:         circuitbreaker.NewDatabaseWrapper(db, logger),
		logger:     logger,
		config:     cfg,
		writeQueue: make(chan writeRequest, cfg.QueueSize),
		stopCh:     make(chan struct{}),
	}
}

func (c *Client) start() {
	c.started = true
	for i := 0; i < c.config.Workers; i++ {
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
}

// writeWorker processes write requests from the queue
func (c *Client) writeWorker(id int) {
	defer c.workerWg.Done()
	c.logger.Debug("Write worker started", zap.Int("worker_id", id))
	for {
		select {
		case <-c.stopCh:
			c.drainQueue()
			c.logger.Debug("Write worker stopped", zap.Int("worker_id", id))
			return
		case req := <-c.writeQueue:
			c.processWrite(req)
		}
	}
}

func (c *Client) processWrite(req writeRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.WriteTimeout)
	defer cancel()

	var err error
	switch req.kind {
	case writeUpsert:
		err = c.upsert(ctx, req.row)
	case writeDelete:
		err = c.DeleteSession(ctx, req.id)
	}
	if err != nil {
		id := req.id
		if id == "" {
			id = req.row.ID
		}
		mirrorResult("error")
		c.logger.Error("Failed to process write request",
			zap.String("type", req.kind.String()),
			zap.String("session_id", id),
			zap.Error(err),
		)
		return
	}
	mirrorResult("ok")
}

// drainQueue processes remaining requests during shutdown
func (c *Client) drainQueue() {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case req := <-c.writeQueue:
			c.processWrite(req)
		case <-timeout:
			c.logger.Warn("Timeout draining write queue")
			return
		default:
			return
		}
	}
}

// queueWrite adds a write to the async queue. A full queue or a closed
// client falls back to a synchronous write so nothing is dropped.
func (c *Client) queueWrite(req writeRequest) {
	if !c.closed.Load() {
		select {
		case c.writeQueue <- req:
			return
		default:
			c.logger.Warn("Write queue is full, falling back to synchronous write",
				zap.String("type", req.kind.String()))
		}
	}
	mirrorResult("sync_fallback")
	c.processWrite(req)
}

// Close drains pending writes and closes the database.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.stopCh)
	if c.started {
		c.workerWg.Wait()
	} else {
		c.drainQueue()
	}
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	c.logger.Info("Secondary database closed")
	return nil
}

// Wrapper returns the underlying DatabaseWrapper for health checks and monitoring
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}
