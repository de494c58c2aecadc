package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/probeai/orchestrator/internal/metrics"
	"github.com/probeai/orchestrator/internal/session"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS research_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	topic TEXT NOT NULL,
	status TEXT NOT NULL,
	context JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS research_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	topic TEXT NOT NULL,
	status TEXT NOT NULL,
	context TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
)`

// Older snapshots never overwrite newer ones, so workers may apply writes
// for the same session in any order.
const upsertSession = `
INSERT INTO research_sessions (id, user_id, topic, status, context, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	user_id = EXCLUDED.user_id,
	topic = EXCLUDED.topic,
	status = EXCLUDED.status,
	context = EXCLUDED.context,
	updated_at = EXCLUDED.updated_at
WHERE research_sessions.updated_at <= EXCLUDED.updated_at`

var _ session.Mirror = (*Client)(nil)

// EnsureSchema creates research_sessions if it does not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	schema := postgresSchema
	if c.db.DriverName() == "sqlite3" {
		schema = sqliteSchema
	}
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create research_sessions: %w", err)
	}
	return nil
}

// Enqueue schedules an upsert of s.
func (c *Client) Enqueue(s *session.ResearchSession) {
	if s == nil {
		return
	}
	c.queueWrite(writeRequest{kind: writeUpsert, row: rowFromSession(s)})
}

// EnqueueDelete schedules removal of a session row.
func (c *Client) EnqueueDelete(id string) {
	c.queueWrite(writeRequest{kind: writeDelete, id: id})
}

// UpsertSession writes s synchronously.
func (c *Client) UpsertSession(ctx context.Context, s *session.ResearchSession) error {
	return c.upsert(ctx, rowFromSession(s))
}

func (c *Client) upsert(ctx context.Context, row SessionRow) error {
	_, err := c.db.ExecContext(ctx, upsertSession,
		row.ID, row.UserID, row.Topic, row.Status, row.Context, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", row.ID, err)
	}
	c.logger.Debug("Session mirrored",
		zap.String("session_id", row.ID),
		zap.String("status", row.Status),
	)
	return nil
}

// GetSession reads one mirrored row.
func (c *Client) GetSession(ctx context.Context, id string) (*SessionRow, error) {
	var row SessionRow
	err := c.db.GetContext(ctx, &row,
		`SELECT id, user_id, topic, status, context, created_at, updated_at FROM research_sessions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListByUser returns the mirrored rows of one user, newest first.
func (c *Client) ListByUser(ctx context.Context, userID string) ([]SessionRow, error) {
	var rows []SessionRow
	err := c.db.SelectContext(ctx, &rows,
		`SELECT id, user_id, topic, status, context, created_at, updated_at FROM research_sessions WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return rows, nil
}

// DeleteSession removes a row. Missing rows are not an error.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM research_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

func mirrorResult(result string) {
	metrics.MirrorWrites.WithLabelValues(result).Inc()
}
