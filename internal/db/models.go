package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/probeai/orchestrator/internal/session"
)

// SessionContext stores a whole session document in the context column.
type SessionContext struct {
	Session *session.ResearchSession
}

// Value implements the driver.Valuer interface
func (c SessionContext) Value() (driver.Value, error) {
	if c.Session == nil {
		return nil, nil
	}
	b, err := json.Marshal(c.Session)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (c *SessionContext) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		c.Session = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into SessionContext", value)
	}
	var s session.ResearchSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	c.Session = &s
	return nil
}

// SessionRow is one row of research_sessions.
type SessionRow struct {
	ID        string         `db:"id"`
	UserID    *string        `db:"user_id"`
	Topic     string         `db:"topic"`
	Status    string         `db:"status"`
	Context   SessionContext `db:"context"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func rowFromSession(s *session.ResearchSession) SessionRow {
	row := SessionRow{
		ID:        s.ID,
		Topic:     s.Query,
		Status:    string(s.Status),
		Context:   SessionContext{Session: s},
		CreatedAt: s.CreatedAt.UTC(),
		UpdatedAt: s.UpdatedAt.UTC(),
	}
	if s.UserID != "" {
		uid := s.UserID
		row.UserID = &uid
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row
}
