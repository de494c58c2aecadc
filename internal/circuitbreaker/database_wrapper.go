package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper routes sqlx calls through a circuit breaker.
// sql.ErrNoRows is a normal outcome and does not trip the breaker.
type DatabaseWrapper struct {
	db *sqlx.DB
	cb *CircuitBreaker
}

// NewDatabaseWrapper creates a breaker-guarded database handle.
func NewDatabaseWrapper(db *sqlx.DB, logger *zap.Logger) *DatabaseWrapper {
	config := SettingsFor("database").ToConfig()
	config.IsFailure = func(err error) bool {
		return !errors.Is(err, sql.ErrNoRows) && !errors.Is(err, context.Canceled)
	}
	cb := NewCircuitBreaker(db.DriverName(), config, logger)
	DefaultRegistry.Register("database", cb)
	return &DatabaseWrapper{db: db, cb: cb}
}

func (dw *DatabaseWrapper) run(ctx context.Context, fn func() error) error {
	err := dw.cb.Execute(ctx, fn)
	if errors.Is(err, sql.ErrNoRows) {
		recordRequest(dw.cb.Name(), "database", dw.cb.State(), nil)
		return err
	}
	recordRequest(dw.cb.Name(), "database", dw.cb.State(), err)
	return err
}

// PingContext checks connectivity.
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.run(ctx, func() error { return dw.db.PingContext(ctx) })
}

// ExecContext executes a statement.
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := dw.run(ctx, func() error {
		var err error
		res, err = dw.db.ExecContext(ctx, dw.db.Rebind(query), args...)
		return err
	})
	return res, err
}

// GetContext scans a single row into dest.
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.run(ctx, func() error { return dw.db.GetContext(ctx, dest, dw.db.Rebind(query), args...) })
}

// SelectContext scans all rows into dest.
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.run(ctx, func() error { return dw.db.SelectContext(ctx, dest, dw.db.Rebind(query), args...) })
}

// DriverName reports the underlying driver.
func (dw *DatabaseWrapper) DriverName() string { return dw.db.DriverName() }

// IsCircuitBreakerOpen reports whether calls are currently rejected.
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}

// Close closes the database.
func (dw *DatabaseWrapper) Close() error { return dw.db.Close() }
