// Package audit persists the cospace lifecycle event trail: one row per
// scheduled/hosted/failed/terminated transition. Cospace state itself is
// never persisted; only the transitions are, so operators can answer
// "what happened to cospace X" after the fact.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/fasttravel/realtime/internal/ids"
)

// Log writes lifecycle transitions to Postgres. A nil Log (no DSN
// configured) is valid and drops every write, so callers never branch on
// whether auditing is on.
type Log struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open connects to Postgres and ensures the audit table exists. An empty
// DSN returns a nil Log: auditing disabled.
func Open(dsn string, log zerolog.Logger) (*Log, error) {
	if dsn == "" {
		log.Info().Msg("audit_log_disabled")
		return nil, nil
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}

	l := &Log{db: db, log: log}
	if err := l.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Msg("audit_log_connected")
	return l, nil
}

func (l *Log) migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cospace_audit (
			id BIGSERIAL PRIMARY KEY,
			cospace_id UUID NOT NULL,
			transition VARCHAR(32) NOT NULL,
			model_namespace TEXT NOT NULL DEFAULT '',
			model_workspace TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_cospace_audit_cospace
			ON cospace_audit(cospace_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// Record appends one transition row. Failures are logged and swallowed:
// the audit trail is observability, never a gate on placement.
func (l *Log) Record(ctx context.Context, id ids.CospaceID, transition string, root ids.ModelRoot, detail string) {
	if l == nil {
		return
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO cospace_audit (cospace_id, transition, model_namespace, model_workspace, detail)
		 VALUES ($1, $2, $3, $4, $5)`,
		id.String(), transition, root.Namespace, root.Workspace, detail)
	if err != nil {
		l.log.Warn().Err(err).Str("cospace", id.String()).Str("transition", transition).
			Msg("audit_write_failed")
	}
}

// History returns the transitions recorded for one cospace, oldest
// first.
func (l *Log) History(ctx context.Context, id ids.CospaceID) ([]Event, error) {
	if l == nil {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT transition, detail, created_at FROM cospace_audit
		 WHERE cospace_id = $1 ORDER BY created_at ASC`, id.String())
	if err != nil {
		return nil, fmt.Errorf("audit: history: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Transition, &e.Detail, &e.At); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Cospace = id
		events = append(events, e)
	}
	return events, rows.Err()
}

// Event is one recorded lifecycle transition.
type Event struct {
	Cospace    ids.CospaceID
	Transition string
	Detail     string
	At         time.Time
}

// Close releases the connection pool.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}
