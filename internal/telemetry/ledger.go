package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"NutriChat/internal/session"
)

// Ledger records one row per settled gateway call. It keeps timing and
// outcome only, never message content.
type Ledger struct {
	db *sql.DB
}

// ExchangeRow is a stored ledger entry
type ExchangeRow struct {
	ID         int64
	SessionID  string
	StartedAt  time.Time
	DurationMS int64
	Outcome    string
	Error      string
}

// OpenLedger opens (or creates) the SQLite ledger at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createExchangesTable := `
	CREATE TABLE IF NOT EXISTS exchanges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);`

	createSessionIndex := `
	CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session_id);`

	if _, err := db.Exec(createExchangesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create exchanges table: %w", err)
	}

	if _, err := db.Exec(createSessionIndex); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create exchanges index: %w", err)
	}

	return &Ledger{db: db}, nil
}

// RecordExchange implements session.Recorder.
func (l *Ledger) RecordExchange(ctx context.Context, ex session.Exchange) error {
	var errText string
	if ex.Err != nil {
		errText = ex.Err.Error()
	}

	_, err := l.db.ExecContext(ctx,
		"INSERT INTO exchanges (session_id, started_at, duration_ms, outcome, error) VALUES (?, ?, ?, ?, ?)",
		ex.SessionID, ex.StartedAt.UTC(), ex.Duration.Milliseconds(), string(ex.Outcome), errText,
	)
	if err != nil {
		return fmt.Errorf("failed to save exchange: %w", err)
	}
	return nil
}

// Exchanges lists the recorded calls of one session, oldest first.
func (l *Ledger) Exchanges(ctx context.Context, sessionID string) ([]ExchangeRow, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT id, session_id, started_at, duration_ms, outcome, error FROM exchanges WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load exchanges: %w", err)
	}
	defer rows.Close()

	var out []ExchangeRow
	for rows.Next() {
		var r ExchangeRow
		if err := rows.Scan(&r.ID, &r.SessionID, &r.StartedAt, &r.DurationMS, &r.Outcome, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exchanges: %w", err)
	}
	return out, nil
}

// Stats summarises the calls recorded for one session.
func (l *Ledger) Stats(ctx context.Context, sessionID string) (answered, fallbacks int, err error) {
	err = l.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0)
		FROM exchanges WHERE session_id = ?`,
		string(session.OutcomeAnswered), string(session.OutcomeFallback), sessionID,
	).Scan(&answered, &fallbacks)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load exchange stats: %w", err)
	}
	return answered, fallbacks, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
