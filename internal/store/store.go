// Package store persists defense decisions to SQLite for later review via
// the logs command. Writes are best-effort: a store failure never blocks or
// fails a tool call.
package store

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	request_id  TEXT NOT NULL,
	tool        TEXT NOT NULL,
	result      TEXT NOT NULL, -- allowed, blocked, error
	layer       TEXT,          -- veto layer for blocked calls
	reason      TEXT,
	score       REAL           -- alignment or instruction score, when relevant
);
CREATE INDEX IF NOT EXISTS idx_decisions_tool ON decisions(tool);
CREATE INDEX IF NOT EXISTS idx_decisions_result ON decisions(result);

CREATE TABLE IF NOT EXISTS sanitized_spans (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	request_id  TEXT NOT NULL,
	source      TEXT NOT NULL,
	category    TEXT NOT NULL, -- HTML_COMMENT, BASE64
	length      INTEGER NOT NULL,
	snippet     TEXT
);
`

// Decision is one recorded pipeline verdict.
type Decision struct {
	ID        int64
	CreatedAt time.Time
	RequestID string
	Tool      string
	Result    string
	Layer     string
	Reason    string
	Score     float64
}

// DB wraps *sql.DB for the decision store. Schema is owned by the app.
type DB struct {
	*sql.DB
}

// Open opens the SQLite database at path and applies the schema. Creates the
// file if missing.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

// RecordDecision inserts one verdict row.
func (d *DB) RecordDecision(ctx context.Context, requestID, tool, result, layer, reason string, score float64) error {
	_, err := d.ExecContext(ctx,
		`INSERT INTO decisions (request_id, tool, result, layer, reason, score) VALUES (?, ?, ?, ?, ?, ?)`,
		requestID, tool, result, layer, reason, score)
	return err
}

// RecordSanitizedSpan inserts one stripped-span row.
func (d *DB) RecordSanitizedSpan(ctx context.Context, requestID, source, category string, length int, snippet string) error {
	_, err := d.ExecContext(ctx,
		`INSERT INTO sanitized_spans (request_id, source, category, length, snippet) VALUES (?, ?, ?, ?, ?)`,
		requestID, source, category, length, snippet)
	return err
}

// RecentDecisions returns up to limit decisions, newest first, optionally
// filtered by result ("" = all).
func (d *DB) RecentDecisions(ctx context.Context, result string, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, created_at, request_id, tool, result, COALESCE(layer, ''), COALESCE(reason, ''), COALESCE(score, 0)
		FROM decisions`
	args := []any{}
	if result != "" {
		query += ` WHERE result = ?`
		args = append(args, result)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var dec Decision
		if err := rows.Scan(&dec.ID, &dec.CreatedAt, &dec.RequestID, &dec.Tool, &dec.Result, &dec.Layer, &dec.Reason, &dec.Score); err != nil {
			return nil, err
		}
		out = append(out, dec)
	}
	return out, rows.Err()
}
