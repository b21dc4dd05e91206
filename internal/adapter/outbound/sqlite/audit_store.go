// Package sqlite persists the decision audit trail in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/workly/workly-gate/internal/domain/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	ts                  INTEGER NOT NULL,
	request_id          TEXT NOT NULL,
	method              TEXT NOT NULL,
	path                TEXT NOT NULL,
	category            TEXT NOT NULL,
	decision            TEXT NOT NULL,
	reason              TEXT NOT NULL DEFAULT '',
	user_id             TEXT NOT NULL DEFAULT '',
	session_fingerprint TEXT NOT NULL DEFAULT '',
	source_ip           TEXT NOT NULL DEFAULT '',
	user_agent          TEXT NOT NULL DEFAULT '',
	latency_us          INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS decisions_ts ON decisions (ts);
CREATE INDEX IF NOT EXISTS decisions_user ON decisions (user_id, ts);
`

// AuditStore implements audit.AuditStore and audit.QueryStore on SQLite.
type AuditStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an in-memory database.
func Open(ctx context.Context, path string) (*AuditStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// One connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure audit database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return &AuditStore{db: db}, nil
}

// Append implements audit.AuditStore. Records are written in one transaction.
func (s *AuditStore) Append(ctx context.Context, records ...audit.DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO decisions (ts, request_id, method, path, category, decision, reason,
			user_id, session_fingerprint, source_ip, user_agent, latency_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.Timestamp.UTC().UnixMicro(),
			r.RequestID,
			r.Method,
			r.Path,
			r.Category,
			r.Decision,
			r.Reason,
			r.UserID,
			r.SessionFingerprint,
			r.SourceIP,
			r.UserAgent,
			r.LatencyMicros,
		); err != nil {
			return fmt.Errorf("insert audit record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

// Flush implements audit.AuditStore. Every Append is committed, so there is
// nothing to flush.
func (s *AuditStore) Flush(context.Context) error {
	return nil
}

// Close implements audit.AuditStore.
func (s *AuditStore) Close() error {
	return s.db.Close()
}

// Query implements audit.QueryStore, newest first.
func (s *AuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.DecisionRecord, error) {
	var (
		where []string
		args  []any
	)
	if !filter.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, filter.Since.UTC().UnixMicro())
	}
	if filter.Decision != "" {
		where = append(where, "decision = ?")
		args = append(args, filter.Decision)
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}

	q := `SELECT ts, request_id, method, path, category, decision, reason,
		user_id, session_fingerprint, source_ip, user_agent, latency_us FROM decisions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, filter.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []audit.DecisionRecord
	for rows.Next() {
		var (
			r  audit.DecisionRecord
			ts int64
		)
		if err := rows.Scan(&ts, &r.RequestID, &r.Method, &r.Path, &r.Category, &r.Decision,
			&r.Reason, &r.UserID, &r.SessionFingerprint, &r.SourceIP, &r.UserAgent, &r.LatencyMicros); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		r.Timestamp = time.UnixMicro(ts).UTC()
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return result, nil
}

// PurgeOlderThan deletes records older than before and returns the count.
func (s *AuditStore) PurgeOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM decisions WHERE ts < ?", before.UTC().UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("purge decisions: %w", err)
	}
	return res.RowsAffected()
}

// Compile-time interface verification.
var (
	_ audit.AuditStore = (*AuditStore)(nil)
	_ audit.QueryStore = (*AuditStore)(nil)
)
