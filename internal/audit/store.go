// Package audit persists security decisions and tool executions to SQLite.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cmdloop/internal/domain"

	_ "modernc.org/sqlite"
)

// Record is a stored audit entry.
type Record struct {
	ID        int64
	domain.AuditEntry
	CreatedAt time.Time
}

// SQLiteStore implements domain.AuditLogger.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.AuditLogger = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) LogAudit(ctx context.Context, entry domain.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (run_id, action, tool_name, command, result, details)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.Action, entry.ToolName, entry.Command, entry.Result, entry.Details,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries first, at most limit of them.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx,
		`SELECT id, run_id, action, tool_name, command, result, details, created_at
		 FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
}

// ByRun returns one conversation run's entries in the order they were written.
func (s *SQLiteStore) ByRun(ctx context.Context, runID string) ([]Record, error) {
	return s.query(ctx,
		`SELECT id, run_id, action, tool_name, command, result, details, created_at
		 FROM audit_log WHERE run_id = ? ORDER BY id`, runID)
}

// Prune deletes entries older than the given age and reports how many went.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format("2006-01-02 15:04:05")
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit log: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                                    Record
			runID, tool, command, result, detail sql.NullString
		)
		if err := rows.Scan(&r.ID, &runID, &r.Action, &tool, &command, &result, &detail, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		r.RunID, r.ToolName, r.Command, r.Result, r.Details = runID.String, tool.String, command.String, result.String, detail.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
