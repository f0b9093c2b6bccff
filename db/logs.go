package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LogEntry is one append-only log line.
type LogEntry struct {
	ID       int64   `db:"id"`
	LoggedAt Instant `db:"logged_at"`
	Message  string  `db:"message"`
}

// LogAppend appends a log entry. Entries are never updated or pruned.
func (db *DB) LogAppend(ctx context.Context, at time.Time, message string) error {

	stmt := db.logInsertStmt

	namedArgs := map[string]any{
		"LoggedAt": at.UTC().Format(timeLayout),
		"Message":  strings.TrimSpace(message),
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return err
	}

	_, err := stmt.ExecContext(ctx, namedArgs)
	db.logQuery("log insert", stmt, namedArgs, err)
	if err != nil {
		return fmt.Errorf("log insert error: %w", err)
	}
	return nil
}

// Logs returns up to limit of the most recent log entries, newest first. A limit of
// less than one returns all entries.
func (db *DB) Logs(ctx context.Context, limit int) ([]LogEntry, error) {

	if limit < 1 {
		limit = -1
	}

	stmt := db.logsGetStmt

	namedArgs := map[string]any{
		"HereLimit": limit,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return nil, err
	}

	var entries []LogEntry
	err := stmt.SelectContext(ctx, &entries, namedArgs)
	db.logQuery("logs", stmt, namedArgs, err)
	if err != nil {
		return nil, fmt.Errorf("logs select error: %w", err)
	}
	return entries, nil
}
