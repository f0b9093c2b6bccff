// Package journal records the notes of the sync passes, the webhook and the summary.
// Each note goes to the structured logger and, unless it is below the persist level,
// to the append-only log table.
package journal

import (
	"context"
	"log/slog"
	"time"

	"clientsync/reconcile"
)

// Appender is the log table.
type Appender interface {
	LogAppend(ctx context.Context, at time.Time, message string) error
}

// Journal implements reconcile.Log.
type Journal struct {
	logger  *slog.Logger
	table   Appender
	persist slog.Level
}

// New returns a Journal writing to logger and table. Notes below slog.LevelInfo are
// only logged.
func New(logger *slog.Logger, table Appender) *Journal {
	return &Journal{logger: logger, table: table, persist: slog.LevelInfo}
}

// Record writes n. A failure to write the table is logged and otherwise ignored so
// that recording never fails a pass.
func (j *Journal) Record(ctx context.Context, n reconcile.Note) {

	attrs := []slog.Attr{slog.String("flow", n.Flow)}
	if n.RunID != "" {
		attrs = append(attrs, slog.String("run", n.RunID))
	}
	if n.Client != "" {
		attrs = append(attrs, slog.String("client", n.Client))
	}
	if n.Fatal {
		attrs = append(attrs, slog.Bool("fatal", true))
	}
	if n.Err != nil {
		attrs = append(attrs, slog.String("err", n.Err.Error()))
	}
	j.logger.LogAttrs(ctx, n.Level, n.Message, attrs...)

	if j.table == nil || n.Level < j.persist {
		return
	}
	at := n.At
	if at.IsZero() {
		at = time.Now()
	}
	// the table keeps its own context so a cancelled pass still records why it stopped
	if err := j.table.LogAppend(context.WithoutCancel(ctx), at, n.String()); err != nil {
		j.logger.Error("could not write log table", "err", err)
	}
}
