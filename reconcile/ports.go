package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clientsync/apiclients/hubspot"
	"clientsync/apiclients/notion"
	"clientsync/db"
)

// ErrNotFound reports an identity lookup miss. It is not a failure: the dependent
// write is skipped.
var ErrNotFound = errors.New("not found")

// ErrEmptyTable aborts a pass over a staging table with no rows.
var ErrEmptyTable = errors.New("staging table has no rows")

// Store is the staging table.
type Store interface {
	AllClients(ctx context.Context) ([]db.Client, error)
	ClientByRow(ctx context.Context, rowNo int64) (db.Client, error)
	ClientByName(ctx context.Context, name string) (db.Client, error)
	ClientAppend(ctx context.Context, c db.Client) (db.Client, error)
	ClientUpdate(ctx context.Context, c db.Client) error
}

// CRM is the contact system.
type CRM interface {
	Fetch(ctx context.Context, contactID string) (hubspot.Contact, error)
	Update(ctx context.Context, contactID string, fields map[string]string) error
	SearchByFirstNameToken(ctx context.Context, token string) ([]hubspot.Contact, error)
}

// Workspace is the client database.
type Workspace interface {
	QueryByTitle(ctx context.Context, property, value string) ([]string, error)
	GetPageStatus(ctx context.Context, pageID string) (notion.Status, error)
	PatchProperties(ctx context.Context, pageID string, u notion.PageUpdate) error
	ListUsers(ctx context.Context) ([]notion.User, error)
}

// Locker takes the per-client advisory lock.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Log receives the notes produced by the flows. Implementations must not fail the
// caller.
type Log interface {
	Record(ctx context.Context, n Note)
}

// Note is one observable event of a pass or webhook call.
type Note struct {
	At      time.Time
	Level   slog.Level
	Fatal   bool
	Flow    string
	RunID   string
	Client  string
	Message string
	Err     error
}

// String renders the note as a single log line.
func (n Note) String() string {
	s := n.Flow + ": "
	if n.Fatal {
		s += "fatal: "
	}
	if n.Client != "" {
		s += n.Client + ": "
	}
	s += n.Message
	if n.Err != nil {
		s += ": " + n.Err.Error()
	}
	return s
}

// Flow names.
const (
	FlowCRMToWorkspace = "crm-to-workspace"
	FlowPullStatus     = "workspace-status-to-table"
	FlowPushStatus     = "table-status-to-crm"
	FlowWebhook        = "webhook"
)

// Report summarises a pass. Fatal is set when the pass was aborted.
type Report struct {
	Flow      string
	RunID     string
	Processed int
	Skipped   int
	Failed    int
	Fatal     error
}

// String renders the report for the command line.
func (r Report) String() string {
	s := fmt.Sprintf("%s run %s: processed %d, skipped %d, failed %d", r.Flow, r.RunID, r.Processed, r.Skipped, r.Failed)
	if r.Fatal != nil {
		s += fmt.Sprintf(" (aborted: %v)", r.Fatal)
	}
	return s
}

// outcome is the result of processing one record.
type outcome int

const (
	processed outcome = iota
	skipped
	failed
)

type noLock struct{}

func (noLock) Lock(context.Context, string) (func(), error) { return func() {}, nil }

type discardLog struct{}

func (discardLog) Record(context.Context, Note) {}
