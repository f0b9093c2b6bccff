// Package app wires configuration, storage and the remote clients together for each
// command.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"clientsync/apiclients/hubspot"
	"clientsync/apiclients/notion"
	"clientsync/apiclients/slack"
	"clientsync/config"
	"clientsync/db"
	"clientsync/internal/mounts"
	"clientsync/internal/rowlock"
	"clientsync/journal"
	"clientsync/reconcile"
	"clientsync/summary"

	charmlog "github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	lockWait = 30 * time.Second
	lockTTL  = 2 * time.Minute
)

// ErrPassAborted is returned when a pass could not run over the staging table.
var ErrPassAborted = errors.New("pass aborted")

// App is the central orchestrator for the application. Each method corresponds to a
// command.
type App struct {
	Stdout io.Writer
	Stderr io.Writer
	Lookup config.LookupFunc
}

// New creates an App writing to the process stdout and stderr and reading secrets
// from the environment.
func New() *App {
	return &App{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Lookup: os.LookupEnv,
	}
}

// newLogger returns a slog logger using a charmbracelet handler.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log_level: %w", err)
	}
	handler := charmlog.NewWithOptions(w, charmlog.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})
	return slog.New(handler), nil
}

// session holds what one invocation shares: the database, the row lock and the
// journal. The configuration may be swapped by serve; everything built from it is
// built per pass.
type session struct {
	cfg     atomic.Pointer[config.Config]
	lookup  config.LookupFunc
	logger  *slog.Logger
	db      *db.DB
	journal *journal.Journal
	locker  reconcile.Locker
	closers []func() error
}

// open loads the configuration and connects the database and row lock.
func (a *App) open(ctx context.Context, cfgPath string) (*session, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	logger, err := newLogger(a.Stderr, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if len(cfg.PMUserIDs) == 0 {
		logger.Warn("mappings.pm_user_ids is empty, product managers will be looked up in the workspace user directory")
	}

	sqlFS, err := mounts.New("sql", db.SQLEmbeddedFS, cfg.SQLDir)
	if err != nil {
		return nil, fmt.Errorf("could not mount sql fs: %w", err)
	}
	store, err := db.NewConnection(ctx, cfg.DatabasePath, sqlFS, logger)
	if err != nil {
		return nil, fmt.Errorf("database setup error: %w", err)
	}

	s := &session{
		lookup:  a.Lookup,
		logger:  logger,
		db:      store,
		journal: journal.New(logger, store),
		locker:  rowlock.NewLocal(lockWait),
		closers: []func() error{store.Close},
	}
	s.cfg.Store(cfg)

	if cfg.Redis.Address != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address})
		s.closers = append(s.closers, rc.Close)
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Address, err)
		}
		s.locker = rowlock.NewRedis(rc, lockTTL, lockWait)
		logger.Debug("using redis row lock", "address", cfg.Redis.Address)
	}
	return s, nil
}

func (s *session) config() *config.Config {
	return s.cfg.Load()
}

// Close releases the session in reverse order of opening.
func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// syncer resolves the credentials and builds a Syncer from the current
// configuration snapshot.
func (s *session) syncer(ctx context.Context) (*reconcile.Syncer, error) {
	cfg := s.config()
	creds, err := cfg.ResolveCredentials(s.lookup)
	if err != nil {
		return nil, err
	}
	crm := hubspot.NewClient(ctx, cfg.HubSpot.BaseURL, creds.HubSpotToken, s.logger)
	ws := notion.NewClient(ctx, cfg.Notion.BaseURL, cfg.Notion.APIVersion, creds.NotionKey, creds.NotionDatabaseID, s.logger)
	return reconcile.New(s.db, crm, ws, reconcile.Options{
		Tables:         cfg.Tables,
		PMUserIDs:      cfg.PMUserIDs,
		RateLimitDelay: cfg.RateLimitDelay,
		PushTier:       cfg.CRM.PushTier,
		Locker:         s.locker,
		Log:            s.journal,
	}), nil
}

// reporter builds the weekly summary Reporter. Only the Slack token is needed.
func (s *session) reporter(ctx context.Context) (*summary.Reporter, error) {
	cfg := s.config()
	creds, _ := cfg.ResolveCredentials(s.lookup)
	if creds.SlackToken == "" {
		return nil, fmt.Errorf("%w: %s", config.ErrMissingSecret, cfg.Secrets.SlackToken)
	}
	return &summary.Reporter{
		Store:    s.db,
		Poster:   slack.NewClient(ctx, cfg.Slack.BaseURL, creds.SlackToken, s.logger),
		Channel:  cfg.Slack.Channel,
		Mention:  cfg.Slack.Mention,
		Location: cfg.Timezone,
		Log:      s.journal,
	}, nil
}

// fatal records a note for a pass that could not start.
func (s *session) fatal(ctx context.Context, flow, msg string, err error) {
	s.journal.Record(ctx, reconcile.Note{
		At:      time.Now(),
		Level:   slog.LevelError,
		Fatal:   true,
		Flow:    flow,
		Message: msg,
		Err:     err,
	})
}

// runPass builds a Syncer and runs one pass with it.
func (s *session) runPass(ctx context.Context, flow string, pass func(*reconcile.Syncer, context.Context) reconcile.Report) (reconcile.Report, error) {
	syncer, err := s.syncer(ctx)
	if err != nil {
		s.fatal(ctx, flow, "configuration error", err)
		return reconcile.Report{Flow: flow, Fatal: err}, err
	}
	report := pass(syncer, ctx)
	if report.Fatal != nil {
		return report, fmt.Errorf("%w: %s: %w", ErrPassAborted, flow, report.Fatal)
	}
	return report, nil
}

// pass runs a single pass for a one-shot command and prints its report.
func (a *App) pass(ctx context.Context, cfgPath, flow string, pass func(*reconcile.Syncer, context.Context) reconcile.Report) error {
	s, err := a.open(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := s.runPass(ctx, flow, pass)
	fmt.Fprintln(a.Stdout, report)
	return err
}

// Sync runs the CRM to workspace pass.
func (a *App) Sync(ctx context.Context, cfgPath string) error {
	return a.pass(ctx, cfgPath, reconcile.FlowCRMToWorkspace, (*reconcile.Syncer).SyncCRMToWorkspace)
}

// PullStatus copies each workspace page status into the staging table.
func (a *App) PullStatus(ctx context.Context, cfgPath string) error {
	return a.pass(ctx, cfgPath, reconcile.FlowPullStatus, (*reconcile.Syncer).PullWorkspaceStatus)
}

// PushStatus writes each staging table status back to the CRM.
func (a *App) PushStatus(ctx context.Context, cfgPath string) error {
	return a.pass(ctx, cfgPath, reconcile.FlowPushStatus, (*reconcile.Syncer).PushStatusToCRM)
}

// Summary posts the weekly summary once.
func (a *App) Summary(ctx context.Context, cfgPath string) error {
	s, err := a.open(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer s.Close()

	reporter, err := s.reporter(ctx)
	if err != nil {
		s.fatal(ctx, summary.FlowSummary, "configuration error", err)
		return err
	}
	if err := reporter.Send(ctx); err != nil {
		return err
	}
	fmt.Fprintf(a.Stdout, "summary posted to %s\n", s.config().Slack.Channel)
	return nil
}

// Import seeds the staging table from a spreadsheet.
func (a *App) Import(ctx context.Context, cfgPath, file, sheet string) error {
	s, err := a.open(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer s.Close()

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("could not open spreadsheet: %w", err)
	}
	defer f.Close()

	result, err := s.db.ImportSpreadsheet(ctx, f, sheet)
	if err != nil {
		return fmt.Errorf("import %s: %w", file, err)
	}
	s.journal.Record(ctx, reconcile.Note{
		At:      time.Now(),
		Level:   slog.LevelInfo,
		Flow:    "import",
		Message: fmt.Sprintf("imported %s: %d added, %d skipped", file, result.Added, result.Skipped),
	})
	fmt.Fprintf(a.Stdout, "%d added, %d skipped\n", result.Added, result.Skipped)
	return nil
}

// Logs prints the most recent log entries, newest first. A limit of 0 prints all of
// them.
func (a *App) Logs(ctx context.Context, cfgPath string, limit int) error {
	s, err := a.open(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.db.Logs(ctx, limit)
	if err != nil {
		return fmt.Errorf("could not read logs: %w", err)
	}
	loc := s.config().Timezone
	for _, e := range entries {
		fmt.Fprintf(a.Stdout, "%s  %s\n", e.LoggedAt.Time.In(loc).Format(time.DateTime), e.Message)
	}
	return nil
}

// ExportSQL writes the embedded sql files to dir/sql, as a starting point for a
// sql_dir override.
func (a *App) ExportSQL(ctx context.Context, dir string) error {
	m, err := mounts.New("sql", db.SQLEmbeddedFS, "")
	if err != nil {
		return err
	}
	target, err := m.Export(dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Stdout, "sql files written to %s\n", target)
	return nil
}
