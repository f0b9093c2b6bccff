package app

import (
	"context"
	"errors"
	"fmt"

	"clientsync/config"
	"clientsync/internal/watch"
	"clientsync/reconcile"
	"clientsync/schedule"
	"clientsync/summary"
	"clientsync/web"

	"golang.org/x/sync/errgroup"
)

// Scheduled job names.
const (
	jobDailySync     = "daily-sync"
	jobWeeklySummary = "weekly-summary"
)

// webhookIngester builds a Syncer per webhook call so that each call sees the current
// configuration and freshly resolved credentials.
type webhookIngester struct {
	s *session
}

func (w webhookIngester) Ingest(ctx context.Context, body []byte) reconcile.WebhookResult {
	syncer, err := w.s.syncer(ctx)
	if err != nil {
		w.s.fatal(ctx, reconcile.FlowWebhook, "configuration error", err)
		return reconcile.WebhookError
	}
	return syncer.Ingest(ctx, body)
}

// Serve runs the webhook server and the schedule until ctx is done. Changes to the
// configuration file are picked up by subsequent passes; the listen address and
// database path need a restart.
func (a *App) Serve(ctx context.Context, cfgPath string) error {
	s, err := a.open(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer s.Close()

	cfg := s.config()
	webApp, err := web.New(s.logger, a.Stdout, cfg.Web, s.db, webhookIngester{s})
	if err != nil {
		return fmt.Errorf("web server error: %w", err)
	}
	sched := schedule.New(s.logger)
	s.schedule(sched)

	notifier, err := watch.New(cfgPath)
	if err != nil {
		return fmt.Errorf("config watcher error: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return webApp.Serve(ctx)
	})
	g.Go(func() error {
		return sched.Run(ctx)
	})
	g.Go(func() error {
		return notifier.Watch(ctx)
	})
	g.Go(func() error {
		for range notifier.Changed() {
			s.reload(cfgPath, sched)
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// reload swaps in a new configuration snapshot if it validates, and re-registers the
// schedule.
func (s *session) reload(cfgPath string, sched *schedule.Scheduler) {
	old := s.config()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		s.logger.Error("configuration reload failed, keeping the previous configuration", "path", cfgPath, "err", err)
		return
	}
	if cfg.Web != old.Web || cfg.DatabasePath != old.DatabasePath || cfg.SQLDir != old.SQLDir || cfg.Redis != old.Redis {
		s.logger.Warn("web, database and redis settings take effect on restart", "path", cfgPath)
	}
	s.cfg.Store(cfg)
	s.schedule(sched)
	s.logger.Info("configuration reloaded", "path", cfgPath)
}

// schedule registers the recurring jobs from the current configuration.
func (s *session) schedule(sched *schedule.Scheduler) {
	cfg := s.config()

	sched.Register(
		jobDailySync,
		schedule.Daily{Hour: *cfg.Schedule.DailySyncHour, Location: cfg.Timezone},
		func(ctx context.Context) {
			report, err := s.runPass(ctx, reconcile.FlowCRMToWorkspace, (*reconcile.Syncer).SyncCRMToWorkspace)
			if err != nil {
				s.logger.Error("daily sync failed", "err", err)
				return
			}
			s.logger.Info(report.String())
		},
	)

	sched.Register(
		jobWeeklySummary,
		schedule.Weekly{Day: cfg.Schedule.WeeklySummaryDay, Hour: *cfg.Schedule.WeeklySummaryHour, Location: cfg.Timezone},
		func(ctx context.Context) {
			reporter, err := s.reporter(ctx)
			if err != nil {
				s.fatal(ctx, summary.FlowSummary, "configuration error", err)
				return
			}
			// failures are recorded by the reporter
			_ = reporter.Send(ctx)
		},
	)
}
