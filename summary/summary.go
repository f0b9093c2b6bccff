// Package summary builds the weekly client summary posted to Slack.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"clientsync/apiclients/slack"
	"clientsync/db"
	"clientsync/reconcile"
	"clientsync/transition"

	"github.com/google/uuid"
)

// FlowSummary names the summary in log notes.
const FlowSummary = "weekly-summary"

// ChurnWindow is how far back a churn counts as this week's.
const ChurnWindow = 7 * 24 * time.Hour

// Status values counted by Aggregate, compared lower-cased but otherwise exactly.
const (
	statusActive         = "active"
	statusNoResponse     = "no response"
	statusOnboarding     = "onboarding"
	statusPaused         = "paused"
	statusChurnedPending = "churned pending"
)

// Summary is the bucketed state of the staging table.
type Summary struct {
	Active          int
	NoResponse      int
	Onboarding      int
	Paused          int
	ChurnedPending  int
	OnboardingNames []string

	ChurnedThisWeek      int
	ChurnedThisWeekNames []string
}

// Aggregate counts clients into the five status buckets and the churned this week
// bucket. Every status comparison ignores case and surrounding whitespace, the same
// rule IsChurned applies, so "active " is Active. The status buckets are mutually
// exclusive. A client churned this week has a churned status and a churned timestamp
// within [now-7d, now], both ends inclusive, compared in loc.
func Aggregate(clients []db.Client, now time.Time, loc *time.Location) Summary {

	if loc == nil {
		loc = time.UTC
	}
	end := now.In(loc)
	start := end.Add(-ChurnWindow)

	var s Summary
	for _, c := range clients {
		switch strings.ToLower(strings.TrimSpace(c.ClientStatus)) {
		case statusActive:
			s.Active++
		case statusNoResponse:
			s.NoResponse++
		case statusOnboarding:
			s.Onboarding++
			s.OnboardingNames = append(s.OnboardingNames, FormatName(c.ClientName))
		case statusPaused:
			s.Paused++
		case statusChurnedPending:
			s.ChurnedPending++
		}

		if !transition.IsChurned(c.ClientStatus) || !c.ChurnedAt.Valid {
			continue
		}
		at := c.ChurnedAt.Time.In(loc)
		if at.Before(start) || at.After(end) {
			continue
		}
		s.ChurnedThisWeek++
		s.ChurnedThisWeekNames = append(s.ChurnedThisWeekNames, FormatName(c.ClientName))
	}
	return s
}

// FormatName shortens a client name to "First L.": the first word and the initial of
// the last word. A name without a space is returned whole.
func FormatName(name string) string {
	fields := strings.Fields(name)
	if len(fields) < 2 {
		return strings.TrimSpace(name)
	}
	initial, _ := utf8.DecodeRuneInString(fields[len(fields)-1])
	return fmt.Sprintf("%s %c.", fields[0], initial)
}

// Render lays the summary out as Slack blocks. The mention is omitted when empty and
// the generation time is shown in loc.
func Render(s Summary, mention string, generated time.Time, loc *time.Location) []slack.Block {

	if loc == nil {
		loc = time.UTC
	}
	breakdown := fmt.Sprintf(
		"*Status breakdown*\n• Active: %d\n• No response: %d\n• Onboarding: %d\n• Paused: %d\n• Churned pending: %d",
		s.Active, s.NoResponse, s.Onboarding, s.Paused, s.ChurnedPending,
	)

	blocks := []slack.Block{
		slack.Header("Weekly client summary"),
		slack.Section(breakdown),
		slack.Divider(),
		slack.Section(countWithNames("Onboarding", s.Onboarding, s.OnboardingNames)),
		slack.Section(countWithNames("Churned this week", s.ChurnedThisWeek, s.ChurnedThisWeekNames)),
	}
	if m := strings.TrimSpace(mention); m != "" {
		blocks = append(blocks, slack.Section(m))
	}
	blocks = append(blocks, slack.Context("Generated "+generated.In(loc).Format("Mon 2 Jan 2006 15:04 MST")))
	return blocks
}

func countWithNames(label string, n int, names []string) string {
	s := fmt.Sprintf("*%s:* %d", label, n)
	if len(names) > 0 {
		s += "\n" + strings.Join(names, ", ")
	}
	return s
}

// Store is the part of the staging table the reporter reads.
type Store interface {
	AllClients(ctx context.Context) ([]db.Client, error)
}

// Poster delivers a Slack message.
type Poster interface {
	PostMessage(ctx context.Context, m slack.Message) (string, error)
}

// Reporter aggregates the staging table and posts the summary.
type Reporter struct {
	Store    Store
	Poster   Poster
	Channel  string
	Mention  string
	Location *time.Location
	Log      reconcile.Log

	now func() time.Time
}

// Send builds and posts the summary once. A failed post is recorded and returned; it is
// not retried.
func (r *Reporter) Send(ctx context.Context) error {

	now := time.Now
	if r.now != nil {
		now = r.now
	}
	runID := uuid.NewString()
	note := func(level slog.Level, msg string, err error) {
		if r.Log != nil {
			r.Log.Record(ctx, reconcile.Note{At: now(), Level: level, Flow: FlowSummary, RunID: runID, Message: msg, Err: err})
		}
	}

	clients, err := r.Store.AllClients(ctx)
	if err != nil {
		note(slog.LevelError, "could not read clients", err)
		return fmt.Errorf("summary: %w", err)
	}

	at := now()
	s := Aggregate(clients, at, r.Location)
	msg := slack.Message{
		Channel: r.Channel,
		Text:    fmt.Sprintf("Weekly client summary: %d active, %d onboarding, %d churned this week", s.Active, s.Onboarding, s.ChurnedThisWeek),
		Blocks:  Render(s, r.Mention, at, r.Location),
	}
	if _, err := r.Poster.PostMessage(ctx, msg); err != nil {
		note(slog.LevelError, "summary not delivered", err)
		return fmt.Errorf("summary: %w", err)
	}
	note(slog.LevelInfo, fmt.Sprintf("summary posted to %s", r.Channel), nil)
	return nil
}
