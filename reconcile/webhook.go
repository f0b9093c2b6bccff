package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"clientsync/apiclients/notion"
	"clientsync/db"
	"clientsync/internal/rowlock"
)

// WebhookResult is the plain-text body of every webhook response. The HTTP status is
// always 200, so callers tell outcomes apart by this text.
type WebhookResult string

const (
	WebhookIgnored       WebhookResult = "ignored"
	WebhookAlreadyExists WebhookResult = "already exists"
	WebhookCreated       WebhookResult = "created"
	WebhookError         WebhookResult = "error"
)

// WebhookEvent is the part of a workspace change notification the ingest needs.
type WebhookEvent struct {
	ClientName string
	PageID     string
}

type titleText struct {
	PlainText string `json:"plain_text"`
}

type webhookProperty struct {
	Title []titleText `json:"title"`
}

type webhookPayload struct {
	Data *struct {
		ID         string                     `json:"id"`
		Properties map[string]webhookProperty `json:"properties"`
	} `json:"data"`
}

// ParseWebhook extracts the client name and page id from a notification body. It
// reports false when the body is not JSON, has no data object, or lacks either a
// client name title or a page id.
func ParseWebhook(body []byte) (WebhookEvent, bool) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil || p.Data == nil {
		return WebhookEvent{}, false
	}
	var name strings.Builder
	for _, t := range p.Data.Properties[notion.PropClientName].Title {
		name.WriteString(t.PlainText)
	}
	ev := WebhookEvent{
		ClientName: strings.TrimSpace(name.String()),
		PageID:     strings.TrimSpace(p.Data.ID),
	}
	if ev.ClientName == "" || ev.PageID == "" {
		return WebhookEvent{}, false
	}
	return ev, true
}

// Ingest reconciles a workspace change notification into the staging table. A client
// already in the table, matched by name ignoring case, is left alone. A new client is
// appended with its page id and then, on a best-effort basis, its CRM contact id.
// Ingest never returns an error; any failure becomes WebhookError.
func (s *Syncer) Ingest(ctx context.Context, body []byte) (result WebhookResult) {

	runID := s.newID()
	note := func(level slog.Level, client, msg string, err error) {
		s.log.Record(ctx, Note{At: s.now(), Level: level, Flow: FlowWebhook, RunID: runID, Client: client, Message: msg, Err: err})
	}
	defer func() {
		if r := recover(); r != nil {
			note(slog.LevelError, "", "error", fmt.Errorf("panic: %v", r))
			result = WebhookError
		}
	}()

	ev, ok := ParseWebhook(body)
	if !ok {
		note(slog.LevelInfo, "", "ignored: no client name or page id", nil)
		return WebhookIgnored
	}

	unlock, err := s.lock.Lock(ctx, rowlock.Key(ev.ClientName))
	if err != nil {
		note(slog.LevelError, ev.ClientName, "could not lock client", err)
		return WebhookError
	}
	defer unlock()

	_, err = s.store.ClientByName(ctx, ev.ClientName)
	switch {
	case err == nil:
		note(slog.LevelInfo, ev.ClientName, "already exists", nil)
		return WebhookAlreadyExists
	case !errors.Is(err, db.ErrNoRows):
		note(slog.LevelError, ev.ClientName, "error reading table", err)
		return WebhookError
	}

	c, err := s.store.ClientAppend(ctx, db.Client{ClientName: ev.ClientName, PageID: ev.PageID})
	if err != nil {
		note(slog.LevelError, ev.ClientName, "error appending row", err)
		return WebhookError
	}
	note(slog.LevelInfo, ev.ClientName, "appended row with page id "+ev.PageID, nil)

	contactID, err := NewResolver(s.crm, s.ws, s.pmUserIDs).ResolveContactID(ctx, ev.ClientName)
	switch {
	case isNotFound(err):
		note(slog.LevelInfo, ev.ClientName, "no matching CRM contact", nil)
		return WebhookCreated
	case err != nil:
		note(slog.LevelWarn, ev.ClientName, "CRM contact search failed", err)
		return WebhookCreated
	}

	c.ContactID = contactID
	if err := s.store.ClientUpdate(ctx, c); err != nil {
		note(slog.LevelError, ev.ClientName, "error saving contact id", err)
		return WebhookCreated
	}
	note(slog.LevelInfo, ev.ClientName, "matched CRM contact "+contactID, nil)
	return WebhookCreated
}
