// Package reconcile keeps the staging table, the CRM and the workspace database in
// step.
//
// Three passes run over the staging rows in row order:
//
//   - SyncCRMToWorkspace reads each eligible client from the CRM, overwrites the row
//     with the mapped values, tracks churn transitions and patches the workspace page.
//   - PullWorkspaceStatus copies the workspace page Status into the row.
//   - PushStatusToCRM writes the row status back to the CRM contact.
//
// A failure on one row is recorded and the pass moves on to the next; only a failure
// to read the table aborts a pass. Ingest handles the workspace webhook, which only
// ever appends rows.
//
// Nothing here logs directly. Each pass emits Notes to a Log and returns a Report.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clientsync/apiclients/notion"
	"clientsync/db"
	"clientsync/internal/rowlock"
	"clientsync/mapping"
	"clientsync/transition"

	"github.com/google/uuid"
)

// Options configure a Syncer.
type Options struct {
	Tables         mapping.Tables
	PMUserIDs      map[string]string
	RateLimitDelay time.Duration
	PushTier       bool
	Locker         Locker
	Log            Log
}

// Syncer runs the sync passes and the webhook ingest.
type Syncer struct {
	store Store
	crm   CRM
	ws    Workspace
	log   Log
	lock  Locker

	tables    mapping.Tables
	pmUserIDs map[string]string
	delay     time.Duration
	pushTier  bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// New returns a Syncer. A nil Locker or Log in opts disables locking or logging.
func New(store Store, crm CRM, ws Workspace, opts Options) *Syncer {
	s := &Syncer{
		store:     store,
		crm:       crm,
		ws:        ws,
		log:       opts.Log,
		lock:      opts.Locker,
		tables:    opts.Tables,
		pmUserIDs: opts.PMUserIDs,
		delay:     opts.RateLimitDelay,
		pushTier:  opts.PushTier,
		now:       time.Now,
		sleep:     sleepContext,
		newID:     uuid.NewString,
	}
	if s.log == nil {
		s.log = discardLog{}
	}
	if s.lock == nil {
		s.lock = noLock{}
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// pass carries the state of one run of a flow.
type pass struct {
	s        *Syncer
	flow     string
	runID    string
	resolver *Resolver

	// throttle is set by a record handler that made remote calls which must be
	// followed by the rate limit delay.
	throttle bool
}

func (p *pass) note(ctx context.Context, level slog.Level, client, msg string, err error) {
	p.s.log.Record(ctx, Note{
		At:      p.s.now(),
		Level:   level,
		Flow:    p.flow,
		RunID:   p.runID,
		Client:  client,
		Message: msg,
		Err:     err,
	})
}

// run iterates the staging rows, isolating each record. A panic while handling a
// record is recovered and counted as a failure of that record.
func (s *Syncer) run(ctx context.Context, flow string, each func(ctx context.Context, p *pass, c db.Client) outcome) Report {

	p := &pass{
		s:        s,
		flow:     flow,
		runID:    s.newID(),
		resolver: NewResolver(s.crm, s.ws, s.pmUserIDs),
	}
	report := Report{Flow: flow, RunID: p.runID}
	p.note(ctx, slog.LevelInfo, "", "start", nil)

	clients, err := s.store.AllClients(ctx)
	if err == nil && len(clients) == 0 {
		err = ErrEmptyTable
	}
	if err != nil {
		report.Fatal = err
		s.log.Record(ctx, Note{At: s.now(), Level: slog.LevelError, Fatal: true, Flow: flow, RunID: p.runID, Message: "pass aborted", Err: err})
		return report
	}

	for _, c := range clients {
		if err := ctx.Err(); err != nil {
			report.Fatal = err
			p.note(ctx, slog.LevelError, "", "pass cancelled", err)
			return report
		}
		p.throttle = false
		switch s.isolate(ctx, p, c, each) {
		case processed:
			report.Processed++
		case skipped:
			report.Skipped++
		case failed:
			report.Failed++
		}
		if p.throttle {
			_ = s.sleep(ctx, s.delay)
		}
	}
	p.note(ctx, slog.LevelInfo, "", fmt.Sprintf("complete: processed %d, skipped %d, failed %d", report.Processed, report.Skipped, report.Failed), nil)
	return report
}

// isolate handles one record under its client lock, converting a panic into a failure.
func (s *Syncer) isolate(ctx context.Context, p *pass, c db.Client, each func(context.Context, *pass, db.Client) outcome) (o outcome) {
	name := displayName(c)
	defer func() {
		if r := recover(); r != nil {
			p.note(ctx, slog.LevelError, name, "error", fmt.Errorf("panic: %v", r))
			o = failed
		}
	}()

	unlock, err := s.lock.Lock(ctx, rowlock.Key(c.ClientName))
	if err != nil {
		p.note(ctx, slog.LevelError, name, "could not lock client", err)
		return failed
	}
	defer unlock()

	// re-read under the lock so the write is based on the current row
	fresh, err := s.store.ClientByRow(ctx, c.RowNo)
	if err != nil {
		p.note(ctx, slog.LevelError, name, "could not read row", err)
		return failed
	}
	return each(ctx, p, fresh)
}

func displayName(c db.Client) string {
	if n := strings.TrimSpace(c.ClientName); n != "" {
		return n
	}
	return fmt.Sprintf("row %d", c.RowNo)
}

// applyTransition updates the churned timestamp of c for a status change from old to
// c.ClientStatus.
func (s *Syncer) applyTransition(c *db.Client, old string) transition.Transition {
	t := transition.Compute(old, c.ClientStatus)
	switch t.Action {
	case transition.SetTimestamp:
		c.ChurnedAt = db.NewInstant(s.now())
	case transition.ClearTimestamp:
		c.ChurnedAt = db.Instant{}
	}
	return t
}

// noteTransition records the transition note verbatim; unchanged churn state is
// recorded at debug level.
func (p *pass) noteTransition(ctx context.Context, client string, t transition.Transition) {
	level := slog.LevelInfo
	if t.Action == transition.None {
		level = slog.LevelDebug
	}
	p.note(ctx, level, client, t.LogNote, nil)
}

// SyncCRMToWorkspace is the primary daily pass. For each row with a client name and
// contact id it fetches the contact, overwrites the row with the mapped values, tracks
// churn, caches the workspace page id and patches the page with the non-empty values.
// Rows whose page cannot be found are updated in the table only.
func (s *Syncer) SyncCRMToWorkspace(ctx context.Context) Report {
	return s.run(ctx, FlowCRMToWorkspace, s.syncRecord)
}

func (s *Syncer) syncRecord(ctx context.Context, p *pass, c db.Client) outcome {

	name := displayName(c)
	if !c.Eligible() {
		p.note(ctx, slog.LevelInfo, name, "skipped: no client name or contact id", nil)
		return skipped
	}
	p.throttle = true

	contact, err := s.crm.Fetch(ctx, c.ContactID)
	if err != nil {
		p.note(ctx, slog.LevelError, name, "error fetching contact", err)
		return failed
	}
	cp := contact.Properties

	oldStatus := c.ClientStatus
	c.ProductManagerRaw = cp.ProductManager
	c.ProductManager = s.tables.MapOwner(cp.ProductManager)
	c.AssistantRaw = cp.PA
	c.Assistant = s.tables.MapAssistant(cp.PA)
	c.TierRaw = cp.AccountPrioritisation
	c.Tier = s.tables.MapTier(cp.AccountPrioritisation, mapping.ToWorkspace)
	c.ClientHealth = cp.ClientHealth
	c.TierReasoning = cp.ReasonForAccountPrioritisation
	owner := cp.AccountManager
	if strings.TrimSpace(owner) == "" {
		owner = cp.HubSpotOwnerID
	}
	c.AccountOwner = s.tables.MapOwner(owner)
	status := cp.ClientStatus
	if strings.TrimSpace(status) == "" {
		status = cp.MembershipStatus
	}
	c.ClientStatus = status
	tr := s.applyTransition(&c, oldStatus)

	pageID, pageErr := p.resolver.ResolvePageID(ctx, c)
	switch {
	case pageErr == nil:
		if pageID != c.PageID {
			p.note(ctx, slog.LevelInfo, name, "cached workspace page id "+pageID, nil)
		}
		c.PageID = pageID
	case isNotFound(pageErr):
		pageID = ""
	}

	if err := s.store.ClientUpdate(ctx, c); err != nil {
		p.note(ctx, slog.LevelError, name, "error updating row", err)
		return failed
	}
	p.noteTransition(ctx, name, tr)

	switch {
	case pageErr != nil && !isNotFound(pageErr):
		p.note(ctx, slog.LevelError, name, "error finding workspace page", pageErr)
		return failed
	case pageID == "":
		p.note(ctx, slog.LevelInfo, name, "no workspace page; table updated only", nil)
		return processed
	}

	pmIDs, err := p.resolver.ResolvePMUsers(ctx, c.ProductManager)
	if err != nil {
		p.note(ctx, slog.LevelWarn, name, "product manager lookup incomplete", err)
	}

	update := notion.PageUpdate{
		PMUserIDs:      pmIDs,
		PA:             c.Assistant,
		Health:         c.ClientHealth,
		Tier:           c.Tier,
		Status:         c.ClientStatus,
		AccountManager: c.AccountOwner,
		TierReasoning:  c.TierReasoning,
	}
	if err := s.ws.PatchProperties(ctx, pageID, update); err != nil {
		p.note(ctx, slog.LevelError, name, "error updating workspace page", err)
		return failed
	}
	p.note(ctx, slog.LevelInfo, name, "updated workspace page", nil)
	return processed
}

// PullWorkspaceStatus copies the Status of each row's cached workspace page into the
// row when the two differ, tracking churn. Rows without a cached page are skipped.
func (s *Syncer) PullWorkspaceStatus(ctx context.Context) Report {
	return s.run(ctx, FlowPullStatus, s.pullRecord)
}

func (s *Syncer) pullRecord(ctx context.Context, p *pass, c db.Client) outcome {

	name := displayName(c)
	if strings.TrimSpace(c.PageID) == "" {
		return skipped
	}

	st, err := s.ws.GetPageStatus(ctx, c.PageID)
	if err != nil {
		p.note(ctx, slog.LevelError, name, "error reading workspace status", err)
		return failed
	}
	if st.Kind == notion.StatusAbsent {
		p.note(ctx, slog.LevelInfo, name, "workspace page has no status", nil)
		return skipped
	}
	status := st.String()
	if status == c.ClientStatus {
		return processed
	}

	old := c.ClientStatus
	c.ClientStatus = status
	tr := s.applyTransition(&c, old)
	if err := s.store.ClientUpdate(ctx, c); err != nil {
		p.note(ctx, slog.LevelError, name, "error updating row", err)
		return failed
	}
	p.noteTransition(ctx, name, tr)
	return processed
}

// PushStatusToCRM writes the status of each row with a contact id and a status to the
// CRM contact. With PushTier set the reverse-mapped tier is written too.
func (s *Syncer) PushStatusToCRM(ctx context.Context) Report {
	return s.run(ctx, FlowPushStatus, s.pushRecord)
}

func (s *Syncer) pushRecord(ctx context.Context, p *pass, c db.Client) outcome {

	name := displayName(c)
	contactID := strings.TrimSpace(c.ContactID)
	status := strings.TrimSpace(c.ClientStatus)
	if contactID == "" || status == "" {
		return skipped
	}

	fields := map[string]string{"client_status": c.ClientStatus}
	if s.pushTier && strings.TrimSpace(c.Tier) != "" {
		fields["account_prioritisation"] = s.tables.MapTier(c.Tier, mapping.ToCRM)
	}
	if err := s.crm.Update(ctx, contactID, fields); err != nil {
		p.note(ctx, slog.LevelError, name, "error updating contact", err)
		return failed
	}
	p.note(ctx, slog.LevelInfo, name, fmt.Sprintf("updated contact status to %q", c.ClientStatus), nil)
	return processed
}
