package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"clientsync/apiclients/hubspot"
	"clientsync/apiclients/notion"
	"clientsync/db"
	"clientsync/internal/rowlock"
	"clientsync/mapping"

	"github.com/google/go-cmp/cmp"
)

func contact(id, pm, pa, health, tier, status, manager, reasoning string) hubspot.Contact {
	return hubspot.Contact{
		ID: id,
		Properties: hubspot.ContactProperties{
			ProductManager:                 pm,
			PA:                             pa,
			ClientHealth:                   health,
			AccountPrioritisation:          tier,
			ClientStatus:                   status,
			AccountManager:                 manager,
			ReasonForAccountPrioritisation: reasoning,
		},
	}
}

func defaultOptions() Options {
	return Options{
		Tables:         mapping.Defaults(),
		PMUserIDs:      map[string]string{"Lewis Waldron": "u-lewis"},
		RateLimitDelay: 100 * time.Millisecond,
	}
}

func TestSyncCRMToWorkspace(t *testing.T) {

	ctx := context.Background()
	store := newFakeStore(
		db.Client{ClientName: "Acme Ltd", ContactID: "101", ClientStatus: "Active"},
		db.Client{ClientName: "No Contact"},
		db.Client{ClientName: "Globex", ContactID: "102", PageID: "page-globex", ClientStatus: "Paused"},
	)
	crm := newFakeCRM()
	crm.contacts["101"] = contact("101", "Lewis", "Robin", "Green", "High Growth", "Churned", "Phil", "strong fit")
	globexContact := contact("102", "Hosun Chung, Jane Doe", "Unmapped PA", "", "Brand New Tier", "", "", "")
	globexContact.Properties.MembershipStatus = "Paused"
	globexContact.Properties.HubSpotOwnerID = "Nooch"
	crm.contacts["102"] = globexContact

	ws := newFakeWorkspace()
	ws.pages["Acme Ltd"] = []string{"page-acme", "page-acme-duplicate"}
	ws.users = []notion.User{{ID: "u-hosun", Name: " hosun chung "}, {ID: "u-other", Name: "Someone"}}

	log := &fakeLog{}
	s, sleeps := newTestSyncer(store, crm, ws, log, defaultOptions())

	report := s.SyncCRMToWorkspace(ctx)
	if diff := cmp.Diff(Report{Flow: FlowCRMToWorkspace, RunID: "run-1", Processed: 2, Skipped: 1}, report); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}

	acme := store.row("Acme Ltd")
	wantAcme := db.Client{
		RowNo:             1,
		ClientName:        "Acme Ltd",
		ContactID:         "101",
		AccountOwner:      "Phil Saunes",
		ProductManager:    "Lewis Waldron",
		ProductManagerRaw: "Lewis",
		ClientHealth:      "Green",
		Tier:              "Tier 1 → GTM clients",
		TierRaw:           "High Growth",
		Assistant:         "Robin Rajan",
		AssistantRaw:      "Robin",
		PageID:            "page-acme",
		ClientStatus:      "Churned",
		TierReasoning:     "strong fit",
		ChurnedAt:         db.NewInstant(fixedNow),
	}
	if diff := cmp.Diff(wantAcme, acme); diff != "" {
		t.Errorf("acme row mismatch (-want +got):\n%s", diff)
	}

	wantAcmePatch := notion.PageUpdate{
		PMUserIDs:      []string{"u-lewis"},
		PA:             "Robin Rajan",
		Health:         "Green",
		Tier:           "Tier 1 → GTM clients",
		Status:         "Churned",
		AccountManager: "Phil Saunes",
		TierReasoning:  "strong fit",
	}
	if diff := cmp.Diff(wantAcmePatch, ws.patches["page-acme"]); diff != "" {
		t.Errorf("acme patch mismatch (-want +got):\n%s", diff)
	}

	globex := store.row("Globex")
	if got, want := globex.ClientStatus, "Paused"; got != want {
		t.Errorf("membership status fallback got %q want %q", got, want)
	}
	if got, want := globex.AccountOwner, "Nooch Saeedi"; got != want {
		t.Errorf("owner id fallback got %q want %q", got, want)
	}
	if got, want := globex.Tier, "Brand New Tier"; got != want {
		t.Errorf("unmapped tier got %q want %q", got, want)
	}
	if globex.ChurnedAt.Valid {
		t.Errorf("churned at set for a non churned client")
	}
	wantGlobexPatch := notion.PageUpdate{
		PMUserIDs:      []string{"u-hosun"},
		PA:             "Unmapped PA",
		Tier:           "Brand New Tier",
		Status:         "Paused",
		AccountManager: "Nooch Saeedi",
	}
	if diff := cmp.Diff(wantGlobexPatch, ws.patches["page-globex"]); diff != "" {
		t.Errorf("globex patch mismatch (-want +got):\n%s", diff)
	}

	// the cached page id is used without a query
	if got, want := ws.queries, 1; got != want {
		t.Errorf("got %d page queries want %d", got, want)
	}
	// the directory is listed once per pass
	if got, want := ws.listCalls, 1; got != want {
		t.Errorf("got %d directory listings want %d", got, want)
	}
	// one delay per eligible record
	if diff := cmp.Diff([]time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, *sleeps); diff != "" {
		t.Errorf("sleeps mismatch (-want +got):\n%s", diff)
	}
	if !log.has("Acme Ltd", "churned timestamp set") {
		t.Error("transition note not recorded")
	}
	if !log.has("No Contact", "skipped") {
		t.Error("skip note not recorded")
	}
}

func TestSyncCRMToWorkspaceIdempotent(t *testing.T) {

	ctx := context.Background()
	store := newFakeStore(
		db.Client{ClientName: "Acme Ltd", ContactID: "101", ClientStatus: "Active"},
		db.Client{ClientName: "Globex", ContactID: "102"},
	)
	crm := newFakeCRM()
	crm.contacts["101"] = contact("101", "Lewis", "Robin", "Green", "High Growth", "Churned", "Phil", "strong fit")
	crm.contacts["102"] = contact("102", "", "", "Red", "Non-ICP", "Active", "", "")
	ws := newFakeWorkspace()
	ws.pages["Acme Ltd"] = []string{"page-acme"}
	ws.pages["Globex"] = []string{"page-globex"}

	s, _ := newTestSyncer(store, crm, ws, &fakeLog{}, defaultOptions())

	s.SyncCRMToWorkspace(ctx)
	firstRows, _ := store.AllClients(ctx)
	firstPatches := map[string]notion.PageUpdate{}
	for k, v := range ws.patches {
		firstPatches[k] = v
	}
	queries := ws.queries

	// a later clock must not move the churned timestamp of an unchanged status
	s.now = func() time.Time { return fixedNow.Add(24 * time.Hour) }
	s.SyncCRMToWorkspace(ctx)
	secondRows, _ := store.AllClients(ctx)

	if diff := cmp.Diff(firstRows, secondRows); diff != "" {
		t.Errorf("table changed on second run (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(firstPatches, ws.patches); diff != "" {
		t.Errorf("workspace changed on second run (-first +second):\n%s", diff)
	}
	if ws.queries != queries {
		t.Errorf("second run searched for pages: %d queries after %d", ws.queries, queries)
	}
}

func TestSyncCRMToWorkspaceFaultIsolation(t *testing.T) {

	ctx := context.Background()
	store := newFakeStore(
		db.Client{ClientName: "One", ContactID: "1", PageID: "p1"},
		db.Client{ClientName: "Two", ContactID: "2", PageID: "p2"},
		db.Client{ClientName: "Three", ContactID: "3", PageID: "p3"},
		db.Client{ClientName: "Four", ContactID: "4", PageID: "p4"},
		db.Client{ClientName: "Five", ContactID: "5", PageID: "p5"},
	)
	crm := newFakeCRM()
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		crm.contacts[id] = contact(id, "", "", "Green", "", "Active", "", "")
	}
	crm.fetchErr["2"] = &hubspot.APIError{StatusCode: 500, Body: "boom"}
	crm.panicOn = "3"
	ws := newFakeWorkspace()
	ws.patchErr["p4"] = errRemote

	log := &fakeLog{}
	s, _ := newTestSyncer(store, crm, ws, log, defaultOptions())
	report := s.SyncCRMToWorkspace(ctx)

	if diff := cmp.Diff(Report{Flow: FlowCRMToWorkspace, RunID: "run-1", Processed: 2, Failed: 3}, report); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	for _, p := range []string{"p1", "p5"} {
		if _, ok := ws.patches[p]; !ok {
			t.Errorf("page %s not patched", p)
		}
	}
	if !log.has("Two", "status 500") {
		t.Error("remote error not recorded with its status")
	}
	if !log.has("Three", "panic") {
		t.Error("panic not recorded")
	}
	// the table write for Four happened before the page write failed
	if got := store.row("Four").ClientStatus; got != "Active" {
		t.Errorf("row Four status got %q", got)
	}
}

func TestSyncCRMToWorkspaceNoPage(t *testing.T) {

	ctx := context.Background()
	store := newFakeStore(db.Client{ClientName: "Orphan", ContactID: "1"})
	crm := newFakeCRM()
	crm.contacts["1"] = contact("1", "", "", "Amber", "", "Active", "", "")
	ws := newFakeWorkspace()

	log := &fakeLog{}
	s, _ := newTestSyncer(store, crm, ws, log, defaultOptions())
	report := s.SyncCRMToWorkspace(ctx)

	if report.Processed != 1 || report.Failed != 0 {
		t.Errorf("unexpected report %+v", report)
	}
	if got := store.row("Orphan").ClientHealth; got != "Amber" {
		t.Errorf("table not updated: health %q", got)
	}
	if ws.patchCalls != 0 {
		t.Errorf("got %d patches for a client with no page", ws.patchCalls)
	}
	if !log.has("Orphan", "no workspace page") {
		t.Error("missing page not recorded")
	}

	// a query error is a failure, not a miss, but the table is still written
	ws.queryErr = errRemote
	crm.contacts["1"] = contact("1", "", "", "Red", "", "Active", "", "")
	report = s.SyncCRMToWorkspace(ctx)
	if report.Failed != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	if got := store.row("Orphan").ClientHealth; got != "Red" {
		t.Errorf("table not updated: health %q", got)
	}
}

func TestPassFatal(t *testing.T) {

	ctx := context.Background()

	tests := []struct {
		name  string
		store *fakeStore
		want  error
	}{
		{"empty table", newFakeStore(), ErrEmptyTable},
		{"missing table", &fakeStore{allErr: errors.New("no such table: clients")}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &fakeLog{}
			s, _ := newTestSyncer(tt.store, newFakeCRM(), newFakeWorkspace(), log, defaultOptions())
			for _, run := range []func(context.Context) Report{s.SyncCRMToWorkspace, s.PullWorkspaceStatus, s.PushStatusToCRM} {
				r := run(ctx)
				if r.Fatal == nil {
					t.Fatal("expected a fatal report")
				}
				if tt.want != nil && !errors.Is(r.Fatal, tt.want) {
					t.Errorf("fatal got %v want %v", r.Fatal, tt.want)
				}
			}
			var fatal int
			for _, n := range log.notes {
				if n.Fatal {
					fatal++
				}
			}
			if got, want := fatal, 3; got != want {
				t.Errorf("got %d fatal notes want %d", got, want)
			}
		})
	}
}

// Both row locks serve as the Locker port.
var (
	_ Locker = (*rowlock.Local)(nil)
	_ Locker = (*rowlock.Redis)(nil)
)

func TestPassLockFailure(t *testing.T) {

	ctx := context.Background()
	store := newFakeStore(db.Client{ClientName: "Held", ContactID: "1"}, db.Client{ClientName: "Free", ContactID: "2", PageID: "p2"})
	crm := newFakeCRM()
	crm.contacts["2"] = contact("2", "", "", "", "", "Active", "", "")

	locker := rowlock.NewLocal(10 * time.Millisecond)
	unlock, err := locker.Lock(ctx, rowlock.Key("Held"))
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	opts := defaultOptions()
	opts.Locker = locker
	s, _ := newTestSyncer(store, crm, newFakeWorkspace(), &fakeLog{}, opts)
	report := s.SyncCRMToWorkspace(ctx)
	if report.Failed != 1 || report.Processed != 1 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestPullWorkspaceStatus(t *testing.T) {

	ctx := context.Background()
	earlier := db.NewInstant(fixedNow.Add(-48 * time.Hour))
	store := newFakeStore(
		db.Client{ClientName: "Entering", PageID: "p1", ClientStatus: "Active"},
		db.Client{ClientName: "Leaving", PageID: "p2", ClientStatus: "churned", ChurnedAt: earlier},
		db.Client{ClientName: "Staying", PageID: "p3", ClientStatus: "Churned", ChurnedAt: earlier},
		db.Client{ClientName: "No Page", ClientStatus: "Active"},
		db.Client{ClientName: "Blank", PageID: "p5", ClientStatus: "Paused"},
		db.Client{ClientName: "Broken", PageID: "p6", ClientStatus: "Paused"},
		db.Client{ClientName: "Multi", PageID: "p7", ClientStatus: "Active"},
	)
	ws := newFakeWorkspace()
	ws.statuses["p1"] = notion.Status{Kind: notion.StatusSingle, Values: []string{"Churned"}}
	ws.statuses["p2"] = notion.Status{Kind: notion.StatusMulti, Values: []string{"Onboarding"}}
	ws.statuses["p3"] = notion.Status{Kind: notion.StatusMulti, Values: []string{"Churned"}}
	ws.statusErr["p6"] = errRemote
	ws.statuses["p7"] = notion.Status{Kind: notion.StatusMulti, Values: []string{"Active", "Paused"}}

	s, _ := newTestSyncer(store, newFakeCRM(), ws, &fakeLog{}, defaultOptions())
	report := s.PullWorkspaceStatus(ctx)

	if diff := cmp.Diff(Report{Flow: FlowPullStatus, RunID: "run-1", Processed: 4, Skipped: 2, Failed: 1}, report); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}

	tests := []struct {
		name        string
		wantStatus  string
		wantChurned db.Instant
	}{
		{"Entering", "Churned", db.NewInstant(fixedNow)},
		{"Leaving", "Onboarding", db.Instant{}},
		{"Staying", "Churned", earlier},
		{"No Page", "Active", db.Instant{}},
		{"Blank", "Paused", db.Instant{}},
		{"Broken", "Paused", db.Instant{}},
		{"Multi", "Active, Paused", db.Instant{}},
	}
	for _, tt := range tests {
		got := store.row(tt.name)
		if got.ClientStatus != tt.wantStatus {
			t.Errorf("%s status got %q want %q", tt.name, got.ClientStatus, tt.wantStatus)
		}
		if diff := cmp.Diff(tt.wantChurned, got.ChurnedAt); diff != "" {
			t.Errorf("%s churned at mismatch (-want +got):\n%s", tt.name, diff)
		}
	}
}

func TestPushStatusToCRM(t *testing.T) {

	ctx := context.Background()
	rows := []db.Client{
		{ClientName: "Acme", ContactID: "1", ClientStatus: "Active", Tier: "Tier 5 → Content only not-ICP"},
		{ClientName: "No Status", ContactID: "2"},
		{ClientName: "No Contact", ClientStatus: "Active"},
		{ClientName: "Rejected", ContactID: "4", ClientStatus: "Paused", Tier: "Unknown Tier"},
	}

	tests := []struct {
		name     string
		pushTier bool
		want     map[string]map[string]string
	}{
		{
			name: "status only",
			want: map[string]map[string]string{
				"1": {"client_status": "Active"},
			},
		},
		{
			// the reverse table is used, not an inversion of the forward table, so
			// Tier 5 goes back as "Deprioritised" rather than "definitely deprio"
			name:     "with tier",
			pushTier: true,
			want: map[string]map[string]string{
				"1": {"client_status": "Active", "account_prioritisation": "Deprioritised"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(rows...)
			crm := newFakeCRM()
			crm.updateErr["4"] = &hubspot.APIError{StatusCode: 400, Body: "invalid option"}
			opts := defaultOptions()
			opts.PushTier = tt.pushTier
			log := &fakeLog{}
			s, _ := newTestSyncer(store, crm, newFakeWorkspace(), log, opts)

			report := s.PushStatusToCRM(ctx)
			if diff := cmp.Diff(Report{Flow: FlowPushStatus, RunID: "run-1", Processed: 1, Skipped: 2, Failed: 1}, report); diff != "" {
				t.Errorf("report mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.want, crm.updates); diff != "" {
				t.Errorf("updates mismatch (-want +got):\n%s", diff)
			}
			if !log.has("Rejected", "invalid option") {
				t.Error("remote error body not recorded")
			}
		})
	}
}

func TestNoteString(t *testing.T) {
	n := Note{Flow: FlowWebhook, Client: "Acme", Message: "error appending row", Err: errRemote}
	if got, want := n.String(), "webhook: Acme: error appending row: remote unavailable"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
	n = Note{Flow: FlowPullStatus, Fatal: true, Message: "pass aborted", Err: ErrEmptyTable}
	if got, want := n.String(), "workspace-status-to-table: fatal: pass aborted: staging table has no rows"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}
