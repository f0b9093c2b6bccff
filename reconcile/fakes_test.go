package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"clientsync/apiclients/hubspot"
	"clientsync/apiclients/notion"
	"clientsync/db"
)

// fakeStore is an in-memory staging table.
type fakeStore struct {
	mu        sync.Mutex
	rows      []db.Client
	allErr    error
	updateErr map[string]error // by client name
	appendErr error
	appends   int
}

func newFakeStore(rows ...db.Client) *fakeStore {
	s := &fakeStore{updateErr: map[string]error{}}
	for i, r := range rows {
		r.RowNo = int64(i + 1)
		s.rows = append(s.rows, r)
	}
	return s
}

func (s *fakeStore) AllClients(ctx context.Context) ([]db.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allErr != nil {
		return nil, s.allErr
	}
	return append([]db.Client(nil), s.rows...), nil
}

func (s *fakeStore) ClientByRow(ctx context.Context, rowNo int64) (db.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.RowNo == rowNo {
			return r, nil
		}
	}
	return db.Client{}, db.ErrNoRows
}

func (s *fakeStore) ClientByName(ctx context.Context, name string) (db.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if strings.EqualFold(strings.TrimSpace(r.ClientName), strings.TrimSpace(name)) {
			return r, nil
		}
	}
	return db.Client{}, db.ErrNoRows
}

func (s *fakeStore) ClientAppend(ctx context.Context, c db.Client) (db.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return db.Client{}, s.appendErr
	}
	s.appends++
	c.ClientName = strings.TrimSpace(c.ClientName)
	c.RowNo = int64(len(s.rows) + 1)
	s.rows = append(s.rows, c)
	return c, nil
}

func (s *fakeStore) ClientUpdate(ctx context.Context, c db.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rows {
		if r.RowNo == c.RowNo {
			if err := s.updateErr[r.ClientName]; err != nil {
				return err
			}
			c.ClientName = r.ClientName
			s.rows[i] = c
			return nil
		}
	}
	return db.ErrNoRows
}

func (s *fakeStore) row(name string) db.Client {
	c, _ := s.ClientByName(context.Background(), name)
	return c
}

// fakeCRM is an in-memory contact system.
type fakeCRM struct {
	contacts   map[string]hubspot.Contact
	fetchErr   map[string]error
	panicOn    string
	updateErr  map[string]error
	updates    map[string]map[string]string
	candidates map[string][]hubspot.Contact // by token
	searchErr  error
	searches   []string
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		contacts:   map[string]hubspot.Contact{},
		fetchErr:   map[string]error{},
		updateErr:  map[string]error{},
		updates:    map[string]map[string]string{},
		candidates: map[string][]hubspot.Contact{},
	}
}

func (f *fakeCRM) Fetch(ctx context.Context, id string) (hubspot.Contact, error) {
	if id == f.panicOn {
		panic("unexpected contact shape")
	}
	if err := f.fetchErr[id]; err != nil {
		return hubspot.Contact{}, err
	}
	c, ok := f.contacts[id]
	if !ok {
		return hubspot.Contact{}, &hubspot.APIError{StatusCode: 404, Body: "not found"}
	}
	return c, nil
}

func (f *fakeCRM) Update(ctx context.Context, id string, fields map[string]string) error {
	if err := f.updateErr[id]; err != nil {
		return err
	}
	f.updates[id] = fields
	return nil
}

func (f *fakeCRM) SearchByFirstNameToken(ctx context.Context, token string) ([]hubspot.Contact, error) {
	f.searches = append(f.searches, token)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.candidates[token], nil
}

// fakeWorkspace is an in-memory client database.
type fakeWorkspace struct {
	pages      map[string][]string // title -> page ids
	queryErr   error
	queries    int
	statuses   map[string]notion.Status
	statusErr  map[string]error
	patches    map[string]notion.PageUpdate
	patchCalls int
	patchErr   map[string]error
	users      []notion.User
	usersErr   error
	listCalls  int
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{
		pages:     map[string][]string{},
		statuses:  map[string]notion.Status{},
		statusErr: map[string]error{},
		patches:   map[string]notion.PageUpdate{},
		patchErr:  map[string]error{},
	}
}

func (f *fakeWorkspace) QueryByTitle(ctx context.Context, property, value string) ([]string, error) {
	f.queries++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.pages[value], nil
}

func (f *fakeWorkspace) GetPageStatus(ctx context.Context, pageID string) (notion.Status, error) {
	if err := f.statusErr[pageID]; err != nil {
		return notion.Status{}, err
	}
	return f.statuses[pageID], nil
}

func (f *fakeWorkspace) PatchProperties(ctx context.Context, pageID string, u notion.PageUpdate) error {
	f.patchCalls++
	if err := f.patchErr[pageID]; err != nil {
		return err
	}
	f.patches[pageID] = u
	return nil
}

func (f *fakeWorkspace) ListUsers(ctx context.Context) ([]notion.User, error) {
	f.listCalls++
	return f.users, f.usersErr
}

// fakeLog collects notes.
type fakeLog struct {
	mu    sync.Mutex
	notes []Note
}

func (l *fakeLog) Record(ctx context.Context, n Note) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notes = append(l.notes, n)
}

// has reports whether a note for client contains text.
func (l *fakeLog) has(client, text string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range l.notes {
		if n.Client == client && strings.Contains(n.String(), text) {
			return true
		}
	}
	return false
}

var errRemote = errors.New("remote unavailable")

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// newTestSyncer returns a Syncer with a fixed clock, recorded sleeps and sequential
// run ids.
func newTestSyncer(store Store, crm CRM, ws Workspace, log Log, opts Options) (*Syncer, *[]time.Duration) {
	opts.Log = log
	s := New(store, crm, ws, opts)
	s.now = func() time.Time { return fixedNow }
	var sleeps []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	s.newID = func() string { return "run-1" }
	return s, &sleeps
}
