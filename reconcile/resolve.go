package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"clientsync/apiclients/notion"
	"clientsync/db"
)

// Resolver establishes the cross-system identifiers of a client. A Resolver lives for
// one pass: the workspace user directory is listed at most once and reused.
type Resolver struct {
	crm       CRM
	ws        Workspace
	pmUserIDs map[string]string

	users       []notion.User
	usersLoaded bool
	usersErr    error
}

// NewResolver returns a Resolver for one pass. pmUserIDs is the static product
// manager name to workspace user id table.
func NewResolver(crm CRM, ws Workspace, pmUserIDs map[string]string) *Resolver {
	return &Resolver{crm: crm, ws: ws, pmUserIDs: pmUserIDs}
}

// ResolvePageID returns the workspace page id of the client. A cached id is returned
// without a remote call. Otherwise the database is queried for a page whose title
// equals the client name exactly and the first result is taken. No match returns
// ErrNotFound. Caching a newly found id on the row is the caller's job.
func (r *Resolver) ResolvePageID(ctx context.Context, c db.Client) (string, error) {
	if id := strings.TrimSpace(c.PageID); id != "" {
		return id, nil
	}
	name := strings.TrimSpace(c.ClientName)
	if name == "" {
		return "", ErrNotFound
	}
	ids, err := r.ws.QueryByTitle(ctx, notion.PropClientName, name)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", ErrNotFound
	}
	return ids[0], nil
}

// ResolveContactID finds a CRM contact for a client name. The first word of the name
// seeds a first-name search; the first candidate whose "first last" name is contained
// in the client name, ignoring case, is taken. No match returns ErrNotFound.
//
// The heuristic favours precision over recall. It finds "Lewis Waldron" for
// "Lewis Waldron Consulting" but misses names whose CRM spelling differs, contacts
// whose first name is not the first word, and companies named after neither.
// Candidates with no name are never matched.
func (r *Resolver) ResolveContactID(ctx context.Context, clientName string) (string, error) {
	fields := strings.Fields(clientName)
	if len(fields) == 0 {
		return "", ErrNotFound
	}
	candidates, err := r.crm.SearchByFirstNameToken(ctx, fields[0])
	if err != nil {
		return "", err
	}
	haystack := strings.ToLower(strings.Join(fields, " "))
	for _, c := range candidates {
		full := strings.ToLower(strings.Join(strings.Fields(c.FullName()), " "))
		if full == "" || c.ID == "" {
			continue
		}
		if strings.Contains(haystack, full) {
			return c.ID, nil
		}
	}
	return "", ErrNotFound
}

// ResolvePMUsers turns a comma separated list of product manager names into
// workspace user ids. The static table is preferred; other names are matched against
// the user directory by trimmed case-insensitive equality. Names without a match are
// left out. If the directory cannot be listed the ids found so far are returned with
// the error.
func (r *Resolver) ResolvePMUsers(ctx context.Context, names string) ([]string, error) {
	var ids []string
	var dirErr error
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if id, ok := r.staticPMUser(name); ok {
			ids = append(ids, id)
			continue
		}
		users, err := r.directory(ctx)
		if err != nil {
			dirErr = err
			continue
		}
		for _, u := range users {
			if u.ID != "" && strings.EqualFold(strings.TrimSpace(u.Name), name) {
				ids = append(ids, u.ID)
				break
			}
		}
	}
	if dirErr != nil {
		return ids, fmt.Errorf("user directory: %w", dirErr)
	}
	return ids, nil
}

func (r *Resolver) staticPMUser(name string) (string, bool) {
	if id, ok := r.pmUserIDs[name]; ok && id != "" {
		return id, true
	}
	for k, id := range r.pmUserIDs {
		if id != "" && strings.EqualFold(strings.TrimSpace(k), name) {
			return id, true
		}
	}
	return "", false
}

// directory lists the workspace users once per Resolver.
func (r *Resolver) directory(ctx context.Context) ([]notion.User, error) {
	if !r.usersLoaded {
		r.users, r.usersErr = r.ws.ListUsers(ctx)
		r.usersLoaded = true
	}
	return r.users, r.usersErr
}

// isNotFound reports whether err is a lookup miss.
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
