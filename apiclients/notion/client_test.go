package notion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// setup creates a test environment for running API client tests. It returns a
// request multiplexer for registering handlers and a Client configured to use the test
// server.
func setup(t *testing.T) (*http.ServeMux, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	client := NewClient(context.Background(), server.URL, "", "secret-key", "db-1", slog.New(slog.DiscardHandler))
	return mux, client
}

// checkHeaders verifies the headers sent on every request.
func checkHeaders(t *testing.T, r *http.Request) {
	t.Helper()
	if got, want := r.Header.Get("Authorization"), "Bearer secret-key"; got != want {
		t.Errorf("authorization got %q want %q", got, want)
	}
	if got, want := r.Header.Get("Notion-Version"), "2022-06-28"; got != want {
		t.Errorf("notion version got %q want %q", got, want)
	}
}

func TestQueryByTitle(t *testing.T) {

	mux, client := setup(t)

	mux.HandleFunc("POST /v1/databases/db-1/query", func(w http.ResponseWriter, r *http.Request) {
		checkHeaders(t, r)
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Error(err)
			return
		}
		want := map[string]any{
			"filter": map[string]any{
				"property": "Client Name",
				"title":    map[string]any{"equals": "Lewis Waldron"},
			},
		}
		if diff := cmp.Diff(want, payload); diff != "" {
			t.Errorf("payload mismatch (-want +got):\n%s", diff)
		}
		_, _ = io.WriteString(w, `{"object":"list","results":[{"id":"page-1"},{"id":"page-2"}]}`)
	})

	got, err := client.QueryByTitle(context.Background(), PropClientName, "Lewis Waldron")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"page-1", "page-2"}, got); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestGetPageStatus(t *testing.T) {

	tests := []struct {
		name       string
		properties string
		want       Status
		wantString string
	}{
		{
			name:       "multi select",
			properties: `{"Status":{"type":"multi_select","multi_select":[{"name":"Active"},{"name":"Paused"}]}}`,
			want:       Status{Kind: StatusMulti, Values: []string{"Active", "Paused"}},
			wantString: "Active, Paused",
		},
		{
			name:       "status",
			properties: `{"Status":{"type":"status","status":{"id":"x","name":"Onboarding","color":"blue"}}}`,
			want:       Status{Kind: StatusSingle, Values: []string{"Onboarding"}},
			wantString: "Onboarding",
		},
		{
			name:       "empty multi select",
			properties: `{"Status":{"type":"multi_select","multi_select":[]}}`,
			want:       Status{},
		},
		{
			name:       "other type",
			properties: `{"Status":{"type":"select","select":{"name":"Active"}}}`,
			want:       Status{},
		},
		{
			name:       "missing",
			properties: `{"Client Name":{"type":"title","title":[]}}`,
			want:       Status{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, client := setup(t)
			mux.HandleFunc("GET /v1/pages/page-1", func(w http.ResponseWriter, r *http.Request) {
				checkHeaders(t, r)
				_, _ = fmt.Fprintf(w, `{"object":"page","id":"page-1","properties":%s}`, tt.properties)
			})
			got, err := client.GetPageStatus(context.Background(), "page-1")
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("status mismatch (-want +got):\n%s", diff)
			}
			if got.String() != tt.wantString {
				t.Errorf("string got %q want %q", got.String(), tt.wantString)
			}
		})
	}
}

func TestGetPageStatusError(t *testing.T) {

	mux, client := setup(t)
	mux.HandleFunc("GET /v1/pages/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"object":"error","status":404,"code":"object_not_found","message":"Could not find page"}`)
	})

	_, err := client.GetPageStatus(context.Background(), "gone")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if diff := cmp.Diff(&APIError{StatusCode: 404, Code: "object_not_found", Message: "Could not find page"}, apiErr); diff != "" {
		t.Errorf("error mismatch (-want +got):\n%s", diff)
	}
}

func TestPatchProperties(t *testing.T) {

	mux, client := setup(t)

	var calls int
	mux.HandleFunc("PATCH /v1/pages/page-1", func(w http.ResponseWriter, r *http.Request) {
		calls++
		checkHeaders(t, r)
		var payload map[string]map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Error(err)
			return
		}
		var keys []string
		for k := range payload["properties"] {
			keys = append(keys, k)
		}
		if got, want := len(keys), 3; got != want {
			t.Errorf("got %d properties %v want %d", got, keys, want)
		}
		for _, k := range []string{"PM", "Tier", "Tier Reasoning"} {
			if _, ok := payload["properties"][k]; !ok {
				t.Errorf("property %q not sent", k)
			}
		}
		_, _ = io.WriteString(w, `{"object":"page","id":"page-1"}`)
	})

	err := client.PatchProperties(context.Background(), "page-1", PageUpdate{
		PMUserIDs:     []string{"u-1"},
		Tier:          "Tier 1 → GTM clients",
		TierReasoning: "strong fit",
	})
	if err != nil {
		t.Fatal(err)
	}

	// nothing to send
	if err := client.PatchProperties(context.Background(), "page-1", PageUpdate{}); err != nil {
		t.Fatal(err)
	}
	if got, want := calls, 1; got != want {
		t.Errorf("got %d calls want %d", got, want)
	}
}

func TestPageUpdateProperties(t *testing.T) {

	u := PageUpdate{
		PMUserIDs:      []string{"u-1", " ", "u-2"},
		PA:             "Robin Rajan",
		Health:         "Green",
		Tier:           "Tier 2a → GTM trial (On retainer)",
		Status:         "Active",
		AccountManager: "Phil Saunes",
		TierReasoning:  "renewal",
	}
	got, err := json.Marshal(u.Properties())
	if err != nil {
		t.Fatal(err)
	}
	want := `{"Account Manager":{"select":{"name":"Phil Saunes"}},` +
		`"Health":{"select":{"name":"Green"}},` +
		`"PA":{"multi_select":[{"name":"Robin Rajan"}]},` +
		`"PM":{"people":[{"id":"u-1"},{"id":"u-2"}]},` +
		`"Status":{"multi_select":[{"name":"Active"}]},` +
		`"Tier":{"select":{"name":"Tier 2a → GTM trial (On retainer)"}},` +
		`"Tier Reasoning":{"rich_text":[{"text":{"content":"renewal"}}]}}`
	if diff := cmp.Diff(want, string(got)); diff != "" {
		t.Errorf("properties mismatch (-want +got):\n%s", diff)
	}

	if got := (PageUpdate{PMUserIDs: []string{""}}).Properties(); len(got) != 0 {
		t.Errorf("expected no properties, got %v", got)
	}
}

func TestListUsers(t *testing.T) {

	mux, client := setup(t)

	mux.HandleFunc("GET /v1/users", func(w http.ResponseWriter, r *http.Request) {
		checkHeaders(t, r)
		switch r.URL.Query().Get("start_cursor") {
		case "":
			_, _ = io.WriteString(w, `{"results":[{"id":"u-1","name":"Hosun Chung","type":"person"}],"has_more":true,"next_cursor":"c2"}`)
		case "c2":
			_, _ = io.WriteString(w, `{"results":[{"id":"u-2","name":"Jane Doe","type":"person"}],"has_more":false,"next_cursor":null}`)
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("start_cursor"))
		}
	})

	got, err := client.ListUsers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []User{
		{ID: "u-1", Name: "Hosun Chung", Type: "person"},
		{ID: "u-2", Name: "Jane Doe", Type: "person"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("users mismatch (-want +got):\n%s", diff)
	}
}
