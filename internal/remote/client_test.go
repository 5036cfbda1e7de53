package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marcus/possync/internal/models"
)

func TestMutateSendsAuthAndDevice(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody MutateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(models.Row{"id": "o1", "updatedAt": "2026-03-01T12:00:00Z"})
	}))
	defer srv.Close()

	c := New(srv.URL, "key-123", "device-1")
	row, err := c.Mutate(context.Background(), "t1", "orders", "o1", models.ActionCreate, json.RawMessage(`{"total":5}`))
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	if gotPath != "/v1/tenants/t1/tables/orders/records/o1" {
		t.Errorf("path: %s", gotPath)
	}
	if gotAuth != "Bearer key-123" {
		t.Errorf("auth header: %q", gotAuth)
	}
	if gotBody.Action != "CREATE" || gotBody.DeviceID != "device-1" {
		t.Errorf("body: %+v", gotBody)
	}
	if gotBody.EntryID != "" {
		t.Errorf("plain mutate should carry no entry id, got %q", gotBody.EntryID)
	}
	if row.ID() != "o1" {
		t.Errorf("canonical row: %v", row)
	}
}

func TestMutateEntryCarriesDedupKey(t *testing.T) {
	var gotBody MutateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "", "device-1")
	entry := models.QueueEntry{
		ID:       "entry-uuid",
		Table:    "orders",
		Action:   models.ActionDelete,
		RecordID: "o1",
		Payload:  json.RawMessage(`{}`),
	}
	row, err := c.MutateEntry(context.Background(), "t1", entry)
	if err != nil {
		t.Fatalf("mutate entry: %v", err)
	}
	if gotBody.EntryID != "entry-uuid" {
		t.Errorf("entry id: got %q", gotBody.EntryID)
	}
	// DELETE may return no body
	if row != nil {
		t.Errorf("empty response should yield nil row, got %v", row)
	}
}

func TestPullParams(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		json.NewEncoder(w).Encode(PullResponse{
			Changes: []models.Change{
				{Table: "orders", Row: models.Row{"id": "o1"}},
			},
			Checkpoint: "cursor-2",
			HasMore:    true,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "device-1")
	resp, err := c.Pull(context.Background(), "t1", "cursor-1", 100)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}

	if got := gotQuery["since"]; len(got) != 1 || got[0] != "cursor-1" {
		t.Errorf("since: %v", got)
	}
	if got := gotQuery["limit"]; len(got) != 1 || got[0] != "100" {
		t.Errorf("limit: %v", got)
	}
	if got := gotQuery["exclude_device"]; len(got) != 1 || got[0] != "device-1" {
		t.Errorf("exclude_device: %v", got)
	}
	if len(resp.Changes) != 1 || resp.Checkpoint != "cursor-2" || !resp.HasMore {
		t.Errorf("response: %+v", resp)
	}
}

func TestPullEmptyCursorOmitsSince(t *testing.T) {
	var hasSince bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasSince = r.URL.Query().Has("since")
		json.NewEncoder(w).Encode(PullResponse{})
	}))
	defer srv.Close()

	c := New(srv.URL, "", "")
	if _, err := c.Pull(context.Background(), "t1", "", 10); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if hasSince {
		t.Error("full snapshot pull should omit the since param")
	}
}

func TestFetchReturnsCanonicalRow(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(models.Row{"id": "o1", "name": "server", "updatedAt": "2026-03-01T12:00:00Z"})
	}))
	defer srv.Close()

	c := New(srv.URL, "", "")
	row, err := c.Fetch(context.Background(), "t1", "orders", "o1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotMethod != "GET" || gotPath != "/v1/tenants/t1/tables/orders/records/o1" {
		t.Errorf("request: %s %s", gotMethod, gotPath)
	}
	if row["name"] != "server" {
		t.Errorf("row: %v", row)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantKind  ErrorKind
		transient bool
	}{
		{"validation", 400, `{"code":"bad_field","message":"missing total"}`, KindValidation, false},
		{"conflict status", 409, `{"message":"version mismatch"}`, KindConflict, false},
		{"conflict code", 422, `{"code":"conflict","message":"stale write"}`, KindConflict, false},
		{"not found", 404, `{"message":"no such record"}`, KindNotFound, false},
		{"request timeout", 408, ``, KindServerError, true},
		{"throttled", 429, `{"message":"slow down"}`, KindServerError, true},
		{"server error", 500, `oops`, KindServerError, true},
		{"bad gateway", 502, ``, KindServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(srv.URL, "", "")
			_, err := c.Mutate(context.Background(), "t1", "orders", "o1", models.ActionUpdate, nil)
			var re *Error
			if !errors.As(err, &re) {
				t.Fatalf("want *Error, got %T: %v", err, err)
			}
			if re.Kind != tt.wantKind {
				t.Errorf("kind: got %s, want %s", re.Kind, tt.wantKind)
			}
			if re.Status != tt.status {
				t.Errorf("status: got %d, want %d", re.Status, tt.status)
			}
			if re.Transient() != tt.transient {
				t.Errorf("transient: got %v, want %v", re.Transient(), tt.transient)
			}
		})
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := New(srv.URL, "", "")
	_, err := c.Health(context.Background())
	var re *Error
	if !errors.As(err, &re) {
		t.Fatalf("want *Error, got %T: %v", err, err)
	}
	if re.Kind != KindNetwork || !re.Transient() {
		t.Errorf("got kind %s transient=%v", re.Kind, re.Transient())
	}
}
