package syncer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/marcus/possync/internal/models"
	"github.com/marcus/possync/internal/queue"
	"github.com/marcus/possync/internal/remote"
	"github.com/marcus/possync/internal/store"
)

// fakeBackend scripts mutation outcomes and records every call.
type fakeBackend struct {
	mu        sync.Mutex
	mutations []models.QueueEntry
	direct    []string // record ids sent via Mutate

	// respond decides each MutateEntry outcome; nil echoes the payload back
	// as the canonical row.
	respond func(e models.QueueEntry) (models.Row, error)

	fetched  []string // table/recordID pairs fetched for conflict resolution
	fetchRow models.Row
	fetchErr error

	pages     []remote.PullResponse
	pullSince []string
}

func (f *fakeBackend) Mutate(ctx context.Context, tenantID, table, recordID string, action models.Action, payload json.RawMessage) (models.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.direct = append(f.direct, recordID)
	e := models.QueueEntry{Table: table, Action: action, RecordID: recordID, Payload: payload}
	if f.respond != nil {
		return f.respond(e)
	}
	return echoRow(e), nil
}

func (f *fakeBackend) MutateEntry(ctx context.Context, tenantID string, e models.QueueEntry) (models.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations = append(f.mutations, e)
	if f.respond != nil {
		return f.respond(e)
	}
	return echoRow(e), nil
}

func (f *fakeBackend) Fetch(ctx context.Context, tenantID, table, recordID string) (models.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, table+"/"+recordID)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.fetchRow, nil
}

func (f *fakeBackend) Pull(ctx context.Context, tenantID, since string, limit int) (*remote.PullResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullSince = append(f.pullSince, since)
	if len(f.pages) == 0 {
		return &remote.PullResponse{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return &page, nil
}

// echoRow builds a canonical server row from a mutation, stamped with a
// server-side updatedAt.
func echoRow(e models.QueueEntry) models.Row {
	row := models.Row{}
	json.Unmarshal(e.Payload, &row)
	row["id"] = e.RecordID
	row["updatedAt"] = models.Timestamp(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return row
}

func setupQueued(t *testing.T, backend Backend, opts Options) (*Queued, *store.Store, *queue.Queue) {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	q := queue.New(st.Conn())
	return NewQueued(st, q, backend, "t1", opts), st, q
}

func mustEnqueue(t *testing.T, s *Queued, table string, action models.Action, recordID, payload string) {
	t.Helper()
	if err := s.Record(context.Background(), table, action, recordID, json.RawMessage(payload)); err != nil {
		t.Fatalf("record: %v", err)
	}
}

func TestRecordSkipsClientOwnedTables(t *testing.T) {
	backend := &fakeBackend{}
	s, _, q := setupQueued(t, backend, Options{})

	mustEnqueue(t, s, models.TableCart, models.ActionUpdate, "c1", `{}`)
	mustEnqueue(t, s, models.TableOrders, models.ActionCreate, "o1", `{}`)

	entries, err := q.List("")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Table != models.TableOrders {
		t.Errorf("queue contents: %v", entries)
	}
}

func TestPushDeliversAndReconciles(t *testing.T) {
	backend := &fakeBackend{}
	s, st, q := setupQueued(t, backend, Options{})

	// optimistic local write, then the queued intent
	local := models.Row{"id": "o1", "tenantId": "t1", "total": 5.0,
		"updatedAt": models.Timestamp(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC))}
	if err := st.Put(models.TableOrders, local); err != nil {
		t.Fatalf("put: %v", err)
	}
	mustEnqueue(t, s, models.TableOrders, models.ActionCreate, "o1", `{"total":5}`)

	res, err := s.Push(context.Background())
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if res.Synced != 1 || res.Failed != 0 || res.Released != 0 {
		t.Errorf("result: %+v", res)
	}

	entries, _ := q.List(models.StatusSynced)
	if len(entries) != 1 {
		t.Fatalf("synced entries: %d", len(entries))
	}

	// the canonical server row replaced the optimistic one
	row, _ := st.Get(models.TableOrders, "o1")
	if row.UpdatedAt() != time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) {
		t.Errorf("store row not reconciled to server version: %v", row["updatedAt"])
	}
}

func TestPushKeepsPerRecordOrder(t *testing.T) {
	backend := &fakeBackend{}
	s, _, _ := setupQueued(t, backend, Options{Concurrency: 8})

	mustEnqueue(t, s, models.TableOrders, models.ActionUpdate, "o1", `{"step":1}`)
	mustEnqueue(t, s, models.TableOrders, models.ActionDelete, "o1", `{}`)

	if _, err := s.Push(context.Background()); err != nil {
		t.Fatalf("push: %v", err)
	}

	if len(backend.mutations) != 2 {
		t.Fatalf("mutations sent: %d", len(backend.mutations))
	}
	if backend.mutations[0].Action != models.ActionUpdate || backend.mutations[1].Action != models.ActionDelete {
		t.Errorf("out of order: %s then %s", backend.mutations[0].Action, backend.mutations[1].Action)
	}
}

func TestPushConflictFailsEntryAndContinues(t *testing.T) {
	backend := &fakeBackend{}
	backend.respond = func(e models.QueueEntry) (models.Row, error) {
		if e.Action == models.ActionUpdate {
			return nil, &remote.Error{Kind: remote.KindConflict, Status: 409, Message: "version mismatch"}
		}
		return echoRow(e), nil
	}
	s, _, q := setupQueued(t, backend, Options{})

	// a doomed UPDATE must not block the DELETE queued behind it
	mustEnqueue(t, s, models.TableOrders, models.ActionUpdate, "o1", `{"total":9}`)
	mustEnqueue(t, s, models.TableOrders, models.ActionDelete, "o1", `{}`)

	res, err := s.Push(context.Background())
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if res.Failed != 1 || res.Synced != 1 {
		t.Errorf("result: %+v", res)
	}

	failed, _ := q.List(models.StatusFailed)
	if len(failed) != 1 {
		t.Fatalf("failed entries: %d", len(failed))
	}
	if failed[0].Action != models.ActionUpdate || failed[0].Error != "conflict: version mismatch" {
		t.Errorf("conflict entry: %s %q", failed[0].Action, failed[0].Error)
	}
}

func TestPushTransientFailureStopsChain(t *testing.T) {
	backend := &fakeBackend{
		respond: func(e models.QueueEntry) (models.Row, error) {
			return nil, &remote.Error{Kind: remote.KindNetwork, Message: "connection refused"}
		},
	}
	s, _, q := setupQueued(t, backend, Options{BaseDelay: time.Minute})

	mustEnqueue(t, s, models.TableOrders, models.ActionUpdate, "o1", `{}`)
	mustEnqueue(t, s, models.TableOrders, models.ActionDelete, "o1", `{}`)

	res, err := s.Push(context.Background())
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if res.Released != 1 || res.Synced != 0 || res.Failed != 0 {
		t.Errorf("result: %+v", res)
	}
	if len(backend.mutations) != 1 {
		t.Errorf("chain continued past a transient failure: %d sends", len(backend.mutations))
	}

	pending, _ := q.List(models.StatusPending)
	if len(pending) != 2 {
		t.Fatalf("pending entries: %d", len(pending))
	}
	// head carries the retry state; the follower was never touched
	if pending[0].Attempts != 1 || pending[0].NextRetryAt == nil {
		t.Errorf("head: attempts=%d retry=%v", pending[0].Attempts, pending[0].NextRetryAt)
	}
	if pending[1].Attempts != 0 {
		t.Errorf("follower gained attempts: %d", pending[1].Attempts)
	}
}

func TestPushExhaustsRetries(t *testing.T) {
	backend := &fakeBackend{
		respond: func(e models.QueueEntry) (models.Row, error) {
			return nil, &remote.Error{Kind: remote.KindServerError, Status: 500, Message: "boom"}
		},
	}
	s, _, q := setupQueued(t, backend, Options{MaxAttempts: 3})
	// a clock that jumps an hour per reading, so each drain outruns the
	// backoff the previous one scheduled
	base := time.Now()
	var reads int
	s.now = func() time.Time {
		reads++
		return base.Add(time.Duration(reads) * time.Hour)
	}

	mustEnqueue(t, s, models.TableOrders, models.ActionCreate, "o1", `{}`)

	for i := 0; i < 3; i++ {
		if _, err := s.Push(context.Background()); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	e, _ := q.List(models.StatusFailed)
	if len(e) != 1 {
		t.Fatalf("entry not FAILED after exhausting retries: %d failed", len(e))
	}
	if e[0].Attempts != 2 {
		t.Errorf("attempts: got %d, want 2 (third failure is terminal)", e[0].Attempts)
	}

	// no further sends once FAILED
	sends := len(backend.mutations)
	s.Push(context.Background())
	if len(backend.mutations) != sends {
		t.Error("FAILED entry was pushed again")
	}
}

func TestPushSkipsClaimedEntries(t *testing.T) {
	backend := &fakeBackend{}
	s, _, q := setupQueued(t, backend, Options{})

	mustEnqueue(t, s, models.TableOrders, models.ActionUpdate, "o1", `{}`)
	mustEnqueue(t, s, models.TableOrders, models.ActionDelete, "o1", `{}`)

	// another drain claims the head after this drain snapshots its batches
	batches, err := q.PendingBatches(time.Now())
	if err != nil {
		t.Fatalf("batches: %v", err)
	}
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("batches: %v", batches)
	}
	q.Claim(batches[0][0].ID)

	res := s.pushBatch(context.Background(), batches[0])
	if res.Skipped != 2 || res.Synced != 0 {
		t.Errorf("result: %+v", res)
	}
	if len(backend.mutations) != 0 {
		t.Error("claimed chain was pushed anyway")
	}
}

func TestPushWithholdsRecordWithInFlightEntry(t *testing.T) {
	backend := &fakeBackend{}
	s, _, q := setupQueued(t, backend, Options{})

	mustEnqueue(t, s, models.TableOrders, models.ActionUpdate, "o1", `{"step":1}`)
	mustEnqueue(t, s, models.TableOrders, models.ActionDelete, "o1", `{}`)

	// the head is SYNCING under another drain; pushing the DELETE now would
	// land it before the UPDATE
	entries, _ := q.List(models.StatusPending)
	q.Claim(entries[0].ID)

	res, err := s.Push(context.Background())
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if res.Synced != 0 || res.Failed != 0 || len(backend.mutations) != 0 {
		t.Errorf("in-flight record was pushed: %+v, %d sends", res, len(backend.mutations))
	}

	// once the head resolves the rest of the chain drains in order
	q.MarkSynced(entries[0].ID)
	if _, err := s.Push(context.Background()); err != nil {
		t.Fatalf("second push: %v", err)
	}
	if len(backend.mutations) != 1 || backend.mutations[0].Action != models.ActionDelete {
		t.Errorf("mutations after head resolved: %v", backend.mutations)
	}
}

func TestReconcileSkipsRecordsWithFurtherEdits(t *testing.T) {
	backend := &fakeBackend{}
	backend.respond = func(e models.QueueEntry) (models.Row, error) {
		if e.Action == models.ActionDelete {
			return nil, &remote.Error{Kind: remote.KindNetwork, Message: "down"}
		}
		row := echoRow(e)
		row["name"] = "server version"
		return row, nil
	}
	s, st, _ := setupQueued(t, backend, Options{BaseDelay: time.Hour})

	local := models.Row{"id": "o1", "tenantId": "t1", "name": "local edit",
		"updatedAt": models.Timestamp(time.Now())}
	st.Put(models.TableOrders, local)
	mustEnqueue(t, s, models.TableOrders, models.ActionUpdate, "o1", `{"name":"local edit"}`)
	mustEnqueue(t, s, models.TableOrders, models.ActionDelete, "o1", `{}`)

	if _, err := s.Push(context.Background()); err != nil {
		t.Fatalf("push: %v", err)
	}

	// the UPDATE landed but its DELETE is still queued: the server row must
	// not overwrite state the pending entry will supersede
	row, _ := st.Get(models.TableOrders, "o1")
	if row["name"] != "local edit" {
		t.Errorf("reconcile clobbered a record with outstanding edits: %v", row["name"])
	}
}

func TestPullAppliesPagesAndAdvancesCheckpoint(t *testing.T) {
	mkRow := func(id string) models.Row {
		return models.Row{"id": id, "tenantId": "t1",
			"updatedAt": models.Timestamp(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))}
	}
	backend := &fakeBackend{
		pages: []remote.PullResponse{
			{Changes: []models.Change{
				{Table: models.TableOrders, Row: mkRow("o1")},
				{Table: models.TableRecipes, Row: mkRow("r1")},
			}, Checkpoint: "cp-1", HasMore: true},
			{Changes: []models.Change{
				{Table: models.TableOrders, Row: mkRow("o2")},
			}, Checkpoint: "cp-2", HasMore: false},
		},
	}
	s, st, _ := setupQueued(t, backend, Options{})

	res, err := s.Pull(context.Background())
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if res.Applied != 3 || res.Pages != 2 || res.Checkpoint != "cp-2" {
		t.Errorf("result: %+v", res)
	}

	// first pull is a full snapshot, second page continues from page one
	if len(backend.pullSince) != 2 || backend.pullSince[0] != "" || backend.pullSince[1] != "cp-1" {
		t.Errorf("cursors sent: %v", backend.pullSince)
	}

	cp, _ := st.GetCheckpoint("t1")
	if cp == nil || cp.Since != "cp-2" {
		t.Errorf("persisted checkpoint: %+v", cp)
	}
	if row, _ := st.Get(models.TableRecipes, "r1"); row == nil {
		t.Error("pulled row missing from store")
	}
}

func TestPullSkipsDirtyRecords(t *testing.T) {
	serverTime := models.Timestamp(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	backend := &fakeBackend{
		pages: []remote.PullResponse{
			{Changes: []models.Change{
				{Table: models.TableOrders, Row: models.Row{"id": "o1", "tenantId": "t1", "name": "server", "updatedAt": serverTime}},
				{Table: models.TableOrders, Row: models.Row{"id": "o2", "tenantId": "t1", "name": "server", "updatedAt": serverTime}},
			}, Checkpoint: "cp-1"},
		},
	}
	s, st, _ := setupQueued(t, backend, Options{})

	// o1 has an unpushed local edit; o2 is clean
	st.Put(models.TableOrders, models.Row{"id": "o1", "tenantId": "t1", "name": "dirty local",
		"updatedAt": models.Timestamp(time.Now())})
	mustEnqueue(t, s, models.TableOrders, models.ActionUpdate, "o1", `{"name":"dirty local"}`)

	res, err := s.Pull(context.Background())
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if res.Applied != 1 || res.SkippedDirty != 1 {
		t.Errorf("result: %+v", res)
	}

	row, _ := st.Get(models.TableOrders, "o1")
	if row["name"] != "dirty local" {
		t.Errorf("pull clobbered a dirty record: %v", row["name"])
	}
	row, _ = st.Get(models.TableOrders, "o2")
	if row == nil || row["name"] != "server" {
		t.Errorf("clean record not applied: %v", row)
	}
}

func TestPullIsIdempotent(t *testing.T) {
	serverTime := models.Timestamp(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	page := remote.PullResponse{
		Changes: []models.Change{
			{Table: models.TableOrders, Row: models.Row{"id": "o1", "tenantId": "t1", "updatedAt": serverTime}},
		},
		Checkpoint: "cp-1",
	}
	backend := &fakeBackend{pages: []remote.PullResponse{page, page}}
	s, st, _ := setupQueued(t, backend, Options{})

	// crash between apply and checkpoint means the same page arrives twice
	for i := 0; i < 2; i++ {
		if _, err := s.Pull(context.Background()); err != nil {
			t.Fatalf("pull %d: %v", i, err)
		}
	}

	rows, _ := st.Query(models.TableOrders, models.FieldTenantID, "t1")
	if len(rows) != 1 {
		t.Errorf("re-applied page duplicated rows: %d", len(rows))
	}
}

func TestForceResync(t *testing.T) {
	backend := &fakeBackend{}
	s, st, _ := setupQueued(t, backend, Options{})

	st.SetCheckpoint("t1", "cp-9")
	if err := s.ForceResync(); err != nil {
		t.Fatalf("force resync: %v", err)
	}

	if _, err := s.Pull(context.Background()); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(backend.pullSince) != 1 || backend.pullSince[0] != "" {
		t.Errorf("pull after resync should be a full snapshot, sent since=%v", backend.pullSince)
	}
}

func TestDirectSendsImmediately(t *testing.T) {
	backend := &fakeBackend{}
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	s := NewDirect(st, backend, "t1", Options{})

	if err := s.Record(context.Background(), models.TableOrders, models.ActionCreate, "o1", json.RawMessage(`{"total":5}`)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(backend.direct) != 1 || backend.direct[0] != "o1" {
		t.Errorf("mutations sent: %v", backend.direct)
	}
	if row, _ := st.Get(models.TableOrders, "o1"); row == nil {
		t.Error("canonical row not stored")
	}

	// the cart is never synced, even directly
	if err := s.Record(context.Background(), models.TableCart, models.ActionUpdate, "c1", nil); err != nil {
		t.Fatalf("cart record: %v", err)
	}
	if len(backend.direct) != 1 {
		t.Error("cart mutation reached the backend")
	}

	// failures surface to the caller instead of a queue
	backend.respond = func(e models.QueueEntry) (models.Row, error) {
		return nil, &remote.Error{Kind: remote.KindValidation, Status: 400, Message: "bad"}
	}
	if err := s.Record(context.Background(), models.TableOrders, models.ActionUpdate, "o1", nil); err == nil {
		t.Error("direct failure swallowed")
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 60 * time.Second}, // capped
	}
	for _, tt := range tests {
		got := backoffDelay(time.Second, 60*time.Second, tt.attempts)
		if got != tt.want {
			t.Errorf("backoffDelay(1s, 60s, %d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
