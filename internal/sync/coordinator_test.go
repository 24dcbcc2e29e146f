package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidecal/internal/crypto"
	"tidecal/internal/domain"
	"tidecal/internal/merge"
	"tidecal/internal/storage"
)

type syncFixture struct {
	store       *storage.Storage
	keys        *crypto.Keyring
	coordinator *Coordinator
	server      *httptest.Server

	// lastRequest captures what the coordinator pushed.
	lastRequest *Request
	respond     func(*Request) *Response
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	keys, err := crypto.GenerateKeyring()
	require.NoError(t, err)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	store, err := storage.New(filepath.Join(t.TempDir(), "sync.db"), keys, log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.SaveMetadata(&domain.CalendarMetadata{
		CalendarID: "cal-1",
		PublicKey:  keys.PublicKeyBytes(),
	}))

	f := &syncFixture{store: store, keys: keys}
	f.respond = func(*Request) *Response {
		return &Response{State: StateSynced}
	}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.lastRequest = &req
		require.NoError(t, json.NewEncoder(w).Encode(f.respond(&req)))
	}))
	t.Cleanup(f.server.Close)

	f.coordinator = NewCoordinator(store, NewClient(f.server.URL, "test-token"), keys, log)
	f.coordinator.now = func() int64 { return 123456 }
	return f
}

func waitingEvent(id string) *domain.Event {
	e := &domain.Event{
		Kind:          domain.KindSingle,
		ParentEventID: id,
		Plain:         domain.PlainContent{StartDate: 1000, EndDate: 2000},
		Content: domain.DecryptedContent{
			Title: "standup",
			Attendees: []domain.Attendee{
				{ID: "a1", Kind: domain.AttendeeExternal, Email: "a@example.com",
					Permission: domain.PermissionRead, Status: domain.StatusPending, UpdatedAt: 10},
			},
		},
		Local: domain.LocalMetadata{
			SyncState:   domain.SyncStateWaiting,
			UpdatedAt:   10,
			UpdateTypes: domain.UpdateTypeSet{}.Add(domain.UpdateTypeContent),
		},
	}
	return e
}

func TestSyncEmptyCalendar(t *testing.T) {
	f := newSyncFixture(t)

	result, err := f.coordinator.Sync(context.Background())
	require.NoError(t, err)

	assert.Nil(t, result.Checkpoint)
	assert.Zero(t, result.Pushed)
	assert.Zero(t, result.Pulled)
	assert.Equal(t, StateSynced, result.State)

	// A nil checkpoint with a synced state is terminal, not an error.
	meta, err := f.store.GetMetadata()
	require.NoError(t, err)
	assert.Nil(t, meta.LastUpdated)
}

func TestSyncPushAcksWaitingEvent(t *testing.T) {
	f := newSyncFixture(t)
	require.NoError(t, f.store.UpsertEvent(waitingEvent("ev-1")))

	cp := int64(100)
	f.respond = func(*Request) *Response {
		return &Response{Checkpoint: &cp, State: StateSynced}
	}

	result, err := f.coordinator.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)

	require.NotNil(t, f.lastRequest)
	require.Len(t, f.lastRequest.Events, 1)
	assert.Equal(t, "ev-1", f.lastRequest.Events[0].ParentEventID)
	// The server never sees plaintext.
	assert.NotContains(t, string(f.lastRequest.Events[0].EncryptedContent), "standup")

	got, err := f.store.GetEvent("ev-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStateDone, got.Local.SyncState)
	assert.Empty(t, got.Local.UpdateTypes)

	// The acked content change queued an update mail.
	assert.Equal(t, []string{"a@example.com"}, got.Local.Emails.Queue)
	assert.Equal(t, int64(123456), got.Local.RequestMailTimestamp)

	meta, err := f.store.GetMetadata()
	require.NoError(t, err)
	require.NotNil(t, meta.LastUpdated)
	assert.Equal(t, int64(100), *meta.LastUpdated)
}

func TestSyncServerEchoStaysDone(t *testing.T) {
	f := newSyncFixture(t)

	// A checkpoint store's delta contains everything newer than the
	// presented checkpoint, which includes the events just pushed.
	local := waitingEvent("ev-1")
	local.Content.Updates = local.Content.Updates.Stamp(merge.FieldTitle, 300)
	require.NoError(t, f.store.UpsertEvent(local))

	cp := int64(400)
	f.respond = func(req *Request) *Response {
		return &Response{Checkpoint: &cp, Events: req.Events, State: StateSynced}
	}

	result, err := f.coordinator.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)
	assert.Equal(t, 1, result.Pulled)

	// The echo carries the same stamps and must not re-flag the event.
	got, err := f.store.GetEvent("ev-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStateDone, got.Local.SyncState)
	assert.Empty(t, got.Local.UpdateTypes)
	assert.Equal(t, "standup", got.Content.Title)

	// Nothing is left to push on the next cycle.
	_, err = f.coordinator.Sync(context.Background())
	require.NoError(t, err)
	require.NotNil(t, f.lastRequest)
	assert.Empty(t, f.lastRequest.Events)
}

func TestSyncNilCheckpointDoesNotRegress(t *testing.T) {
	f := newSyncFixture(t)

	meta, err := f.store.GetMetadata()
	require.NoError(t, err)
	cp := int64(100)
	meta.LastUpdated = &cp
	require.NoError(t, f.store.SaveMetadata(meta))

	// An anomalous response without a checkpoint must not reset the cursor
	// and force a full re-pull.
	f.respond = func(*Request) *Response {
		return &Response{State: StateSynced}
	}

	result, err := f.coordinator.Sync(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Checkpoint)
	assert.Equal(t, int64(100), *result.Checkpoint)

	meta, err = f.store.GetMetadata()
	require.NoError(t, err)
	require.NotNil(t, meta.LastUpdated)
	assert.Equal(t, int64(100), *meta.LastUpdated)
}

func TestSyncPullMergesServerEvent(t *testing.T) {
	f := newSyncFixture(t)

	remote := waitingEvent("ev-remote")
	remote.Content.Title = "planning"
	we, err := encodeEvent(f.keys, remote)
	require.NoError(t, err)

	cp := int64(200)
	f.respond = func(*Request) *Response {
		return &Response{Checkpoint: &cp, Events: []WireEvent{we}, State: StateSynced}
	}

	result, err := f.coordinator.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pulled)

	got, err := f.store.GetEvent("ev-remote")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "planning", got.Content.Title)
	assert.Equal(t, domain.SyncStateDone, got.Local.SyncState)
}

func TestSyncConflictKeepsLocalAndStaysWaiting(t *testing.T) {
	f := newSyncFixture(t)

	local := waitingEvent("ev-1")
	local.Content.Title = "standup (moved)"
	local.Content.Updates = local.Content.Updates.Stamp(merge.FieldTitle, 300)
	require.NoError(t, f.store.UpsertEvent(local))

	stale := waitingEvent("ev-1")
	stale.Content.Title = "standup"
	stale.Content.Updates = stale.Content.Updates.Stamp(merge.FieldTitle, 200)
	we, err := encodeEvent(f.keys, stale)
	require.NoError(t, err)

	cp := int64(300)
	f.respond = func(*Request) *Response {
		return &Response{Checkpoint: &cp, Events: []WireEvent{we}, State: StateConflict}
	}

	result, err := f.coordinator.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConflict, result.State)

	got, err := f.store.GetEvent("ev-1")
	require.NoError(t, err)
	assert.Equal(t, "standup (moved)", got.Content.Title)
	// Re-flagged by the merge: must go out again on the next cycle.
	assert.Equal(t, domain.SyncStateWaiting, got.Local.SyncState)
	assert.True(t, got.Local.UpdateTypes.Has(domain.UpdateTypeContent))
}

func TestSyncTransportErrorLeavesStateUntouched(t *testing.T) {
	f := newSyncFixture(t)
	require.NoError(t, f.store.UpsertEvent(waitingEvent("ev-1")))

	f.server.Close()

	_, err := f.coordinator.Sync(context.Background())
	require.Error(t, err)

	got, err := f.store.GetEvent("ev-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStateWaiting, got.Local.SyncState)

	meta, err := f.store.GetMetadata()
	require.NoError(t, err)
	assert.Nil(t, meta.LastUpdated)
}

func TestSyncServerErrorIsReturned(t *testing.T) {
	f := newSyncFixture(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()
	f.coordinator.client = NewClient(server.URL, "test-token")

	_, err := f.coordinator.Sync(context.Background())
	assert.Error(t, err)
}

func TestSyncCollapsesOverlappingRuns(t *testing.T) {
	f := newSyncFixture(t)

	f.coordinator.mu.Lock()
	_, err := f.coordinator.Sync(context.Background())
	f.coordinator.mu.Unlock()

	assert.ErrorIs(t, err, ErrSyncInProgress)
}

func TestWireEventRoundTrip(t *testing.T) {
	keys, err := crypto.GenerateKeyring()
	require.NoError(t, err)

	e := waitingEvent("ev-1")
	e.Plain.RecurrenceRule = &domain.RecurrenceRule{
		Frequency: domain.FreqWeekly, Interval: 2, StartDate: 1000,
	}
	e.Prefs.Color = "blue"

	we, err := encodeEvent(keys, e)
	require.NoError(t, err)
	assert.Equal(t, []string{"content"}, we.UpdateTypes)

	decoded, err := decodeEvent(keys, we)
	require.NoError(t, err)
	assert.Equal(t, domain.KindParent, decoded.Kind)
	assert.Equal(t, e.Content.Title, decoded.Content.Title)
	assert.Equal(t, e.Content.Attendees, decoded.Content.Attendees)
	assert.Equal(t, "blue", decoded.Prefs.Color)
	assert.Equal(t, domain.SyncStateDone, decoded.Local.SyncState)
}
