package service

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidecal/internal/domain"
)

func TestWindowViewVirtualizesSeries(t *testing.T) {
	store, events, _ := newTestServices(t)
	start := windowStart()
	parent := seedSeries(t, store, "series-1", start)

	// One occurrence is materialized as a persisted child.
	childDate := start + 2*dayMillis
	child := &domain.Event{
		Kind:               domain.KindChild,
		ParentEventID:      "child-1",
		ParentRecurrenceID: parent.ParentEventID,
		RecurrenceDate:     childDate,
		Plain:              domain.PlainContent{StartDate: childDate, EndDate: childDate + 1800_000},
		Content:            domain.DecryptedContent{Title: "series series-1 (special)"},
		Local:              domain.LocalMetadata{SyncState: domain.SyncStateDone},
	}
	require.NoError(t, store.UpsertEvent(child))

	entries, err := events.WindowView(start, start+7*dayMillis)
	require.NoError(t, err)

	// Seven days of a daily series: six virtual occurrences plus the child.
	require.Len(t, entries, 7)

	virtuals, children := 0, 0
	for _, entry := range entries {
		require.NotNil(t, entry.Event)
		assert.False(t, entry.Event.IsParent(), "rule carriers are never displayed")
		switch entry.Event.Kind {
		case domain.KindVirtual:
			virtuals++
		case domain.KindChild:
			children++
		}
	}
	assert.Equal(t, 6, virtuals)
	assert.Equal(t, 1, children)

	assert.True(t, sort.SliceIsSorted(entries, func(i, j int) bool {
		return entries[i].StartDate() < entries[j].StartDate()
	}))
}

func TestWindowViewTombstoneLeavesGap(t *testing.T) {
	store, events, _ := newTestServices(t)
	start := windowStart()
	parent := seedSeries(t, store, "series-1", start)

	gone := start + 3*dayMillis
	tombstone := &domain.Event{
		Kind:               domain.KindChild,
		ParentEventID:      "child-gone",
		ParentRecurrenceID: parent.ParentEventID,
		RecurrenceDate:     gone,
		Plain:              domain.PlainContent{StartDate: gone, EndDate: gone + 1800_000, Deleted: true},
		Content:            domain.DecryptedContent{Title: "x"},
		Local:              domain.LocalMetadata{SyncState: domain.SyncStateWaiting},
	}
	require.NoError(t, store.UpsertEvent(tombstone))

	entries, err := events.WindowView(start, start+7*dayMillis)
	require.NoError(t, err)

	require.Len(t, entries, 6)
	for _, entry := range entries {
		assert.NotEqual(t, gone, entry.StartDate())
	}
}

func TestWindowViewIncludesSpanningEvents(t *testing.T) {
	store, events, _ := newTestServices(t)
	start := windowStart()

	spanning := seedSingle(t, store, "multi-day", start-dayMillis)
	spanning.Plain.EndDate = start + 2*dayMillis
	require.NoError(t, store.UpsertEvent(spanning))
	seedSingle(t, store, "before", start-3*dayMillis)

	entries, err := events.WindowView(start, start+7*dayMillis)
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Equal(t, "multi-day", entries[0].Event.ParentEventID)
}

func TestWindowViewDraftShadowsEvent(t *testing.T) {
	store, events, drafts := newTestServices(t)
	start := windowStart()
	seedSingle(t, store, "ev-1", start)

	d, err := drafts.ResolveForEdit("ev-1")
	require.NoError(t, err)
	d.Title = "ev-1 edited"
	require.NoError(t, drafts.SaveDraft(d))

	entries, err := events.WindowView(start, start+7*dayMillis)
	require.NoError(t, err)

	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Event)
	require.NotNil(t, entries[0].Draft)
	assert.Equal(t, "ev-1 edited", entries[0].Draft.Title)
}

func TestWindowViewRescheduledDraftStillShadowsEvent(t *testing.T) {
	store, events, drafts := newTestServices(t)
	start := windowStart()
	seedSingle(t, store, "ev-1", start)

	// The draft moves the event far outside the queried window; the stale
	// persisted time must not surface un-overlaid.
	d, err := drafts.ResolveForEdit("ev-1")
	require.NoError(t, err)
	d.StartDate = start + 30*dayMillis
	d.EndDate = d.StartDate + 3600_000
	d.Title = "ev-1 moved"
	require.NoError(t, drafts.SaveDraft(d))

	entries, err := events.WindowView(start, start+7*dayMillis)
	require.NoError(t, err)

	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Event)
	require.NotNil(t, entries[0].Draft)
	assert.Equal(t, "ev-1 moved", entries[0].Draft.Title)
	assert.Equal(t, start+30*dayMillis, entries[0].StartDate())
}

func TestWindowViewRescheduledDraftStillShadowsOccurrence(t *testing.T) {
	store, events, drafts := newTestServices(t)
	start := windowStart()
	parent := seedSeries(t, store, "series-1", start)
	occurrence := start + 3*dayMillis

	d := validDraft("occurrence moved", start+30*dayMillis)
	d.ParentRecurrenceID = parent.ParentEventID
	d.RecurrenceDate = occurrence
	require.NoError(t, drafts.SaveDraft(d))

	entries, err := events.WindowView(start, start+7*dayMillis)
	require.NoError(t, err)

	// Still seven occurrences; the addressed one carries the draft even
	// though the draft's own start falls outside the window.
	require.Len(t, entries, 7)
	withDraft := 0
	for _, entry := range entries {
		if entry.Draft != nil {
			withDraft++
			require.NotNil(t, entry.Event)
			assert.Equal(t, occurrence, entry.Event.RecurrenceDate)
			assert.Equal(t, "occurrence moved", entry.Draft.Title)
		}
	}
	assert.Equal(t, 1, withDraft)
}

func TestWindowViewStandaloneDraftAppears(t *testing.T) {
	_, events, drafts := newTestServices(t)
	start := windowStart()

	d := validDraft("not yet an event", start+dayMillis)
	require.NoError(t, drafts.SaveDraft(d))

	entries, err := events.WindowView(start, start+7*dayMillis)
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Event)
	require.NotNil(t, entries[0].Draft)
	assert.Equal(t, "not yet an event", entries[0].Draft.Title)
}

func TestWindowViewDraftOverVirtualInstance(t *testing.T) {
	store, events, drafts := newTestServices(t)
	start := windowStart()
	parent := seedSeries(t, store, "series-1", start)
	occurrence := start + 3*dayMillis

	d := validDraft("occurrence edit", occurrence)
	d.ParentRecurrenceID = parent.ParentEventID
	d.RecurrenceDate = occurrence
	require.NoError(t, drafts.SaveDraft(d))

	entries, err := events.WindowView(start, start+7*dayMillis)
	require.NoError(t, err)

	// Still seven occurrences; the addressed one carries the draft.
	require.Len(t, entries, 7)
	withDraft := 0
	for _, entry := range entries {
		if entry.Draft != nil {
			withDraft++
			require.NotNil(t, entry.Event)
			assert.Equal(t, occurrence, entry.Event.RecurrenceDate)
		}
	}
	assert.Equal(t, 1, withDraft)
}

func TestExportICS(t *testing.T) {
	store, events, _ := newTestServices(t)
	start := windowStart()
	e := seedSingle(t, store, "ev-1", start)
	e.ExternalID = "uid-1"
	e.Content.Title = "dentist"
	require.NoError(t, store.UpsertEvent(e))

	var buf strings.Builder
	require.NoError(t, events.ExportICS(&buf, start, start+7*dayMillis))

	out := buf.String()
	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "BEGIN:VEVENT")
	assert.Contains(t, out, "UID:uid-1")
	assert.Contains(t, out, "SUMMARY:dentist")
}

func TestImportExternalCreatesAndUpdates(t *testing.T) {
	store, events, _ := newTestServices(t)
	start := windowStart()

	rec := &domain.Event{
		Kind:       domain.KindSingle,
		ExternalID: "uid-feed-1",
		Plain:      domain.PlainContent{StartDate: start, EndDate: start + 3600_000},
		Content:    domain.DecryptedContent{Title: "holiday"},
		Local:      domain.LocalMetadata{SyncState: domain.SyncStateDone},
	}
	rec.ParentEventID = "feed-1"

	changed, err := events.ImportExternal([]*domain.Event{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	got, err := store.GetEventByExternalID("uid-feed-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "holiday", got.Content.Title)

	// Re-importing the identical record is a no-op.
	changed, err = events.ImportExternal([]*domain.Event{rec})
	require.NoError(t, err)
	assert.Zero(t, changed)

	// A changed record updates the local copy.
	rec.Content.Title = "holiday (observed)"
	changed, err = events.ImportExternal([]*domain.Event{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	got, err = store.GetEventByExternalID("uid-feed-1")
	require.NoError(t, err)
	assert.Equal(t, "holiday (observed)", got.Content.Title)
}
