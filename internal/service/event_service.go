package service

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"tidecal/internal/domain"
	"tidecal/internal/interop"
	"tidecal/internal/merge"
	"tidecal/internal/recurrence"
	"tidecal/internal/storage"
)

// WindowEntry is one row of the user-facing calendar view. When a draft
// shadows (or solely defines) the entry, Draft is set and takes precedence
// over Event for display and editing.
type WindowEntry struct {
	Event *domain.Event
	Draft *domain.Draft
}

// StartDate returns the entry's effective display start.
func (w WindowEntry) StartDate() int64 {
	if w.Draft != nil {
		return w.Draft.StartDate
	}
	return w.Event.Plain.StartDate
}

// EventService is the read-side query surface over persisted events, draft
// overlays and recurrence virtualization.
type EventService struct {
	storage *storage.Storage
	engine  *recurrence.Engine
	log     *logrus.Logger
	now     func() int64
}

func NewEventService(s *storage.Storage, engine *recurrence.Engine, log *logrus.Logger) *EventService {
	return &EventService{
		storage: s,
		engine:  engine,
		log:     log,
		now:     func() int64 { return time.Now().UnixMilli() },
	}
}

// ImportExternal upserts raw records produced by an external calendar
// source (an ICS subscription, a one-off import), matching on ExternalID.
// Returns how many records actually changed local state.
func (s *EventService) ImportExternal(records []*domain.Event) (int, error) {
	changed := 0
	err := s.storage.WithTx(func(tx *storage.Storage) error {
		now := s.now()
		for _, rec := range records {
			local, err := tx.GetEventByExternalID(rec.ExternalID)
			if err != nil {
				return err
			}
			if local == nil {
				created := rec.Clone()
				merge.StampLocalEdit(nil, created, now)
				if err := tx.UpsertEvent(created); err != nil {
					return err
				}
				changed++
				continue
			}
			old := local.Clone()
			local.Plain.StartDate = rec.Plain.StartDate
			local.Plain.EndDate = rec.Plain.EndDate
			local.Plain.RecurrenceRule = rec.Plain.RecurrenceRule.Clone()
			local.Plain.ExternalCreator = rec.Plain.ExternalCreator
			local.Content.Title = rec.Content.Title
			local.Content.Location = rec.Content.Location
			local.Content.Description = rec.Content.Description
			merge.StampLocalEdit(old, local, now)
			if local.Local.SyncState != old.Local.SyncState || local.Local.UpdatedAt != old.Local.UpdatedAt {
				if err := tx.UpsertEvent(local); err != nil {
					return err
				}
				changed++
			}
		}
		return nil
	})
	if err != nil {
		return changed, err
	}
	return changed, nil
}

// EventsBetween returns persisted events starting inside [start, end).
func (s *EventService) EventsBetween(start, end int64) ([]*domain.Event, error) {
	return s.storage.EventsBetween(start, end)
}

// EventsCovering returns persisted events overlapping [start, end),
// including multi-day events spanning into the window.
func (s *EventService) EventsCovering(start, end int64) ([]*domain.Event, error) {
	return s.storage.EventsCovering(start, end)
}

// WindowView produces the combined display set for a window: persisted
// instances, virtual occurrences of recurring series, and draft overlays.
// Series parents themselves are rule carriers and never displayed; a draft
// always supersedes the record it shadows.
func (s *EventService) WindowView(start, end int64) ([]WindowEntry, error) {
	events, err := s.storage.EventsCovering(start, end)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	parents, err := s.storage.RecurringParents(end)
	if err != nil {
		return nil, fmt.Errorf("load parents: %w", err)
	}
	var persisted []*domain.Event
	for _, p := range parents {
		children, err := s.storage.ChildrenOf(p.ParentEventID)
		if err != nil {
			return nil, fmt.Errorf("load children of %s: %w", p.ParentEventID, err)
		}
		persisted = append(persisted, children...)
	}
	virtual := s.engine.Virtualize(parents, persisted, start, end)

	// The overlay is keyed three ways: drafts starting inside the window
	// (standalone and in-place edits), drafts shadowing a window event by id
	// (a draft may have rescheduled it outside the window and must still
	// override it), and drafts addressing occurrences of an in-window series.
	drafts, err := s.storage.DraftsBetween(start, end)
	if err != nil {
		return nil, fmt.Errorf("load drafts: %w", err)
	}
	draftByID := make(map[string]*domain.Draft, len(drafts))
	for _, d := range drafts {
		draftByID[d.ParentEventID] = d
	}
	for _, e := range events {
		if e.IsParent() {
			continue
		}
		if _, ok := draftByID[e.ParentEventID]; ok {
			continue
		}
		d, err := s.storage.GetDraft(e.ParentEventID)
		if err != nil {
			return nil, fmt.Errorf("load draft for %s: %w", e.ParentEventID, err)
		}
		if d != nil {
			draftByID[d.ParentEventID] = d
			drafts = append(drafts, d)
		}
	}
	for _, p := range parents {
		seriesDrafts, err := s.storage.DraftsForSeries(p.ParentEventID)
		if err != nil {
			return nil, fmt.Errorf("load series drafts for %s: %w", p.ParentEventID, err)
		}
		for _, d := range seriesDrafts {
			if _, ok := draftByID[d.ParentEventID]; !ok {
				draftByID[d.ParentEventID] = d
				drafts = append(drafts, d)
			}
		}
	}
	usedDrafts := make(map[string]bool, len(drafts))

	var entries []WindowEntry
	for _, e := range events {
		if e.IsParent() {
			continue
		}
		if d, ok := draftByID[e.ParentEventID]; ok {
			entries = append(entries, WindowEntry{Event: e, Draft: d})
			usedDrafts[d.ParentEventID] = true
			continue
		}
		entries = append(entries, WindowEntry{Event: e})
	}
	for _, v := range virtual {
		if d := s.draftForInstance(drafts, v); d != nil {
			entries = append(entries, WindowEntry{Event: v, Draft: d})
			usedDrafts[d.ParentEventID] = true
			continue
		}
		entries = append(entries, WindowEntry{Event: v})
	}
	for _, d := range drafts {
		if usedDrafts[d.ParentEventID] {
			continue
		}
		// Drafts fetched by id or series may live entirely outside the
		// window; standalone display is only for drafts starting inside it.
		if d.StartDate < start || d.StartDate >= end {
			continue
		}
		entries = append(entries, WindowEntry{Draft: d})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartDate() < entries[j].StartDate()
	})
	return entries, nil
}

// draftForInstance matches a draft addressing a not-yet-materialized
// occurrence against a virtual instance.
func (s *EventService) draftForInstance(drafts []*domain.Draft, v *domain.Event) *domain.Draft {
	for _, d := range drafts {
		if d.ParentRecurrenceID == v.ParentRecurrenceID && d.RecurrenceDate == v.RecurrenceDate {
			return d
		}
	}
	return nil
}

// ExportICS writes the window's display set as an iCalendar stream.
func (s *EventService) ExportICS(w io.Writer, start, end int64) error {
	entries, err := s.WindowView(start, end)
	if err != nil {
		return err
	}
	events := make([]*domain.Event, 0, len(entries))
	for _, entry := range entries {
		if entry.Event != nil {
			events = append(events, entry.Event)
		}
	}
	return interop.WriteICS(w, events)
}
