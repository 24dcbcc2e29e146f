package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tidecal/internal/domain"
	"tidecal/internal/merge"
	"tidecal/internal/recurrence"
	"tidecal/internal/storage"
)

// PromoteScope selects how far a draft's edit reaches into a recurring
// series. The UI picks; AllEvents is the default.
type PromoteScope string

const (
	ScopeAllEvents     PromoteScope = "allEvents"
	ScopeThisEvent     PromoteScope = "thisEvent"
	ScopeThisAndFuture PromoteScope = "thisAndFutureEvents"
)

// DraftService manages the unsynced local overlay: draft editing, the
// draft-over-event resolution rule, and promotion of a saved draft into the
// event store.
type DraftService struct {
	storage *storage.Storage
	engine  *recurrence.Engine
	log     *logrus.Logger
	now     func() int64
}

func NewDraftService(s *storage.Storage, engine *recurrence.Engine, log *logrus.Logger) *DraftService {
	return &DraftService{
		storage: s,
		engine:  engine,
		log:     log,
		now:     func() int64 { return time.Now().UnixMilli() },
	}
}

// ResolveForEdit returns the editable view of an id: the draft when one
// exists, otherwise a fresh draft seeded from the persisted event.
func (s *DraftService) ResolveForEdit(parentEventID string) (*domain.Draft, error) {
	draft, err := s.storage.GetDraft(parentEventID)
	if err != nil {
		return nil, err
	}
	if draft != nil {
		return draft, nil
	}
	event, err := s.storage.GetEvent(parentEventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, fmt.Errorf("resolve %s: %w", parentEventID, domain.ErrNotFound)
	}
	return domain.DraftFromEvent(event), nil
}

// SaveDraft validates and persists an in-progress edit. Nothing is synced
// until the draft is promoted.
func (s *DraftService) SaveDraft(d *domain.Draft) error {
	if err := validateDraft(d); err != nil {
		return err
	}
	if d.ParentEventID == "" {
		d.ParentEventID = uuid.NewString()
	}
	d.UpdatedAt = s.now()
	return s.storage.UpsertDraft(d)
}

// DiscardDraft drops the overlay, revealing the persisted event again.
func (s *DraftService) DiscardDraft(parentEventID string) error {
	return s.storage.DeleteDraft(parentEventID)
}

// Promote turns a saved draft into persisted event state. Non-recurring
// drafts are a plain create or update; anything touching a series is
// delegated to the recurrence engine under the chosen scope. The draft is
// removed once applied. A missing draft is a NotFound condition the caller
// must surface, never silently ignored.
func (s *DraftService) Promote(parentEventID string, scope PromoteScope) (*domain.Event, []domain.InstanceResult, error) {
	if scope == "" {
		scope = ScopeAllEvents
	}

	var (
		promoted *domain.Event
		results  []domain.InstanceResult
	)
	err := s.storage.WithTx(func(tx *storage.Storage) error {
		draft, err := tx.GetDraft(parentEventID)
		if err != nil {
			return err
		}
		if draft == nil {
			return fmt.Errorf("promote %s: draft %w", parentEventID, domain.ErrNotFound)
		}
		event, err := tx.GetEvent(draft.ParentEventID)
		if err != nil {
			return err
		}

		promoted, results, err = s.promoteLocked(tx, draft, event, scope)
		if err != nil {
			return err
		}
		return tx.DeleteDraft(draft.ParentEventID)
	})
	if err != nil {
		return nil, nil, err
	}
	return promoted, results, nil
}

func (s *DraftService) promoteLocked(tx *storage.Storage, draft *domain.Draft, event *domain.Event, scope PromoteScope) (*domain.Event, []domain.InstanceResult, error) {
	now := s.now()

	// Wholly new event, no series involvement.
	if event == nil && draft.ParentRecurrenceID == "" {
		created := s.eventFromDraft(draft)
		merge.StampLocalEdit(nil, created, now)
		if err := tx.UpsertEvent(created); err != nil {
			return nil, nil, err
		}
		return created, nil, nil
	}

	// Removing the rule replaces the whole series with one detached event.
	// Only a draft addressing the parent itself qualifies: an occurrence
	// draft carries no rule either and goes through the scope switch below.
	if event != nil && event.IsParent() && draft.RecurrenceRule == nil && draft.ParentRecurrenceID == "" {
		detached, results, err := s.engine.DetachSeries(tx, event, func(e *domain.Event) {
			draft.ApplyTo(e)
			e.Plain.RecurrenceRule = nil
		})
		return detached, results, err
	}

	// Plain update of a non-recurring event.
	if event != nil && !event.IsParent() && event.ParentRecurrenceID == "" && draft.RecurrenceRule == nil {
		old := event.Clone()
		draft.ApplyTo(event)
		merge.StampLocalEdit(old, event, now)
		if err := tx.UpsertEvent(event); err != nil {
			return nil, nil, err
		}
		return event, nil, nil
	}

	// A non-recurring event growing a rule becomes a series parent.
	if event != nil && !event.IsParent() && event.ParentRecurrenceID == "" && draft.RecurrenceRule != nil {
		old := event.Clone()
		draft.ApplyTo(event)
		event.Kind = domain.KindParent
		merge.StampLocalEdit(old, event, now)
		if err := tx.UpsertEvent(event); err != nil {
			return nil, nil, err
		}
		return event, nil, nil
	}

	parent, err := s.resolveParent(tx, draft, event)
	if err != nil {
		return nil, nil, err
	}

	switch scope {
	case ScopeThisEvent:
		if draft.ParentRecurrenceID == "" {
			// The edited instance is the parent itself: the series is
			// replaced by a single detached event.
			return s.engine.DetachSeries(tx, parent, func(e *domain.Event) {
				draft.ApplyTo(e)
				e.Plain.RecurrenceRule = nil
			})
		}
		child, err := s.engine.ApplyToSingle(tx, parent, s.occurrenceDate(draft, parent), func(e *domain.Event) {
			draft.ApplyTo(e)
			e.Plain.RecurrenceRule = nil
		})
		return child, nil, err

	case ScopeThisAndFuture:
		newParent, results, err := s.engine.SplitAtOccurrence(tx, parent, s.occurrenceDate(draft, parent), func(e *domain.Event) {
			s.applyDraftContent(draft, e)
		})
		return newParent, results, err

	default: // ScopeAllEvents
		results := s.engine.ApplyToAll(tx, parent, func(e *domain.Event) {
			if e.IsParent() && draft.ParentRecurrenceID == "" {
				draft.ApplyTo(e)
			} else {
				// Every record keeps its own schedule: children always, and
				// the parent too when the draft addresses one occurrence
				// (such a draft carries moved instance dates and no rule).
				// Only shared content and preferences follow the edit.
				s.applyDraftContent(draft, e)
			}
		})
		for _, r := range results {
			if r.Err != nil {
				s.log.WithError(r.Err).WithField("event", r.EventID).Warn("series fan-out failure")
			}
		}
		return parent, results, nil
	}
}

// applyDraftContent copies everything except dates and the rule, so an
// instance's own schedule survives a series-wide content edit.
func (s *DraftService) applyDraftContent(d *domain.Draft, e *domain.Event) {
	start, end := e.Plain.StartDate, e.Plain.EndDate
	rule := e.Plain.RecurrenceRule
	d.ApplyTo(e)
	e.Plain.StartDate, e.Plain.EndDate = start, end
	e.Plain.RecurrenceRule = rule
}

func (s *DraftService) resolveParent(tx *storage.Storage, draft *domain.Draft, event *domain.Event) (*domain.Event, error) {
	if event != nil && event.IsParent() {
		return event, nil
	}
	parentID := draft.ParentRecurrenceID
	if parentID == "" && event != nil {
		parentID = event.ParentRecurrenceID
	}
	if parentID == "" {
		return nil, fmt.Errorf("promote %s: series parent %w", draft.ParentEventID, domain.ErrNotFound)
	}
	parent, err := tx.GetEvent(parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("promote %s: parent %s %w", draft.ParentEventID, parentID, domain.ErrNotFound)
	}
	return parent, nil
}

// occurrenceDate picks the rule date the draft addresses, defaulting to the
// series anchor when the draft targets the parent record.
func (s *DraftService) occurrenceDate(draft *domain.Draft, parent *domain.Event) int64 {
	if draft.RecurrenceDate != 0 {
		return draft.RecurrenceDate
	}
	if parent.Plain.RecurrenceRule != nil {
		return parent.Plain.RecurrenceRule.StartDate
	}
	return parent.Plain.StartDate
}

func (s *DraftService) eventFromDraft(d *domain.Draft) *domain.Event {
	e := &domain.Event{
		Kind:          domain.KindSingle,
		ParentEventID: d.ParentEventID,
		ExternalID:    d.ExternalID,
	}
	if e.ParentEventID == "" {
		e.ParentEventID = uuid.NewString()
	}
	if e.ExternalID == "" {
		e.ExternalID = uuid.NewString()
	}
	d.ApplyTo(e)
	if e.Plain.RecurrenceRule != nil {
		e.Kind = domain.KindParent
	}
	e.Local.SyncState = domain.SyncStateWaiting
	return e
}

// validateDraft rejects malformed input before any state is mutated.
func validateDraft(d *domain.Draft) error {
	if d.EndDate < d.StartDate {
		return fmt.Errorf("%w: event ends before it starts", domain.ErrValidation)
	}
	if d.Title == "" {
		return fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	seen := make(map[string]bool)
	var owner string
	for _, a := range d.Attendees {
		if a.Deleted {
			continue
		}
		if a.Kind == domain.AttendeeExternal {
			if !strings.Contains(a.Email, "@") {
				return fmt.Errorf("%w: malformed attendee email %q", domain.ErrValidation, a.Email)
			}
			if seen[a.Email] {
				return fmt.Errorf("%w: duplicate attendee %q", domain.ErrValidation, a.Email)
			}
			seen[a.Email] = true
		}
		if a.Permission == domain.PermissionOwner {
			if owner != "" {
				return fmt.Errorf("%w: more than one owner attendee", domain.ErrValidation)
			}
			owner = a.ID
		}
	}
	return nil
}
