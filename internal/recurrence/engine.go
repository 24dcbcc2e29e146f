package recurrence

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tidecal/internal/domain"
	"tidecal/internal/merge"
)

// Store is the slice of persistence the engine needs. Callers hand in a
// transaction-scoped storage so a fan-out serializes with the parent write
// that precedes it.
type Store interface {
	GetEvent(parentEventID string) (*domain.Event, error)
	UpsertEvent(e *domain.Event) error
	ChildrenOf(parentEventID string) ([]*domain.Event, error)
	ChildAt(parentEventID string, recurrenceDate int64) (*domain.Event, error)
}

// EditFunc mutates one event in place. The engine handles stamping and
// persistence around it.
type EditFunc func(e *domain.Event)

// Engine performs recurrence virtualization and scoped series mutations.
type Engine struct {
	log *logrus.Logger
	now func() int64
}

func NewEngine(log *logrus.Logger) *Engine {
	return &Engine{log: log, now: func() int64 { return time.Now().UnixMilli() }}
}

// Virtualize synthesizes the occurrence instances of the given parents
// inside [windowStart, windowEnd). A date already represented by a
// persisted child (tombstoned or not) is skipped; everything else becomes a
// virtual instance cloning the parent's content, shifted to the occurrence
// date with the original duration, keyed by the unshifted rule date.
func (g *Engine) Virtualize(parents, persisted []*domain.Event, windowStart, windowEnd int64) []*domain.Event {
	childDates := make(map[string]map[int64]bool)
	for _, e := range persisted {
		if e.ParentRecurrenceID == "" {
			continue
		}
		if childDates[e.ParentRecurrenceID] == nil {
			childDates[e.ParentRecurrenceID] = make(map[int64]bool)
		}
		childDates[e.ParentRecurrenceID][e.RecurrenceDate] = true
	}

	var out []*domain.Event
	for _, parent := range parents {
		if parent.Plain.RecurrenceRule == nil {
			continue
		}
		dates, err := ExpandBetween(parent.Plain.RecurrenceRule, windowStart, windowEnd)
		if err != nil {
			g.log.WithError(err).WithField("event", parent.ParentEventID).
				Warn("skipping unexpandable recurrence rule")
			continue
		}
		for _, date := range dates {
			if childDates[parent.ParentEventID][date] {
				continue
			}
			out = append(out, g.synthesize(parent, date, domain.KindVirtual))
		}
	}
	return out
}

// synthesize clones the parent's content onto one occurrence date,
// preserving the original duration.
func (g *Engine) synthesize(parent *domain.Event, date int64, kind domain.RecordKind) *domain.Event {
	inst := parent.Clone()
	inst.Kind = kind
	inst.ParentRecurrenceID = parent.ParentEventID
	inst.RecurrenceDate = date
	inst.Plain.EndDate = date + parent.Duration()
	inst.Plain.StartDate = date
	inst.Plain.RecurrenceRule = nil
	if kind == domain.KindChild {
		inst.ParentEventID = uuid.NewString()
	}
	return inst
}

// ApplyToSingle edits exactly one occurrence of a series. A virtual
// occurrence is materialized as a persisted child first; an existing child
// is edited in place.
func (g *Engine) ApplyToSingle(store Store, parent *domain.Event, recurrenceDate int64, edit EditFunc) (*domain.Event, error) {
	child, err := store.ChildAt(parent.ParentEventID, recurrenceDate)
	if err != nil {
		return nil, fmt.Errorf("lookup child at %d: %w", recurrenceDate, err)
	}

	now := g.now()
	if child != nil {
		old := child.Clone()
		edit(child)
		merge.StampLocalEdit(old, child, now)
		if err := store.UpsertEvent(child); err != nil {
			return nil, err
		}
		return child, nil
	}

	child = g.synthesize(parent, recurrenceDate, domain.KindChild)
	edit(child)
	merge.StampLocalEdit(nil, child, now)
	if err := store.UpsertEvent(child); err != nil {
		return nil, err
	}
	return child, nil
}

// ApplyToAll applies an edit to the parent and every materialized child,
// returning a per-instance result so partial failures are visible without
// aborting the series. The parent write happens first.
func (g *Engine) ApplyToAll(store Store, parent *domain.Event, edit EditFunc) []domain.InstanceResult {
	now := g.now()
	results := make([]domain.InstanceResult, 0, 8)

	oldParent := parent.Clone()
	edit(parent)
	merge.StampLocalEdit(oldParent, parent, now)
	if err := store.UpsertEvent(parent); err != nil {
		// Without the parent write nothing else may proceed.
		return append(results, domain.InstanceResult{EventID: parent.ParentEventID, Err: err})
	}
	results = append(results, domain.InstanceResult{EventID: parent.ParentEventID})

	children, err := store.ChildrenOf(parent.ParentEventID)
	if err != nil {
		return append(results, domain.InstanceResult{EventID: parent.ParentEventID, Err: fmt.Errorf("list children: %w", err)})
	}
	for _, child := range children {
		if child.Plain.Deleted {
			continue
		}
		old := child.Clone()
		edit(child)
		merge.StampLocalEdit(old, child, now)
		err := store.UpsertEvent(child)
		results = append(results, domain.InstanceResult{EventID: child.ParentEventID, Err: err})
	}
	return results
}

// DetachSeries replaces a whole series with a single non-recurring event
// carrying the parent's (edited) content: the parent and every child are
// tombstoned and the detached event is created. Used when the edited
// instance is the series parent itself, or when a draft removes the
// recurrence rule.
func (g *Engine) DetachSeries(store Store, parent *domain.Event, edit EditFunc) (*domain.Event, []domain.InstanceResult, error) {
	now := g.now()

	detached := parent.Clone()
	detached.Kind = domain.KindSingle
	detached.ParentEventID = uuid.NewString()
	detached.ParentRecurrenceID = ""
	detached.RecurrenceDate = 0
	detached.Plain.RecurrenceRule = nil
	edit(detached)
	merge.StampLocalEdit(nil, detached, now)
	if err := store.UpsertEvent(detached); err != nil {
		return nil, nil, fmt.Errorf("create detached event: %w", err)
	}

	var results []domain.InstanceResult
	results = append(results, g.tombstone(store, parent, now))
	children, err := store.ChildrenOf(parent.ParentEventID)
	if err != nil {
		return detached, results, fmt.Errorf("list children: %w", err)
	}
	for _, child := range children {
		if child.Plain.Deleted {
			continue
		}
		results = append(results, g.tombstone(store, child, now))
	}
	return detached, results, nil
}

// tombstone soft-deletes an event; sync-pending records are never removed
// outright.
func (g *Engine) tombstone(store Store, e *domain.Event, now int64) domain.InstanceResult {
	e.Plain.Deleted = true
	e.Local.UpdatedAt = now
	e.Local.SyncState = domain.SyncStateWaiting
	e.Local.UpdateTypes = e.Local.UpdateTypes.Add(domain.UpdateTypeContent)
	return domain.InstanceResult{EventID: e.ParentEventID, Err: store.UpsertEvent(e)}
}
