package recurrence

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"tidecal/internal/domain"
	"tidecal/internal/merge"
)

// SplitAtOccurrence implements "this and future": the parent's rule is
// truncated just before the occurrence at splitDate, a new parent starting
// at splitDate carries the edited content and the continuing cadence, and
// every materialized child at or after splitDate is re-parented with its
// recurrence date remapped by sequence index.
//
// The new parent is persisted before any child re-parenting because child
// lookups of the effective rule fall back to their parent.
//
// The window's total occurrence count is preserved: occurrences are only
// re-parented, never gained or lost.
func (g *Engine) SplitAtOccurrence(store Store, parent *domain.Event, splitDate int64, edit EditFunc) (*domain.Event, []domain.InstanceResult, error) {
	oldRule := parent.Plain.RecurrenceRule
	if oldRule == nil {
		return nil, nil, fmt.Errorf("split %s: %w: not a series parent", parent.ParentEventID, domain.ErrValidation)
	}

	oldSeq, err := Sequence(oldRule, 0)
	if err != nil {
		return nil, nil, err
	}
	splitIndex := -1
	for i, d := range oldSeq {
		if d == splitDate {
			splitIndex = i
			break
		}
	}
	if splitIndex < 0 {
		return nil, nil, fmt.Errorf("split %s at %d: occurrence %w", parent.ParentEventID, splitDate, domain.ErrNotFound)
	}

	now := g.now()

	// New parent first: it anchors the continuing cadence at splitDate.
	newParent := parent.Clone()
	newParent.Kind = domain.KindParent
	newParent.ParentEventID = uuid.NewString()
	newParent.ParentRecurrenceID = ""
	newParent.RecurrenceDate = 0
	newParent.Plain.EndDate = splitDate + parent.Duration()
	newParent.Plain.StartDate = splitDate
	newParent.Plain.Updates = nil
	newParent.Content.Updates = nil
	newParent.Prefs.Updates = nil
	edit(newParent)

	newRule := oldRule.Clone()
	newRule.StartDate = newParent.Plain.StartDate
	if newRule.Count > 0 {
		// Occurrences consumed by the truncated old rule come off the bound.
		newRule.Count = oldRule.Count - splitIndex
	}
	if len(newRule.ByDays) == 1 {
		// A single-weekday rule follows its one moved instance.
		wd := millisToTime(newParent.Plain.StartDate, newRule.Location()).Weekday()
		if newRule.ByDays[0] != wd {
			newRule.ByDays = []time.Weekday{wd}
		}
	}
	newParent.Plain.RecurrenceRule = newRule
	merge.StampLocalEdit(nil, newParent, now)
	if err := store.UpsertEvent(newParent); err != nil {
		return nil, nil, fmt.Errorf("persist new parent: %w", err)
	}

	// Truncate the old rule. If nothing remains before the split the old
	// parent is tombstoned instead of keeping an empty rule.
	results := make([]domain.InstanceResult, 0, 8)
	if splitIndex == 0 {
		results = append(results, g.tombstone(store, parent, now))
	} else {
		oldParent := parent.Clone()
		truncated := oldRule.Clone()
		truncated.Until = truncateUntil(oldRule, splitDate)
		truncated.Count = 0
		parent.Plain.RecurrenceRule = truncated
		merge.StampLocalEdit(oldParent, parent, now)
		if err := store.UpsertEvent(parent); err != nil {
			return newParent, results, fmt.Errorf("truncate old parent: %w", err)
		}
		results = append(results, domain.InstanceResult{EventID: parent.ParentEventID})
	}

	// Re-parent materialized children at or after the split.
	newSeq, err := Sequence(newRule, 0)
	if err != nil {
		return newParent, results, err
	}
	children, err := store.ChildrenOf(parent.ParentEventID)
	if err != nil {
		return newParent, results, fmt.Errorf("list children: %w", err)
	}
	for _, child := range children {
		if child.RecurrenceDate < splitDate {
			continue
		}
		remapped, ok := RemapOccurrenceDate(oldSeq, newSeq, child.RecurrenceDate, splitIndex)
		if !ok {
			results = append(results, domain.InstanceResult{
				EventID: child.ParentEventID,
				Err:     fmt.Errorf("remap occurrence %d: no matching date in new sequence", child.RecurrenceDate),
			})
			continue
		}
		child.ParentRecurrenceID = newParent.ParentEventID
		child.RecurrenceDate = remapped
		child.Local.UpdatedAt = now
		child.Local.SyncState = domain.SyncStateWaiting
		child.Local.UpdateTypes = child.Local.UpdateTypes.Add(domain.UpdateTypeContent)
		results = append(results, domain.InstanceResult{EventID: child.ParentEventID, Err: store.UpsertEvent(child)})
	}

	return newParent, results, nil
}

// truncateUntil computes the old rule's new inclusive end: one day before
// the split when the rule is weekday-pinned, otherwise one frequency unit
// back.
func truncateUntil(r *domain.RecurrenceRule, splitDate int64) int64 {
	loc := r.Location()
	t := millisToTime(splitDate, loc)
	if len(r.ByDays) > 0 {
		return t.AddDate(0, 0, -1).UnixMilli()
	}
	interval := r.IntervalOrDefault()
	switch r.Frequency {
	case domain.FreqDaily:
		t = t.AddDate(0, 0, -interval)
	case domain.FreqWeekly:
		t = t.AddDate(0, 0, -7*interval)
	case domain.FreqMonthly:
		t = t.AddDate(0, -interval, 0)
	case domain.FreqYearly:
		t = t.AddDate(-interval, 0, 0)
	}
	return t.UnixMilli()
}
