// Package merge reconciles divergent edits between the locally-held copy of
// an event and the copy arriving from the server. Resolution is per-field
// last-write-wins over the lastUpdateKeyMap stamps; a field kept locally is
// a conflict and flags the event for a re-push.
package merge

import (
	"tidecal/internal/domain"
)

// Tracked field keys. These are the conflict-relevant fields per content
// group and double as the lastUpdateKeyMap keys on the wire.
const (
	FieldStartDate      = "startDate"
	FieldEndDate        = "endDate"
	FieldRecurrenceRule = "recurrenceRule"
	FieldReminders      = "reminders"

	FieldTitle       = "title"
	FieldLocation    = "location"
	FieldDescription = "description"
	FieldIsAllDay    = "isAllDay"
	FieldConference  = "conference"

	FieldColor = "color"
)

// startDate/endDate are resolved as a single unit, see mergeDates.
var (
	plainFields   = []string{FieldRecurrenceRule, FieldReminders}
	contentFields = []string{FieldTitle, FieldLocation, FieldDescription, FieldIsAllDay, FieldConference}
	prefsFields   = []string{FieldColor}
)

// Merge reconciles an incoming server event into the local copy and returns
// the authoritative result. A nil local means first write: the incoming
// event wins unconditionally. Merge never fails; a missing or malformed
// timestamp counts as absent and always loses to a present one, so the
// outcome is total and deterministic.
//
// SyncState only moves Done -> Waiting here, and only when a conflict was
// recorded. The reverse transition belongs to a successful push.
func Merge(local, incoming *domain.Event) *domain.Event {
	if local == nil {
		merged := incoming.Clone()
		if merged.Local.SyncState == "" {
			merged.Local.SyncState = domain.SyncStateDone
		}
		return merged
	}

	merged := local.Clone()

	contentConflict := mergeDates(merged, incoming)

	var groupConflict bool
	merged.Plain.Updates, groupConflict = mergeGroup(
		merged, incoming, merged.Plain.Updates, incoming.Plain.Updates, plainFields, copyPlainField)
	contentConflict = contentConflict || groupConflict

	merged.Content.Updates, groupConflict = mergeGroup(
		merged, incoming, merged.Content.Updates, incoming.Content.Updates, contentFields, copyContentField)
	contentConflict = contentConflict || groupConflict

	var prefsConflict bool
	merged.Prefs.Updates, prefsConflict = mergeGroup(
		merged, incoming, merged.Prefs.Updates, incoming.Prefs.Updates, prefsFields, copyPrefsField)

	attendees, attContent, attRsvp, attUpdated := mergeAttendees(
		merged.Content.Attendees, incoming.Content.Attendees)
	merged.Content.Attendees = attendees
	contentConflict = contentConflict || attContent

	// Server-managed plain fields outside conflict tracking.
	if incoming.Plain.Sequence > merged.Plain.Sequence {
		merged.Plain.Sequence = incoming.Plain.Sequence
	}
	merged.Plain.Deleted = merged.Plain.Deleted || incoming.Plain.Deleted
	if merged.Plain.ExternalCreator == "" {
		merged.Plain.ExternalCreator = incoming.Plain.ExternalCreator
	}
	if merged.ExternalID == "" {
		merged.ExternalID = incoming.ExternalID
	}

	merged.Local.UpdatedAt = maxInt64(merged.Local.UpdatedAt, incoming.Local.UpdatedAt, attUpdated)

	if contentConflict {
		merged.Local.UpdateTypes = merged.Local.UpdateTypes.Add(domain.UpdateTypeContent)
	}
	if prefsConflict {
		merged.Local.UpdateTypes = merged.Local.UpdateTypes.Add(domain.UpdateTypePreferences)
	}
	if attRsvp {
		merged.Local.UpdateTypes = merged.Local.UpdateTypes.Add(domain.UpdateTypeRsvp)
	}
	if (contentConflict || prefsConflict || attRsvp) && merged.Local.SyncState == domain.SyncStateDone {
		merged.Local.SyncState = domain.SyncStateWaiting
	}

	return merged
}

// localWins reports whether the local side keeps a field under LWW. An
// absent stamp always loses to a present one; equal stamps mean the same
// write and the incoming copy is taken without a conflict.
func localWins(localMap, incMap domain.UpdateMap, field string) bool {
	lt, lok := localMap.Get(field)
	it, iok := incMap.Get(field)
	switch {
	case !lok:
		return false
	case !iok:
		return true
	default:
		return lt > it
	}
}

// mergeGroup resolves one content group field by field, copying incoming
// winners into merged. Returns the group's update map and whether any field
// was kept locally.
func mergeGroup(
	merged, incoming *domain.Event,
	localMap, incMap domain.UpdateMap,
	fields []string,
	copyField func(dst, src *domain.Event, field string),
) (domain.UpdateMap, bool) {
	conflict := false
	for _, f := range fields {
		if localWins(localMap, incMap, f) {
			conflict = true
			continue
		}
		copyField(merged, incoming, f)
		if ts, ok := incMap.Get(f); ok {
			localMap = localMap.Stamp(f, ts)
		} else {
			localMap.Drop(f)
		}
	}
	return localMap, conflict
}

// mergeDates treats startDate/endDate as one conflict unit: if either date
// wins locally both keep their local values, stamped with the same local
// time so they keep travelling together.
func mergeDates(merged, incoming *domain.Event) bool {
	lp := merged.Plain.Updates
	ip := incoming.Plain.Updates

	if localWins(lp, ip, FieldStartDate) || localWins(lp, ip, FieldEndDate) {
		var ts int64
		if t, ok := lp.Get(FieldStartDate); ok && t > ts {
			ts = t
		}
		if t, ok := lp.Get(FieldEndDate); ok && t > ts {
			ts = t
		}
		merged.Plain.Updates = lp.Stamp(FieldStartDate, ts).Stamp(FieldEndDate, ts)
		return true
	}

	merged.Plain.StartDate = incoming.Plain.StartDate
	merged.Plain.EndDate = incoming.Plain.EndDate
	for _, f := range []string{FieldStartDate, FieldEndDate} {
		if ts, ok := ip.Get(f); ok {
			merged.Plain.Updates = merged.Plain.Updates.Stamp(f, ts)
		} else {
			merged.Plain.Updates.Drop(f)
		}
	}
	return false
}

func copyPlainField(dst, src *domain.Event, field string) {
	switch field {
	case FieldRecurrenceRule:
		dst.Plain.RecurrenceRule = src.Plain.RecurrenceRule.Clone()
	case FieldReminders:
		dst.Plain.Reminders = append([]domain.Reminder(nil), src.Plain.Reminders...)
	}
}

func copyContentField(dst, src *domain.Event, field string) {
	switch field {
	case FieldTitle:
		dst.Content.Title = src.Content.Title
	case FieldLocation:
		dst.Content.Location = src.Content.Location
	case FieldDescription:
		dst.Content.Description = src.Content.Description
	case FieldIsAllDay:
		dst.Content.IsAllDay = src.Content.IsAllDay
	case FieldConference:
		dst.Content.Conference = src.Content.Conference
	}
}

func copyPrefsField(dst, src *domain.Event, field string) {
	switch field {
	case FieldColor:
		dst.Prefs.Color = src.Prefs.Color
	}
}

func maxInt64(vals ...int64) int64 {
	var out int64
	for _, v := range vals {
		if v > out {
			out = v
		}
	}
	return out
}
