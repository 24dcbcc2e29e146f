package merge

import "tidecal/internal/domain"

// StampLocalEdit is the writer-side counterpart of Merge: whenever a local
// edit changes a tracked field it stamps that field's lastUpdateKeyMap entry
// with now, which is what later makes the field win a merge against a stale
// server value. It also accumulates the update types the edit must push or
// mail, and flags the event as waiting for sync.
//
// A nil old means the event is brand new; every tracked field is stamped.
func StampLocalEdit(old, updated *domain.Event, now int64) {
	changed := false

	if old == nil || old.Plain.StartDate != updated.Plain.StartDate ||
		old.Plain.EndDate != updated.Plain.EndDate {
		// The date pair is one conflict unit: stamp both together.
		updated.Plain.Updates = updated.Plain.Updates.
			Stamp(FieldStartDate, now).
			Stamp(FieldEndDate, now)
		updated.Local.UpdateTypes = updated.Local.UpdateTypes.Add(domain.UpdateTypeContent)
		changed = true
	}

	for _, f := range plainFields {
		if old == nil || plainFieldChanged(old, updated, f) {
			updated.Plain.Updates = updated.Plain.Updates.Stamp(f, now)
			updated.Local.UpdateTypes = updated.Local.UpdateTypes.Add(domain.UpdateTypeContent)
			changed = true
		}
	}
	for _, f := range contentFields {
		if old == nil || contentFieldChanged(old, updated, f) {
			updated.Content.Updates = updated.Content.Updates.Stamp(f, now)
			updated.Local.UpdateTypes = updated.Local.UpdateTypes.Add(domain.UpdateTypeContent)
			changed = true
		}
	}
	for _, f := range prefsFields {
		if old == nil || prefsFieldChanged(old, updated, f) {
			updated.Prefs.Updates = updated.Prefs.Updates.Stamp(f, now)
			updated.Local.UpdateTypes = updated.Local.UpdateTypes.Add(domain.UpdateTypePreferences)
			changed = true
		}
	}

	if stampAttendeeEdits(old, updated, now) {
		changed = true
	}

	if changed {
		updated.Local.UpdatedAt = now
		updated.Local.SyncState = domain.SyncStateWaiting
	}
}

// stampAttendeeEdits bumps UpdatedAt on every attendee the edit touched and
// marks added/removed ones for invite/uninvite mail.
func stampAttendeeEdits(old, updated *domain.Event, now int64) bool {
	var oldByID map[string]domain.Attendee
	if old != nil {
		oldByID = make(map[string]domain.Attendee, len(old.Content.Attendees))
		for _, a := range old.Content.Attendees {
			oldByID[a.ID] = a
		}
	}

	changed := false
	for i := range updated.Content.Attendees {
		a := &updated.Content.Attendees[i]
		prev, existed := oldByID[a.ID]
		if existed && attendeeEqual(prev, *a) {
			continue
		}
		changed = true
		a.UpdatedAt = now
		if !existed || prev.Deleted != a.Deleted {
			// Joining or leaving the event needs an invite/uninvite mail.
			a.IsNew = true
			updated.Local.UpdateTypes = updated.Local.UpdateTypes.Add(domain.UpdateTypeContent)
		} else if prev.Status != a.Status {
			updated.Local.UpdateTypes = updated.Local.UpdateTypes.Add(domain.UpdateTypeRsvp)
		} else {
			updated.Local.UpdateTypes = updated.Local.UpdateTypes.Add(domain.UpdateTypeContent)
		}
	}
	return changed
}

func attendeeEqual(a, b domain.Attendee) bool {
	a.UpdatedAt, a.IsNew = b.UpdatedAt, b.IsNew
	return a == b
}

func plainFieldChanged(old, updated *domain.Event, field string) bool {
	switch field {
	case FieldRecurrenceRule:
		return !ruleEqual(old.Plain.RecurrenceRule, updated.Plain.RecurrenceRule)
	case FieldReminders:
		return !remindersEqual(old.Plain.Reminders, updated.Plain.Reminders)
	}
	return false
}

func contentFieldChanged(old, updated *domain.Event, field string) bool {
	switch field {
	case FieldTitle:
		return old.Content.Title != updated.Content.Title
	case FieldLocation:
		return old.Content.Location != updated.Content.Location
	case FieldDescription:
		return old.Content.Description != updated.Content.Description
	case FieldIsAllDay:
		return old.Content.IsAllDay != updated.Content.IsAllDay
	case FieldConference:
		return old.Content.Conference != updated.Content.Conference
	}
	return false
}

func prefsFieldChanged(old, updated *domain.Event, field string) bool {
	switch field {
	case FieldColor:
		return old.Prefs.Color != updated.Prefs.Color
	}
	return false
}

func ruleEqual(a, b *domain.RecurrenceRule) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Frequency != b.Frequency || a.Interval != b.Interval ||
		a.Count != b.Count || a.Until != b.Until ||
		a.Timezone != b.Timezone || a.StartDate != b.StartDate {
		return false
	}
	if len(a.ByDays) != len(b.ByDays) || len(a.ExcludedDates) != len(b.ExcludedDates) {
		return false
	}
	for i := range a.ByDays {
		if a.ByDays[i] != b.ByDays[i] {
			return false
		}
	}
	for i := range a.ExcludedDates {
		if a.ExcludedDates[i] != b.ExcludedDates[i] {
			return false
		}
	}
	return true
}

func remindersEqual(a, b []domain.Reminder) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
