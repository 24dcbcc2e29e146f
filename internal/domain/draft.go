package domain

import "github.com/google/uuid"

// Draft is an unsynced, user-local overlay of an event: the same content
// fields minus update stamps and the deleted flag. At most one draft exists
// per ParentEventID, and while it exists it shadows the event in every
// user-facing query. A draft without a persisted event is a wholly new (or
// not-yet-materialized recurrence-instance) event.
type Draft struct {
	ParentEventID      string
	ExternalID         string
	ParentRecurrenceID string
	RecurrenceDate     int64

	StartDate       int64
	EndDate         int64
	RecurrenceRule  *RecurrenceRule
	ExternalCreator string
	Reminders       []Reminder

	Title       string
	Location    string
	Description string
	IsAllDay    bool
	Conference  string
	Attendees   []Attendee

	Color string

	UpdatedAt int64
}

// DraftFromEvent seeds an editable draft with the event's current content.
// A virtual occurrence has no persisted row of its own (its ParentEventID is
// the series parent's), so its draft gets a fresh identity and addresses the
// occurrence via ParentRecurrenceID and RecurrenceDate.
func DraftFromEvent(e *Event) *Draft {
	id := e.ParentEventID
	if e.IsVirtual() {
		id = uuid.NewString()
	}
	return &Draft{
		ParentEventID:      id,
		ExternalID:         e.ExternalID,
		ParentRecurrenceID: e.ParentRecurrenceID,
		RecurrenceDate:     e.RecurrenceDate,
		StartDate:          e.Plain.StartDate,
		EndDate:            e.Plain.EndDate,
		RecurrenceRule:     e.Plain.RecurrenceRule.Clone(),
		ExternalCreator:    e.Plain.ExternalCreator,
		Reminders:          append([]Reminder(nil), e.Plain.Reminders...),
		Title:              e.Content.Title,
		Location:           e.Content.Location,
		Description:        e.Content.Description,
		IsAllDay:           e.Content.IsAllDay,
		Conference:         e.Content.Conference,
		Attendees:          CloneAttendees(e.Content.Attendees),
		Color:              e.Prefs.Color,
		UpdatedAt:          e.Local.UpdatedAt,
	}
}

// ApplyTo copies the draft's content onto an event, leaving identity and
// local metadata alone. Update stamping is the caller's job.
func (d *Draft) ApplyTo(e *Event) {
	e.Plain.StartDate = d.StartDate
	e.Plain.EndDate = d.EndDate
	e.Plain.RecurrenceRule = d.RecurrenceRule.Clone()
	e.Plain.ExternalCreator = d.ExternalCreator
	e.Plain.Reminders = append([]Reminder(nil), d.Reminders...)
	e.Content.Title = d.Title
	e.Content.Location = d.Location
	e.Content.Description = d.Description
	e.Content.IsAllDay = d.IsAllDay
	e.Content.Conference = d.Conference
	e.Content.Attendees = CloneAttendees(d.Attendees)
	e.Prefs.Color = d.Color
}
