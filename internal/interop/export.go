package interop

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"

	"tidecal/internal/domain"
)

// WriteICS serializes a display set (concrete occurrences, no rule
// carriers) as an iCalendar stream. Occurrences of a series share the
// parent's UID and are distinguished by RECURRENCE-ID.
func WriteICS(w io.Writer, events []*domain.Event) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//tidecal//calendar//EN")

	stamp := time.Now().UTC()
	for _, e := range events {
		ev := ical.NewEvent()
		uid := e.ExternalID
		if uid == "" {
			uid = e.ParentEventID
		}
		ev.Props.SetText(ical.PropUID, uid)
		ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
		ev.Props.SetDateTime(ical.PropDateTimeStart, time.UnixMilli(e.Plain.StartDate).UTC())
		ev.Props.SetDateTime(ical.PropDateTimeEnd, time.UnixMilli(e.Plain.EndDate).UTC())
		if e.RecurrenceDate != 0 {
			ev.Props.SetDateTime(ical.PropRecurrenceID, time.UnixMilli(e.RecurrenceDate).UTC())
		}
		if e.Content.Title != "" {
			ev.Props.SetText(ical.PropSummary, e.Content.Title)
		}
		if e.Content.Location != "" {
			ev.Props.SetText(ical.PropLocation, e.Content.Location)
		}
		if e.Content.Description != "" {
			ev.Props.SetText(ical.PropDescription, e.Content.Description)
		}
		ev.Props.SetText(ical.PropSequence, fmt.Sprint(e.Plain.Sequence))
		cal.Children = append(cal.Children, ev.Component)
	}

	return ical.NewEncoder(w).Encode(cal)
}
