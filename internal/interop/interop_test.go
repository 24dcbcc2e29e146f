package interop

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidecal/internal/domain"
)

func decodeCalendar(t *testing.T, raw string) *ical.Calendar {
	t.Helper()
	cal, err := ical.NewDecoder(strings.NewReader(raw)).Decode()
	require.NoError(t, err)
	return cal
}

func eventComponent(t *testing.T, cal *ical.Calendar) *ical.Component {
	t.Helper()
	for _, comp := range cal.Children {
		if comp.Name == ical.CompEvent {
			return comp
		}
	}
	t.Fatal("no VEVENT in calendar")
	return nil
}

const feedEvent = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//feed//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:uid-123\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240115T090000Z\r\n" +
	"DTEND:20240115T100000Z\r\n" +
	"SUMMARY:Team offsite\r\n" +
	"LOCATION:Lisbon\r\n" +
	"DESCRIPTION:Bring laptops\r\n" +
	"ORGANIZER:mailto:boss@example.com\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

const feedRecurringEvent = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//feed//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:uid-456\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240116T090000Z\r\n" +
	"DTEND:20240116T093000Z\r\n" +
	"SUMMARY:Weekly sync\r\n" +
	"RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=TU;COUNT=8\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseComponentBasicFields(t *testing.T) {
	comp := eventComponent(t, decodeCalendar(t, feedEvent))

	e, err := parseComponent(comp)
	require.NoError(t, err)

	assert.Equal(t, domain.KindSingle, e.Kind)
	assert.Equal(t, "uid-123", e.ExternalID)
	assert.NotEmpty(t, e.ParentEventID)
	assert.Equal(t, "Team offsite", e.Content.Title)
	assert.Equal(t, "Lisbon", e.Content.Location)
	assert.Equal(t, "Bring laptops", e.Content.Description)
	assert.Equal(t, "mailto:boss@example.com", e.Plain.ExternalCreator)

	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, start, e.Plain.StartDate)
	assert.Equal(t, start+3600_000, e.Plain.EndDate)
	assert.Equal(t, domain.SyncStateDone, e.Local.SyncState)
}

func TestParseComponentRecurring(t *testing.T) {
	comp := eventComponent(t, decodeCalendar(t, feedRecurringEvent))

	e, err := parseComponent(comp)
	require.NoError(t, err)

	assert.Equal(t, domain.KindParent, e.Kind)
	rule := e.Plain.RecurrenceRule
	require.NotNil(t, rule)
	assert.Equal(t, domain.FreqWeekly, rule.Frequency)
	assert.Equal(t, 2, rule.Interval)
	assert.Equal(t, 8, rule.Count)
	assert.Equal(t, []time.Weekday{time.Tuesday}, rule.ByDays)
	assert.Equal(t, e.Plain.StartDate, rule.StartDate)
}

func TestParseComponentRequiresUID(t *testing.T) {
	raw := strings.Replace(feedEvent, "UID:uid-123\r\n", "", 1)
	comp := eventComponent(t, decodeCalendar(t, raw))

	_, err := parseComponent(comp)
	assert.Error(t, err)
}

func TestWriteICSRoundTrip(t *testing.T) {
	start := time.Date(2024, 2, 1, 14, 0, 0, 0, time.UTC).UnixMilli()
	events := []*domain.Event{
		{
			Kind:          domain.KindSingle,
			ParentEventID: "ev-1",
			ExternalID:    "uid-ev-1",
			Plain:         domain.PlainContent{StartDate: start, EndDate: start + 3600_000, Sequence: 3},
			Content:       domain.DecryptedContent{Title: "Review", Location: "Room 2"},
		},
		{
			Kind:               domain.KindVirtual,
			ParentEventID:      "series-1",
			ParentRecurrenceID: "series-1",
			RecurrenceDate:     start + dayRecur,
			Plain:              domain.PlainContent{StartDate: start + dayRecur, EndDate: start + dayRecur + 1800_000},
			Content:            domain.DecryptedContent{Title: "Series instance"},
		},
	}

	var buf strings.Builder
	require.NoError(t, WriteICS(&buf, events))

	cal := decodeCalendar(t, buf.String())
	var parsed []*ical.Component
	for _, comp := range cal.Children {
		if comp.Name == ical.CompEvent {
			parsed = append(parsed, comp)
		}
	}
	require.Len(t, parsed, 2)

	assert.Equal(t, "uid-ev-1", parsed[0].Props.Get(ical.PropUID).Value)
	assert.Equal(t, "Review", parsed[0].Props.Get(ical.PropSummary).Value)
	assert.Equal(t, "3", parsed[0].Props.Get(ical.PropSequence).Value)
	assert.Nil(t, parsed[0].Props.Get(ical.PropRecurrenceID))

	// Instances share the series id and are keyed by RECURRENCE-ID.
	assert.Equal(t, "series-1", parsed[1].Props.Get(ical.PropUID).Value)
	require.NotNil(t, parsed[1].Props.Get(ical.PropRecurrenceID))
}

const dayRecur = int64(24 * 60 * 60 * 1000)

func TestSubscriptionIsConfigured(t *testing.T) {
	assert.False(t, NewSubscription("", "", "", "").IsConfigured())
	assert.False(t, NewSubscription("https://cal.example.com", "", "", "").IsConfigured())
	assert.True(t, NewSubscription("https://cal.example.com", "u", "p", "/cal/main/").IsConfigured())
}
