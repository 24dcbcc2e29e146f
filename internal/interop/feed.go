// Package interop bridges external calendar sources into raw event records
// and exports window views as iCalendar streams. It never resolves
// conflicts itself; produced records go through the normal import path.
package interop

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"tidecal/internal/domain"
)

// Subscription reads events from a remote CalDAV collection the user
// subscribed to.
type Subscription struct {
	baseURL  string
	username string
	password string
	path     string
	client   *caldav.Client
}

func NewSubscription(baseURL, username, password, path string) *Subscription {
	return &Subscription{baseURL: baseURL, username: username, password: password, path: path}
}

// IsConfigured returns true if the subscription has an endpoint.
func (s *Subscription) IsConfigured() bool {
	return s.baseURL != "" && s.path != ""
}

func (s *Subscription) connect() (*caldav.Client, error) {
	if s.client != nil {
		return s.client, nil
	}
	httpClient := &http.Client{
		Transport: &basicAuthTransport{username: s.username, password: s.password},
		Timeout:   30 * time.Second,
	}
	client, err := caldav.NewClient(httpClient, s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to subscription: %w", err)
	}
	s.client = client
	return client, nil
}

type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.username != "" {
		req.SetBasicAuth(t.username, t.password)
	}
	return http.DefaultTransport.RoundTrip(req)
}

// FetchEvents returns the subscription's events inside [from, to) as raw
// event records. Records carry fresh local ids; importers match on
// ExternalID.
func (s *Subscription) FetchEvents(ctx context.Context, from, to time.Time) ([]*domain.Event, error) {
	client, err := s.connect()
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name:  "VEVENT",
					Start: from,
					End:   to,
				},
			},
		},
	}
	objects, err := client.QueryCalendar(ctx, s.path, query)
	if err != nil {
		return nil, fmt.Errorf("query subscription: %w", err)
	}

	var events []*domain.Event
	for i := range objects {
		for _, comp := range objects[i].Data.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			e, err := parseComponent(comp)
			if err != nil {
				// One malformed feed entry must not sink the rest.
				continue
			}
			events = append(events, e)
		}
	}
	return events, nil
}

func parseComponent(comp *ical.Component) (*domain.Event, error) {
	e := &domain.Event{
		Kind:          domain.KindSingle,
		ParentEventID: uuid.NewString(),
		Local:         domain.LocalMetadata{SyncState: domain.SyncStateDone},
	}

	if prop := comp.Props.Get(ical.PropUID); prop != nil {
		e.ExternalID = prop.Value
	}
	if e.ExternalID == "" {
		return nil, fmt.Errorf("feed event without UID")
	}
	if prop := comp.Props.Get(ical.PropSummary); prop != nil {
		e.Content.Title = prop.Value
	}
	if prop := comp.Props.Get(ical.PropLocation); prop != nil {
		e.Content.Location = prop.Value
	}
	if prop := comp.Props.Get(ical.PropDescription); prop != nil {
		e.Content.Description = prop.Value
	}
	if prop := comp.Props.Get(ical.PropOrganizer); prop != nil {
		e.Plain.ExternalCreator = prop.Value
	}

	start, err := compDateTime(comp, ical.PropDateTimeStart)
	if err != nil {
		return nil, err
	}
	e.Plain.StartDate = start.UnixMilli()
	if end, err := compDateTime(comp, ical.PropDateTimeEnd); err == nil {
		e.Plain.EndDate = end.UnixMilli()
	} else {
		e.Plain.EndDate = e.Plain.StartDate
	}

	if prop := comp.Props.Get(ical.PropRecurrenceRule); prop != nil {
		rule, err := parseRRule(prop.Value, start)
		if err != nil {
			return nil, err
		}
		e.Plain.RecurrenceRule = rule
		e.Kind = domain.KindParent
	}
	return e, nil
}

func compDateTime(comp *ical.Component, name string) (time.Time, error) {
	prop := comp.Props.Get(name)
	if prop == nil {
		return time.Time{}, fmt.Errorf("missing %s", name)
	}
	return prop.DateTime(time.UTC)
}

// parseRRule maps an RRULE string onto the engine's rule model.
func parseRRule(raw string, start time.Time) (*domain.RecurrenceRule, error) {
	rr, err := rrule.StrToRRule(raw)
	if err != nil {
		return nil, fmt.Errorf("parse RRULE %q: %w", raw, err)
	}
	opt := rr.OrigOptions

	rule := &domain.RecurrenceRule{
		Interval:  opt.Interval,
		Count:     opt.Count,
		StartDate: start.UnixMilli(),
	}
	switch opt.Freq {
	case rrule.DAILY:
		rule.Frequency = domain.FreqDaily
	case rrule.WEEKLY:
		rule.Frequency = domain.FreqWeekly
	case rrule.MONTHLY:
		rule.Frequency = domain.FreqMonthly
	case rrule.YEARLY:
		rule.Frequency = domain.FreqYearly
	default:
		return nil, fmt.Errorf("unsupported RRULE frequency in %q", raw)
	}
	if !opt.Until.IsZero() {
		rule.Until = opt.Until.UnixMilli()
	}
	for _, wd := range opt.Byweekday {
		rule.ByDays = append(rule.ByDays, weekdayFromRRule(wd))
	}
	return rule, nil
}

func weekdayFromRRule(wd rrule.Weekday) time.Weekday {
	switch wd.Day() {
	case rrule.MO.Day():
		return time.Monday
	case rrule.TU.Day():
		return time.Tuesday
	case rrule.WE.Day():
		return time.Wednesday
	case rrule.TH.Day():
		return time.Thursday
	case rrule.FR.Day():
		return time.Friday
	case rrule.SA.Day():
		return time.Saturday
	default:
		return time.Sunday
	}
}
