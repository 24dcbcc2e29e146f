package domain

// SyncState tells whether an event still has local changes the server has
// not acknowledged.
type SyncState string

const (
	SyncStateDone    SyncState = "done"
	SyncStateWaiting SyncState = "waiting"
)

// EventUpdateType describes which facet of an event changed locally and must
// be re-pushed or re-mailed.
type EventUpdateType string

const (
	UpdateTypeContent     EventUpdateType = "content"
	UpdateTypePreferences EventUpdateType = "preferences"
	UpdateTypeRsvp        EventUpdateType = "rsvp"
)

// UpdateTypeSet is the set of pending update facets on an event.
type UpdateTypeSet map[EventUpdateType]struct{}

func (s UpdateTypeSet) Add(t EventUpdateType) UpdateTypeSet {
	if s == nil {
		s = make(UpdateTypeSet)
	}
	s[t] = struct{}{}
	return s
}

func (s UpdateTypeSet) Has(t EventUpdateType) bool {
	_, ok := s[t]
	return ok
}

func (s UpdateTypeSet) Clone() UpdateTypeSet {
	if s == nil {
		return nil
	}
	out := make(UpdateTypeSet, len(s))
	for t := range s {
		out[t] = struct{}{}
	}
	return out
}

// RecordKind is the explicit discriminant for an event's role in a series.
// It is set at construction time, never inferred from field shape.
type RecordKind int

const (
	// KindSingle is a plain non-recurring event.
	KindSingle RecordKind = iota
	// KindParent carries the recurrence rule for a series.
	KindParent
	// KindChild is a persisted exception instance of a series.
	KindChild
	// KindVirtual is a synthesized occurrence that only lives for the
	// duration of a query; it is never written to storage.
	KindVirtual
)

// Reminder is one alarm offset attached to an event.
type Reminder struct {
	MinutesBefore int `json:"minutesBefore"`
}

// PlainContent holds the unencrypted, shared fields of an event.
type PlainContent struct {
	StartDate       int64
	EndDate         int64
	Sequence        int64
	Deleted         bool
	RecurrenceRule  *RecurrenceRule
	ExternalCreator string
	Reminders       []Reminder
	Updates         UpdateMap
}

// DecryptedContent holds the encrypted-at-rest, shared fields of an event.
type DecryptedContent struct {
	Title       string     `json:"title"`
	Location    string     `json:"location"`
	Description string     `json:"description"`
	IsAllDay    bool       `json:"isAllDay"`
	Conference  string     `json:"conference"`
	Attendees   []Attendee `json:"attendees"`
	Updates     UpdateMap  `json:"lastUpdateKeyMap"`
}

// DecryptedPreferences holds per-user cosmetic settings. They are private to
// each attendee and tracked separately so they never collide with shared
// content fields during a merge.
type DecryptedPreferences struct {
	Color   string    `json:"color"`
	Updates UpdateMap `json:"lastUpdateKeyMap"`
}

// EventEmails is the outbound-mail bookkeeping for one event: addresses
// still to be notified and addresses already notified.
type EventEmails struct {
	Queue []string `json:"queue"`
	Sent  []string `json:"sent"`
}

// LocalMetadata is never pushed to the server; it drives sync and mail
// scheduling on this device.
type LocalMetadata struct {
	SyncState            SyncState
	UpdatedAt            int64
	RequestMailTimestamp int64
	CurrentMailTimestamp int64
	Emails               EventEmails
	UpdateTypes          UpdateTypeSet
}

// Event is one occurrence or series-parent of a calendar item.
//
// Exactly one of the following holds at any time: the event is a series
// parent (RecurrenceRule set, ParentRecurrenceID empty, RecurrenceDate 0),
// a recurrence child (ParentRecurrenceID set), or non-recurring.
type Event struct {
	Kind RecordKind

	// ParentEventID is the stable id of this series member.
	ParentEventID string
	// ExternalID is the interop id (iCal UID).
	ExternalID string
	// ParentRecurrenceID refers to the series parent's ParentEventID.
	ParentRecurrenceID string
	// RecurrenceDate is 0 for non-instances; otherwise the occurrence's
	// unmodified start time, the stable key into the rule's date sequence.
	RecurrenceDate int64

	Plain   PlainContent
	Content DecryptedContent
	Prefs   DecryptedPreferences
	Local   LocalMetadata
}

// IsParent reports whether the event carries a recurrence rule.
func (e *Event) IsParent() bool { return e.Kind == KindParent }

// IsChild reports whether the event is a persisted series exception.
func (e *Event) IsChild() bool { return e.Kind == KindChild }

// IsVirtual reports whether the event is a synthesized occurrence.
func (e *Event) IsVirtual() bool { return e.Kind == KindVirtual }

// Duration returns the event length in millis.
func (e *Event) Duration() int64 { return e.Plain.EndDate - e.Plain.StartDate }

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	out := *e
	out.Plain.Updates = e.Plain.Updates.Clone()
	out.Plain.Reminders = append([]Reminder(nil), e.Plain.Reminders...)
	if e.Plain.RecurrenceRule != nil {
		out.Plain.RecurrenceRule = e.Plain.RecurrenceRule.Clone()
	}
	out.Content.Updates = e.Content.Updates.Clone()
	out.Content.Attendees = CloneAttendees(e.Content.Attendees)
	out.Prefs.Updates = e.Prefs.Updates.Clone()
	out.Local.Emails.Queue = append([]string(nil), e.Local.Emails.Queue...)
	out.Local.Emails.Sent = append([]string(nil), e.Local.Emails.Sent...)
	out.Local.UpdateTypes = e.Local.UpdateTypes.Clone()
	return &out
}

// Owner returns the non-deleted attendee holding owner permission, or nil.
func (e *Event) Owner() *Attendee {
	for i := range e.Content.Attendees {
		a := &e.Content.Attendees[i]
		if !a.Deleted && a.Permission == PermissionOwner {
			return a
		}
	}
	return nil
}
