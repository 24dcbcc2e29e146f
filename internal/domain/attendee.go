package domain

// AttendeeKind distinguishes how an attendee is addressed.
type AttendeeKind string

const (
	// AttendeeInternal has a calendar on this service.
	AttendeeInternal AttendeeKind = "internal"
	// AttendeeExternal is known only by email address.
	AttendeeExternal AttendeeKind = "external"
	// AttendeeUnresolved is pending a directory lookup.
	AttendeeUnresolved AttendeeKind = "unresolved"
)

// AttendeePermission is part of the wire contract.
type AttendeePermission string

const (
	PermissionOwner AttendeePermission = "owner"
	PermissionRead  AttendeePermission = "read"
)

// AttendeeStatus is the RSVP answer, part of the wire contract.
type AttendeeStatus string

const (
	StatusYes     AttendeeStatus = "yes"
	StatusNo      AttendeeStatus = "no"
	StatusMaybe   AttendeeStatus = "maybe"
	StatusPending AttendeeStatus = "pending"
)

// Attendee is one participant entry on an event. Removed attendees stay in
// the list as tombstones (Deleted=true) so historical ordering is stable.
type Attendee struct {
	ID         string             `json:"id"`
	Kind       AttendeeKind       `json:"kind"`
	CalendarID string             `json:"calendarID,omitempty"`
	Email      string             `json:"email,omitempty"`
	Permission AttendeePermission `json:"permission"`
	Status     AttendeeStatus     `json:"attendeeStatus"`
	Optional   bool               `json:"optional"`
	Deleted    bool               `json:"deleted"`
	UpdatedAt  int64              `json:"updatedAt"`
	// IsNew marks a pending invite/uninvite mail for this attendee.
	IsNew bool `json:"isNew"`
}

// StatusOnlyDiff reports whether b differs from a only in RSVP status.
func (a Attendee) StatusOnlyDiff(b Attendee) bool {
	if a.Status == b.Status {
		return false
	}
	a.Status, a.UpdatedAt, a.IsNew = b.Status, b.UpdatedAt, b.IsNew
	return a == b
}

// CloneAttendees returns a copy of the attendee slice.
func CloneAttendees(in []Attendee) []Attendee {
	if in == nil {
		return nil
	}
	return append([]Attendee(nil), in...)
}
