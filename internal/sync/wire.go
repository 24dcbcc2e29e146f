// Package sync drives the checkpointed push/pull cycle against the remote
// authority. The server is a dumb append/checkpoint store: all conflict
// resolution happens locally in the merge engine.
package sync

import (
	"encoding/json"
	"fmt"
	"sort"

	"tidecal/internal/crypto"
	"tidecal/internal/domain"
)

// ResponseState is part of the wire contract.
type ResponseState string

const (
	StateSynced   ResponseState = "synced"
	StateConflict ResponseState = "conflict"
)

// WireEvent is the server representation of one event: plain fields in the
// clear, private content as sealed blobs the server cannot read.
type WireEvent struct {
	ParentEventID      string `json:"parentEventID"`
	ExternalID         string `json:"externalID"`
	ParentRecurrenceID string `json:"parentRecurrenceID,omitempty"`
	RecurrenceDate     int64  `json:"recurrenceDate"`

	StartDate        int64                  `json:"startDate"`
	EndDate          int64                  `json:"endDate"`
	Sequence         int64                  `json:"sequence"`
	Deleted          bool                   `json:"deleted"`
	RecurrenceRule   *domain.RecurrenceRule `json:"recurrenceRule,omitempty"`
	ExternalCreator  string                 `json:"externalCreator,omitempty"`
	Reminders        []domain.Reminder      `json:"reminders,omitempty"`
	LastUpdateKeyMap domain.UpdateMap       `json:"lastUpdateKeyMap,omitempty"`

	SessionKey           []byte `json:"sessionKey"`
	EncryptedContent     []byte `json:"encryptedContent"`
	EncryptedPreferences []byte `json:"encryptedPreferences"`

	UpdatedAt   int64    `json:"updatedAt"`
	UpdateTypes []string `json:"updateTypes,omitempty"`
}

// Request is one push-then-pull exchange.
type Request struct {
	CalendarID string      `json:"calendarID"`
	Checkpoint *int64      `json:"checkpoint"`
	Events     []WireEvent `json:"events"`
}

// Response carries the new checkpoint and the server's deltas since the
// presented one. A nil checkpoint with a synced state is the legitimate
// terminal answer for an empty calendar.
type Response struct {
	Checkpoint *int64        `json:"checkpoint"`
	Events     []WireEvent   `json:"events"`
	State      ResponseState `json:"state"`
}

// encodeEvent seals an event for the wire.
func encodeEvent(keys *crypto.Keyring, e *domain.Event) (WireEvent, error) {
	content, err := json.Marshal(e.Content)
	if err != nil {
		return WireEvent{}, fmt.Errorf("marshal content: %w", err)
	}
	prefs, err := json.Marshal(e.Prefs)
	if err != nil {
		return WireEvent{}, fmt.Errorf("marshal prefs: %w", err)
	}
	env, err := keys.Seal(content, prefs)
	if err != nil {
		return WireEvent{}, fmt.Errorf("seal %s: %w", e.ParentEventID, err)
	}

	types := make([]string, 0, len(e.Local.UpdateTypes))
	for t := range e.Local.UpdateTypes {
		types = append(types, string(t))
	}
	sort.Strings(types)

	return WireEvent{
		ParentEventID:        e.ParentEventID,
		ExternalID:           e.ExternalID,
		ParentRecurrenceID:   e.ParentRecurrenceID,
		RecurrenceDate:       e.RecurrenceDate,
		StartDate:            e.Plain.StartDate,
		EndDate:              e.Plain.EndDate,
		Sequence:             e.Plain.Sequence,
		Deleted:              e.Plain.Deleted,
		RecurrenceRule:       e.Plain.RecurrenceRule,
		ExternalCreator:      e.Plain.ExternalCreator,
		Reminders:            e.Plain.Reminders,
		LastUpdateKeyMap:     e.Plain.Updates,
		SessionKey:           env.SessionKey,
		EncryptedContent:     env.Content,
		EncryptedPreferences: env.Prefs,
		UpdatedAt:            e.Local.UpdatedAt,
		UpdateTypes:          types,
	}, nil
}

// decodeEvent opens a wire event into the canonical local form. The record
// kind discriminant is assigned here, at the construction boundary.
func decodeEvent(keys *crypto.Keyring, w WireEvent) (*domain.Event, error) {
	e := &domain.Event{
		ParentEventID:      w.ParentEventID,
		ExternalID:         w.ExternalID,
		ParentRecurrenceID: w.ParentRecurrenceID,
		RecurrenceDate:     w.RecurrenceDate,
		Plain: domain.PlainContent{
			StartDate:       w.StartDate,
			EndDate:         w.EndDate,
			Sequence:        w.Sequence,
			Deleted:         w.Deleted,
			RecurrenceRule:  w.RecurrenceRule,
			ExternalCreator: w.ExternalCreator,
			Reminders:       w.Reminders,
			Updates:         w.LastUpdateKeyMap,
		},
		Local: domain.LocalMetadata{
			SyncState: domain.SyncStateDone,
			UpdatedAt: w.UpdatedAt,
		},
	}
	switch {
	case w.RecurrenceRule != nil:
		e.Kind = domain.KindParent
	case w.ParentRecurrenceID != "":
		e.Kind = domain.KindChild
	default:
		e.Kind = domain.KindSingle
	}

	env := &crypto.Envelope{
		SessionKey: w.SessionKey,
		Content:    w.EncryptedContent,
		Prefs:      w.EncryptedPreferences,
	}
	content, prefs, err := keys.Open(env)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", w.ParentEventID, err)
	}
	if err := json.Unmarshal(content, &e.Content); err != nil {
		return nil, fmt.Errorf("unmarshal content %s: %w", w.ParentEventID, err)
	}
	if err := json.Unmarshal(prefs, &e.Prefs); err != nil {
		return nil, fmt.Errorf("unmarshal prefs %s: %w", w.ParentEventID, err)
	}
	return e, nil
}
