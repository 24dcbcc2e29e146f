package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"tidecal/internal/crypto"
	"tidecal/internal/domain"
)

const eventColumns = `parent_event_id, external_id, parent_recurrence_id, recurrence_date, kind,
	start_date, end_date, sequence, deleted, recurrence_rule, external_creator, reminders,
	plain_updates, session_key, content, prefs, sync_state, updated_at,
	request_mail_ts, current_mail_ts, emails, update_types`

// UpsertEvent writes an event, sealing its private content. Virtual
// instances are a query-time artifact and must never reach storage.
func (s *Storage) UpsertEvent(e *domain.Event) error {
	if e.Kind == domain.KindVirtual {
		return fmt.Errorf("upsert event %s: virtual instances are not persisted", e.ParentEventID)
	}

	env, err := sealEventContent(s.keys, e)
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", e.ParentEventID, err)
	}
	rule, err := marshalRule(e.Plain.RecurrenceRule)
	if err != nil {
		return err
	}
	reminders, err := json.Marshal(e.Plain.Reminders)
	if err != nil {
		return fmt.Errorf("marshal reminders: %w", err)
	}
	plainUpdates, err := json.Marshal(e.Plain.Updates)
	if err != nil {
		return fmt.Errorf("marshal plain updates: %w", err)
	}
	emails, err := json.Marshal(e.Local.Emails)
	if err != nil {
		return fmt.Errorf("marshal emails: %w", err)
	}
	updateTypes, err := marshalUpdateTypes(e.Local.UpdateTypes)
	if err != nil {
		return err
	}

	_, err = s.q.Exec(
		`INSERT INTO events (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(parent_event_id) DO UPDATE SET
			external_id = excluded.external_id,
			parent_recurrence_id = excluded.parent_recurrence_id,
			recurrence_date = excluded.recurrence_date,
			kind = excluded.kind,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			sequence = excluded.sequence,
			deleted = excluded.deleted,
			recurrence_rule = excluded.recurrence_rule,
			external_creator = excluded.external_creator,
			reminders = excluded.reminders,
			plain_updates = excluded.plain_updates,
			session_key = excluded.session_key,
			content = excluded.content,
			prefs = excluded.prefs,
			sync_state = excluded.sync_state,
			updated_at = excluded.updated_at,
			request_mail_ts = excluded.request_mail_ts,
			current_mail_ts = excluded.current_mail_ts,
			emails = excluded.emails,
			update_types = excluded.update_types`,
		e.ParentEventID, e.ExternalID, e.ParentRecurrenceID, e.RecurrenceDate, int(e.Kind),
		e.Plain.StartDate, e.Plain.EndDate, e.Plain.Sequence, e.Plain.Deleted, rule,
		e.Plain.ExternalCreator, string(reminders), string(plainUpdates),
		env.SessionKey, env.Content, env.Prefs,
		string(e.Local.SyncState), e.Local.UpdatedAt,
		e.Local.RequestMailTimestamp, e.Local.CurrentMailTimestamp,
		string(emails), updateTypes,
	)
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", e.ParentEventID, err)
	}
	return nil
}

// GetEvent returns the event with the given id, or nil if absent.
func (s *Storage) GetEvent(parentEventID string) (*domain.Event, error) {
	row := s.q.QueryRow(`SELECT `+eventColumns+` FROM events WHERE parent_event_id = ?`, parentEventID)
	e, err := s.scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// GetEventByExternalID returns the event with the given interop id, or nil.
func (s *Storage) GetEventByExternalID(externalID string) (*domain.Event, error) {
	row := s.q.QueryRow(`SELECT `+eventColumns+` FROM events WHERE external_id = ?`, externalID)
	e, err := s.scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// EventsBetween returns non-deleted events starting inside [start, end).
func (s *Storage) EventsBetween(start, end int64) ([]*domain.Event, error) {
	return s.queryEvents(
		`SELECT `+eventColumns+` FROM events
		 WHERE deleted = 0 AND start_date >= ? AND start_date < ?
		 ORDER BY start_date`, start, end)
}

// EventsCovering returns non-deleted events overlapping [start, end), which
// picks up multi-day events that started before the window.
func (s *Storage) EventsCovering(start, end int64) ([]*domain.Event, error) {
	return s.queryEvents(
		`SELECT `+eventColumns+` FROM events
		 WHERE deleted = 0 AND start_date < ? AND end_date > ?
		 ORDER BY start_date`, end, start)
}

// RecurringParents returns non-deleted series parents anchored before end.
func (s *Storage) RecurringParents(end int64) ([]*domain.Event, error) {
	return s.queryEvents(
		`SELECT `+eventColumns+` FROM events
		 WHERE deleted = 0 AND kind = ? AND start_date < ?
		 ORDER BY start_date`, int(domain.KindParent), end)
}

// ChildrenOf returns every persisted instance of a series, tombstones
// included; callers filter on Deleted where it matters.
func (s *Storage) ChildrenOf(parentEventID string) ([]*domain.Event, error) {
	return s.queryEvents(
		`SELECT `+eventColumns+` FROM events
		 WHERE parent_recurrence_id = ?
		 ORDER BY recurrence_date`, parentEventID)
}

// ChildAt returns the persisted instance of a series at one occurrence
// date, or nil.
func (s *Storage) ChildAt(parentEventID string, recurrenceDate int64) (*domain.Event, error) {
	row := s.q.QueryRow(
		`SELECT `+eventColumns+` FROM events
		 WHERE parent_recurrence_id = ? AND recurrence_date = ?`,
		parentEventID, recurrenceDate)
	e, err := s.scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// UnsyncedEvents returns events that must go out on the next push: anything
// still waiting or touched after the checkpoint. Soft-deleted events are
// included so tombstones propagate.
func (s *Storage) UnsyncedEvents(checkpoint *int64) ([]*domain.Event, error) {
	cp := int64(-1)
	if checkpoint != nil {
		cp = *checkpoint
	}
	return s.queryEvents(
		`SELECT `+eventColumns+` FROM events
		 WHERE sync_state = ? OR updated_at > ?
		 ORDER BY updated_at`, string(domain.SyncStateWaiting), cp)
}

// PendingMailEvents returns events whose mail request is ahead of the last
// mail actually sent.
func (s *Storage) PendingMailEvents() ([]*domain.Event, error) {
	return s.queryEvents(
		`SELECT `+eventColumns+` FROM events
		 WHERE request_mail_ts > current_mail_ts
		 ORDER BY request_mail_ts`)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Storage) queryEvents(query string, args ...any) ([]*domain.Event, error) {
	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		e, err := s.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Storage) scanEvent(row rowScanner) (*domain.Event, error) {
	var (
		e            domain.Event
		kind         int
		rule         *string
		reminders    string
		plainUpdates string
		env          crypto.Envelope
		syncState    string
		emails       string
		updateTypes  string
	)
	err := row.Scan(
		&e.ParentEventID, &e.ExternalID, &e.ParentRecurrenceID, &e.RecurrenceDate, &kind,
		&e.Plain.StartDate, &e.Plain.EndDate, &e.Plain.Sequence, &e.Plain.Deleted, &rule,
		&e.Plain.ExternalCreator, &reminders, &plainUpdates,
		&env.SessionKey, &env.Content, &env.Prefs,
		&syncState, &e.Local.UpdatedAt,
		&e.Local.RequestMailTimestamp, &e.Local.CurrentMailTimestamp,
		&emails, &updateTypes,
	)
	if err != nil {
		return nil, err
	}

	e.Kind = domain.RecordKind(kind)
	e.Local.SyncState = domain.SyncState(syncState)
	if e.Plain.RecurrenceRule, err = unmarshalRule(rule); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(reminders), &e.Plain.Reminders); err != nil {
		return nil, fmt.Errorf("unmarshal reminders: %w", err)
	}
	if err := json.Unmarshal([]byte(plainUpdates), &e.Plain.Updates); err != nil {
		return nil, fmt.Errorf("unmarshal plain updates: %w", err)
	}
	if err := json.Unmarshal([]byte(emails), &e.Local.Emails); err != nil {
		return nil, fmt.Errorf("unmarshal emails: %w", err)
	}
	if e.Local.UpdateTypes, err = unmarshalUpdateTypes(updateTypes); err != nil {
		return nil, err
	}
	if err := openEventContent(s.keys, &env, &e); err != nil {
		return nil, fmt.Errorf("event %s: %w", e.ParentEventID, err)
	}
	return &e, nil
}
