package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"tidecal/internal/crypto"
	"tidecal/internal/domain"
)

const draftColumns = `parent_event_id, external_id, parent_recurrence_id, recurrence_date,
	start_date, end_date, recurrence_rule, external_creator, reminders,
	session_key, content, prefs, updated_at`

// UpsertDraft writes a draft, sealing its private content. The primary key
// on parent_event_id enforces at most one draft per event.
func (s *Storage) UpsertDraft(d *domain.Draft) error {
	content, err := json.Marshal(draftContent{
		Title:       d.Title,
		Location:    d.Location,
		Description: d.Description,
		IsAllDay:    d.IsAllDay,
		Conference:  d.Conference,
		Attendees:   d.Attendees,
	})
	if err != nil {
		return fmt.Errorf("marshal draft content: %w", err)
	}
	prefs, err := json.Marshal(draftPrefs{Color: d.Color})
	if err != nil {
		return fmt.Errorf("marshal draft prefs: %w", err)
	}
	env, err := s.keys.Seal(content, prefs)
	if err != nil {
		return fmt.Errorf("seal draft content: %w", err)
	}
	rule, err := marshalRule(d.RecurrenceRule)
	if err != nil {
		return err
	}
	reminders, err := json.Marshal(d.Reminders)
	if err != nil {
		return fmt.Errorf("marshal draft reminders: %w", err)
	}

	_, err = s.q.Exec(
		`INSERT INTO drafts (`+draftColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(parent_event_id) DO UPDATE SET
			external_id = excluded.external_id,
			parent_recurrence_id = excluded.parent_recurrence_id,
			recurrence_date = excluded.recurrence_date,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			recurrence_rule = excluded.recurrence_rule,
			external_creator = excluded.external_creator,
			reminders = excluded.reminders,
			session_key = excluded.session_key,
			content = excluded.content,
			prefs = excluded.prefs,
			updated_at = excluded.updated_at`,
		d.ParentEventID, d.ExternalID, d.ParentRecurrenceID, d.RecurrenceDate,
		d.StartDate, d.EndDate, rule, d.ExternalCreator, string(reminders),
		env.SessionKey, env.Content, env.Prefs, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert draft %s: %w", d.ParentEventID, err)
	}
	return nil
}

// GetDraft returns the draft shadowing the given event id, or nil.
func (s *Storage) GetDraft(parentEventID string) (*domain.Draft, error) {
	row := s.q.QueryRow(`SELECT `+draftColumns+` FROM drafts WHERE parent_event_id = ?`, parentEventID)
	d, err := s.scanDraft(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// DeleteDraft removes a draft; deleting an absent draft is not an error.
func (s *Storage) DeleteDraft(parentEventID string) error {
	if _, err := s.q.Exec(`DELETE FROM drafts WHERE parent_event_id = ?`, parentEventID); err != nil {
		return fmt.Errorf("delete draft %s: %w", parentEventID, err)
	}
	return nil
}

// DraftsBetween returns drafts starting inside [start, end).
func (s *Storage) DraftsBetween(start, end int64) ([]*domain.Draft, error) {
	rows, err := s.q.Query(
		`SELECT `+draftColumns+` FROM drafts
		 WHERE start_date >= ? AND start_date < ?
		 ORDER BY start_date`, start, end)
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w", err)
	}
	defer rows.Close()

	var drafts []*domain.Draft
	for rows.Next() {
		d, err := s.scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

// DraftsForSeries returns drafts addressing occurrences of the given
// series, regardless of where the drafts moved those occurrences.
func (s *Storage) DraftsForSeries(parentRecurrenceID string) ([]*domain.Draft, error) {
	rows, err := s.q.Query(
		`SELECT `+draftColumns+` FROM drafts
		 WHERE parent_recurrence_id = ?
		 ORDER BY recurrence_date`, parentRecurrenceID)
	if err != nil {
		return nil, fmt.Errorf("query series drafts: %w", err)
	}
	defer rows.Close()

	var drafts []*domain.Draft
	for rows.Next() {
		d, err := s.scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

func (s *Storage) scanDraft(row rowScanner) (*domain.Draft, error) {
	var (
		d         domain.Draft
		rule      *string
		reminders string
		env       crypto.Envelope
	)
	err := row.Scan(
		&d.ParentEventID, &d.ExternalID, &d.ParentRecurrenceID, &d.RecurrenceDate,
		&d.StartDate, &d.EndDate, &rule, &d.ExternalCreator, &reminders,
		&env.SessionKey, &env.Content, &env.Prefs, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if d.RecurrenceRule, err = unmarshalRule(rule); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(reminders), &d.Reminders); err != nil {
		return nil, fmt.Errorf("unmarshal draft reminders: %w", err)
	}

	rawContent, rawPrefs, err := s.keys.Open(&env)
	if err != nil {
		return nil, fmt.Errorf("draft %s: %w", d.ParentEventID, err)
	}
	var content draftContent
	if err := json.Unmarshal(rawContent, &content); err != nil {
		return nil, fmt.Errorf("unmarshal draft content: %w", err)
	}
	var prefs draftPrefs
	if err := json.Unmarshal(rawPrefs, &prefs); err != nil {
		return nil, fmt.Errorf("unmarshal draft prefs: %w", err)
	}
	d.Title = content.Title
	d.Location = content.Location
	d.Description = content.Description
	d.IsAllDay = content.IsAllDay
	d.Conference = content.Conference
	d.Attendees = content.Attendees
	d.Color = prefs.Color
	return &d, nil
}
