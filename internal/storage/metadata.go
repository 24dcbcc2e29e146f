package storage

import (
	"database/sql"
	"fmt"

	"tidecal/internal/domain"
)

// GetMetadata returns the calendar metadata row, or nil before the calendar
// is initialized.
func (s *Storage) GetMetadata() (*domain.CalendarMetadata, error) {
	m := &domain.CalendarMetadata{}
	var lastUpdated sql.NullInt64
	err := s.q.QueryRow(
		`SELECT calendar_id, public_key, encrypted_private_key, last_updated, mail_cooldown_until
		 FROM calendar_metadata WHERE id = 1`,
	).Scan(&m.CalendarID, &m.PublicKey, &m.EncryptedPrivateKey, &lastUpdated, &m.MailCooldownUntil)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	if lastUpdated.Valid {
		v := lastUpdated.Int64
		m.LastUpdated = &v
	}
	return m, nil
}

// SaveMetadata writes the single metadata row.
func (s *Storage) SaveMetadata(m *domain.CalendarMetadata) error {
	var lastUpdated any
	if m.LastUpdated != nil {
		lastUpdated = *m.LastUpdated
	}
	_, err := s.q.Exec(
		`INSERT INTO calendar_metadata (id, calendar_id, public_key, encrypted_private_key, last_updated, mail_cooldown_until)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			calendar_id = excluded.calendar_id,
			public_key = excluded.public_key,
			encrypted_private_key = excluded.encrypted_private_key,
			last_updated = excluded.last_updated,
			mail_cooldown_until = excluded.mail_cooldown_until`,
		m.CalendarID, m.PublicKey, m.EncryptedPrivateKey, lastUpdated, m.MailCooldownUntil,
	)
	if err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}
