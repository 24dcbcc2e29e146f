package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"tidecal/internal/crypto"

	_ "github.com/mattn/go-sqlite3"
)

// queryer is satisfied by both *sql.DB and *sql.Tx so every Storage method
// works inside or outside a transaction.
type queryer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Storage is the embedded store for events, drafts and calendar metadata.
// Private event content is sealed with the keyring before it touches disk.
type Storage struct {
	db   *sql.DB
	q    queryer
	keys *crypto.Keyring
	log  *logrus.Logger
}

func New(dbPath string, keys *crypto.Keyring, log *logrus.Logger) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db, q: db, keys: keys, log: log}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.WithField("path", dbPath).Info("storage initialized")
	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// WithTx runs fn against a transaction-scoped view of the storage. Merge,
// recurrence fan-out and draft promotion are read-modify-write sequences
// and must run through here: a concurrent writer racing on the same
// parent_event_id would silently drop a conflict marker.
func (s *Storage) WithTx(fn func(tx *Storage) error) error {
	if _, isTx := s.q.(*sql.Tx); isTx {
		// Already inside a transaction.
		return fn(s)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txs := &Storage{db: s.db, q: tx, keys: s.keys, log: s.log}
	if err := fn(txs); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.WithError(rbErr).Warn("rollback failed")
		}
		return err
	}
	return tx.Commit()
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			parent_event_id TEXT PRIMARY KEY,
			external_id TEXT NOT NULL DEFAULT '',
			parent_recurrence_id TEXT NOT NULL DEFAULT '',
			recurrence_date INTEGER NOT NULL DEFAULT 0,
			kind INTEGER NOT NULL DEFAULT 0,
			start_date INTEGER NOT NULL,
			end_date INTEGER NOT NULL,
			sequence INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			recurrence_rule TEXT,
			external_creator TEXT NOT NULL DEFAULT '',
			reminders TEXT NOT NULL DEFAULT '[]',
			plain_updates TEXT NOT NULL DEFAULT '{}',
			session_key BLOB NOT NULL,
			content BLOB NOT NULL,
			prefs BLOB NOT NULL,
			sync_state TEXT NOT NULL DEFAULT 'done',
			updated_at INTEGER NOT NULL DEFAULT 0,
			request_mail_ts INTEGER NOT NULL DEFAULT 0,
			current_mail_ts INTEGER NOT NULL DEFAULT 0,
			emails TEXT NOT NULL DEFAULT '{"queue":[],"sent":[]}',
			update_types TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_date)`,
		`CREATE INDEX IF NOT EXISTS idx_events_end ON events(end_date)`,
		`CREATE INDEX IF NOT EXISTS idx_events_parent ON events(parent_recurrence_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_external ON events(external_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_sync ON events(sync_state)`,
		`CREATE TABLE IF NOT EXISTS drafts (
			parent_event_id TEXT PRIMARY KEY,
			external_id TEXT NOT NULL DEFAULT '',
			parent_recurrence_id TEXT NOT NULL DEFAULT '',
			recurrence_date INTEGER NOT NULL DEFAULT 0,
			start_date INTEGER NOT NULL,
			end_date INTEGER NOT NULL,
			recurrence_rule TEXT,
			external_creator TEXT NOT NULL DEFAULT '',
			reminders TEXT NOT NULL DEFAULT '[]',
			session_key BLOB NOT NULL,
			content BLOB NOT NULL,
			prefs BLOB NOT NULL,
			updated_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_drafts_start ON drafts(start_date)`,
		`CREATE INDEX IF NOT EXISTS idx_drafts_end ON drafts(end_date)`,
		`CREATE INDEX IF NOT EXISTS idx_drafts_parent ON drafts(parent_recurrence_id)`,
		`CREATE TABLE IF NOT EXISTS calendar_metadata (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			calendar_id TEXT NOT NULL,
			public_key BLOB NOT NULL,
			encrypted_private_key BLOB,
			last_updated INTEGER,
			mail_cooldown_until INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for _, m := range migrations {
		if _, err := s.q.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}
