// Package storage persists call sessions and message correlations in SQLite.
// Sessions carry an expiry refreshed on every save; expired rows behave as if
// they were never written.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voxgate/voxgate/model"
)

// ErrNotFound is returned when a session or correlation entry does not exist
// or has expired. Callers treat it as a benign duplicate/late event signal.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	address TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS correlations (
	message_id TEXT PRIMARY KEY,
	address TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
`

// Store is the session store and correlation lookup. All session mutation in
// the system goes through here via load-modify-save.
type Store struct {
	db     *sql.DB
	expiry time.Duration
	clock  model.Clock
}

// Open opens (and if necessary creates) the store at the given path. Expired
// rows left over from a previous run are swept on open.
func Open(path string, expiry time.Duration, clock model.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating session store: %w", err)
	}

	s := &Store{db: db, expiry: expiry, clock: clock}
	if err := s.sweep(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) sweep() error {
	now := s.clock.Now().Unix()
	if _, err := s.db.Exec("DELETE FROM sessions WHERE expires_at <= ?", now); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM correlations WHERE expires_at <= ?", now)
	return err
}

// CreateSession persists a new session keyed by its address.
func (s *Store) CreateSession(sess *model.Session) error {
	return s.SaveSession(sess)
}

// SaveSession writes the session and refreshes its expiry.
func (s *Store) SaveSession(sess *model.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	expires := s.clock.Now().Add(s.expiry).Unix()
	_, err = s.db.Exec(
		"INSERT INTO sessions (address, data, expires_at) VALUES (?, ?, ?) ON CONFLICT(address) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at",
		sess.Address, string(data), expires)
	return err
}

// LoadSession returns the session keyed by address, or ErrNotFound when it
// does not exist or has expired.
func (s *Store) LoadSession(address string) (*model.Session, error) {
	var data string
	var expires int64
	err := s.db.QueryRow(
		"SELECT data, expires_at FROM sessions WHERE address = ?", address).Scan(&data, &expires)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if expires <= s.clock.Now().Unix() {
		if _, err := s.db.Exec("DELETE FROM sessions WHERE address = ?", address); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	sess := &model.Session{}
	if err := json.Unmarshal([]byte(data), sess); err != nil {
		return nil, fmt.Errorf("decoding session %q: %w", address, err)
	}
	return sess, nil
}

// ClearSession removes the session. Clearing an absent session is a no-op.
func (s *Store) ClearSession(address string) error {
	_, err := s.db.Exec("DELETE FROM sessions WHERE address = ?", address)
	return err
}

// ListSessions returns all live sessions.
func (s *Store) ListSessions() ([]*model.Session, error) {
	rows, err := s.db.Query(
		"SELECT data FROM sessions WHERE expires_at > ? ORDER BY address", s.clock.Now().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		sess := &model.Session{}
		if err := json.Unmarshal([]byte(data), sess); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SetID registers a correlation from an outbound message id to the owning
// session's address, with the store's expiry.
func (s *Store) SetID(messageID, address string) error {
	expires := s.clock.Now().Add(s.expiry).Unix()
	_, err := s.db.Exec(
		"INSERT INTO correlations (message_id, address, expires_at) VALUES (?, ?, ?) ON CONFLICT(message_id) DO UPDATE SET address = excluded.address, expires_at = excluded.expires_at",
		messageID, address, expires)
	return err
}

// ConsumeID looks up and deletes the correlation entry for a message id in a
// single transaction, so a duplicate delivery of the same event resolves at
// most once.
func (s *Store) ConsumeID(messageID string) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var address string
	var expires int64
	err = tx.QueryRow(
		"SELECT address, expires_at FROM correlations WHERE message_id = ?", messageID).Scan(&address, &expires)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if _, err := tx.Exec("DELETE FROM correlations WHERE message_id = ?", messageID); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	if expires <= s.clock.Now().Unix() {
		return "", ErrNotFound
	}
	return address, nil
}
