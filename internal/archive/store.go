// Package archive persists session transcripts to SQLite.
package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/normanking/avatarchat/internal/gate"
)

var (
	ErrInvalidID       = errors.New("invalid session id")
	ErrSessionNotFound = errors.New("session not found")
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SessionRecord is one archived session.
type SessionRecord struct {
	ID         string     `json:"id"`
	AvatarID   string     `json:"avatarId"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	EventCount int        `json:"eventCount"`
}

// Entry is one archived chat event.
type Entry struct {
	Seq        int64          `json:"seq"`
	SessionID  string         `json:"sessionId"`
	Event      gate.ChatEvent `json:"event"`
	ReceivedAt time.Time      `json:"receivedAt"`
}

// Store is a SQLite-backed transcript archive.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens or creates the archive at dbPath. The parent directory is
// created if needed.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps :memory: databases alive and serialises writes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		avatar_id TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		ended_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at DESC);

	CREATE TABLE IF NOT EXISTS chat_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		chat_type TEXT NOT NULL,
		message TEXT NOT NULL,
		event_time TEXT NOT NULL,
		received_at TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chat_events_session ON chat_events(session_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartSession records a new session. Starting a known session again only
// updates its avatar.
func (s *Store) StartSession(id, avatarID string, startedAt time.Time) error {
	if id == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
	INSERT INTO sessions (id, avatar_id, started_at) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET avatar_id = excluded.avatar_id
	`, id, avatarID, startedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

// EndSession stamps the end time of a session.
func (s *Store) EndSession(id string, endedAt time.Time) error {
	if id == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE sessions SET ended_at = ? WHERE id = ?`, endedAt.UTC().Format(timeFormat), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// AppendChat stores one chat event. Events for an unknown session create it.
func (s *Store) AppendChat(sessionID string, event gate.ChatEvent, receivedAt time.Time) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	received := receivedAt.UTC().Format(timeFormat)
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("append chat: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO sessions (id, started_at) VALUES (?, ?)`, sessionID, received); err != nil {
		return fmt.Errorf("append chat: %w", err)
	}
	_, err = tx.Exec(`
	INSERT INTO chat_events (session_id, event_id, chat_type, message, event_time, received_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`, sessionID, event.ID, string(event.ChatType), event.Message, event.Time, received)
	if err != nil {
		return fmt.Errorf("append chat: %w", err)
	}
	return tx.Commit()
}

// ListSessions returns the newest sessions first. limit <= 0 returns all.
func (s *Store) ListSessions(limit int) ([]SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT s.id, s.avatar_id, s.started_at, s.ended_at,
		(SELECT COUNT(*) FROM chat_events c WHERE c.session_id = s.id)
	FROM sessions s
	ORDER BY s.started_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetSession returns one session record.
func (s *Store) GetSession(id string) (SessionRecord, error) {
	if id == "" {
		return SessionRecord{}, ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
	SELECT s.id, s.avatar_id, s.started_at, s.ended_at,
		(SELECT COUNT(*) FROM chat_events c WHERE c.session_id = s.id)
	FROM sessions s WHERE s.id = ?
	`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrSessionNotFound
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (SessionRecord, error) {
	var rec SessionRecord
	var startedAt string
	var endedAt sql.NullString

	if err := row.Scan(&rec.ID, &rec.AvatarID, &startedAt, &endedAt, &rec.EventCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan session: %w", err)
	}

	var err error
	rec.StartedAt, err = time.Parse(timeFormat, startedAt)
	if err != nil {
		return rec, fmt.Errorf("parse started_at: %w", err)
	}
	if endedAt.Valid {
		t, err := time.Parse(timeFormat, endedAt.String)
		if err != nil {
			return rec, fmt.Errorf("parse ended_at: %w", err)
		}
		rec.EndedAt = &t
	}
	return rec, nil
}

// LoadTranscript returns a session's chat events in arrival order.
func (s *Store) LoadTranscript(sessionID string) ([]Entry, error) {
	if _, err := s.GetSession(sessionID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
	SELECT seq, session_id, event_id, chat_type, message, event_time, received_at
	FROM chat_events WHERE session_id = ? ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var chatType, received string
		if err := rows.Scan(&e.Seq, &e.SessionID, &e.Event.ID, &chatType, &e.Event.Message, &e.Event.Time, &received); err != nil {
			return nil, fmt.Errorf("scan chat event: %w", err)
		}
		e.Event.ChatType = gate.ChatType(chatType)
		if e.ReceivedAt, err = time.Parse(timeFormat, received); err != nil {
			return nil, fmt.Errorf("parse received_at: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes ended sessions that started before cutoff, with their
// events, and returns how many sessions were removed.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cutoff.UTC().Format(timeFormat)
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
	DELETE FROM chat_events WHERE session_id IN (
		SELECT id FROM sessions WHERE ended_at IS NOT NULL AND started_at < ?
	)`, c)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}

	res, err := tx.Exec(`DELETE FROM sessions WHERE ended_at IS NOT NULL AND started_at < ?`, c)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return int(n), nil
}
