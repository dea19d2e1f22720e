package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("store: not found")

// DefaultBusyTimeout is used when Open is given a non-positive timeout.
const DefaultBusyTimeout = 5 * time.Second

// Store represents the SQLite session store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single connection: all access is serialized.
	db.SetMaxOpenConns(1)

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// StartSession inserts a new active session.
func (s *Store) StartSession(sess *Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, started_ns, source, context)
		VALUES (?, ?, ?, ?)`,
		sess.ID, sess.StartedAt.UnixNano(), sess.Source, sess.Context,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// RecordCommit stores a committed symbol and bumps the session's commit count.
func (s *Store) RecordCommit(c *Commit) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO commits (session_id, ts_ns, area, symbol, row_idx, col_idx, item_idx)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.SessionID, c.Timestamp.UnixNano(), c.Area, c.Symbol, c.Row, c.Col, c.Index,
	)
	if err != nil {
		return 0, fmt.Errorf("insert commit: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	if _, err := tx.Exec(`UPDATE sessions SET commits = commits + 1 WHERE id = ?`, c.SessionID); err != nil {
		return 0, fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return id, nil
}

// EndSession closes a session with its final counters and text.
func (s *Store) EndSession(id string, sum *SessionSummary) error {
	result, err := s.db.Exec(`
		UPDATE sessions
		SET ended_ns = ?, blinks = ?, inserts = ?, deletes = ?, final_text = ?, chars_per_minute = ?
		WHERE id = ?`,
		sum.EndedAt.UnixNano(), sum.Blinks, sum.Inserts, sum.Deletes, sum.Text, sum.CharsPerMinute, id,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("end session %s: %w", id, ErrNotFound)
	}
	return nil
}

const sessionColumns = `id, started_ns, ended_ns, source, context, blinks, inserts, deletes, commits, final_text, chars_per_minute`

// GetSession retrieves a session by ID.
func (s *Store) GetSession(id string) (*Session, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return &sessions[0], nil
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions ORDER BY started_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	return scanSessions(rows)
}

// SessionCommits returns a session's commits in order.
func (s *Store) SessionCommits(sessionID string) ([]Commit, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, ts_ns, area, symbol, row_idx, col_idx, item_idx
		FROM commits WHERE session_id = ? ORDER BY ts_ns ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	defer rows.Close()

	var commits []Commit
	for rows.Next() {
		var c Commit
		var ts int64
		if err := rows.Scan(&c.ID, &c.SessionID, &ts, &c.Area, &c.Symbol, &c.Row, &c.Col, &c.Index); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		c.Timestamp = time.Unix(0, ts)
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

// DeleteSessionsBefore removes sessions started before t, with their commits.
func (s *Store) DeleteSessionsBefore(t time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM sessions WHERE started_ns < ?`, t.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	return result.RowsAffected()
}

// UpsertWords stores word frequencies, replacing existing values.
func (s *Store) UpsertWords(words map[string]int, now time.Time) error {
	if len(words) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO vocabulary (word, frequency, updated_ns) VALUES (?, ?, ?)
		ON CONFLICT(word) DO UPDATE SET frequency = excluded.frequency, updated_ns = excluded.updated_ns`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for w, f := range words {
		if _, err := stmt.Exec(w, f, now.UnixNano()); err != nil {
			return fmt.Errorf("upsert word %q: %w", w, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LearnedWords returns up to limit words, most frequent first. A
// non-positive limit returns all of them.
func (s *Store) LearnedWords(limit int) ([]Word, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT word, frequency, updated_ns FROM vocabulary
		ORDER BY frequency DESC, word ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query vocabulary: %w", err)
	}
	defer rows.Close()

	var words []Word
	for rows.Next() {
		var w Word
		var updated int64
		if err := rows.Scan(&w.Word, &w.Frequency, &updated); err != nil {
			return nil, fmt.Errorf("scan word: %w", err)
		}
		w.UpdatedAt = time.Unix(0, updated)
		words = append(words, w)
	}
	return words, rows.Err()
}

// GetStats summarizes the database.
func (s *Store) GetStats() (*Stats, error) {
	var st Stats
	var first, last sql.NullInt64

	err := s.db.QueryRow(`
		SELECT COUNT(*), COUNT(*) FILTER (WHERE ended_ns IS NULL), MIN(started_ns), MAX(started_ns)
		FROM sessions`,
	).Scan(&st.Sessions, &st.ActiveSessions, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM commits`).Scan(&st.Commits); err != nil {
		return nil, fmt.Errorf("commit stats: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM vocabulary`).Scan(&st.LearnedWords); err != nil {
		return nil, fmt.Errorf("vocabulary stats: %w", err)
	}

	if first.Valid {
		t := time.Unix(0, first.Int64)
		st.FirstSession = &t
	}
	if last.Valid {
		t := time.Unix(0, last.Int64)
		st.LastSession = &t
	}
	return &st, nil
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&sess.ID, &started, &ended, &sess.Source, &sess.Context,
			&sess.Blinks, &sess.Inserts, &sess.Deletes, &sess.Commits, &sess.Text, &sess.CharsPerMinute); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.StartedAt = time.Unix(0, started)
		if ended.Valid {
			t := time.Unix(0, ended.Int64)
			sess.EndedAt = &t
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
