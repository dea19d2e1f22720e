// Package store provides SQLite-based session storage for blinkscan.
package store

import "time"

// Session is one typing session as persisted.
type Session struct {
	ID             string
	StartedAt      time.Time
	EndedAt        *time.Time
	Source         string
	Context        string
	Blinks         int
	Inserts        int
	Deletes        int
	Commits        int
	Text           string
	CharsPerMinute float64
}

// Active reports whether the session has not ended.
func (s *Session) Active() bool { return s.EndedAt == nil }

// Commit is one symbol committed by the scanner.
type Commit struct {
	ID        int64
	SessionID string
	Timestamp time.Time
	Area      string
	Symbol    string
	Row       int
	Col       int
	Index     int
}

// Word is a learned vocabulary entry.
type Word struct {
	Word      string
	Frequency int
	UpdatedAt time.Time
}

// SessionSummary carries the counters written when a session ends.
type SessionSummary struct {
	EndedAt        time.Time
	Blinks         int
	Inserts        int
	Deletes        int
	Text           string
	CharsPerMinute float64
}

// Stats summarizes the database contents.
type Stats struct {
	Sessions       int64
	ActiveSessions int64
	Commits        int64
	LearnedWords   int64
	FirstSession   *time.Time
	LastSession    *time.Time
}
