package store

import (
	"fmt"
	"strings"
)

// Mismatch describes a session whose stored commit count disagrees with its
// commit rows.
type Mismatch struct {
	SessionID string
	Stored    int
	Actual    int
}

// Verify runs SQLite's integrity check and then compares each session's
// commit counter with the commits table.
func (s *Store) Verify() ([]Mismatch, error) {
	rows, err := s.db.Query(`PRAGMA integrity_check`)
	if err != nil {
		return nil, fmt.Errorf("integrity check: %w", err)
	}
	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			rows.Close()
			return nil, fmt.Errorf("integrity check: %w", err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	rows.Close()
	if len(problems) > 0 {
		return nil, fmt.Errorf("database corrupt: %s", strings.Join(problems, "; "))
	}

	rows, err = s.db.Query(`
		SELECT s.id, s.commits, COUNT(c.id)
		FROM sessions s LEFT JOIN commits c ON c.session_id = s.id
		GROUP BY s.id
		HAVING s.commits != COUNT(c.id)
		ORDER BY s.started_ns`)
	if err != nil {
		return nil, fmt.Errorf("compare commit counts: %w", err)
	}
	defer rows.Close()

	var mismatches []Mismatch
	for rows.Next() {
		var m Mismatch
		if err := rows.Scan(&m.SessionID, &m.Stored, &m.Actual); err != nil {
			return nil, fmt.Errorf("scan mismatch: %w", err)
		}
		mismatches = append(mismatches, m)
	}
	return mismatches, rows.Err()
}
