package ime

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// TranscriptStorage keeps finished session transcripts as JSON files, one
// per session.
type TranscriptStorage struct {
	mu      sync.Mutex
	baseDir string
}

// NewTranscriptStorage creates a storage rooted at baseDir.
// If baseDir is empty, uses the default platform-specific directory.
func NewTranscriptStorage(baseDir string) (*TranscriptStorage, error) {
	if baseDir == "" {
		var err error
		baseDir, err = defaultStorageDir()
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}

	return &TranscriptStorage{baseDir: baseDir}, nil
}

// Dir returns the storage directory.
func (s *TranscriptStorage) Dir() string { return s.baseDir }

func defaultStorageDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "Blinkscan", "transcripts"), nil

	case "linux":
		// XDG Base Directory Specification
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, "blinkscan", "transcripts"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", "blinkscan", "transcripts"), nil

	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			return "", errors.New("LOCALAPPDATA not set")
		}
		return filepath.Join(localAppData, "Blinkscan", "transcripts"), nil

	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".blinkscan", "transcripts"), nil
	}
}

func (s *TranscriptStorage) pathFor(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID+".json")
}

// Save writes a transcript atomically, replacing any earlier copy.
func (s *TranscriptStorage) Save(t *Transcript) error {
	if t == nil {
		return errors.New("nil transcript")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}

	path := s.pathFor(t.SessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a transcript by session ID.
func (s *TranscriptStorage) Load(sessionID string) (*Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadUnlocked(sessionID)
}

// loadUnlocked loads a transcript without locking (caller must hold lock).
func (s *TranscriptStorage) loadUnlocked(sessionID string) (*Transcript, error) {
	data, err := os.ReadFile(s.pathFor(sessionID))
	if err != nil {
		return nil, err
	}
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// List returns stored session IDs. Zero bounds disable time filtering.
func (s *TranscriptStorage) List(since, until time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.idsUnlocked()
	if err != nil {
		return nil, err
	}
	if since.IsZero() && until.IsZero() {
		return ids, nil
	}

	var out []string
	for _, id := range ids {
		t, err := s.loadUnlocked(id)
		if err != nil {
			continue
		}
		if !since.IsZero() && t.StartTime.Before(since) {
			continue
		}
		if !until.IsZero() && t.EndTime.After(until) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *TranscriptStorage) idsUnlocked() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	ids := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// Delete removes a transcript.
func (s *TranscriptStorage) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.Remove(s.pathFor(sessionID))
}

// Prune removes transcripts that ended more than olderThan before now.
func (s *TranscriptStorage) Prune(now time.Time, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.idsUnlocked()
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-olderThan)
	var pruned int
	for _, id := range ids {
		t, err := s.loadUnlocked(id)
		if err != nil {
			continue
		}
		if t.EndTime.Before(cutoff) {
			if err := os.Remove(s.pathFor(id)); err == nil {
				pruned++
			}
		}
	}
	return pruned, nil
}
