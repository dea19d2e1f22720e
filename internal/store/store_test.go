package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"blinkscan/internal/metrics"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDirectoryAndSchema(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "subdir", "nested", "test.db"), time.Second)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if err := ValidateSchema(s.db); err != nil {
		t.Errorf("schema incomplete: %v", err)
	}
	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if v != LatestVersion() {
		t.Errorf("expected version %d, got %d", LatestVersion(), v)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.StartSession(&Session{ID: "a", StartedAt: time.Unix(100, 0)}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	s.Close()

	s, err = Open(path, 0)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	if _, err := s.GetSession("a"); err != nil {
		t.Errorf("session lost on reopen: %v", err)
	}
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	start := time.Unix(1700000000, 0)

	if err := s.StartSession(&Session{ID: "s1", StartedAt: start, Source: "api", Context: "chat"}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	for i, sym := range []string{"H", "I"} {
		_, err := s.RecordCommit(&Commit{
			SessionID: "s1",
			Timestamp: start.Add(time.Duration(i+1) * time.Second),
			Area:      "keyboard",
			Symbol:    sym,
			Row:       1,
			Col:       i,
		})
		if err != nil {
			t.Fatalf("RecordCommit failed: %v", err)
		}
	}

	sess, err := s.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !sess.Active() {
		t.Error("session should be active")
	}
	if sess.Commits != 2 || sess.Source != "api" || sess.Context != "chat" {
		t.Errorf("unexpected session: %+v", sess)
	}
	if !sess.StartedAt.Equal(start) {
		t.Errorf("start time mismatch: %v", sess.StartedAt)
	}

	end := start.Add(time.Minute)
	err = s.EndSession("s1", &SessionSummary{
		EndedAt:        end,
		Blinks:         5,
		Inserts:        2,
		Text:           "HI",
		CharsPerMinute: 2,
	})
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	sess, err = s.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.Active() || !sess.EndedAt.Equal(end) {
		t.Errorf("session should have ended at %v, got %v", end, sess.EndedAt)
	}
	if sess.Text != "HI" || sess.Blinks != 5 || sess.CharsPerMinute != 2 {
		t.Errorf("summary not stored: %+v", sess)
	}

	commits, err := s.SessionCommits("s1")
	if err != nil {
		t.Fatalf("SessionCommits failed: %v", err)
	}
	if len(commits) != 2 || commits[0].Symbol != "H" || commits[1].Col != 1 {
		t.Errorf("unexpected commits: %+v", commits)
	}
}

func TestNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetSession("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.EndSession("missing", &SessionSummary{EndedAt: time.Now()}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCommitRequiresSession(t *testing.T) {
	s := openTestStore(t)

	_, err := s.RecordCommit(&Commit{SessionID: "nope", Timestamp: time.Now(), Area: "keyboard", Symbol: "A"})
	if err == nil {
		t.Error("expected foreign key violation")
	}
}

func TestRecentSessionsAndPrune(t *testing.T) {
	s := openTestStore(t)
	base := time.Unix(1700000000, 0)

	for i, id := range []string{"old", "mid", "new"} {
		if err := s.StartSession(&Session{ID: id, StartedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("StartSession failed: %v", err)
		}
	}
	if _, err := s.RecordCommit(&Commit{SessionID: "old", Timestamp: base, Area: "keyboard", Symbol: "A"}); err != nil {
		t.Fatalf("RecordCommit failed: %v", err)
	}

	recent, err := s.RecentSessions(2)
	if err != nil {
		t.Fatalf("RecentSessions failed: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "new" || recent[1].ID != "mid" {
		t.Errorf("unexpected order: %+v", recent)
	}

	n, err := s.DeleteSessionsBefore(base.Add(30 * time.Minute))
	if err != nil {
		t.Fatalf("DeleteSessionsBefore failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}
	commits, err := s.SessionCommits("old")
	if err != nil {
		t.Fatalf("SessionCommits failed: %v", err)
	}
	if len(commits) != 0 {
		t.Error("commits should cascade with their session")
	}
}

func TestVocabulary(t *testing.T) {
	s := openTestStore(t)
	now := time.Unix(1700000000, 0)

	if err := s.UpsertWords(map[string]int{"water": 3, "help": 5, "tea": 3}, now); err != nil {
		t.Fatalf("UpsertWords failed: %v", err)
	}
	if err := s.UpsertWords(map[string]int{"tea": 9}, now.Add(time.Second)); err != nil {
		t.Fatalf("UpsertWords failed: %v", err)
	}

	words, err := s.LearnedWords(0)
	if err != nil {
		t.Fatalf("LearnedWords failed: %v", err)
	}
	want := []string{"tea", "help", "water"}
	if len(words) != len(want) {
		t.Fatalf("expected %d words, got %+v", len(want), words)
	}
	for i, w := range want {
		if words[i].Word != w {
			t.Errorf("word %d: expected %s, got %s", i, w, words[i].Word)
		}
	}
	if words[0].Frequency != 9 {
		t.Errorf("upsert should replace frequency, got %d", words[0].Frequency)
	}

	top, err := s.LearnedWords(1)
	if err != nil || len(top) != 1 {
		t.Errorf("limit not applied: %v %v", top, err)
	}
}

func TestStatsAndVerify(t *testing.T) {
	s := openTestStore(t)
	now := time.Unix(1700000000, 0)

	s.StartSession(&Session{ID: "a", StartedAt: now})
	s.StartSession(&Session{ID: "b", StartedAt: now.Add(time.Hour)})
	s.RecordCommit(&Commit{SessionID: "a", Timestamp: now, Area: "keyboard", Symbol: "A"})
	s.EndSession("a", &SessionSummary{EndedAt: now.Add(time.Minute)})
	s.UpsertWords(map[string]int{"a": 1}, now)

	st, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if st.Sessions != 2 || st.ActiveSessions != 1 || st.Commits != 1 || st.LearnedWords != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if st.FirstSession == nil || !st.FirstSession.Equal(now) {
		t.Errorf("unexpected first session: %v", st.FirstSession)
	}

	mismatches, err := s.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if len(mismatches) != 0 {
		t.Errorf("expected consistent store, got %+v", mismatches)
	}

	if _, err := s.db.Exec(`UPDATE sessions SET commits = 4 WHERE id = 'b'`); err != nil {
		t.Fatalf("tamper failed: %v", err)
	}
	mismatches, err = s.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if len(mismatches) != 1 || mismatches[0] != (Mismatch{SessionID: "b", Stored: 4, Actual: 0}) {
		t.Errorf("unexpected mismatches: %+v", mismatches)
	}
}

func TestRollbackMigration(t *testing.T) {
	s := openTestStore(t)

	if err := RollbackMigration(s.db); err != nil {
		t.Fatalf("RollbackMigration failed: %v", err)
	}
	if err := ValidateSchema(s.db); err == nil {
		t.Error("vocabulary table should be gone")
	}
	if err := MigrateDB(s.db); err != nil {
		t.Fatalf("MigrateDB failed: %v", err)
	}
	if err := ValidateSchema(s.db); err != nil {
		t.Errorf("schema not restored: %v", err)
	}
}

func TestWriterAppliesInOrder(t *testing.T) {
	s := openTestStore(t)
	m := metrics.New(nil)
	w := NewWriter(s, 16, nil, m)

	now := time.Unix(1700000000, 0)
	w.StartSession(Session{ID: "w1", StartedAt: now})
	w.RecordCommit(Commit{SessionID: "w1", Timestamp: now, Area: "keyboard", Symbol: "X"})
	w.EndSession("w1", SessionSummary{EndedAt: now.Add(time.Second), Text: "X"})
	w.UpsertWords(map[string]int{"x": 1}, now)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	sess, err := s.GetSession("w1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.Commits != 1 || sess.Text != "X" || sess.Active() {
		t.Errorf("writes not applied: %+v", sess)
	}
	if m.StoreWrites.Value() != 4 {
		t.Errorf("expected 4 recorded writes, got %d", m.StoreWrites.Value())
	}

	if w.RecordCommit(Commit{SessionID: "w1"}) {
		t.Error("closed writer should refuse writes")
	}
}

func TestWriterReportsFailures(t *testing.T) {
	s := openTestStore(t)
	m := metrics.New(nil)
	w := NewWriter(s, 4, nil, m)

	w.EndSession("missing", SessionSummary{EndedAt: time.Now()})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if m.StoreErrors.Value() != 1 {
		t.Errorf("expected 1 store error, got %d", m.StoreErrors.Value())
	}
}

func TestPing(t *testing.T) {
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
