package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"blinkscan/internal/metrics"
)

// Writer applies store operations on its own goroutine so callers never
// wait on disk. Operations run in submission order. When the queue is full
// the operation is dropped and counted.
type Writer struct {
	store   *Store
	queue   chan op
	logger  *slog.Logger
	metrics *metrics.Blinkscan

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

type op struct {
	name string
	fn   func(*Store) error
}

// NewWriter starts a writer with the given queue length. m may be nil.
func NewWriter(s *Store, queueSize int, logger *slog.Logger, m *metrics.Blinkscan) *Writer {
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		store:   s,
		queue:   make(chan op, queueSize),
		logger:  logger,
		metrics: m,
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for o := range w.queue {
		start := time.Now()
		err := o.fn(w.store)
		if w.metrics != nil {
			w.metrics.RecordStoreWrite(time.Since(start), err)
		}
		if err != nil {
			w.logger.Error("store write failed", "op", o.name, "error", err)
		}
	}
}

func (w *Writer) submit(name string, fn func(*Store) error) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}

	select {
	case w.queue <- op{name: name, fn: fn}:
		return true
	default:
		if w.metrics != nil {
			w.metrics.StoreDropped.Inc()
		}
		w.logger.Warn("store queue full, dropping write", "op", name)
		return false
	}
}

// StartSession queues a session insert.
func (w *Writer) StartSession(sess Session) bool {
	return w.submit("start_session", func(s *Store) error {
		return s.StartSession(&sess)
	})
}

// RecordCommit queues a commit insert.
func (w *Writer) RecordCommit(c Commit) bool {
	return w.submit("record_commit", func(s *Store) error {
		_, err := s.RecordCommit(&c)
		return err
	})
}

// EndSession queues the final session update.
func (w *Writer) EndSession(id string, sum SessionSummary) bool {
	return w.submit("end_session", func(s *Store) error {
		return s.EndSession(id, &sum)
	})
}

// UpsertWords queues a vocabulary update. The map is copied.
func (w *Writer) UpsertWords(words map[string]int, now time.Time) bool {
	cp := make(map[string]int, len(words))
	for k, v := range words {
		cp[k] = v
	}
	return w.submit("upsert_words", func(s *Store) error {
		return s.UpsertWords(cp, now)
	})
}

// Close stops accepting writes and waits until queued ones finish or ctx ends.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
