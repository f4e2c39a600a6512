package store

import (
	"context"
	"sync"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/engine"
)

// ChangeLog is an engine.Observer that buffers a document's changes and
// writes them to the store on Flush.
//
// Observer callbacks run on the engine loop with the engine lock held, so
// they only append to memory; the database write happens on Flush, outside
// the loop.
//
// Thread-safety: safe for concurrent use.
type ChangeLog struct {
	store      *Store
	documentID string

	mu       sync.Mutex
	pending  []engine.Change
	rejected int
}

// NewChangeLog creates a change log writer for one document.
func NewChangeLog(s *Store, documentID string) *ChangeLog {
	return &ChangeLog{store: s, documentID: documentID}
}

// FieldChanged implements engine.Observer.
func (l *ChangeLog) FieldChanged(c engine.Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, c)
}

// InputRejected implements engine.Observer. Rejections are counted, not stored.
func (l *ChangeLog) InputRejected(_ engine.Event, _ error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejected++
}

// Pending returns the number of buffered changes.
func (l *ChangeLog) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Rejected returns the number of rejected inputs seen.
func (l *ChangeLog) Rejected() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rejected
}

// Flush writes buffered changes. On failure the buffer is kept for a retry.
func (l *ChangeLog) Flush(ctx context.Context) (int, error) {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	if err := l.store.WriteChanges(ctx, l.documentID, batch); err != nil {
		l.mu.Lock()
		l.pending = append(batch, l.pending...)
		l.mu.Unlock()
		return 0, err
	}
	return len(batch), nil
}
