// Package queue holds the in-memory waiting queue of viewers. Position 0 is
// the viewer currently being served; positions 1..n are waiting. The queue is
// ephemeral: it is reset when ingestion starts and cleared when it stops.
package queue

import (
	"errors"
	"sync"
	"time"
)

// ErrOutOfRange is returned when an admin action references a position that
// does not exist in the queue.
var ErrOutOfRange = errors.New("queue position out of range")

// JoinResult reports the outcome of a TryJoin call.
type JoinResult int

const (
	// JoinAccepted means the viewer was appended to the queue.
	JoinAccepted JoinResult = iota
	// JoinRejectedFull means the queue already holds max entries.
	JoinRejectedFull
	// JoinRejectedDuplicate means the viewer is already queued. This is a
	// normal no-op, not an error.
	JoinRejectedDuplicate
)

func (r JoinResult) String() string {
	switch r {
	case JoinAccepted:
		return "ok"
	case JoinRejectedFull:
		return "full"
	case JoinRejectedDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Entry is one queued viewer.
type Entry struct {
	UserKey  string `json:"user_key"`
	Uname    string `json:"uname"`
	Marked   bool   `json:"marked"`
	JoinedAt string `json:"joined_at"`
}

// Snapshot is a read-only copy of the queue state.
type Snapshot struct {
	Items    []Entry `json:"items"`
	MaxQueue int     `json:"max_queue"`
	Total    int     `json:"total"`
	IsFull   bool    `json:"is_full"`
}

// Store is the shared queue. All mutations run under one exclusive lock;
// Snapshot takes a read lock so concurrent readers never observe a
// half-applied mutation.
type Store struct {
	mu    sync.RWMutex
	items []Entry
	max   int
	seq   uint64

	now func() time.Time // overridable in tests
}

// NewStore returns an empty store capped at max total entries.
func NewStore(max int) *Store {
	if max <= 0 {
		max = 1
	}
	return &Store{max: max, now: time.Now}
}

// Reset empties the queue and applies a new capacity. Called when ingestion
// (re)starts so a fresh session never inherits stale entries.
func (s *Store) Reset(max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max > 0 {
		s.max = max
	}
	s.items = nil
	s.seq = 0
}

// Clear empties the queue, keeping the configured capacity.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.seq = 0
}

// TryJoin appends a viewer at the tail. Duplicates and joins beyond capacity
// are rejected without modifying the queue.
func (s *Store) TryJoin(userKey, uname string) JoinResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.items {
		if it.UserKey == userKey {
			return JoinRejectedDuplicate
		}
	}
	if len(s.items) >= s.max {
		return JoinRejectedFull
	}
	s.seq++
	s.items = append(s.items, Entry{
		UserKey:  userKey,
		Uname:    uname,
		JoinedAt: s.now().UTC().Format(time.RFC3339),
	})
	return JoinAccepted
}

// Remove deletes the entry at pos; everything after it shifts down by one.
func (s *Store) Remove(pos int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos < 0 || pos >= len(s.items) {
		return ErrOutOfRange
	}
	s.items = append(s.items[:pos], s.items[pos+1:]...)
	return nil
}

// PinTop moves the entry at pos to position 1, directly behind the viewer
// currently being served. Position 0 is never displaced, so pos must be >= 1.
// Relative order of the remaining waiting entries is preserved.
func (s *Store) PinTop(pos int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos < 1 || pos >= len(s.items) {
		return ErrOutOfRange
	}
	if pos == 1 {
		return nil
	}
	it := s.items[pos]
	copy(s.items[2:pos+1], s.items[1:pos])
	s.items[1] = it
	return nil
}

// SetMark sets the marked flag on the entry at pos.
func (s *Store) SetMark(pos int, marked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos < 0 || pos >= len(s.items) {
		return ErrOutOfRange
	}
	s.items[pos].Marked = marked
	return nil
}

// Len returns the current total (current + waiting).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Snapshot returns a copy of the queue suitable for broadcasting. It never
// mutates state and may run concurrently with other readers.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Entry, len(s.items))
	copy(items, s.items)
	return Snapshot{
		Items:    items,
		MaxQueue: s.max,
		Total:    len(items),
		IsFull:   len(items) >= s.max,
	}
}
