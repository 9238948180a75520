// Package feed implements the bounded, most-recent-first feeds used for chat
// logs, music history and log lines.
package feed

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petervdpas/botdash/internal/util"
)

// Default capacities.
const (
	ChatCapacity    = 50
	HistoryCapacity = 50
	LogCapacity     = 100
	NetworkCapacity = 50
)

// Entry is an immutable feed element. Seq is the receipt order.
type Entry[T any] struct {
	Seq   uint64    `json:"seq"`
	ID    string    `json:"id"`
	At    time.Time `json:"at"`
	Value T         `json:"value"`
}

// Feed is a fixed-capacity sequence. New entries go to the head; when full
// the oldest entry is evicted. Entries are never reordered or mutated.
type Feed[T any] struct {
	mu   sync.Mutex
	ring *util.RingBuffer[Entry[T]]
	seq  uint64
	now  func() time.Time
}

// New creates an empty feed holding at most capacity entries.
func New[T any](capacity int) *Feed[T] {
	return &Feed[T]{
		ring: util.NewRingBuffer[Entry[T]](capacity),
		now:  time.Now,
	}
}

// Push stores v as the new head and returns the stored entry.
func (f *Feed[T]) Push(v T) Entry[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushLocked(v, f.now())
}

// PushAt is Push with an explicit receipt time, used when seeding from an
// archive.
func (f *Feed[T]) PushAt(v T, at time.Time) Entry[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushLocked(v, at)
}

func (f *Feed[T]) pushLocked(v T, at time.Time) Entry[T] {
	f.seq++
	e := Entry[T]{
		Seq:   f.seq,
		ID:    uuid.NewString(),
		At:    at,
		Value: v,
	}
	f.ring.Push(e)
	return e
}

// Replace overwrites the feed with a wholesale snapshot. values is
// most-recent-first, as returned by the backend; anything past capacity is
// dropped from the tail.
func (f *Feed[T]) Replace(values []T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ring.Clear()
	if n := f.ring.Cap(); len(values) > n {
		values = values[:n]
	}
	now := f.now()
	for i := len(values) - 1; i >= 0; i-- {
		f.pushLocked(values[i], now)
	}
}

// Clear empties the feed.
func (f *Feed[T]) Clear() {
	f.mu.Lock()
	f.ring.Clear()
	f.mu.Unlock()
}

// Snapshot returns all entries, most recent first.
func (f *Feed[T]) Snapshot() []Entry[T] {
	return f.ring.Newest()
}

// Values returns the payloads, most recent first.
func (f *Feed[T]) Values() []T {
	entries := f.ring.Newest()
	out := make([]T, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out
}

// Head returns the most recently pushed entry.
func (f *Feed[T]) Head() (Entry[T], bool) {
	return f.ring.Last()
}

// Len returns the number of entries.
func (f *Feed[T]) Len() int { return f.ring.Len() }

// Cap returns the capacity.
func (f *Feed[T]) Cap() int { return f.ring.Cap() }
