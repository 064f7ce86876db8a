// Package events provides a thread-safe append-only event log with typed
// filters. The office and panel orchestrators instantiate it with their own
// event types; the two taxonomies stay disjoint.
package events

import "sync"

// Log is an append-only store of T. Reads return copies, so readers never
// observe partial writes and never block appenders for long.
type Log[T any] struct {
	mu      sync.RWMutex
	entries []T
}

// NewLog creates an empty log.
func NewLog[T any]() *Log[T] {
	return &Log[T]{}
}

// Append adds an entry.
func (l *Log[T]) Append(entry T) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Snapshot returns a copy of all entries in append order.
func (l *Log[T]) Snapshot() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]T, len(l.entries))
	copy(out, l.entries)
	return out
}

// Filter returns a copy of the entries matching keep, in append order.
func (l *Log[T]) Filter(keep func(T) bool) []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []T
	for _, e := range l.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Len reports the number of entries.
func (l *Log[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear removes all entries.
func (l *Log[T]) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}
