// Package memory holds the bounded recent-window logs the engine reads
// from. They back the query API when no durable store is configured and
// act as the fallback when one fails.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// Log is a bounded, timestamp-ordered log. Inserting a record older than
// the newest one places it at its timestamp position, so windows are always
// in non-decreasing timestamp order. When full, the oldest record is evicted.
type Log[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	ts       func(T) time.Time
	symbol   func(T) string
}

// NewLog creates a Log that keeps at most capacity records.
func NewLog[T any](capacity int, ts func(T) time.Time, symbol func(T) string) *Log[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Log[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		ts:       ts,
		symbol:   symbol,
	}
}

// Append inserts records keeping timestamp order. Records with equal
// timestamps keep their insertion order.
func (l *Log[T]) Append(records ...T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range records {
		t := l.ts(r)
		n := len(l.items)
		if n == 0 || !t.Before(l.ts(l.items[n-1])) {
			l.items = append(l.items, r)
		} else {
			i := sort.Search(n, func(i int) bool { return l.ts(l.items[i]).After(t) })
			var zero T
			l.items = append(l.items, zero)
			copy(l.items[i+1:], l.items[i:])
			l.items[i] = r
		}
		if len(l.items) > l.capacity {
			l.items = append(l.items[:0], l.items[len(l.items)-l.capacity:]...)
		}
	}
}

// Len returns the number of retained records.
func (l *Log[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Last returns the newest record.
func (l *Log[T]) Last() (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.items) == 0 {
		var zero T
		return zero, false
	}
	return l.items[len(l.items)-1], true
}

// Window returns the newest records matching opts, skipping opts.Offset
// matches. Records come newest first unless opts.Oldest is set, in which
// case the same window is returned in timestamp order.
func (l *Log[T]) Window(opts domain.ListOpts) []T {
	opts = opts.Normalize()
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]T, 0, min(opts.Limit, len(l.items)))
	skipped := 0
	for i := len(l.items) - 1; i >= 0 && len(out) < opts.Limit; i-- {
		r := l.items[i]
		if !l.match(r, opts) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, r)
	}
	if opts.Oldest {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func (l *Log[T]) match(r T, opts domain.ListOpts) bool {
	if l.symbol != nil && !opts.MatchSymbol(l.symbol(r)) {
		return false
	}
	t := l.ts(r)
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && !t.Before(*opts.Until) {
		return false
	}
	return true
}

// Before returns up to limit records older than before, oldest first.
func (l *Log[T]) Before(before time.Time, limit int) []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []T
	for _, r := range l.items {
		if !l.ts(r).Before(before) || (limit > 0 && len(out) >= limit) {
			break
		}
		out = append(out, r)
	}
	return out
}

// DeleteBefore drops records older than before and returns how many.
func (l *Log[T]) DeleteBefore(before time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := sort.Search(len(l.items), func(i int) bool { return !l.ts(l.items[i]).Before(before) })
	l.items = append(l.items[:0], l.items[i:]...)
	return i
}

// Each calls fn for every record in timestamp order.
func (l *Log[T]) Each(fn func(T)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, r := range l.items {
		fn(r)
	}
}

// Reset empties the log.
func (l *Log[T]) Reset() {
	l.mu.Lock()
	l.items = l.items[:0]
	l.mu.Unlock()
}
