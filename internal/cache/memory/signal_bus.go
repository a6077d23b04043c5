// Package memory provides in-process implementations of the cache
// interfaces for single-node runs and tests.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// subscriberBuffer is the per-subscriber channel size. Slow subscribers
// miss messages rather than block publishers.
const subscriberBuffer = 128

// streamMaxLen trims each stream to its newest entries.
const streamMaxLen = 10000

type subscription struct {
	ch chan []byte
}

// SignalBus implements domain.SignalBus with in-process fan-out and bounded
// in-memory streams.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscription]struct{}
	streams map[string][]domain.StreamMessage
	seq     uint64
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[string]map[*subscription]struct{}),
		streams: make(map[string][]domain.StreamMessage),
	}
}

// Publish delivers payload to every current subscriber of channel.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[channel] {
		select {
		case sub.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published on channel. It is
// closed when ctx is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := &subscription{ch: make(chan []byte, subscriberBuffer)}
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*subscription]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], sub)
		b.mu.Unlock()
		close(sub.ch)
	}()
	return sub.ch, nil
}

// StreamAppend appends payload to stream.
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	msgs := append(b.streams[stream], domain.StreamMessage{ID: strconv.FormatUint(b.seq, 10), Payload: payload})
	if len(msgs) > streamMaxLen {
		msgs = msgs[len(msgs)-streamMaxLen:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count messages after lastID. "0" and "0-0"
// read from the beginning; "$" returns nothing.
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	var after uint64
	switch lastID {
	case "", "0", "0-0":
	case "$":
		return nil, nil
	default:
		n, err := strconv.ParseUint(lastID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("memory: stream read %s: bad id %q: %w", stream, lastID, err)
		}
		after = n
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		id, _ := strconv.ParseUint(m.ID, 10, 64)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
