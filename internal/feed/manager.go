package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

const (
	// reconnectDelay is the first delay after a connection fault.
	reconnectDelay = time.Second
	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 30 * time.Second
)

// Status is the connection state of one feed.
type Status struct {
	Connected  bool
	LastUpdate time.Time
}

type feedState struct {
	connected  atomic.Bool
	lastUpdate atomic.Int64 // unix nanos
}

type running struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager runs one goroutine per started feed and reconnects each with
// exponential backoff. Faults never leave the manager.
type Manager struct {
	sink   Sink
	logger *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	group      errgroup.Group

	mu      sync.Mutex
	feeds   map[string]Feed
	running map[string]*running
	states  map[string]*feedState
	closed  bool

	minDelay, maxDelay time.Duration
	onDisconnect       func(name string, err error)
}

// NewManager creates a Manager delivering every update to sink.
func NewManager(sink Sink, logger *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sink:       sink,
		logger:     logger.With(slog.String("component", "feed_manager")),
		baseCtx:    ctx,
		baseCancel: cancel,
		feeds:      make(map[string]Feed),
		running:    make(map[string]*running),
		states:     make(map[string]*feedState),
		minDelay:   reconnectDelay,
		maxDelay:   maxReconnectDelay,
	}
}

// SetBackoff overrides the reconnect delays.
func (m *Manager) SetBackoff(min, max time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minDelay, m.maxDelay = min, max
}

// OnDisconnect registers a callback invoked after each connection fault.
func (m *Manager) OnDisconnect(fn func(name string, err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = fn
}

// Register adds a feed. Registering a name twice replaces the feed; a
// running instance keeps running until stopped.
func (m *Manager) Register(f Feed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds[f.Name()] = f
	if _, ok := m.states[f.Name()]; !ok {
		m.states[f.Name()] = &feedState{}
	}
}

// Names returns the registered feed names in sorted order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.feeds))
	for name := range m.feeds {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Kind returns the kind of a registered feed.
func (m *Manager) Kind(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.feeds[name]; ok {
		return f.Kind()
	}
	return ""
}

// Start launches the named feed for symbols. Starting a running feed
// restarts it with the new symbols.
func (m *Manager) Start(name string, symbols []string) error {
	m.Stop(name)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("feed: start %s: %w", name, domain.ErrShuttingDown)
	}
	f, ok := m.feeds[name]
	if !ok {
		return fmt.Errorf("feed: start %s: %w", name, domain.ErrUnknownExchange)
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	r := &running{cancel: cancel, done: make(chan struct{})}
	m.running[name] = r
	state := m.states[name]
	syms := append([]string(nil), symbols...)

	m.group.Go(func() error {
		defer close(r.done)
		m.loop(ctx, f, state, syms)
		return nil
	})
	return nil
}

// Stop cancels the named feed and waits for its goroutine to exit.
func (m *Manager) Stop(name string) {
	m.mu.Lock()
	r, ok := m.running[name]
	delete(m.running, name)
	m.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	<-r.done
	if st := m.state(name); st != nil {
		st.connected.Store(false)
	}
}

// Running reports whether the named feed has been started and not stopped.
func (m *Manager) Running(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[name]
	return ok
}

// Status returns the connection state of a feed.
func (m *Manager) Status(name string) Status {
	st := m.state(name)
	if st == nil {
		return Status{}
	}
	s := Status{Connected: st.connected.Load()}
	if ns := st.lastUpdate.Load(); ns > 0 {
		s.LastUpdate = time.Unix(0, ns).UTC()
	}
	return s
}

// Close stops every feed and waits for them to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.baseCancel()
	_ = m.group.Wait()
	m.logger.Info("feeds stopped")
}

func (m *Manager) state(name string) *feedState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[name]
}

func (m *Manager) loop(ctx context.Context, f Feed, state *feedState, symbols []string) {
	log := m.logger.With(slog.String("feed", f.Name()), slog.String("kind", f.Kind()))
	log.Info("feed started", slog.Any("symbols", symbols))
	defer log.Info("feed stopped")

	m.mu.Lock()
	minDelay, maxDelay := m.minDelay, m.maxDelay
	m.mu.Unlock()
	delay := minDelay

	for {
		var received atomic.Bool
		err := f.Run(ctx, symbols, func(u domain.BookUpdate) {
			received.Store(true)
			state.connected.Store(true)
			state.lastUpdate.Store(time.Now().UnixNano())
			m.sink(u)
		})
		state.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = domain.ErrWSDisconnect
		}
		if received.Load() {
			delay = minDelay
		}

		log.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", delay),
		)
		m.mu.Lock()
		hook := m.onDisconnect
		m.mu.Unlock()
		if hook != nil && !errors.Is(err, context.Canceled) {
			hook(f.Name(), err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
