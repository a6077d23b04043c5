package executor

import (
	"errors"
	"sync"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

var errDuplicate = errors.New("executor: trade already scheduled")

type pendingTrade struct {
	id    string
	due   time.Time
	timer *time.Timer
	run   func()
	abort func()
}

// schedule owns the timers of in-flight simulated trades keyed by
// opportunity ID, and remembers recently seen IDs so a trade never runs
// twice.
type schedule struct {
	mu      sync.Mutex
	pending map[string]*pendingTrade
	seen    map[string]time.Time
	seenTTL time.Duration
	wg      sync.WaitGroup
	closed  bool
}

func newSchedule(seenTTL time.Duration) *schedule {
	return &schedule{
		pending: make(map[string]*pendingTrade),
		seen:    make(map[string]time.Time),
		seenTTL: seenTTL,
	}
}

// add arms a timer that calls run after delay. It returns errDuplicate when
// id was already scheduled or seen within the TTL, and
// domain.ErrShuttingDown once the schedule is closed.
func (s *schedule) add(id string, delay time.Duration, run, abort func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrShuttingDown
	}
	if _, ok := s.pending[id]; ok {
		return errDuplicate
	}
	if at, ok := s.seen[id]; ok && time.Since(at) < s.seenTTL {
		return errDuplicate
	}
	s.seen[id] = time.Now()

	p := &pendingTrade{id: id, due: time.Now().Add(delay), run: run, abort: abort}
	s.wg.Add(1)
	p.timer = time.AfterFunc(delay, func() { s.fire(id) })
	s.pending[id] = p
	return nil
}

func (s *schedule) fire(id string) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	defer s.wg.Done()
	p.run()
}

// len returns the number of trades waiting on their timers.
func (s *schedule) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// close refuses new trades.
func (s *schedule) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// wait blocks until every pending trade has fired or done is closed.
func (s *schedule) wait(done <-chan struct{}) bool {
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return true
	case <-done:
		return false
	}
}

// cancelAll stops every pending timer and runs its abort callback. It
// returns the number of cancelled trades.
func (s *schedule) cancelAll() int {
	s.mu.Lock()
	var stopped []*pendingTrade
	for id, p := range s.pending {
		if p.timer.Stop() {
			stopped = append(stopped, p)
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()

	for _, p := range stopped {
		p.abort()
		s.wg.Done()
	}
	return len(stopped)
}

// cleanup forgets seen IDs older than the TTL.
func (s *schedule) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, at := range s.seen {
		if time.Since(at) >= s.seenTTL {
			delete(s.seen, id)
		}
	}
}
