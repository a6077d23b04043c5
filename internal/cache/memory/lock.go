package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// LockManager implements domain.LockManager within one process.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]time.Time // key -> expiry
	nowFn func() time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]time.Time), nowFn: time.Now}
}

// Acquire takes key for ttl. It fails with domain.ErrLockHeld while another
// holder's lease is live.
func (l *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowFn()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, fmt.Errorf("memory: acquire %s: %w", key, domain.ErrLockHeld)
	}
	exp := now.Add(ttl)
	l.held[key] = exp

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.held[key] == exp {
				delete(l.held, key)
			}
			l.mu.Unlock()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
