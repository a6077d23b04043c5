package executor

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// LatencyModel assigns simulated completion times to both legs of a trade.
type LatencyModel interface {
	Legs(opp domain.Opportunity) (buy, sell time.Duration)
}

// UniformLatency draws each leg independently from [Min, Max].
type UniformLatency struct {
	min, max time.Duration
	mu       sync.Mutex
	rng      *rand.Rand
}

// NewUniformLatency creates a UniformLatency with a fixed seed.
func NewUniformLatency(min, max time.Duration, seed uint64) *UniformLatency {
	if max < min {
		min, max = max, min
	}
	return &UniformLatency{min: min, max: max, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (u *UniformLatency) draw() time.Duration {
	span := u.max - u.min
	if span <= 0 {
		return u.min
	}
	return u.min + time.Duration(u.rng.Int64N(int64(span)+1))
}

// Legs implements LatencyModel.
func (u *UniformLatency) Legs(domain.Opportunity) (time.Duration, time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.draw(), u.draw()
}

// MeasuredLatency derives leg latency from the opportunity's decision
// latency. The buy leg takes latency*factor; the sell leg is jittered
// between half and one and a half times that. Both are clamped to [Min, Max].
type MeasuredLatency struct {
	factor   float64
	min, max time.Duration
	mu       sync.Mutex
	rng      *rand.Rand
}

// NewMeasuredLatency creates a MeasuredLatency with a fixed seed.
func NewMeasuredLatency(factor float64, min, max time.Duration, seed uint64) *MeasuredLatency {
	if factor <= 0 {
		factor = 1
	}
	if max < min {
		min, max = max, min
	}
	return &MeasuredLatency{factor: factor, min: min, max: max, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (m *MeasuredLatency) clamp(d time.Duration) time.Duration {
	if d < m.min {
		return m.min
	}
	if m.max > 0 && d > m.max {
		return m.max
	}
	return d
}

// Legs implements LatencyModel.
func (m *MeasuredLatency) Legs(opp domain.Opportunity) (time.Duration, time.Duration) {
	base := time.Duration(opp.LatencyMs * m.factor * float64(time.Millisecond))
	m.mu.Lock()
	jitter := 0.5 + m.rng.Float64()
	m.mu.Unlock()
	return m.clamp(base), m.clamp(time.Duration(float64(base) * jitter))
}

// FixedLatency always returns the same leg latencies.
type FixedLatency struct {
	Buy  time.Duration
	Sell time.Duration
}

// Legs implements LatencyModel.
func (f FixedLatency) Legs(domain.Opportunity) (time.Duration, time.Duration) {
	return f.Buy, f.Sell
}
