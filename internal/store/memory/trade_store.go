package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// TradeStore is the in-memory trade log. Lifetime totals survive eviction
// from the window.
type TradeStore struct {
	log *Log[domain.SimulatedTrade]

	mu       sync.Mutex
	totalPnL float64
	count    int64
}

// NewTradeStore keeps the newest capacity trades.
func NewTradeStore(capacity int) *TradeStore {
	return &TradeStore{
		log: NewLog(capacity,
			func(t domain.SimulatedTrade) time.Time { return t.Timestamp },
			func(t domain.SimulatedTrade) string { return t.Symbol },
		),
	}
}

// InsertBatch implements domain.TradeStore.
func (s *TradeStore) InsertBatch(_ context.Context, trades []domain.SimulatedTrade) error {
	s.mu.Lock()
	for _, t := range trades {
		s.totalPnL += t.PnL
		s.count++
	}
	s.mu.Unlock()
	s.log.Append(trades...)
	return nil
}

// List implements domain.TradeStore.
func (s *TradeStore) List(_ context.Context, opts domain.ListOpts) ([]domain.SimulatedTrade, error) {
	return s.log.Window(opts), nil
}

// SumPnL implements domain.TradeStore over the retained window.
func (s *TradeStore) SumPnL(_ context.Context, since time.Time) (float64, error) {
	var sum float64
	s.log.Each(func(t domain.SimulatedTrade) {
		if !t.Timestamp.Before(since) {
			sum += t.PnL
		}
	})
	return sum, nil
}

// ListBefore implements domain.TradeStore.
func (s *TradeStore) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.SimulatedTrade, error) {
	return s.log.Before(before, limit), nil
}

// DeleteBefore implements domain.TradeStore. Lifetime totals are not
// reduced.
func (s *TradeStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	return int64(s.log.DeleteBefore(before)), nil
}

// Totals returns the lifetime P&L and trade count.
func (s *TradeStore) Totals() (pnl float64, count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalPnL, s.count
}

var _ domain.TradeStore = (*TradeStore)(nil)
