package memory

import (
	"context"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// DefaultSpreadWindow is the number of points returned when no limit is
// given.
const DefaultSpreadWindow = 200

// SpreadSeries is the bounded charting series. It is cleared when the
// simulated symbols change.
type SpreadSeries struct {
	log      *Log[domain.SpreadPoint]
	capacity int
}

// NewSpreadSeries keeps the newest capacity points.
func NewSpreadSeries(capacity int) *SpreadSeries {
	return &SpreadSeries{
		log: NewLog(capacity,
			func(p domain.SpreadPoint) time.Time { return p.Timestamp },
			func(p domain.SpreadPoint) string { return p.Symbol },
		),
		capacity: capacity,
	}
}

// Append adds points to the series.
func (s *SpreadSeries) Append(points ...domain.SpreadPoint) {
	s.log.Append(points...)
}

// Recent returns the newest limit points in timestamp order. limit <= 0
// means DefaultSpreadWindow; it is capped at the series capacity.
func (s *SpreadSeries) Recent(limit int) []domain.SpreadPoint {
	if limit <= 0 {
		limit = DefaultSpreadWindow
	}
	if limit > s.capacity {
		limit = s.capacity
	}
	return s.log.Window(domain.ListOpts{Limit: limit, Oldest: true})
}

// Reset clears the series.
func (s *SpreadSeries) Reset() { s.log.Reset() }

// InsertBulk implements domain.SpreadStore.
func (s *SpreadSeries) InsertBulk(_ context.Context, points []domain.SpreadPoint) error {
	s.log.Append(points...)
	return nil
}

// Range implements domain.SpreadStore.
func (s *SpreadSeries) Range(_ context.Context, symbol string, from, to time.Time) ([]domain.SpreadPoint, error) {
	opts := domain.ListOpts{Limit: domain.MaxListLimit, Oldest: true, Since: &from, Until: &to}
	if symbol != "" {
		opts.Symbols = []string{symbol}
	}
	return s.log.Window(opts), nil
}

var _ domain.SpreadStore = (*SpreadSeries)(nil)
