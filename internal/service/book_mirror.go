package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// BookSource lists the engine's current books.
type BookSource interface {
	Books() []*domain.OrderBook
}

// BookMirror copies changed books to an external mirror so other processes
// can read them.
type BookMirror struct {
	source   BookSource
	mirror   domain.BookMirror
	interval time.Duration
	logger   *slog.Logger

	seen      map[string]uint64
	exchanges map[string]struct{}
}

// NewBookMirror creates a BookMirror syncing every interval.
func NewBookMirror(source BookSource, mirror domain.BookMirror, interval time.Duration, logger *slog.Logger) *BookMirror {
	if interval <= 0 {
		interval = time.Second
	}
	return &BookMirror{
		source:    source,
		mirror:    mirror,
		interval:  interval,
		logger:    logger.With(slog.String("component", "book_mirror")),
		seen:      make(map[string]uint64),
		exchanges: make(map[string]struct{}),
	}
}

// Sync writes every book whose version changed since the last sync and
// returns how many were written. Exchanges that no longer have any book are
// removed from the mirror.
func (m *BookMirror) Sync(ctx context.Context) int {
	var written int
	live := make(map[string]struct{})
	liveExchanges := make(map[string]struct{})
	for _, b := range m.source.Books() {
		key := b.Exchange + "/" + b.Symbol
		live[key] = struct{}{}
		liveExchanges[b.Exchange] = struct{}{}
		if m.seen[key] == b.Version {
			continue
		}
		if err := m.mirror.SetBook(ctx, *b); err != nil {
			m.logger.Warn("mirror book failed",
				slog.String("exchange", b.Exchange),
				slog.String("symbol", b.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.seen[key] = b.Version
		written++
	}
	for key := range m.seen {
		if _, ok := live[key]; !ok {
			delete(m.seen, key)
		}
	}
	for ex := range m.exchanges {
		if _, ok := liveExchanges[ex]; ok {
			continue
		}
		if err := m.mirror.DeleteExchange(ctx, ex); err != nil {
			m.logger.Warn("drop mirrored exchange failed",
				slog.String("exchange", ex),
				slog.String("error", err.Error()),
			)
			continue
		}
		delete(m.exchanges, ex)
	}
	for ex := range liveExchanges {
		m.exchanges[ex] = struct{}{}
	}
	return written
}

// Run syncs on every tick until ctx is cancelled.
func (m *BookMirror) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Sync(ctx)
		}
	}
}
