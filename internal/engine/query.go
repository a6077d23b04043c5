package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// Snapshot builds the current status view.
func (e *Engine) Snapshot() domain.Snapshot {
	s := e.settings.Load()
	base, quote := domain.SplitSymbol(s.PrimarySymbol())
	now := time.Now()

	marks := make(map[string]float64)
	active := make(map[string]bool)
	for _, sym := range s.Symbols {
		symBase, symQuote := domain.SplitSymbol(sym)
		var sum float64
		var n int
		for name, b := range e.books.Books(sym) {
			if !s.Enabled(name) {
				continue
			}
			if s.MaxBookAge <= 0 || now.Sub(b.ReceivedAt) <= s.MaxBookAge {
				active[name] = true
			}
			if mid := b.MidPrice(); mid > 0 {
				sum += mid
				n++
			}
		}
		if symQuote != quote {
			continue
		}
		switch {
		case n > 0:
			marks[symBase] = sum / float64(n)
		case marks[symBase] == 0:
			marks[symBase] = domain.BootstrapPrice(sym)
		}
	}

	views := e.inventory.Views(base, quote, marks, s.Enabled)
	var balance float64
	for _, v := range views {
		balance += v.QuoteValue
	}

	names := make([]string, 0, len(s.Exchanges))
	for name := range s.Exchanges {
		names = append(names, name)
	}
	sort.Strings(names)
	states := make([]domain.ExchangeState, 0, len(names))
	activeNames := make([]string, 0, len(active))
	for _, name := range names {
		ex := s.Exchanges[name]
		st := e.feeds.Status(name)
		kind := ex.Kind
		if kind == "" {
			kind = e.feeds.Kind(name)
		}
		states = append(states, domain.ExchangeState{
			Exchange:   name,
			Kind:       kind,
			Enabled:    ex.Enabled,
			FeePct:     ex.FeePct,
			Connected:  ex.Enabled && st.Connected,
			LastUpdate: st.LastUpdate,
		})
		if active[name] {
			activeNames = append(activeNames, name)
		}
	}

	pnl, count := e.trades.Totals()
	snap := domain.Snapshot{
		SettingsVersion:  s.Version,
		Symbols:          append([]string(nil), s.Symbols...),
		BaseAsset:        base,
		QuoteAsset:       quote,
		TradeSize:        s.TradeSize,
		SimulationVolume: s.SimulationVolume,
		Balance:          balance,
		TotalPnL:         pnl,
		TradeCount:       count,
		ActiveExchanges:  activeNames,
		ExchangeStates:   states,
		Inventory:        views,
		PendingTrades:    e.executor.Pending(),
		GeneratedAt:      now.UTC(),
	}
	if latest, ok := e.opps.Latest(); ok {
		snap.LatestOpportunity = &latest
	}
	return snap
}

// Opportunities queries the opportunity log. The durable store is used
// when configured; on error the in-memory window answers instead.
func (e *Engine) Opportunities(ctx context.Context, opts domain.ListOpts) ([]domain.Opportunity, error) {
	opts = opts.Normalize()
	if e.durableOpps != nil {
		out, err := e.durableOpps.List(ctx, opts)
		if err == nil {
			return out, nil
		}
		e.logger.Warn("durable opportunity query failed, using memory", slog.String("error", err.Error()))
	}
	return e.opps.List(ctx, opts)
}

// Trades queries the trade log with the same fallback as Opportunities.
func (e *Engine) Trades(ctx context.Context, opts domain.ListOpts) ([]domain.SimulatedTrade, error) {
	opts = opts.Normalize()
	if e.durableTrades != nil {
		out, err := e.durableTrades.List(ctx, opts)
		if err == nil {
			return out, nil
		}
		e.logger.Warn("durable trade query failed, using memory", slog.String("error", err.Error()))
	}
	return e.trades.List(ctx, opts)
}

// Spreads returns the newest limit points of the spread series in
// timestamp order.
func (e *Engine) Spreads(limit int) []domain.SpreadPoint {
	return e.spreads.Recent(limit)
}

// Book returns the stored book for an exchange and symbol.
func (e *Engine) Book(exchange, symbol string) (*domain.OrderBook, error) {
	b, ok := e.books.Book(normalizeExchange(exchange), domain.NormalizeSymbol(symbol))
	if !ok {
		return nil, fmt.Errorf("engine: book %s/%s: %w", exchange, symbol, domain.ErrNotFound)
	}
	return b, nil
}

// Books returns every stored book.
func (e *Engine) Books() []*domain.OrderBook {
	return e.books.All()
}

// Inventory returns the wallet views valued at live mid prices.
func (e *Engine) Inventory() []domain.WalletView {
	return e.Snapshot().Inventory
}

// PendingTrades returns the number of trades waiting on leg timers.
func (e *Engine) PendingTrades() int {
	return e.executor.Pending()
}
