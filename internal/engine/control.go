package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// rebalanceLockKey serializes rebalances across processes sharing a lock
// backend.
const rebalanceLockKey = "arbsim:lock:rebalance"

// rebalanceLockTTL bounds how long a crashed holder blocks others.
const rebalanceLockTTL = 10 * time.Second

func validSize(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// update applies fn to a copy of the current settings and swaps it in with
// the next version. On error the current settings stay in place. Caller
// holds controlMu.
func (e *Engine) update(fn func(s *domain.Settings) error) (*domain.Settings, error) {
	cur := e.settings.Load()
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version = cur.Version + 1
	e.settings.Store(next)
	return next, nil
}

// SetSymbols switches the simulated symbols. Books, the spread series and
// inventory are reset to a fresh allocation; P&L and trade history are
// kept. Running feeds are restarted on the new symbols.
func (e *Engine) SetSymbols(ctx context.Context, symbols []string) (domain.Settings, error) {
	e.controlMu.Lock()
	defer e.controlMu.Unlock()

	var next []string
	for _, sym := range symbols {
		n := domain.NormalizeSymbol(sym)
		if n == "" || slices.Contains(next, n) {
			continue
		}
		if _, ok := e.universe[n]; !ok {
			return e.Settings(), fmt.Errorf("engine: set symbols: %s: %w", n, domain.ErrUnknownSymbol)
		}
		next = append(next, n)
	}
	if len(next) == 0 {
		return e.Settings(), fmt.Errorf("engine: set symbols: none given: %w", domain.ErrUnknownSymbol)
	}
	if slices.Equal(next, e.settings.Load().Symbols) {
		return e.Settings(), nil
	}

	s, err := e.update(func(s *domain.Settings) error {
		s.Symbols = next
		return nil
	})
	if err != nil {
		return e.Settings(), err
	}

	e.books.Reset()
	e.spreads.Reset()
	e.resetEvaluated()
	e.seedInventory(s)
	for _, name := range s.EnabledExchanges() {
		if e.feeds.Running(name) {
			e.startFeed(name, s.Symbols)
		}
	}

	e.logger.Info("symbols changed", slog.Any("symbols", s.Symbols), slog.Uint64("settings_version", s.Version))
	e.auditLog(ctx, "symbols_changed", map[string]any{"symbols": s.Symbols, "version": s.Version})
	e.notify(domain.UpdateSettings)
	return *s.Clone(), nil
}

// SetTradeSize changes the base-unit trade size used from the next cycle.
func (e *Engine) SetTradeSize(ctx context.Context, size float64) (domain.Settings, error) {
	e.controlMu.Lock()
	defer e.controlMu.Unlock()

	if !validSize(size) {
		return e.Settings(), fmt.Errorf("engine: set trade size %v: %w", size, domain.ErrInvalidTradeSize)
	}
	s, _ := e.update(func(s *domain.Settings) error {
		s.TradeSize = size
		return nil
	})
	e.logger.Info("trade size changed", slog.Float64("trade_size", size), slog.Uint64("settings_version", s.Version))
	e.auditLog(ctx, "trade_size_changed", map[string]any{"trade_size": size, "version": s.Version})
	e.notify(domain.UpdateSettings)
	return *s.Clone(), nil
}

// SetSimulationVolume sets the quote notional used to size trades. Zero
// disables it; positive values are clamped to at least 1.
func (e *Engine) SetSimulationVolume(ctx context.Context, volume float64) (domain.Settings, error) {
	e.controlMu.Lock()
	defer e.controlMu.Unlock()

	if math.IsNaN(volume) || math.IsInf(volume, 0) || volume < 0 {
		return e.Settings(), fmt.Errorf("engine: set simulation volume %v: %w", volume, domain.ErrInvalidVolume)
	}
	if volume > 0 && volume < 1 {
		volume = 1
	}
	s, _ := e.update(func(s *domain.Settings) error {
		s.SimulationVolume = volume
		return nil
	})
	e.logger.Info("simulation volume changed", slog.Float64("simulation_volume", volume), slog.Uint64("settings_version", s.Version))
	e.auditLog(ctx, "simulation_volume_changed", map[string]any{"simulation_volume": volume, "version": s.Version})
	e.notify(domain.UpdateSettings)
	return *s.Clone(), nil
}

// SetExchangeEnabled enables or disables an exchange. Disabling stops its
// feed and drops its books; its inventory, in-flight trades and history
// are kept.
func (e *Engine) SetExchangeEnabled(ctx context.Context, exchange string, enabled bool) (domain.Settings, error) {
	e.controlMu.Lock()
	defer e.controlMu.Unlock()

	name := normalizeExchange(exchange)
	cur := e.settings.Load()
	ex, ok := cur.Exchanges[name]
	if !ok {
		return e.Settings(), fmt.Errorf("engine: set exchange %q: %w", exchange, domain.ErrUnknownExchange)
	}
	if ex.Enabled == enabled {
		return e.Settings(), nil
	}

	s, _ := e.update(func(s *domain.Settings) error {
		ex.Enabled = enabled
		s.Exchanges[name] = ex
		return nil
	})

	if enabled {
		if e.running.Load() {
			e.startFeed(name, s.Symbols)
		}
	} else {
		e.feeds.Stop(name)
		e.books.DropExchange(name)
	}

	e.logger.Info("exchange toggled", slog.String("exchange", name), slog.Bool("enabled", enabled), slog.Uint64("settings_version", s.Version))
	e.auditLog(ctx, "exchange_toggled", map[string]any{"exchange": name, "enabled": enabled, "version": s.Version})
	e.notify(domain.UpdateSettings)
	return *s.Clone(), nil
}

// SetExchangeFee changes the trading fee of an exchange, in percent.
func (e *Engine) SetExchangeFee(ctx context.Context, exchange string, feePct float64) (domain.Settings, error) {
	e.controlMu.Lock()
	defer e.controlMu.Unlock()

	name := normalizeExchange(exchange)
	if _, ok := e.settings.Load().Exchanges[name]; !ok {
		return e.Settings(), fmt.Errorf("engine: set fee %q: %w", exchange, domain.ErrUnknownExchange)
	}
	if math.IsNaN(feePct) || math.IsInf(feePct, 0) || feePct < 0 || feePct >= 100 {
		return e.Settings(), fmt.Errorf("engine: set fee %v: %w", feePct, domain.ErrInvalidFee)
	}
	s, _ := e.update(func(s *domain.Settings) error {
		ex := s.Exchanges[name]
		ex.FeePct = feePct
		s.Exchanges[name] = ex
		return nil
	})
	e.auditLog(ctx, "exchange_fee_changed", map[string]any{"exchange": name, "fee_pct": feePct, "version": s.Version})
	e.notify(domain.UpdateSettings)
	return *s.Clone(), nil
}

// SetAutoExecute toggles simulated execution of accepted opportunities.
func (e *Engine) SetAutoExecute(ctx context.Context, on bool) (domain.Settings, error) {
	e.controlMu.Lock()
	defer e.controlMu.Unlock()

	s, _ := e.update(func(s *domain.Settings) error {
		s.AutoExecute = on
		return nil
	})
	e.auditLog(ctx, "auto_execute_changed", map[string]any{"auto_execute": on, "version": s.Version})
	e.notify(domain.UpdateSettings)
	return *s.Clone(), nil
}

// Rebalance moves quote capital across the enabled exchanges toward their
// mean. Concurrent rebalances are refused with domain.ErrLockHeld.
func (e *Engine) Rebalance(ctx context.Context) (domain.RebalanceResult, error) {
	unlock, err := e.locks.Acquire(ctx, rebalanceLockKey, rebalanceLockTTL)
	if err != nil {
		return domain.RebalanceResult{}, fmt.Errorf("engine: rebalance: %w", err)
	}
	defer unlock()

	s := e.settings.Load()
	_, quote := domain.SplitSymbol(s.PrimarySymbol())
	res := e.rebalancer.Rebalance(s.EnabledExchanges(), quote, s.TransferCost)

	e.metrics.Rebalances.Inc()
	e.auditLog(ctx, "rebalance", map[string]any{
		"transfers":     res.TransfersExecuted,
		"quote_moved":   res.QuoteMoved,
		"costs_applied": res.CostsApplied,
		"target_quote":  res.TargetQuote,
	})
	e.recorder.RecordRebalance(ctx, res)
	e.notify(domain.UpdateInventory)
	return res, nil
}

func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.Warn("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
