// Package executor simulates the completion of accepted opportunities. Each
// leg is assigned a latency; the trade settles against inventory at the
// priced VWAP once the slower leg completes.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbsim/internal/domain"
	"github.com/alanyoungcy/arbsim/internal/evaluator"
)

// Settler applies a trade to wallets.
type Settler interface {
	Settle(s domain.Settlement) error
}

// Ledger releases reservations.
type Ledger interface {
	Get(id string) (domain.Reservation, bool)
	Release(id string) bool
	Sweep() []domain.Reservation
}

// Journal receives the final records of every admission.
type Journal interface {
	RecordOpportunity(ctx context.Context, opp domain.Opportunity)
	RecordTrade(ctx context.Context, trade domain.SimulatedTrade, opp domain.Opportunity)
}

// Executor reads admissions from its queue, schedules them on leg timers and
// settles them. Settlement failures are reclassified, never fatal.
type Executor struct {
	submitCh  chan evaluator.Admission
	inventory Settler
	ledger    Ledger
	journal   Journal
	latency   LatencyModel
	sched     *schedule
	logger    *slog.Logger

	cleanupInterval time.Duration
}

// New creates an Executor with a submission queue of queueSize.
func New(inventory Settler, ledger Ledger, journal Journal, latency LatencyModel, queueSize int, logger *slog.Logger) *Executor {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Executor{
		submitCh:        make(chan evaluator.Admission, queueSize),
		inventory:       inventory,
		ledger:          ledger,
		journal:         journal,
		latency:         latency,
		sched:           newSchedule(2 * time.Minute),
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: time.Second,
	}
}

// SetCleanupInterval changes how often expired reservations are swept.
// Must be called before Run.
func (e *Executor) SetCleanupInterval(d time.Duration) {
	if d > 0 {
		e.cleanupInterval = d
	}
}

// Submit queues an accepted admission for execution.
func (e *Executor) Submit(ctx context.Context, adm evaluator.Admission) error {
	if adm.Reservation == nil || adm.Opportunity.Status != domain.StatusAccepted {
		return fmt.Errorf("executor: submit %s: not an accepted admission", adm.Opportunity.ID)
	}
	select {
	case e.submitCh <- adm:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of trades waiting on their leg timers.
func (e *Executor) Pending() int {
	return e.sched.len()
}

// Run processes submissions until ctx is cancelled, then waits up to
// drainTimeout for pending trades and cancels whatever is left.
func (e *Executor) Run(ctx context.Context, drainTimeout time.Duration) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			e.Shutdown(shutdownCtx)
			cancel()
			return ctx.Err()

		case adm := <-e.submitCh:
			e.schedule(adm)

		case <-cleanupTicker.C:
			e.sched.cleanup()
			for _, r := range e.ledger.Sweep() {
				e.logger.Warn("reservation expired before settlement",
					slog.String("reservation_id", r.ID),
					slog.String("key", r.Key),
				)
			}
		}
	}
}

// drain schedules admissions already queued when shutdown started.
func (e *Executor) drain() {
	for {
		select {
		case adm := <-e.submitCh:
			e.schedule(adm)
		default:
			return
		}
	}
}

// Shutdown stops accepting trades, waits for pending ones until ctx is done,
// then cancels the rest and releases their reservations.
func (e *Executor) Shutdown(ctx context.Context) {
	e.sched.close()
	if e.sched.wait(ctx.Done()) {
		return
	}
	if n := e.sched.cancelAll(); n > 0 {
		e.logger.Warn("cancelled pending trades on shutdown", slog.Int("count", n))
	}
}

func (e *Executor) schedule(adm evaluator.Admission) {
	opp := adm.Opportunity
	buyLat, sellLat := e.latency.Legs(opp)
	delay := buyLat
	if sellLat > delay {
		delay = sellLat
	}

	err := e.sched.add(opp.ID, delay,
		func() { e.complete(adm, buyLat, sellLat) },
		func() { e.ledger.Release(adm.Reservation.ID) },
	)
	switch {
	case errors.Is(err, domain.ErrShuttingDown):
		e.ledger.Release(adm.Reservation.ID)
		e.logger.Warn("submission after shutdown, reservation released", slog.String("opportunity_id", opp.ID))
		return
	case err != nil:
		e.logger.Debug("duplicate submission ignored", slog.String("opportunity_id", opp.ID))
		return
	}
	e.logger.Debug("trade scheduled",
		slog.String("opportunity_id", opp.ID),
		slog.Duration("buy_latency", buyLat),
		slog.Duration("sell_latency", sellLat),
	)
}

func (e *Executor) complete(adm evaluator.Admission, buyLat, sellLat time.Duration) {
	ctx := context.Background()
	opp := adm.Opportunity
	c := adm.Candidate
	resID := adm.Reservation.ID
	log := e.logger.With(
		slog.String("opportunity_id", opp.ID),
		slog.String("pair", opp.Pair()),
	)

	if _, ok := e.ledger.Get(resID); !ok {
		log.Warn("reservation expired before legs completed")
		e.journal.RecordOpportunity(ctx, opp.WithStatus(domain.StatusInsufficientLiquidity, domain.ReasonReservationExpired))
		return
	}

	base, quote := domain.SplitSymbol(opp.Symbol)
	err := e.inventory.Settle(domain.Settlement{
		ReservationID: resID,
		BuyExchange:   opp.BuyExchange,
		SellExchange:  opp.SellExchange,
		BaseAsset:     base,
		QuoteAsset:    quote,
		Size:          opp.TradeSize,
		BuyCost:       c.BuyCost(),
		SellProceeds:  c.SellProceeds(),
	})
	e.ledger.Release(resID)

	if err != nil {
		if !errors.Is(err, domain.ErrInsufficientFunds) {
			log.Error("settlement failed", slog.String("error", err.Error()))
		} else {
			log.Warn("trade aborted, balance changed since admission", slog.String("error", err.Error()))
		}
		e.journal.RecordOpportunity(ctx, opp.WithStatus(domain.StatusNoFunds, domain.ReasonBalanceChanged))
		return
	}

	buyMs := float64(buyLat) / float64(time.Millisecond)
	sellMs := float64(sellLat) / float64(time.Millisecond)
	execMs := buyMs
	if sellMs > execMs {
		execMs = sellMs
	}
	syncMs := buyMs - sellMs
	if syncMs < 0 {
		syncMs = -syncMs
	}

	trade := domain.SimulatedTrade{
		ID:            uuid.NewString(),
		OpportunityID: opp.ID,
		Timestamp:     opp.Timestamp,
		Symbol:        opp.Symbol,
		BuyExchange:   opp.BuyExchange,
		SellExchange:  opp.SellExchange,
		Size:          opp.TradeSize,
		BuyVWAP:       opp.BuyVWAP,
		SellVWAP:      opp.SellVWAP,
		PnL:           opp.ExpectedProfit,
		LatencyMs:     opp.LatencyMs + execMs,
		Legs: domain.LegTiming{
			BuyLatencyMs:  buyMs,
			SellLatencyMs: sellMs,
			SyncDelayMs:   syncMs,
		},
		SettledAt: time.Now().UTC(),
	}
	log.Info("trade settled",
		slog.Float64("size", trade.Size),
		slog.Float64("pnl", trade.PnL),
		slog.Float64("sync_delay_ms", syncMs),
	)
	e.journal.RecordTrade(ctx, trade, opp)
}
