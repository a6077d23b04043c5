package engine

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbsim/internal/domain"
	"github.com/alanyoungcy/arbsim/internal/pricing"
)

type pairJob struct {
	a, b *domain.OrderBook
}

// markDirty flags symbol for the next evaluation pass. With no eval
// interval the scheduler is woken immediately.
func (e *Engine) markDirty(symbol string) {
	e.dirtyMu.Lock()
	e.dirty[symbol] = struct{}{}
	e.dirtyMu.Unlock()
	if e.cfg.EvalInterval <= 0 {
		select {
		case e.kick <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) takeDirty() []string {
	e.dirtyMu.Lock()
	defer e.dirtyMu.Unlock()
	out := make([]string, 0, len(e.dirty))
	for sym := range e.dirty {
		out = append(out, sym)
	}
	clear(e.dirty)
	sort.Strings(out)
	return out
}

func (e *Engine) runScheduler(ctx context.Context) error {
	var tick <-chan time.Time
	if e.cfg.EvalInterval > 0 {
		t := time.NewTicker(e.cfg.EvalInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		case <-e.kick:
		}
		e.Evaluate(ctx)
		e.metrics.PendingTrades.Set(float64(e.executor.Pending()))
		e.metrics.ActiveReservations.Set(float64(e.ledger.Active()))
	}
}

// Evaluate runs one pass over the dirty symbols. Every enabled exchange
// pair whose book versions changed since its last evaluation is priced and
// admitted on the worker pool. One settings value is used for the whole
// pass.
func (e *Engine) Evaluate(ctx context.Context) {
	symbols := e.takeDirty()
	if len(symbols) == 0 {
		return
	}
	start := time.Now()
	s := e.settings.Load()

	var jobs []pairJob
	for _, sym := range symbols {
		if !s.HasSymbol(sym) {
			continue
		}
		books := e.books.Books(sym)
		names := make([]string, 0, len(books))
		for name := range books {
			if s.Enabled(name) {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for i := 0; i < len(names); i++ {
			for j := i + 1; j < len(names); j++ {
				a, b := books[names[i]], books[names[j]]
				if e.changed(a, b) {
					jobs = append(jobs, pairJob{a: a, b: b})
				}
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, job := range jobs {
		g.Go(func() error {
			e.evaluatePair(gctx, s, job)
			return nil
		})
	}
	_ = g.Wait()

	e.metrics.EvalPasses.Inc()
	e.metrics.EvalDuration.Observe(time.Since(start).Seconds())
}

// changed records the versions of a pair and reports whether either moved.
func (e *Engine) changed(a, b *domain.OrderBook) bool {
	key := a.Symbol + "|" + a.Exchange + "|" + b.Exchange
	versions := [2]uint64{a.Version, b.Version}
	e.evalMu.Lock()
	defer e.evalMu.Unlock()
	if e.evaluated[key] == versions {
		return false
	}
	e.evaluated[key] = versions
	return true
}

func (e *Engine) resetEvaluated() {
	e.evalMu.Lock()
	clear(e.evaluated)
	e.evalMu.Unlock()
	e.dirtyMu.Lock()
	clear(e.dirty)
	e.dirtyMu.Unlock()
}

func (e *Engine) evaluatePair(ctx context.Context, s *domain.Settings, job pairJob) {
	e.metrics.PairsEvaluated.Inc()
	c, ok := pricing.EvaluatePair(s, job.a, job.b, time.Now())
	if !ok {
		return
	}
	adm, ok := e.evaluator.Admit(s, c)
	if !ok {
		return
	}
	trigger := job.a.Exchange
	if job.b.Version > job.a.Version {
		trigger = job.b.Exchange
	}
	adm.Opportunity.TriggerExchange = trigger

	if adm.Opportunity.Status != domain.StatusAccepted {
		e.RecordOpportunity(ctx, adm.Opportunity)
		return
	}
	if !s.AutoExecute {
		e.ledger.Release(adm.Reservation.ID)
		e.RecordOpportunity(ctx, adm.Opportunity.WithStatus(domain.StatusAccepted, domain.ReasonManualExecution))
		return
	}
	if err := e.executor.Submit(ctx, adm); err != nil {
		e.ledger.Release(adm.Reservation.ID)
		e.logger.Warn("accepted opportunity not submitted",
			slog.String("opportunity_id", adm.Opportunity.ID),
			slog.String("error", err.Error()),
		)
	}
}
