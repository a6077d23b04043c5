package engine

import (
	"context"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// RecordOpportunity appends a terminal opportunity to the logs and the
// spread series, forwards it to the recorder and schedules a publish.
func (e *Engine) RecordOpportunity(ctx context.Context, opp domain.Opportunity) {
	_ = e.opps.InsertBatch(ctx, []domain.Opportunity{opp})
	e.spreads.Append(domain.SpreadPointOf(opp))

	e.metrics.Opportunities.WithLabelValues(opp.Status.String(), opp.Reason).Inc()
	e.metrics.NetSpreadPercent.WithLabelValues(opp.Symbol).Observe(opp.NetSpreadPct)
	if opp.Reason == domain.ReasonBalanceChanged || opp.Reason == domain.ReasonReservationExpired {
		e.metrics.TradesAborted.Inc()
	}

	e.recorder.RecordOpportunity(ctx, opp)
	e.notify(domain.UpdateOpportunity)
}

// RecordTrade appends a settled trade and its accepted opportunity.
func (e *Engine) RecordTrade(ctx context.Context, trade domain.SimulatedTrade, opp domain.Opportunity) {
	_ = e.trades.InsertBatch(ctx, []domain.SimulatedTrade{trade})
	_ = e.opps.InsertBatch(ctx, []domain.Opportunity{opp})
	e.spreads.Append(domain.SpreadPointOf(opp))

	pnl, _ := e.trades.Totals()
	e.metrics.Opportunities.WithLabelValues(opp.Status.String(), opp.Reason).Inc()
	e.metrics.NetSpreadPercent.WithLabelValues(opp.Symbol).Observe(opp.NetSpreadPct)
	e.metrics.TradesSettled.Inc()
	e.metrics.RealizedPnL.Set(pnl)

	e.recorder.RecordTrade(ctx, trade, opp)
	e.notify(domain.UpdateTrade)
}
