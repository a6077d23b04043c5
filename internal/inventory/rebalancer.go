package inventory

import (
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// Rebalancer moves quote capital toward the mean allocation.
type Rebalancer struct {
	inv         *Inventory
	minTransfer decimal.Decimal
	logger      *slog.Logger
}

// NewRebalancer creates a Rebalancer. Deviations from the target at or below
// max(minTransfer, transfer cost) are left alone.
func NewRebalancer(inv *Inventory, minTransfer float64, logger *slog.Logger) *Rebalancer {
	if minTransfer < 0 {
		minTransfer = 0
	}
	return &Rebalancer{
		inv:         inv,
		minTransfer: decimal.NewFromFloat(minTransfer),
		logger:      logger.With(slog.String("component", "rebalancer")),
	}
}

// dust is the smallest deviation worth a transfer when neither the minimum
// transfer nor the cost sets a floor.
var dust = decimal.New(1, -9)

// maxRounds bounds the passes of one Rebalance call. Each pass lowers the
// mean by the costs it applied, so later passes only see leftovers.
const maxRounds = 16

type leg struct {
	exchange  string
	remaining decimal.Decimal
}

// Rebalance equalizes quoteAsset across exchanges. Each transfer debits the
// source by amount plus transferCost and credits the destination by amount.
// A source never drops below the funds held for pending trades. Passes repeat
// until one finds nothing to move, so an immediate second call is a no-op.
func (r *Rebalancer) Rebalance(exchanges []string, quoteAsset string, transferCost float64) domain.RebalanceResult {
	cost := decimal.NewFromFloat(transferCost)
	if cost.IsNegative() {
		cost = decimal.Zero
	}
	tol := decimal.Max(r.minTransfer, cost, dust)

	var result domain.RebalanceResult
	_ = r.inv.withLocked(exchanges, func(ws map[string]*wallet) error {
		var names []string
		for ex, w := range ws {
			if w != nil {
				names = append(names, ex)
			}
		}
		if len(names) == 0 {
			return nil
		}
		sort.Strings(names)
		result.TargetQuote = meanQuote(ws, names, quoteAsset).InexactFloat64()
		if len(names) < 2 {
			return nil
		}

		moved, costs := decimal.Zero, decimal.Zero
		for round := 0; round < maxRounds; round++ {
			transfers, amount := r.pass(ws, names, quoteAsset, cost, tol)
			if len(transfers) == 0 {
				break
			}
			moved = moved.Add(amount)
			costs = costs.Add(cost.Mul(decimal.NewFromInt(int64(len(transfers)))))
			result.Transfers = append(result.Transfers, transfers...)
		}
		result.TransfersExecuted = len(result.Transfers)
		result.QuoteMoved = moved.InexactFloat64()
		result.CostsApplied = costs.InexactFloat64()
		return nil
	})

	if result.TransfersExecuted > 0 {
		r.logger.Info("rebalance complete",
			slog.Int("transfers", result.TransfersExecuted),
			slog.Float64("quote_moved", result.QuoteMoved),
			slog.Float64("costs", result.CostsApplied),
			slog.Float64("target", result.TargetQuote),
		)
	}
	return result
}

func meanQuote(ws map[string]*wallet, names []string, quoteAsset string) decimal.Decimal {
	total := decimal.Zero
	for _, ex := range names {
		total = total.Add(ws[ex].balances[quoteAsset])
	}
	return total.Div(decimal.NewFromInt(int64(len(names))))
}

// pass matches surpluses against deficits once, largest first. Only
// deviations and transfers above tol count; a source must keep enough
// surplus to pay the cost of what it sends.
func (r *Rebalancer) pass(ws map[string]*wallet, names []string, quoteAsset string, cost, tol decimal.Decimal) ([]domain.Transfer, decimal.Decimal) {
	target := meanQuote(ws, names, quoteAsset)

	var sources, sinks []*leg
	for _, ex := range names {
		w := ws[ex]
		switch dev := w.balances[quoteAsset].Sub(target); {
		case dev.GreaterThan(tol):
			capped := decimal.Min(dev, w.available(quoteAsset))
			if capped.Sub(cost).GreaterThan(tol) {
				sources = append(sources, &leg{exchange: ex, remaining: capped})
			}
		case dev.Neg().GreaterThan(tol):
			sinks = append(sinks, &leg{exchange: ex, remaining: dev.Neg()})
		}
	}
	byRemaining := func(ls []*leg) {
		sort.SliceStable(ls, func(i, j int) bool { return ls[i].remaining.GreaterThan(ls[j].remaining) })
	}
	byRemaining(sources)
	byRemaining(sinks)

	var out []domain.Transfer
	moved := decimal.Zero
	for i, j := 0, 0; i < len(sources) && j < len(sinks); {
		src, dst := sources[i], sinks[j]
		amount := decimal.Min(src.remaining.Sub(cost), dst.remaining)
		if amount.LessThanOrEqual(tol) {
			if src.remaining.Sub(cost).LessThanOrEqual(dst.remaining) {
				i++
			} else {
				j++
			}
			continue
		}

		ws[src.exchange].balances[quoteAsset] = ws[src.exchange].balances[quoteAsset].Sub(amount.Add(cost))
		ws[dst.exchange].balances[quoteAsset] = ws[dst.exchange].balances[quoteAsset].Add(amount)
		src.remaining = src.remaining.Sub(amount.Add(cost))
		dst.remaining = dst.remaining.Sub(amount)
		moved = moved.Add(amount)
		out = append(out, domain.Transfer{
			From:   src.exchange,
			To:     dst.exchange,
			Asset:  quoteAsset,
			Amount: amount.InexactFloat64(),
			Cost:   cost.InexactFloat64(),
		})

		if src.remaining.Sub(cost).LessThanOrEqual(tol) {
			i++
		}
		if dst.remaining.LessThanOrEqual(tol) {
			j++
		}
	}
	return out, moved
}
