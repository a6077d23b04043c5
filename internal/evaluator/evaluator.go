// Package evaluator classifies priced candidates into terminal opportunity
// statuses and reserves book depth and funds for accepted ones.
package evaluator

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbsim/internal/domain"
	"github.com/alanyoungcy/arbsim/internal/pricing"
	"github.com/alanyoungcy/arbsim/internal/reservation"
)

// Funds reports spendable wallet balances.
type Funds interface {
	Available(exchange, asset string) float64
}

// Reserver performs the atomic compare-and-reserve.
type Reserver interface {
	Reserve(req reservation.Request) (domain.Reservation, error)
	Release(id string) bool
}

// Admission is the outcome of evaluating one candidate.
type Admission struct {
	Opportunity domain.Opportunity
	Candidate   pricing.Candidate
	// Reservation is set only for accepted opportunities.
	Reservation *domain.Reservation
}

// Evaluator applies the admission policy.
type Evaluator struct {
	funds  Funds
	ledger Reserver
	logger *slog.Logger
}

// New creates an Evaluator.
func New(funds Funds, ledger Reserver, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		funds:  funds,
		ledger: ledger,
		logger: logger.With(slog.String("component", "evaluator")),
	}
}

// Admit classifies c under settings s. Checks run in order: liquidity,
// funds, profitability threshold, reservation. It returns false when the
// exact book state behind c is already reserved, in which case nothing is
// recorded.
func (e *Evaluator) Admit(s *domain.Settings, c pricing.Candidate) (Admission, bool) {
	id := uuid.NewString()
	reject := func(status domain.OpportunityStatus, reason string) (Admission, bool) {
		e.logger.Debug("candidate rejected",
			slog.String("symbol", c.Symbol),
			slog.String("pair", c.BuyExchange+"->"+c.SellExchange),
			slog.String("status", status.String()),
			slog.String("reason", reason),
			slog.Float64("net_spread_pct", c.NetSpreadPct),
		)
		return Admission{Opportunity: c.Opportunity(id, status, reason), Candidate: c}, true
	}

	if !c.Liquid() {
		return reject(domain.StatusInsufficientLiquidity, domain.ReasonInsufficientDepth)
	}

	base, quote := domain.SplitSymbol(c.Symbol)
	if e.funds.Available(c.BuyExchange, quote) < c.BuyCost() {
		return reject(domain.StatusNoFunds, domain.ReasonInsufficientQuote)
	}
	if e.funds.Available(c.SellExchange, base) < c.TradeSize {
		return reject(domain.StatusNoFunds, domain.ReasonInsufficientBase)
	}

	if c.NetSpreadPct <= s.MinNetSpreadPct || c.ExpectedProfit < s.MinProfit {
		return reject(domain.StatusDiscarded, domain.ReasonBelowThreshold)
	}

	r, err := e.ledger.Reserve(reservation.Request{
		Key:    c.AdmissionKey(),
		Symbol: c.Symbol,
		Legs: []reservation.LegRequest{
			{Exchange: c.BuyExchange, Side: domain.SideAsk, Size: c.TradeSize, Depth: c.BuyBook.Depth(domain.SideAsk)},
			{Exchange: c.SellExchange, Side: domain.SideBid, Size: c.TradeSize, Depth: c.SellBook.Depth(domain.SideBid)},
		},
		Holds: []domain.FundsHold{
			{Exchange: c.BuyExchange, Asset: quote, Amount: c.BuyCost()},
			{Exchange: c.SellExchange, Asset: base, Amount: c.TradeSize},
		},
		TTL: s.ReservationTTL,
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadyReserved):
		return Admission{}, false
	case errors.Is(err, domain.ErrDepthReserved):
		return reject(domain.StatusInsufficientLiquidity, domain.ReasonDepthReserved)
	case errors.Is(err, domain.ErrInsufficientFunds):
		var short *domain.FundsError
		if errors.As(err, &short) && short.Exchange == c.SellExchange && short.Asset == base {
			return reject(domain.StatusNoFunds, domain.ReasonInsufficientBase)
		}
		return reject(domain.StatusNoFunds, domain.ReasonInsufficientQuote)
	default:
		e.logger.Warn("reservation failed", slog.String("error", err.Error()))
		return reject(domain.StatusInsufficientLiquidity, domain.ReasonDepthReserved)
	}

	return Admission{
		Opportunity: c.Opportunity(id, domain.StatusAccepted, domain.ReasonProfitable),
		Candidate:   c,
		Reservation: &r,
	}, true
}
