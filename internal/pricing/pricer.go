// Package pricing scores directional spreads between two books of the same
// symbol: VWAP slippage, gross and fee-adjusted net spread, expected profit
// and decision latency.
package pricing

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// Candidate is a priced buy-low/sell-high spread awaiting admission.
type Candidate struct {
	Symbol         string
	BuyExchange    string
	SellExchange   string
	TradeSize      float64
	Buy            Fill
	Sell           Fill
	BuyFeePct      float64
	SellFeePct     float64
	TransferCost   float64
	GrossSpreadPct float64
	NetSpreadPct   float64
	ExpectedProfit float64
	LatencyMs      float64
	NetworkFee     domain.NetworkFee
	BuyBook        *domain.OrderBook
	SellBook       *domain.OrderBook
	DetectedAt     time.Time
}

// Liquid reports whether both legs could fill the trade size.
func (c Candidate) Liquid() bool {
	return c.Buy.Complete && c.Sell.Complete
}

// BuyCost is the quote debited on the buy exchange, fee included.
func (c Candidate) BuyCost() float64 {
	return c.TradeSize * c.Buy.VWAP * (1 + c.BuyFeePct/100)
}

// SellProceeds is the quote credited on the sell exchange after the fee and
// the transfer cost.
func (c Candidate) SellProceeds() float64 {
	return c.TradeSize*c.Sell.VWAP*(1-c.SellFeePct/100) - c.TransferCost
}

// AdmissionKey identifies the exact book state a candidate was priced on.
func (c Candidate) AdmissionKey() string {
	var bv, sv uint64
	if c.BuyBook != nil {
		bv = c.BuyBook.Version
	}
	if c.SellBook != nil {
		sv = c.SellBook.Version
	}
	return fmt.Sprintf("%s|%s|%s|%d|%d", c.Symbol, c.BuyExchange, c.SellExchange, bv, sv)
}

// Opportunity builds the immutable record for this candidate.
func (c Candidate) Opportunity(id string, status domain.OpportunityStatus, reason string) domain.Opportunity {
	o := domain.Opportunity{
		ID:             id,
		Timestamp:      c.DetectedAt,
		Symbol:         c.Symbol,
		BuyExchange:    c.BuyExchange,
		SellExchange:   c.SellExchange,
		TradeSize:      c.TradeSize,
		GrossSpreadPct: c.GrossSpreadPct,
		NetSpreadPct:   c.NetSpreadPct,
		ExpectedProfit: c.ExpectedProfit,
		LatencyMs:      c.LatencyMs,
		BuyVWAP:        c.Buy.VWAP,
		SellVWAP:       c.Sell.VWAP,
		NetworkFee:     c.NetworkFee,
		Status:         status,
		Reason:         reason,
	}
	if c.BuyBook != nil {
		o.BuyBookUpdatedAt = c.BuyBook.ReceivedAt
	}
	if c.SellBook != nil {
		o.SellBookUpdatedAt = c.SellBook.ReceivedAt
	}
	return o
}

// usable reports whether a book can be priced at now.
func usable(b *domain.OrderBook, maxAge time.Duration, now time.Time) bool {
	if b == nil || len(b.Bids) == 0 || len(b.Asks) == 0 || b.Crossed() {
		return false
	}
	if maxAge > 0 && now.Sub(b.ReceivedAt) > maxAge {
		return false
	}
	return true
}

// EvaluatePair prices the profitable direction between two books of the
// same symbol. It returns false when either book is missing, empty, crossed
// or stale, or when neither direction crosses at the top of book.
func EvaluatePair(s *domain.Settings, a, b *domain.OrderBook, now time.Time) (Candidate, bool) {
	if !usable(a, s.MaxBookAge, now) || !usable(b, s.MaxBookAge, now) {
		return Candidate{}, false
	}
	if a.Symbol != b.Symbol || a.Exchange == b.Exchange {
		return Candidate{}, false
	}

	var buy, sell *domain.OrderBook
	switch {
	case a.Asks[0].Price < b.Bids[0].Price:
		buy, sell = a, b
	case b.Asks[0].Price < a.Bids[0].Price:
		buy, sell = b, a
	default:
		return Candidate{}, false
	}

	size := s.TradeSize
	if s.SimulationVolume > 0 {
		size = s.SimulationVolume / buy.Asks[0].Price
	}
	if size <= 0 {
		return Candidate{}, false
	}

	c := Candidate{
		Symbol:       buy.Symbol,
		BuyExchange:  buy.Exchange,
		SellExchange: sell.Exchange,
		TradeSize:    size,
		Buy:          Walk(buy.Asks, size),
		Sell:         Walk(sell.Bids, size),
		BuyFeePct:    s.FeePct(buy.Exchange),
		SellFeePct:   s.FeePct(sell.Exchange),
		TransferCost: s.TransferCost,
		BuyBook:      buy,
		SellBook:     sell,
		DetectedAt:   now,
	}

	oldest := buy.ReceivedAt
	if sell.ReceivedAt.Before(oldest) {
		oldest = sell.ReceivedAt
	}
	if lat := now.Sub(oldest); lat > 0 {
		c.LatencyMs = float64(lat) / float64(time.Millisecond)
	}

	if !c.Liquid() {
		return c, true
	}

	notional := size * c.Buy.VWAP
	c.GrossSpreadPct = (c.Sell.VWAP - c.Buy.VWAP) / c.Buy.VWAP * 100
	c.NetSpreadPct = c.GrossSpreadPct - c.BuyFeePct - c.SellFeePct - s.TransferCost/notional*100
	c.ExpectedProfit = notional * c.NetSpreadPct / 100

	base, _ := domain.SplitSymbol(c.Symbol)
	c.NetworkFee = domain.NetworkFee{
		Asset: base,
		Units: s.TransferCost / c.Buy.VWAP,
		Cost:  s.TransferCost,
	}
	return c, true
}
