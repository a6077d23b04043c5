package domain

import (
	"fmt"
	"time"
)

// OpportunityStatus is the terminal admission outcome of a candidate spread.
type OpportunityStatus uint8

const (
	StatusAccepted OpportunityStatus = iota + 1
	StatusDiscarded
	StatusNoFunds
	StatusInsufficientLiquidity
)

var statusNames = map[OpportunityStatus]string{
	StatusAccepted:              "accepted",
	StatusDiscarded:             "discarded",
	StatusNoFunds:               "no_funds",
	StatusInsufficientLiquidity: "insufficient_liquidity",
}

// String returns the wire name of the status.
func (s OpportunityStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("OpportunityStatus(%d)", uint8(s))
}

// Valid reports whether s is one of the four terminal states.
func (s OpportunityStatus) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (s OpportunityStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("domain: invalid opportunity status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *OpportunityStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseOpportunityStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseOpportunityStatus maps a wire name back to its status.
func ParseOpportunityStatus(name string) (OpportunityStatus, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("domain: unknown opportunity status %q", name)
}

// Admission reasons recorded on opportunities.
const (
	ReasonProfitable         = "profitable"
	ReasonBelowThreshold     = "below_threshold"
	ReasonInsufficientDepth  = "insufficient_depth"
	ReasonDepthReserved      = "depth_reserved"
	ReasonInsufficientQuote  = "insufficient_quote"
	ReasonInsufficientBase   = "insufficient_base"
	ReasonBalanceChanged     = "balance_changed"
	ReasonManualExecution    = "auto_execute_disabled"
	ReasonReservationExpired = "reservation_expired"
)

// NetworkFee is the modeled cost of moving inventory between exchanges.
type NetworkFee struct {
	Asset string  `json:"asset"`
	Units float64 `json:"units"`
	Cost  float64 `json:"cost"`
}

// Opportunity is an immutable admission record for one directional spread.
type Opportunity struct {
	ID                string            `json:"id"`
	Timestamp         time.Time         `json:"timestamp"`
	Symbol            string            `json:"symbol"`
	BuyExchange       string            `json:"buy_exchange"`
	SellExchange      string            `json:"sell_exchange"`
	TradeSize         float64           `json:"trade_size"`
	GrossSpreadPct    float64           `json:"gross_spread_pct"`
	NetSpreadPct      float64           `json:"net_spread_pct"`
	ExpectedProfit    float64           `json:"expected_profit"`
	LatencyMs         float64           `json:"latency_ms"`
	BuyVWAP           float64           `json:"buy_vwap"`
	SellVWAP          float64           `json:"sell_vwap"`
	NetworkFee        NetworkFee        `json:"network_fee"`
	Status            OpportunityStatus `json:"status"`
	Reason            string            `json:"reason"`
	TriggerExchange   string            `json:"trigger_exchange,omitempty"`
	BuyBookUpdatedAt  time.Time         `json:"buy_book_updated_at"`
	SellBookUpdatedAt time.Time         `json:"sell_book_updated_at"`
}

// Pair returns the "buy->sell" label used in spread series.
func (o Opportunity) Pair() string {
	return o.BuyExchange + "->" + o.SellExchange
}

// WithStatus returns a copy of o carrying a different terminal status.
// The original value is left untouched.
func (o Opportunity) WithStatus(status OpportunityStatus, reason string) Opportunity {
	o.Status = status
	o.Reason = reason
	return o
}

// SpreadPoint is the condensed charting projection of an Opportunity.
type SpreadPoint struct {
	Timestamp       time.Time         `json:"timestamp"`
	Symbol          string            `json:"symbol"`
	Pair            string            `json:"pair"`
	TriggerExchange string            `json:"trigger_exchange,omitempty"`
	GrossSpreadPct  float64           `json:"gross_spread_pct"`
	NetSpreadPct    float64           `json:"net_spread_pct"`
	ExpectedProfit  float64           `json:"expected_profit"`
	Status          OpportunityStatus `json:"status"`
	Reason          string            `json:"reason"`
	LatencyMs       float64           `json:"latency_ms"`
}

// SpreadPointOf projects an opportunity onto the spread series.
func SpreadPointOf(o Opportunity) SpreadPoint {
	return SpreadPoint{
		Timestamp:       o.Timestamp,
		Symbol:          o.Symbol,
		Pair:            o.Pair(),
		TriggerExchange: o.TriggerExchange,
		GrossSpreadPct:  o.GrossSpreadPct,
		NetSpreadPct:    o.NetSpreadPct,
		ExpectedProfit:  o.ExpectedProfit,
		Status:          o.Status,
		Reason:          o.Reason,
		LatencyMs:       o.LatencyMs,
	}
}
