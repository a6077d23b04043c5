package domain

import (
	"sort"
	"time"
)

// ExchangeSettings is the runtime policy for one exchange.
type ExchangeSettings struct {
	Kind    string  `json:"kind"`
	FeePct  float64 `json:"fee_pct"`
	Enabled bool    `json:"enabled"`
}

// Settings is the versioned runtime configuration read by every evaluation
// cycle. A published Settings value is never modified; control operations
// build a modified copy with Clone and swap it in.
type Settings struct {
	Version          uint64                      `json:"version"`
	Symbols          []string                    `json:"symbols"`
	TradeSize        float64                     `json:"trade_size"`
	SimulationVolume float64                     `json:"simulation_volume"`
	TransferCost     float64                     `json:"transfer_cost"`
	MinNetSpreadPct  float64                     `json:"min_net_spread_pct"`
	MinProfit        float64                     `json:"min_profit"`
	AutoExecute      bool                        `json:"auto_execute"`
	ReservationTTL   time.Duration               `json:"reservation_ttl"`
	MaxBookAge       time.Duration               `json:"max_book_age"`
	Exchanges        map[string]ExchangeSettings `json:"exchanges"`
}

// Clone returns a deep copy that the caller may modify.
func (s *Settings) Clone() *Settings {
	c := *s
	c.Symbols = append([]string(nil), s.Symbols...)
	c.Exchanges = make(map[string]ExchangeSettings, len(s.Exchanges))
	for k, v := range s.Exchanges {
		c.Exchanges[k] = v
	}
	return &c
}

// FeePct returns the trading fee of an exchange in percent.
func (s *Settings) FeePct(exchange string) float64 {
	return s.Exchanges[exchange].FeePct
}

// Enabled reports whether an exchange is configured and enabled.
func (s *Settings) Enabled(exchange string) bool {
	ex, ok := s.Exchanges[exchange]
	return ok && ex.Enabled
}

// EnabledExchanges returns the enabled exchange names in stable order.
func (s *Settings) EnabledExchanges() []string {
	var out []string
	for name, ex := range s.Exchanges {
		if ex.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// HasSymbol reports whether symbol is currently simulated.
func (s *Settings) HasSymbol(symbol string) bool {
	for _, sym := range s.Symbols {
		if sym == symbol {
			return true
		}
	}
	return false
}

// PrimarySymbol is the first simulated symbol, used for snapshot base/quote.
func (s *Settings) PrimarySymbol() string {
	if len(s.Symbols) == 0 {
		return ""
	}
	return s.Symbols[0]
}
