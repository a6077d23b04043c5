package domain

import "time"

// LegTiming records the simulated completion of both legs of a trade.
type LegTiming struct {
	BuyLatencyMs  float64 `json:"buy_latency_ms"`
	SellLatencyMs float64 `json:"sell_latency_ms"`
	SyncDelayMs   float64 `json:"sync_delay_ms"`
}

// SimulatedTrade is the settled result of an accepted opportunity.
type SimulatedTrade struct {
	ID            string    `json:"id"`
	OpportunityID string    `json:"opportunity_id"`
	Timestamp     time.Time `json:"timestamp"`
	Symbol        string    `json:"symbol"`
	BuyExchange   string    `json:"buy_exchange"`
	SellExchange  string    `json:"sell_exchange"`
	Size          float64   `json:"size"`
	BuyVWAP       float64   `json:"buy_vwap"`
	SellVWAP      float64   `json:"sell_vwap"`
	PnL           float64   `json:"pnl"`
	LatencyMs     float64   `json:"latency_ms"`
	Legs          LegTiming `json:"legs"`
	SettledAt     time.Time `json:"settled_at"`
}
