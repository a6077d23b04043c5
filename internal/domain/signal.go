package domain

import "time"

// Signal bus channel and stream names.
const (
	ChannelUpdates      = "arbsim:updates"
	StreamOpportunities = "arbsim:stream:opportunities"
	StreamTrades        = "arbsim:stream:trades"
)

// UpdateReason tags what changed before a snapshot was published.
type UpdateReason string

const (
	UpdateOpportunity UpdateReason = "opportunity"
	UpdateTrade       UpdateReason = "trade"
	UpdateInventory   UpdateReason = "inventory"
	UpdateSettings    UpdateReason = "settings"

	// UpdateInitial is sent once to each push client on connect.
	UpdateInitial UpdateReason = "initial"
)

// ExchangeState is the per-exchange part of the status snapshot.
type ExchangeState struct {
	Exchange   string    `json:"exchange"`
	Kind       string    `json:"kind"`
	Enabled    bool      `json:"enabled"`
	FeePct     float64   `json:"fee_pct"`
	Connected  bool      `json:"connected"`
	LastUpdate time.Time `json:"last_update,omitempty"`
}

// Snapshot is the engine status published to external consumers.
type Snapshot struct {
	SettingsVersion   uint64          `json:"settings_version"`
	Symbols           []string        `json:"symbols"`
	BaseAsset         string          `json:"base_asset"`
	QuoteAsset        string          `json:"quote_asset"`
	TradeSize         float64         `json:"trade_size"`
	SimulationVolume  float64         `json:"simulation_volume"`
	Balance           float64         `json:"balance"`
	TotalPnL          float64         `json:"total_pnl"`
	TradeCount        int64           `json:"trade_count"`
	ActiveExchanges   []string        `json:"active_exchanges"`
	ExchangeStates    []ExchangeState `json:"exchange_states"`
	Inventory         []WalletView    `json:"exchange_inventory"`
	PendingTrades     int             `json:"pending_trades"`
	LatestOpportunity *Opportunity    `json:"latest_opportunity"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

// Update is the payload broadcast on ChannelUpdates.
type Update struct {
	Reason   UpdateReason  `json:"reason"`
	Snapshot Snapshot      `json:"snapshot"`
	Spreads  []SpreadPoint `json:"spreads"`
}
