package domain

// FundsHold earmarks part of an exchange balance for a pending trade.
type FundsHold struct {
	Exchange string  `json:"exchange"`
	Asset    string  `json:"asset"`
	Amount   float64 `json:"amount"`
}

// Settlement describes the balance movements of one simulated trade.
// BuyCost is debited in quote on the buy exchange, which receives Size base;
// Size base is debited on the sell exchange, which receives SellProceeds quote.
type Settlement struct {
	ReservationID string
	BuyExchange   string
	SellExchange  string
	BaseAsset     string
	QuoteAsset    string
	Size          float64
	BuyCost       float64
	SellProceeds  float64
}

// WalletView is a read-only copy of one exchange wallet.
type WalletView struct {
	Exchange     string             `json:"exchange"`
	Enabled      bool               `json:"enabled"`
	BaseAsset    string             `json:"base_asset"`
	QuoteAsset   string             `json:"quote_asset"`
	BaseBalance  float64            `json:"base_balance"`
	QuoteBalance float64            `json:"quote_balance"`
	Assets       map[string]float64 `json:"assets"`
	Held         map[string]float64 `json:"held,omitempty"`
	QuoteValue   float64            `json:"quote_value"`
}

// Transfer is one simulated movement of quote capital between exchanges.
type Transfer struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Asset  string  `json:"asset"`
	Amount float64 `json:"amount"`
	Cost   float64 `json:"cost"`
}

// RebalanceResult summarizes a rebalance pass.
type RebalanceResult struct {
	Transfers         []Transfer `json:"transfers"`
	TransfersExecuted int        `json:"transfers_executed"`
	QuoteMoved        float64    `json:"quote_moved"`
	CostsApplied      float64    `json:"costs_applied"`
	TargetQuote       float64    `json:"target_quote_per_exchange"`
}
