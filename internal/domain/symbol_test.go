package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSymbol(t *testing.T) {
	tests := []struct {
		symbol string
		base   string
		quote  string
	}{
		{"BTCUSDT", "BTC", "USDT"},
		{"ethusdc", "ETH", "USDC"},
		{"BTCUSD", "BTC", "USD"},
		{"ETHBTC", "ETH", "BTC"},
		{"BTCETH", "BTC", "ETH"},
		{" solusdt ", "SOL", "USDT"},
		{"XRPGBP", "XRP", "GBP"},
		{"ABC", "ABC", "USD"},
		{"USDT", "U", "SDT"},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			base, quote := SplitSymbol(tt.symbol)
			assert.Equal(t, tt.base, base)
			assert.Equal(t, tt.quote, quote)
		})
	}
}

func TestBootstrapPrice(t *testing.T) {
	assert.Equal(t, 50000.0, BootstrapPrice("btcusdt"))
	assert.Equal(t, 0.066, BootstrapPrice("ETHBTC"))
	assert.Equal(t, 1.0, BootstrapPrice("DOGEUSDT"))
}

func TestOpportunityStatusText(t *testing.T) {
	for _, s := range []OpportunityStatus{StatusAccepted, StatusDiscarded, StatusNoFunds, StatusInsufficientLiquidity} {
		text, err := s.MarshalText()
		assert.NoError(t, err)

		var back OpportunityStatus
		assert.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}

	_, err := OpportunityStatus(0).MarshalText()
	assert.Error(t, err)
	_, err = ParseOpportunityStatus("pending")
	assert.Error(t, err)
}

func TestOrderBookCrossed(t *testing.T) {
	book := &OrderBook{
		Bids: []PriceLevel{{Price: 100, Size: 1}},
		Asks: []PriceLevel{{Price: 100, Size: 1}},
	}
	assert.True(t, book.Crossed())

	book.Asks[0].Price = 100.5
	assert.False(t, book.Crossed())
	assert.InDelta(t, 100.25, book.MidPrice(), 1e-9)

	var empty *OrderBook
	assert.False(t, empty.Crossed())
}
