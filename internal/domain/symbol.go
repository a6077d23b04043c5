package domain

import "strings"

// knownQuotes is ordered longest first so USDT wins over USD.
var knownQuotes = []string{"USDT", "USDC", "USD", "ETH", "BTC", "EUR"}

var bootstrapPrices = map[string]float64{
	"BTCUSDT": 50000,
	"ETHUSDT": 3000,
	"ADAUSDT": 0.8,
	"BNBUSDT": 500,
	"SOLUSDT": 120,
	"BTCETH":  15,
	"ETHBTC":  0.066,
}

// NormalizeSymbol upper-cases and trims a symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// SplitSymbol returns the base and quote assets of a concatenated symbol
// such as BTCUSDT. Unknown quotes fall back to the last three characters.
func SplitSymbol(symbol string) (base, quote string) {
	s := NormalizeSymbol(symbol)
	for _, q := range knownQuotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)], q
		}
	}
	if len(s) > 3 {
		return s[:len(s)-3], s[len(s)-3:]
	}
	return s, "USD"
}

// BootstrapPrice is the reference price used to seed base inventory before
// any book has been seen.
func BootstrapPrice(symbol string) float64 {
	if p, ok := bootstrapPrices[NormalizeSymbol(symbol)]; ok {
		return p
	}
	return 1.0
}
