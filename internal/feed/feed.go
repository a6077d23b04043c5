// Package feed connects to exchange market data sources and normalizes
// their books into domain.BookUpdate values.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// Feed kinds accepted in configuration.
const (
	KindBinance   = "binance_ws"
	KindBybit     = "bybit_ws"
	KindUphold    = "uphold"
	KindSimulated = "simulated"
)

// Sink receives normalized updates. It is called from the feed goroutine
// and must not block for long.
type Sink func(domain.BookUpdate)

// Feed streams books for a set of symbols from one exchange.
type Feed interface {
	Name() string
	Kind() string
	// Run streams updates until ctx is cancelled or the connection fails.
	// A connection fault is returned so the caller can reconnect.
	Run(ctx context.Context, symbols []string, sink Sink) error
}

// Spec describes one configured feed.
type Spec struct {
	Name string
	Kind string
	// URLs overrides the default endpoints, tried in order.
	URLs []string

	// Simulated feed parameters.
	PriceOffset float64
	Volatility  float64
	DepthLevels int
	Interval    time.Duration
	Seed        uint64
}

// New builds the feed described by spec.
func New(spec Spec, logger *slog.Logger) (Feed, error) {
	switch spec.Kind {
	case KindBinance:
		return NewBinanceFeed(spec.Name, spec.URLs, logger), nil
	case KindBybit:
		return NewBybitFeed(spec.Name, spec.URLs, logger), nil
	case KindUphold:
		base := ""
		if len(spec.URLs) > 0 {
			base = spec.URLs[0]
		}
		return NewUpholdFeed(spec.Name, base, spec.Interval, logger), nil
	case KindSimulated:
		return NewSimulatedFeed(spec.Name, SimulatedOptions{
			PriceOffset: spec.PriceOffset,
			Volatility:  spec.Volatility,
			DepthLevels: spec.DepthLevels,
			Interval:    spec.Interval,
			Seed:        spec.Seed,
		}), nil
	default:
		return nil, fmt.Errorf("feed: unknown kind %q for %s", spec.Kind, spec.Name)
	}
}
