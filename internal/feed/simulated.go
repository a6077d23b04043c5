package feed

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// referencePrice is the price the offset and volatility parameters are
// expressed against; they scale to each symbol's bootstrap price.
const referencePrice = 50000.0

// SimulatedOptions tunes the random-walk feed.
type SimulatedOptions struct {
	// PriceOffset shifts the walk's starting price, in units of a 50000
	// reference price.
	PriceOffset float64
	Volatility  float64
	DepthLevels int
	Interval    time.Duration
	Seed        uint64
}

// SimulatedFeed publishes random-walk books for offline runs and tests.
type SimulatedFeed struct {
	name string
	opts SimulatedOptions
}

// NewSimulatedFeed creates a SimulatedFeed. Zero options take defaults:
// volatility 2, 20 levels, 200ms interval.
func NewSimulatedFeed(name string, opts SimulatedOptions) *SimulatedFeed {
	if opts.Volatility <= 0 {
		opts.Volatility = 2
	}
	if opts.DepthLevels <= 0 {
		opts.DepthLevels = domain.DefaultMaxDepth
	}
	if opts.Interval <= 0 {
		opts.Interval = 200 * time.Millisecond
	}
	return &SimulatedFeed{name: name, opts: opts}
}

// Name implements Feed.
func (f *SimulatedFeed) Name() string { return f.name }

// Kind implements Feed.
func (f *SimulatedFeed) Kind() string { return KindSimulated }

type walk struct {
	symbol string
	scale  float64
	price  float64
	floor  float64
}

// Run implements Feed. It only returns when ctx is cancelled.
func (f *SimulatedFeed) Run(ctx context.Context, symbols []string, sink Sink) error {
	seed := f.opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))

	walks := make([]*walk, 0, len(symbols))
	for _, s := range symbols {
		sym := domain.NormalizeSymbol(s)
		scale := domain.BootstrapPrice(sym) / referencePrice
		walks = append(walks, &walk{
			symbol: sym,
			scale:  scale,
			price:  (referencePrice + f.opts.PriceOffset) * scale,
			floor:  1000 * scale,
		})
	}

	ticker := time.NewTicker(f.opts.Interval)
	defer ticker.Stop()
	for {
		for _, w := range walks {
			sink(f.step(rng, w))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// toTick rounds v to a multiple of tick.
func toTick(v, tick float64) float64 {
	return math.Round(v/tick) * tick
}

func (f *SimulatedFeed) step(rng *rand.Rand, w *walk) domain.BookUpdate {
	vol := f.opts.Volatility * w.scale
	w.price = math.Max(w.floor, w.price+uniform(rng, -vol, vol))

	spread := math.Max(0.5, uniform(rng, 1, 5)) * w.scale
	bestBid := w.price - spread/2
	bestAsk := w.price + spread/2
	tick := 0.01 * w.scale

	bids := make([]domain.PriceLevel, 0, f.opts.DepthLevels)
	asks := make([]domain.PriceLevel, 0, f.opts.DepthLevels)
	var bidStep, askStep float64
	for i := 0; i < f.opts.DepthLevels; i++ {
		if i > 0 {
			bidStep += uniform(rng, 0.2, 1.2) * w.scale
			askStep += uniform(rng, 0.2, 1.2) * w.scale
		}
		size := round(uniform(rng, 0.02, 0.6), 5)
		bids = append(bids, domain.PriceLevel{Price: toTick(bestBid-bidStep, tick), Size: size})
		asks = append(asks, domain.PriceLevel{Price: toTick(bestAsk+askStep, tick), Size: size})
	}
	return domain.BookUpdate{
		Exchange:  f.name,
		Symbol:    w.symbol,
		Kind:      domain.BookSnapshot,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now().UTC(),
	}
}
