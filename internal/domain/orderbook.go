package domain

import "time"

// DefaultMaxDepth is the number of levels kept per book side.
const DefaultMaxDepth = 20

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookKind tells the store how to apply an update.
type BookKind int

const (
	// BookSnapshot replaces the stored book wholesale.
	BookSnapshot BookKind = iota
	// BookDelta merges levels into the stored book. A level with size 0
	// removes that price.
	BookDelta
)

// BookUpdate is a normalized feed message for one (exchange, symbol).
type BookUpdate struct {
	Exchange  string
	Symbol    string
	Kind      BookKind
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time // exchange-side event time, zero when unknown
}

// OrderBook is the latest normalized book for an (exchange, symbol) key.
// Bids are sorted by descending price, asks by ascending price. Values held
// by the book store are never mutated after publication.
type OrderBook struct {
	Exchange   string       `json:"exchange"`
	Symbol     string       `json:"symbol"`
	Bids       []PriceLevel `json:"bids"`
	Asks       []PriceLevel `json:"asks"`
	Timestamp  time.Time    `json:"exchange_timestamp"`
	ReceivedAt time.Time    `json:"received_at"`
	Version    uint64       `json:"version"`
}

// BestBid returns the top bid and false when the side is empty.
func (b *OrderBook) BestBid() (PriceLevel, bool) {
	if b == nil || len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask and false when the side is empty.
func (b *OrderBook) BestAsk() (PriceLevel, bool) {
	if b == nil || len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// Crossed reports whether best bid >= best ask. Crossed books are never priced.
func (b *OrderBook) Crossed() bool {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	return okBid && okAsk && bid.Price >= ask.Price
}

// MidPrice returns the midpoint of the top of book, or the single available
// side when the other is empty.
func (b *OrderBook) MidPrice() float64 {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	switch {
	case okBid && okAsk:
		return (bid.Price + ask.Price) / 2
	case okBid:
		return bid.Price
	case okAsk:
		return ask.Price
	default:
		return 0
	}
}

// Depth returns the total size on one side.
func (b *OrderBook) Depth(side Side) float64 {
	levels := b.Asks
	if side == SideBid {
		levels = b.Bids
	}
	var total float64
	for _, l := range levels {
		if l.Size > 0 {
			total += l.Size
		}
	}
	return total
}

// Side is one side of an order book.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)
