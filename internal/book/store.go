// Package book holds the latest normalized order book per (exchange, symbol).
//
// Each key owns a slot with its own writer mutex and an atomically swapped
// pointer to an immutable book, so readers never observe a partially applied
// update and writers of different keys never contend.
package book

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

type key struct {
	exchange string
	symbol   string
}

// maxRetainedLevels bounds the merge state kept per side. Published books are
// cut to the store's max depth; the deeper levels only feed later deltas.
const maxRetainedLevels = 1000

type slot struct {
	mu  sync.Mutex
	cur atomic.Pointer[domain.OrderBook]

	// full merged depth, guarded by mu
	bids []domain.PriceLevel
	asks []domain.PriceLevel
}

// Store is a concurrent map of the latest book per (exchange, symbol).
type Store struct {
	maxDepth int
	now      func() time.Time
	version  atomic.Uint64
	slots    sync.Map // key -> *slot
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp ReceivedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store that keeps at most maxDepth levels per side.
func NewStore(maxDepth int, opts ...Option) *Store {
	if maxDepth <= 0 {
		maxDepth = domain.DefaultMaxDepth
	}
	s := &Store{maxDepth: maxDepth, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply replaces or merges the book addressed by the update and returns the
// newly published book.
func (s *Store) Apply(u domain.BookUpdate) (*domain.OrderBook, error) {
	symbol := domain.NormalizeSymbol(u.Symbol)
	if u.Exchange == "" || symbol == "" {
		return nil, fmt.Errorf("book: apply: empty exchange or symbol")
	}
	k := key{exchange: u.Exchange, symbol: symbol}

	v, _ := s.slots.LoadOrStore(k, &slot{})
	sl := v.(*slot)

	sl.mu.Lock()
	defer sl.mu.Unlock()

	var bids, asks []domain.PriceLevel
	var err error
	switch u.Kind {
	case domain.BookSnapshot:
		if bids, err = normalizeSide(u.Bids, true); err != nil {
			return nil, fmt.Errorf("book: apply %s/%s bids: %w", u.Exchange, symbol, err)
		}
		if asks, err = normalizeSide(u.Asks, false); err != nil {
			return nil, fmt.Errorf("book: apply %s/%s asks: %w", u.Exchange, symbol, err)
		}
	case domain.BookDelta:
		if sl.cur.Load() == nil {
			return nil, fmt.Errorf("book: apply %s/%s: %w", u.Exchange, symbol, domain.ErrNoSnapshot)
		}
		if bids, err = mergeSide(sl.bids, u.Bids, true); err != nil {
			return nil, fmt.Errorf("book: merge %s/%s bids: %w", u.Exchange, symbol, err)
		}
		if asks, err = mergeSide(sl.asks, u.Asks, false); err != nil {
			return nil, fmt.Errorf("book: merge %s/%s asks: %w", u.Exchange, symbol, err)
		}
	default:
		return nil, fmt.Errorf("book: apply: unknown update kind %d", u.Kind)
	}

	sl.bids = truncate(bids, maxRetainedLevels)
	sl.asks = truncate(asks, maxRetainedLevels)

	b := &domain.OrderBook{
		Exchange:   u.Exchange,
		Symbol:     symbol,
		Bids:       truncate(sl.bids, s.maxDepth),
		Asks:       truncate(sl.asks, s.maxDepth),
		Timestamp:  u.Timestamp,
		ReceivedAt: s.now(),
		Version:    s.version.Add(1),
	}
	sl.cur.Store(b)
	return b, nil
}

// Book returns the current book for the key. The returned value must not be
// modified.
func (s *Store) Book(exchange, symbol string) (*domain.OrderBook, bool) {
	v, ok := s.slots.Load(key{exchange: exchange, symbol: domain.NormalizeSymbol(symbol)})
	if !ok {
		return nil, false
	}
	b := v.(*slot).cur.Load()
	return b, b != nil
}

// UpdatedAt returns the store-entry time of the current book for the key.
func (s *Store) UpdatedAt(exchange, symbol string) (time.Time, bool) {
	b, ok := s.Book(exchange, symbol)
	if !ok {
		return time.Time{}, false
	}
	return b.ReceivedAt, true
}

// Books returns the current books for a symbol keyed by exchange.
func (s *Store) Books(symbol string) map[string]*domain.OrderBook {
	symbol = domain.NormalizeSymbol(symbol)
	out := make(map[string]*domain.OrderBook)
	s.slots.Range(func(k, v any) bool {
		kk := k.(key)
		if kk.symbol != symbol {
			return true
		}
		if b := v.(*slot).cur.Load(); b != nil {
			out[kk.exchange] = b
		}
		return true
	})
	return out
}

// All returns every current book.
func (s *Store) All() []*domain.OrderBook {
	var out []*domain.OrderBook
	s.slots.Range(func(_, v any) bool {
		if b := v.(*slot).cur.Load(); b != nil {
			out = append(out, b)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Exchange < out[j].Exchange
	})
	return out
}

// DropExchange removes every book of an exchange.
func (s *Store) DropExchange(exchange string) {
	s.slots.Range(func(k, _ any) bool {
		if k.(key).exchange == exchange {
			s.slots.Delete(k)
		}
		return true
	})
}

// DropSymbol removes every book of a symbol.
func (s *Store) DropSymbol(symbol string) {
	symbol = domain.NormalizeSymbol(symbol)
	s.slots.Range(func(k, _ any) bool {
		if k.(key).symbol == symbol {
			s.slots.Delete(k)
		}
		return true
	})
}

// Reset removes all books.
func (s *Store) Reset() {
	s.slots.Range(func(k, _ any) bool {
		s.slots.Delete(k)
		return true
	})
}

func validLevel(l domain.PriceLevel) error {
	if math.IsNaN(l.Price) || math.IsNaN(l.Size) || math.IsInf(l.Price, 0) || math.IsInf(l.Size, 0) {
		return domain.ErrInvalidLevel
	}
	if l.Price <= 0 || l.Size < 0 {
		return fmt.Errorf("%w: price=%v size=%v", domain.ErrInvalidLevel, l.Price, l.Size)
	}
	return nil
}

// normalizeSide copies, validates, drops empty levels, collapses duplicate
// prices and sorts (descending for bids).
func normalizeSide(levels []domain.PriceLevel, desc bool) ([]domain.PriceLevel, error) {
	byPrice := make(map[float64]float64, len(levels))
	for _, l := range levels {
		if err := validLevel(l); err != nil {
			return nil, err
		}
		if l.Size == 0 {
			continue
		}
		byPrice[l.Price] = l.Size
	}
	return sortedLevels(byPrice, desc), nil
}

func mergeSide(prev, delta []domain.PriceLevel, desc bool) ([]domain.PriceLevel, error) {
	byPrice := make(map[float64]float64, len(prev)+len(delta))
	for _, l := range prev {
		byPrice[l.Price] = l.Size
	}
	for _, l := range delta {
		if err := validLevel(l); err != nil {
			return nil, err
		}
		if l.Size == 0 {
			delete(byPrice, l.Price)
			continue
		}
		byPrice[l.Price] = l.Size
	}
	return sortedLevels(byPrice, desc), nil
}

// truncate caps levels at n without letting appends reach the retained tail.
func truncate(levels []domain.PriceLevel, n int) []domain.PriceLevel {
	if len(levels) > n {
		levels = levels[:n]
	}
	return levels[:len(levels):len(levels)]
}

func sortedLevels(byPrice map[float64]float64, desc bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(byPrice))
	for p, sz := range byPrice {
		out = append(out, domain.PriceLevel{Price: p, Size: sz})
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}
