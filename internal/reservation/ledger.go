// Package reservation tracks the book depth and wallet funds claimed by
// accepted opportunities until they settle or expire.
package reservation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// FundsHolder places and releases wallet holds. Implemented by
// inventory.Inventory.
type FundsHolder interface {
	Hold(id string, holds []domain.FundsHold) error
	Release(id string)
}

// LegRequest asks for size on one book side whose current depth is Depth.
type LegRequest struct {
	Exchange string
	Side     domain.Side
	Size     float64
	Depth    float64
}

// Request is one atomic compare-and-reserve.
type Request struct {
	// Key identifies the priced book state; a second request with the same
	// key is refused while the first is active.
	Key    string
	Symbol string
	Legs   []LegRequest
	Holds  []domain.FundsHold
	TTL    time.Duration
}

type sideKey struct {
	exchange string
	symbol   string
	side     domain.Side
}

func (k sideKey) less(o sideKey) bool {
	if k.exchange != o.exchange {
		return k.exchange < o.exchange
	}
	if k.symbol != o.symbol {
		return k.symbol < o.symbol
	}
	return k.side < o.side
}

type sideLedger struct {
	mu       sync.Mutex
	reserved map[string]float64 // reservation id -> size
}

func (l *sideLedger) total() float64 {
	var t float64
	for _, sz := range l.reserved {
		t += sz
	}
	return t
}

// Ledger is the set of active reservations. Writes are serialized per
// (exchange, symbol, side); unrelated sides never share a lock.
type Ledger struct {
	funds FundsHolder
	now   func() time.Time
	sides sync.Map // sideKey -> *sideLedger
	byID  sync.Map // id -> domain.Reservation
	byKey sync.Map // admission key -> id
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a Ledger that places funds holds through funds.
func NewLedger(funds FundsHolder, opts ...Option) *Ledger {
	l := &Ledger{funds: funds, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) side(k sideKey) *sideLedger {
	v, _ := l.sides.LoadOrStore(k, &sideLedger{reserved: make(map[string]float64)})
	return v.(*sideLedger)
}

// Reserve atomically checks every leg against its side's unreserved depth,
// places the funds holds and records the reservation. It returns
// ErrAlreadyReserved for a duplicate key, ErrDepthReserved when a leg would
// exceed depth, or the funds holder's error.
func (l *Ledger) Reserve(req Request) (domain.Reservation, error) {
	id := uuid.NewString()
	if req.Key != "" {
		if _, loaded := l.byKey.LoadOrStore(req.Key, id); loaded {
			return domain.Reservation{}, fmt.Errorf("reservation: %s: %w", req.Key, domain.ErrAlreadyReserved)
		}
	}
	release := func() {
		if req.Key != "" {
			l.byKey.CompareAndDelete(req.Key, id)
		}
	}

	symbol := domain.NormalizeSymbol(req.Symbol)
	keys := make([]sideKey, 0, len(req.Legs))
	for _, leg := range req.Legs {
		keys = append(keys, sideKey{exchange: leg.Exchange, symbol: symbol, side: leg.Side})
	}
	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return keys[order[a]].less(keys[order[b]]) })

	locked := make([]*sideLedger, 0, len(keys))
	seen := make(map[sideKey]bool, len(keys))
	for _, i := range order {
		if seen[keys[i]] {
			continue
		}
		seen[keys[i]] = true
		sl := l.side(keys[i])
		sl.mu.Lock()
		locked = append(locked, sl)
	}
	defer func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mu.Unlock()
		}
	}()

	// Legs on the same side accumulate.
	want := make(map[sideKey]float64, len(keys))
	for i, leg := range req.Legs {
		if leg.Size <= 0 {
			release()
			return domain.Reservation{}, fmt.Errorf("reservation: leg %s/%s size %v must be positive", leg.Exchange, leg.Side, leg.Size)
		}
		want[keys[i]] += leg.Size
	}
	for i, leg := range req.Legs {
		k := keys[i]
		if l.side(k).total()+want[k] > leg.Depth+1e-12 {
			release()
			return domain.Reservation{}, fmt.Errorf("reservation: %s %s %s: %w", leg.Exchange, symbol, leg.Side, domain.ErrDepthReserved)
		}
	}

	if len(req.Holds) > 0 && l.funds != nil {
		if err := l.funds.Hold(id, req.Holds); err != nil {
			release()
			return domain.Reservation{}, fmt.Errorf("reservation: hold funds: %w", err)
		}
	}

	now := l.now()
	r := domain.Reservation{
		ID:        id,
		Key:       req.Key,
		Holds:     append([]domain.FundsHold(nil), req.Holds...),
		CreatedAt: now,
	}
	if req.TTL > 0 {
		r.ExpiresAt = now.Add(req.TTL)
	}
	for i, leg := range req.Legs {
		l.side(keys[i]).reserved[id] += leg.Size
		r.Legs = append(r.Legs, domain.ReservationLeg{
			Exchange: leg.Exchange,
			Symbol:   symbol,
			Side:     leg.Side,
			Size:     leg.Size,
		})
	}
	l.byID.Store(id, r)
	return r, nil
}

// Release removes a reservation and its funds holds. It reports false when
// the reservation was already released or expired.
func (l *Ledger) Release(id string) bool {
	v, ok := l.byID.LoadAndDelete(id)
	if !ok {
		return false
	}
	r := v.(domain.Reservation)
	for _, leg := range r.Legs {
		sl := l.side(sideKey{exchange: leg.Exchange, symbol: leg.Symbol, side: leg.Side})
		sl.mu.Lock()
		delete(sl.reserved, id)
		sl.mu.Unlock()
	}
	if r.Key != "" {
		l.byKey.CompareAndDelete(r.Key, id)
	}
	if l.funds != nil {
		l.funds.Release(id)
	}
	return true
}

// Sweep releases every reservation that has expired and returns them.
func (l *Ledger) Sweep() []domain.Reservation {
	now := l.now()
	var expired []domain.Reservation
	l.byID.Range(func(_, v any) bool {
		r := v.(domain.Reservation)
		if r.Expired(now) && l.Release(r.ID) {
			expired = append(expired, r)
		}
		return true
	})
	return expired
}

// Get returns an active reservation.
func (l *Ledger) Get(id string) (domain.Reservation, bool) {
	v, ok := l.byID.Load(id)
	if !ok {
		return domain.Reservation{}, false
	}
	return v.(domain.Reservation), true
}

// Reserved returns the total active size on one book side.
func (l *Ledger) Reserved(exchange, symbol string, side domain.Side) float64 {
	v, ok := l.sides.Load(sideKey{exchange: exchange, symbol: domain.NormalizeSymbol(symbol), side: side})
	if !ok {
		return 0
	}
	sl := v.(*sideLedger)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.total()
}

// Active returns the number of live reservations.
func (l *Ledger) Active() int {
	n := 0
	l.byID.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
