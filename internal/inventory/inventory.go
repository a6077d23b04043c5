// Package inventory tracks simulated per-exchange balances. Every wallet has
// its own mutex; operations that touch several wallets lock them in sorted
// exchange order.
package inventory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

type wallet struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	holds    map[string]map[string]decimal.Decimal // hold id -> asset -> amount
}

func newWallet() *wallet {
	return &wallet{
		balances: make(map[string]decimal.Decimal),
		holds:    make(map[string]map[string]decimal.Decimal),
	}
}

// held sums every hold on asset. Caller holds w.mu.
func (w *wallet) held(asset string) decimal.Decimal {
	total := decimal.Zero
	for _, byAsset := range w.holds {
		total = total.Add(byAsset[asset])
	}
	return total
}

// reseed replaces the balances with fresh plus everything still held.
// Caller holds w.mu.
func (w *wallet) reseed(fresh map[string]decimal.Decimal) {
	balances := make(map[string]decimal.Decimal, len(fresh))
	for asset, amt := range fresh {
		balances[asset] = amt
	}
	for _, byAsset := range w.holds {
		for asset, amt := range byAsset {
			balances[asset] = balances[asset].Add(amt)
		}
	}
	w.balances = balances
}

// available is balance minus holds. Caller holds w.mu.
func (w *wallet) available(asset string) decimal.Decimal {
	return w.balances[asset].Sub(w.held(asset))
}

// Inventory is the set of exchange wallets.
type Inventory struct {
	mu      sync.RWMutex // guards the wallets map, not wallet contents
	wallets map[string]*wallet
}

// New returns an empty Inventory.
func New() *Inventory {
	return &Inventory{wallets: make(map[string]*wallet)}
}

// SeedSpec describes the starting allocation.
type SeedSpec struct {
	Exchanges       []string
	Symbols         []string
	StartingBalance float64
	// BaseAllocation is the fraction of each exchange share converted to
	// base assets at the bootstrap price.
	BaseAllocation float64
	Price          func(symbol string) float64
}

// Seed resets every wallet to a fresh allocation: the starting balance is
// split evenly across exchanges and then across symbols. Funds under active
// holds are carried over on top of the allocation, and their holds are
// kept, so trades admitted before the reseed still settle. Wallets of
// exchanges outside spec are dropped unless they carry holds.
func (inv *Inventory) Seed(spec SeedSpec) {
	fresh := allocate(spec)

	inv.mu.RLock()
	names := make([]string, 0, len(inv.wallets)+len(fresh))
	for ex := range inv.wallets {
		names = append(names, ex)
	}
	inv.mu.RUnlock()
	for ex := range fresh {
		names = append(names, ex)
	}

	keep := make(map[string]*wallet)
	_ = inv.withLocked(names, func(ws map[string]*wallet) error {
		for ex, w := range ws {
			if w == nil {
				continue
			}
			bal, seeded := fresh[ex]
			if !seeded && len(w.holds) == 0 {
				continue
			}
			w.reseed(bal)
			keep[ex] = w
		}
		return nil
	})

	inv.mu.Lock()
	defer inv.mu.Unlock()
	wallets := make(map[string]*wallet, len(fresh)+len(keep))
	for ex, w := range keep {
		wallets[ex] = w
	}
	for ex, bal := range fresh {
		if _, ok := wallets[ex]; !ok {
			w := newWallet()
			w.balances = bal
			wallets[ex] = w
		}
	}
	inv.wallets = wallets
}

// allocate computes the seeded balances of every exchange in spec.
func allocate(spec SeedSpec) map[string]map[string]decimal.Decimal {
	out := make(map[string]map[string]decimal.Decimal, len(spec.Exchanges))
	for _, ex := range spec.Exchanges {
		out[ex] = make(map[string]decimal.Decimal)
	}
	if len(spec.Exchanges) == 0 || len(spec.Symbols) == 0 {
		return out
	}
	price := spec.Price
	if price == nil {
		price = domain.BootstrapPrice
	}
	share := decimal.NewFromFloat(spec.StartingBalance).
		Div(decimal.NewFromInt(int64(len(spec.Exchanges)))).
		Div(decimal.NewFromInt(int64(len(spec.Symbols))))
	alloc := decimal.NewFromFloat(spec.BaseAllocation)
	quoteShare := share.Mul(decimal.NewFromInt(1).Sub(alloc))
	for _, balances := range out {
		for _, sym := range spec.Symbols {
			base, quote := domain.SplitSymbol(sym)
			if p := decimal.NewFromFloat(price(sym)); p.IsPositive() {
				balances[base] = balances[base].Add(share.Mul(alloc).Div(p))
			}
			balances[quote] = balances[quote].Add(quoteShare)
		}
	}
	return out
}

// SetBalance overwrites one asset balance, creating the wallet if needed.
func (inv *Inventory) SetBalance(exchange, asset string, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("inventory: set balance %s/%s: negative amount %v", exchange, asset, amount)
	}
	w := inv.walletOrCreate(exchange)
	w.mu.Lock()
	w.balances[asset] = decimal.NewFromFloat(amount)
	w.mu.Unlock()
	return nil
}

// Exchanges returns the exchanges that own a wallet, sorted.
func (inv *Inventory) Exchanges() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]string, 0, len(inv.wallets))
	for ex := range inv.wallets {
		out = append(out, ex)
	}
	sort.Strings(out)
	return out
}

// Balance returns the balance of asset on exchange.
func (inv *Inventory) Balance(exchange, asset string) float64 {
	w := inv.wallet(exchange)
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[asset].InexactFloat64()
}

// Available returns the balance of asset minus active holds.
func (inv *Inventory) Available(exchange, asset string) float64 {
	w := inv.wallet(exchange)
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.available(asset).InexactFloat64()
}

// Total sums asset across the given exchanges.
func (inv *Inventory) Total(asset string, exchanges []string) decimal.Decimal {
	total := decimal.Zero
	for _, ex := range exchanges {
		w := inv.wallet(ex)
		if w == nil {
			continue
		}
		w.mu.Lock()
		total = total.Add(w.balances[asset])
		w.mu.Unlock()
	}
	return total
}

// Hold earmarks funds under id. Either every hold is placed or none is. A
// shortfall is reported as a *domain.FundsError for the first hold, in
// request order, that cannot be covered.
func (inv *Inventory) Hold(id string, holds []domain.FundsHold) error {
	type slot struct{ exchange, asset string }
	need := make(map[slot]decimal.Decimal)
	var order []slot
	var exchanges []string
	for _, h := range holds {
		if h.Amount < 0 {
			return fmt.Errorf("inventory: hold %s: negative amount on %s/%s", id, h.Exchange, h.Asset)
		}
		k := slot{h.Exchange, h.Asset}
		if _, ok := need[k]; !ok {
			order = append(order, k)
			exchanges = append(exchanges, h.Exchange)
		}
		need[k] = need[k].Add(decimal.NewFromFloat(h.Amount))
	}

	return inv.withLocked(exchanges, func(ws map[string]*wallet) error {
		for _, k := range order {
			w := ws[k.exchange]
			if w == nil || w.available(k.asset).LessThan(need[k]) {
				return fmt.Errorf("inventory: hold %s: %w", id, &domain.FundsError{Exchange: k.exchange, Asset: k.asset})
			}
		}
		for _, k := range order {
			w := ws[k.exchange]
			cur := w.holds[id]
			if cur == nil {
				cur = make(map[string]decimal.Decimal)
				w.holds[id] = cur
			}
			cur[k.asset] = cur[k.asset].Add(need[k])
		}
		return nil
	})
}

// Release drops every hold placed under id. Releasing an unknown id is a
// no-op.
func (inv *Inventory) Release(id string) {
	inv.mu.RLock()
	wallets := make([]*wallet, 0, len(inv.wallets))
	for _, w := range inv.wallets {
		wallets = append(wallets, w)
	}
	inv.mu.RUnlock()

	for _, w := range wallets {
		w.mu.Lock()
		delete(w.holds, id)
		w.mu.Unlock()
	}
}

// Settle consumes the holds of the settlement's reservation and applies the
// trade to both wallets. When either debit would drive a balance negative
// nothing is applied and ErrInsufficientFunds is returned; the holds are
// released in both cases.
func (inv *Inventory) Settle(s domain.Settlement) error {
	size := decimal.NewFromFloat(s.Size)
	cost := decimal.NewFromFloat(s.BuyCost)
	proceeds := decimal.NewFromFloat(s.SellProceeds)

	return inv.withLocked([]string{s.BuyExchange, s.SellExchange}, func(ws map[string]*wallet) error {
		buy, sell := ws[s.BuyExchange], ws[s.SellExchange]
		if buy == nil || sell == nil {
			return fmt.Errorf("inventory: settle %s: missing wallet: %w", s.ReservationID, domain.ErrInsufficientFunds)
		}
		delete(buy.holds, s.ReservationID)
		delete(sell.holds, s.ReservationID)

		quoteAfter := buy.balances[s.QuoteAsset].Sub(cost)
		if buy == sell {
			quoteAfter = quoteAfter.Add(proceeds)
		}
		if quoteAfter.IsNegative() {
			return fmt.Errorf("inventory: settle %s: %s %s short by %s: %w",
				s.ReservationID, s.BuyExchange, s.QuoteAsset, quoteAfter.Neg(), domain.ErrInsufficientFunds)
		}
		baseAfter := sell.balances[s.BaseAsset].Sub(size)
		if buy == sell {
			baseAfter = baseAfter.Add(size)
		}
		if baseAfter.IsNegative() {
			return fmt.Errorf("inventory: settle %s: %s %s short by %s: %w",
				s.ReservationID, s.SellExchange, s.BaseAsset, baseAfter.Neg(), domain.ErrInsufficientFunds)
		}

		buy.balances[s.QuoteAsset] = buy.balances[s.QuoteAsset].Sub(cost)
		buy.balances[s.BaseAsset] = buy.balances[s.BaseAsset].Add(size)
		sell.balances[s.BaseAsset] = sell.balances[s.BaseAsset].Sub(size)
		sell.balances[s.QuoteAsset] = sell.balances[s.QuoteAsset].Add(proceeds)
		return nil
	})
}

// Views returns a copy of every wallet. marks maps an asset to its price in
// quoteAsset and is used for the quote-equivalent total.
func (inv *Inventory) Views(baseAsset, quoteAsset string, marks map[string]float64, enabled func(string) bool) []domain.WalletView {
	var out []domain.WalletView
	for _, ex := range inv.Exchanges() {
		w := inv.wallet(ex)
		if w == nil {
			continue
		}
		w.mu.Lock()
		v := domain.WalletView{
			Exchange:     ex,
			BaseAsset:    baseAsset,
			QuoteAsset:   quoteAsset,
			BaseBalance:  w.balances[baseAsset].InexactFloat64(),
			QuoteBalance: w.balances[quoteAsset].InexactFloat64(),
			Assets:       make(map[string]float64, len(w.balances)),
		}
		value := decimal.Zero
		for asset, bal := range w.balances {
			v.Assets[asset] = bal.InexactFloat64()
			switch {
			case asset == quoteAsset:
				value = value.Add(bal)
			case marks[asset] > 0:
				value = value.Add(bal.Mul(decimal.NewFromFloat(marks[asset])))
			}
			if h := w.held(asset); h.IsPositive() {
				if v.Held == nil {
					v.Held = make(map[string]float64)
				}
				v.Held[asset] = h.InexactFloat64()
			}
		}
		w.mu.Unlock()
		v.QuoteValue = value.InexactFloat64()
		if enabled != nil {
			v.Enabled = enabled(ex)
		}
		out = append(out, v)
	}
	return out
}

func (inv *Inventory) wallet(exchange string) *wallet {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.wallets[exchange]
}

func (inv *Inventory) walletOrCreate(exchange string) *wallet {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	w, ok := inv.wallets[exchange]
	if !ok {
		w = newWallet()
		inv.wallets[exchange] = w
	}
	return w
}

// withLocked locks the named wallets in sorted order and runs fn. Unknown
// exchanges map to nil.
func (inv *Inventory) withLocked(exchanges []string, fn func(map[string]*wallet) error) error {
	names := append([]string(nil), exchanges...)
	sort.Strings(names)

	ws := make(map[string]*wallet, len(names))
	var locked []*wallet
	for _, ex := range names {
		if _, seen := ws[ex]; seen {
			continue
		}
		w := inv.wallet(ex)
		ws[ex] = w
		if w != nil {
			w.mu.Lock()
			locked = append(locked, w)
		}
	}
	defer func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mu.Unlock()
		}
	}()
	return fn(ws)
}
