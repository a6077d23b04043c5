// Package engine orchestrates detection and simulated execution: it owns
// the versioned runtime settings, feeds books into the store, runs the
// evaluation scheduler, and exposes control, query and publish surfaces.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbsim/internal/book"
	membus "github.com/alanyoungcy/arbsim/internal/cache/memory"
	"github.com/alanyoungcy/arbsim/internal/domain"
	"github.com/alanyoungcy/arbsim/internal/evaluator"
	"github.com/alanyoungcy/arbsim/internal/executor"
	"github.com/alanyoungcy/arbsim/internal/feed"
	"github.com/alanyoungcy/arbsim/internal/inventory"
	"github.com/alanyoungcy/arbsim/internal/observability"
	"github.com/alanyoungcy/arbsim/internal/reservation"
	memstore "github.com/alanyoungcy/arbsim/internal/store/memory"
)

// Config holds the static engine parameters. Settings is the initial
// runtime configuration; control operations replace it later.
type Config struct {
	Settings domain.Settings
	// Universe lists the symbols control operations may select. Empty means
	// the initial symbols only.
	Universe []string

	MaxDepth        int
	EvalInterval    time.Duration
	Workers         int
	StartingBalance float64
	BaseAllocation  float64

	RebalanceMinTransfer float64

	OpportunityLogSize int
	TradeLogSize       int
	SpreadSeriesSize   int

	QueueSize       int
	DrainTimeout    time.Duration
	CleanupInterval time.Duration
	PublishInterval time.Duration

	Latency executor.LatencyModel
}

func (c *Config) applyDefaults() {
	if c.MaxDepth <= 0 {
		c.MaxDepth = domain.DefaultMaxDepth
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.OpportunityLogSize <= 0 {
		c.OpportunityLogSize = 600
	}
	if c.TradeLogSize <= 0 {
		c.TradeLogSize = 300
	}
	if c.SpreadSeriesSize <= 0 {
		c.SpreadSeriesSize = 600
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 100 * time.Millisecond
	}
	if c.Latency == nil {
		c.Latency = executor.NewUniformLatency(20*time.Millisecond, 250*time.Millisecond, uint64(time.Now().UnixNano()))
	}
}

// Recorder receives every record the engine produces, for persistence,
// export, metrics and notification. Implementations must not block.
type Recorder interface {
	RecordOpportunity(ctx context.Context, opp domain.Opportunity)
	RecordTrade(ctx context.Context, trade domain.SimulatedTrade, opp domain.Opportunity)
	RecordRebalance(ctx context.Context, res domain.RebalanceResult)
	RecordFeedFault(name string, err error)
}

// Deps are the optional collaborators of the engine. Nil fields fall back
// to in-process implementations or are skipped.
type Deps struct {
	Feeds         []feed.Feed
	Bus           domain.SignalBus
	Locks         domain.LockManager
	Recorder      Recorder
	Opportunities domain.OpportunityStore
	Trades        domain.TradeStore
	Audit         domain.AuditStore
	Metrics       *observability.Metrics
}

// Engine is the arbitrage simulation engine.
type Engine struct {
	cfg      Config
	universe map[string]struct{}

	settings  atomic.Pointer[domain.Settings]
	controlMu sync.Mutex

	books      *book.Store
	inventory  *inventory.Inventory
	ledger     *reservation.Ledger
	evaluator  *evaluator.Evaluator
	executor   *executor.Executor
	rebalancer *inventory.Rebalancer
	feeds      *feed.Manager

	opps    *memstore.OpportunityStore
	trades  *memstore.TradeStore
	spreads *memstore.SpreadSeries

	durableOpps   domain.OpportunityStore
	durableTrades domain.TradeStore
	audit         domain.AuditStore
	locks         domain.LockManager
	bus           domain.SignalBus
	recorder      Recorder
	metrics       *observability.Metrics
	logger        *slog.Logger

	dirtyMu   sync.Mutex
	dirty     map[string]struct{}
	kick      chan struct{}
	evalMu    sync.Mutex
	evaluated map[string][2]uint64

	pubCh     chan struct{}
	pubMu     sync.Mutex
	pubReason domain.UpdateReason

	running atomic.Bool
}

// New validates cfg, seeds inventory and builds the engine. Feeds are not
// started until Run.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Engine, error) {
	cfg.applyDefaults()

	s := cfg.Settings.Clone()
	if err := normalizeSettings(s); err != nil {
		return nil, fmt.Errorf("engine: new: %w", err)
	}
	if s.Version == 0 {
		s.Version = 1
	}

	universe := make(map[string]struct{})
	for _, sym := range cfg.Universe {
		if n := domain.NormalizeSymbol(sym); n != "" {
			universe[n] = struct{}{}
		}
	}
	for _, sym := range s.Symbols {
		universe[sym] = struct{}{}
	}

	e := &Engine{
		cfg:           cfg,
		universe:      universe,
		books:         book.NewStore(cfg.MaxDepth),
		inventory:     inventory.New(),
		opps:          memstore.NewOpportunityStore(cfg.OpportunityLogSize),
		trades:        memstore.NewTradeStore(cfg.TradeLogSize),
		spreads:       memstore.NewSpreadSeries(cfg.SpreadSeriesSize),
		durableOpps:   deps.Opportunities,
		durableTrades: deps.Trades,
		audit:         deps.Audit,
		locks:         deps.Locks,
		bus:           deps.Bus,
		recorder:      deps.Recorder,
		metrics:       deps.Metrics,
		logger:        logger.With(slog.String("component", "engine")),
		dirty:         make(map[string]struct{}),
		kick:          make(chan struct{}, 1),
		evaluated:     make(map[string][2]uint64),
		pubCh:         make(chan struct{}, 1),
	}
	if e.bus == nil {
		e.bus = membus.NewSignalBus()
	}
	if e.locks == nil {
		e.locks = membus.NewLockManager()
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	if e.metrics == nil {
		e.metrics = observability.NewMetrics()
	}

	e.ledger = reservation.NewLedger(e.inventory)
	e.evaluator = evaluator.New(e.inventory, e.ledger, logger)
	e.executor = executor.New(e.inventory, e.ledger, e, cfg.Latency, cfg.QueueSize, logger)
	if cfg.CleanupInterval > 0 {
		e.executor.SetCleanupInterval(cfg.CleanupInterval)
	}
	e.rebalancer = inventory.NewRebalancer(e.inventory, cfg.RebalanceMinTransfer, logger)

	e.feeds = feed.NewManager(e.OnBook, logger)
	e.feeds.OnDisconnect(func(name string, err error) {
		e.metrics.FeedReconnects.WithLabelValues(name).Inc()
		e.recorder.RecordFeedFault(name, err)
	})
	for _, f := range deps.Feeds {
		if _, ok := s.Exchanges[f.Name()]; !ok {
			return nil, fmt.Errorf("engine: new: feed %s: %w", f.Name(), domain.ErrUnknownExchange)
		}
		e.feeds.Register(f)
	}

	e.settings.Store(s)
	e.seedInventory(s)
	return e, nil
}

func normalizeSettings(s *domain.Settings) error {
	var syms []string
	seen := make(map[string]struct{})
	for _, sym := range s.Symbols {
		n := domain.NormalizeSymbol(sym)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		syms = append(syms, n)
	}
	if len(syms) == 0 {
		return fmt.Errorf("no symbols: %w", domain.ErrUnknownSymbol)
	}
	s.Symbols = syms

	if !validSize(s.TradeSize) {
		return fmt.Errorf("trade size %v: %w", s.TradeSize, domain.ErrInvalidTradeSize)
	}
	if len(s.Exchanges) == 0 {
		return fmt.Errorf("no exchanges: %w", domain.ErrUnknownExchange)
	}
	exchanges := make(map[string]domain.ExchangeSettings, len(s.Exchanges))
	for name, ex := range s.Exchanges {
		exchanges[normalizeExchange(name)] = ex
	}
	s.Exchanges = exchanges
	return nil
}

func normalizeExchange(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (e *Engine) seedInventory(s *domain.Settings) {
	names := make([]string, 0, len(s.Exchanges))
	for name := range s.Exchanges {
		names = append(names, name)
	}
	sort.Strings(names)
	e.inventory.Seed(inventory.SeedSpec{
		Exchanges:       names,
		Symbols:         s.Symbols,
		StartingBalance: e.cfg.StartingBalance,
		BaseAllocation:  e.cfg.BaseAllocation,
		Price:           domain.BootstrapPrice,
	})
}

// Settings returns a copy of the current runtime settings.
func (e *Engine) Settings() domain.Settings {
	return *e.settings.Load().Clone()
}

// Run starts the enabled feeds, the scheduler, the executor and the
// publisher, and blocks until ctx is cancelled. Pending trades get the
// configured drain timeout to settle.
func (e *Engine) Run(ctx context.Context) error {
	e.running.Store(true)
	defer e.running.Store(false)

	s := e.settings.Load()
	for _, name := range s.EnabledExchanges() {
		e.startFeed(name, s.Symbols)
	}
	e.logger.Info("engine started",
		slog.Any("symbols", s.Symbols),
		slog.Any("exchanges", s.EnabledExchanges()),
		slog.Duration("eval_interval", e.cfg.EvalInterval),
		slog.Int("workers", e.cfg.Workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.runScheduler(gctx) })
	g.Go(func() error { return e.executor.Run(gctx, e.cfg.DrainTimeout) })
	g.Go(func() error { return e.runPublisher(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		e.feeds.Close()
		return nil
	})

	err := g.Wait()
	e.logger.Info("engine stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) startFeed(name string, symbols []string) {
	if err := e.feeds.Start(name, symbols); err != nil && !errors.Is(err, domain.ErrUnknownExchange) {
		e.logger.Warn("feed start failed", slog.String("feed", name), slog.String("error", err.Error()))
	}
}

// OnBook applies a feed update. Updates for disabled exchanges or symbols
// not being simulated are dropped.
func (e *Engine) OnBook(u domain.BookUpdate) {
	s := e.settings.Load()
	u.Exchange = normalizeExchange(u.Exchange)
	u.Symbol = domain.NormalizeSymbol(u.Symbol)
	if !s.Enabled(u.Exchange) || !s.HasSymbol(u.Symbol) {
		return
	}
	if _, err := e.books.Apply(u); err != nil {
		e.metrics.BookRejects.WithLabelValues(u.Exchange).Inc()
		e.logger.Debug("book update rejected",
			slog.String("exchange", u.Exchange),
			slog.String("symbol", u.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	e.metrics.BookUpdates.WithLabelValues(u.Exchange).Inc()
	e.markDirty(u.Symbol)
}

type nopRecorder struct{}

func (nopRecorder) RecordOpportunity(context.Context, domain.Opportunity) {}
func (nopRecorder) RecordTrade(context.Context, domain.SimulatedTrade, domain.Opportunity) {}
func (nopRecorder) RecordRebalance(context.Context, domain.RebalanceResult) {}
func (nopRecorder) RecordFeedFault(string, error) {}
