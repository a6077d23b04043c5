package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbsim/internal/config"
	"github.com/alanyoungcy/arbsim/internal/domain"
	"github.com/alanyoungcy/arbsim/internal/engine"
	"github.com/alanyoungcy/arbsim/internal/executor"
	"github.com/alanyoungcy/arbsim/internal/feed"
	"github.com/alanyoungcy/arbsim/internal/server"
	"github.com/alanyoungcy/arbsim/internal/server/handler"
	"github.com/alanyoungcy/arbsim/internal/server/ws"
	"github.com/alanyoungcy/arbsim/internal/service"
)

// runtime is the engine plus the background services around it.
type runtime struct {
	engine   *engine.Engine
	recorder *service.Recorder
	mirror   *service.BookMirror
	archive  *service.ArchiveJob
}

// FullMode runs the engine, its background services, the WebSocket hub and
// the HTTP API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	rt, err := a.buildRuntime(deps)
	if err != nil {
		return err
	}

	hub := ws.NewHub(deps.SignalBus, rt.engine, ws.Config{AllowedOrigins: a.cfg.Server.CORSOrigins}, a.logger)
	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Health, a.logger),
		Status:  handler.NewStatusHandler(rt.engine, "full"),
		Logs:    handler.NewLogHandler(rt.engine, deps.Spreads, a.logger),
		Control: handler.NewControlHandler(rt.engine, a.logger),
		Metrics: deps.Metrics.Handler(),
	}, hub, deps.RateLimiter, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	a.startRuntime(gctx, g, rt)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	return wait(g)
}

// HeadlessMode runs the engine and its background services without the
// HTTP surface. Updates still reach the signal bus and the export sinks.
func (a *App) HeadlessMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting headless mode")

	rt, err := a.buildRuntime(deps)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	a.startRuntime(gctx, g, rt)
	return wait(g)
}

func (a *App) startRuntime(ctx context.Context, g *errgroup.Group, rt *runtime) {
	g.Go(func() error { return rt.engine.Run(ctx) })
	g.Go(func() error { return rt.recorder.Run(ctx) })
	if rt.mirror != nil {
		g.Go(func() error { return rt.mirror.Run(ctx) })
	}
	if rt.archive != nil {
		g.Go(func() error { return rt.archive.RunEvery(ctx, a.cfg.Archive.Interval.Duration) })
	}
}

// wait treats cancellation as a clean shutdown.
func wait(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) buildRuntime(deps *Dependencies) (*runtime, error) {
	ec := a.cfg.Engine

	recorder := service.NewRecorder(service.RecorderConfig{QueueSize: ec.PersistQueueSize}, service.Sinks{
		Opportunities: deps.Opportunities,
		Trades:        deps.Trades,
		Spreads:       deps.Spreads,
		Events:        deps.Events,
		Streams:       deps.SignalBus,
		Notifier:      deps.Notifier,
	}, deps.Metrics, a.logger)

	feeds, err := buildFeeds(a.cfg.Feeds, a.logger)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(engine.Config{
		Settings:             EngineSettings(a.cfg),
		Universe:             ec.SymbolUniverse,
		MaxDepth:             ec.MaxDepth,
		EvalInterval:         ec.EvalInterval.Duration,
		Workers:              ec.Workers,
		StartingBalance:      ec.StartingBalance,
		BaseAllocation:       ec.InitialBaseAllocation,
		RebalanceMinTransfer: ec.RebalanceMinTransfer,
		OpportunityLogSize:   ec.OpportunityLogSize,
		TradeLogSize:         ec.TradeLogSize,
		SpreadSeriesSize:     ec.SpreadSeriesSize,
		Latency:              latencyModel(ec),
	}, engine.Deps{
		Feeds:         feeds,
		Bus:           deps.SignalBus,
		Locks:         deps.LockManager,
		Recorder:      recorder,
		Opportunities: deps.Opportunities,
		Trades:        deps.Trades,
		Audit:         deps.Audit,
		Metrics:       deps.Metrics,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: build engine: %w", err)
	}

	rt := &runtime{engine: eng, recorder: recorder}
	if deps.BookMirror != nil {
		rt.mirror = service.NewBookMirror(eng, deps.BookMirror, ec.MirrorInterval.Duration, a.logger)
	}
	if deps.Archiver != nil {
		rt.archive = service.NewArchiveJob(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	}
	return rt, nil
}

// EngineSettings builds the initial runtime settings from the configuration.
func EngineSettings(cfg *config.Config) domain.Settings {
	ec := cfg.Engine
	exchanges := make(map[string]domain.ExchangeSettings, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		exchanges[feedName(f)] = domain.ExchangeSettings{
			Kind:    f.Kind,
			FeePct:  f.FeePct,
			Enabled: f.IsEnabled(),
		}
	}
	return domain.Settings{
		Symbols:          append([]string(nil), ec.Symbols...),
		TradeSize:        ec.TradeSize,
		SimulationVolume: ec.SimulationVolume,
		TransferCost:     ec.TransferCost,
		MinNetSpreadPct:  ec.MinNetSpreadPct,
		MinProfit:        ec.MinProfit,
		AutoExecute:      ec.AutoExecute,
		ReservationTTL:   ec.ReservationTTL.Duration,
		MaxBookAge:       ec.MaxBookAge.Duration,
		Exchanges:        exchanges,
	}
}

func buildFeeds(cfgs []config.FeedConfig, logger *slog.Logger) ([]feed.Feed, error) {
	feeds := make([]feed.Feed, 0, len(cfgs))
	for _, fc := range cfgs {
		f, err := feed.New(feed.Spec{
			Name:        feedName(fc),
			Kind:        fc.Kind,
			URLs:        fc.URLs,
			PriceOffset: fc.PriceOffset,
			Volatility:  fc.Volatility,
			DepthLevels: fc.DepthLevels,
			Interval:    fc.Interval.Duration,
			Seed:        fc.Seed,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("app: build feeds: %w", err)
		}
		feeds = append(feeds, f)
	}
	return feeds, nil
}

func feedName(f config.FeedConfig) string {
	return strings.ToLower(strings.TrimSpace(f.Name))
}

func latencyModel(ec config.EngineConfig) executor.LatencyModel {
	seed := uint64(time.Now().UnixNano())
	if strings.EqualFold(ec.LatencyModel, "measured") {
		return executor.NewMeasuredLatency(ec.LatencyFactor, ec.LatencyMin.Duration, ec.LatencyMax.Duration, seed)
	}
	return executor.NewUniformLatency(ec.LatencyMin.Duration, ec.LatencyMax.Duration, seed)
}
