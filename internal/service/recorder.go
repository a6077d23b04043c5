// Package service holds the background services around the engine:
// asynchronous persistence and export of engine records, the book mirror
// and the archive job.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
	"github.com/alanyoungcy/arbsim/internal/engine"
	"github.com/alanyoungcy/arbsim/internal/notify"
	"github.com/alanyoungcy/arbsim/internal/observability"
)

// Export topics.
const (
	TopicOpportunities = "opportunities"
	TopicTrades        = "trades"
	TopicRebalances    = "rebalances"
)

const (
	defaultQueueSize     = 5000
	defaultBatchSize     = 200
	defaultFlushInterval = 250 * time.Millisecond
	drainTimeout         = 5 * time.Second
	feedAlertCooldown    = time.Minute
)

// RecorderConfig configures the persistence queue.
type RecorderConfig struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

// Sinks are the optional destinations of engine records. Nil sinks are
// skipped.
type Sinks struct {
	Opportunities domain.OpportunityStore
	Trades        domain.TradeStore
	Spreads       domain.SpreadStore
	Events        domain.EventSink
	Streams       domain.SignalBus
	Notifier      *notify.Notifier
}

type record struct {
	opp   domain.Opportunity
	trade *domain.SimulatedTrade
}

// Recorder implements engine.Recorder. Records are queued without blocking
// the engine and written in batches by Run; when the queue is full the
// record is dropped with a warning.
type Recorder struct {
	cfg     RecorderConfig
	sinks   Sinks
	queue   chan record
	alerts  chan alert
	metrics *observability.Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	lastAlert map[string]time.Time
	now       func() time.Time
}

type alert struct {
	event, title, message string
}

var _ engine.Recorder = (*Recorder)(nil)

// NewRecorder creates a Recorder. metrics may be nil.
func NewRecorder(cfg RecorderConfig, sinks Sinks, metrics *observability.Metrics, logger *slog.Logger) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	return &Recorder{
		cfg:       cfg,
		sinks:     sinks,
		queue:     make(chan record, cfg.QueueSize),
		alerts:    make(chan alert, 64),
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "recorder")),
		lastAlert: make(map[string]time.Time),
		now:       time.Now,
	}
}

// RecordOpportunity queues a terminal opportunity.
func (r *Recorder) RecordOpportunity(_ context.Context, opp domain.Opportunity) {
	r.enqueue(record{opp: opp})
	if opp.Reason == domain.ReasonBalanceChanged || opp.Reason == domain.ReasonReservationExpired {
		r.alert(notify.EventTradeAborted, "Trade aborted",
			fmt.Sprintf("%s %s->%s size %.6g: %s", opp.Symbol, opp.BuyExchange, opp.SellExchange, opp.TradeSize, opp.Reason))
	}
}

// RecordTrade queues a settled trade with its opportunity.
func (r *Recorder) RecordTrade(_ context.Context, trade domain.SimulatedTrade, opp domain.Opportunity) {
	r.enqueue(record{opp: opp, trade: &trade})
	r.alert(notify.EventTradeSettled, "Trade settled",
		fmt.Sprintf("%s %s->%s size %.6g pnl %.4f latency %.0fms",
			trade.Symbol, trade.BuyExchange, trade.SellExchange, trade.Size, trade.PnL, trade.LatencyMs))
}

// RecordRebalance exports and announces a rebalance.
func (r *Recorder) RecordRebalance(ctx context.Context, res domain.RebalanceResult) {
	if r.sinks.Events != nil {
		if err := r.sinks.Events.Emit(ctx, TopicRebalances, "", res); err != nil {
			r.sinkError("events", err)
		}
	}
	r.alert(notify.EventRebalance, "Inventory rebalanced",
		fmt.Sprintf("%d transfers, %.2f moved, %.2f costs", res.TransfersExecuted, res.QuoteMoved, res.CostsApplied))
}

// RecordFeedFault announces a feed disconnect, at most once a minute per
// feed.
func (r *Recorder) RecordFeedFault(name string, err error) {
	r.mu.Lock()
	now := r.now()
	if last, ok := r.lastAlert[name]; ok && now.Sub(last) < feedAlertCooldown {
		r.mu.Unlock()
		return
	}
	r.lastAlert[name] = now
	r.mu.Unlock()
	r.alert(notify.EventFeedDisconnect, "Feed disconnected", fmt.Sprintf("%s: %v", name, err))
}

func (r *Recorder) enqueue(rec record) {
	select {
	case r.queue <- rec:
		r.metrics.PersistQueueDepth.Set(float64(len(r.queue)))
	default:
		r.metrics.PersistDropped.Inc()
		r.logger.Warn("persist queue full, record dropped",
			slog.String("opportunity_id", rec.opp.ID),
			slog.Int("capacity", cap(r.queue)),
		)
	}
}

func (r *Recorder) alert(event, title, message string) {
	if !r.sinks.Notifier.Enabled(event) {
		return
	}
	select {
	case r.alerts <- alert{event: event, title: title, message: message}:
	default:
		r.logger.Debug("alert queue full", slog.String("event", event))
	}
}

// Run writes queued records until ctx ends, then drains what is left.
func (r *Recorder) Run(ctx context.Context) error {
	go r.runAlerts(ctx)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]record, 0, r.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			r.drain(batch)
			return ctx.Err()
		case rec := <-r.queue:
			batch = append(batch, rec)
			if len(batch) >= r.cfg.BatchSize {
				r.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(ctx, batch)
				batch = batch[:0]
			}
		}
		r.metrics.PersistQueueDepth.Set(float64(len(r.queue)))
	}
}

func (r *Recorder) drain(batch []record) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case rec := <-r.queue:
			batch = append(batch, rec)
			continue
		default:
		}
		break
	}
	if len(batch) > 0 {
		r.flush(ctx, batch)
	}
	r.metrics.PersistQueueDepth.Set(0)
}

func (r *Recorder) flush(ctx context.Context, batch []record) {
	opps := make([]domain.Opportunity, 0, len(batch))
	points := make([]domain.SpreadPoint, 0, len(batch))
	var trades []domain.SimulatedTrade
	for _, rec := range batch {
		opps = append(opps, rec.opp)
		points = append(points, domain.SpreadPointOf(rec.opp))
		if rec.trade != nil {
			trades = append(trades, *rec.trade)
		}
	}

	if s := r.sinks.Opportunities; s != nil {
		if err := s.InsertBatch(ctx, opps); err != nil {
			r.sinkError("postgres_opportunities", err)
		}
	}
	if s := r.sinks.Trades; s != nil && len(trades) > 0 {
		if err := s.InsertBatch(ctx, trades); err != nil {
			r.sinkError("postgres_trades", err)
		}
	}
	if s := r.sinks.Spreads; s != nil {
		if err := s.InsertBulk(ctx, points); err != nil {
			r.sinkError("clickhouse", err)
		}
	}

	for _, rec := range batch {
		r.export(ctx, rec)
	}
}

func (r *Recorder) export(ctx context.Context, rec record) {
	if e := r.sinks.Events; e != nil {
		if err := e.Emit(ctx, TopicOpportunities, rec.opp.ID, rec.opp); err != nil {
			r.sinkError("events", err)
		}
		if rec.trade != nil {
			if err := e.Emit(ctx, TopicTrades, rec.trade.ID, rec.trade); err != nil {
				r.sinkError("events", err)
			}
		}
	}
	if b := r.sinks.Streams; b != nil {
		r.appendStream(ctx, b, domain.StreamOpportunities, rec.opp)
		if rec.trade != nil {
			r.appendStream(ctx, b, domain.StreamTrades, rec.trade)
		}
	}
}

func (r *Recorder) appendStream(ctx context.Context, b domain.SignalBus, stream string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		r.sinkError("streams", err)
		return
	}
	if err := b.StreamAppend(ctx, stream, payload); err != nil {
		r.sinkError("streams", err)
	}
}

func (r *Recorder) sinkError(sink string, err error) {
	r.metrics.PersistErrors.WithLabelValues(sink).Inc()
	r.logger.Warn("record sink failed", slog.String("sink", sink), slog.String("error", err.Error()))
}

func (r *Recorder) runAlerts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-r.alerts:
			sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			_ = r.sinks.Notifier.Notify(sendCtx, a.event, a.title, a.message)
			cancel()
		}
	}
}
