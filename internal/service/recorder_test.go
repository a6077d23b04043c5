package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	membus "github.com/alanyoungcy/arbsim/internal/cache/memory"
	"github.com/alanyoungcy/arbsim/internal/domain"
	"github.com/alanyoungcy/arbsim/internal/notify"
	"github.com/alanyoungcy/arbsim/internal/observability"
	memstore "github.com/alanyoungcy/arbsim/internal/store/memory"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type emitted struct {
	topic, key string
}

type fakeEvents struct {
	mu   sync.Mutex
	sent []emitted
	err  error
}

func (f *fakeEvents) Emit(_ context.Context, topic, key string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, emitted{topic: topic, key: key})
	return nil
}

func (f *fakeEvents) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, e := range f.sent {
		out = append(out, e.topic)
	}
	return out
}

type recordingSender struct {
	mu     sync.Mutex
	titles []string
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.titles)
}

func sampleOpportunity(id string, status domain.OpportunityStatus, reason string) domain.Opportunity {
	return domain.Opportunity{
		ID:           id,
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Symbol:       "BTCUSDT",
		BuyExchange:  "a",
		SellExchange: "b",
		TradeSize:    4,
		NetSpreadPct: 1.04,
		Status:       status,
		Reason:       reason,
	}
}

func runRecorder(t *testing.T, r *Recorder) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestRecorderWritesEverySink(t *testing.T) {
	opps := memstore.NewOpportunityStore(100)
	trades := memstore.NewTradeStore(100)
	spreads := memstore.NewSpreadSeries(100)
	bus := membus.NewSignalBus()
	events := &fakeEvents{}

	r := NewRecorder(RecorderConfig{FlushInterval: 5 * time.Millisecond}, Sinks{
		Opportunities: opps,
		Trades:        trades,
		Spreads:       spreads,
		Events:        events,
		Streams:       bus,
	}, nil, discard())
	runRecorder(t, r)

	ctx := context.Background()
	accepted := sampleOpportunity("o1", domain.StatusAccepted, domain.ReasonProfitable)
	r.RecordTrade(ctx, domain.SimulatedTrade{ID: "t1", OpportunityID: "o1", Symbol: "BTCUSDT", Size: 4, PnL: 4.18, Timestamp: accepted.Timestamp}, accepted)
	r.RecordOpportunity(ctx, sampleOpportunity("o2", domain.StatusDiscarded, domain.ReasonBelowThreshold))

	require.Eventually(t, func() bool { return opps.Len() == 2 }, time.Second, 5*time.Millisecond)

	got, err := trades.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].ID)
	assert.Len(t, spreads.Recent(10), 2)

	require.Eventually(t, func() bool { return len(events.topics()) == 3 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{TopicOpportunities, TopicTrades, TopicOpportunities}, events.topics())

	msgs, err := bus.StreamRead(ctx, domain.StreamTrades, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var trade domain.SimulatedTrade
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &trade))
	assert.Equal(t, "t1", trade.ID)

	msgs, err = bus.StreamRead(ctx, domain.StreamOpportunities, "0", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestRecorderDropsWhenQueueFull(t *testing.T) {
	metrics := observability.NewMetrics()
	r := NewRecorder(RecorderConfig{QueueSize: 1}, Sinks{}, metrics, discard())

	ctx := context.Background()
	r.RecordOpportunity(ctx, sampleOpportunity("o1", domain.StatusDiscarded, domain.ReasonBelowThreshold))
	r.RecordOpportunity(ctx, sampleOpportunity("o2", domain.StatusDiscarded, domain.ReasonBelowThreshold))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PersistDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PersistQueueDepth))
}

func TestRecorderDrainsOnShutdown(t *testing.T) {
	opps := memstore.NewOpportunityStore(100)
	r := NewRecorder(RecorderConfig{FlushInterval: time.Hour, BatchSize: 1000}, Sinks{Opportunities: opps}, nil, discard())

	ctx := context.Background()
	for _, id := range []string{"o1", "o2", "o3"} {
		r.RecordOpportunity(ctx, sampleOpportunity(id, domain.StatusNoFunds, domain.ReasonInsufficientQuote))
	}

	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	err := r.Run(runCtx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, opps.Len())
}

func TestRecorderCountsSinkErrors(t *testing.T) {
	metrics := observability.NewMetrics()
	events := &fakeEvents{err: errors.New("broker down")}
	r := NewRecorder(RecorderConfig{}, Sinks{Events: events}, metrics, discard())

	r.RecordRebalance(context.Background(), domain.RebalanceResult{TransfersExecuted: 1, QuoteMoved: 1000})
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PersistErrors.WithLabelValues("events")))
}

func TestRecorderAlerts(t *testing.T) {
	sender := &recordingSender{}
	notifier := notify.NewNotifier([]notify.Sender{sender}, nil, discard())
	r := NewRecorder(RecorderConfig{}, Sinks{Notifier: notifier}, nil, discard())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	runRecorder(t, r)

	ctx := context.Background()
	r.RecordOpportunity(ctx, sampleOpportunity("o1", domain.StatusDiscarded, domain.ReasonBelowThreshold))
	r.RecordOpportunity(ctx, sampleOpportunity("o2", domain.StatusNoFunds, domain.ReasonBalanceChanged))
	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 5*time.Millisecond)

	feedErr := errors.New("connection reset")
	r.RecordFeedFault("binance", feedErr)
	r.RecordFeedFault("binance", feedErr)
	require.Eventually(t, func() bool { return sender.count() == 2 }, time.Second, 5*time.Millisecond)

	now = now.Add(2 * feedAlertCooldown)
	r.RecordFeedFault("binance", feedErr)
	require.Eventually(t, func() bool { return sender.count() == 3 }, time.Second, 5*time.Millisecond)
}
