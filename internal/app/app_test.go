package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbsim/internal/config"
	"github.com/alanyoungcy/arbsim/internal/executor"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEngineSettingsFromConfig(t *testing.T) {
	cfg := config.Defaults()
	off := false
	cfg.Feeds = []config.FeedConfig{
		{Name: " Binance ", Kind: "binance_ws", FeePct: 0.1},
		{Name: "bybit", Kind: "bybit_ws", FeePct: 0.2, Enabled: &off},
	}

	s := EngineSettings(&cfg)

	require.Len(t, s.Exchanges, 2)
	assert.Equal(t, "binance_ws", s.Exchanges["binance"].Kind)
	assert.InDelta(t, 0.1, s.Exchanges["binance"].FeePct, 1e-12)
	assert.True(t, s.Exchanges["binance"].Enabled)
	assert.False(t, s.Exchanges["bybit"].Enabled)
	assert.Equal(t, cfg.Engine.Symbols, s.Symbols)
	assert.Equal(t, cfg.Engine.ReservationTTL.Duration, s.ReservationTTL)
	assert.Equal(t, cfg.Engine.MaxBookAge.Duration, s.MaxBookAge)
}

func TestLatencyModelSelection(t *testing.T) {
	cfg := config.Defaults()
	assert.IsType(t, &executor.UniformLatency{}, latencyModel(cfg.Engine))

	cfg.Engine.LatencyModel = "Measured"
	assert.IsType(t, &executor.MeasuredLatency{}, latencyModel(cfg.Engine))
}

func TestHeadlessModeStopsOnCancel(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "headless"
	cfg.Feeds = config.DefaultFeeds()
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() { done <- New(&cfg, discard()).Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("headless mode did not stop after cancel")
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "replay"
	err := New(&cfg, discard()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode")
}
