package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeLogs struct {
	opts    domain.ListOpts
	opps    []domain.Opportunity
	err     error
	spreads []domain.SpreadPoint
	limit   int
}

func (f *fakeLogs) Opportunities(_ context.Context, opts domain.ListOpts) ([]domain.Opportunity, error) {
	f.opts = opts
	return f.opps, f.err
}

func (f *fakeLogs) Trades(_ context.Context, opts domain.ListOpts) ([]domain.SimulatedTrade, error) {
	f.opts = opts
	return nil, f.err
}

func (f *fakeLogs) Spreads(limit int) []domain.SpreadPoint {
	f.limit = limit
	return f.spreads
}

func (f *fakeLogs) Book(exchange, symbol string) (*domain.OrderBook, error) {
	if exchange == "binance" && symbol == "BTCUSDT" {
		return &domain.OrderBook{Exchange: exchange, Symbol: symbol, Version: 7}, nil
	}
	return nil, fmt.Errorf("engine: book %s/%s: %w", exchange, symbol, domain.ErrNotFound)
}

type fakeHistory struct {
	symbol   string
	from, to time.Time
}

func (f *fakeHistory) InsertBulk(context.Context, []domain.SpreadPoint) error { return nil }

func (f *fakeHistory) Range(_ context.Context, symbol string, from, to time.Time) ([]domain.SpreadPoint, error) {
	f.symbol, f.from, f.to = symbol, from, to
	return []domain.SpreadPoint{{Symbol: symbol}}, nil
}

func serve(h http.HandlerFunc, method, target, body string, pathValues ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestListOpportunitiesParsesQuery(t *testing.T) {
	logs := &fakeLogs{opps: []domain.Opportunity{{ID: "o1"}}}
	h := NewLogHandler(logs, nil, discard())

	rec := serve(h.ListOpportunities, http.MethodGet,
		"/api/opportunities?limit=9000&offset=5&symbols=btcusdt,ethusdt&order=oldest&since=2026-01-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, domain.MaxListLimit, logs.opts.Limit)
	assert.Equal(t, 5, logs.opts.Offset)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, logs.opts.Symbols)
	assert.True(t, logs.opts.Oldest)
	require.NotNil(t, logs.opts.Since)
	assert.Equal(t, 2026, logs.opts.Since.Year())

	var body listOpportunitiesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Opportunities, 1)
	assert.Equal(t, domain.MaxListLimit, body.Limit)
}

func TestListQueryValidation(t *testing.T) {
	h := NewLogHandler(&fakeLogs{}, nil, discard())
	for _, target := range []string{
		"/api/trades?limit=abc",
		"/api/trades?offset=-1",
		"/api/trades?order=sideways",
		"/api/trades?until=yesterday",
	} {
		rec := serve(h.ListTrades, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestListTradesDefaultsAndEmptyArray(t *testing.T) {
	logs := &fakeLogs{}
	h := NewLogHandler(logs, nil, discard())

	rec := serve(h.ListTrades, http.MethodGet, "/api/trades", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.DefaultListLimit, logs.opts.Limit)
	assert.Contains(t, rec.Body.String(), `"trades":[]`)
}

func TestListFailureHidesCause(t *testing.T) {
	h := NewLogHandler(&fakeLogs{err: errors.New("pool exhausted")}, nil, discard())
	rec := serve(h.ListOpportunities, http.MethodGet, "/api/opportunities", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pool exhausted")
}

func TestListSpreads(t *testing.T) {
	logs := &fakeLogs{}
	h := NewLogHandler(logs, nil, discard())

	rec := serve(h.ListSpreads, http.MethodGet, "/api/spreads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultSpreadLimit, logs.limit)

	rec = serve(h.ListSpreads, http.MethodGet, "/api/spreads?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h.ListSpreads, http.MethodGet, "/api/spreads?symbol=BTCUSDT&from=2026-01-01T00:00:00Z", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestSpreadHistory(t *testing.T) {
	hist := &fakeHistory{}
	h := NewLogHandler(&fakeLogs{}, hist, discard())

	rec := serve(h.ListSpreads, http.MethodGet,
		"/api/spreads?symbol=btcusdt&from=2026-01-01T00:00:00Z&to=2026-01-02T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTCUSDT", hist.symbol)
	assert.Equal(t, 24*time.Hour, hist.to.Sub(hist.from))

	rec = serve(h.ListSpreads, http.MethodGet,
		"/api/spreads?symbol=BTCUSDT&from=2026-01-01T00:00:00Z&to=2026-02-01T00:00:00Z", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h.ListSpreads, http.MethodGet, "/api/spreads?from=2026-01-01T00:00:00Z", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBook(t *testing.T) {
	h := NewLogHandler(&fakeLogs{}, nil, discard())

	rec := serve(h.GetBook, http.MethodGet, "/api/books/binance/BTCUSDT", "", "exchange", "binance", "symbol", "BTCUSDT")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":7`)

	rec = serve(h.GetBook, http.MethodGet, "/api/books/kraken/BTCUSDT", "", "exchange", "kraken", "symbol", "BTCUSDT")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeControl struct {
	calls []string
	err   error
}

func (f *fakeControl) result(call string) (domain.Settings, error) {
	f.calls = append(f.calls, call)
	return domain.Settings{Version: uint64(len(f.calls) + 1)}, f.err
}

func (f *fakeControl) SetSymbols(_ context.Context, symbols []string) (domain.Settings, error) {
	return f.result("symbols:" + strings.Join(symbols, ","))
}

func (f *fakeControl) SetTradeSize(_ context.Context, size float64) (domain.Settings, error) {
	if size <= 0 {
		return domain.Settings{}, fmt.Errorf("engine: set trade size %v: %w", size, domain.ErrInvalidTradeSize)
	}
	return f.result(fmt.Sprintf("size:%g", size))
}

func (f *fakeControl) SetSimulationVolume(_ context.Context, volume float64) (domain.Settings, error) {
	return f.result(fmt.Sprintf("volume:%g", volume))
}

func (f *fakeControl) SetExchangeEnabled(_ context.Context, exchange string, enabled bool) (domain.Settings, error) {
	if exchange != "binance" {
		return domain.Settings{}, fmt.Errorf("engine: set exchange %q: %w", exchange, domain.ErrUnknownExchange)
	}
	return f.result(fmt.Sprintf("enabled:%s:%t", exchange, enabled))
}

func (f *fakeControl) SetExchangeFee(_ context.Context, exchange string, fee float64) (domain.Settings, error) {
	return f.result(fmt.Sprintf("fee:%s:%g", exchange, fee))
}

func (f *fakeControl) SetAutoExecute(_ context.Context, on bool) (domain.Settings, error) {
	return f.result(fmt.Sprintf("auto:%t", on))
}

func (f *fakeControl) Rebalance(context.Context) (domain.RebalanceResult, error) {
	f.calls = append(f.calls, "rebalance")
	if f.err != nil {
		return domain.RebalanceResult{}, f.err
	}
	return domain.RebalanceResult{TransfersExecuted: 1}, nil
}

func TestControlEndpoints(t *testing.T) {
	ctl := &fakeControl{}
	h := NewControlHandler(ctl, discard())

	rec := serve(h.SetSymbols, http.MethodPost, "/api/control/symbols", `{"symbols":["ETHUSDT"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h.SetTradeSize, http.MethodPost, "/api/control/trade-size", `{"trade_size":0.5,"simulation_volume":1000}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h.UpdateExchange, http.MethodPost, "/api/control/exchanges/binance", `{"enabled":false,"fee_pct":0.2}`, "exchange", "binance")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h.SetAutoExecute, http.MethodPost, "/api/control/auto-execute", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h.Rebalance, http.MethodPost, "/api/control/rebalance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"transfers_executed":1`)

	assert.Equal(t, []string{
		"symbols:ETHUSDT",
		"size:0.5",
		"volume:1000",
		"fee:binance:0.2",
		"enabled:binance:false",
		"auto:true",
		"rebalance",
	}, ctl.calls)
}

func TestControlErrorMapping(t *testing.T) {
	h := NewControlHandler(&fakeControl{}, discard())

	rec := serve(h.SetTradeSize, http.MethodPost, "/api/control/trade-size", `{"trade_size":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.ErrInvalidTradeSize.Error())

	rec = serve(h.SetTradeSize, http.MethodPost, "/api/control/trade-size", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h.SetTradeSize, http.MethodPost, "/api/control/trade-size", `{"size":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h.UpdateExchange, http.MethodPost, "/api/control/exchanges/kraken", `{"enabled":true}`, "exchange", "kraken")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	busy := NewControlHandler(&fakeControl{err: fmt.Errorf("engine: rebalance: %w", domain.ErrLockHeld)}, discard())
	rec = serve(busy.Rebalance, http.MethodPost, "/api/control/rebalance", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", domain.ErrUnknownSymbol), http.StatusBadRequest},
		{fmt.Errorf("x: %w", domain.ErrInvalidVolume), http.StatusBadRequest},
		{fmt.Errorf("x: %w", domain.ErrInvalidFee), http.StatusBadRequest},
		{fmt.Errorf("x: %w", domain.ErrUnknownExchange), http.StatusNotFound},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestHealthCheck(t *testing.T) {
	ok := NewHealthHandler(map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	}, discard())
	rec := serve(ok.HealthCheck, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	bad := NewHealthHandler(map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, discard())
	rec = serve(bad.HealthCheck, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

type staticSnapshot struct{}

func (staticSnapshot) Snapshot() domain.Snapshot {
	return domain.Snapshot{SettingsVersion: 3, Symbols: []string{"BTCUSDT"}}
}

func TestGetStatus(t *testing.T) {
	h := NewStatusHandler(staticSnapshot{}, "headless")
	rec := serve(h.GetStatus, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "headless", body["mode"])
	assert.Equal(t, 3.0, body["settings_version"])
}
