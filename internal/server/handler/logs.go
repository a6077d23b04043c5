package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// LogReader is the engine query surface used by LogHandler.
type LogReader interface {
	Opportunities(ctx context.Context, opts domain.ListOpts) ([]domain.Opportunity, error)
	Trades(ctx context.Context, opts domain.ListOpts) ([]domain.SimulatedTrade, error)
	Spreads(limit int) []domain.SpreadPoint
	Book(exchange, symbol string) (*domain.OrderBook, error)
}

const (
	defaultSpreadLimit = 200
	maxHistoryRange    = 7 * 24 * time.Hour
)

// LogHandler serves the opportunity and trade logs, the spread series and
// the current books.
type LogHandler struct {
	logs    LogReader
	history domain.SpreadStore
	logger  *slog.Logger
}

// NewLogHandler creates a LogHandler. history may be nil, in which case
// only the in-memory spread series is served.
func NewLogHandler(logs LogReader, history domain.SpreadStore, logger *slog.Logger) *LogHandler {
	return &LogHandler{logs: logs, history: history, logger: logger}
}

type listOpportunitiesResponse struct {
	Opportunities []domain.Opportunity `json:"opportunities"`
	Limit         int                  `json:"limit"`
	Offset        int                  `json:"offset"`
}

// ListOpportunities returns a window of the opportunity log.
// GET /api/opportunities?limit=100&offset=0&symbols=BTCUSDT&order=newest
func (h *LogHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opps, err := h.logs.Opportunities(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to list opportunities", err)
		return
	}
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, listOpportunitiesResponse{Opportunities: opps, Limit: opts.Limit, Offset: opts.Offset})
}

type listTradesResponse struct {
	Trades []domain.SimulatedTrade `json:"trades"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

// ListTrades returns a window of the trade log.
// GET /api/trades?limit=100&offset=0&symbols=BTCUSDT&order=newest
func (h *LogHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trades, err := h.logs.Trades(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to list trades", err)
		return
	}
	if trades == nil {
		trades = []domain.SimulatedTrade{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades, Limit: opts.Limit, Offset: opts.Offset})
}

// ListSpreads returns the recent spread series. With symbol and from set,
// the time series store is queried for that range instead.
// GET /api/spreads?limit=200
// GET /api/spreads?symbol=BTCUSDT&from=2026-01-01T00:00:00Z&to=...
func (h *LogHandler) ListSpreads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("from") != "" {
		h.spreadHistory(w, r)
		return
	}

	limit := defaultSpreadLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	points := h.logs.Spreads(limit)
	if points == nil {
		points = []domain.SpreadPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"spreads": points})
}

func (h *LogHandler) spreadHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotImplemented, "spread history store not configured")
		return
	}
	q := r.URL.Query()
	symbol := domain.NormalizeSymbol(q.Get("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required with from")
		return
	}
	from, err := parseTime(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be RFC 3339")
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be RFC 3339")
		return
	}
	end := time.Now().UTC()
	if to != nil {
		end = *to
	}
	if !end.After(*from) || end.Sub(*from) > maxHistoryRange {
		writeError(w, http.StatusBadRequest, "range must be positive and at most 7 days")
		return
	}

	points, err := h.history.Range(r.Context(), symbol, *from, end)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to query spread history", err)
		return
	}
	if points == nil {
		points = []domain.SpreadPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"spreads": points})
}

// GetBook returns the stored book for one exchange and symbol.
// GET /api/books/{exchange}/{symbol}
func (h *LogHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	b, err := h.logs.Book(r.PathValue("exchange"), r.PathValue("symbol"))
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to get book", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
