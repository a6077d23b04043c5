package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// Controller is the engine control surface.
type Controller interface {
	SetSymbols(ctx context.Context, symbols []string) (domain.Settings, error)
	SetTradeSize(ctx context.Context, size float64) (domain.Settings, error)
	SetSimulationVolume(ctx context.Context, volume float64) (domain.Settings, error)
	SetExchangeEnabled(ctx context.Context, exchange string, enabled bool) (domain.Settings, error)
	SetExchangeFee(ctx context.Context, exchange string, feePct float64) (domain.Settings, error)
	SetAutoExecute(ctx context.Context, on bool) (domain.Settings, error)
	Rebalance(ctx context.Context) (domain.RebalanceResult, error)
}

// ControlHandler serves the control endpoints. Every successful change
// responds with the new settings.
type ControlHandler struct {
	ctl    Controller
	logger *slog.Logger
}

// NewControlHandler creates a ControlHandler.
func NewControlHandler(ctl Controller, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{ctl: ctl, logger: logger}
}

type symbolsRequest struct {
	Symbols []string `json:"symbols"`
}

// SetSymbols replaces the evaluated symbols.
// POST /api/control/symbols {"symbols":["BTCUSDT"]}
func (h *ControlHandler) SetSymbols(w http.ResponseWriter, r *http.Request) {
	var req symbolsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s, err := h.ctl.SetSymbols(r.Context(), req.Symbols)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to set symbols", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type tradeSizeRequest struct {
	TradeSize        *float64 `json:"trade_size"`
	SimulationVolume *float64 `json:"simulation_volume"`
}

// SetTradeSize changes the trade size, the simulation volume, or both.
// POST /api/control/trade-size {"trade_size":0.05,"simulation_volume":0}
func (h *ControlHandler) SetTradeSize(w http.ResponseWriter, r *http.Request) {
	var req tradeSizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TradeSize == nil && req.SimulationVolume == nil {
		writeError(w, http.StatusBadRequest, "trade_size or simulation_volume is required")
		return
	}

	var (
		s   domain.Settings
		err error
	)
	if req.TradeSize != nil {
		if s, err = h.ctl.SetTradeSize(r.Context(), *req.TradeSize); err != nil {
			writeDomainError(w, r, h.logger, "failed to set trade size", err)
			return
		}
	}
	if req.SimulationVolume != nil {
		if s, err = h.ctl.SetSimulationVolume(r.Context(), *req.SimulationVolume); err != nil {
			writeDomainError(w, r, h.logger, "failed to set simulation volume", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s)
}

type exchangeRequest struct {
	Enabled *bool    `json:"enabled"`
	FeePct  *float64 `json:"fee_pct"`
}

// UpdateExchange enables, disables or re-prices an exchange.
// POST /api/control/exchanges/{exchange} {"enabled":false,"fee_pct":0.1}
func (h *ControlHandler) UpdateExchange(w http.ResponseWriter, r *http.Request) {
	exchange := r.PathValue("exchange")
	var req exchangeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Enabled == nil && req.FeePct == nil {
		writeError(w, http.StatusBadRequest, "enabled or fee_pct is required")
		return
	}

	var (
		s   domain.Settings
		err error
	)
	if req.FeePct != nil {
		if s, err = h.ctl.SetExchangeFee(r.Context(), exchange, *req.FeePct); err != nil {
			writeDomainError(w, r, h.logger, "failed to set exchange fee", err)
			return
		}
	}
	if req.Enabled != nil {
		if s, err = h.ctl.SetExchangeEnabled(r.Context(), exchange, *req.Enabled); err != nil {
			writeDomainError(w, r, h.logger, "failed to toggle exchange", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s)
}

type autoExecuteRequest struct {
	Enabled bool `json:"enabled"`
}

// SetAutoExecute toggles simulated execution of accepted opportunities.
// POST /api/control/auto-execute {"enabled":true}
func (h *ControlHandler) SetAutoExecute(w http.ResponseWriter, r *http.Request) {
	var req autoExecuteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s, err := h.ctl.SetAutoExecute(r.Context(), req.Enabled)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to set auto execute", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Rebalance moves quote capital across the enabled exchanges.
// POST /api/control/rebalance
func (h *ControlHandler) Rebalance(w http.ResponseWriter, r *http.Request) {
	res, err := h.ctl.Rebalance(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to rebalance", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
