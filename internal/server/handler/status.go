package handler

import (
	"net/http"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// SnapshotSource builds the engine status view.
type SnapshotSource interface {
	Snapshot() domain.Snapshot
}

// StatusHandler serves the engine status snapshot.
type StatusHandler struct {
	source SnapshotSource
	mode   string
}

// NewStatusHandler creates a StatusHandler reporting the run mode alongside
// the snapshot.
func NewStatusHandler(source SnapshotSource, mode string) *StatusHandler {
	return &StatusHandler{source: source, mode: mode}
}

type statusResponse struct {
	Mode string `json:"mode"`
	domain.Snapshot
}

// GetStatus responds with the current engine snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Mode: h.mode, Snapshot: h.source.Snapshot()})
}
