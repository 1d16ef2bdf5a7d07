package handler

import (
	"net/http"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// StatusProvider reports the service's operational state.
type StatusProvider interface {
	Status() domain.ServiceStatus
}

// StatusHandler serves GET /api/status.
type StatusHandler struct {
	status StatusProvider
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(status StatusProvider) *StatusHandler {
	return &StatusHandler{status: status}
}

// GetStatus responds with mode, uptime and engine counters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Status())
}
