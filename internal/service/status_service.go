package service

import (
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/parimutuel"
)

// StatusService reports operational state for GET /api/status.
type StatusService struct {
	engine    *parimutuel.Engine
	mode      string
	journal   string
	gold      string
	startedAt time.Time
	clients   func() int
}

// NewStatusService creates a StatusService. clients reports connected
// WebSocket clients and may be nil.
func NewStatusService(engine *parimutuel.Engine, mode, journalBackend, goldBackend string, clients func() int) *StatusService {
	return &StatusService{
		engine:    engine,
		mode:      mode,
		journal:   journalBackend,
		gold:      goldBackend,
		startedAt: time.Now(),
		clients:   clients,
	}
}

// Status returns a point-in-time summary.
func (s *StatusService) Status() domain.ServiceStatus {
	stats := s.engine.Stats()
	st := domain.ServiceStatus{
		Mode:           s.mode,
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		ActiveMarkets:  stats.ActiveMarkets,
		SettledMarkets: stats.SettledMarkets,
		TotalBets:      stats.TotalBets,
		DroppedEvents:  stats.DroppedEvents,
		JournalBackend: s.journal,
		GoldBackend:    s.gold,
	}
	if s.clients != nil {
		st.WSClients = s.clients()
	}
	return st
}
