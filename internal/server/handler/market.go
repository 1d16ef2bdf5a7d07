package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// MarketService is what the market handler needs from the service layer.
type MarketService interface {
	CreateMarket(ctx context.Context, nm domain.NewMarket) (domain.Market, error)
	GetMarket(ctx context.Context, id int64) (domain.MarketSnapshot, error)
	ListMarkets(ctx context.Context, status domain.MarketStatus) ([]domain.Market, error)
	PreviewBet(ctx context.Context, id int64, outcome int, amount int64) (domain.BetPreview, error)
	Resolve(ctx context.Context, id int64, winning int) (domain.ResolutionResult, error)
	Cancel(ctx context.Context, id int64) error
	Resolution(ctx context.Context, id int64) (domain.ResolutionResult, error)
}

// MarketHandler serves market endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

type createMarketRequest struct {
	Question        string    `json:"question"`
	Outcomes        []string  `json:"outcomes"`
	BettingDeadline time.Time `json:"bettingDeadline"`
	ResolutionTime  time.Time `json:"resolutionTime"`
	HouseFeeBps     int64     `json:"houseFeeBps"`
}

func (req createMarketRequest) validate() error {
	var missing []string
	if strings.TrimSpace(req.Question) == "" {
		missing = append(missing, "question")
	}
	if req.BettingDeadline.IsZero() {
		missing = append(missing, "bettingDeadline")
	}
	if req.ResolutionTime.IsZero() {
		missing = append(missing, "resolutionTime")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s: %w", strings.Join(missing, ", "), domain.ErrMalformedRequest)
	}
	if req.ResolutionTime.Before(req.BettingDeadline) {
		return fmt.Errorf("resolutionTime before bettingDeadline: %w", domain.ErrMalformedRequest)
	}
	return nil
}

// CreateMarket opens a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	m, err := h.markets.CreateMarket(r.Context(), domain.NewMarket{
		Question:        strings.TrimSpace(req.Question),
		Outcomes:        req.Outcomes,
		BettingDeadline: req.BettingDeadline,
		ResolutionTime:  req.ResolutionTime,
		HouseFeeBps:     req.HouseFeeBps,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int             `json:"total"`
}

// ListMarkets lists markets, optionally filtered by status.
// GET /api/markets?status=ACTIVE
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	status := domain.MarketStatus(strings.ToUpper(r.URL.Query().Get("status")))
	markets, err := h.markets.ListMarkets(r.Context(), status)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets, Total: len(markets)})
}

// GetMarket returns a market with current odds and implied probabilities.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	snap, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// PreviewBet projects the payout and odds after a hypothetical bet.
// GET /api/markets/{id}/preview?outcome=0&amount=100
func (h *MarketHandler) PreviewBet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	outcome, err := queryInt64(r, "outcome")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	amount, err := queryInt64(r, "amount")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	p, err := h.markets.PreviewBet(r.Context(), id, int(outcome), amount)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type resolveRequest struct {
	WinningOutcome *int `json:"winningOutcome"`
}

// Resolve settles a market.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.WinningOutcome == nil {
		writeError(w, r, h.logger, fmt.Errorf("missing winningOutcome: %w", domain.ErrMalformedRequest))
		return
	}
	res, err := h.markets.Resolve(r.Context(), id, *req.WinningOutcome)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Cancel voids a market.
// POST /api/markets/{id}/cancel
func (h *MarketHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.markets.Cancel(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marketId": id, "status": domain.MarketStatusCancelled})
}

// Resolution returns the frozen payout table of a resolved market.
// GET /api/markets/{id}/resolution
func (h *MarketHandler) Resolution(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.markets.Resolution(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
