package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// BetService is what the bet handler needs from the service layer.
type BetService interface {
	PlaceBet(ctx context.Context, marketID int64, outcome int, bettorID string, amount int64) (domain.Bet, error)
	Claim(ctx context.Context, marketID int64, bettorID string) (int64, error)
	BetsForBettor(ctx context.Context, bettorID string) []domain.Bet
	Position(ctx context.Context, marketID int64, bettorID string) (domain.Position, error)
	Balance(ctx context.Context, bettorID string) (int64, error)
	Credit(ctx context.Context, bettorID string, amount int64) (int64, error)
}

// BetHandler serves wagering, claim and balance endpoints.
type BetHandler struct {
	bets   BetService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(bets BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{bets: bets, logger: logger}
}

type placeBetRequest struct {
	BettorID     string `json:"bettorId"`
	OutcomeIndex *int   `json:"outcomeIndex"`
	Amount       int64  `json:"amount"`
}

// PlaceBet places a wager.
// POST /api/markets/{id}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req placeBetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	bettor := NormalizeBettor(req.BettorID)
	if bettor == "" || req.OutcomeIndex == nil {
		writeError(w, r, h.logger, fmt.Errorf("bettorId and outcomeIndex are required: %w", domain.ErrMalformedRequest))
		return
	}
	bet, err := h.bets.PlaceBet(r.Context(), id, *req.OutcomeIndex, bettor, req.Amount)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

type claimRequest struct {
	BettorID string `json:"bettorId"`
}

type claimResponse struct {
	MarketID int64  `json:"marketId"`
	BettorID string `json:"bettorId"`
	Amount   int64  `json:"amount"`
}

// Claim pays out a bettor's winnings or refunds on a settled market.
// POST /api/markets/{id}/claim
func (h *BetHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	bettor := NormalizeBettor(req.BettorID)
	if bettor == "" {
		writeError(w, r, h.logger, fmt.Errorf("bettorId is required: %w", domain.ErrMalformedRequest))
		return
	}
	amount, err := h.bets.Claim(r.Context(), id, bettor)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{MarketID: id, BettorID: bettor, Amount: amount})
}

type betsResponse struct {
	BettorID string       `json:"bettorId"`
	Bets     []domain.Bet `json:"bets"`
}

// BetsForBettor lists a bettor's bets across markets, oldest first.
// GET /api/bettors/{bettorId}/bets
func (h *BetHandler) BetsForBettor(w http.ResponseWriter, r *http.Request) {
	bettor, err := bettorParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, betsResponse{BettorID: bettor, Bets: h.bets.BetsForBettor(r.Context(), bettor)})
}

// Position returns a bettor's stake and claimable amount on one market.
// GET /api/markets/{id}/positions/{bettorId}
func (h *BetHandler) Position(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	bettor, err := bettorParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	pos, err := h.bets.Position(r.Context(), id, bettor)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type balanceResponse struct {
	BettorID string `json:"bettorId"`
	Balance  int64  `json:"balance"`
}

// Balance returns a bettor's gold balance.
// GET /api/bettors/{bettorId}/balance
func (h *BetHandler) Balance(w http.ResponseWriter, r *http.Request) {
	bettor, err := bettorParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	balance, err := h.bets.Balance(r.Context(), bettor)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{BettorID: bettor, Balance: balance})
}

type creditRequest struct {
	Amount int64 `json:"amount"`
}

// Credit adds gold to a bettor's balance.
// POST /api/admin/gold/{bettorId}
func (h *BetHandler) Credit(w http.ResponseWriter, r *http.Request) {
	bettor, err := bettorParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req creditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	balance, err := h.bets.Credit(r.Context(), bettor, req.Amount)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{BettorID: bettor, Balance: balance})
}
