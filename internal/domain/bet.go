package domain

import "time"

// Bet is one immutable wager. Only Claimed ever changes, false to true once.
type Bet struct {
	ID           int64     `json:"id"`
	MarketID     int64     `json:"marketId"`
	OutcomeIndex int       `json:"outcomeIndex"`
	BettorID     string    `json:"bettorId"`
	Amount       int64     `json:"amount"`
	OddsAtBet    int64     `json:"oddsAtBet"`
	Timestamp    time.Time `json:"timestamp"`
	Claimed      bool      `json:"claimed"`
}

// BetIntent is a validated request to place a bet, not yet applied.
type BetIntent struct {
	MarketID     int64
	OutcomeIndex int
	BettorID     string
	Amount       int64
}
