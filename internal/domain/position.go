package domain

// Position summarises one bettor's stake in one market.
type Position struct {
	MarketID  int64   `json:"marketId"`
	BettorID  string  `json:"bettorId"`
	Bets      []Bet   `json:"bets"`
	Staked    []int64 `json:"staked"`
	Claimable int64   `json:"claimable"`
}
