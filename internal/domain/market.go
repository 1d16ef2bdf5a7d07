package domain

import "time"

// MarketStatus represents the lifecycle state of a market. RESOLVED and
// CANCELLED are terminal.
type MarketStatus string

const (
	MarketStatusActive    MarketStatus = "ACTIVE"
	MarketStatusResolved  MarketStatus = "RESOLVED"
	MarketStatusCancelled MarketStatus = "CANCELLED"
)

// Valid reports whether s is one of the known statuses.
func (s MarketStatus) Valid() bool {
	switch s {
	case MarketStatusActive, MarketStatusResolved, MarketStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s MarketStatus) Terminal() bool {
	return s == MarketStatusResolved || s == MarketStatusCancelled
}

// Market is a parimutuel market: one pool of gold per outcome. TotalPool is
// always the sum of Pools.
type Market struct {
	ID              int64        `json:"id"`
	Question        string       `json:"question"`
	Outcomes        []string     `json:"outcomes"`
	Pools           []int64      `json:"pools"`
	TotalPool       int64        `json:"totalPool"`
	BettingDeadline time.Time    `json:"bettingDeadline"`
	ResolutionTime  time.Time    `json:"resolutionTime"`
	Status          MarketStatus `json:"status"`
	WinningOutcome  *int         `json:"winningOutcome,omitempty"`
	HouseFeeBps     int64        `json:"houseFeeBps"`
	CreatedAt       time.Time    `json:"createdAt"`
	SettledAt       *time.Time   `json:"settledAt,omitempty"`
}

// Clone returns a deep copy so callers can never alias engine-owned slices.
func (m Market) Clone() Market {
	out := m
	out.Outcomes = append([]string(nil), m.Outcomes...)
	out.Pools = append([]int64(nil), m.Pools...)
	if m.WinningOutcome != nil {
		w := *m.WinningOutcome
		out.WinningOutcome = &w
	}
	if m.SettledAt != nil {
		t := *m.SettledAt
		out.SettledAt = &t
	}
	return out
}

// NewMarket carries the caller-supplied fields for market creation.
type NewMarket struct {
	Question        string
	Outcomes        []string
	BettingDeadline time.Time
	ResolutionTime  time.Time
	HouseFeeBps     int64
}

// ResolutionResult is the frozen outcome of resolving a market.
type ResolutionResult struct {
	MarketID       int64           `json:"marketId"`
	WinningOutcome int             `json:"winningOutcome"`
	TotalPool      int64           `json:"totalPool"`
	NetPool        int64           `json:"netPool"`
	WinningPool    int64           `json:"winningPool"`
	HouseFee       int64           `json:"houseFee"`
	Payouts        map[int64]int64 `json:"payouts"`
	RoundingLoss   int64           `json:"roundingLoss"`
}

// BetPreview is the hypothetical result of adding a bet to the current pool.
type BetPreview struct {
	Payout      int64   `json:"payout"`
	NewOdds     int64   `json:"newOdds"`
	SlippagePct float64 `json:"slippagePct"`
}
