package domain

import (
	"strconv"
	"time"
)

// EventType names a market change notification.
type EventType string

const (
	EventOddsUpdate      EventType = "odds_update"
	EventMarketResolved  EventType = "market_resolved"
	EventMarketCancelled EventType = "market_cancelled"
	EventNewMarket       EventType = "new_market"
)

// Signal bus channels used for market events.
const (
	ChannelMarket     = "ch:market"
	ChannelOddsPrefix = "ch:odds:"

	// StreamMarketEvents is the durable stream every event is appended to.
	StreamMarketEvents = "stream:market-events"
)

// OddsChannel returns the per-market odds channel name.
func OddsChannel(marketID int64) string {
	return ChannelOddsPrefix + strconv.FormatInt(marketID, 10)
}

// OddsUpdate is the payload of an odds_update event.
type OddsUpdate struct {
	MarketID  int64   `json:"marketId"`
	Pools     []int64 `json:"pools"`
	TotalPool int64   `json:"totalPool"`
	Odds      []int64 `json:"odds"`
}

// MarketEvent is emitted by the engine after every successful mutation.
// Exactly one of the payload fields is set, according to Type.
type MarketEvent struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	MarketID   int64             `json:"marketId"`
	Odds       *OddsUpdate       `json:"odds,omitempty"`
	Market     *Market           `json:"market,omitempty"`
	Resolution *ResolutionResult `json:"resolution,omitempty"`
	At         time.Time         `json:"at"`
}

// Channel returns the signal bus channel the event is published on.
func (e MarketEvent) Channel() string {
	if e.Type == EventOddsUpdate {
		return OddsChannel(e.MarketID)
	}
	return ChannelMarket
}

// ServiceStatus is a summary of the service's current operational state.
type ServiceStatus struct {
	Mode           string `json:"mode"`
	UptimeSeconds  int64  `json:"uptimeSeconds"`
	ActiveMarkets  int    `json:"activeMarkets"`
	SettledMarkets int    `json:"settledMarkets"`
	TotalBets      int    `json:"totalBets"`
	WSClients      int    `json:"wsClients"`
	DroppedEvents  int64  `json:"droppedEvents"`
	JournalBackend string `json:"journalBackend"`
	GoldBackend    string `json:"goldBackend"`
}

// Envelope is the frame pushed to WebSocket clients.
type Envelope struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// ResolvedPayload is the client-facing body of a market_resolved event.
type ResolvedPayload struct {
	MarketID       int64 `json:"marketId"`
	WinningOutcome int   `json:"winningOutcome"`
	NetPool        int64 `json:"netPool"`
	WinningPool    int64 `json:"winningPool"`
}

// Envelope returns the client-facing frame for the event.
func (e MarketEvent) Envelope() Envelope {
	env := Envelope{Type: e.Type}
	switch e.Type {
	case EventOddsUpdate:
		env.Payload = e.Odds
	case EventMarketResolved:
		p := ResolvedPayload{MarketID: e.MarketID}
		if e.Resolution != nil {
			p.WinningOutcome = e.Resolution.WinningOutcome
			p.NetPool = e.Resolution.NetPool
			p.WinningPool = e.Resolution.WinningPool
		}
		env.Payload = p
	case EventNewMarket:
		env.Payload = map[string]any{"market": e.Market}
	default:
		env.Payload = map[string]any{"marketId": e.MarketID}
	}
	return env
}
