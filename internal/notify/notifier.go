// Package notify fans market events out to operator chat channels
// (Telegram, Discord). Events are filtered by type so operators only see
// the lifecycle changes they asked for.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Sender delivers one formatted notification.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier formats market events and dispatches them to every Sender.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only event types listed in events are
// forwarded; an empty list forwards everything except odds updates.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Wants reports whether events of type t pass the filter.
func (n *Notifier) Wants(t domain.EventType) bool {
	if len(n.events) == 0 {
		return t != domain.EventOddsUpdate
	}
	return n.events[t]
}

// Notify formats ev and sends it to all senders if its type passes the
// filter. Sender failures are joined; one failing sender does not stop the
// others.
func (n *Notifier) Notify(ctx context.Context, ev domain.MarketEvent) error {
	if !n.Wants(ev.Type) {
		n.logger.DebugContext(ctx, "notifier: event filtered out",
			slog.String("type", string(ev.Type)),
			slog.Int64("market_id", ev.MarketID),
		)
		return nil
	}
	title, message := Format(ev)
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notifier: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notifier: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	return errors.Join(errs...)
}

// Format renders a market event as a notification title and body.
func Format(ev domain.MarketEvent) (title, message string) {
	switch ev.Type {
	case domain.EventNewMarket:
		title = fmt.Sprintf("New market #%d", ev.MarketID)
		if ev.Market != nil {
			message = fmt.Sprintf("%s\nOutcomes: %s\nBetting closes %s",
				ev.Market.Question,
				strings.Join(ev.Market.Outcomes, " / "),
				ev.Market.BettingDeadline.UTC().Format("2006-01-02 15:04 MST"),
			)
		}
	case domain.EventMarketResolved:
		title = fmt.Sprintf("Market #%d resolved", ev.MarketID)
		if ev.Market != nil && ev.Resolution != nil {
			message = fmt.Sprintf("%s\nWinner: %s\nPool: %d gold, paid out to %d bets, house fee %d",
				ev.Market.Question,
				outcomeName(*ev.Market, ev.Resolution.WinningOutcome),
				ev.Resolution.TotalPool,
				len(ev.Resolution.Payouts),
				ev.Resolution.HouseFee,
			)
		}
	case domain.EventMarketCancelled:
		title = fmt.Sprintf("Market #%d cancelled", ev.MarketID)
		if ev.Market != nil {
			message = fmt.Sprintf("%s\n%d gold refundable to bettors", ev.Market.Question, ev.Market.TotalPool)
		}
	case domain.EventOddsUpdate:
		title = fmt.Sprintf("Odds moved on market #%d", ev.MarketID)
		if ev.Odds != nil {
			message = fmt.Sprintf("Pool %d gold, odds %v", ev.Odds.TotalPool, ev.Odds.Odds)
		}
	default:
		title = fmt.Sprintf("Market #%d: %s", ev.MarketID, ev.Type)
	}
	return title, message
}

func outcomeName(m domain.Market, idx int) string {
	if idx >= 0 && idx < len(m.Outcomes) {
		return m.Outcomes[idx]
	}
	return fmt.Sprintf("outcome %d", idx)
}

// postJSON posts payload to url and treats any non-2xx status as an error.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
