package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/parimutuel"
)

// notifyBuffer bounds the queue of events waiting for chat delivery.
const notifyBuffer = 64

// Publisher pushes an encoded envelope onto a channel. Both the Redis signal
// bus and the in-process WebSocket hub satisfy it.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Streamer appends to a durable event stream.
type Streamer interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// EventNotifier delivers lifecycle events to operators.
type EventNotifier interface {
	Notify(ctx context.Context, ev domain.MarketEvent) error
}

// EventRelay drains the engine's event channel. For every event it refreshes
// the market snapshot cache, publishes the client envelope, appends the raw
// event to the durable stream and queues an operator notification.
// Downstream failures are logged; they never block the engine.
type EventRelay struct {
	engine     *parimutuel.Engine
	cache      domain.MarketCache
	notifier   EventNotifier
	publishers []Publisher
	stream     Streamer
	logger     *slog.Logger
}

// NewEventRelay creates an EventRelay. cache and notifier may be nil.
func NewEventRelay(engine *parimutuel.Engine, cache domain.MarketCache, notifier EventNotifier, logger *slog.Logger) *EventRelay {
	return &EventRelay{
		engine:   engine,
		cache:    cache,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "event_relay")),
	}
}

// WithPublisher adds a destination for client envelopes.
func (r *EventRelay) WithPublisher(p Publisher) *EventRelay {
	r.publishers = append(r.publishers, p)
	return r
}

// WithStream sets the durable stream every event is appended to.
func (r *EventRelay) WithStream(s Streamer) *EventRelay {
	r.stream = s
	return r
}

// Run relays events until ctx is cancelled.
func (r *EventRelay) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	notifyCh := make(chan domain.MarketEvent, notifyBuffer)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-r.engine.Events():
				r.Handle(ctx, ev)
				if r.notifier == nil {
					continue
				}
				select {
				case notifyCh <- ev:
				default:
					r.logger.WarnContext(ctx, "event_relay: notify queue full, dropping",
						slog.String("type", string(ev.Type)),
						slog.Int64("market_id", ev.MarketID),
					)
				}
			}
		}
	})

	if r.notifier != nil {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case ev := <-notifyCh:
					// Sender errors are already logged by the notifier.
					_ = r.notifier.Notify(ctx, ev)
				}
			}
		})
	}

	r.logger.InfoContext(ctx, "event_relay: started",
		slog.Int("publishers", len(r.publishers)),
		slog.Bool("stream", r.stream != nil),
		slog.Bool("cache", r.cache != nil),
	)
	return g.Wait()
}

// Handle refreshes the cache, publishes and streams a single event.
func (r *EventRelay) Handle(ctx context.Context, ev domain.MarketEvent) {
	if r.cache != nil {
		if snap, err := r.engine.Snapshot(ev.MarketID); err == nil {
			if err := r.cache.Set(ctx, snap); err != nil {
				r.logger.WarnContext(ctx, "event_relay: cache set failed",
					slog.Int64("market_id", ev.MarketID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if len(r.publishers) > 0 {
		payload, err := json.Marshal(ev.Envelope())
		if err != nil {
			r.logger.ErrorContext(ctx, "event_relay: encode envelope failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
		} else {
			channel := ev.Channel()
			for _, p := range r.publishers {
				if err := p.Publish(ctx, channel, payload); err != nil {
					r.logger.WarnContext(ctx, "event_relay: publish failed",
						slog.String("channel", channel),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}

	if r.stream != nil {
		raw, err := json.Marshal(ev)
		if err == nil {
			err = r.stream.StreamAppend(ctx, domain.StreamMarketEvents, raw)
		}
		if err != nil {
			r.logger.WarnContext(ctx, "event_relay: stream append failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
