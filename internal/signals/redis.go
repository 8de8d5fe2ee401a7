package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/investa-id/investa_portal/internal/logging"
)

// RedisBridge turns shared-storage writes into StorageChanged events for every
// other context listening on the same Redis channel. Like a browser storage
// event, a context never receives its own writes back.
type RedisBridge struct {
	client  *redis.Client
	channel string
	origin  string
	sink    Publisher
	logger  *slog.Logger
}

// NewRedisBridge builds a bridge publishing on "<namespace>:storage".
// Remote events are forwarded to sink.
func NewRedisBridge(client *redis.Client, namespace, origin string, sink Publisher, logger *slog.Logger) *RedisBridge {
	return &RedisBridge{
		client:  client,
		channel: namespace + ":storage",
		origin:  origin,
		sink:    sink,
		logger:  logging.Component(logger, "signals.redis"),
	}
}

// Origin returns the context id stamped on outgoing events.
func (b *RedisBridge) Origin() string {
	return b.origin
}

// Channel returns the Redis pub/sub channel name.
func (b *RedisBridge) Channel() string {
	return b.channel
}

// StorageChanged announces that this context wrote the given keys.
func (b *RedisBridge) StorageChanged(ctx context.Context, keys []string) error {
	payload, err := json.Marshal(Event{
		Kind:   StorageChanged,
		Keys:   keys,
		Origin: b.origin,
		At:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode storage event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish storage event: %w", err)
	}
	return nil
}

// Run subscribes to the channel and forwards foreign events until ctx is done.
// ready, when non-nil, is closed once the subscription is confirmed.
func (b *RedisBridge) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("drop malformed storage event", logging.Err(err))
				continue
			}
			if event.Origin == b.origin {
				continue
			}
			event.Kind = StorageChanged
			if err := b.sink.Publish(ctx, event); err != nil {
				b.logger.Warn("forward storage event", logging.Err(err))
			}
		}
	}
}
