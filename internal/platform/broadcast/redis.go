package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Channel is the redis pub/sub channel shared by all instances.
const Channel = "clinic:bookings"

type envelope struct {
	Topics []string        `json:"topics"`
	Event  json.RawMessage `json:"event"`
}

// RedisTransport publishes events so every instance's RedisRelay can hand
// them to its local hub.
type RedisTransport struct {
	client redis.UniversalClient
}

func NewRedisTransport(client redis.UniversalClient) *RedisTransport {
	return &RedisTransport{client: client}
}

func (t *RedisTransport) Name() string { return "redis" }

func (t *RedisTransport) Deliver(ctx context.Context, topics []string, payload []byte) error {
	msg, err := json.Marshal(envelope{Topics: topics, Event: payload})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := t.client.Publish(ctx, Channel, msg).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// RedisRelay subscribes to Channel and re-delivers into a local transport.
type RedisRelay struct {
	client redis.UniversalClient
	local  Transport
	logger zerolog.Logger
}

func NewRedisRelay(client redis.UniversalClient, local Transport, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client: client,
		local:  local,
		logger: logger.With().Str("component", "broadcast_relay").Logger(),
	}
}

// Run blocks until ctx is done. The subscription is confirmed before ready
// is closed, so callers can wait for it; ready may be nil.
func (r *RedisRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := r.client.Subscribe(ctx, Channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", Channel, err)
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn().Err(err).Msg("discarding malformed relay message")
				continue
			}
			if err := r.local.Deliver(ctx, env.Topics, env.Event); err != nil {
				r.logger.Warn().Err(err).Msg("relay delivery failed")
			}
		}
	}
}
