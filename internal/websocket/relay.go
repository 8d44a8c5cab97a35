package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRelayChannel = "marketplace:balances"

type relayMessage struct {
	UserID string        `json:"user_id"`
	Update BalanceUpdate `json:"update"`
}

// RedisRelay fans balance updates out to every API instance. Publishing goes
// through Redis; Run delivers received updates to the local hub.
type RedisRelay struct {
	client  *redis.Client
	hub     *Hub
	channel string
	logger  *slog.Logger
}

func NewRedisRelay(client *redis.Client, hub *Hub, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{client: client, hub: hub, channel: DefaultRelayChannel, logger: logger}
}

// BroadcastBalance publishes the update. If Redis is unreachable the update
// is still delivered to this instance's clients.
func (r *RedisRelay) BroadcastBalance(userID string, update BalanceUpdate) {
	payload, err := json.Marshal(relayMessage{UserID: userID, Update: update})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("balance relay publish failed", slog.String("user_id", userID), slog.Any("error", err))
		r.hub.BroadcastBalance(userID, update)
	}
}

// Run consumes the relay channel until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = pubsub.Close() }()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var decoded relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &decoded); err != nil {
				r.logger.Warn("balance relay message dropped", slog.Any("error", err))
				continue
			}
			r.hub.BroadcastBalance(decoded.UserID, decoded.Update)
		}
	}
}
