package presence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/crystalfall/crystalfall/internal/domains/entities"
	"github.com/crystalfall/crystalfall/pkg/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const onlineKeyPrefix = "presence:user:"

// RedisBus implements Bus over redis pub/sub, with online markers kept as
// TTL'd keys so a crashed process cannot leave a user online forever.
type RedisBus struct {
	rdb       *redis.Client
	onlineTTL time.Duration
}

func NewRedisBus(rdb *redis.Client, onlineTTL time.Duration) *RedisBus {
	return &RedisBus{
		rdb:       rdb,
		onlineTTL: onlineTTL,
	}
}

func (b *RedisBus) Publish(ctx context.Context, msg entities.PresenceMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, msg.Topic, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan entities.PresenceMessage, func()) {
	sub := b.rdb.Subscribe(ctx, topic)
	out := make(chan entities.PresenceMessage, 16)
	go func() {
		defer close(out)
		for m := range sub.Channel() {
			var msg entities.PresenceMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				logging.Error("dropped malformed presence message",
					zap.String("topic", topic),
					zap.Error(err),
				)
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() {
		// Closing the subscription ends the pump goroutine.
		if err := sub.Close(); err != nil {
			logging.Error("failed to close subscription", zap.Error(err))
		}
	}
}

func (b *RedisBus) MarkOnline(ctx context.Context, userId string) error {
	return b.rdb.Set(ctx, onlineKeyPrefix+userId, "1", b.onlineTTL).Err()
}

func (b *RedisBus) MarkOffline(ctx context.Context, userId string) error {
	return b.rdb.Del(ctx, onlineKeyPrefix+userId).Err()
}

func (b *RedisBus) IsOnline(ctx context.Context, userId string) (bool, error) {
	n, err := b.rdb.Exists(ctx, onlineKeyPrefix+userId).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
