package presence

import (
	"context"

	"github.com/crystalfall/crystalfall/internal/domains/entities"
)

// Bus is the cross-process presence channel. Delivery is at-least-once and
// ordering is only preserved within one publisher's stream per topic, so
// consumers must treat every message as a refresh trigger, not as state.
type Bus interface {
	Publish(ctx context.Context, msg entities.PresenceMessage) error
	// Subscribe returns a receive channel for one topic and a cancel
	// function that tears the subscription down and closes the channel.
	Subscribe(ctx context.Context, topic string) (<-chan entities.PresenceMessage, func())

	MarkOnline(ctx context.Context, userId string) error
	MarkOffline(ctx context.Context, userId string) error
	IsOnline(ctx context.Context, userId string) (bool, error)
}
