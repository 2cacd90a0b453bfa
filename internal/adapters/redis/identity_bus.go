package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultIdentityChannel is the pub/sub channel carrying session IDs whose
// signed-in principal changed.
const DefaultIdentityChannel = "neighborwatch:identity"

// IdentityBus fans sign-in and sign-out events out to every replica so each
// can re-read the affected session from the store.
type IdentityBus struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

// NewIdentityBus creates a bus on DefaultIdentityChannel.
func NewIdentityBus(client redis.UniversalClient, logger *slog.Logger) *IdentityBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityBus{
		client:  client,
		channel: DefaultIdentityChannel,
		logger:  logger.With("component", "identity_bus"),
	}
}

// Publish announces that sessionID's principal changed.
func (b *IdentityBus) Publish(ctx context.Context, sessionID string) error {
	if err := b.client.Publish(ctx, b.channel, sessionID).Err(); err != nil {
		return fmt.Errorf("publish identity change: %w", err)
	}
	return nil
}

// Listen calls fn for every announced session ID until ctx is done.
func (b *IdentityBus) Listen(ctx context.Context, fn func(sessionID string)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.DebugContext(ctx, "identity bus subscribed", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn(msg.Payload)
		}
	}
}
