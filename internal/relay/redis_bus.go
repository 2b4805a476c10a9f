package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pairgo/backend/internal/models"
)

const (
	publishRetries = 3
	publishBackoff = 100 * time.Millisecond
)

// RedisBus fans messages out over Redis pub/sub so multiple server
// nodes share one relay. The message log remains the source of truth;
// Redis only carries live notifications.
type RedisBus struct {
	store MessageLog
	rdb   *redis.Client
	log   zerolog.Logger
}

// NewRedisBus creates a bus backed by the given Redis client.
func NewRedisBus(store MessageLog, rdb *redis.Client, log zerolog.Logger) *RedisBus {
	return &RedisBus{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "relay").Logger(),
	}
}

func channelFor(pairingID string) string {
	return "relay:" + pairingID
}

// Publish appends msg to the log, then notifies over Redis with a
// bounded retry. A notification that never goes out is not fatal: the
// row is durable and replays on the next subscribe.
func (b *RedisBus) Publish(ctx context.Context, msg *models.RelayMessage) error {
	if err := b.store.AppendMessage(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	var lastErr error
	for i := 0; i < publishRetries; i++ {
		if lastErr = b.rdb.Publish(ctx, channelFor(msg.PairingID), payload).Err(); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, ctx.Err())
		case <-time.After(publishBackoff):
		}
	}
	b.log.Error().Err(lastErr).Str("pairing", msg.PairingID).Msg("redis publish failed, relying on replay")
	return fmt.Errorf("%w: %v", ErrDeliveryFailed, lastErr)
}

// Subscribe implements Bus.
func (b *RedisBus) Subscribe(ctx context.Context, pairingID string, sinceID uint, skipSender string) (*Subscription, error) {
	ps := b.rdb.Subscribe(ctx, channelFor(pairingID))
	// Force the subscription onto the wire before replaying, so no
	// message can fall between replay and live.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	out := make(chan models.RelayMessage, subBuffer)
	live := make(chan models.RelayMessage, subBuffer)

	go func() {
		defer close(live)
		for raw := range ps.Channel() {
			var m models.RelayMessage
			if err := json.Unmarshal([]byte(raw.Payload), &m); err != nil {
				b.log.Warn().Err(err).Str("pairing", pairingID).Msg("bad relay payload")
				continue
			}
			select {
			case live <- m:
			case <-sctx.Done():
				return
			}
		}
	}()

	go func() {
		defer ps.Close()
		pump(sctx, out, b.store, pairingID, sinceID, skipSender, live, b.log)
	}()

	return &Subscription{C: out, cancel: cancel}, nil
}
