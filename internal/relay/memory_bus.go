package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"pairgo/backend/internal/models"
)

// subBuffer sizes the per-subscriber channels. A subscriber that falls
// further behind has messages dropped from its live feed and recovers
// them by resubscribing from its last seen id.
const subBuffer = 64

// MemoryBus is the in-process Bus for single-node deployments and
// tests. Fan-out goes over buffered channels; durability and replay
// come from the message log.
type MemoryBus struct {
	store MessageLog
	log   zerolog.Logger

	mu   sync.Mutex
	subs map[string]map[int]chan models.RelayMessage
	next int
}

// NewMemoryBus creates an in-process bus over the given message log.
func NewMemoryBus(store MessageLog, log zerolog.Logger) *MemoryBus {
	return &MemoryBus{
		store: store,
		log:   log.With().Str("component", "relay").Logger(),
		subs:  make(map[string]map[int]chan models.RelayMessage),
	}
}

// Publish appends msg to the log and notifies live subscribers of the
// pairing without blocking.
func (b *MemoryBus) Publish(ctx context.Context, msg *models.RelayMessage) error {
	if err := b.store.AppendMessage(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs[msg.PairingID] {
		select {
		case ch <- *msg:
		default:
			b.log.Warn().
				Str("pairing", msg.PairingID).
				Int("sub", id).
				Msg("subscriber behind, dropping live delivery")
		}
	}
	return nil
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(ctx context.Context, pairingID string, sinceID uint, skipSender string) (*Subscription, error) {
	in := make(chan models.RelayMessage, subBuffer)

	b.mu.Lock()
	id := b.next
	b.next++
	if b.subs[pairingID] == nil {
		b.subs[pairingID] = make(map[int]chan models.RelayMessage)
	}
	b.subs[pairingID][id] = in
	b.mu.Unlock()

	sctx, cancel := context.WithCancel(ctx)
	out := make(chan models.RelayMessage, subBuffer)

	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.subs[pairingID], id)
			if len(b.subs[pairingID]) == 0 {
				delete(b.subs, pairingID)
			}
			b.mu.Unlock()
		}()
		pump(sctx, out, b.store, pairingID, sinceID, skipSender, in, b.log)
	}()

	return &Subscription{C: out, cancel: cancel}, nil
}
