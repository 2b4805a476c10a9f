// Package relay delivers chat and handshake messages between the two
// members of a pairing. Messages are durably appended to the session
// store first, then fanned out to live subscribers; a subscription
// replays everything after its sinceID before going live, so delivery
// is at-least-once and consumers dedupe by message id.
package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"pairgo/backend/internal/models"
)

// ErrDeliveryFailed marks a transient transport failure while
// publishing. The message may still have been persisted; subscribers
// recover it on replay.
var ErrDeliveryFailed = errors.New("signaling delivery failed")

// MessageLog is the slice of the session store the relay needs.
type MessageLog interface {
	AppendMessage(m *models.RelayMessage) error
	MessagesSince(pairingID string, sinceID uint) ([]models.RelayMessage, error)
}

// Bus is the publish/subscribe channel abstraction, keyed by pairing
// id and decoupled from the storage engine.
type Bus interface {
	// Publish appends msg and notifies subscribers. Non-blocking with
	// respect to slow consumers.
	Publish(ctx context.Context, msg *models.RelayMessage) error
	// Subscribe delivers messages of the pairing with id greater than
	// sinceID, in creation order, skipping those authored by
	// skipSender. The stream is infinite until the context is
	// cancelled or Close is called, at which point the channel closes
	// promptly.
	Subscribe(ctx context.Context, pairingID string, sinceID uint, skipSender string) (*Subscription, error)
}

// Subscription is one live message stream. Consumers range over C;
// Close is idempotent and unblocks any pending receive.
type Subscription struct {
	C <-chan models.RelayMessage

	once   sync.Once
	cancel context.CancelFunc
}

// Close tears the subscription down.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// pump replays stored messages past sinceID, then forwards from live,
// deduping by id and dropping the subscriber's own messages. Closes
// out on return.
func pump(ctx context.Context, out chan<- models.RelayMessage, store MessageLog, pairingID string, sinceID uint, skipSender string, live <-chan models.RelayMessage, log zerolog.Logger) {
	defer close(out)

	last := sinceID
	replay, err := store.MessagesSince(pairingID, sinceID)
	if err != nil {
		log.Error().Err(err).Str("pairing", pairingID).Msg("relay replay failed")
		return
	}
	for _, m := range replay {
		if m.ID > last {
			last = m.ID
		}
		if m.SenderID == skipSender {
			continue
		}
		select {
		case out <- m:
		case <-ctx.Done():
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-live:
			if !ok {
				return
			}
			if m.ID <= last || m.SenderID == skipSender {
				continue
			}
			last = m.ID
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}
}
