// Package presence tracks each client's availability state and
// preferred chat mode on top of the session store.
package presence

import (
	"time"

	"github.com/rs/zerolog"

	"pairgo/backend/internal/models"
)

// Store is the slice of the session store the registry needs.
type Store interface {
	SaveClient(c *models.Client) error
	DeleteClient(id string) error
	TransitionClient(id string, from, to models.PresenceState) (bool, error)
	Heartbeat(id string, at time.Time) error
	CountOnline(mode models.ChatMode) (int64, error)
}

// Registry mutates and reads client presence rows. Together with the
// matchmaker it is the only writer of presence state.
type Registry struct {
	store Store
	log   zerolog.Logger
}

// NewRegistry creates a presence registry over the given store.
func NewRegistry(store Store, log zerolog.Logger) *Registry {
	return &Registry{
		store: store,
		log:   log.With().Str("component", "presence").Logger(),
	}
}

// Register inserts or refreshes a client row as available in the given
// mode.
func (r *Registry) Register(id string, mode models.ChatMode) error {
	return r.store.SaveClient(&models.Client{
		ID:            id,
		Mode:          mode,
		PresenceState: models.StateAvailable,
		LastActive:    time.Now(),
	})
}

// Transition performs the guarded from -> to state change. A missing
// client is treated as already torn down: the transition reports false
// without error.
func (r *Registry) Transition(id string, from, to models.PresenceState) (bool, error) {
	ok, err := r.store.TransitionClient(id, from, to)
	if err != nil {
		return false, err
	}
	if !ok {
		r.log.Debug().
			Str("client", id).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("presence transition lost")
	}
	return ok, nil
}

// Heartbeat refreshes the client's last-active timestamp.
func (r *Registry) Heartbeat(id string) error {
	return r.store.Heartbeat(id, time.Now())
}

// Count returns the approximate number of online clients, optionally
// filtered by mode (empty mode counts everyone).
func (r *Registry) Count(mode models.ChatMode) (int64, error) {
	return r.store.CountOnline(mode)
}

// Remove deletes the presence row on session teardown.
func (r *Registry) Remove(id string) error {
	return r.store.DeleteClient(id)
}
