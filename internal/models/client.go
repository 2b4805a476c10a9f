package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatMode is the kind of session a client wants to be paired for.
// Pairings are always mode-homogeneous.
type ChatMode string

const (
	ModeVideo ChatMode = "video"
	ModeText  ChatMode = "text"
)

// PresenceState classifies a client's current availability.
type PresenceState string

const (
	// StateAvailable means the client is idle and claimable by a matchmaker.
	StateAvailable PresenceState = "available"
	// StateSearching means the client is actively looking for a partner.
	StateSearching PresenceState = "searching"
	// StatePaired means the client belongs to an active pairing.
	StatePaired PresenceState = "paired"
)

// Client is a presence row for one anonymous, ephemeral participant.
// The row is created when a session attaches and removed on teardown;
// PresenceState is mutated only through guarded transitions.
type Client struct {
	// ID is the opaque anonymous identifier (UUID). Not an identity.
	ID string `gorm:"primaryKey" json:"id"`
	// Mode is the kind of partner the client wants (video or text).
	Mode ChatMode `gorm:"type:text;not null;index:idx_presence_mode"`
	// PresenceState is the availability classification. The
	// available -> paired transition is the matchmaker's claim and must
	// only ever happen through a conditional update.
	PresenceState PresenceState `gorm:"type:text;not null;index:idx_presence_mode"`
	// LastActive is refreshed by heartbeats; stale clients are skipped
	// by candidate selection.
	LastActive time.Time `gorm:"index"`
}

// BeforeCreate generates an anonymous UUID when the caller did not
// supply one.
func (c *Client) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}
