package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PairingStatus is the lifecycle state of a pairing.
type PairingStatus string

const (
	PairingActive PairingStatus = "active"
	PairingEnded  PairingStatus = "ended"
)

// Pairing links exactly two clients for one chat session. The initiator
// is the side that committed the match and therefore issues the
// handshake offer; the responder answers. A client belongs to at most
// one active pairing at any time.
type Pairing struct {
	// ID is the unique pairing (room) identifier (UUID).
	ID string `gorm:"primaryKey"`
	// InitiatorID is the client that invoked the matchmaker.
	InitiatorID string `gorm:"type:text;not null;index"`
	// ResponderID is the client that was claimed while available.
	ResponderID string `gorm:"type:text;not null;index"`
	// Mode both members were in at the time of pairing.
	Mode ChatMode `gorm:"type:text;not null"`
	// Status transitions active -> ended exactly once.
	Status    PairingStatus `gorm:"type:text;not null;index"`
	StartedAt time.Time
	EndedAt   *time.Time
}

func (p *Pairing) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// HasMember reports whether clientID is one of the two members.
func (p *Pairing) HasMember(clientID string) bool {
	return p.InitiatorID == clientID || p.ResponderID == clientID
}

// PartnerOf returns the other member's id. The second return value is
// false when clientID is not a member at all.
func (p *Pairing) PartnerOf(clientID string) (string, bool) {
	switch clientID {
	case p.InitiatorID:
		return p.ResponderID, true
	case p.ResponderID:
		return p.InitiatorID, true
	}
	return "", false
}
