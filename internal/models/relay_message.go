package models

import "time"

// MessageKind discriminates relay message payloads.
type MessageKind string

const (
	KindChatText        MessageKind = "chat_text"
	KindSignalOffer     MessageKind = "signal_offer"
	KindSignalAnswer    MessageKind = "signal_answer"
	KindSignalCandidate MessageKind = "signal_candidate"
)

// RelayMessage is one append-only message scoped to a single pairing:
// either chat text or a handshake signal. The auto-incremented ID gives
// creation order within a pairing; rows are never updated or deleted.
type RelayMessage struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	PairingID string `gorm:"type:text;not null;index:idx_pairing_seq" json:"pairing_id"`
	// SenderID is the authoring member; subscribers only consume the
	// other member's messages.
	SenderID  string      `gorm:"type:text;not null" json:"sender_id"`
	Kind      MessageKind `gorm:"type:text;not null" json:"kind"`
	Payload   string      `gorm:"type:text;not null" json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

// IsSignal reports whether the message carries handshake data rather
// than chat text.
func (m *RelayMessage) IsSignal() bool {
	return m.Kind != KindChatText
}
