package models

import "time"

// Command actions accepted over the websocket surface.
const (
	ActionStart       = "start"
	ActionSkip        = "skip"
	ActionEnd         = "end"
	ActionSetMode     = "set_mode"
	ActionChat        = "chat"
	ActionToggleVideo = "toggle_video"
	ActionToggleAudio = "toggle_audio"
	ActionReport      = "report"
)

// Command is one client instruction, JSON-decoded from the websocket.
type Command struct {
	Action  string   `json:"action"`
	Mode    ChatMode `json:"mode,omitempty"`
	Text    string   `json:"text,omitempty"`
	Enabled bool     `json:"enabled,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Details string   `json:"details,omitempty"`
}

// EventType discriminates session events pushed to the client.
type EventType string

const (
	EventPresence    EventType = "presence"
	EventPairing     EventType = "pairing"
	EventNegotiator  EventType = "negotiator"
	EventChat        EventType = "chat"
	EventRemoteMedia EventType = "remote_media"
	EventNotice      EventType = "notice"
	EventError       EventType = "error"
)

// ChatEvent is one chat message surfaced to the client.
type ChatEvent struct {
	MessageID uint      `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

// Event is one entry in a session's observable stream. Only the fields
// relevant to Type are populated.
type Event struct {
	Type            EventType     `json:"type"`
	Presence        PresenceState `json:"presence,omitempty"`
	PairingID       string        `json:"pairing_id,omitempty"`
	PairingStatus   PairingStatus `json:"pairing_status,omitempty"`
	NegotiatorState string        `json:"negotiator_state,omitempty"`
	Chat            *ChatEvent    `json:"chat,omitempty"`
	RemoteMedia     bool          `json:"remote_media,omitempty"`
	Notice          string        `json:"notice,omitempty"`
	Error           string        `json:"error,omitempty"`
}
