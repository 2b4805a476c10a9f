package models

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// SignalPayload is the JSON body of a signal_offer, signal_answer or
// signal_candidate relay message. Offers and answers carry a session
// description; candidates carry one ICE candidate.
type SignalPayload struct {
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// EncodeSignal serializes a signal payload for the relay.
func EncodeSignal(p SignalPayload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeSignal parses a relay payload produced by EncodeSignal.
func DecodeSignal(payload string) (SignalPayload, error) {
	var p SignalPayload
	err := json.Unmarshal([]byte(payload), &p)
	return p, err
}
