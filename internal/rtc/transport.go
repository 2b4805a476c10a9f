package rtc

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// TransportConfig wires one peer connection.
type TransportConfig struct {
	// ICEURLs are the STUN/TURN server URLs for candidate gathering.
	ICEURLs []string
	// Media's tracks are attached before negotiation. Optional for
	// text mode.
	Media *MediaHandle
	// OnRemoteTrack fires when the far side's media arrives.
	OnRemoteTrack func()
	Logger        zerolog.Logger
}

// Transport implements the negotiator's PeerTransport on a pion
// PeerConnection.
type Transport struct {
	pc  *webrtc.PeerConnection
	log zerolog.Logger
}

// NewTransport creates the peer connection and attaches local tracks.
func NewTransport(cfg TransportConfig) (*Transport, error) {
	var conf webrtc.Configuration
	if len(cfg.ICEURLs) > 0 {
		conf.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEURLs}}
	}
	pc, err := webrtc.NewPeerConnection(conf)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	if cfg.Media != nil {
		for _, track := range cfg.Media.Tracks() {
			if _, err := pc.AddTrack(track); err != nil {
				_ = pc.Close()
				return nil, fmt.Errorf("add track: %w", err)
			}
		}
	}

	log := cfg.Logger.With().Str("component", "rtc").Logger()
	if cfg.OnRemoteTrack != nil {
		onRemote := cfg.OnRemoteTrack
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			log.Debug().Str("kind", track.Kind().String()).Msg("remote track")
			onRemote()
		})
	}

	return &Transport{pc: pc, log: log}, nil
}

func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

func (t *Transport) AddRemoteCandidate(cand webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(cand)
}

func (t *Transport) OnLocalCandidate(f func(webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c != nil {
			f(c.ToJSON())
		}
	})
}

func (t *Transport) OnConnectionState(f func(webrtc.PeerConnectionState)) {
	t.pc.OnConnectionStateChange(f)
}

func (t *Transport) Close() error {
	return t.pc.Close()
}
