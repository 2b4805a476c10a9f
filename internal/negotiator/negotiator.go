// Package negotiator drives the per-client connection handshake: the
// initiator offers, the responder answers, both exchange candidates
// until the transport reports an established connection. It is an
// explicit state machine over an abstract peer transport, so the whole
// flow is testable without a live network.
package negotiator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"pairgo/backend/internal/models"
)

// State of one side's handshake.
type State string

const (
	StateIdle            State = "idle"
	StateLocalMediaReady State = "local_media_ready"
	StateOfferSent       State = "offer_sent"
	StateAwaitingOffer   State = "awaiting_offer"
	StateAnswerExchanged State = "answer_exchanged"
	StateConnected       State = "connected"
	// StateClosed is terminal, reached from any state on explicit end
	// or fatal transport error.
	StateClosed State = "closed"
)

// Role decides which side issues the offer.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

var (
	// ErrHandshakeFailed marks a description or candidate application
	// error, fatal to the current pairing.
	ErrHandshakeFailed = errors.New("handshake failed")
	// ErrPeerDisconnected marks a transport failure after the
	// connection was established.
	ErrPeerDisconnected = errors.New("peer disconnected")
)

const (
	publishRetries = 3
	publishBackoff = 100 * time.Millisecond
)

// PeerTransport abstracts the underlying peer connection. Satisfied by
// the pion-backed transport in internal/rtc and by fakes in tests.
type PeerTransport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddRemoteCandidate(webrtc.ICECandidateInit) error
	// OnLocalCandidate registers the callback for locally discovered
	// candidates. May fire from transport goroutines.
	OnLocalCandidate(func(webrtc.ICECandidateInit))
	// OnConnectionState registers the callback for connection state
	// changes. May fire from transport goroutines.
	OnConnectionState(func(webrtc.PeerConnectionState))
	Close() error
}

// Publisher is the outgoing half of the signaling relay.
type Publisher interface {
	Publish(ctx context.Context, msg *models.RelayMessage) error
}

// Config wires one negotiator instance.
type Config struct {
	PairingID string
	ClientID  string
	Role      Role
	Transport PeerTransport
	Bus       Publisher
	Logger    zerolog.Logger
	// OnState observes every state change. Optional.
	OnState func(State)
	// OnFatal is invoked once with the error that killed the
	// handshake or the established connection. Optional.
	OnFatal func(error)
}

// Negotiator is one side's handshake state machine. All transitions
// happen under a single mutex; callbacks are invoked outside it.
type Negotiator struct {
	pairingID string
	clientID  string
	role      Role
	transport PeerTransport
	bus       Publisher
	log       zerolog.Logger
	onState   func(State)
	onFatal   func(error)

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	// pendingOffer holds an offer the relay delivered before Start
	// wired the transport; applied once the responder is ready.
	pendingOffer *webrtc.SessionDescription
}

// New creates a negotiator in the Idle state.
func New(cfg Config) *Negotiator {
	return &Negotiator{
		pairingID: cfg.PairingID,
		clientID:  cfg.ClientID,
		role:      cfg.Role,
		transport: cfg.Transport,
		bus:       cfg.Bus,
		log: cfg.Logger.With().
			Str("component", "negotiator").
			Str("pairing", cfg.PairingID).
			Str("role", string(cfg.Role)).
			Logger(),
		onState: cfg.OnState,
		onFatal: cfg.OnFatal,
		state:   StateIdle,
	}
}

// State returns the current state.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Start wires the transport callbacks and, on the initiator side,
// creates and publishes the offer. The local media handle must already
// be attached to the transport.
func (n *Negotiator) Start(ctx context.Context) error {
	n.ctx, n.cancel = context.WithCancel(ctx)

	n.transport.OnLocalCandidate(n.publishLocalCandidate)
	n.transport.OnConnectionState(n.handleConnectionState)

	n.setState(StateLocalMediaReady)

	if n.role == RoleInitiator {
		// Enter OfferSent before the offer goes out: the answer can
		// race the publish and must not be ignored.
		n.setState(StateOfferSent)
		if err := n.sendOffer(); err != nil {
			n.fail(err)
			return err
		}
	} else {
		n.setState(StateAwaitingOffer)
		n.mu.Lock()
		buffered := n.pendingOffer
		n.pendingOffer = nil
		n.mu.Unlock()
		if buffered != nil {
			n.HandleOffer(*buffered)
		}
	}
	return nil
}

func (n *Negotiator) sendOffer() error {
	offer, err := n.transport.CreateOffer()
	if err != nil {
		return fmt.Errorf("%w: create offer: %v", ErrHandshakeFailed, err)
	}
	if err := n.transport.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%w: set local offer: %v", ErrHandshakeFailed, err)
	}
	return n.publishSignal(models.KindSignalOffer, models.SignalPayload{SDP: &offer})
}

// HandleOffer applies the far side's offer and publishes the answer.
// Responder side only. An offer arriving before Start is buffered and
// applied from Start; in any later unexpected state it is ignored.
func (n *Negotiator) HandleOffer(sdp webrtc.SessionDescription) {
	n.mu.Lock()
	if n.role != RoleResponder {
		n.mu.Unlock()
		n.log.Warn().Msg("offer ignored on initiator side")
		return
	}
	switch n.state {
	case StateIdle:
		n.pendingOffer = &sdp
		n.mu.Unlock()
		return
	case StateLocalMediaReady, StateAwaitingOffer:
		n.mu.Unlock()
	default:
		st := n.state
		n.mu.Unlock()
		n.log.Warn().Str("state", string(st)).Msg("unexpected offer ignored")
		return
	}

	if err := n.transport.SetRemoteDescription(sdp); err != nil {
		n.fail(fmt.Errorf("%w: set remote offer: %v", ErrHandshakeFailed, err))
		return
	}
	if err := n.flushPending(); err != nil {
		n.fail(err)
		return
	}

	answer, err := n.transport.CreateAnswer()
	if err != nil {
		n.fail(fmt.Errorf("%w: create answer: %v", ErrHandshakeFailed, err))
		return
	}
	if err := n.transport.SetLocalDescription(answer); err != nil {
		n.fail(fmt.Errorf("%w: set local answer: %v", ErrHandshakeFailed, err))
		return
	}
	if err := n.publishSignal(models.KindSignalAnswer, models.SignalPayload{SDP: &answer}); err != nil {
		n.fail(err)
		return
	}
	n.setState(StateAnswerExchanged)
}

// HandleAnswer applies the far side's answer. Initiator side only, and
// never before the offer went out.
func (n *Negotiator) HandleAnswer(sdp webrtc.SessionDescription) {
	n.mu.Lock()
	if n.role != RoleInitiator || n.state != StateOfferSent {
		n.mu.Unlock()
		n.log.Warn().Str("state", string(n.State())).Msg("unexpected answer ignored")
		return
	}
	n.mu.Unlock()

	if err := n.transport.SetRemoteDescription(sdp); err != nil {
		n.fail(fmt.Errorf("%w: set remote answer: %v", ErrHandshakeFailed, err))
		return
	}
	if err := n.flushPending(); err != nil {
		n.fail(err)
		return
	}
	n.setState(StateAnswerExchanged)
}

// HandleCandidate applies a far-side candidate, buffering it until the
// remote description is set.
func (n *Negotiator) HandleCandidate(cand webrtc.ICECandidateInit) {
	n.mu.Lock()
	if n.state == StateClosed {
		n.mu.Unlock()
		return
	}
	if !n.remoteSet {
		n.pending = append(n.pending, cand)
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()

	if err := n.transport.AddRemoteCandidate(cand); err != nil {
		n.fail(fmt.Errorf("%w: add candidate: %v", ErrHandshakeFailed, err))
	}
}

// flushPending marks the remote description set and applies any
// candidates that arrived early.
func (n *Negotiator) flushPending() error {
	n.mu.Lock()
	n.remoteSet = true
	buffered := n.pending
	n.pending = nil
	n.mu.Unlock()

	for _, cand := range buffered {
		if err := n.transport.AddRemoteCandidate(cand); err != nil {
			return fmt.Errorf("%w: flush candidate: %v", ErrHandshakeFailed, err)
		}
	}
	return nil
}

func (n *Negotiator) publishLocalCandidate(cand webrtc.ICECandidateInit) {
	if err := n.publishSignal(models.KindSignalCandidate, models.SignalPayload{Candidate: &cand}); err != nil {
		n.fail(err)
	}
}

// publishSignal sends one signal through the relay with a bounded
// retry; persistent failure is fatal to the handshake.
func (n *Negotiator) publishSignal(kind models.MessageKind, payload models.SignalPayload) error {
	encoded, err := models.EncodeSignal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrHandshakeFailed, kind, err)
	}

	var lastErr error
	for i := 0; i < publishRetries; i++ {
		msg := &models.RelayMessage{
			PairingID: n.pairingID,
			SenderID:  n.clientID,
			Kind:      kind,
			Payload:   encoded,
		}
		if lastErr = n.bus.Publish(n.ctx, msg); lastErr == nil {
			return nil
		}
		select {
		case <-n.ctx.Done():
			return fmt.Errorf("%w: %v", ErrHandshakeFailed, n.ctx.Err())
		case <-time.After(publishBackoff):
		}
	}
	return fmt.Errorf("%w: publish %s: %v", ErrHandshakeFailed, kind, lastErr)
}

func (n *Negotiator) handleConnectionState(s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		n.setState(StateConnected)
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
		n.mu.Lock()
		wasConnected := n.state == StateConnected
		closed := n.state == StateClosed
		n.mu.Unlock()
		if closed {
			return
		}
		if wasConnected {
			n.fail(fmt.Errorf("%w: transport %s", ErrPeerDisconnected, s))
		} else {
			n.fail(fmt.Errorf("%w: transport %s before established", ErrHandshakeFailed, s))
		}
	}
}

// setState transitions unless already closed, then notifies.
func (n *Negotiator) setState(s State) {
	n.mu.Lock()
	if n.state == StateClosed || n.state == s {
		n.mu.Unlock()
		return
	}
	n.state = s
	n.mu.Unlock()

	n.log.Debug().Str("state", string(s)).Msg("negotiator state")
	if n.onState != nil {
		n.onState(s)
	}
}

// fail closes everything down and reports the error upward exactly
// once.
func (n *Negotiator) fail(err error) {
	if !n.close() {
		return
	}
	n.log.Warn().Err(err).Msg("negotiator failed")
	if n.onFatal != nil {
		n.onFatal(err)
	}
}

// Close transitions to Closed and releases the transport. Idempotent;
// an explicit close does not report a fatal error.
func (n *Negotiator) Close() {
	n.close()
}

// close performs the terminal transition, reporting whether this call
// was the one that did it.
func (n *Negotiator) close() bool {
	n.mu.Lock()
	if n.state == StateClosed {
		n.mu.Unlock()
		return false
	}
	n.state = StateClosed
	n.mu.Unlock()

	if n.cancel != nil {
		n.cancel()
	}
	if err := n.transport.Close(); err != nil {
		n.log.Debug().Err(err).Msg("transport close")
	}
	if n.onState != nil {
		n.onState(StateClosed)
	}
	return true
}
