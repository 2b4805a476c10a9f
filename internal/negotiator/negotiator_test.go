package negotiator_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairgo/backend/internal/models"
	"pairgo/backend/internal/negotiator"
)

// fakeTransport records every call and lets the test drive connection
// state changes, standing in for the pion transport.
type fakeTransport struct {
	mu          sync.Mutex
	localDesc   *webrtc.SessionDescription
	remoteDesc  *webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	closed      bool
	failOffer   bool
	failRemote  bool
	onState     func(webrtc.PeerConnectionState)
	onCandidate func(webrtc.ICECandidateInit)
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	if f.failOffer {
		return webrtc.SessionDescription{}, errors.New("boom")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (f *fakeTransport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.localDesc = &sdp
	return nil
}

func (f *fakeTransport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	if f.failRemote {
		return errors.New("bad sdp")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteDesc = &sdp
	return nil
}

func (f *fakeTransport) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeTransport) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *fakeTransport) OnConnectionState(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) fireState(s webrtc.PeerConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (f *fakeTransport) remoteCandidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), f.candidates...)
}

// fakeBus collects published relay messages.
type fakeBus struct {
	mu   sync.Mutex
	msgs []*models.RelayMessage
	fail bool
}

func (b *fakeBus) Publish(_ context.Context, msg *models.RelayMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("relay down")
	}
	b.msgs = append(b.msgs, msg)
	return nil
}

func (b *fakeBus) kinds() []models.MessageKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.MessageKind, 0, len(b.msgs))
	for _, m := range b.msgs {
		out = append(out, m.Kind)
	}
	return out
}

func newNegotiator(role negotiator.Role, tr *fakeTransport, bus *fakeBus, onFatal func(error)) *negotiator.Negotiator {
	return negotiator.New(negotiator.Config{
		PairingID: "p1",
		ClientID:  "me",
		Role:      role,
		Transport: tr,
		Bus:       bus,
		Logger:    zerolog.Nop(),
		OnFatal:   onFatal,
	})
}

func TestInitiatorSendsOfferOnStart(t *testing.T) {
	tr := &fakeTransport{}
	bus := &fakeBus{}
	n := newNegotiator(negotiator.RoleInitiator, tr, bus, nil)

	require.NoError(t, n.Start(context.Background()))

	assert.Equal(t, negotiator.StateOfferSent, n.State())
	require.Equal(t, []models.MessageKind{models.KindSignalOffer}, bus.kinds())
	require.NotNil(t, tr.localDesc)
	assert.Equal(t, webrtc.SDPTypeOffer, tr.localDesc.Type)
}

func TestResponderAnswersOffer(t *testing.T) {
	tr := &fakeTransport{}
	bus := &fakeBus{}
	n := newNegotiator(negotiator.RoleResponder, tr, bus, nil)

	require.NoError(t, n.Start(context.Background()))
	assert.Equal(t, negotiator.StateAwaitingOffer, n.State())

	n.HandleOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote"})

	assert.Equal(t, negotiator.StateAnswerExchanged, n.State())
	assert.Equal(t, []models.MessageKind{models.KindSignalAnswer}, bus.kinds())
	require.NotNil(t, tr.remoteDesc)
	assert.Equal(t, "remote", tr.remoteDesc.SDP)
}

// hookBus reacts to a publish before Publish returns, modeling a relay
// that delivers the partner's reply synchronously.
type hookBus struct {
	fakeBus
	onPublish func(*models.RelayMessage)
}

func (b *hookBus) Publish(ctx context.Context, msg *models.RelayMessage) error {
	if err := b.fakeBus.Publish(ctx, msg); err != nil {
		return err
	}
	if fn := b.onPublish; fn != nil {
		b.onPublish = nil
		fn(msg)
	}
	return nil
}

func TestAnswerRacingOfferPublishIsApplied(t *testing.T) {
	tr := &fakeTransport{}
	bus := &hookBus{}
	n := negotiator.New(negotiator.Config{
		PairingID: "p1",
		ClientID:  "me",
		Role:      negotiator.RoleInitiator,
		Transport: tr,
		Bus:       bus,
		Logger:    zerolog.Nop(),
	})
	// The responder's answer comes back while the offer publish is
	// still on the stack; it must not be dropped.
	bus.onPublish = func(msg *models.RelayMessage) {
		if msg.Kind == models.KindSignalOffer {
			n.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "instant-answer"})
		}
	}

	require.NoError(t, n.Start(context.Background()))

	assert.Equal(t, negotiator.StateAnswerExchanged, n.State())
	require.NotNil(t, tr.remoteDesc)
	assert.Equal(t, "instant-answer", tr.remoteDesc.SDP)
}

func TestOfferBeforeStartIsAppliedOnStart(t *testing.T) {
	tr := &fakeTransport{}
	bus := &fakeBus{}
	n := newNegotiator(negotiator.RoleResponder, tr, bus, nil)

	// The relay can hand over the initiator's offer before Start runs.
	n.HandleOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "early-offer"})
	assert.Equal(t, negotiator.StateIdle, n.State())
	assert.Empty(t, bus.kinds(), "no answer before the transport is wired")

	require.NoError(t, n.Start(context.Background()))

	assert.Equal(t, negotiator.StateAnswerExchanged, n.State())
	assert.Equal(t, []models.MessageKind{models.KindSignalAnswer}, bus.kinds())
	require.NotNil(t, tr.remoteDesc)
	assert.Equal(t, "early-offer", tr.remoteDesc.SDP)
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	tr := &fakeTransport{}
	bus := &fakeBus{}
	n := newNegotiator(negotiator.RoleResponder, tr, bus, nil)
	require.NoError(t, n.Start(context.Background()))

	// Candidates can outrun the offer on the relay.
	early := webrtc.ICECandidateInit{Candidate: "early"}
	n.HandleCandidate(early)
	assert.Empty(t, tr.remoteCandidates(), "nothing applied before the offer")

	n.HandleOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote"})
	require.Len(t, tr.remoteCandidates(), 1)
	assert.Equal(t, "early", tr.remoteCandidates()[0].Candidate)

	// Once the remote description is set, candidates apply directly.
	n.HandleCandidate(webrtc.ICECandidateInit{Candidate: "late"})
	assert.Len(t, tr.remoteCandidates(), 2)
}

func TestUnexpectedAnswerIgnored(t *testing.T) {
	tr := &fakeTransport{}
	bus := &fakeBus{}
	fatal := make(chan error, 1)
	n := newNegotiator(negotiator.RoleResponder, tr, bus, func(err error) { fatal <- err })
	require.NoError(t, n.Start(context.Background()))

	// A responder never consumes an answer.
	n.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "stray"})

	assert.Equal(t, negotiator.StateAwaitingOffer, n.State())
	assert.Nil(t, tr.remoteDesc)
	assert.Empty(t, fatal)
}

func TestInitiatorCompletesOnAnswer(t *testing.T) {
	tr := &fakeTransport{}
	bus := &fakeBus{}
	n := newNegotiator(negotiator.RoleInitiator, tr, bus, nil)
	require.NoError(t, n.Start(context.Background()))

	n.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"})
	assert.Equal(t, negotiator.StateAnswerExchanged, n.State())

	tr.fireState(webrtc.PeerConnectionStateConnected)
	assert.Equal(t, negotiator.StateConnected, n.State())
}

func TestDisconnectAfterConnectedIsPeerDisconnected(t *testing.T) {
	tr := &fakeTransport{}
	bus := &fakeBus{}
	fatal := make(chan error, 1)
	n := newNegotiator(negotiator.RoleInitiator, tr, bus, func(err error) { fatal <- err })
	require.NoError(t, n.Start(context.Background()))
	n.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a"})
	tr.fireState(webrtc.PeerConnectionStateConnected)

	tr.fireState(webrtc.PeerConnectionStateFailed)

	require.Len(t, fatal, 1)
	assert.ErrorIs(t, <-fatal, negotiator.ErrPeerDisconnected)
	assert.Equal(t, negotiator.StateClosed, n.State())
	assert.True(t, tr.closed)
}

func TestFailureBeforeConnectedIsHandshakeFailed(t *testing.T) {
	tr := &fakeTransport{}
	bus := &fakeBus{}
	fatal := make(chan error, 1)
	n := newNegotiator(negotiator.RoleInitiator, tr, bus, func(err error) { fatal <- err })
	require.NoError(t, n.Start(context.Background()))

	tr.fireState(webrtc.PeerConnectionStateFailed)

	require.Len(t, fatal, 1)
	assert.ErrorIs(t, <-fatal, negotiator.ErrHandshakeFailed)
}

func TestOfferFailureIsFatal(t *testing.T) {
	tr := &fakeTransport{failOffer: true}
	bus := &fakeBus{}
	fatal := make(chan error, 1)
	n := newNegotiator(negotiator.RoleInitiator, tr, bus, func(err error) { fatal <- err })

	err := n.Start(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, negotiator.ErrHandshakeFailed)
	require.Len(t, fatal, 1)
	assert.Equal(t, negotiator.StateClosed, n.State())
}

func TestCloseIsIdempotentAndSilent(t *testing.T) {
	tr := &fakeTransport{}
	bus := &fakeBus{}
	fatal := make(chan error, 1)
	n := newNegotiator(negotiator.RoleInitiator, tr, bus, func(err error) { fatal <- err })
	require.NoError(t, n.Start(context.Background()))

	n.Close()
	n.Close()

	assert.Equal(t, negotiator.StateClosed, n.State())
	assert.True(t, tr.closed)
	assert.Empty(t, fatal, "explicit close is not a fatal error")

	// Late signals after close are dropped.
	n.HandleCandidate(webrtc.ICECandidateInit{Candidate: "late"})
	assert.Empty(t, tr.remoteCandidates())
}
