package session

import (
	"context"
	"errors"
	"fmt"

	"pairgo/backend/internal/localization"
	"pairgo/backend/internal/models"
	"pairgo/backend/internal/negotiator"
	"pairgo/backend/internal/relay"
)

// joinPairing enters a freshly committed pairing unless the search
// driving it was cancelled in the meantime. A cancelled search must
// not leave the row live: End has already run its teardown and found
// nothing, so the row is dissolved here and both members released.
func (s *Session) joinPairing(sctx context.Context, p *models.Pairing, role negotiator.Role) error {
	if cerr := sctx.Err(); cerr != nil {
		s.teardownRow(p, true)
		s.emitPresence(models.StateAvailable)
		return abandoned(cerr)
	}
	return s.beginPairing(p, role)
}

// beginPairing joins an established pairing as one of its two members:
// subscribe to the relay, build the transport with local media, run
// the handshake. Errors after the pairing row exists tear it down so
// the partner is not left hanging.
func (s *Session) beginPairing(p *models.Pairing, role negotiator.Role) error {
	partner, ok := p.PartnerOf(s.clientID)
	if !ok {
		return fmt.Errorf("pairing %s does not include client %s", p.ID, s.clientID)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.teardownRow(p, true)
		return ErrClosed
	}
	s.pairing = p
	s.partnerID = partner
	s.lastPairing = p.ID
	s.lastPartner = partner
	s.lastChatID = 0
	media := s.mediaHandle
	s.mu.Unlock()

	s.emitPresence(models.StatePaired)
	s.emit(models.Event{Type: models.EventPairing, PairingID: p.ID, PairingStatus: models.PairingActive})
	s.notice(localization.KeyPartnerFound)
	s.log.Info().
		Str("pairing", p.ID).
		Str("partner", partner).
		Str("role", string(role)).
		Msg("paired")

	sub, err := s.bus.Subscribe(s.rootCtx, p.ID, 0, s.clientID)
	if err != nil {
		s.teardownPairing(true)
		return fmt.Errorf("subscribe relay: %w", err)
	}

	transport, err := s.newTransport(media, s.onRemoteMedia)
	if err != nil {
		sub.Close()
		s.teardownPairing(true)
		return fmt.Errorf("build transport: %w", err)
	}

	neg := negotiator.New(negotiator.Config{
		PairingID: p.ID,
		ClientID:  s.clientID,
		Role:      role,
		Transport: transport,
		Bus:       s.bus,
		Logger:    s.log,
		OnState: func(st negotiator.State) {
			s.emit(models.Event{Type: models.EventNegotiator, NegotiatorState: string(st)})
		},
		OnFatal: func(err error) {
			// Fatal may fire from inside negotiator calls we make under
			// our own lock; handle it off that stack.
			go s.handleNegotiatorFatal(p.ID, err)
		},
	})

	s.mu.Lock()
	s.sub = sub
	s.neg = neg
	s.mu.Unlock()

	go s.relayLoop(sub)

	if err := neg.Start(s.rootCtx); err != nil {
		// OnFatal already kicked off teardown.
		return err
	}
	return nil
}

func (s *Session) onRemoteMedia() {
	s.emit(models.Event{Type: models.EventRemoteMedia, RemoteMedia: true})
}

// relayLoop consumes the pairing's subscription until it closes.
func (s *Session) relayLoop(sub *relay.Subscription) {
	for msg := range sub.C {
		s.handleRelayMessage(msg)
	}
}

func (s *Session) handleRelayMessage(msg models.RelayMessage) {
	switch msg.Kind {
	case models.KindChatText:
		s.mu.Lock()
		if s.pairing == nil || s.pairing.ID != msg.PairingID {
			s.mu.Unlock()
			return
		}
		if msg.ID != 0 && msg.ID <= s.lastChatID {
			s.mu.Unlock()
			return
		}
		s.lastChatID = msg.ID
		s.mu.Unlock()
		s.emit(models.Event{Type: models.EventChat, Chat: &models.ChatEvent{
			MessageID: msg.ID,
			SenderID:  msg.SenderID,
			Text:      msg.Payload,
			SentAt:    msg.CreatedAt,
		}})

	case models.KindSignalOffer, models.KindSignalAnswer, models.KindSignalCandidate:
		s.mu.Lock()
		neg := s.neg
		active := s.pairing != nil && s.pairing.ID == msg.PairingID
		s.mu.Unlock()
		if neg == nil || !active {
			return
		}

		payload, err := models.DecodeSignal(msg.Payload)
		if err != nil {
			s.log.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("malformed signal dropped")
			return
		}
		switch msg.Kind {
		case models.KindSignalOffer:
			if payload.SDP != nil {
				neg.HandleOffer(*payload.SDP)
			}
		case models.KindSignalAnswer:
			if payload.SDP != nil {
				neg.HandleAnswer(*payload.SDP)
			}
		case models.KindSignalCandidate:
			if payload.Candidate != nil {
				neg.HandleCandidate(*payload.Candidate)
			}
		}
	}
}

// handleNegotiatorFatal reacts to a dead handshake or a dropped peer.
// Local media stays acquired so the client can immediately search
// again; nothing re-pairs automatically.
func (s *Session) handleNegotiatorFatal(pairingID string, err error) {
	s.mu.Lock()
	current := s.pairing != nil && s.pairing.ID == pairingID
	s.mu.Unlock()
	if !current {
		return
	}

	peerGone := errors.Is(err, negotiator.ErrPeerDisconnected)
	s.emit(models.Event{Type: models.EventError, Error: err.Error()})
	if peerGone {
		s.notice(localization.KeyPartnerDisconnected)
	}

	// A vanished peer cleans up its own row; don't fight a partner who
	// already re-registered.
	s.teardownPairing(!peerGone)
	s.emitPresence(models.StateAvailable)
}

// teardownPairing dismantles the current pairing if any: negotiator
// and subscription closed, pairing row ended, both members returned to
// available. Idempotent; safe when nothing is paired.
func (s *Session) teardownPairing(advisePartner bool) {
	s.mu.Lock()
	p := s.pairing
	neg := s.neg
	sub := s.sub
	s.pairing = nil
	s.partnerID = ""
	s.neg = nil
	s.sub = nil
	s.mu.Unlock()

	if neg != nil {
		neg.Close()
	}
	if sub != nil {
		sub.Close()
	}
	if p == nil {
		return
	}

	s.teardownRow(p, advisePartner)
	s.emit(models.Event{Type: models.EventPairing, PairingID: p.ID, PairingStatus: models.PairingEnded})
	s.emitPresence(models.StateAvailable)
	s.log.Info().Str("pairing", p.ID).Msg("pairing ended")
}

// teardownRow ends the pairing row and releases presence for this
// member, and advisorily for the partner.
func (s *Session) teardownRow(p *models.Pairing, advisePartner bool) {
	if err := s.store.EndPairing(p.ID); err != nil {
		s.log.Error().Err(err).Str("pairing", p.ID).Msg("end pairing failed")
	}
	if _, err := s.presence.Transition(s.clientID, models.StatePaired, models.StateAvailable); err != nil {
		s.log.Warn().Err(err).Msg("presence release failed")
	}
	if advisePartner {
		if partner, ok := p.PartnerOf(s.clientID); ok {
			if _, err := s.presence.Transition(partner, models.StatePaired, models.StateAvailable); err != nil {
				s.log.Warn().Err(err).Str("partner", partner).Msg("partner presence release failed")
			}
		}
	}
}
