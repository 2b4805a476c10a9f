package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pairgo/backend/internal/localization"
	"pairgo/backend/internal/matchmaker"
	"pairgo/backend/internal/models"
	"pairgo/backend/internal/negotiator"
)

// awaitPairing polling cadence: how long a claimed client waits for
// the claimer's pairing row to appear before rolling back.
const (
	defaultAwaitTicks = 40
	defaultAwaitTick  = 50 * time.Millisecond
)

// Register creates (or refreshes) the client's presence row in the
// available state. Safe to call before Start; Start registers on its
// own if the caller did not.
func (s *Session) Register(ctx context.Context, mode models.ChatMode) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mode = mode
	s.registered = true
	s.mu.Unlock()

	if err := s.presence.Register(s.clientID, mode); err != nil {
		return fmt.Errorf("register presence: %w", err)
	}
	s.emitPresence(models.StateAvailable)
	return nil
}

// Start acquires local media for the mode and searches for a partner.
// A media failure leaves the client registered and available; nothing
// is paired and no teardown is needed.
func (s *Session) Start(ctx context.Context, mode models.ChatMode) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.pairing != nil {
		s.mu.Unlock()
		return errors.New("already paired, skip or end first")
	}
	registered := s.registered
	modeChanged := s.mode != mode
	s.mode = mode
	s.mu.Unlock()

	if !registered {
		if err := s.Register(ctx, mode); err != nil {
			return err
		}
	} else if modeChanged {
		if err := s.store.SetClientMode(s.clientID, mode); err != nil {
			return fmt.Errorf("set mode: %w", err)
		}
	}

	if err := s.ensureMedia(mode, modeChanged); err != nil {
		return err
	}
	return s.search(ctx)
}

// Skip ends the current pairing and immediately searches again. Local
// media stays acquired; only the peer connection is rebuilt.
func (s *Session) Skip(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	mode := s.mode
	s.mu.Unlock()

	s.cancelSearch()
	s.teardownPairing(true)
	if err := s.ensureMedia(mode, false); err != nil {
		return err
	}
	return s.search(ctx)
}

// End leaves the current pairing (or abandons an in-flight search) and
// releases local media. The client stays registered and available.
func (s *Session) End(ctx context.Context) error {
	s.cancelSearch()
	s.teardownPairing(true)

	s.mu.Lock()
	if s.mediaHandle != nil {
		s.mediaHandle.Release()
		s.mediaHandle = nil
	}
	registered := s.registered
	s.mu.Unlock()

	if registered {
		// A search abandoned mid-flight leaves the row searching.
		if _, err := s.presence.Transition(s.clientID, models.StateSearching, models.StateAvailable); err != nil {
			return err
		}
		s.emitPresence(models.StateAvailable)
	}
	return nil
}

// SetMode changes the preferred chat mode. An active pairing is ended
// first; the new mode takes effect on the next Start.
func (s *Session) SetMode(ctx context.Context, mode models.ChatMode) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	paired := s.pairing != nil
	changed := s.mode != mode
	s.mu.Unlock()

	if paired {
		if err := s.End(ctx); err != nil {
			return err
		}
	}
	if !changed {
		return nil
	}

	s.mu.Lock()
	s.mode = mode
	if s.mediaHandle != nil {
		// Track set differs between modes; reacquired on next Start.
		s.mediaHandle.Release()
		s.mediaHandle = nil
	}
	registered := s.registered
	s.mu.Unlock()

	if registered {
		if err := s.store.SetClientMode(s.clientID, mode); err != nil {
			return fmt.Errorf("set mode: %w", err)
		}
	}
	return nil
}

// Close tears the session down entirely: pairing ended, media
// released, presence row removed. Idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancelSearch()
	s.teardownPairing(true)

	s.mu.Lock()
	if s.mediaHandle != nil {
		s.mediaHandle.Release()
		s.mediaHandle = nil
	}
	registered := s.registered
	s.mu.Unlock()

	var err error
	if registered {
		err = s.presence.Remove(s.clientID)
	}
	s.rootCancel()
	s.log.Info().Msg("session closed")
	return err
}

// ensureMedia acquires the local media handle if it is missing or the
// mode changed. A denial is surfaced as a localized error event too,
// so the stream shows why nothing happened.
func (s *Session) ensureMedia(mode models.ChatMode, modeChanged bool) error {
	s.mu.Lock()
	h := s.mediaHandle
	if h != nil && !modeChanged && !h.Released() {
		s.mu.Unlock()
		return nil
	}
	s.mediaHandle = nil
	s.mu.Unlock()
	if h != nil {
		h.Release()
	}

	handle, err := s.media.Acquire(mode)
	if err != nil {
		s.emit(models.Event{Type: models.EventError, Error: err.Error()})
		return fmt.Errorf("acquire media: %w", err)
	}
	s.mu.Lock()
	s.mediaHandle = handle
	s.mu.Unlock()
	return nil
}

// search runs bounded matchmaking rounds. Between rounds the client
// drops back to available so a concurrent searcher can claim it; being
// claimed is detected and joined as the responder.
func (s *Session) search(ctx context.Context) error {
	sctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	if s.searching {
		s.mu.Unlock()
		cancel()
		return ErrSearchActive
	}
	s.searching = true
	s.searchCancel = cancel
	s.searchDone = done
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		s.searching = false
		if s.searchCancel != nil {
			s.searchCancel = nil
		}
		s.searchDone = nil
		s.mu.Unlock()
		close(done)
	}()

	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()

	s.emitPresence(models.StateSearching)
	s.notice(localization.KeySearching)

	for attempt := 0; attempt < s.searchAttempts; attempt++ {
		if err := sctx.Err(); err != nil {
			return abandoned(err)
		}

		ok, err := s.presence.Transition(s.clientID, models.StateAvailable, models.StateSearching)
		if err != nil {
			return err
		}
		if !ok {
			// Someone moved us out of available, most likely a claim.
			if p := s.awaitPairing(sctx); p != nil {
				return s.joinPairing(sctx, p, negotiator.RoleResponder)
			}
			if err := sctx.Err(); err != nil {
				return abandoned(err)
			}
			// awaitPairing rolled the row back to available; burn the
			// attempt and try again.
			continue
		}

		pairing, err := s.matcher.FindPartner(sctx, s.clientID, mode)
		if err == nil {
			return s.joinPairing(sctx, pairing, negotiator.RoleInitiator)
		}
		if errors.Is(err, matchmaker.ErrSearchCancelled) {
			// Our searching row was claimed mid-commit.
			if p := s.awaitPairing(sctx); p != nil {
				return s.joinPairing(sctx, p, negotiator.RoleResponder)
			}
			if cerr := sctx.Err(); cerr != nil {
				return abandoned(cerr)
			}
			return err
		}
		if !errors.Is(err, matchmaker.ErrNoPartner) {
			if _, rerr := s.presence.Transition(s.clientID, models.StateSearching, models.StateAvailable); rerr != nil {
				s.log.Warn().Err(rerr).Msg("search rollback failed")
			}
			if cerr := sctx.Err(); cerr != nil {
				return abandoned(cerr)
			}
			return err
		}

		// Nobody free; become claimable for the backoff window.
		if _, err := s.presence.Transition(s.clientID, models.StateSearching, models.StateAvailable); err != nil {
			return err
		}
		select {
		case <-sctx.Done():
			s.emitPresence(models.StateAvailable)
			return abandoned(sctx.Err())
		case <-time.After(s.searchInterval):
		}
		if p, err := s.store.ActivePairingFor(s.clientID); err == nil && p != nil {
			return s.joinPairing(sctx, p, negotiator.RoleResponder)
		}
	}

	s.emitPresence(models.StateAvailable)
	s.notice(localization.KeyNoPartner)
	return matchmaker.ErrNoPartner
}

// awaitPairing polls for the pairing row after this client was claimed
// out of available/searching. Returns nil if nothing materializes, in
// which case the row is rolled back to available.
func (s *Session) awaitPairing(ctx context.Context) *models.Pairing {
	for i := 0; i < s.awaitTicks; i++ {
		p, err := s.store.ActivePairingFor(s.clientID)
		if err != nil {
			s.log.Warn().Err(err).Msg("await pairing lookup failed")
			return nil
		}
		if p != nil {
			return p
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.awaitTick):
		}
	}
	// Claim never completed; free the row again.
	if _, err := s.presence.Transition(s.clientID, models.StatePaired, models.StateAvailable); err != nil {
		s.log.Warn().Err(err).Msg("claim rollback failed")
	}
	return nil
}

// cancelSearch stops an in-flight search loop and waits for it to
// unwind, so callers observe its presence rollbacks before acting.
func (s *Session) cancelSearch() {
	s.mu.Lock()
	cancel := s.searchCancel
	done := s.searchDone
	s.searchCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// ErrSearchAbandoned marks a search cut short by End, Close or a
// caller context, as opposed to exhausting its attempts.
var ErrSearchAbandoned = errors.New("search abandoned")

func abandoned(cause error) error {
	return fmt.Errorf("%w: %w", ErrSearchAbandoned, cause)
}
