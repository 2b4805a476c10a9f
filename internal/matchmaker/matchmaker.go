// Package matchmaker finds and atomically commits pairings between two
// available clients of the same mode.
package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pairgo/backend/internal/models"
)

var (
	// ErrNoPartner means no claimable candidate exists right now. The
	// caller decides whether to back off and retry.
	ErrNoPartner = errors.New("no partner available")
	// ErrSearchCancelled means the requester was no longer searching
	// when the commit was attempted; the claim has been rolled back.
	ErrSearchCancelled = errors.New("search cancelled")
)

// Store is the slice of the session store the matchmaker needs.
type Store interface {
	AvailableCandidates(requesterID string, mode models.ChatMode, activeAfter time.Time, limit int) ([]models.Client, error)
	TransitionClient(id string, from, to models.PresenceState) (bool, error)
	CreatePairing(p *models.Pairing) error
}

// Options tune a matchmaker.
type Options struct {
	// RetryLimit bounds how many rounds of candidate selection one
	// FindPartner call performs when claims are raced away.
	RetryLimit int
	// StaleAfter excludes clients whose heartbeat is older than this.
	StaleAfter time.Duration
	// CandidateLimit caps how many candidates one round fetches.
	CandidateLimit int
}

// Matchmaker commits pairings with a conditional presence transition,
// never a read-then-write: two simultaneous searchers cannot both
// claim the same third party.
type Matchmaker struct {
	store Store
	log   zerolog.Logger
	opts  Options
}

// New creates a matchmaker. Zero option fields get sane defaults.
func New(store Store, log zerolog.Logger, opts Options) *Matchmaker {
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = 3
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 2 * time.Minute
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = 3
	}
	return &Matchmaker{
		store: store,
		log:   log.With().Str("component", "matchmaker").Logger(),
		opts:  opts,
	}
}

// FindPartner attempts exactly one bounded match for a requester that
// is currently searching. On success both clients are paired and the
// new pairing, with the requester as initiator, is returned. It never
// blocks waiting for candidates: with none claimable it returns
// ErrNoPartner and the caller may poll again.
func (m *Matchmaker) FindPartner(ctx context.Context, clientID string, mode models.ChatMode) (*models.Pairing, error) {
	for round := 0; round < m.opts.RetryLimit; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		activeAfter := time.Now().Add(-m.opts.StaleAfter)
		candidates, err := m.store.AvailableCandidates(clientID, mode, activeAfter, m.opts.CandidateLimit)
		if err != nil {
			return nil, fmt.Errorf("candidate selection: %w", err)
		}
		if len(candidates) == 0 {
			return nil, ErrNoPartner
		}

		for _, cand := range candidates {
			claimed, err := m.store.TransitionClient(cand.ID, models.StateAvailable, models.StatePaired)
			if err != nil {
				return nil, fmt.Errorf("claim candidate: %w", err)
			}
			if !claimed {
				// Raced by a concurrent searcher; try the next one.
				m.log.Debug().Str("client", clientID).Str("candidate", cand.ID).Msg("match race lost")
				continue
			}
			return m.commit(clientID, cand.ID, mode)
		}
		// Every fetched candidate was raced away; select again.
	}
	return nil, ErrNoPartner
}

// commit moves the requester searching -> paired and inserts the
// pairing row. A requester that cancelled mid-search rejects the
// commit and the candidate's claim is rolled back.
func (m *Matchmaker) commit(requesterID, candidateID string, mode models.ChatMode) (*models.Pairing, error) {
	ok, err := m.store.TransitionClient(requesterID, models.StateSearching, models.StatePaired)
	if err != nil {
		m.release(candidateID)
		return nil, fmt.Errorf("commit requester: %w", err)
	}
	if !ok {
		m.release(candidateID)
		return nil, ErrSearchCancelled
	}

	p := &models.Pairing{
		InitiatorID: requesterID,
		ResponderID: candidateID,
		Mode:        mode,
		Status:      models.PairingActive,
		StartedAt:   time.Now(),
	}
	if err := m.store.CreatePairing(p); err != nil {
		m.release(candidateID)
		m.releaseRequester(requesterID)
		return nil, fmt.Errorf("create pairing: %w", err)
	}

	m.log.Info().
		Str("pairing", p.ID).
		Str("initiator", requesterID).
		Str("responder", candidateID).
		Str("mode", string(mode)).
		Msg("pairing committed")
	return p, nil
}

func (m *Matchmaker) release(candidateID string) {
	if _, err := m.store.TransitionClient(candidateID, models.StatePaired, models.StateAvailable); err != nil {
		m.log.Error().Err(err).Str("client", candidateID).Msg("candidate rollback failed")
	}
}

func (m *Matchmaker) releaseRequester(requesterID string) {
	if _, err := m.store.TransitionClient(requesterID, models.StatePaired, models.StateSearching); err != nil {
		m.log.Error().Err(err).Str("client", requesterID).Msg("requester rollback failed")
	}
}
