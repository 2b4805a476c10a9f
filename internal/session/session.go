// Package session owns one client's chat lifecycle: registration,
// partner search, handshake, chat relay and teardown. A Session is
// constructed per client and disposed on teardown; there is no shared
// mutable state between sessions beyond the store and the relay.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pairgo/backend/internal/localization"
	"pairgo/backend/internal/matchmaker"
	"pairgo/backend/internal/models"
	"pairgo/backend/internal/negotiator"
	"pairgo/backend/internal/presence"
	"pairgo/backend/internal/relay"
	"pairgo/backend/internal/report"
	"pairgo/backend/internal/rtc"
)

var (
	// ErrNotPaired means the operation needs an active pairing.
	ErrNotPaired = errors.New("not paired")
	// ErrClosed means the session has been torn down.
	ErrClosed = errors.New("session closed")
	// ErrSearchActive means a start or skip is already driving a
	// search; a second one must not run concurrently.
	ErrSearchActive = errors.New("search already in progress")
)

// reportCapture is how many recent chat messages a report records.
const reportCapture = 20

// MediaSource acquires the local media handle for a mode.
type MediaSource interface {
	Acquire(mode models.ChatMode) (*rtc.MediaHandle, error)
}

// TransportFactory builds the peer transport for one pairing, with the
// local media attached. onRemoteMedia fires when far-side media
// arrives.
type TransportFactory func(media *rtc.MediaHandle, onRemoteMedia func()) (negotiator.PeerTransport, error)

// Store is the slice of the session store the lifecycle needs beyond
// what presence and matchmaking already cover.
type Store interface {
	ActivePairingFor(clientID string) (*models.Pairing, error)
	EndPairing(id string) error
	SetClientMode(id string, mode models.ChatMode) error
	RecentMessageIDs(pairingID string, limit int) ([]string, error)
}

// Config wires one session.
type Config struct {
	ClientID     string
	Store        Store
	Bus          relay.Bus
	Presence     *presence.Registry
	Matchmaker   *matchmaker.Matchmaker
	Media        MediaSource
	NewTransport TransportFactory
	Reports      *report.Service
	Localizer    *localization.Localizer
	Lang         string
	Logger       zerolog.Logger

	// SearchAttempts bounds matchmaker rounds per start/skip;
	// SearchInterval is the claimable backoff between them.
	SearchAttempts int
	SearchInterval time.Duration
	// EventBuffer sizes the event stream; a full stream drops events
	// rather than blocking the core.
	EventBuffer int
}

// Session drives one client. Commands are expected from a single
// caller goroutine; internal relay and transport callbacks synchronize
// through the session mutex.
type Session struct {
	clientID     string
	store        Store
	bus          relay.Bus
	presence     *presence.Registry
	matcher      *matchmaker.Matchmaker
	media        MediaSource
	newTransport TransportFactory
	reports      *report.Service
	localizer    *localization.Localizer
	lang         string
	log          zerolog.Logger

	searchAttempts int
	searchInterval time.Duration

	rootCtx    context.Context
	rootCancel context.CancelFunc
	events     chan models.Event

	awaitTicks int
	awaitTick  time.Duration

	mu           sync.Mutex
	closed       bool
	registered   bool
	searching    bool
	mode         models.ChatMode
	mediaHandle  *rtc.MediaHandle
	pairing      *models.Pairing
	partnerID    string
	lastPairing  string
	lastPartner  string
	lastChatID   uint
	neg          *negotiator.Negotiator
	sub          *relay.Subscription
	searchCancel context.CancelFunc
	searchDone   chan struct{}
	lastPresence models.PresenceState
}

// New creates a session for one anonymous client. The caller owns the
// lifecycle and must Close it.
func New(cfg Config) *Session {
	if cfg.SearchAttempts <= 0 {
		cfg.SearchAttempts = 20
	}
	if cfg.SearchInterval <= 0 {
		cfg.SearchInterval = 500 * time.Millisecond
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		clientID:       cfg.ClientID,
		store:          cfg.Store,
		bus:            cfg.Bus,
		presence:       cfg.Presence,
		matcher:        cfg.Matchmaker,
		media:          cfg.Media,
		newTransport:   cfg.NewTransport,
		reports:        cfg.Reports,
		localizer:      cfg.Localizer,
		lang:           cfg.Lang,
		log:            cfg.Logger.With().Str("component", "session").Str("client", cfg.ClientID).Logger(),
		searchAttempts: cfg.SearchAttempts,
		searchInterval: cfg.SearchInterval,
		awaitTicks:     defaultAwaitTicks,
		awaitTick:      defaultAwaitTick,
		rootCtx:        ctx,
		rootCancel:     cancel,
		events:         make(chan models.Event, cfg.EventBuffer),
		mode:           models.ModeVideo,
	}
}

// ClientID returns the session's anonymous id.
func (s *Session) ClientID() string { return s.clientID }

// Events is the session's observable stream: presence, pairing and
// negotiator state, chat, remote media availability and notices.
func (s *Session) Events() <-chan models.Event { return s.events }

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} { return s.rootCtx.Done() }

// Heartbeat refreshes the client's last-active timestamp; stale
// clients stop being matchmaking candidates.
func (s *Session) Heartbeat() {
	if err := s.presence.Heartbeat(s.clientID); err != nil {
		s.log.Warn().Err(err).Msg("heartbeat failed")
	}
}

// SendChat publishes a chat message to the current pairing and echoes
// it locally. Empty text is ignored.
func (s *Session) SendChat(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	p := s.pairing
	s.mu.Unlock()
	if p == nil {
		return ErrNotPaired
	}

	msg := &models.RelayMessage{
		PairingID: p.ID,
		SenderID:  s.clientID,
		Kind:      models.KindChatText,
		Payload:   text,
	}
	if err := s.bus.Publish(ctx, msg); err != nil {
		return err
	}
	s.emit(models.Event{Type: models.EventChat, Chat: &models.ChatEvent{
		MessageID: msg.ID,
		SenderID:  s.clientID,
		Text:      text,
		SentAt:    msg.CreatedAt,
	}})
	return nil
}

// ToggleVideo flips video enablement on the acquired local media.
// No-op without a handle; never renegotiates.
func (s *Session) ToggleVideo(on bool) {
	s.mu.Lock()
	h := s.mediaHandle
	s.mu.Unlock()
	if h != nil {
		h.EnableVideo(on)
	}
}

// ToggleAudio flips audio enablement on the acquired local media.
func (s *Session) ToggleAudio(on bool) {
	s.mu.Lock()
	h := s.mediaHandle
	s.mu.Unlock()
	if h != nil {
		h.EnableAudio(on)
	}
}

// Report files an abuse report against the current (or most recent)
// partner. It does not end the session; the reporter decides that.
func (s *Session) Report(ctx context.Context, reason, details string) error {
	s.mu.Lock()
	partner := s.lastPartner
	pairingID := s.lastPairing
	s.mu.Unlock()
	if partner == "" {
		return ErrNotPaired
	}
	if s.reports == nil {
		return errors.New("reporting unavailable")
	}

	ids, err := s.store.RecentMessageIDs(pairingID, reportCapture)
	if err != nil {
		s.log.Warn().Err(err).Msg("report message capture failed")
	}
	if err := s.reports.Submit(ctx, &models.Report{
		ReporterID: s.clientID,
		ReportedID: partner,
		PairingID:  pairingID,
		Reason:     reason,
		Details:    details,
		MessageIDs: ids,
	}); err != nil {
		return err
	}
	s.notice(localization.KeyReportReceived)
	return nil
}

// emit pushes an event without ever blocking the core; a stalled
// consumer loses events.
func (s *Session) emit(ev models.Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn().Str("type", string(ev.Type)).Msg("event stream full, dropping")
	}
}

// emitPresence publishes a presence event, collapsing repeats.
func (s *Session) emitPresence(state models.PresenceState) {
	s.mu.Lock()
	if s.lastPresence == state {
		s.mu.Unlock()
		return
	}
	s.lastPresence = state
	s.mu.Unlock()
	s.emit(models.Event{Type: models.EventPresence, Presence: state})
}

func (s *Session) notice(key string) {
	text := key
	if s.localizer != nil {
		text = s.localizer.Get(s.lang, key)
	}
	s.emit(models.Event{Type: models.EventNotice, Notice: text})
}
