package storage_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pairgo/backend/internal/models"
	"pairgo/backend/internal/storage"
)

// newTestStore opens an isolated in-memory database. A single
// connection keeps every query on the same memory instance.
func newTestStore(t *testing.T) *storage.Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, storage.Migrate(db))
	return storage.NewService(db)
}

func saveClient(t *testing.T, s *storage.Service, id string, mode models.ChatMode, state models.PresenceState) {
	t.Helper()
	require.NoError(t, s.SaveClient(&models.Client{
		ID:            id,
		Mode:          mode,
		PresenceState: state,
		LastActive:    time.Now(),
	}))
}

func TestTransitionClientGuardsOnCurrentState(t *testing.T) {
	s := newTestStore(t)
	saveClient(t, s, "a", models.ModeVideo, models.StateAvailable)

	ok, err := s.TransitionClient("a", models.StateAvailable, models.StateSearching)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second identical transition must lose: the row is no longer
	// available.
	ok, err = s.TransitionClient("a", models.StateAvailable, models.StateSearching)
	require.NoError(t, err)
	assert.False(t, ok)

	c, err := s.GetClient("a")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, models.StateSearching, c.PresenceState)
}

func TestTransitionClientMissingRowIsNotAnError(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.TransitionClient("ghost", models.StateAvailable, models.StatePaired)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetClientReturnsNilForUnknown(t *testing.T) {
	s := newTestStore(t)

	c, err := s.GetClient("nobody")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestAvailableCandidatesFiltersAndOrders(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	// Fresh, matching candidates.
	require.NoError(t, s.SaveClient(&models.Client{ID: "old", Mode: models.ModeVideo, PresenceState: models.StateAvailable, LastActive: now.Add(-time.Minute)}))
	require.NoError(t, s.SaveClient(&models.Client{ID: "new", Mode: models.ModeVideo, PresenceState: models.StateAvailable, LastActive: now}))
	// Excluded: the requester itself, wrong mode, wrong state, stale.
	require.NoError(t, s.SaveClient(&models.Client{ID: "me", Mode: models.ModeVideo, PresenceState: models.StateAvailable, LastActive: now}))
	require.NoError(t, s.SaveClient(&models.Client{ID: "texter", Mode: models.ModeText, PresenceState: models.StateAvailable, LastActive: now}))
	require.NoError(t, s.SaveClient(&models.Client{ID: "busy", Mode: models.ModeVideo, PresenceState: models.StatePaired, LastActive: now}))
	require.NoError(t, s.SaveClient(&models.Client{ID: "stale", Mode: models.ModeVideo, PresenceState: models.StateAvailable, LastActive: now.Add(-time.Hour)}))

	got, err := s.AvailableCandidates("me", models.ModeVideo, now.Add(-10*time.Minute), 10)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID, "most recently active first")
	assert.Equal(t, "old", got[1].ID)
}

func TestActivePairingForFindsEitherMember(t *testing.T) {
	s := newTestStore(t)
	p := &models.Pairing{InitiatorID: "a", ResponderID: "b", Mode: models.ModeVideo, Status: models.PairingActive, StartedAt: time.Now()}
	require.NoError(t, s.CreatePairing(p))
	require.NotEmpty(t, p.ID, "id assigned on create")

	for _, member := range []string{"a", "b"} {
		got, err := s.ActivePairingFor(member)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, p.ID, got.ID)
	}

	none, err := s.ActivePairingFor("c")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestEndPairingIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	p := &models.Pairing{InitiatorID: "a", ResponderID: "b", Mode: models.ModeText, Status: models.PairingActive, StartedAt: time.Now()}
	require.NoError(t, s.CreatePairing(p))

	require.NoError(t, s.EndPairing(p.ID))
	got, err := s.GetPairing(p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.PairingEnded, got.Status)
	require.NotNil(t, got.EndedAt)
	first := *got.EndedAt

	// Ending again must not move the timestamp.
	require.NoError(t, s.EndPairing(p.ID))
	got, err = s.GetPairing(p.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, first, *got.EndedAt, time.Millisecond)

	active, err := s.ActivePairingFor("a")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestMessagesSinceOrdersAndFilters(t *testing.T) {
	s := newTestStore(t)

	var ids []uint
	for _, text := range []string{"one", "two", "three"} {
		m := &models.RelayMessage{PairingID: "p1", SenderID: "a", Kind: models.KindChatText, Payload: text}
		require.NoError(t, s.AppendMessage(m))
		ids = append(ids, m.ID)
	}
	// A different pairing never leaks in.
	require.NoError(t, s.AppendMessage(&models.RelayMessage{PairingID: "p2", SenderID: "x", Kind: models.KindChatText, Payload: "other"}))

	all, err := s.MessagesSince("p1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "one", all[0].Payload)
	assert.Equal(t, "three", all[2].Payload)

	tail, err := s.MessagesSince("p1", ids[0])
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "two", tail[0].Payload)
}

func TestChatHistoryExcludesSignals(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AppendMessage(&models.RelayMessage{PairingID: "p1", SenderID: "a", Kind: models.KindSignalOffer, Payload: "{}"}))
	require.NoError(t, s.AppendMessage(&models.RelayMessage{PairingID: "p1", SenderID: "a", Kind: models.KindChatText, Payload: "hi"}))
	require.NoError(t, s.AppendMessage(&models.RelayMessage{PairingID: "p1", SenderID: "b", Kind: models.KindSignalCandidate, Payload: "{}"}))

	history, err := s.ChatHistory("p1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Payload)
}

func TestRecentMessageIDsReturnsLatestOldestFirst(t *testing.T) {
	s := newTestStore(t)
	var ids []uint
	for i := 0; i < 5; i++ {
		m := &models.RelayMessage{PairingID: "p1", SenderID: "a", Kind: models.KindChatText, Payload: "m"}
		require.NoError(t, s.AppendMessage(m))
		ids = append(ids, m.ID)
	}

	got, err := s.RecentMessageIDs("p1", 3)
	require.NoError(t, err)

	require.Len(t, got, 3)
	// The three newest, in chronological order.
	assert.Equal(t, []string{
		uintStr(ids[2]), uintStr(ids[3]), uintStr(ids[4]),
	}, got)
}

func uintStr(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}

func TestReportsLifecycle(t *testing.T) {
	s := newTestStore(t)
	r := &models.Report{ReporterID: "a", ReportedID: "b", PairingID: "p1", Reason: "abuse"}
	require.NoError(t, s.CreateReport(r))
	assert.Equal(t, models.ReportStatusNew, r.Status, "status defaulted")

	open, err := s.ListReports(models.ReportStatusNew)
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, s.MarkReportReviewed(r.ID))
	open, err = s.ListReports(models.ReportStatusNew)
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := s.ListReports("")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
