package presence_test

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pairgo/backend/internal/models"
	"pairgo/backend/internal/presence"
	"pairgo/backend/internal/storage"
)

func newRegistry(t *testing.T) (*presence.Registry, *storage.Service) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, storage.Migrate(db))
	store := storage.NewService(db)
	return presence.NewRegistry(store, zerolog.Nop()), store
}

func TestRegisterCreatesAvailableRow(t *testing.T) {
	r, store := newRegistry(t)

	require.NoError(t, r.Register("a", models.ModeVideo))

	c, err := store.GetClient("a")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, models.StateAvailable, c.PresenceState)
	assert.Equal(t, models.ModeVideo, c.Mode)
}

func TestRegisterRefreshesExistingRow(t *testing.T) {
	r, store := newRegistry(t)
	require.NoError(t, r.Register("a", models.ModeVideo))
	_, err := store.TransitionClient("a", models.StateAvailable, models.StatePaired)
	require.NoError(t, err)

	// Re-registering resets a stuck row to available.
	require.NoError(t, r.Register("a", models.ModeText))

	c, err := store.GetClient("a")
	require.NoError(t, err)
	assert.Equal(t, models.StateAvailable, c.PresenceState)
	assert.Equal(t, models.ModeText, c.Mode)
}

func TestTransitionReportsLostRace(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Register("a", models.ModeVideo))

	ok, err := r.Transition("a", models.StateAvailable, models.StateSearching)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Transition("a", models.StateAvailable, models.StatePaired)
	require.NoError(t, err)
	assert.False(t, ok)

	// A removed client transitions to nothing, silently.
	ok, err = r.Transition("ghost", models.StateAvailable, models.StateSearching)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHeartbeatMovesLastActive(t *testing.T) {
	r, store := newRegistry(t)
	require.NoError(t, store.SaveClient(&models.Client{
		ID:            "a",
		Mode:          models.ModeVideo,
		PresenceState: models.StateAvailable,
		LastActive:    time.Now().Add(-time.Hour),
	}))

	require.NoError(t, r.Heartbeat("a"))

	c, err := store.GetClient("a")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), c.LastActive, 5*time.Second)
}

func TestCountAndRemove(t *testing.T) {
	r, store := newRegistry(t)
	require.NoError(t, r.Register("a", models.ModeVideo))
	require.NoError(t, r.Register("b", models.ModeText))

	n, err := r.Count("")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = r.Count(models.ModeText)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, r.Remove("a"))
	c, err := store.GetClient("a")
	require.NoError(t, err)
	assert.Nil(t, c)
}
