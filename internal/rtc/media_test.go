package rtc_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairgo/backend/internal/models"
	"pairgo/backend/internal/rtc"
)

func TestAcquireTextModeCarriesNoTracks(t *testing.T) {
	src := rtc.NewSampleSource(zerolog.Nop())

	h, err := src.Acquire(models.ModeText)
	require.NoError(t, err)

	assert.Empty(t, h.Tracks())
	assert.False(t, h.VideoEnabled())
	assert.False(t, h.AudioEnabled())
}

func TestAcquireVideoModeBuildsBothTracks(t *testing.T) {
	src := rtc.NewSampleSource(zerolog.Nop())

	h, err := src.Acquire(models.ModeVideo)
	require.NoError(t, err)

	assert.Len(t, h.Tracks(), 2)
	assert.True(t, h.VideoEnabled())
	assert.True(t, h.AudioEnabled())
}

func TestTogglesFlipFlagsOnly(t *testing.T) {
	src := rtc.NewSampleSource(zerolog.Nop())
	h, err := src.Acquire(models.ModeVideo)
	require.NoError(t, err)

	h.EnableVideo(false)
	assert.False(t, h.VideoEnabled())
	assert.True(t, h.AudioEnabled(), "audio untouched")
	assert.Len(t, h.Tracks(), 2, "tracks never removed by a toggle")

	h.EnableVideo(true)
	assert.True(t, h.VideoEnabled())
}

func TestTogglesAreNoOpsWithoutTracks(t *testing.T) {
	src := rtc.NewSampleSource(zerolog.Nop())
	h, err := src.Acquire(models.ModeText)
	require.NoError(t, err)

	h.EnableVideo(true)
	h.EnableAudio(true)
	assert.False(t, h.VideoEnabled())
	assert.False(t, h.AudioEnabled())
}

func TestReleaseDisablesEverything(t *testing.T) {
	src := rtc.NewSampleSource(zerolog.Nop())
	h, err := src.Acquire(models.ModeVideo)
	require.NoError(t, err)

	h.Release()
	h.Release() // safe twice

	assert.True(t, h.Released())
	assert.False(t, h.VideoEnabled())
	assert.False(t, h.AudioEnabled())
}
