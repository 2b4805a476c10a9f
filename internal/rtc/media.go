// Package rtc provides the pion/webrtc-backed peer transport and the
// abstract local media handle the session layer works with. Capture
// pipelines feed the handle's tracks; how frames are produced is
// outside this package.
package rtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"pairgo/backend/internal/models"
)

// ErrMediaAccessDenied means the local media handle could not be
// acquired. Fatal to start; no partner search is attempted.
var ErrMediaAccessDenied = errors.New("media access denied")

// MediaHandle is the acquired local media: the outgoing tracks plus
// enable flags. Toggling only flips enablement, never renegotiates;
// writers consult the flags before pushing samples.
type MediaHandle struct {
	mu           sync.Mutex
	tracks       []webrtc.TrackLocal
	videoTrack   *webrtc.TrackLocalStaticSample
	audioTrack   *webrtc.TrackLocalStaticSample
	videoEnabled bool
	audioEnabled bool
	released     bool
}

// Tracks returns the outgoing tracks to attach to a transport.
func (h *MediaHandle) Tracks() []webrtc.TrackLocal {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tracks
}

// EnableVideo flips video enablement.
func (h *MediaHandle) EnableVideo(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.videoTrack != nil {
		h.videoEnabled = on
	}
}

// EnableAudio flips audio enablement.
func (h *MediaHandle) EnableAudio(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.audioTrack != nil {
		h.audioEnabled = on
	}
}

// VideoEnabled reports whether video is currently enabled.
func (h *MediaHandle) VideoEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.videoEnabled
}

// AudioEnabled reports whether audio is currently enabled.
func (h *MediaHandle) AudioEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.audioEnabled
}

// Release stops the handle. Safe to call more than once.
func (h *MediaHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = true
	h.videoEnabled = false
	h.audioEnabled = false
}

// Released reports whether the handle has been released.
func (h *MediaHandle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// SampleSource acquires media handles built on static sample tracks
// (Opus audio, VP8 video for video mode).
type SampleSource struct {
	log zerolog.Logger
}

// NewSampleSource creates a media source.
func NewSampleSource(log zerolog.Logger) *SampleSource {
	return &SampleSource{log: log.With().Str("component", "media").Logger()}
}

// Acquire builds the local media handle for the requested mode. Text
// mode carries no tracks at all.
func (s *SampleSource) Acquire(mode models.ChatMode) (*MediaHandle, error) {
	h := &MediaHandle{}
	if mode == models.ModeText {
		return h, nil
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "pairgo")
	if err != nil {
		return nil, fmt.Errorf("%w: audio track: %v", ErrMediaAccessDenied, err)
	}
	h.audioTrack = audio
	h.audioEnabled = true
	h.tracks = append(h.tracks, audio)

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "pairgo")
	if err != nil {
		return nil, fmt.Errorf("%w: video track: %v", ErrMediaAccessDenied, err)
	}
	h.videoTrack = video
	h.videoEnabled = true
	h.tracks = append(h.tracks, video)

	return h, nil
}
