package core

import (
	"sync"

	"github.com/dkeye/Stage/internal/domain"
)

// LocalMediaBundle is the local audio/video pair. It is owned by the media
// controller and handed by reference to every link that publishes it.
type LocalMediaBundle struct {
	audio LocalTrack
	video LocalTrack

	mu         sync.RWMutex
	audioMuted bool
	videoMuted bool
	released   bool
}

func NewLocalMediaBundle(audio, video LocalTrack) *LocalMediaBundle {
	b := &LocalMediaBundle{audio: audio, video: video}
	if audio != nil {
		b.audioMuted = !audio.Enabled()
	}
	if video != nil {
		b.videoMuted = !video.Enabled()
	}
	return b
}

func (b *LocalMediaBundle) Audio() LocalTrack { return b.audio }
func (b *LocalMediaBundle) Video() LocalTrack { return b.video }

// Tracks returns the present tracks, audio first.
func (b *LocalMediaBundle) Tracks() []LocalTrack {
	out := make([]LocalTrack, 0, 2)
	if b.audio != nil {
		out = append(out, b.audio)
	}
	if b.video != nil {
		out = append(out, b.video)
	}
	return out
}

func (b *LocalMediaBundle) AudioMuted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.audioMuted
}

func (b *LocalMediaBundle) VideoMuted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.videoMuted
}

func (b *LocalMediaBundle) Released() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.released
}

// SetEnabled toggles the track of the given kind. Returns false when the
// bundle has no such track or was released.
func (b *LocalMediaBundle) SetEnabled(kind domain.MediaKind, enabled bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return false
	}
	switch kind {
	case domain.MediaAudio:
		if b.audio == nil {
			return false
		}
		b.audio.SetEnabled(enabled)
		b.audioMuted = !enabled
	case domain.MediaVideo:
		if b.video == nil {
			return false
		}
		b.video.SetEnabled(enabled)
		b.videoMuted = !enabled
	default:
		return false
	}
	return true
}

// Release stops all tracks once.
func (b *LocalMediaBundle) Release() {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return
	}
	b.released = true
	b.mu.Unlock()
	for _, t := range b.Tracks() {
		t.Stop()
	}
}
