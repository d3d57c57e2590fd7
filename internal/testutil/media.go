// Package testutil holds in-memory stand-ins for the external collaborators
// of a call: relay transport, peer-connection primitive, capture and renderer.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

type Track struct {
	id   string
	kind domain.MediaKind

	mu      sync.Mutex
	enabled bool
	stops   int
}

func NewTrack(id string, kind domain.MediaKind) *Track {
	return &Track{id: id, kind: kind, enabled: true}
}

func (t *Track) ID() string             { return t.id }
func (t *Track) Kind() domain.MediaKind { return t.kind }

func (t *Track) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) Stop() {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
}

func (t *Track) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// MediaSource hands out fresh fake bundles, or Err when set.
type MediaSource struct {
	Err error

	mu       sync.Mutex
	acquired []*core.LocalMediaBundle
	kinds    []domain.CaptureKind
}

func (s *MediaSource) Acquire(_ context.Context, kind domain.CaptureKind) (*core.LocalMediaBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, kind)
	if s.Err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, s.Err)
	}
	n := len(s.acquired)
	var audio, video core.LocalTrack
	if kind.Audio() {
		audio = NewTrack(fmt.Sprintf("audio-%d", n), domain.MediaAudio)
	}
	if kind.Video() {
		video = NewTrack(fmt.Sprintf("video-%d", n), domain.MediaVideo)
	}
	b := core.NewLocalMediaBundle(audio, video)
	s.acquired = append(s.acquired, b)
	return b, nil
}

func (s *MediaSource) Acquired() []*core.LocalMediaBundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*core.LocalMediaBundle(nil), s.acquired...)
}

type Stream struct {
	StreamID  string
	MediaKind domain.MediaKind
}

func (s Stream) ID() string             { return s.StreamID }
func (s Stream) Kind() domain.MediaKind { return s.MediaKind }

type Attachment struct {
	Surface string
	Stream  core.RemoteStream
}

type Renderer struct {
	mu       sync.Mutex
	attached []Attachment
}

func (r *Renderer) Attach(surfaceID string, stream core.RemoteStream) {
	r.mu.Lock()
	r.attached = append(r.attached, Attachment{Surface: surfaceID, Stream: stream})
	r.mu.Unlock()
}

func (r *Renderer) Attached() []Attachment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Attachment(nil), r.attached...)
}
