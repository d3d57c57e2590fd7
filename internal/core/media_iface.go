package core

import (
	"context"

	"github.com/dkeye/Stage/internal/domain"
)

// LocalTrack is one captured track. Enabled is shared by every link that publishes it.
type LocalTrack interface {
	ID() string
	Kind() domain.MediaKind
	SetEnabled(bool)
	Enabled() bool
	// Stop releases the capture device. Must be safe to call more than once.
	Stop()
}

// RemoteStream is media received from a peer.
type RemoteStream interface {
	ID() string
	Kind() domain.MediaKind
}

type MediaSource interface {
	// Acquire opens capture devices. Failures wrap domain.ErrMediaUnavailable.
	Acquire(ctx context.Context, kind domain.CaptureKind) (*LocalMediaBundle, error)
}

// Renderer attaches a stream to a named surface. Fire-and-forget.
type Renderer interface {
	Attach(surfaceID string, stream RemoteStream)
}
