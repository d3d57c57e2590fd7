package core

import "github.com/dkeye/Stage/internal/domain"

// LinkEvents are the callbacks of one underlying connection.
// Implementations may invoke them from any goroutine.
type LinkEvents struct {
	Signal  func(kind domain.SignalKind, data []byte)
	Stream  func(RemoteStream)
	Connect func()
	// Close fires once; err is nil for a local Close.
	Close func(err error)
}

// Link is the peer-connection primitive: it performs the handshake given the
// signaling data fed to it and reports progress through LinkEvents.
type Link interface {
	FeedSignal(kind domain.SignalKind, data []byte) error
	Close() error
}

type Connector interface {
	// CreateLink starts a connection. An initiator emits its offer through events.Signal
	// without blocking the caller. media may be nil for a receive-only link.
	CreateLink(initiator bool, media *LocalMediaBundle, events LinkEvents) (Link, error)
}
