package domain

import "errors"

var (
	// ErrMediaUnavailable is returned when capture is denied or no device exists.
	ErrMediaUnavailable = errors.New("media unavailable")
	// ErrUnknownPeer is returned for signaling from a remote with no link when lazy creation is not allowed.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrHandshakeFailure marks a link closed by its underlying connection during setup.
	ErrHandshakeFailure = errors.New("handshake failure")
	// ErrSignalOnClosedLink is a late signal for a closed link. Always dropped silently.
	ErrSignalOnClosedLink = errors.New("signal on closed link")
	ErrInvalidState       = errors.New("invalid state")
	ErrHostExists         = errors.New("host already present")
)
