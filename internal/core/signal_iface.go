package core

import (
	"errors"

	"github.com/dkeye/Stage/internal/protocol"
)

// Frame is a raw encoded envelope.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Transport is the client side of the signaling relay. Send is fire-and-forget:
// ordering and retry belong to the implementation.
type Transport interface {
	Send(env protocol.Envelope) error
}

// ErrBackpressure is returned by TrySend when the outbound queue is full.
var ErrBackpressure = errors.New("backpressure")

// ErrConnClosed is returned by TrySend after Close.
var ErrConnClosed = errors.New("connection closed")
