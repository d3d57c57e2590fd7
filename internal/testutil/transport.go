package testutil

import (
	"sync"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/protocol"
)

var _ core.Transport = (*Transport)(nil)

// Transport captures outbound envelopes in send order.
type Transport struct {
	Err error

	mu   sync.Mutex
	sent []protocol.Envelope
}

func (t *Transport) Send(env protocol.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	t.sent = append(t.sent, env)
	return nil
}

func (t *Transport) Sent() []protocol.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Envelope(nil), t.sent...)
}

func (t *Transport) OfType(mt protocol.MessageType) []protocol.Envelope {
	var out []protocol.Envelope
	for _, e := range t.Sent() {
		if e.Type == mt {
			out = append(out, e)
		}
	}
	return out
}

func (t *Transport) Reset() {
	t.mu.Lock()
	t.sent = nil
	t.mu.Unlock()
}

// Control builds an inbound control envelope as the relay would deliver it.
func Control(t protocol.MessageType, from, to domain.ParticipantID, payload any) protocol.Envelope {
	return protocol.MustNew(t, from, to, payload)
}
