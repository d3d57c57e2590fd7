package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Stage/internal/domain"
)

var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is immutable once built; it only lives between the router and the transport.
type Envelope struct {
	Type    MessageType          `json:"type"`
	From    domain.ParticipantID `json:"from,omitempty"`
	To      domain.ParticipantID `json:"to,omitempty"`
	Signal  domain.SignalKind    `json:"kind,omitempty"`
	Payload json.RawMessage      `json:"payload,omitempty"`
}

// Kind returns the handshake kind for signal envelopes and control for everything else.
func (e Envelope) Kind() domain.SignalKind {
	if e.Type == TypeSignal {
		return e.Signal
	}
	return domain.KindControl
}

// Broadcast reports whether the envelope has no explicit recipient.
func (e Envelope) Broadcast() bool { return e.To == "" }

func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrMalformedEnvelope, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedEnvelope, e.Type, err)
	}
	return nil
}

// WithFrom returns a copy stamped with the sender id.
func (e Envelope) WithFrom(from domain.ParticipantID) Envelope {
	e.From = from
	return e
}

func New(t MessageType, from, to domain.ParticipantID, payload any) (Envelope, error) {
	env := Envelope{Type: t, From: from, To: to}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// NewSignal wraps opaque handshake data. data must be valid JSON.
func NewSignal(from, to domain.ParticipantID, kind domain.SignalKind, data []byte) Envelope {
	return Envelope{
		Type:    TypeSignal,
		From:    from,
		To:      to,
		Signal:  kind,
		Payload: json.RawMessage(data),
	}
}

func (e Envelope) Validate() error {
	if !e.Type.Known() {
		return fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, e.Type)
	}
	if e.Type == TypeSignal {
		if e.To == "" {
			return fmt.Errorf("%w: signal without recipient", ErrMalformedEnvelope)
		}
		if !e.Signal.Handshake() {
			return fmt.Errorf("%w: signal kind %q", ErrMalformedEnvelope, e.Signal)
		}
		if len(e.Payload) == 0 {
			return fmt.Errorf("%w: signal without data", ErrMalformedEnvelope)
		}
	}
	return nil
}

func Marshal(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// MustNew is New for payloads that are known to encode.
func MustNew(t MessageType, from, to domain.ParticipantID, payload any) Envelope {
	env, err := New(t, from, to, payload)
	if err != nil {
		panic(err)
	}
	return env
}
