// Package router moves envelopes between the relay transport and the local
// link registry and call lifecycle.
package router

import (
	"context"
	"errors"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/protocol"
	"github.com/rs/zerolog/log"
)

type SignalRoute interface {
	RouteSignal(remote domain.ParticipantID, kind domain.SignalKind, data []byte) error
}

type ControlHandler interface {
	HandleControl(env protocol.Envelope)
}

type Router struct {
	Self      domain.ParticipantID
	Transport core.Transport
	Links     SignalRoute
	Control   ControlHandler
}

func New(self domain.ParticipantID, t core.Transport) *Router {
	return &Router{Self: self, Transport: t}
}

// OnInbound dispatches one delivered envelope. Envelopes addressed to someone
// else and envelopes the local participant sent are dropped.
func (r *Router) OnInbound(env protocol.Envelope) {
	if env.To != "" && env.To != r.Self {
		return
	}
	if env.From != "" && env.From == r.Self {
		return
	}
	if env.Type == protocol.TypeSignal {
		if r.Links == nil {
			return
		}
		err := r.Links.RouteSignal(env.From, env.Signal, env.Payload)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrUnknownPeer):
			log.Debug().Str("module", "app.router").Str("from", string(env.From)).
				Str("kind", string(env.Signal)).Msg("signal from unknown peer dropped")
		default:
			log.Warn().Str("module", "app.router").Str("from", string(env.From)).
				Str("kind", string(env.Signal)).Err(err).Msg("route signal")
		}
		return
	}
	if r.Control != nil {
		r.Control.HandleControl(env)
	}
}

// SendSignal never fails from the caller's point of view.
func (r *Router) SendSignal(to domain.ParticipantID, kind domain.SignalKind, data []byte) {
	r.send(protocol.NewSignal(r.Self, to, kind, data))
}

// SendControl encodes payload and sends it; an empty to broadcasts.
func (r *Router) SendControl(to domain.ParticipantID, t protocol.MessageType, payload any) {
	env, err := protocol.New(t, r.Self, to, payload)
	if err != nil {
		log.Error().Str("module", "app.router").Str("type", string(t)).Err(err).Msg("encode control")
		return
	}
	r.send(env)
}

func (r *Router) send(env protocol.Envelope) {
	if err := r.Transport.Send(env); err != nil {
		log.Warn().Str("module", "app.router").
			Str("type", string(env.Type)).
			Str("to", string(env.To)).
			Err(err).Msg("send failed")
	}
}

// Run consumes deliveries in order until ctx is done or in is closed.
func (r *Router) Run(ctx context.Context, in <-chan protocol.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-in:
			if !ok {
				return
			}
			r.OnInbound(env)
		}
	}
}
