// Package links owns every peer connection of the local participant, keyed by
// remote identity, and drives each through its handshake.
package links

import (
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SignalSender delivers handshake data produced by a link. It must not block.
type SignalSender interface {
	SendSignal(to domain.ParticipantID, kind domain.SignalKind, data []byte)
}

// InboundPolicy decides whether an offer from a remote without a live link
// may create one, and which local media to attach to it.
type InboundPolicy func(remote domain.ParticipantID) (allow bool, media *core.LocalMediaBundle)

type Options struct {
	// HandshakeTimeout closes links that are not connected in time. Zero disables it.
	HandshakeTimeout time.Duration
	Inbound          InboundPolicy
}

type Registry struct {
	self      domain.ParticipantID
	connector core.Connector
	sender    SignalSender
	opts      Options

	mu    sync.Mutex
	links map[domain.ParticipantID]*PeerLink

	lmu       sync.RWMutex
	onState   []func(StateChange)
	onStreams []func(domain.ParticipantID, core.RemoteStream)
}

func NewRegistry(self domain.ParticipantID, connector core.Connector, sender SignalSender, opts Options) *Registry {
	return &Registry{
		self:      self,
		connector: connector,
		sender:    sender,
		opts:      opts,
		links:     make(map[domain.ParticipantID]*PeerLink),
	}
}

// SetInboundPolicy replaces the lazy creation policy.
func (r *Registry) SetInboundPolicy(p InboundPolicy) {
	r.mu.Lock()
	r.opts.Inbound = p
	r.mu.Unlock()
}

func (r *Registry) OnStateChange(fn func(StateChange)) {
	r.lmu.Lock()
	r.onState = append(r.onState, fn)
	r.lmu.Unlock()
}

func (r *Registry) OnStream(fn func(domain.ParticipantID, core.RemoteStream)) {
	r.lmu.Lock()
	r.onStreams = append(r.onStreams, fn)
	r.lmu.Unlock()
}

func (r *Registry) emitState(ch StateChange) {
	r.lmu.RLock()
	fns := make([]func(StateChange), len(r.onState))
	copy(fns, r.onState)
	r.lmu.RUnlock()
	for _, fn := range fns {
		fn(ch)
	}
}

func (r *Registry) emitStream(remote domain.ParticipantID, s core.RemoteStream) {
	r.lmu.RLock()
	fns := make([]func(domain.ParticipantID, core.RemoteStream), len(r.onStreams))
	copy(fns, r.onStreams)
	r.lmu.RUnlock()
	for _, fn := range fns {
		fn(remote, s)
	}
}

// GetOrCreate returns the live link for remote or starts a new one.
// An initiator link is driven to OfferSent as soon as its primitive exists.
func (r *Registry) GetOrCreate(remote domain.ParticipantID, initiator bool, media *core.LocalMediaBundle) (*PeerLink, error) {
	r.mu.Lock()
	if l, ok := r.links[remote]; ok && l.State() != domain.LinkClosed {
		r.mu.Unlock()
		return l, nil
	}
	l := newLink(r, uuid.NewString(), remote, initiator, media)
	r.links[remote] = l
	r.mu.Unlock()

	if err := r.start(l); err != nil {
		return nil, err
	}
	return l, nil
}

// start creates the primitive outside every lock; the primitive may call back synchronously.
func (r *Registry) start(l *PeerLink) error {
	r.emitState(StateChange{LinkID: l.id, RemoteID: l.remoteID, Initiator: l.initiator, Publishing: l.Publishing()})

	conn, err := r.connector.CreateLink(l.initiator, l.media, l.events())
	if err != nil {
		cause := fmt.Errorf("%w: create link: %v", domain.ErrHandshakeFailure, err)
		l.shutdown(cause)
		return cause
	}

	l.mu.Lock()
	if l.state == domain.LinkClosed {
		l.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	l.conn = conn
	pending := l.pending
	l.pending = nil
	var (
		ch StateChange
		ok bool
	)
	if l.initiator {
		ch, ok = l.transitionLocked(domain.LinkOfferSent, nil)
	}
	if d := r.opts.HandshakeTimeout; d > 0 {
		l.timer = time.AfterFunc(d, func() {
			if l.State() != domain.LinkConnected {
				l.shutdown(fmt.Errorf("%w: not connected after %s", domain.ErrHandshakeFailure, d))
			}
		})
	}
	l.mu.Unlock()
	if ok {
		r.emitState(ch)
	}
	l.logger.Info().Bool("publishing", l.Publishing()).Msg("link started")

	for _, p := range pending {
		if err := l.deliver(conn, p.kind, p.data); err != nil {
			return nil
		}
	}
	return nil
}

// RouteSignal delivers handshake data from remote to its link.
// A late signal for a closed link is dropped without error.
func (r *Registry) RouteSignal(remote domain.ParticipantID, kind domain.SignalKind, data []byte) error {
	r.mu.Lock()
	l, ok := r.links[remote]
	inbound := r.opts.Inbound
	r.mu.Unlock()

	if ok && l.State() != domain.LinkClosed {
		return l.feed(kind, data)
	}

	if kind == domain.KindOffer && inbound != nil {
		if allow, media := inbound(remote); allow {
			created, err := r.acceptInbound(remote, media)
			if err != nil {
				return err
			}
			return created.feed(kind, data)
		}
	}

	if ok {
		log.Debug().Str("module", "app.links").Str("remote", string(remote)).Str("kind", string(kind)).
			Err(domain.ErrSignalOnClosedLink).Msg("drop")
		return nil
	}
	return fmt.Errorf("%w: %s", domain.ErrUnknownPeer, remote)
}

func (r *Registry) acceptInbound(remote domain.ParticipantID, media *core.LocalMediaBundle) (*PeerLink, error) {
	r.mu.Lock()
	if l, ok := r.links[remote]; ok && l.State() != domain.LinkClosed {
		r.mu.Unlock()
		return l, nil
	}
	l := newLink(r, uuid.NewString(), remote, false, media)
	r.links[remote] = l
	r.mu.Unlock()

	if err := r.start(l); err != nil {
		return nil, err
	}
	return l, nil
}

// Close tears down the link to remote. Closing an unknown or closed link is a no-op.
func (r *Registry) Close(remote domain.ParticipantID) {
	r.mu.Lock()
	l, ok := r.links[remote]
	r.mu.Unlock()
	if ok {
		l.shutdown(nil)
	}
}

func (r *Registry) CloseAll() {
	for _, l := range r.Links() {
		l.shutdown(nil)
	}
}

func (r *Registry) Get(remote domain.ParticipantID) (*PeerLink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[remote]
	return l, ok
}

// Links returns every tracked link, closed ones included.
func (r *Registry) Links() []*PeerLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*PeerLink, 0, len(r.links))
	for _, l := range r.links {
		out = append(out, l)
	}
	return out
}

// Active counts links that are not closed.
func (r *Registry) Active() int {
	n := 0
	for _, l := range r.Links() {
		if l.State() != domain.LinkClosed {
			n++
		}
	}
	return n
}
