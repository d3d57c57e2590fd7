package links

import (
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StateChange is emitted for every transition, and once with From == To == Idle on creation.
type StateChange struct {
	LinkID     string
	RemoteID   domain.ParticipantID
	From       domain.LinkState
	To         domain.LinkState
	Initiator  bool
	Publishing bool
	// Err is set when the link closed because of a failure.
	Err error
}

func (c StateChange) Created() bool { return c.From == domain.LinkIdle && c.To == domain.LinkIdle }

type pendingSignal struct {
	kind domain.SignalKind
	data []byte
}

// PeerLink is one direct connection to a remote participant. Only the
// registry mutates its state.
type PeerLink struct {
	id        string
	localID   domain.ParticipantID
	remoteID  domain.ParticipantID
	initiator bool
	media     *core.LocalMediaBundle
	reg       *Registry
	logger    zerolog.Logger

	mu      sync.Mutex
	state   domain.LinkState
	conn    core.Link
	pending []pendingSignal
	timer   *time.Timer
}

func (l *PeerLink) ID() string                     { return l.id }
func (l *PeerLink) LocalID() domain.ParticipantID  { return l.localID }
func (l *PeerLink) RemoteID() domain.ParticipantID { return l.remoteID }
func (l *PeerLink) Initiator() bool                { return l.initiator }

// Publishing reports whether local media rides on this link.
func (l *PeerLink) Publishing() bool { return l.media != nil }

func (l *PeerLink) Media() *core.LocalMediaBundle { return l.media }

func (l *PeerLink) State() domain.LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func allowed(from, to domain.LinkState) bool {
	if from == domain.LinkClosed {
		return false
	}
	switch to {
	case domain.LinkOfferSent, domain.LinkAwaitingAnswer:
		return from == domain.LinkIdle
	case domain.LinkAwaitingConnect:
		return from == domain.LinkOfferSent || from == domain.LinkAwaitingAnswer
	case domain.LinkConnected:
		return from != domain.LinkConnected
	case domain.LinkClosed:
		return true
	}
	return false
}

// transitionLocked must be called with l.mu held.
func (l *PeerLink) transitionLocked(to domain.LinkState, cause error) (StateChange, bool) {
	if !allowed(l.state, to) {
		return StateChange{}, false
	}
	ch := StateChange{
		LinkID:     l.id,
		RemoteID:   l.remoteID,
		From:       l.state,
		To:         to,
		Initiator:  l.initiator,
		Publishing: l.media != nil,
		Err:        cause,
	}
	l.state = to
	if to == domain.LinkConnected || to == domain.LinkClosed {
		if l.timer != nil {
			l.timer.Stop()
			l.timer = nil
		}
	}
	return ch, true
}

func (l *PeerLink) events() core.LinkEvents {
	return core.LinkEvents{
		Signal:  l.onLocalSignal,
		Stream:  l.onStream,
		Connect: l.onConnect,
		Close:   l.onUnderlyingClose,
	}
}

// onLocalSignal forwards handshake data produced by the primitive.
func (l *PeerLink) onLocalSignal(kind domain.SignalKind, data []byte) {
	l.mu.Lock()
	if l.state == domain.LinkClosed {
		l.mu.Unlock()
		return
	}
	var (
		ch StateChange
		ok bool
	)
	switch {
	case l.initiator && l.state == domain.LinkIdle:
		ch, ok = l.transitionLocked(domain.LinkOfferSent, nil)
	case !l.initiator && l.state == domain.LinkAwaitingAnswer && kind == domain.KindAnswer:
		ch, ok = l.transitionLocked(domain.LinkAwaitingConnect, nil)
	}
	l.mu.Unlock()
	if ok {
		l.reg.emitState(ch)
	}
	l.reg.sender.SendSignal(l.remoteID, kind, data)
}

func (l *PeerLink) onStream(s core.RemoteStream) {
	l.mu.Lock()
	if l.state == domain.LinkClosed {
		l.mu.Unlock()
		return
	}
	ch, ok := l.transitionLocked(domain.LinkConnected, nil)
	l.mu.Unlock()
	if ok {
		l.reg.emitState(ch)
	}
	l.logger.Info().Str("stream", s.ID()).Str("kind", string(s.Kind())).Msg("remote stream")
	l.reg.emitStream(l.remoteID, s)
}

func (l *PeerLink) onConnect() {
	l.mu.Lock()
	ch, ok := l.transitionLocked(domain.LinkConnected, nil)
	l.mu.Unlock()
	if ok {
		l.logger.Info().Msg("connected")
		l.reg.emitState(ch)
	}
}

func (l *PeerLink) onUnderlyingClose(err error) {
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrHandshakeFailure, err)
	}
	l.shutdown(err)
}

// feed delivers inbound handshake data. Signals that arrive before the
// primitive exists are queued and flushed by start.
func (l *PeerLink) feed(kind domain.SignalKind, data []byte) error {
	l.mu.Lock()
	if l.state == domain.LinkClosed {
		l.mu.Unlock()
		l.logger.Debug().Str("kind", string(kind)).Err(domain.ErrSignalOnClosedLink).Msg("drop")
		return nil
	}
	var (
		ch StateChange
		ok bool
	)
	switch {
	case !l.initiator && l.state == domain.LinkIdle:
		ch, ok = l.transitionLocked(domain.LinkAwaitingAnswer, nil)
	case l.initiator && l.state == domain.LinkOfferSent && kind == domain.KindAnswer:
		ch, ok = l.transitionLocked(domain.LinkAwaitingConnect, nil)
	}
	conn := l.conn
	if conn == nil {
		l.pending = append(l.pending, pendingSignal{kind: kind, data: data})
	}
	l.mu.Unlock()
	if ok {
		l.reg.emitState(ch)
	}
	if conn == nil {
		return nil
	}
	return l.deliver(conn, kind, data)
}

func (l *PeerLink) deliver(conn core.Link, kind domain.SignalKind, data []byte) error {
	if err := conn.FeedSignal(kind, data); err != nil {
		cause := fmt.Errorf("%w: feed %s: %v", domain.ErrHandshakeFailure, kind, err)
		l.shutdown(cause)
		return cause
	}
	return nil
}

// shutdown closes the link once and releases the primitive. Returns false if
// the link was already closed.
func (l *PeerLink) shutdown(cause error) bool {
	l.mu.Lock()
	ch, ok := l.transitionLocked(domain.LinkClosed, cause)
	if !ok {
		l.mu.Unlock()
		return false
	}
	conn := l.conn
	l.conn = nil
	l.pending = nil
	l.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			l.logger.Warn().Err(err).Msg("close underlying connection")
		}
	}
	ev := l.logger.Info()
	if cause != nil {
		ev = l.logger.Warn().Err(cause)
	}
	ev.Msg("link closed")
	l.reg.emitState(ch)
	return true
}

func newLink(reg *Registry, id string, remote domain.ParticipantID, initiator bool, media *core.LocalMediaBundle) *PeerLink {
	return &PeerLink{
		id:        id,
		localID:   reg.self,
		remoteID:  remote,
		initiator: initiator,
		media:     media,
		reg:       reg,
		state:     domain.LinkIdle,
		logger: log.With().
			Str("module", "app.links").
			Str("link", id).
			Str("remote", string(remote)).
			Bool("initiator", initiator).
			Logger(),
	}
}
