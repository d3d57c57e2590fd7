// Package call drives the local participant through role selection, joining
// the call and leaving, and reacts to control messages from the relay.
package call

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Stage/internal/app/links"
	"github.com/dkeye/Stage/internal/app/media"
	"github.com/dkeye/Stage/internal/app/roster"
	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ControlSender hands control messages to the transport. An empty to broadcasts.
type ControlSender interface {
	SendControl(to domain.ParticipantID, t protocol.MessageType, payload any)
}

type Deps struct {
	Media    *media.Controller
	Links    *links.Registry
	Out      ControlSender
	Renderer core.Renderer
}

type Lifecycle struct {
	self     domain.ParticipantID
	name     string
	topology Topology

	media    *media.Controller
	links    *links.Registry
	out      ControlSender
	renderer core.Renderer
	roster   *roster.Roster
	logger   zerolog.Logger

	mu          sync.Mutex
	state       State
	role        domain.Role
	hostID      domain.ParticipantID
	pendingJoin bool
	// accepted holds peers that answered our join request; their offers carry local media.
	accepted map[domain.ParticipantID]bool

	errmu   sync.Mutex
	onError []func(error)

	// beforeCapture runs between the state check and capture in RequestJoinCall. Tests only.
	beforeCapture func()
}

// New wires the lifecycle into the registry. One Lifecycle serves one session.
func New(self domain.Participant, topology Topology, d Deps) *Lifecycle {
	if topology == "" {
		topology = TopologyHub
	}
	l := &Lifecycle{
		self:     self.ID,
		name:     self.DisplayName,
		topology: topology,
		media:    d.Media,
		links:    d.Links,
		out:      d.Out,
		renderer: d.Renderer,
		roster:   roster.New(self),
		accepted: make(map[domain.ParticipantID]bool),
		logger: log.With().
			Str("module", "app.call").
			Str("self", string(self.ID)).
			Str("topology", string(topology)).
			Logger(),
	}
	l.links.SetInboundPolicy(l.allowInbound)
	l.links.OnStateChange(l.onLinkState)
	l.links.OnStream(l.onStream)
	return l
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Lifecycle) Role() domain.Role {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.role
}

// HostID is the known host, empty until a role announcement arrives.
func (l *Lifecycle) HostID() domain.ParticipantID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hostID
}

func (l *Lifecycle) Roster() *roster.Roster { return l.roster }

// OnError registers fn for failures reported asynchronously by the relay,
// such as a rejected host claim.
func (l *Lifecycle) OnError(fn func(error)) {
	l.errmu.Lock()
	l.onError = append(l.onError, fn)
	l.errmu.Unlock()
}

func (l *Lifecycle) reportError(err error) {
	l.errmu.Lock()
	fns := append([]func(error){}, l.onError...)
	l.errmu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (l *Lifecycle) Topology() Topology { return l.topology }

// SelectHost captures local media and announces the host. A capture failure
// rolls the session back to Unjoined and is returned to the caller.
func (l *Lifecycle) SelectHost(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateUnjoined {
		st := l.state
		l.mu.Unlock()
		return fmt.Errorf("%w: select host in %s", domain.ErrInvalidState, st)
	}
	l.state = StateRoleSelected
	l.role = domain.RoleHost
	l.mu.Unlock()
	l.roster.SetRole(l.self, domain.RoleHost)

	b, err := l.media.AcquireLocalBundle(ctx)
	if err != nil {
		l.mu.Lock()
		if l.state == StateRoleSelected {
			l.state = StateUnjoined
			l.role = domain.RoleNone
		}
		l.mu.Unlock()
		l.roster.SetRole(l.self, domain.RoleNone)
		l.logger.Error().Err(err).Msg("host needs local media")
		return err
	}

	l.mu.Lock()
	if l.state != StateRoleSelected {
		l.mu.Unlock()
		l.media.Release()
		return fmt.Errorf("%w: session left during capture", domain.ErrInvalidState)
	}
	l.state = StateCallMember
	l.hostID = l.self
	l.mu.Unlock()

	l.becomeMember(b)
	l.out.SendControl("", protocol.TypeRoleAnnounce, protocol.RoleAnnounce{HostID: l.self})
	l.logger.Info().Msg("hosting")
	return nil
}

// SelectAudience joins as an observer. No media is captured.
func (l *Lifecycle) SelectAudience() error {
	l.mu.Lock()
	if l.state != StateUnjoined {
		st := l.state
		l.mu.Unlock()
		return fmt.Errorf("%w: select audience in %s", domain.ErrInvalidState, st)
	}
	l.state = StateJoined
	l.role = domain.RoleAudience
	host := l.hostID
	l.mu.Unlock()

	l.roster.SetRole(l.self, domain.RoleAudience)
	l.announceAudience(host)
	l.logger.Info().Str("host", string(host)).Msg("joined as audience")
	return nil
}

func (l *Lifecycle) announceAudience(to domain.ParticipantID) {
	l.out.SendControl(to, protocol.TypeAudienceAnnounce, protocol.AudienceAnnounce{
		RequesterID: l.self,
		DisplayName: l.name,
	})
}

// RequestJoinCall captures local media and asks to join the call. Without a
// known host the request is queued until a role announcement arrives.
// Promotion to CallMember happens when a publishing link to us is created.
func (l *Lifecycle) RequestJoinCall(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateJoined || l.role != domain.RoleAudience {
		st := l.state
		l.mu.Unlock()
		return fmt.Errorf("%w: join call in %s", domain.ErrInvalidState, st)
	}
	l.mu.Unlock()

	if l.beforeCapture != nil {
		l.beforeCapture()
	}
	if _, err := l.media.AcquireLocalBundle(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	if l.state != StateJoined {
		st := l.state
		l.mu.Unlock()
		if st != StateCallMember {
			l.media.Release()
		}
		return fmt.Errorf("%w: session changed during capture", domain.ErrInvalidState)
	}
	host := l.hostID
	if host == "" {
		l.pendingJoin = true
		l.mu.Unlock()
		l.logger.Info().Msg("no host yet, join request queued")
		return nil
	}
	l.pendingJoin = false
	l.mu.Unlock()

	l.sendJoinRequest(host)
	return nil
}

func (l *Lifecycle) sendJoinRequest(host domain.ParticipantID) {
	to := host
	if l.topology == TopologyMesh {
		to = ""
	}
	l.out.SendControl(to, protocol.TypeJoinCallRequest, protocol.JoinCallRequest{
		RequesterID: l.self,
		DisplayName: l.name,
	})
	l.logger.Info().Str("to", string(to)).Msg("join call requested")
}

// Leave tears every link down and releases local media. Calling it again is a no-op.
func (l *Lifecycle) Leave() error {
	l.mu.Lock()
	switch l.state {
	case StateUnjoined:
		l.mu.Unlock()
		return fmt.Errorf("%w: leave before joining", domain.ErrInvalidState)
	case StateLeft:
		l.mu.Unlock()
		return nil
	}
	l.state = StateLeft
	l.pendingJoin = false
	l.accepted = make(map[domain.ParticipantID]bool)
	l.mu.Unlock()

	l.links.CloseAll()
	l.media.Release()
	l.out.SendControl("", protocol.TypeLeave, nil)
	l.roster.Clear()
	l.logger.Info().Msg("left")
	return nil
}

// SetAudioEnabled mutes or unmutes the shared microphone track and tells
// the others. Links are never renegotiated.
func (l *Lifecycle) SetAudioEnabled(enabled bool) bool {
	if !l.media.SetAudioEnabled(enabled) {
		return false
	}
	l.roster.SetMicEnabled(l.self, enabled)
	l.out.SendControl("", protocol.TypeMicStateChanged, protocol.MicStateChanged{ID: l.self, Enabled: enabled})
	return true
}

func (l *Lifecycle) SetVideoEnabled(enabled bool) bool {
	return l.media.SetVideoEnabled(enabled)
}

func (l *Lifecycle) becomeMember(b *core.LocalMediaBundle) {
	l.roster.SetCallMember(l.self, true)
	l.roster.SetPublishing(l.self, b != nil)
	l.roster.SetMicEnabled(l.self, b != nil && b.Audio() != nil && !b.AudioMuted())
}

// allowInbound admits offers from the host (receive-only broadcast) and from
// peers that accepted our join request (with local media).
func (l *Lifecycle) allowInbound(remote domain.ParticipantID) (bool, *core.LocalMediaBundle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.state == StateUnjoined || l.state == StateLeft:
		return false, nil
	case l.accepted[remote]:
		return true, l.media.Bundle()
	case l.role == domain.RoleAudience && remote == l.hostID:
		return true, nil
	}
	return false, nil
}

func (l *Lifecycle) onLinkState(ch links.StateChange) {
	switch {
	case ch.To == domain.LinkConnected:
		l.roster.SetConnected(ch.RemoteID, true)
	case ch.To == domain.LinkClosed:
		l.roster.SetConnected(ch.RemoteID, false)
		l.roster.SetPublishing(ch.RemoteID, false)
		if ch.Err != nil {
			l.logger.Warn().Str("remote", string(ch.RemoteID)).Err(ch.Err).Msg("peer disconnected")
		}
		return
	}
	if !ch.Publishing {
		return
	}

	l.mu.Lock()
	promote := l.state == StateJoined && l.role == domain.RoleAudience && l.accepted[ch.RemoteID]
	if promote {
		l.state = StateCallMember
	}
	l.mu.Unlock()
	if promote {
		l.becomeMember(l.media.Bundle())
		l.logger.Info().Str("via", string(ch.RemoteID)).Msg("promoted to call member")
	}
}

func (l *Lifecycle) onStream(remote domain.ParticipantID, s core.RemoteStream) {
	if l.State() == StateLeft {
		return
	}
	l.roster.SetPublishing(remote, true)
	if l.renderer != nil {
		l.renderer.Attach(SurfaceID(remote), s)
	}
}

// SurfaceID names the render surface of a remote participant.
func SurfaceID(remote domain.ParticipantID) string { return "remote-" + string(remote) }
