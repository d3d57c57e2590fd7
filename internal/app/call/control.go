package call

import (
	"fmt"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/protocol"
)

// HandleControl reacts to one control envelope delivered by the router.
func (l *Lifecycle) HandleControl(env protocol.Envelope) {
	if l.State() == StateLeft {
		return
	}
	var err error
	switch env.Type {
	case protocol.TypeRoleAnnounce:
		err = l.onRoleAnnounce(env)
	case protocol.TypeAudienceAnnounce:
		err = l.onAudienceAnnounce(env)
	case protocol.TypeJoinCallRequest:
		err = l.onJoinCallRequest(env)
	case protocol.TypeCallAccept:
		err = l.onCallAccept(env)
	case protocol.TypePresenceUpdate:
		var p protocol.PresenceUpdate
		if err = env.Decode(&p); err == nil {
			l.roster.SyncPresence(p)
		}
	case protocol.TypeMicStateChanged:
		var p protocol.MicStateChanged
		if err = env.Decode(&p); err == nil {
			l.roster.SetMicEnabled(p.ID, p.Enabled)
		}
	case protocol.TypePeerLeft:
		err = l.onPeerLeft(env)
	case protocol.TypeError:
		err = l.onRelayError(env)
	case protocol.TypeWelcome, protocol.TypePing, protocol.TypePong:
	default:
		l.logger.Debug().Str("type", string(env.Type)).Msg("unhandled control")
	}
	if err != nil {
		l.logger.Warn().Str("type", string(env.Type)).Str("from", string(env.From)).Err(err).Msg("bad control")
	}
}

func (l *Lifecycle) onRoleAnnounce(env protocol.Envelope) error {
	var p protocol.RoleAnnounce
	if err := env.Decode(&p); err != nil {
		return err
	}
	host := p.HostID
	if host == "" {
		host = env.From
	}
	if host == l.self {
		return nil
	}
	l.roster.Upsert(host, "", domain.RoleHost)

	l.mu.Lock()
	l.hostID = host
	audience := l.role == domain.RoleAudience && (l.state == StateJoined || l.state == StateCallMember)
	flush := audience && l.pendingJoin
	l.pendingJoin = false
	l.mu.Unlock()

	if audience {
		l.announceAudience(host)
	}
	if flush {
		l.sendJoinRequest(host)
	}
	return nil
}

// onAudienceAnnounce opens the one-way broadcast link from the host.
func (l *Lifecycle) onAudienceAnnounce(env protocol.Envelope) error {
	var p protocol.AudienceAnnounce
	if err := env.Decode(&p); err != nil {
		return err
	}
	who := p.RequesterID
	if who == "" {
		who = env.From
	}
	l.roster.Upsert(who, p.DisplayName, domain.RoleAudience)

	l.mu.Lock()
	hosting := l.role == domain.RoleHost && l.state == StateCallMember
	l.mu.Unlock()
	if !hosting {
		return nil
	}
	_, err := l.links.GetOrCreate(who, true, l.media.Bundle())
	return err
}

// onJoinCallRequest replaces any broadcast link to the requester with a
// fresh two-way link. call-accept goes out first so the requester drops its
// old link and attaches its own media to the incoming offer.
func (l *Lifecycle) onJoinCallRequest(env protocol.Envelope) error {
	var p protocol.JoinCallRequest
	if err := env.Decode(&p); err != nil {
		return err
	}
	who := p.RequesterID
	if who == "" {
		who = env.From
	}
	if who == l.self {
		return nil
	}

	l.mu.Lock()
	answer := l.state == StateCallMember && (l.role == domain.RoleHost || l.topology == TopologyMesh)
	l.mu.Unlock()
	if !answer {
		l.logger.Debug().Str("requester", string(who)).Msg("join request ignored")
		return nil
	}

	l.roster.Upsert(who, p.DisplayName, domain.RoleAudience)
	l.roster.SetCallMember(who, true)
	l.out.SendControl(who, protocol.TypeCallAccept, protocol.CallAccept{AccepterID: l.self})
	l.links.Close(who)
	_, err := l.links.GetOrCreate(who, true, l.media.Bundle())
	if err == nil {
		l.logger.Info().Str("requester", string(who)).Msg("join request accepted")
	}
	return err
}

func (l *Lifecycle) onCallAccept(env protocol.Envelope) error {
	var p protocol.CallAccept
	if err := env.Decode(&p); err != nil {
		return err
	}
	who := p.AccepterID
	if who == "" {
		who = env.From
	}

	l.mu.Lock()
	ok := l.role == domain.RoleAudience && (l.state == StateJoined || l.state == StateCallMember)
	if ok {
		l.accepted[who] = true
	}
	l.mu.Unlock()
	if !ok {
		return nil
	}
	l.roster.SetCallMember(who, true)
	l.links.Close(who)
	return nil
}

func (l *Lifecycle) onPeerLeft(env protocol.Envelope) error {
	var p protocol.PeerLeft
	if err := env.Decode(&p); err != nil {
		return err
	}
	who := p.ID
	if who == "" {
		who = env.From
	}
	l.links.Close(who)
	l.roster.Remove(who)

	l.mu.Lock()
	delete(l.accepted, who)
	lostHost := who == l.hostID
	if lostHost {
		l.hostID = ""
	}
	l.mu.Unlock()
	if lostHost {
		l.logger.Info().Str("host", string(who)).Msg("host left")
	}
	return nil
}

// onRelayError undoes a host claim the relay refused. The session returns
// to Unjoined so the participant can pick a role again.
func (l *Lifecycle) onRelayError(env protocol.Envelope) error {
	var p protocol.Error
	if err := env.Decode(&p); err != nil {
		return err
	}
	l.logger.Error().Str("error", p.Error).Msg("relay rejected request")
	if p.Error != protocol.ErrCodeHostExists {
		return nil
	}

	var host domain.ParticipantID
	for _, m := range l.roster.Snapshot() {
		if m.ID != l.self && m.Role == domain.RoleHost {
			host = m.ID
			break
		}
	}

	l.mu.Lock()
	if l.role != domain.RoleHost || l.state != StateCallMember {
		l.mu.Unlock()
		return nil
	}
	l.state = StateUnjoined
	l.role = domain.RoleNone
	l.hostID = host
	l.pendingJoin = false
	l.accepted = make(map[domain.ParticipantID]bool)
	l.mu.Unlock()

	l.links.CloseAll()
	l.media.Release()
	l.roster.SetCallMember(l.self, false)
	l.roster.SetPublishing(l.self, false)
	l.roster.SetMicEnabled(l.self, false)
	l.roster.SetRole(l.self, domain.RoleNone)
	l.logger.Warn().Str("host", string(host)).Msg("host claim rejected, back to role selection")

	l.reportError(fmt.Errorf("%w: stage already has host %q", domain.ErrHostExists, host))
	return nil
}
