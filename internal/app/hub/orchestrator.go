package hub

import (
	"errors"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Limiter throttles join-call requests per participant.
type Limiter interface {
	Allow(id domain.ParticipantID) bool
}

type Orchestrator struct {
	Registry *Registry
	Stages   core.StageManager
	Policy   Policy
	Limiter  Limiter
}

func NewOrchestrator(limiter Limiter) *Orchestrator {
	return &Orchestrator{
		Registry: NewRegistry(),
		Stages:   NewStageManager(),
		Policy:   SimplePolicy{},
		Limiter:  limiter,
	}
}

// Route handles one envelope from sid. The sender id is always stamped by the relay.
func (o *Orchestrator) Route(sid domain.ParticipantID, env protocol.Envelope) {
	stageName, sess, ok := o.Registry.StageOf(sid)
	if !ok {
		return
	}
	env = env.WithFrom(sid)
	logger := log.With().Str("module", "app.orch").Str("sid", string(sid)).Str("type", string(env.Type)).Logger()

	switch env.Type {
	case protocol.TypeRoleAnnounce:
		st := o.Stages.GetOrCreate(stageName)
		if err := st.ClaimHost(sid); err != nil {
			logger.Warn().Err(err).Msg("host claim rejected")
			o.sendError(sid, err)
			return
		}
		sess.Update(func(p *domain.Participant) { p.Role = domain.RoleHost })
		o.forward(stageName, protocol.MustNew(protocol.TypeRoleAnnounce, sid, "", protocol.RoleAnnounce{HostID: sid}))
		o.broadcastPresence(stageName)
	case protocol.TypeAudienceAnnounce:
		var p protocol.AudienceAnnounce
		if err := env.Decode(&p); err != nil {
			logger.Warn().Err(err).Msg("bad payload")
			return
		}
		sess.Update(func(m *domain.Participant) {
			m.Role = domain.RoleAudience
			if domain.ValidateDisplayName(p.DisplayName) == nil {
				m.DisplayName = p.DisplayName
			}
		})
		o.forward(stageName, env)
		o.broadcastPresence(stageName)
	case protocol.TypeJoinCallRequest:
		if o.Limiter != nil && !o.Limiter.Allow(sid) {
			logger.Warn().Msg("join-call-request rate limited")
			o.sendError(sid, errors.New(protocol.ErrCodeRateLimited))
			return
		}
		o.forward(stageName, env)
	case protocol.TypeLeave:
		o.Leave(sid)
	case protocol.TypeWelcome, protocol.TypePresenceUpdate, protocol.TypePeerLeft, protocol.TypeError:
		logger.Warn().Msg("relay-only message from participant dropped")
	default:
		o.forward(stageName, env)
	}
}

// forward delivers env to its recipient, or to everyone else when it has none.
func (o *Orchestrator) forward(stageName domain.StageName, env protocol.Envelope) {
	st, ok := o.Stages.Get(stageName)
	if !ok {
		return
	}
	data, err := protocol.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Msg("encode envelope")
		return
	}
	if !env.Broadcast() {
		if err := st.SendTo(env.To, data); err != nil {
			log.Warn().Err(err).Str("module", "app.orch").Str("to", string(env.To)).Msg("send to member")
			if errors.Is(err, core.ErrBackpressure) {
				if m, ok := st.Member(env.To); ok {
					o.onBackpressure(st, env.To, m)
				}
			}
		}
		return
	}
	o.OnFrame(stageName, env.From, data)
}

// OnFrame fans data out to the stage and applies the backpressure policy.
func (o *Orchestrator) OnFrame(stageName domain.StageName, from domain.ParticipantID, data core.Frame) {
	st, ok := o.Stages.Get(stageName)
	if !ok {
		return
	}
	res := st.Broadcast(from, data)
	for _, slow := range res.Dropped {
		o.onBackpressure(st, slow.Meta().ID, slow)
	}
}

func (o *Orchestrator) onBackpressure(st core.StageService, sid domain.ParticipantID, m core.MemberSession) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(st, m) {
	case KickMember:
		log.Warn().Str("module", "app.orch").Str("sid", string(sid)).Msg("kicking slow member")
		o.KickBySID(sid)
	case MarkSlow, DropFrame, NoAction:
	}
}

func (o *Orchestrator) sendTo(sid domain.ParticipantID, env protocol.Envelope) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return
	}
	data, err := protocol.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Msg("encode envelope")
		return
	}
	_ = sess.Signal().TrySend(data)
}

func (o *Orchestrator) sendError(sid domain.ParticipantID, err error) {
	msg := err.Error()
	if errors.Is(err, domain.ErrHostExists) {
		msg = protocol.ErrCodeHostExists
	}
	o.sendTo(sid, protocol.MustNew(protocol.TypeError, "", sid, protocol.Error{Error: msg}))
}

func (o *Orchestrator) broadcastPresence(stageName domain.StageName) {
	st, ok := o.Stages.Get(stageName)
	if !ok {
		return
	}
	members := st.MembersSnapshot()
	entries := make([]protocol.PresenceEntry, 0, len(members))
	for _, m := range members {
		entries = append(entries, protocol.PresenceEntry{ID: m.ID, DisplayName: m.DisplayName, Role: m.Role})
	}
	env := protocol.MustNew(protocol.TypePresenceUpdate, "", "", protocol.PresenceUpdate(entries))
	data, err := protocol.Marshal(env)
	if err != nil {
		return
	}
	o.OnFrame(stageName, "", data)
}
