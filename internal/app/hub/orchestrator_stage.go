package hub

import (
	"context"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Join binds a fresh connection to a stage. A previous connection with the
// same id is kicked first. The newcomer learns its id, then the current host.
func (o *Orchestrator) Join(sid domain.ParticipantID, stageName domain.StageName, sess core.MemberSession, cancel context.CancelFunc) {
	if old, ok := o.Registry.GetSession(sid); ok && old != sess {
		o.KickBySID(sid)
		log.Info().Str("module", "app.orch").Str("sid", string(sid)).Msg("replaced previous connection")
	}
	if stageName == "" {
		stageName = domain.DefaultStage
	}
	st := o.Stages.GetOrCreate(stageName)
	o.Registry.Bind(sid, stageName, sess, cancel)
	st.AddMember(sid, sess)
	log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("stage", string(stageName)).Msg("added to stage")

	o.sendTo(sid, protocol.MustNew(protocol.TypeWelcome, "", sid, protocol.Welcome{ID: sid, Stage: stageName}))
	if host, ok := st.Host(); ok {
		o.sendTo(sid, protocol.MustNew(protocol.TypeRoleAnnounce, host, sid, protocol.RoleAnnounce{HostID: host}))
	}
	o.broadcastPresence(stageName)
}

// Leave takes sid off its stage and tells the others. The connection stays open.
func (o *Orchestrator) Leave(sid domain.ParticipantID) {
	stageName, _, ok := o.Registry.StageOf(sid)
	if !ok {
		return
	}
	st := o.Stages.GetOrCreate(stageName)
	st.RemoveMember(sid)
	o.Registry.LeaveStage(sid)
	log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("stage", string(stageName)).Msg("left stage")

	if st.MemberCount() == 0 {
		o.Stages.StopStage(stageName)
		return
	}
	left, err := protocol.Marshal(protocol.MustNew(protocol.TypePeerLeft, "", "", protocol.PeerLeft{ID: sid}))
	if err == nil {
		o.OnFrame(stageName, sid, left)
	}
	o.broadcastPresence(stageName)
}

// Disconnect runs when the pumps of sess stop.
func (o *Orchestrator) Disconnect(sid domain.ParticipantID, sess core.MemberSession) {
	if cur, ok := o.Registry.GetSession(sid); !ok || cur != sess {
		return
	}
	o.Leave(sid)
	o.Registry.Unbind(sid, sess)
}

func (o *Orchestrator) KickBySID(sid domain.ParticipantID) {
	sess, ok := o.Registry.GetSession(sid)
	o.Leave(sid)
	o.Registry.Cancel(sid)
	if ok {
		o.Registry.Unbind(sid, sess)
		sess.Signal().Close()
	}
}
