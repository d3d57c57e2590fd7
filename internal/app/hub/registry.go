// Package hub is the relay side: it tracks connected participants, groups
// them into stages and forwards envelopes between them.
package hub

import (
	"context"
	"sync"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Stage   domain.StageName
	Session core.MemberSession
	Cancel  context.CancelFunc
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.ParticipantID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.ParticipantID]*sessionEntry)}
}

func (r *Registry) Bind(
	sid domain.ParticipantID,
	stage domain.StageName,
	sess core.MemberSession,
	cancel context.CancelFunc,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Stage: stage, Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("stage", string(stage)).Msg("bound session")
}

func (r *Registry) GetSession(sid domain.ParticipantID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// Unbind forgets sid only if it is still bound to sess; a reconnect may have replaced it.
func (r *Registry) Unbind(sid domain.ParticipantID, sess core.MemberSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.Session != sess {
		return false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return true
}

func (r *Registry) StageOf(sid domain.ParticipantID) (domain.StageName, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.Stage == "" {
		return "", nil, false
	}
	return e.Stage, e.Session, true
}

func (r *Registry) LeaveStage(sid domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		e.Stage = ""
	}
}

type regSnap struct {
	SID     domain.ParticipantID
	Session core.MemberSession
}

func (r *Registry) MembersOfStage(name domain.StageName) []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]regSnap, 0, len(r.sessions))
	for sid, e := range r.sessions {
		if e.Stage == name {
			out = append(out, regSnap{SID: sid, Session: e.Session})
		}
	}
	return out
}

// Cancel stops the connection pumps of sid.
func (r *Registry) Cancel(sid domain.ParticipantID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
