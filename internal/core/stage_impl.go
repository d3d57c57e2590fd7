package core

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrNoSuchMember = errors.New("no such member")

// stageImpl is a threadsafe in-memory stage.
// It never closes adapter-owned resources.
type stageImpl struct {
	stage   *domain.Stage
	mu      sync.RWMutex
	byID    map[domain.ParticipantID]MemberSession
	order   []domain.ParticipantID
	host    domain.ParticipantID
	hasHost bool
}

func NewStageService(stage *domain.Stage) StageService {
	return &stageImpl{
		stage: stage,
		byID:  make(map[domain.ParticipantID]MemberSession),
	}
}

func (s *stageImpl) Stage() *domain.Stage { return s.stage }

func (s *stageImpl) MemberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *stageImpl) Member(id domain.ParticipantID) (MemberSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ms, ok := s.byID[id]
	return ms, ok
}

func (s *stageImpl) AddMember(id domain.ParticipantID, ms MemberSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		s.order = append(s.order, id)
	}
	s.byID[id] = ms
	log.Info().Str("module", "core.stage").Str("stage", string(s.stage.Name)).Str("sid", string(id)).Msg("member added")
}

func (s *stageImpl) RemoveMember(id domain.ParticipantID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return
	}
	delete(s.byID, id)
	s.order = slices.DeleteFunc(s.order, func(x domain.ParticipantID) bool { return x == id })
	if s.hasHost && s.host == id {
		s.host, s.hasHost = "", false
	}
	log.Info().Str("module", "core.stage").Str("stage", string(s.stage.Name)).Str("sid", string(id)).Msg("member removed")
}

func (s *stageImpl) Broadcast(from domain.ParticipantID, data Frame) PublishResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := PublishResult{}
	for id, m := range s.byID {
		if id == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.stage").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (s *stageImpl) SendTo(to domain.ParticipantID, data Frame) error {
	s.mu.RLock()
	m, ok := s.byID[to]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchMember, to)
	}
	return m.Signal().TrySend(data)
}

func (s *stageImpl) MembersSnapshot() []MemberDTO {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MemberDTO, 0, len(s.order))
	for _, id := range s.order {
		meta := s.byID[id].Meta()
		out = append(out, MemberDTO{ID: meta.ID, DisplayName: meta.DisplayName, Role: meta.Role})
	}
	return out
}

func (s *stageImpl) Host() (domain.ParticipantID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.host, s.hasHost
}

func (s *stageImpl) ClaimHost(id domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasHost && s.host != id {
		return domain.ErrHostExists
	}
	s.host, s.hasHost = id, true
	return nil
}
