package core

import (
	"sync"

	"github.com/dkeye/Stage/internal/domain"
)

// MemberSession binds a relay participant and its transport endpoint.
// This is what a stage stores and fans out to.
type MemberSession interface {
	Meta() domain.Participant
	Update(func(*domain.Participant))
	Signal() SignalConnection
}

// memberSession implements MemberSession by pairing meta + transport.
type memberSession struct {
	mu   sync.RWMutex
	meta domain.Participant
	conn SignalConnection
}

func NewMemberSession(meta domain.Participant, conn SignalConnection) MemberSession {
	return &memberSession{meta: meta, conn: conn}
}

func (m *memberSession) Meta() domain.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta
}

func (m *memberSession) Update(fn func(*domain.Participant)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.meta)
}

func (m *memberSession) Signal() SignalConnection { return m.conn }
