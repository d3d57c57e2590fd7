// Package roster keeps the read-only view of who is in the session and who
// is publishing.
package roster

import (
	"sort"
	"sync"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/protocol"
)

type Roster struct {
	self domain.ParticipantID

	mu      sync.RWMutex
	members map[domain.ParticipantID]domain.Participant

	cbmu     sync.RWMutex
	onChange []func([]domain.Participant)
}

func New(self domain.Participant) *Roster {
	r := &Roster{
		self:    self.ID,
		members: make(map[domain.ParticipantID]domain.Participant),
	}
	r.members[self.ID] = self
	return r
}

func (r *Roster) OnChange(fn func([]domain.Participant)) {
	r.cbmu.Lock()
	r.onChange = append(r.onChange, fn)
	r.cbmu.Unlock()
}

func (r *Roster) notify() {
	r.cbmu.RLock()
	fns := append([]func([]domain.Participant){}, r.onChange...)
	r.cbmu.RUnlock()
	if len(fns) == 0 {
		return
	}
	snap := r.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

// Snapshot returns every participant ordered by id.
func (r *Roster) Snapshot() []domain.Participant {
	r.mu.RLock()
	out := make([]domain.Participant, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Roster) Get(id domain.ParticipantID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.members[id]
	return p, ok
}

func (r *Roster) Self() domain.Participant {
	p, _ := r.Get(r.self)
	return p
}

// update applies fn to the entry for id, creating it when create is set.
// Returns false when nothing changed.
func (r *Roster) update(id domain.ParticipantID, create bool, fn func(*domain.Participant)) bool {
	r.mu.Lock()
	p, ok := r.members[id]
	if !ok {
		if !create {
			r.mu.Unlock()
			return false
		}
		p = domain.Participant{ID: id}
	}
	before := p
	fn(&p)
	r.members[id] = p
	r.mu.Unlock()
	if ok && before == p {
		return false
	}
	r.notify()
	return true
}

// Upsert records a participant seen on the wire. An empty display name keeps the known one.
func (r *Roster) Upsert(id domain.ParticipantID, displayName string, role domain.Role) {
	r.update(id, true, func(p *domain.Participant) {
		if displayName != "" {
			p.DisplayName = displayName
		}
		if role != domain.RoleNone {
			p.Role = role
		}
	})
}

// Remove drops a remote participant. Self is never removed.
func (r *Roster) Remove(id domain.ParticipantID) {
	if id == r.self {
		return
	}
	r.mu.Lock()
	_, ok := r.members[id]
	delete(r.members, id)
	r.mu.Unlock()
	if ok {
		r.notify()
	}
}

// SyncPresence replaces the remote part of the roster with the relay's list,
// keeping per-peer flags of participants still present.
func (r *Roster) SyncPresence(entries []protocol.PresenceEntry) {
	r.mu.Lock()
	next := make(map[domain.ParticipantID]domain.Participant, len(entries)+1)
	next[r.self] = r.members[r.self]
	for _, e := range entries {
		if e.ID == r.self {
			continue
		}
		p, ok := r.members[e.ID]
		if !ok {
			p = domain.Participant{ID: e.ID}
		}
		p.DisplayName = e.DisplayName
		if e.Role != domain.RoleNone {
			p.Role = e.Role
		}
		next[e.ID] = p
	}
	r.members = next
	r.mu.Unlock()
	r.notify()
}

func (r *Roster) SetRole(id domain.ParticipantID, role domain.Role) {
	r.update(id, true, func(p *domain.Participant) { p.Role = role })
}

func (r *Roster) SetCallMember(id domain.ParticipantID, v bool) {
	r.update(id, true, func(p *domain.Participant) { p.IsCallMember = v })
}

func (r *Roster) SetPublishing(id domain.ParticipantID, v bool) {
	r.update(id, false, func(p *domain.Participant) { p.IsPublishing = v })
}

func (r *Roster) SetConnected(id domain.ParticipantID, v bool) {
	r.update(id, false, func(p *domain.Participant) { p.Connected = v })
}

func (r *Roster) SetMicEnabled(id domain.ParticipantID, v bool) {
	r.update(id, false, func(p *domain.Participant) { p.MicEnabled = v })
}

// Clear drops every remote participant and resets self flags.
func (r *Roster) Clear() {
	r.mu.Lock()
	self := r.members[r.self]
	self.IsCallMember = false
	self.IsPublishing = false
	self.Connected = false
	self.MicEnabled = false
	r.members = map[domain.ParticipantID]domain.Participant{r.self: self}
	r.mu.Unlock()
	r.notify()
}
