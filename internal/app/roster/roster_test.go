package roster

import (
	"testing"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoster() *Roster {
	return New(domain.Participant{ID: "me", DisplayName: "Me", Role: domain.RoleAudience})
}

func ids(ps []domain.Participant) []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func TestSnapshotSortedAndSelf(t *testing.T) {
	r := newRoster()
	r.Upsert("zed", "Z", domain.RoleAudience)
	r.Upsert("amy", "A", domain.RoleHost)

	assert.Equal(t, []domain.ParticipantID{"amy", "me", "zed"}, ids(r.Snapshot()))
	assert.Equal(t, "Me", r.Self().DisplayName)
}

func TestUpsertKeepsKnownFields(t *testing.T) {
	r := newRoster()
	r.Upsert("h", "Host", domain.RoleHost)
	r.Upsert("h", "", domain.RoleNone)

	p, ok := r.Get("h")
	require.True(t, ok)
	assert.Equal(t, "Host", p.DisplayName)
	assert.Equal(t, domain.RoleHost, p.Role)
}

func TestFlagsOnlyApplyToKnownParticipants(t *testing.T) {
	r := newRoster()
	r.SetConnected("ghost", true)
	_, ok := r.Get("ghost")
	assert.False(t, ok)

	r.Upsert("a", "A", domain.RoleAudience)
	r.SetConnected("a", true)
	r.SetPublishing("a", true)
	r.SetMicEnabled("a", true)
	r.SetCallMember("a", true)

	p, _ := r.Get("a")
	assert.True(t, p.Connected)
	assert.True(t, p.IsPublishing)
	assert.True(t, p.MicEnabled)
	assert.True(t, p.IsCallMember)
}

func TestSyncPresenceKeepsFlagsAndDropsDeparted(t *testing.T) {
	r := newRoster()
	r.Upsert("a", "A", domain.RoleAudience)
	r.SetConnected("a", true)
	r.Upsert("b", "B", domain.RoleAudience)

	r.SyncPresence([]protocol.PresenceEntry{
		{ID: "a", DisplayName: "A2"},
		{ID: "c", DisplayName: "C", Role: domain.RoleHost},
		{ID: "me", DisplayName: "ignored"},
	})

	assert.Equal(t, []domain.ParticipantID{"a", "c", "me"}, ids(r.Snapshot()))
	a, _ := r.Get("a")
	assert.Equal(t, "A2", a.DisplayName)
	assert.True(t, a.Connected)
	assert.Equal(t, "Me", r.Self().DisplayName)
}

func TestRemoveNeverDropsSelf(t *testing.T) {
	r := newRoster()
	r.Remove("me")
	_, ok := r.Get("me")
	assert.True(t, ok)
}

func TestOnChangeFiresOnlyOnRealChange(t *testing.T) {
	r := newRoster()
	var calls int
	r.OnChange(func([]domain.Participant) { calls++ })

	r.Upsert("a", "A", domain.RoleAudience)
	r.Upsert("a", "A", domain.RoleAudience)
	r.SetConnected("a", true)
	r.SetConnected("a", true)
	r.Remove("a")
	r.Remove("a")

	assert.Equal(t, 3, calls)
}

func TestClearResetsSelf(t *testing.T) {
	r := newRoster()
	r.SetCallMember("me", true)
	r.SetPublishing("me", true)
	r.Upsert("a", "A", domain.RoleAudience)

	r.Clear()

	assert.Equal(t, []domain.ParticipantID{"me"}, ids(r.Snapshot()))
	assert.False(t, r.Self().IsCallMember)
	assert.False(t, r.Self().IsPublishing)
	assert.Equal(t, domain.RoleAudience, r.Self().Role)
}
