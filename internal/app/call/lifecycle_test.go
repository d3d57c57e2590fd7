package call

import (
	"context"
	"errors"
	"testing"

	"github.com/dkeye/Stage/internal/app/links"
	"github.com/dkeye/Stage/internal/app/media"
	"github.com/dkeye/Stage/internal/app/router"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/protocol"
	"github.com/dkeye/Stage/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	lc        *Lifecycle
	router    *router.Router
	reg       *links.Registry
	transport *testutil.Transport
	conn      *testutil.Connector
	source    *testutil.MediaSource
	renderer  *testutil.Renderer
}

func newHarness(t *testing.T, id domain.ParticipantID, topo Topology) *harness {
	t.Helper()
	h := &harness{
		transport: &testutil.Transport{},
		conn:      &testutil.Connector{},
		source:    &testutil.MediaSource{},
		renderer:  &testutil.Renderer{},
	}
	h.router = router.New(id, h.transport)
	h.reg = links.NewRegistry(id, h.conn, h.router, links.Options{})
	h.lc = New(domain.Participant{ID: id, DisplayName: string(id)}, topo, Deps{
		Media:    media.NewController(h.source, domain.CaptureBoth),
		Links:    h.reg,
		Out:      h.router,
		Renderer: h.renderer,
	})
	h.router.Links = h.reg
	h.router.Control = h.lc
	return h
}

func (h *harness) deliver(env protocol.Envelope) { h.router.OnInbound(env) }

func (h *harness) state(t *testing.T, remote domain.ParticipantID) domain.LinkState {
	t.Helper()
	l, ok := h.reg.Get(remote)
	require.True(t, ok, "no link to %s", remote)
	return l.State()
}

func TestSelectHostAnnounces(t *testing.T) {
	h := newHarness(t, "host", TopologyHub)

	require.NoError(t, h.lc.SelectHost(context.Background()))

	assert.Equal(t, StateCallMember, h.lc.State())
	assert.Equal(t, domain.RoleHost, h.lc.Role())
	self := h.lc.Roster().Self()
	assert.True(t, self.IsCallMember)
	assert.True(t, self.IsPublishing)
	assert.True(t, self.MicEnabled)

	ann := h.transport.OfType(protocol.TypeRoleAnnounce)
	require.Len(t, ann, 1)
	assert.True(t, ann[0].Broadcast())
	var p protocol.RoleAnnounce
	require.NoError(t, ann[0].Decode(&p))
	assert.Equal(t, domain.ParticipantID("host"), p.HostID)
}

func TestSelectHostWithoutMediaRollsBack(t *testing.T) {
	h := newHarness(t, "host", TopologyHub)
	h.source.Err = errors.New("permission denied")

	err := h.lc.SelectHost(context.Background())
	require.ErrorIs(t, err, domain.ErrMediaUnavailable)
	assert.Equal(t, StateUnjoined, h.lc.State())
	assert.Equal(t, domain.RoleNone, h.lc.Role())
	assert.Empty(t, h.transport.Sent())

	h.source.Err = nil
	require.NoError(t, h.lc.SelectHost(context.Background()))
}

func TestRoleSelectionOnlyOnce(t *testing.T) {
	h := newHarness(t, "a", TopologyHub)
	require.NoError(t, h.lc.SelectAudience())
	require.ErrorIs(t, h.lc.SelectAudience(), domain.ErrInvalidState)
	require.ErrorIs(t, h.lc.SelectHost(context.Background()), domain.ErrInvalidState)
}

func TestHostOpensBroadcastLinkOnAudienceAnnounce(t *testing.T) {
	h := newHarness(t, "host", TopologyHub)
	require.NoError(t, h.lc.SelectHost(context.Background()))

	h.deliver(testutil.Control(protocol.TypeAudienceAnnounce, "a", "", protocol.AudienceAnnounce{RequesterID: "a", DisplayName: "Ann"}))

	assert.Equal(t, domain.LinkOfferSent, h.state(t, "a"))
	l, _ := h.reg.Get("a")
	assert.True(t, l.Initiator())
	assert.True(t, l.Publishing())
	p, ok := h.lc.Roster().Get("a")
	require.True(t, ok)
	assert.Equal(t, "Ann", p.DisplayName)

	// re-announce keeps the live link
	h.deliver(testutil.Control(protocol.TypeAudienceAnnounce, "a", "", protocol.AudienceAnnounce{RequesterID: "a"}))
	assert.Len(t, h.conn.Links(), 1)
}

// The host answers a join request with call-accept and a fresh two-way link.
func TestHostAcceptsJoinRequest(t *testing.T) {
	h := newHarness(t, "host", TopologyHub)
	require.NoError(t, h.lc.SelectHost(context.Background()))
	bundle := h.source.Acquired()[0]

	h.deliver(testutil.Control(protocol.TypeJoinCallRequest, "a", "host", protocol.JoinCallRequest{RequesterID: "a", DisplayName: "Ann"}))

	accepts := h.transport.OfType(protocol.TypeCallAccept)
	require.Len(t, accepts, 1)
	assert.Equal(t, domain.ParticipantID("a"), accepts[0].To)

	assert.Equal(t, domain.LinkOfferSent, h.state(t, "a"))
	fake := h.conn.Last()
	assert.Same(t, bundle, fake.Media)

	fake.EmitSignal(domain.KindOffer, `{"sdp":"o"}`)
	offers := h.transport.OfType(protocol.TypeSignal)
	require.Len(t, offers, 1)
	assert.Equal(t, domain.KindOffer, offers[0].Kind())

	h.deliver(protocol.NewSignal("a", "host", domain.KindAnswer, []byte(`{"sdp":"a"}`)))
	fake.EmitConnect()
	assert.Equal(t, domain.LinkConnected, h.state(t, "a"))

	p, _ := h.lc.Roster().Get("a")
	assert.True(t, p.IsCallMember)
	assert.True(t, p.Connected)
}

func TestJoinRequestReplacesBroadcastLink(t *testing.T) {
	h := newHarness(t, "host", TopologyHub)
	require.NoError(t, h.lc.SelectHost(context.Background()))
	h.deliver(testutil.Control(protocol.TypeAudienceAnnounce, "a", "", protocol.AudienceAnnounce{RequesterID: "a"}))
	old, _ := h.reg.Get("a")

	h.deliver(testutil.Control(protocol.TypeJoinCallRequest, "a", "host", protocol.JoinCallRequest{RequesterID: "a"}))

	fresh, _ := h.reg.Get("a")
	assert.NotSame(t, old, fresh)
	assert.Equal(t, domain.LinkClosed, old.State())
	assert.Equal(t, 1, h.reg.Active())
	assert.Equal(t, 1, h.conn.Links()[0].Closes())
}

func TestAudienceIgnoresJoinRequestInHub(t *testing.T) {
	h := newHarness(t, "b", TopologyHub)
	require.NoError(t, h.lc.SelectAudience())

	h.deliver(testutil.Control(protocol.TypeJoinCallRequest, "a", "", protocol.JoinCallRequest{RequesterID: "a"}))

	assert.Empty(t, h.conn.Links())
	assert.Empty(t, h.transport.OfType(protocol.TypeCallAccept))
}

// An audience member that asks before any host is known sends the request once the host announces.
func TestJoinRequestQueuedUntilHostAnnounces(t *testing.T) {
	h := newHarness(t, "a", TopologyHub)
	require.NoError(t, h.lc.SelectAudience())

	require.NoError(t, h.lc.RequestJoinCall(context.Background()))
	assert.Empty(t, h.transport.OfType(protocol.TypeJoinCallRequest))
	assert.Empty(t, h.conn.Links())
	assert.Equal(t, StateJoined, h.lc.State())

	h.deliver(testutil.Control(protocol.TypeRoleAnnounce, "host", "", protocol.RoleAnnounce{HostID: "host"}))

	reqs := h.transport.OfType(protocol.TypeJoinCallRequest)
	require.Len(t, reqs, 1)
	assert.Equal(t, domain.ParticipantID("host"), reqs[0].To)
	assert.Empty(t, h.conn.Links())
	assert.Equal(t, domain.ParticipantID("host"), h.lc.HostID())

	// the audience re-announces itself to the new host
	assert.Len(t, h.transport.OfType(protocol.TypeAudienceAnnounce), 2)
}

func TestRequestJoinCallNeedsMedia(t *testing.T) {
	h := newHarness(t, "a", TopologyHub)
	require.ErrorIs(t, h.lc.RequestJoinCall(context.Background()), domain.ErrInvalidState)

	require.NoError(t, h.lc.SelectAudience())
	h.source.Err = errors.New("no camera")
	require.ErrorIs(t, h.lc.RequestJoinCall(context.Background()), domain.ErrMediaUnavailable)
	assert.Equal(t, StateJoined, h.lc.State())
}

func TestAudiencePromotedByPublishingLink(t *testing.T) {
	h := newHarness(t, "a", TopologyHub)
	h.deliver(testutil.Control(protocol.TypeRoleAnnounce, "host", "", protocol.RoleAnnounce{HostID: "host"}))
	require.NoError(t, h.lc.SelectAudience())

	// broadcast link from the host is receive-only
	h.deliver(protocol.NewSignal("host", "a", domain.KindOffer, []byte(`{"sdp":"b"}`)))
	broadcast, _ := h.reg.Get("host")
	assert.False(t, broadcast.Publishing())
	assert.Equal(t, domain.LinkAwaitingAnswer, broadcast.State())
	assert.Equal(t, StateJoined, h.lc.State())

	require.NoError(t, h.lc.RequestJoinCall(context.Background()))
	h.deliver(testutil.Control(protocol.TypeCallAccept, "host", "a", protocol.CallAccept{AccepterID: "host"}))
	assert.Equal(t, domain.LinkClosed, broadcast.State())

	h.deliver(protocol.NewSignal("host", "a", domain.KindOffer, []byte(`{"sdp":"c"}`)))
	call, _ := h.reg.Get("host")
	assert.NotSame(t, broadcast, call)
	assert.True(t, call.Publishing())
	assert.Same(t, h.source.Acquired()[0], h.conn.Last().Media)

	assert.Equal(t, StateCallMember, h.lc.State())
	assert.True(t, h.lc.Roster().Self().IsCallMember)
	assert.True(t, h.lc.Roster().Self().IsPublishing)
}

func TestOfferFromStrangerRejected(t *testing.T) {
	h := newHarness(t, "a", TopologyHub)
	require.NoError(t, h.lc.SelectAudience())

	h.deliver(protocol.NewSignal("b", "a", domain.KindOffer, []byte(`{}`)))
	assert.Empty(t, h.conn.Links())
}

// Leaving mid-handshake closes every link and ignores late signals.
func TestLeaveDuringHandshake(t *testing.T) {
	h := newHarness(t, "a", TopologyHub)
	h.deliver(testutil.Control(protocol.TypeRoleAnnounce, "host", "", protocol.RoleAnnounce{HostID: "host"}))
	require.NoError(t, h.lc.SelectAudience())
	h.deliver(protocol.NewSignal("host", "a", domain.KindOffer, []byte(`{}`)))
	require.Equal(t, domain.LinkAwaitingAnswer, h.state(t, "host"))

	require.NoError(t, h.lc.Leave())
	assert.Equal(t, domain.LinkClosed, h.state(t, "host"))
	assert.Equal(t, StateLeft, h.lc.State())
	require.Len(t, h.transport.OfType(protocol.TypeLeave), 1)

	fake := h.conn.Last()
	h.deliver(protocol.NewSignal("host", "a", domain.KindCandidate, []byte(`{"c":1}`)))
	fake.EmitSignal(domain.KindAnswer, `{}`)
	assert.Len(t, fake.Fed(), 1)
	assert.Len(t, h.conn.Links(), 1)
	assert.Empty(t, h.transport.OfType(protocol.TypeSignal))

	require.NoError(t, h.lc.Leave())
	assert.Len(t, h.transport.OfType(protocol.TypeLeave), 1)
}

func TestLeaveReleasesMedia(t *testing.T) {
	h := newHarness(t, "host", TopologyHub)
	require.NoError(t, h.lc.SelectHost(context.Background()))
	bundle := h.source.Acquired()[0]

	require.NoError(t, h.lc.Leave())
	assert.True(t, bundle.Released())
	for _, tr := range bundle.Tracks() {
		assert.Equal(t, 1, tr.(*testutil.Track).Stops())
	}
	assert.False(t, h.lc.SetAudioEnabled(false))
	assert.False(t, h.lc.Roster().Self().IsCallMember)
	assert.ErrorIs(t, h.lc.SelectHost(context.Background()), domain.ErrInvalidState)
}

func TestLeaveBeforeJoining(t *testing.T) {
	h := newHarness(t, "a", TopologyHub)
	assert.ErrorIs(t, h.lc.Leave(), domain.ErrInvalidState)
}

// Muting and unmuting flips the shared track without touching links.
func TestMuteToggleRestoresAndKeepsLinks(t *testing.T) {
	h := newHarness(t, "host", TopologyHub)
	require.NoError(t, h.lc.SelectHost(context.Background()))
	h.deliver(testutil.Control(protocol.TypeAudienceAnnounce, "a", "", protocol.AudienceAnnounce{RequesterID: "a"}))
	h.deliver(testutil.Control(protocol.TypeAudienceAnnounce, "b", "", protocol.AudienceAnnounce{RequesterID: "b"}))
	bundle := h.source.Acquired()[0]

	require.True(t, h.lc.SetAudioEnabled(false))
	assert.False(t, bundle.Audio().Enabled())
	assert.True(t, bundle.AudioMuted())
	require.True(t, h.lc.SetAudioEnabled(true))
	assert.True(t, bundle.Audio().Enabled())
	assert.False(t, bundle.AudioMuted())

	assert.Len(t, h.conn.Links(), 2)
	assert.Equal(t, 2, h.reg.Active())
	for _, f := range h.conn.Links() {
		assert.Same(t, bundle, f.Media)
		assert.Zero(t, f.Closes())
	}

	mics := h.transport.OfType(protocol.TypeMicStateChanged)
	require.Len(t, mics, 2)
	var last protocol.MicStateChanged
	require.NoError(t, mics[1].Decode(&last))
	assert.True(t, last.Enabled)

	require.True(t, h.lc.SetVideoEnabled(false))
	assert.True(t, bundle.VideoMuted())
}

func TestRemoteStreamRendered(t *testing.T) {
	h := newHarness(t, "a", TopologyHub)
	h.deliver(testutil.Control(protocol.TypeRoleAnnounce, "host", "", protocol.RoleAnnounce{HostID: "host"}))
	require.NoError(t, h.lc.SelectAudience())
	h.deliver(protocol.NewSignal("host", "a", domain.KindOffer, []byte(`{}`)))

	h.conn.Last().EmitStream(testutil.Stream{StreamID: "cam", MediaKind: domain.MediaVideo})

	att := h.renderer.Attached()
	require.Len(t, att, 1)
	assert.Equal(t, "remote-host", att[0].Surface)
	assert.Equal(t, domain.LinkConnected, h.state(t, "host"))
	p, _ := h.lc.Roster().Get("host")
	assert.True(t, p.IsPublishing)
	assert.True(t, p.Connected)
}

func TestPeerLeftClosesLinkAndForgetsHost(t *testing.T) {
	h := newHarness(t, "a", TopologyHub)
	h.deliver(testutil.Control(protocol.TypeRoleAnnounce, "host", "", protocol.RoleAnnounce{HostID: "host"}))
	require.NoError(t, h.lc.SelectAudience())
	h.deliver(protocol.NewSignal("host", "a", domain.KindOffer, []byte(`{}`)))

	h.deliver(testutil.Control(protocol.TypePeerLeft, "", "", protocol.PeerLeft{ID: "host"}))

	assert.Equal(t, domain.LinkClosed, h.state(t, "host"))
	assert.Empty(t, h.lc.HostID())
	_, ok := h.lc.Roster().Get("host")
	assert.False(t, ok)
	assert.Equal(t, StateJoined, h.lc.State())
}

func TestLinkFailureOnlyMarksPeerDisconnected(t *testing.T) {
	h := newHarness(t, "host", TopologyHub)
	require.NoError(t, h.lc.SelectHost(context.Background()))
	h.deliver(testutil.Control(protocol.TypeAudienceAnnounce, "a", "", protocol.AudienceAnnounce{RequesterID: "a"}))
	h.deliver(testutil.Control(protocol.TypeAudienceAnnounce, "b", "", protocol.AudienceAnnounce{RequesterID: "b"}))
	h.conn.Links()[0].EmitConnect()
	h.conn.Links()[1].EmitConnect()

	h.conn.Links()[0].EmitFailure(nil)

	a, _ := h.lc.Roster().Get("a")
	b, _ := h.lc.Roster().Get("b")
	assert.False(t, a.Connected)
	assert.True(t, b.Connected)
	assert.Equal(t, StateCallMember, h.lc.State())
}

func TestPresenceAndMicUpdates(t *testing.T) {
	h := newHarness(t, "a", TopologyHub)
	require.NoError(t, h.lc.SelectAudience())

	h.deliver(testutil.Control(protocol.TypePresenceUpdate, "", "", protocol.PresenceUpdate{
		{ID: "host", DisplayName: "Hal", Role: domain.RoleHost},
		{ID: "a", DisplayName: "a"},
	}))
	h.deliver(testutil.Control(protocol.TypeMicStateChanged, "host", "", protocol.MicStateChanged{ID: "host", Enabled: true}))

	p, ok := h.lc.Roster().Get("host")
	require.True(t, ok)
	assert.Equal(t, "Hal", p.DisplayName)
	assert.True(t, p.MicEnabled)
}

func TestMeshMembersAnswerJoinRequests(t *testing.T) {
	h := newHarness(t, "b", TopologyMesh)
	h.deliver(testutil.Control(protocol.TypeRoleAnnounce, "host", "", protocol.RoleAnnounce{HostID: "host"}))
	require.NoError(t, h.lc.SelectAudience())
	require.NoError(t, h.lc.RequestJoinCall(context.Background()))

	reqs := h.transport.OfType(protocol.TypeJoinCallRequest)
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Broadcast())

	h.deliver(testutil.Control(protocol.TypeCallAccept, "host", "b", protocol.CallAccept{AccepterID: "host"}))
	h.deliver(protocol.NewSignal("host", "b", domain.KindOffer, []byte(`{}`)))
	require.Equal(t, StateCallMember, h.lc.State())

	// a later requester gets a link from b as well
	h.deliver(testutil.Control(protocol.TypeJoinCallRequest, "c", "", protocol.JoinCallRequest{RequesterID: "c"}))
	assert.Equal(t, domain.LinkOfferSent, h.state(t, "c"))
	l, _ := h.reg.Get("c")
	assert.True(t, l.Publishing())
	assert.Len(t, h.transport.OfType(protocol.TypeCallAccept), 1)
}

func TestParseTopology(t *testing.T) {
	tp, err := ParseTopology("")
	require.NoError(t, err)
	assert.Equal(t, TopologyHub, tp)
	tp, err = ParseTopology("MESH")
	require.NoError(t, err)
	assert.Equal(t, TopologyMesh, tp)
	_, err = ParseTopology("star")
	assert.Error(t, err)
}

func TestRejectedHostClaimRollsBack(t *testing.T) {
	h := newHarness(t, "second", TopologyHub)
	var reported []error
	h.lc.OnError(func(err error) { reported = append(reported, err) })

	// the relay tells a newcomer about the current host before anything else
	h.deliver(testutil.Control(protocol.TypeRoleAnnounce, "first", "second", protocol.RoleAnnounce{HostID: "first"}))
	require.NoError(t, h.lc.SelectHost(context.Background()))
	h.deliver(testutil.Control(protocol.TypeAudienceAnnounce, "a", "", protocol.AudienceAnnounce{RequesterID: "a"}))
	require.Equal(t, 1, h.reg.Active())

	h.deliver(testutil.Control(protocol.TypeError, "", "second", protocol.Error{Error: protocol.ErrCodeHostExists}))

	assert.Equal(t, StateUnjoined, h.lc.State())
	assert.Equal(t, domain.RoleNone, h.lc.Role())
	assert.Equal(t, domain.ParticipantID("first"), h.lc.HostID())
	assert.Equal(t, 0, h.reg.Active())
	acquired := h.source.Acquired()
	require.Len(t, acquired, 1)
	assert.True(t, acquired[0].Released())
	self := h.lc.Roster().Self()
	assert.False(t, self.IsCallMember)
	assert.False(t, self.IsPublishing)
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], domain.ErrHostExists)

	// no longer hosting: announcements open nothing
	h.deliver(testutil.Control(protocol.TypeAudienceAnnounce, "b", "", protocol.AudienceAnnounce{RequesterID: "b"}))
	assert.Equal(t, 0, h.reg.Active())

	// the participant may pick a role again
	require.NoError(t, h.lc.SelectAudience())
	ann := h.transport.OfType(protocol.TypeAudienceAnnounce)
	require.NotEmpty(t, ann)
	assert.Equal(t, domain.ParticipantID("first"), ann[len(ann)-1].To)
}

func TestOtherRelayErrorsKeepHostRole(t *testing.T) {
	h := newHarness(t, "host", TopologyHub)
	require.NoError(t, h.lc.SelectHost(context.Background()))

	h.deliver(testutil.Control(protocol.TypeError, "", "host", protocol.Error{Error: protocol.ErrCodeRateLimited}))

	assert.Equal(t, StateCallMember, h.lc.State())
	assert.Equal(t, domain.RoleHost, h.lc.Role())
	assert.NotNil(t, h.lc.media.Bundle())
}

func TestLeaveBeforeCaptureReleasesLateBundle(t *testing.T) {
	h := newHarness(t, "a", TopologyHub)
	require.NoError(t, h.lc.SelectAudience())
	h.lc.beforeCapture = func() { require.NoError(t, h.lc.Leave()) }

	err := h.lc.RequestJoinCall(context.Background())
	require.ErrorIs(t, err, domain.ErrInvalidState)

	acquired := h.source.Acquired()
	require.Len(t, acquired, 1)
	assert.True(t, acquired[0].Released())
	assert.Nil(t, h.lc.media.Bundle())
	assert.Empty(t, h.transport.OfType(protocol.TypeJoinCallRequest))
}
