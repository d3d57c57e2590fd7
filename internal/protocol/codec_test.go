package protocol

import (
	"testing"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlEnvelopeWireShape(t *testing.T) {
	env := MustNew(TypeJoinCallRequest, "aud-1", "host-1", JoinCallRequest{RequesterID: "aud-1", DisplayName: "ann"})

	b, err := Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "join-call-request",
		"from": "aud-1",
		"to": "host-1",
		"payload": {"requesterId": "aud-1", "displayName": "ann"}
	}`, string(b))

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, domain.KindControl, got.Kind())

	var p JoinCallRequest
	require.NoError(t, got.Decode(&p))
	assert.Equal(t, domain.ParticipantID("aud-1"), p.RequesterID)
	assert.Equal(t, "ann", p.DisplayName)
}

func TestSignalEnvelopeKeepsDataOpaque(t *testing.T) {
	data := []byte(`{"type":"offer","sdp":"v=0\r\n"}`)
	env := NewSignal("h", "a", domain.KindOffer, data)

	b, err := Marshal(env)
	require.NoError(t, err)

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, domain.KindOffer, got.Kind())
	assert.JSONEq(t, string(data), string(got.Payload))
	assert.Equal(t, domain.ParticipantID("a"), got.To)
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"unknown type":      `{"type":"dance"}`,
		"signal without to": `{"type":"signal","kind":"offer","payload":{}}`,
		"signal bad kind":   `{"type":"signal","to":"x","kind":"control","payload":{}}`,
		"signal no data":    `{"type":"signal","to":"x","kind":"answer"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal([]byte(raw))
			require.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}

func TestPresenceUpdateKeepsOrder(t *testing.T) {
	in := PresenceUpdate{
		{ID: "z", DisplayName: "zed", Role: domain.RoleHost},
		{ID: "a", DisplayName: "ann", Role: domain.RoleAudience},
	}
	b, err := Marshal(MustNew(TypePresenceUpdate, "", "", in))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"payload":[{"id":"z"`)

	env, err := Unmarshal(b)
	require.NoError(t, err)
	var out PresenceUpdate
	require.NoError(t, env.Decode(&out))
	assert.Equal(t, in, out)
}

func TestDecodeWithoutPayload(t *testing.T) {
	env := MustNew(TypeLeave, "a", "", nil)
	require.True(t, env.Broadcast())
	var p PeerLeft
	require.ErrorIs(t, env.Decode(&p), ErrMalformedEnvelope)
}

func TestWithFromCopies(t *testing.T) {
	env := MustNew(TypePing, "a", "", nil)
	stamped := env.WithFrom("b")
	assert.Equal(t, domain.ParticipantID("a"), env.From)
	assert.Equal(t, domain.ParticipantID("b"), stamped.From)
}
