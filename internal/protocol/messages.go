// Package protocol defines the envelopes exchanged with the signaling relay.
package protocol

import "github.com/dkeye/Stage/internal/domain"

type MessageType string

const (
	TypeJoinCallRequest  MessageType = "join-call-request"
	TypeRoleAnnounce     MessageType = "role-announce"
	TypeAudienceAnnounce MessageType = "audience-announce"
	TypeSignal           MessageType = "signal"
	TypePresenceUpdate   MessageType = "presence-update"
	TypeMicStateChanged  MessageType = "mic-state-changed"
	TypeCallAccept       MessageType = "call-accept"
	TypePeerLeft         MessageType = "peer-left"
	TypeLeave            MessageType = "leave"
	TypeWelcome          MessageType = "welcome"
	TypePing             MessageType = "ping"
	TypePong             MessageType = "pong"
	TypeError            MessageType = "error"
)

var knownTypes = map[MessageType]struct{}{
	TypeJoinCallRequest:  {},
	TypeRoleAnnounce:     {},
	TypeAudienceAnnounce: {},
	TypeSignal:           {},
	TypePresenceUpdate:   {},
	TypeMicStateChanged:  {},
	TypeCallAccept:       {},
	TypePeerLeft:         {},
	TypeLeave:            {},
	TypeWelcome:          {},
	TypePing:             {},
	TypePong:             {},
	TypeError:            {},
}

func (t MessageType) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// JoinCallRequest asks the host (or every call member in a mesh) to link with the requester.
type JoinCallRequest struct {
	RequesterID domain.ParticipantID `json:"requesterId"`
	DisplayName string               `json:"displayName"`
}

type RoleAnnounce struct {
	HostID domain.ParticipantID `json:"hostId"`
}

type AudienceAnnounce struct {
	RequesterID domain.ParticipantID `json:"requesterId"`
	DisplayName string               `json:"displayName"`
}

type PresenceEntry struct {
	ID          domain.ParticipantID `json:"id"`
	DisplayName string               `json:"displayName"`
	Role        domain.Role          `json:"role,omitempty"`
}

// PresenceUpdate is the stage roster in join order, sent as a bare JSON array.
type PresenceUpdate []PresenceEntry

type MicStateChanged struct {
	ID      domain.ParticipantID `json:"id"`
	Enabled bool                 `json:"enabled"`
}

// CallAccept precedes the fresh offer a call member sends to an accepted requester.
type CallAccept struct {
	AccepterID domain.ParticipantID `json:"accepterId"`
}

type PeerLeft struct {
	ID domain.ParticipantID `json:"id"`
}

type Welcome struct {
	ID    domain.ParticipantID `json:"id"`
	Stage domain.StageName     `json:"stage"`
}

type Error struct {
	Error string `json:"error"`
}

// Error codes the relay sends.
const (
	ErrCodeHostExists  = "host_exists"
	ErrCodeRateLimited = "rate_limited"
	ErrCodeBadPayload  = "bad_payload"
)
