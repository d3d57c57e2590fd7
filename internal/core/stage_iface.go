package core

import "github.com/dkeye/Stage/internal/domain"

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID          domain.ParticipantID `json:"id"`
	DisplayName string               `json:"displayName"`
	Role        domain.Role          `json:"role"`
}

// StageService is the relay-facing API of one stage.
// It owns the membership set but never touches transport resources.
type StageService interface {
	Stage() *domain.Stage
	MemberCount() int
	// MembersSnapshot lists members in join order.
	MembersSnapshot() []MemberDTO
	Member(id domain.ParticipantID) (MemberSession, bool)

	AddMember(id domain.ParticipantID, ms MemberSession)
	RemoveMember(id domain.ParticipantID)
	Broadcast(from domain.ParticipantID, data Frame) PublishResult
	SendTo(to domain.ParticipantID, data Frame) error

	Host() (domain.ParticipantID, bool)
	// ClaimHost fails with domain.ErrHostExists when another member hosts.
	ClaimHost(id domain.ParticipantID) error
}

type StageInfo struct {
	Name        domain.StageName `json:"name"`
	MemberCount int              `json:"client_count"`
	HasHost     bool             `json:"has_host"`
}

type StageManager interface {
	GetOrCreate(name domain.StageName) StageService
	Get(name domain.StageName) (StageService, bool)
	List() []StageInfo
	StopStage(name domain.StageName)
}
