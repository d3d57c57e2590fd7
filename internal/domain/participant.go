// Package domain contains entities without transport or lifecycle logic.
package domain

import "errors"

const (
	MaxParticipantIDLen = 36
	MaxDisplayNameLen   = 36
)

var (
	ErrUsernameTooLong = errors.New("display name too long")
	ErrUsernameEmpty   = errors.New("display name empty")
)

// ParticipantID is the opaque identifier the relay assigns to a connection.
type ParticipantID string

type Participant struct {
	ID           ParticipantID `json:"id"`
	DisplayName  string        `json:"displayName"`
	Role         Role          `json:"role"`
	IsCallMember bool          `json:"isCallMember"`
	IsPublishing bool          `json:"isPublishing"`
	MicEnabled   bool          `json:"micEnabled"`
	Connected    bool          `json:"connected"`
}

// NewParticipant validates the display name and returns a participant with no role yet.
func NewParticipant(id ParticipantID, displayName string) (*Participant, error) {
	if err := ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	return &Participant{ID: id, DisplayName: displayName}, nil
}

func (p *Participant) SetDisplayName(name string) error {
	if err := ValidateDisplayName(name); err != nil {
		return err
	}
	p.DisplayName = name
	return nil
}

func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrUsernameTooLong
	}
	return nil
}
