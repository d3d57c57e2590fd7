package domain

import (
	"fmt"
	"strings"
)

type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleAudience
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleAudience:
		return "audience"
	default:
		return "none"
	}
}

func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "host":
		return RoleHost, nil
	case "audience":
		return RoleAudience, nil
	case "", "none":
		return RoleNone, nil
	}
	return RoleNone, fmt.Errorf("unknown role %q", s)
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
