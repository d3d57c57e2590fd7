package call

import (
	"fmt"
	"strings"
)

// State is the session-level lifecycle of the local participant.
type State int

const (
	StateUnjoined State = iota
	StateRoleSelected
	StateJoined
	StateCallMember
	StateLeft
)

func (s State) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateRoleSelected:
		return "role_selected"
	case StateJoined:
		return "joined"
	case StateCallMember:
		return "call_member"
	case StateLeft:
		return "left"
	}
	return "unknown"
}

// Topology decides who answers a join request.
type Topology string

const (
	// TopologyHub: only the host links with call members; audience members never link with each other.
	TopologyHub Topology = "hub"
	// TopologyMesh: every call member answers a join request, so call members form a full mesh.
	TopologyMesh Topology = "mesh"
)

func ParseTopology(s string) (Topology, error) {
	switch Topology(strings.ToLower(strings.TrimSpace(s))) {
	case "", TopologyHub:
		return TopologyHub, nil
	case TopologyMesh:
		return TopologyMesh, nil
	}
	return "", fmt.Errorf("unknown topology %q", s)
}
