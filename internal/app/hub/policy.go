package hub

import "github.com/dkeye/Stage/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

type Policy interface {
	OnBackPressure(stage core.StageService, member core.MemberSession) BackpressureAction
}

// SimplePolicy kicks a member whose queue is full.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.StageService, core.MemberSession) BackpressureAction {
	return KickMember
}
