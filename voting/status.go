package voting

import (
	"fmt"
	"strings"
)

type Phase uint8

const (
	Inactive Phase = iota
	Active
	AwaitCall
	Completed
	Failed
)

var phaseNames = map[Phase]string{
	Inactive:  "inactive",
	Active:    "active",
	AwaitCall: "awaitcall",
	Completed: "completed",
	Failed:    "failed",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for phase, name := range phaseNames {
		if strings.EqualFold(name, string(text)) {
			*p = phase
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == Completed || p == Failed
}

// Status is the lifecycle position of an instance. RoundsLeft is only set for
// multi-round instances waiting to start their next round; such a status
// cannot be implemented.
type Status struct {
	Phase      Phase `json:"phase"`
	RoundsLeft uint8 `json:"roundsLeft,omitempty"`
}

// Resolvable reports whether Implement may dispatch the instance's call.
func (s Status) Resolvable() bool {
	return s.Phase == AwaitCall && s.RoundsLeft == 0
}

func (s Status) String() string {
	if s.Phase == AwaitCall && s.RoundsLeft > 0 {
		return fmt.Sprintf("%s(%d rounds left)", s.Phase, s.RoundsLeft)
	}
	return s.Phase.String()
}
