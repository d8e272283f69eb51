package pipeline

import (
	"fmt"
)

// Phase is one stage of the pick-and-place skill.
type Phase int

const (
	PhaseReach Phase = iota
	PhaseDown
	PhasePick
	PhasePlace

	numPhases = 4
)

var phaseNames = [numPhases]string{"reach", "down", "pick", "place"}

func (p Phase) String() string {
	if p < 0 || p >= numPhases {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

func ParsePhase(s string) (Phase, error) {
	for i, name := range phaseNames {
		if name == s {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// Phases lists every phase in execution order.
func Phases() []Phase {
	return []Phase{PhaseReach, PhaseDown, PhasePick, PhasePlace}
}

// Guard decides a transition from the distance between the achieved
// position and the phase sub-goal, and the pick countdown.
type Guard func(distance float64, timer int) bool

// Within passes when the sub-goal is closer than threshold.
func Within(threshold float64) Guard {
	return func(distance float64, _ int) bool {
		return distance < threshold
	}
}

// TimerRunning passes while the countdown is positive.
func TimerRunning() Guard {
	return func(_ float64, timer int) bool {
		return timer > 0
	}
}

// All passes when every guard passes.
func All(guards ...Guard) Guard {
	return func(distance float64, timer int) bool {
		for _, g := range guards {
			if !g(distance, timer) {
				return false
			}
		}
		return true
	}
}

// Transition is one row of the phase table. Every phase has exactly one
// outgoing row; place loops back to itself.
type Transition struct {
	From    Phase
	To      Phase
	Guard   Guard
	OnEnter func(c *Controller)
}

// Table maps each phase to its outgoing transition.
type Table [numPhases]Transition

// NewTable builds the reach -> down -> pick -> place -> place table.
// Entering pick arms the countdown; pick only hands over to place while the
// countdown is still positive, so an expired countdown keeps the episode in
// pick until it ends.
func NewTable(cfg ControllerConfig) Table {
	return Table{
		PhaseReach: {
			From:  PhaseReach,
			To:    PhaseDown,
			Guard: Within(cfg.ReachThreshold),
		},
		PhaseDown: {
			From:  PhaseDown,
			To:    PhasePick,
			Guard: Within(cfg.DownThreshold),
			OnEnter: func(c *Controller) {
				c.timer = cfg.PickTimer
			},
		},
		PhasePick: {
			From:  PhasePick,
			To:    PhasePlace,
			Guard: All(Within(cfg.PickThreshold), TimerRunning()),
		},
		PhasePlace: {
			From:  PhasePlace,
			To:    PhasePlace,
			Guard: Within(cfg.PlaceThreshold),
		},
	}
}
