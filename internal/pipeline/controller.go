package pipeline

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"pickplace-eval/internal/gym"
)

var ErrAdvanceBeforeAct = errors.New("advance called before act")

// ControllerConfig holds the per-phase constants.
type ControllerConfig struct {
	ReachOffset    [3]float64
	GraspOffset    [3]float64
	ReachThreshold float64
	DownThreshold  float64
	PickThreshold  float64
	PlaceThreshold float64
	PickTimer      int
	// Gripper is the forced gripper command, indexed by Phase.
	Gripper [numPhases]float64
}

func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		ReachOffset:    [3]float64{0, 0, 0.1},
		GraspOffset:    [3]float64{0.005, 0, -0.0005},
		ReachThreshold: 0.045,
		DownThreshold:  0.045,
		PickThreshold:  0.03,
		PlaceThreshold: 0.03,
		PickTimer:      500,
		Gripper: [numPhases]float64{
			PhaseReach: 1,
			PhaseDown:  0.25,
			PhasePick:  -1,
			PhasePlace: -1,
		},
	}
}

// Offset is the sub-goal offset of phase p. Place targets the task goal
// itself.
func (cfg ControllerConfig) Offset(p Phase) [3]float64 {
	switch p {
	case PhaseReach:
		return cfg.ReachOffset
	case PhaseDown, PhasePick:
		return cfg.GraspOffset
	default:
		return [3]float64{}
	}
}

// Step is what the controller decided for one environment step.
type Step struct {
	Phase    Phase
	SubGoal  []float64
	SubObs   []float64
	Raw      []float64
	Action   []float64
	Distance float64
}

// Outcome is the result of evaluating the phase table after a step.
type Outcome struct {
	From     Phase
	To       Phase
	Timer    int
	Distance float64
	// Fired is set when the transition guard passed, including the
	// place self-loop.
	Fired bool
	// Stalled is set on the step the pick countdown runs out.
	Stalled bool
}

// Changed reports whether the phase moved.
func (o Outcome) Changed() bool {
	return o.From != o.To
}

// Controller drives one reach sub-policy through the pick-and-place
// phases. It is owned by a single driver and not safe for concurrent use.
type Controller struct {
	cfg    ControllerConfig
	slicer *Slicer
	policy gym.Policy
	table  Table

	phase   Phase
	timer   int
	stalled bool
	pending *Step
}

func NewController(policy gym.Policy, layout Layout, cfg ControllerConfig) (*Controller, error) {
	if policy == nil {
		return nil, errors.New("controller requires a sub-policy")
	}
	slicer, err := NewSlicer(layout)
	if err != nil {
		return nil, err
	}
	return &Controller{
		cfg:    cfg,
		slicer: slicer,
		policy: policy,
		table:  NewTable(cfg),
	}, nil
}

func (c *Controller) Phase() Phase    { return c.phase }
func (c *Controller) Timer() int      { return c.timer }
func (c *Controller) Stalled() bool   { return c.stalled }
func (c *Controller) Slicer() *Slicer { return c.slicer }
func (c *Controller) Table() Table    { return c.table }

// Reset returns to reach with the countdown cleared.
func (c *Controller) Reset() {
	c.phase = PhaseReach
	c.timer = 0
	c.stalled = false
	c.pending = nil
}

// Act computes the action for obs in the current phase. The sub-goal
// distance is kept for the following Advance.
func (c *Controller) Act(obs []float64) (Step, error) {
	sl, err := c.slicer.Slice(obs, c.phase)
	if err != nil {
		return Step{}, err
	}
	goal := SubGoal(sl, c.cfg.Offset(c.phase))
	subObs := SubTaskObservation(sl, goal)

	raw, err := c.policy.Action(subObs)
	if err != nil {
		return Step{}, fmt.Errorf("sub-policy: %w", err)
	}
	action, err := PostProcess(raw, c.cfg.Gripper[c.phase])
	if err != nil {
		return Step{}, err
	}

	step := Step{
		Phase:    c.phase,
		SubGoal:  goal,
		SubObs:   subObs,
		Raw:      raw,
		Action:   action,
		Distance: floats.Distance(sl.Achieved, goal, 2),
	}
	c.pending = &step
	return step, nil
}

// Advance evaluates the current phase's transition for the step last
// passed to Act. While in pick the countdown is decremented before the
// guard is checked.
func (c *Controller) Advance() (Outcome, error) {
	if c.pending == nil {
		return Outcome{}, ErrAdvanceBeforeAct
	}
	step := c.pending
	c.pending = nil

	out := Outcome{From: c.phase, To: c.phase, Distance: step.Distance}
	if c.phase == PhasePick {
		c.timer--
		// Once the countdown hits zero the pick guard can never pass again.
		if c.timer == 0 {
			c.stalled = true
			out.Stalled = true
		}
	}

	t := c.table[c.phase]
	if t.Guard(step.Distance, c.timer) {
		if t.To != c.phase && t.OnEnter != nil {
			t.OnEnter(c)
		}
		c.phase = t.To
		out.To = t.To
		out.Fired = true
	}
	out.Timer = c.timer
	return out, nil
}
