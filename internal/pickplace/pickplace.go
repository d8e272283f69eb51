// Package pickplace is a kinematic stand-in for the Fetch robotics tasks.
// The gripper moves by position deltas inside a box above a table, an
// object can be grasped and carried, and observations use the Fetch
// layout so policies trained on the real tasks see the same shapes.
package pickplace

import (
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/charmbracelet/lipgloss"
	"gonum.org/v1/gonum/floats"

	"pickplace-eval/internal/gym"
)

const (
	maxMove     = 0.05
	fingerSpeed = 0.01
	fingerMax   = 0.05
	objectWidth = 0.025
	graspRadius = 0.06
	tableHeight = 0.425
	dt          = 0.04

	defaultMaxSteps  = 50
	defaultThreshold = 0.05

	PickAndPlaceObsDim = 31
	ReachObsDim        = 16
	ActionDim          = 4
)

var (
	workspaceLow  = []float64{1.05, 0.40, tableHeight}
	workspaceHigh = []float64{1.55, 1.10, 0.90}
	gripperStart  = []float64{1.34, 0.75, 0.53}
)

type Task int

const (
	TaskPickAndPlace Task = iota
	TaskReach
)

func (t Task) String() string {
	if t == TaskReach {
		return "Reach"
	}
	return "PickAndPlace"
}

// State is the full simulator state.
type State struct {
	Grip    []float64 `json:"grip"`
	Fingers float64   `json:"fingers"`
	Object  []float64 `json:"object"`
	Goal    []float64 `json:"goal"`
	Held    bool      `json:"held"`

	gripVel   []float64
	fingerVel float64
	objectVel []float64
}

type Env struct {
	Task      Task
	State     State
	Steps     int
	MaxSteps  int
	Threshold float64
	Rand      *rand.Rand
	Out       io.Writer
}

func init() {
	gym.Register("PickAndPlace-v1", func(spec gym.EnvSpec) (gym.Env, error) {
		return fromSpec(TaskPickAndPlace, spec), nil
	})
	gym.Register("Reach-v1", func(spec gym.EnvSpec) (gym.Env, error) {
		return fromSpec(TaskReach, spec), nil
	})
}

func fromSpec(task Task, spec gym.EnvSpec) *Env {
	env := NewEnv(task, rand.New(rand.NewSource(spec.Seed)))
	if spec.MaxEpisodeSteps > 0 {
		env.MaxSteps = spec.MaxEpisodeSteps
	}
	if spec.DistanceThresh > 0 {
		env.Threshold = spec.DistanceThresh
	}
	return env
}

func NewEnv(task Task, rng *rand.Rand) *Env {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	env := &Env{
		Task:      task,
		MaxSteps:  defaultMaxSteps,
		Threshold: defaultThreshold,
		Rand:      rng,
		Out:       os.Stdout,
	}
	env.resetState()
	return env
}

func (e *Env) Reset() ([]float64, error) {
	e.resetState()
	return e.observe(), nil
}

func (e *Env) resetState() {
	grip := append([]float64(nil), gripperStart...)

	object := []float64{
		grip[0] + e.Rand.Float64()*0.3 - 0.15,
		grip[1] + e.Rand.Float64()*0.3 - 0.15,
		tableHeight,
	}
	goal := []float64{
		grip[0] + e.Rand.Float64()*0.3 - 0.15,
		grip[1] + e.Rand.Float64()*0.3 - 0.15,
		tableHeight + e.Rand.Float64()*0.2,
	}
	if e.Task == TaskReach {
		goal[2] = grip[2] + e.Rand.Float64()*0.3 - 0.15
	}

	e.State = State{
		Grip:      grip,
		Fingers:   fingerMax,
		Object:    object,
		Goal:      goal,
		gripVel:   make([]float64, 3),
		objectVel: make([]float64, 3),
	}
	e.Steps = 0
}

// Step applies a 4-dimensional action: a position delta in [-1, 1]^3
// scaled by maxMove and a gripper command where positive opens.
func (e *Env) Step(action []float64) (gym.Step, error) {
	if len(action) != ActionDim {
		return gym.Step{}, fmt.Errorf("pickplace: action has %d components, want %d", len(action), ActionDim)
	}

	prevGrip := append([]float64(nil), e.State.Grip...)
	prevObject := append([]float64(nil), e.State.Object...)
	prevFingers := e.State.Fingers

	for i := 0; i < 3; i++ {
		e.State.Grip[i] = clip(e.State.Grip[i]+clip(action[i], -1, 1)*maxMove, workspaceLow[i], workspaceHigh[i])
	}

	grip := clip(action[3], -1, 1)
	e.State.Fingers = clip(e.State.Fingers+grip*fingerSpeed, 0, fingerMax)

	if e.Task == TaskPickAndPlace {
		switch {
		case e.State.Held && grip > 0:
			e.State.Held = false
		case !e.State.Held && grip < 0 && floats.Distance(prevGrip, e.State.Object, 2) < graspRadius:
			e.State.Held = true
		}
		if e.State.Held {
			e.State.Fingers = maxf(e.State.Fingers, objectWidth/2)
			copy(e.State.Object, e.State.Grip)
		} else {
			e.State.Object[2] = tableHeight
		}
	}

	for i := 0; i < 3; i++ {
		e.State.gripVel[i] = (e.State.Grip[i] - prevGrip[i]) / dt
		e.State.objectVel[i] = (e.State.Object[i] - prevObject[i]) / dt
	}
	e.State.fingerVel = (e.State.Fingers - prevFingers) / dt
	e.Steps++

	atGoal := floats.Distance(e.achieved(), e.State.Goal, 2) < e.Threshold
	reward := -1.0
	if atGoal {
		reward = 0.0
	}
	info := map[string]float64{"is_success": 0}
	if atGoal {
		info["is_success"] = 1
	}

	return gym.Step{
		Obs:    e.observe(),
		Reward: reward,
		Done:   e.Steps >= e.MaxSteps,
		Info:   info,
	}, nil
}

func (e *Env) achieved() []float64 {
	if e.Task == TaskReach {
		return e.State.Grip
	}
	return e.State.Object
}

func (e *Env) observe() []float64 {
	s := e.State
	fingers := []float64{s.Fingers, s.Fingers}
	fingerVel := []float64{s.fingerVel, s.fingerVel}

	if e.Task == TaskReach {
		obs := make([]float64, 0, ReachObsDim)
		obs = append(obs, s.Grip...)
		obs = append(obs, s.Goal...)
		obs = append(obs, s.Grip...)
		obs = append(obs, fingers...)
		obs = append(obs, s.gripVel...)
		obs = append(obs, fingerVel...)
		return obs
	}

	rel := make([]float64, 3)
	floats.SubTo(rel, s.Object, s.Grip)
	relVel := make([]float64, 3)
	floats.SubTo(relVel, s.objectVel, s.gripVel)

	obs := make([]float64, 0, PickAndPlaceObsDim)
	obs = append(obs, s.Grip...)
	obs = append(obs, s.Object...)
	obs = append(obs, rel...)
	obs = append(obs, fingers...)
	obs = append(obs, 0, 0, 0) // object rotation
	obs = append(obs, relVel...)
	obs = append(obs, 0, 0, 0) // object angular velocity
	obs = append(obs, s.gripVel...)
	obs = append(obs, fingerVel...)
	obs = append(obs, s.Object...)
	obs = append(obs, s.Goal...)
	return obs
}

var (
	labelStyle = lipgloss.NewStyle().Bold(true)
	heldStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	looseStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Render writes a one-line text frame of the current state to Out.
func (e *Env) Render() error {
	if e.Out == nil {
		return nil
	}
	grasp := looseStyle.Render("open")
	if e.State.Held {
		grasp = heldStyle.Render("held")
	}
	_, err := fmt.Fprintf(e.Out, "%s %3d  grip %s  object %s  goal %s  %s\n",
		labelStyle.Render(e.Task.String()), e.Steps,
		vec(e.State.Grip), vec(e.State.Object), vec(e.State.Goal), grasp)
	return err
}

func vec(v []float64) string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", v[0], v[1], v[2])
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
