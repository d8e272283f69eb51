package pipeline

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

const (
	// SubTaskObsDim is the observation length of the reach sub-policy.
	SubTaskObsDim = 16
	// ActionDim is the length of the post-processed action.
	ActionDim = 4

	gripperIndex = 3
)

var (
	ErrMissingField = errors.New("layout lacks a required field")
	ErrActionShape  = errors.New("sub-policy action too short")
)

var requiredFields = []string{
	FieldGripPos, FieldObjectPos, FieldGripperState,
	FieldGripVelp, FieldGripperVel, FieldAchievedGoal, FieldDesiredGoal,
}

// Slices are the parts of an observation one controller step needs.
type Slices struct {
	// Achieved is the gripper position the sub-policy steers.
	Achieved []float64
	// Target is the position the phase sub-goal is derived from: the
	// object for reach/down/pick, the task goal for place.
	Target       []float64
	GripperState []float64
	Velocities   []float64
}

// Slicer extracts named sub-vectors from raw observations.
type Slicer struct {
	layout Layout
}

func NewSlicer(layout Layout) (*Slicer, error) {
	for _, name := range requiredFields {
		if _, ok := layout.Field(name); !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}
	return &Slicer{layout: layout}, nil
}

func (s *Slicer) Layout() Layout {
	return s.layout
}

// Slice returns the slices for phase p. Returned slices never alias obs.
func (s *Slicer) Slice(obs []float64, p Phase) (Slices, error) {
	if err := s.layout.Validate(obs); err != nil {
		return Slices{}, err
	}
	target := FieldObjectPos
	if p == PhasePlace {
		target = FieldDesiredGoal
	}
	return Slices{
		Achieved:     s.layout.Slice(obs, FieldGripPos),
		Target:       s.layout.Slice(obs, target),
		GripperState: s.layout.Slice(obs, FieldGripperState),
		Velocities:   s.layout.Slice(obs, FieldGripVelp, FieldGripperVel),
	}, nil
}

// GoalDistance is the distance between the object and the task goal.
func (s *Slicer) GoalDistance(obs []float64) (float64, error) {
	if err := s.layout.Validate(obs); err != nil {
		return 0, err
	}
	return floats.Distance(
		s.layout.Slice(obs, FieldAchievedGoal),
		s.layout.Slice(obs, FieldDesiredGoal),
		2,
	), nil
}

// SubGoal adds offset to the slice target.
func SubGoal(sl Slices, offset [3]float64) []float64 {
	goal := append([]float64(nil), sl.Target...)
	floats.Add(goal, offset[:])
	return goal
}

// SubTaskObservation builds the reach policy input: achieved, goal,
// achieved again, gripper state and velocities.
func SubTaskObservation(sl Slices, goal []float64) []float64 {
	obs := make([]float64, 0, SubTaskObsDim)
	obs = append(obs, sl.Achieved...)
	obs = append(obs, goal...)
	obs = append(obs, sl.Achieved...)
	obs = append(obs, sl.GripperState...)
	obs = append(obs, sl.Velocities...)
	return obs
}

// PostProcess keeps the spatial part of raw and forces the gripper
// command. raw is not modified.
func PostProcess(raw []float64, gripper float64) ([]float64, error) {
	if len(raw) < gripperIndex {
		return nil, fmt.Errorf("%w: got %d values, need %d", ErrActionShape, len(raw), gripperIndex)
	}
	action := make([]float64, ActionDim)
	copy(action, raw[:gripperIndex])
	action[gripperIndex] = gripper
	return action, nil
}
