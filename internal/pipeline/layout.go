package pipeline

import (
	"errors"
	"fmt"
)

// Field names of the Fetch pick-and-place observation.
const (
	FieldGripPos      = "grip_pos"
	FieldObjectPos    = "object_pos"
	FieldObjectRelPos = "object_rel_pos"
	FieldGripperState = "gripper_state"
	FieldObjectRot    = "object_rot"
	FieldObjectVelp   = "object_velp"
	FieldObjectVelr   = "object_velr"
	FieldGripVelp     = "grip_velp"
	FieldGripperVel   = "gripper_vel"
	FieldAchievedGoal = "achieved_goal"
	FieldDesiredGoal  = "desired_goal"
)

var (
	ErrLayoutMismatch = errors.New("observation does not match layout")
	ErrBadLayout      = errors.New("invalid observation layout")
)

// Field is a named contiguous range of an observation vector.
type Field struct {
	Name   string
	Offset int
	Size   int
}

func (f Field) end() int {
	return f.Offset + f.Size
}

// Layout describes a fixed-length observation as named fields. Fields may
// leave gaps but must lie inside the vector.
type Layout struct {
	length int
	fields map[string]Field
	order  []Field
}

func NewLayout(length int, fields ...Field) (Layout, error) {
	if length <= 0 {
		return Layout{}, fmt.Errorf("%w: length %d", ErrBadLayout, length)
	}
	l := Layout{length: length, fields: make(map[string]Field, len(fields))}
	for _, f := range fields {
		if f.Name == "" || f.Size <= 0 || f.Offset < 0 || f.end() > length {
			return Layout{}, fmt.Errorf("%w: field %q [%d:%d] in length %d", ErrBadLayout, f.Name, f.Offset, f.end(), length)
		}
		if _, dup := l.fields[f.Name]; dup {
			return Layout{}, fmt.Errorf("%w: duplicate field %q", ErrBadLayout, f.Name)
		}
		l.fields[f.Name] = f
		l.order = append(l.order, f)
	}
	return l, nil
}

// FetchPickAndPlaceLayout is the 31-value observation of the Fetch
// pick-and-place task with its dict keys flattened in order.
func FetchPickAndPlaceLayout() Layout {
	l, err := NewLayout(31,
		Field{FieldGripPos, 0, 3},
		Field{FieldObjectPos, 3, 3},
		Field{FieldObjectRelPos, 6, 3},
		Field{FieldGripperState, 9, 2},
		Field{FieldObjectRot, 11, 3},
		Field{FieldObjectVelp, 14, 3},
		Field{FieldObjectVelr, 17, 3},
		Field{FieldGripVelp, 20, 3},
		Field{FieldGripperVel, 23, 2},
		Field{FieldAchievedGoal, 25, 3},
		Field{FieldDesiredGoal, 28, 3},
	)
	if err != nil {
		panic(err)
	}
	return l
}

func (l Layout) Len() int {
	return l.length
}

func (l Layout) Fields() []Field {
	return append([]Field(nil), l.order...)
}

func (l Layout) Field(name string) (Field, bool) {
	f, ok := l.fields[name]
	return f, ok
}

// Validate reports ErrLayoutMismatch when obs has the wrong length.
func (l Layout) Validate(obs []float64) error {
	if len(obs) != l.length {
		return fmt.Errorf("%w: got %d values, want %d", ErrLayoutMismatch, len(obs), l.length)
	}
	return nil
}

// Slice copies the named fields of obs, concatenated in argument order.
// obs must already be validated and every name must exist.
func (l Layout) Slice(obs []float64, names ...string) []float64 {
	size := 0
	for _, n := range names {
		size += l.fields[n].Size
	}
	out := make([]float64, 0, size)
	for _, n := range names {
		f := l.fields[n]
		out = append(out, obs[f.Offset:f.end()]...)
	}
	return out
}
