package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchPickAndPlaceLayout(t *testing.T) {
	l := FetchPickAndPlaceLayout()
	assert.Equal(t, 31, l.Len())
	assert.Len(t, l.Fields(), 11)

	f, ok := l.Field(FieldDesiredGoal)
	require.True(t, ok)
	assert.Equal(t, Field{Name: FieldDesiredGoal, Offset: 28, Size: 3}, f)

	f, ok = l.Field(FieldGripVelp)
	require.True(t, ok)
	assert.Equal(t, 20, f.Offset)

	_, ok = l.Field("object_mass")
	assert.False(t, ok)
}

func TestLayout_Validate(t *testing.T) {
	l := FetchPickAndPlaceLayout()
	assert.NoError(t, l.Validate(make([]float64, 31)))

	err := l.Validate(make([]float64, 25))
	require.ErrorIs(t, err, ErrLayoutMismatch)
	assert.Contains(t, err.Error(), "got 25 values, want 31")
}

func TestLayout_Slice(t *testing.T) {
	l := FetchPickAndPlaceLayout()
	obs := make([]float64, 31)
	for i := range obs {
		obs[i] = float64(i)
	}

	assert.Equal(t, []float64{20, 21, 22, 23, 24}, l.Slice(obs, FieldGripVelp, FieldGripperVel))
	assert.Equal(t, []float64{28, 29, 30, 0, 1, 2}, l.Slice(obs, FieldDesiredGoal, FieldGripPos))

	out := l.Slice(obs, FieldGripPos)
	out[0] = 99
	assert.Equal(t, 0.0, obs[0])
}

func TestNewLayout_Errors(t *testing.T) {
	tests := []struct {
		name   string
		length int
		fields []Field
	}{
		{name: "zero length", length: 0},
		{name: "past end", length: 4, fields: []Field{{Name: "a", Offset: 2, Size: 3}}},
		{name: "negative offset", length: 4, fields: []Field{{Name: "a", Offset: -1, Size: 1}}},
		{name: "empty size", length: 4, fields: []Field{{Name: "a", Offset: 0, Size: 0}}},
		{name: "unnamed", length: 4, fields: []Field{{Offset: 0, Size: 1}}},
		{name: "duplicate", length: 4, fields: []Field{{Name: "a", Offset: 0, Size: 1}, {Name: "a", Offset: 1, Size: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLayout(tt.length, tt.fields...)
			assert.ErrorIs(t, err, ErrBadLayout)
		})
	}
}

func TestNewSlicer_MissingField(t *testing.T) {
	l, err := NewLayout(6, Field{Name: FieldGripPos, Offset: 0, Size: 3}, Field{Name: FieldObjectPos, Offset: 3, Size: 3})
	require.NoError(t, err)

	_, err = NewSlicer(l)
	require.ErrorIs(t, err, ErrMissingField)
	assert.Contains(t, err.Error(), FieldGripperState)
}
