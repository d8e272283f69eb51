package pickplace

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"pickplace-eval/internal/gym"
)

func TestReset_ObservationLayout(t *testing.T) {
	env := NewEnv(TaskPickAndPlace, rand.New(rand.NewSource(1)))
	obs, err := env.Reset()
	require.NoError(t, err)
	require.Len(t, obs, PickAndPlaceObsDim)

	assert.Equal(t, gripperStart, obs[0:3])
	assert.Equal(t, env.State.Object, obs[3:6])
	assert.Equal(t, env.State.Object, obs[25:28])
	assert.Equal(t, env.State.Goal, obs[28:31])
	assert.Equal(t, tableHeight, obs[5])
	assert.Equal(t, 0, env.Steps)
}

func TestReach_ObservationLayout(t *testing.T) {
	env := NewEnv(TaskReach, rand.New(rand.NewSource(1)))
	obs, err := env.Reset()
	require.NoError(t, err)
	require.Len(t, obs, ReachObsDim)
	assert.Equal(t, obs[0:3], obs[6:9])
	assert.Equal(t, env.State.Goal, obs[3:6])
}

func TestStep_MovesAndClips(t *testing.T) {
	env := NewEnv(TaskPickAndPlace, rand.New(rand.NewSource(2)))
	_, err := env.Reset()
	require.NoError(t, err)

	step, err := env.Step([]float64{1, 0, -1, 1})
	require.NoError(t, err)
	assert.InDelta(t, gripperStart[0]+maxMove, step.Obs[0], 1e-12)
	assert.InDelta(t, gripperStart[2]-maxMove, step.Obs[2], 1e-12)
	assert.InDelta(t, maxMove/dt, step.Obs[20], 1e-9)

	for i := 0; i < 20; i++ {
		step, err = env.Step([]float64{0, 0, -5, 1})
		require.NoError(t, err)
	}
	assert.Equal(t, tableHeight, step.Obs[2])

	_, err = env.Step([]float64{0, 0, 0})
	assert.Error(t, err)
}

func TestStep_GraspAndCarry(t *testing.T) {
	env := NewEnv(TaskPickAndPlace, rand.New(rand.NewSource(3)))
	_, err := env.Reset()
	require.NoError(t, err)
	copy(env.State.Grip, env.State.Object)

	_, err = env.Step([]float64{0, 0, 0, 1})
	require.NoError(t, err)
	assert.False(t, env.State.Held)

	_, err = env.Step([]float64{0, 0, 0, -1})
	require.NoError(t, err)
	require.True(t, env.State.Held)

	step, err := env.Step([]float64{0, 0, 1, -1})
	require.NoError(t, err)
	assert.Equal(t, step.Obs[0:3], step.Obs[3:6])
	assert.Greater(t, step.Obs[5], tableHeight)

	step, err = env.Step([]float64{0, 0, 0, 1})
	require.NoError(t, err)
	assert.False(t, env.State.Held)
	assert.Equal(t, tableHeight, step.Obs[5])
}

func TestStep_RewardAndDone(t *testing.T) {
	env := NewEnv(TaskPickAndPlace, rand.New(rand.NewSource(4)))
	env.MaxSteps = 3
	_, err := env.Reset()
	require.NoError(t, err)
	copy(env.State.Object, []float64{1.2, 0.6, tableHeight})
	copy(env.State.Goal, []float64{1.5, 1.0, 0.6})

	step, err := env.Step([]float64{0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, -1.0, step.Reward)
	assert.False(t, step.Done)

	copy(env.State.Object, env.State.Goal)
	env.State.Held = true
	copy(env.State.Grip, env.State.Goal)
	step, err = env.Step([]float64{0, 0, 0, -1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, step.Reward)
	assert.Equal(t, 1.0, step.Info["is_success"])
	assert.Less(t, floats.Distance(step.Obs[25:28], step.Obs[28:31], 2), 0.05)

	step, err = env.Step([]float64{0, 0, 0, -1})
	require.NoError(t, err)
	assert.True(t, step.Done)
}

func TestRender(t *testing.T) {
	env := NewEnv(TaskPickAndPlace, rand.New(rand.NewSource(5)))
	var buf bytes.Buffer
	env.Out = &buf
	require.NoError(t, env.Render())
	assert.Contains(t, buf.String(), "PickAndPlace")
	assert.Contains(t, buf.String(), "open")

	env.Out = nil
	assert.NoError(t, env.Render())
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, gym.Registered(), "PickAndPlace-v1")
	assert.Contains(t, gym.Registered(), "Reach-v1")

	e, err := gym.Make(gym.EnvSpec{ID: "Reach-v1", MaxEpisodeSteps: 7, Seed: 3})
	require.NoError(t, err)
	env := e.(*Env)
	assert.Equal(t, TaskReach, env.Task)
	assert.Equal(t, 7, env.MaxSteps)
	assert.Equal(t, defaultThreshold, env.Threshold)

	_, err = gym.Make(gym.EnvSpec{ID: "Hopper-v3"})
	assert.ErrorIs(t, err, gym.ErrUnknownEnv)
}
