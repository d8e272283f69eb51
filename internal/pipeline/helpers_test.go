package pipeline

import (
	"errors"

	"pickplace-eval/internal/gym"
)

type vec3 = [3]float64

func add(a, b vec3) vec3 {
	return vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

// fetchObs builds a Fetch layout observation. The achieved goal tracks
// the object.
func fetchObs(grip, object, goal vec3) []float64 {
	obs := make([]float64, 31)
	copy(obs[0:3], grip[:])
	copy(obs[3:6], object[:])
	for i := 0; i < 3; i++ {
		obs[6+i] = object[i] - grip[i]
	}
	obs[9], obs[10] = 0.02, 0.02
	for i := 20; i < 25; i++ {
		obs[i] = float64(i) / 100
	}
	copy(obs[25:28], object[:])
	copy(obs[28:31], goal[:])
	return obs
}

var (
	testObject = vec3{1.3, 0.7, 0.425}
	testGoal   = vec3{1.2, 0.8, 0.6}
	farGrip    = vec3{1.0, 1.0, 0.9}
	reachGrip  = add(testObject, vec3{0, 0, 0.1})
	graspGrip  = add(testObject, vec3{0.005, 0, -0.0005})
)

// spyPolicy returns a fixed action and records every input.
type spyPolicy struct {
	action []float64
	inputs [][]float64
	err    error
}

func (p *spyPolicy) Action(obs []float64) ([]float64, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.inputs = append(p.inputs, append([]float64(nil), obs...))
	return append([]float64(nil), p.action...), nil
}

// scriptedEnv replays observations from frame. Episode and step count
// from zero; step 0 is the reset observation.
type scriptedEnv struct {
	frame   func(episode, step int) (obs []float64, done bool)
	episode int
	step    int
	resets  int
	renders int
	actions [][]float64
	stepErr error
}

func (e *scriptedEnv) Reset() ([]float64, error) {
	e.episode = e.resets
	e.resets++
	e.step = 0
	obs, _ := e.frame(e.episode, 0)
	return obs, nil
}

func (e *scriptedEnv) Step(action []float64) (gym.Step, error) {
	if e.stepErr != nil {
		return gym.Step{}, e.stepErr
	}
	e.actions = append(e.actions, append([]float64(nil), action...))
	e.step++
	obs, done := e.frame(e.episode, e.step)
	return gym.Step{Obs: obs, Reward: -1, Done: done}, nil
}

func (e *scriptedEnv) Render() error {
	e.renders++
	return nil
}

var errBoom = errors.New("boom")
