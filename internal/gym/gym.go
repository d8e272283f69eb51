// Package gym defines the environment and policy contracts shared by the
// simulated environments, the policy loader and the evaluation driver.
package gym

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Step is the result of advancing an environment by one action.
type Step struct {
	Obs    []float64
	Reward float64
	Done   bool
	Info   map[string]float64
}

// Env is a resettable episodic environment.
type Env interface {
	Reset() ([]float64, error)
	Step(action []float64) (Step, error)
	Render() error
}

// Policy maps an observation vector to an action vector.
type Policy interface {
	Action(obs []float64) ([]float64, error)
}

// PolicyFunc adapts a plain function to the Policy interface.
type PolicyFunc func(obs []float64) ([]float64, error)

func (f PolicyFunc) Action(obs []float64) ([]float64, error) {
	return f(obs)
}

// EnvSpec is the persisted description of an environment. It is what a
// training run saves next to its policy so the same task can be rebuilt.
type EnvSpec struct {
	ID              string  `json:"id"`
	MaxEpisodeSteps int     `json:"max_episode_steps,omitempty"`
	Seed            int64   `json:"seed,omitempty"`
	DistanceThresh  float64 `json:"distance_threshold,omitempty"`
}

// Factory builds an environment from its spec.
type Factory func(spec EnvSpec) (Env, error)

var ErrUnknownEnv = errors.New("unknown environment id")

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes an environment constructible by id. Registering the same
// id twice replaces the earlier factory.
func Register(id string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	registry[id] = factory
}

// Make builds the environment described by spec.
func Make(spec EnvSpec) (Env, error) {
	registryMu.RLock()
	factory, ok := registry[spec.ID]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEnv, spec.ID)
	}
	return factory(spec)
}

// Registered lists the known environment ids in sorted order.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
