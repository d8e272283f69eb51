// Package policy runs frozen actor networks exported by a training run.
package policy

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrBadWeights = errors.New("malformed policy weights")
	ErrObsShape   = errors.New("observation does not match policy input")
)

// Layer is a dense layer, W has shape [out][in].
type Layer struct {
	W [][]float64 `json:"w"`
	B []float64   `json:"b"`
}

// Weights is the serialized actor. Pi is the sampling head; Mu, when
// present, is the deterministic mean head.
type Weights struct {
	Hidden     []Layer   `json:"hidden"`
	Activation string    `json:"activation"`
	Pi         Layer     `json:"pi"`
	Mu         *Layer    `json:"mu,omitempty"`
	LogStd     []float64 `json:"log_std,omitempty"`
	ActLimit   float64   `json:"act_limit"`
}

type dense struct {
	w *mat.Dense
	b *mat.VecDense
}

type Policy struct {
	hidden        []dense
	activation    func(float64) float64
	head          dense
	logStd        []float64
	actLimit      float64
	deterministic bool
	noise         distuv.Normal
}

// HeadName reports which output head a policy built with deterministic
// would use.
func (w Weights) HeadName(deterministic bool) string {
	if deterministic && w.Mu != nil {
		return "mu"
	}
	return "pi"
}

// NewPolicy validates the weights and builds a policy. With deterministic
// set and a mu head available, actions come from mu; otherwise pi is used
// and Gaussian noise is added when log_std is present.
func NewPolicy(weights Weights, deterministic bool, seed uint64) (*Policy, error) {
	act, err := activation(weights.Activation)
	if err != nil {
		return nil, err
	}

	p := &Policy{
		activation: act,
		actLimit:   weights.ActLimit,
		noise: distuv.Normal{
			Mu:    0,
			Sigma: 1,
			Src:   rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
		},
	}
	if p.actLimit == 0 {
		p.actLimit = 1
	}

	for i, l := range weights.Hidden {
		d, err := newDense(l)
		if err != nil {
			return nil, fmt.Errorf("hidden layer %d: %w", i, err)
		}
		if i > 0 {
			if _, in := d.w.Dims(); in != p.hidden[i-1].b.Len() {
				return nil, fmt.Errorf("%w: hidden layer %d takes %d inputs, previous layer gives %d", ErrBadWeights, i, in, p.hidden[i-1].b.Len())
			}
		}
		p.hidden = append(p.hidden, d)
	}

	headLayer := weights.Pi
	if weights.HeadName(deterministic) == "mu" {
		headLayer = *weights.Mu
		p.deterministic = true
	} else {
		p.logStd = weights.LogStd
	}
	if p.head, err = newDense(headLayer); err != nil {
		return nil, fmt.Errorf("output head: %w", err)
	}
	if len(p.hidden) > 0 {
		last := p.hidden[len(p.hidden)-1].b.Len()
		if _, in := p.head.w.Dims(); in != last {
			return nil, fmt.Errorf("%w: head takes %d inputs, last hidden layer gives %d", ErrBadWeights, in, last)
		}
	}
	if p.logStd != nil && len(p.logStd) != p.head.b.Len() {
		return nil, fmt.Errorf("%w: log_std has %d entries for %d actions", ErrBadWeights, len(p.logStd), p.head.b.Len())
	}
	return p, nil
}

func newDense(l Layer) (dense, error) {
	if len(l.W) == 0 || len(l.W[0]) == 0 {
		return dense{}, fmt.Errorf("%w: empty weight matrix", ErrBadWeights)
	}
	rows, cols := len(l.W), len(l.W[0])
	if len(l.B) != rows {
		return dense{}, fmt.Errorf("%w: bias has %d entries for %d outputs", ErrBadWeights, len(l.B), rows)
	}
	data := make([]float64, 0, rows*cols)
	for i, row := range l.W {
		if len(row) != cols {
			return dense{}, fmt.Errorf("%w: row %d has %d columns, want %d", ErrBadWeights, i, len(row), cols)
		}
		data = append(data, row...)
	}
	return dense{
		w: mat.NewDense(rows, cols, data),
		b: mat.NewVecDense(rows, append([]float64(nil), l.B...)),
	}, nil
}

func activation(name string) (func(float64) float64, error) {
	switch name {
	case "", "tanh":
		return math.Tanh, nil
	case "relu":
		return func(x float64) float64 { return math.Max(0, x) }, nil
	default:
		return nil, fmt.Errorf("%w: unknown activation %q", ErrBadWeights, name)
	}
}

// InputDim is the observation length the policy accepts.
func (p *Policy) InputDim() int {
	first := p.head
	if len(p.hidden) > 0 {
		first = p.hidden[0]
	}
	_, in := first.w.Dims()
	return in
}

// OutputDim is the action length the policy produces.
func (p *Policy) OutputDim() int {
	return p.head.b.Len()
}

func (p *Policy) Deterministic() bool {
	return p.deterministic
}

// Action returns the squashed action for obs, scaled by the action limit.
func (p *Policy) Action(obs []float64) ([]float64, error) {
	if len(obs) != p.InputDim() {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrObsShape, len(obs), p.InputDim())
	}

	x := mat.NewVecDense(len(obs), append([]float64(nil), obs...))
	for _, l := range p.hidden {
		x = p.forward(l, x)
		for i := 0; i < x.Len(); i++ {
			x.SetVec(i, p.activation(x.AtVec(i)))
		}
	}
	out := p.forward(p.head, x)

	action := make([]float64, out.Len())
	for i := range action {
		v := out.AtVec(i)
		if p.logStd != nil {
			v += math.Exp(p.logStd[i]) * p.noise.Rand()
		}
		action[i] = math.Tanh(v) * p.actLimit
	}
	return action, nil
}

func (p *Policy) forward(l dense, x *mat.VecDense) *mat.VecDense {
	rows, _ := l.w.Dims()
	y := mat.NewVecDense(rows, nil)
	y.MulVec(l.w, x)
	y.AddVec(y, l.b)
	return y
}

// ReachWeights builds a single-layer actor that steers the achieved
// position (obs[0:3]) towards the desired position (obs[3:6]) with the
// given gain, leaving the gripper output at zero. obsDim must be at
// least 6 and actDim at least 3.
func ReachWeights(obsDim, actDim int, gain float64) Weights {
	w := make([][]float64, actDim)
	for i := range w {
		w[i] = make([]float64, obsDim)
		if i < 3 {
			w[i][i] = -gain
			w[i][3+i] = gain
		}
	}
	return Weights{
		Activation: "tanh",
		Pi:         Layer{W: w, B: make([]float64, actDim)},
		ActLimit:   1,
	}
}
