package train

import (
	"math"

	"github.com/basarnoyan1/bpnet-lite/internal/tower"
)

// AdamW applies Adam updates with decoupled weight decay. Moment
// slices are keyed by parameter name, so one optimizer must only ever
// drive one model.
type AdamW struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64

	step int
	m    map[string][]float64
	v    map[string][]float64
}

// NewAdamW returns an optimizer with the standard coefficients:
// betas 0.9 and 0.999, epsilon 1e-8, weight decay 0.01.
func NewAdamW(lr float64) *AdamW {
	return &AdamW{
		LearningRate: lr,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.01,
		m:            make(map[string][]float64),
		v:            make(map[string][]float64),
	}
}

// Step applies one bias-corrected update to every parameter from its
// accumulated gradient.
func (o *AdamW) Step(params []tower.Param) {
	o.step++
	c1 := 1 - math.Pow(o.Beta1, float64(o.step))
	c2 := 1 - math.Pow(o.Beta2, float64(o.step))
	for _, p := range params {
		m := o.moments(o.m, p)
		v := o.moments(o.v, p)
		for i, g := range p.Grad {
			m[i] = o.Beta1*m[i] + (1-o.Beta1)*g
			v[i] = o.Beta2*v[i] + (1-o.Beta2)*g*g
			update := (m[i] / c1) / (math.Sqrt(v[i]/c2) + o.Epsilon)
			p.Value[i] -= o.LearningRate * (update + o.WeightDecay*p.Value[i])
		}
	}
}

func (o *AdamW) moments(state map[string][]float64, p tower.Param) []float64 {
	s, ok := state[p.Name]
	if !ok || len(s) != len(p.Value) {
		s = make([]float64, len(p.Value))
		state[p.Name] = s
	}
	return s
}
