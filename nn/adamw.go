package nn

import "math"

// AdamW is Adam with decoupled weight decay.
type AdamW struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	step int
	m    map[*Param][]float64
	v    map[*Param][]float64
}

func NewAdamW(lr, weightDecay float64) *AdamW {
	return &AdamW{
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
		m:           make(map[*Param][]float64),
		v:           make(map[*Param][]float64),
	}
}

// Step applies one update to every parameter and leaves the gradients
// untouched; callers zero them between iterations.
func (o *AdamW) Step(params []*Param) {
	o.step++
	c1 := 1 - math.Pow(o.Beta1, float64(o.step))
	c2 := 1 - math.Pow(o.Beta2, float64(o.step))

	for _, p := range params {
		value := p.Value.RawMatrix().Data
		grad := p.Grad.RawMatrix().Data

		m, ok := o.m[p]
		if !ok {
			m = make([]float64, len(value))
			o.m[p] = m
			o.v[p] = make([]float64, len(value))
		}
		v := o.v[p]

		for i := range value {
			m[i] = o.Beta1*m[i] + (1-o.Beta1)*grad[i]
			v[i] = o.Beta2*v[i] + (1-o.Beta2)*grad[i]*grad[i]
			mHat := m[i] / c1
			vHat := v[i] / c2
			value[i] -= o.LR * (mHat/(math.Sqrt(vHat)+o.Eps) + o.WeightDecay*value[i])
		}
	}
}
