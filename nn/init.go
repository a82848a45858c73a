package nn

import (
	"math"
	"math/rand"
)

// XavierUniform fills the parameter with samples from
// U(-a, a) where a = gain * sqrt(6 / (fanIn + fanOut)).
func XavierUniform(p *Param, fanIn, fanOut int, gain float64, rng *rand.Rand) {
	a := gain * math.Sqrt(6/float64(fanIn+fanOut))
	data := p.Value.RawMatrix().Data
	for i := range data {
		data[i] = (2*rng.Float64() - 1) * a
	}
}

// NormalInit fills the parameter with N(0, std) samples.
func NormalInit(p *Param, std float64, rng *rand.Rand) {
	data := p.Value.RawMatrix().Data
	for i := range data {
		data[i] = rng.NormFloat64() * std
	}
}

// UniformInit fills the parameter with U(-a, a) samples. PyTorch uses
// this with a = 1/sqrt(hiddenSize) for recurrent cells.
func UniformInit(p *Param, a float64, rng *rand.Rand) {
	data := p.Value.RawMatrix().Data
	for i := range data {
		data[i] = (2*rng.Float64() - 1) * a
	}
}
