package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Linear is a fully connected layer y = x W + b.
//
// Forward pushes its input on an internal stack so the layer can be
// called several times per rollout; Backward pops in reverse order.
type Linear struct {
	In, Out int
	W       *Param
	B       *Param

	cache []*mat.Dense
}

func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In:  in,
		Out: out,
		W:   NewParam(name+".weight", in, out),
		B:   NewParam(name+".bias", 1, out),
	}
	XavierUniform(l.W, in, out, 1, rng)
	return l
}

func (l *Linear) Params() []*Param {
	return []*Param{l.W, l.B}
}

// Forward computes x W + b for a [batch, in] input.
func (l *Linear) Forward(x *mat.Dense) *mat.Dense {
	rows, _ := x.Dims()
	checkDims("Linear.Forward", x, rows, l.In)

	y := mat.NewDense(rows, l.Out, nil)
	y.Mul(x, l.W.Value)

	bias := l.B.Value.RawRowView(0)
	for i := 0; i < rows; i++ {
		row := y.RawRowView(i)
		for j := range row {
			row[j] += bias[j]
		}
	}

	l.cache = append(l.cache, x)
	return y
}

// Backward consumes the most recent cached input, accumulates weight
// and bias gradients, and returns the gradient with respect to x.
func (l *Linear) Backward(dy *mat.Dense) *mat.Dense {
	x := l.cache[len(l.cache)-1]
	l.cache = l.cache[:len(l.cache)-1]

	rows, _ := x.Dims()
	checkDims("Linear.Backward", dy, rows, l.Out)

	var dw mat.Dense
	dw.Mul(x.T(), dy)
	l.W.Grad.Add(l.W.Grad, &dw)

	db := l.B.Grad.RawRowView(0)
	for i := 0; i < rows; i++ {
		row := dy.RawRowView(i)
		for j := range row {
			db[j] += row[j]
		}
	}

	dx := mat.NewDense(rows, l.In, nil)
	dx.Mul(dy, l.W.Value.T())
	return dx
}

// ClearCache drops pending forward activations, for inference passes
// where no Backward will follow.
func (l *Linear) ClearCache() {
	l.cache = l.cache[:0]
}

// GELU applies the exact Gaussian error linear unit element-wise.
type GELU struct {
	cache []*mat.Dense
}

func (g *GELU) Params() []*Param { return nil }

func (g *GELU) Forward(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	y := mat.NewDense(rows, cols, nil)
	yd := y.RawMatrix().Data
	xd := x.RawMatrix().Data
	for i, v := range xd {
		yd[i] = 0.5 * v * (1 + math.Erf(v/math.Sqrt2))
	}
	g.cache = append(g.cache, x)
	return y
}

func (g *GELU) Backward(dy *mat.Dense) *mat.Dense {
	x := g.cache[len(g.cache)-1]
	g.cache = g.cache[:len(g.cache)-1]

	rows, cols := x.Dims()
	dx := mat.NewDense(rows, cols, nil)
	dxd := dx.RawMatrix().Data
	xd := x.RawMatrix().Data
	dyd := dy.RawMatrix().Data
	for i, v := range xd {
		cdf := 0.5 * (1 + math.Erf(v/math.Sqrt2))
		pdf := math.Exp(-0.5*v*v) / math.Sqrt(2*math.Pi)
		dxd[i] = dyd[i] * (cdf + v*pdf)
	}
	return dx
}

func (g *GELU) ClearCache() {
	g.cache = g.cache[:0]
}
