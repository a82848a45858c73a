// Package nn implements the small set of neural network layers the
// policy needs: linear, embedding, layer norm, multi-head attention and
// GRU cells. Every layer keeps a cache of its forward activations so
// gradients can be pushed back through arbitrarily long rollouts, and
// all math runs on gonum dense matrices with rows indexing the batch.
package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Param is one learnable tensor together with its accumulated gradient.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParam allocates a zero-valued parameter of the given shape.
func NewParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// NumElements returns the parameter count.
func (p *Param) NumElements() int {
	r, c := p.Value.Dims()
	return r * c
}

// Module is anything holding learnable parameters.
type Module interface {
	Params() []*Param
}

// CollectParams flattens the parameters of several modules.
func CollectParams(modules ...Module) []*Param {
	var params []*Param
	for _, m := range modules {
		params = append(params, m.Params()...)
	}
	return params
}

// NumParams sums the element counts of all parameters.
func NumParams(params []*Param) int {
	total := 0
	for _, p := range params {
		total += p.NumElements()
	}
	return total
}

// ZeroGrads clears every gradient in the list.
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

func checkDims(op string, m mat.Matrix, rows, cols int) {
	r, c := m.Dims()
	if r != rows || c != cols {
		panic(fmt.Sprintf("nn: %s expects %dx%d, got %dx%d", op, rows, cols, r, c))
	}
}
