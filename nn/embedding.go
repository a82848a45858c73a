package nn

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Embedding is a lookup table mapping integer ids to dense vectors.
type Embedding struct {
	NumEmbeddings int
	Dim           int
	W             *Param

	cache [][]int
}

func NewEmbedding(name string, num, dim int, rng *rand.Rand) *Embedding {
	e := &Embedding{
		NumEmbeddings: num,
		Dim:           dim,
		W:             NewParam(name+".weight", num, dim),
	}
	NormalInit(e.W, 1, rng)
	return e
}

func (e *Embedding) Params() []*Param {
	return []*Param{e.W}
}

// Forward gathers one table row per id into a [len(ids), dim] matrix.
func (e *Embedding) Forward(ids []int) *mat.Dense {
	y := mat.NewDense(len(ids), e.Dim, nil)
	for i, id := range ids {
		y.SetRow(i, e.W.Value.RawRowView(id))
	}
	e.cache = append(e.cache, ids)
	return y
}

// Backward scatters the output gradient back into the table rows.
func (e *Embedding) Backward(dy *mat.Dense) {
	ids := e.cache[len(e.cache)-1]
	e.cache = e.cache[:len(e.cache)-1]

	for i, id := range ids {
		grad := e.W.Grad.RawRowView(id)
		row := dy.RawRowView(i)
		for j := range row {
			grad[j] += row[j]
		}
	}
}

func (e *Embedding) ClearCache() {
	e.cache = e.cache[:0]
}
