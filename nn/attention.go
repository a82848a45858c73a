package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// MultiHeadAttention is scaled dot-product self-attention over token
// sequences. Sequences are flattened batch-major: the input holds
// batch*numTokens rows of embeddingSize columns, and attention only
// mixes tokens belonging to the same item.
type MultiHeadAttention struct {
	Dim     int
	Heads   int
	headDim int

	Wq, Wk, Wv, Wo *Linear

	cache []attnCache
}

type attnCache struct {
	q, k, v   *mat.Dense
	attn      []*mat.Dense // one [numTokens, numTokens] matrix per (item, head)
	numTokens int
}

func NewMultiHeadAttention(name string, dim, heads int, rng *rand.Rand) *MultiHeadAttention {
	if dim%heads != 0 {
		panic(fmt.Sprintf("nn: embedding size %d not divisible by %d heads", dim, heads))
	}
	return &MultiHeadAttention{
		Dim:     dim,
		Heads:   heads,
		headDim: dim / heads,
		Wq:      NewLinear(name+".query", dim, dim, rng),
		Wk:      NewLinear(name+".key", dim, dim, rng),
		Wv:      NewLinear(name+".value", dim, dim, rng),
		Wo:      NewLinear(name+".out", dim, dim, rng),
	}
}

func (a *MultiHeadAttention) Params() []*Param {
	return CollectParams(a.Wq, a.Wk, a.Wv, a.Wo)
}

func (a *MultiHeadAttention) Forward(x *mat.Dense, numTokens int) *mat.Dense {
	rows, _ := x.Dims()
	if rows%numTokens != 0 {
		panic(fmt.Sprintf("nn: %d rows not divisible by %d tokens", rows, numTokens))
	}
	batch := rows / numTokens

	q := a.Wq.Forward(x)
	k := a.Wk.Forward(x)
	v := a.Wv.Forward(x)

	scale := 1 / math.Sqrt(float64(a.headDim))
	attn := make([]*mat.Dense, batch*a.Heads)
	out := mat.NewDense(rows, a.Dim, nil)

	for b := 0; b < batch; b++ {
		for h := 0; h < a.Heads; h++ {
			off := h * a.headDim

			scores := mat.NewDense(numTokens, numTokens, nil)
			for i := 0; i < numTokens; i++ {
				qRow := q.RawRowView(b*numTokens + i)[off : off+a.headDim]
				for j := 0; j < numTokens; j++ {
					kRow := k.RawRowView(b*numTokens + j)[off : off+a.headDim]
					dot := 0.0
					for d := range qRow {
						dot += qRow[d] * kRow[d]
					}
					scores.Set(i, j, dot*scale)
				}
			}

			for i := 0; i < numTokens; i++ {
				softmaxInPlace(scores.RawRowView(i))
			}
			attn[b*a.Heads+h] = scores

			for i := 0; i < numTokens; i++ {
				aRow := scores.RawRowView(i)
				outRow := out.RawRowView(b*numTokens + i)[off : off+a.headDim]
				for j := 0; j < numTokens; j++ {
					vRow := v.RawRowView(b*numTokens + j)[off : off+a.headDim]
					for d := range outRow {
						outRow[d] += aRow[j] * vRow[d]
					}
				}
			}
		}
	}

	a.cache = append(a.cache, attnCache{q: q, k: k, v: v, attn: attn, numTokens: numTokens})
	return a.Wo.Forward(out)
}

func (a *MultiHeadAttention) Backward(dy *mat.Dense) *mat.Dense {
	c := a.cache[len(a.cache)-1]
	a.cache = a.cache[:len(a.cache)-1]

	dOut := a.Wo.Backward(dy)

	rows, _ := dOut.Dims()
	batch := rows / c.numTokens
	scale := 1 / math.Sqrt(float64(a.headDim))

	dq := mat.NewDense(rows, a.Dim, nil)
	dk := mat.NewDense(rows, a.Dim, nil)
	dv := mat.NewDense(rows, a.Dim, nil)

	for b := 0; b < batch; b++ {
		for h := 0; h < a.Heads; h++ {
			off := h * a.headDim
			attn := c.attn[b*a.Heads+h]

			for i := 0; i < c.numTokens; i++ {
				dOutRow := dOut.RawRowView(b*c.numTokens + i)[off : off+a.headDim]
				aRow := attn.RawRowView(i)

				// dAttn[j] = dOut_i . v_j, and dv_j += attn[j] * dOut_i.
				dAttn := make([]float64, c.numTokens)
				for j := 0; j < c.numTokens; j++ {
					vRow := c.v.RawRowView(b*c.numTokens + j)[off : off+a.headDim]
					dvRow := dv.RawRowView(b*c.numTokens + j)[off : off+a.headDim]
					dot := 0.0
					for d := range dOutRow {
						dot += dOutRow[d] * vRow[d]
						dvRow[d] += aRow[j] * dOutRow[d]
					}
					dAttn[j] = dot
				}

				// Softmax jacobian: dScore = a * (dAttn - <dAttn, a>).
				inner := 0.0
				for j := range dAttn {
					inner += dAttn[j] * aRow[j]
				}

				dqRow := dq.RawRowView(b*c.numTokens + i)[off : off+a.headDim]
				qRow := c.q.RawRowView(b*c.numTokens + i)[off : off+a.headDim]
				for j := 0; j < c.numTokens; j++ {
					dScore := aRow[j] * (dAttn[j] - inner) * scale
					kRow := c.k.RawRowView(b*c.numTokens + j)[off : off+a.headDim]
					dkRow := dk.RawRowView(b*c.numTokens + j)[off : off+a.headDim]
					for d := range dqRow {
						dqRow[d] += dScore * kRow[d]
						dkRow[d] += dScore * qRow[d]
					}
				}
			}
		}
	}

	dx := a.Wq.Backward(dq)
	dx.Add(dx, a.Wk.Backward(dk))
	dx.Add(dx, a.Wv.Backward(dv))
	return dx
}

func (a *MultiHeadAttention) ClearCache() {
	a.cache = a.cache[:0]
	a.Wq.ClearCache()
	a.Wk.ClearCache()
	a.Wv.ClearCache()
	a.Wo.ClearCache()
}
