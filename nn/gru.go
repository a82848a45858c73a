package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// GRUCell is a single gated recurrent unit step. Gate weights are laid
// out reset, update, candidate along the columns, and the update
// follows the torch convention h' = (1-z)*n + z*h.
type GRUCell struct {
	In, Hidden int

	Wih *Param // [in, 3*hidden]
	Whh *Param // [hidden, 3*hidden]
	Bih *Param
	Bhh *Param

	cache []gruCache
}

type gruCache struct {
	x, h    *mat.Dense
	r, z, n *mat.Dense
	ghn     *mat.Dense // hidden candidate pre-activation before the reset gate
}

func NewGRUCell(name string, in, hidden int, rng *rand.Rand) *GRUCell {
	g := &GRUCell{
		In:     in,
		Hidden: hidden,
		Wih:    NewParam(name+".weight_ih", in, 3*hidden),
		Whh:    NewParam(name+".weight_hh", hidden, 3*hidden),
		Bih:    NewParam(name+".bias_ih", 1, 3*hidden),
		Bhh:    NewParam(name+".bias_hh", 1, 3*hidden),
	}
	a := 1 / math.Sqrt(float64(hidden))
	UniformInit(g.Wih, a, rng)
	UniformInit(g.Whh, a, rng)
	UniformInit(g.Bih, a, rng)
	UniformInit(g.Bhh, a, rng)
	return g
}

func (g *GRUCell) Params() []*Param {
	return []*Param{g.Wih, g.Whh, g.Bih, g.Bhh}
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

// Forward advances the hidden state by one step.
func (g *GRUCell) Forward(x, h *mat.Dense) *mat.Dense {
	rows, _ := x.Dims()
	checkDims("GRUCell.Forward x", x, rows, g.In)
	checkDims("GRUCell.Forward h", h, rows, g.Hidden)

	gi := mat.NewDense(rows, 3*g.Hidden, nil)
	gi.Mul(x, g.Wih.Value)
	gh := mat.NewDense(rows, 3*g.Hidden, nil)
	gh.Mul(h, g.Whh.Value)

	bih := g.Bih.Value.RawRowView(0)
	bhh := g.Bhh.Value.RawRowView(0)

	r := mat.NewDense(rows, g.Hidden, nil)
	z := mat.NewDense(rows, g.Hidden, nil)
	n := mat.NewDense(rows, g.Hidden, nil)
	ghn := mat.NewDense(rows, g.Hidden, nil)
	hNew := mat.NewDense(rows, g.Hidden, nil)

	for i := 0; i < rows; i++ {
		giRow := gi.RawRowView(i)
		ghRow := gh.RawRowView(i)
		rRow := r.RawRowView(i)
		zRow := z.RawRowView(i)
		nRow := n.RawRowView(i)
		ghnRow := ghn.RawRowView(i)
		hRow := h.RawRowView(i)
		outRow := hNew.RawRowView(i)

		for j := 0; j < g.Hidden; j++ {
			rRow[j] = sigmoid(giRow[j] + bih[j] + ghRow[j] + bhh[j])
			zValIdx := g.Hidden + j
			zRow[j] = sigmoid(giRow[zValIdx] + bih[zValIdx] + ghRow[zValIdx] + bhh[zValIdx])
			nIdx := 2*g.Hidden + j
			ghnRow[j] = ghRow[nIdx] + bhh[nIdx]
			nRow[j] = math.Tanh(giRow[nIdx] + bih[nIdx] + rRow[j]*ghnRow[j])
			outRow[j] = (1-zRow[j])*nRow[j] + zRow[j]*hRow[j]
		}
	}

	g.cache = append(g.cache, gruCache{x: x, h: h, r: r, z: z, n: n, ghn: ghn})
	return hNew
}

// Backward takes the gradient with respect to the new hidden state and
// returns gradients for the input and the previous hidden state.
func (g *GRUCell) Backward(dhNew *mat.Dense) (dx, dh *mat.Dense) {
	c := g.cache[len(g.cache)-1]
	g.cache = g.cache[:len(g.cache)-1]

	rows, _ := dhNew.Dims()

	dGi := mat.NewDense(rows, 3*g.Hidden, nil)
	dGh := mat.NewDense(rows, 3*g.Hidden, nil)
	dh = mat.NewDense(rows, g.Hidden, nil)

	for i := 0; i < rows; i++ {
		dOut := dhNew.RawRowView(i)
		rRow := c.r.RawRowView(i)
		zRow := c.z.RawRowView(i)
		nRow := c.n.RawRowView(i)
		ghnRow := c.ghn.RawRowView(i)
		hRow := c.h.RawRowView(i)
		dGiRow := dGi.RawRowView(i)
		dGhRow := dGh.RawRowView(i)
		dhRow := dh.RawRowView(i)

		for j := 0; j < g.Hidden; j++ {
			dz := dOut[j] * (hRow[j] - nRow[j])
			dn := dOut[j] * (1 - zRow[j])
			dhRow[j] += dOut[j] * zRow[j]

			dnPre := dn * (1 - nRow[j]*nRow[j])
			dr := dnPre * ghnRow[j]
			drPre := dr * rRow[j] * (1 - rRow[j])
			dzPre := dz * zRow[j] * (1 - zRow[j])

			dGiRow[j] = drPre
			dGiRow[g.Hidden+j] = dzPre
			dGiRow[2*g.Hidden+j] = dnPre

			dGhRow[j] = drPre
			dGhRow[g.Hidden+j] = dzPre
			dGhRow[2*g.Hidden+j] = dnPre * rRow[j]
		}
	}

	var dw mat.Dense
	dw.Mul(c.x.T(), dGi)
	g.Wih.Grad.Add(g.Wih.Grad, &dw)

	var dwh mat.Dense
	dwh.Mul(c.h.T(), dGh)
	g.Whh.Grad.Add(g.Whh.Grad, &dwh)

	dBih := g.Bih.Grad.RawRowView(0)
	dBhh := g.Bhh.Grad.RawRowView(0)
	for i := 0; i < rows; i++ {
		giRow := dGi.RawRowView(i)
		ghRow := dGh.RawRowView(i)
		for j := range giRow {
			dBih[j] += giRow[j]
			dBhh[j] += ghRow[j]
		}
	}

	dx = mat.NewDense(rows, g.In, nil)
	dx.Mul(dGi, g.Wih.Value.T())

	var dhRec mat.Dense
	dhRec.Mul(dGh, g.Whh.Value.T())
	dh.Add(dh, &dhRec)

	return dx, dh
}

func (g *GRUCell) ClearCache() {
	g.cache = g.cache[:0]
}
