package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const layerNormEps = 1e-5

// LayerNorm normalizes each row to zero mean and unit variance, then
// applies a learned elementwise affine transform.
type LayerNorm struct {
	Dim   int
	Gamma *Param
	Beta  *Param

	cache []layerNormCache
}

type layerNormCache struct {
	norm   *mat.Dense
	invStd []float64
}

func NewLayerNorm(name string, dim int) *LayerNorm {
	l := &LayerNorm{
		Dim:   dim,
		Gamma: NewParam(name+".weight", 1, dim),
		Beta:  NewParam(name+".bias", 1, dim),
	}
	for j := 0; j < dim; j++ {
		l.Gamma.Value.Set(0, j, 1)
	}
	return l
}

func (l *LayerNorm) Params() []*Param {
	return []*Param{l.Gamma, l.Beta}
}

func (l *LayerNorm) Forward(x *mat.Dense) *mat.Dense {
	rows, _ := x.Dims()
	checkDims("LayerNorm.Forward", x, rows, l.Dim)

	norm := mat.NewDense(rows, l.Dim, nil)
	invStd := make([]float64, rows)
	y := mat.NewDense(rows, l.Dim, nil)

	gamma := l.Gamma.Value.RawRowView(0)
	beta := l.Beta.Value.RawRowView(0)

	for i := 0; i < rows; i++ {
		row := x.RawRowView(i)

		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(l.Dim)

		variance := 0.0
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float64(l.Dim)

		invStd[i] = 1 / math.Sqrt(variance+layerNormEps)

		normRow := norm.RawRowView(i)
		outRow := y.RawRowView(i)
		for j, v := range row {
			normRow[j] = (v - mean) * invStd[i]
			outRow[j] = normRow[j]*gamma[j] + beta[j]
		}
	}

	l.cache = append(l.cache, layerNormCache{norm: norm, invStd: invStd})
	return y
}

func (l *LayerNorm) Backward(dy *mat.Dense) *mat.Dense {
	c := l.cache[len(l.cache)-1]
	l.cache = l.cache[:len(l.cache)-1]

	rows, _ := dy.Dims()
	dx := mat.NewDense(rows, l.Dim, nil)

	gamma := l.Gamma.Value.RawRowView(0)
	dGamma := l.Gamma.Grad.RawRowView(0)
	dBeta := l.Beta.Grad.RawRowView(0)
	n := float64(l.Dim)

	for i := 0; i < rows; i++ {
		dyRow := dy.RawRowView(i)
		normRow := c.norm.RawRowView(i)

		// dNorm = dy * gamma; two reductions fold the mean and
		// variance paths back into dx.
		sumDNorm := 0.0
		sumDNormNorm := 0.0
		for j := range dyRow {
			dGamma[j] += dyRow[j] * normRow[j]
			dBeta[j] += dyRow[j]
			dn := dyRow[j] * gamma[j]
			sumDNorm += dn
			sumDNormNorm += dn * normRow[j]
		}

		dxRow := dx.RawRowView(i)
		for j := range dyRow {
			dn := dyRow[j] * gamma[j]
			dxRow[j] = (dn - sumDNorm/n - normRow[j]*sumDNormNorm/n) * c.invStd[i]
		}
	}

	return dx
}

func (l *LayerNorm) ClearCache() {
	l.cache = l.cache[:0]
}
