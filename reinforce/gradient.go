package reinforce

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/pierrot-lc/snake-search/model"
	"github.com/pierrot-lc/snake-search/nn"
)

// Metrics summarizes one training iteration.
type Metrics struct {
	Loss       float64
	Return     float64
	Percentage float64
	Length     float64
	Entropy    float64
}

// Backprop pushes the REINFORCE gradient of a sampled rollout through
// the policy, accumulating into the parameter gradients, and returns
// the iteration metrics. Gradients only flow through live steps.
func Backprop(policy *model.Policy, r *Rollout, entropyWeight float64) Metrics {
	var m Metrics
	for _, v := range r.Percentages {
		m.Percentage += v
	}
	if r.Batch > 0 {
		m.Percentage /= float64(r.Batch)
	}

	maskSum := r.MaskSum()
	if maskSum == 0 {
		policy.ClearCache()
		return m
	}

	adv := r.Advantages()
	for _, v := range r.Returns[0] {
		m.Return += v
	}
	m.Return /= float64(r.Batch)
	m.Length = maskSum / float64(r.Batch)

	var dState model.State
	for t := len(r.Steps) - 1; t >= 0; t-- {
		step := r.Steps[t]

		dyEntropy := nn.Entropy(step.DYProbs)
		dxEntropy := nn.Entropy(step.DXProbs)

		dDY := headGradient(step.DYProbs, step.DYIDs, dyEntropy, adv[t], step.Mask, maskSum, entropyWeight)
		dDX := headGradient(step.DXProbs, step.DXIDs, dxEntropy, adv[t], step.Mask, maskSum, entropyWeight)

		for i := 0; i < r.Batch; i++ {
			factor := step.Mask[i] / maskSum
			logp := math.Log(step.DYProbs.At(i, step.DYIDs[i])+1e-12) +
				math.Log(step.DXProbs.At(i, step.DXIDs[i])+1e-12)
			entropy := dyEntropy[i] + dxEntropy[i]
			m.Loss += -logp*adv[t][i]*factor - entropyWeight*entropy*factor
			m.Entropy += entropy * factor
		}

		dState = policy.Backward(dDY, dDX, dState)
	}

	return m
}

// headGradient builds the analytic logits gradient of one categorical
// head: the policy-gradient term through the chosen action's log
// probability plus the entropy bonus.
func headGradient(probs *mat.Dense, ids []int, entropy, adv, mask []float64, maskSum, entropyWeight float64) *mat.Dense {
	rows, cols := probs.Dims()
	d := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		factor := mask[i] / maskSum
		if factor == 0 {
			continue
		}
		pRow := probs.RawRowView(i)
		dRow := d.RawRowView(i)
		for j, p := range pRow {
			// d logp[a]/dz_j = delta(j,a) - p_j
			// dH/dz_j = -p_j*(log p_j + H)
			grad := -adv[i] * factor * (-p)
			if j == ids[i] {
				grad = -adv[i] * factor * (1 - p)
			}
			grad += entropyWeight * factor * p * (math.Log(p+1e-12) + entropy[i])
			dRow[j] = grad
		}
	}
	return d
}
