package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// softmaxInPlace replaces the slice with its softmax, shifted by the
// max for stability.
func softmaxInPlace(row []float64) {
	max := row[0]
	for _, v := range row[1:] {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	for i, v := range row {
		row[i] = math.Exp(v - max)
		sum += row[i]
	}
	for i := range row {
		row[i] /= sum
	}
}

// Softmax returns row-wise probabilities for a matrix of logits.
func Softmax(logits *mat.Dense) *mat.Dense {
	rows, cols := logits.Dims()
	probs := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		row := probs.RawRowView(i)
		copy(row, logits.RawRowView(i))
		softmaxInPlace(row)
	}
	return probs
}

// LogProb returns log p[action] for each row of a probability matrix.
func LogProb(probs *mat.Dense, actions []int) []float64 {
	out := make([]float64, len(actions))
	for i, a := range actions {
		out[i] = math.Log(probs.At(i, a) + 1e-12)
	}
	return out
}

// Entropy returns the Shannon entropy of each probability row.
func Entropy(probs *mat.Dense) []float64 {
	rows, _ := probs.Dims()
	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		h := 0.0
		for _, p := range probs.RawRowView(i) {
			if p > 0 {
				h -= p * math.Log(p)
			}
		}
		out[i] = h
	}
	return out
}

// Sample draws one index per probability row using the inverse CDF.
func Sample(probs *mat.Dense, rng *rand.Rand) []int {
	rows, cols := probs.Dims()
	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		u := rng.Float64()
		row := probs.RawRowView(i)
		acc := 0.0
		out[i] = cols - 1
		for j, p := range row {
			acc += p
			if u < acc {
				out[i] = j
				break
			}
		}
	}
	return out
}

// Argmax returns the most likely index per row.
func Argmax(probs *mat.Dense) []int {
	rows, cols := probs.Dims()
	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		row := probs.RawRowView(i)
		best := 0
		for j := 1; j < cols; j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		out[i] = best
	}
	return out
}
