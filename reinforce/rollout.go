// Package reinforce trains the policy with the REINFORCE gradient:
// sampled rollouts, masked suffix-sum returns standardized across the
// batch, and an entropy bonus keeping the jump distributions from
// collapsing.
package reinforce

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/pierrot-lc/snake-search/env"
	"github.com/pierrot-lc/snake-search/model"
	"github.com/pierrot-lc/snake-search/nn"
)

// Step records everything one decision step needs for the gradient.
type Step struct {
	DYProbs *mat.Dense
	DXProbs *mat.Dense
	DYIDs   []int
	DXIDs   []int
	Rewards []float64
	// Mask is 1 while the episode was live when the action was taken,
	// so the terminal step still counts.
	Mask []float64
}

// Rollout is one sampled episode batch plus its derived statistics.
type Rollout struct {
	Steps       []Step
	Returns     [][]float64 // [step][item] masked suffix sums
	Percentages []float64
	Batch       int
}

// Sample plays the policy on a freshly reset environment, drawing
// actions from the categorical heads until every episode has finished.
// The policy caches stay populated so Backprop can consume them.
func Sample(e *env.Env, policy *model.Policy, rng *rand.Rand) *Rollout {
	patches, infos := e.Reset()
	batch := e.BatchSize

	r := &Rollout{Batch: batch, Percentages: infos.Percentages}
	state := policy.ZeroState(batch)
	prev := make([]env.Action, batch)
	live := e.Live()

	for !e.Done() {
		dyLogits, dxLogits, next := policy.Forward(patches, prev, state)
		dyProbs := nn.Softmax(dyLogits)
		dxProbs := nn.Softmax(dxLogits)

		dyIDs := nn.Sample(dyProbs, rng)
		dxIDs := nn.Sample(dxProbs, rng)

		actions := make([]env.Action, batch)
		for i := range actions {
			actions[i] = env.Action{DY: dyIDs[i] - policy.JumpSize, DX: dxIDs[i] - policy.JumpSize}
		}

		result, err := e.Step(actions)
		if err != nil {
			// Actions are built from the head sizes, a step error
			// here is a programming bug.
			panic(err)
		}

		step := Step{
			DYProbs: dyProbs,
			DXProbs: dxProbs,
			DYIDs:   dyIDs,
			DXIDs:   dxIDs,
			Rewards: result.Rewards,
			Mask:    make([]float64, batch),
		}
		for i, wasLive := range live {
			if wasLive {
				step.Mask[i] = 1
			}
		}
		r.Steps = append(r.Steps, step)

		patches = result.Patches
		state = next
		prev = actions
		live = e.Live()
		r.Percentages = result.Infos.Percentages
	}

	r.computeReturns()
	return r
}

// computeReturns fills the masked suffix sums of the rewards.
func (r *Rollout) computeReturns() {
	T := len(r.Steps)
	r.Returns = make([][]float64, T)
	acc := make([]float64, r.Batch)
	for t := T - 1; t >= 0; t-- {
		step := r.Steps[t]
		row := make([]float64, r.Batch)
		for i := 0; i < r.Batch; i++ {
			acc[i] += step.Rewards[i] * step.Mask[i]
			row[i] = acc[i]
		}
		r.Returns[t] = row
	}
}

// MaskSum is the total number of live steps across the batch.
func (r *Rollout) MaskSum() float64 {
	total := 0.0
	for _, step := range r.Steps {
		for _, m := range step.Mask {
			total += m
		}
	}
	return total
}

// Advantages standardizes every step's returns across the batch.
func (r *Rollout) Advantages() [][]float64 {
	out := make([][]float64, len(r.Returns))
	for t, row := range r.Returns {
		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(r.Batch)

		variance := 0.0
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		// sample standard deviation, zero for a single-item batch
		std := 0.0
		if r.Batch > 1 {
			std = math.Sqrt(variance / float64(r.Batch-1))
		}

		adv := make([]float64, r.Batch)
		for i, v := range row {
			adv[i] = (v - mean) / (std + 1e-8)
		}
		out[t] = adv
	}
	return out
}

// GreedyStep is one argmax decision used for evaluation and drawing.
type GreedyStep struct {
	Positions [][2]int
	Live      []bool
}

// Greedy plays the argmax policy on a freshly reset environment and
// returns the visited positions per step, starting with the reset
// position. The policy caches are cleared afterwards.
func Greedy(e *env.Env, policy *model.Policy) []GreedyStep {
	patches, infos := e.Reset()
	batch := e.BatchSize

	state := policy.ZeroState(batch)
	prev := make([]env.Action, batch)

	steps := []GreedyStep{{Positions: infos.Positions, Live: e.Live()}}
	for !e.Done() {
		dyLogits, dxLogits, next := policy.Forward(patches, prev, state)
		dyIDs := nn.Argmax(nn.Softmax(dyLogits))
		dxIDs := nn.Argmax(nn.Softmax(dxLogits))

		actions := make([]env.Action, batch)
		for i := range actions {
			actions[i] = env.Action{DY: dyIDs[i] - policy.JumpSize, DX: dxIDs[i] - policy.JumpSize}
		}

		result, err := e.Step(actions)
		if err != nil {
			panic(err)
		}

		steps = append(steps, GreedyStep{Positions: result.Infos.Positions, Live: e.Live()})
		patches = result.Patches
		state = next
		prev = actions
	}

	policy.ClearCache()
	return steps
}
