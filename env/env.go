// Package env implements the batched needle-search environment.
//
// Every batch item is an independent episode on the same fixed canvas:
// an agent sits on a patch grid, observes the multi-resolution glimpse
// stack under its position, and jumps around until it has visited every
// patch containing an object, or the step cap is reached. Rewards are
// the per-step increase of the visited-object score, normalized so one
// full episode sums to at most 1.
package env

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/pierrot-lc/snake-search/dataset"
)

// Action is one relative jump on the patch grid. Rows grow downward.
// Moves wrap around the grid edges.
type Action struct {
	DY, DX int
}

// Infos carries the per-step diagnostics of the batch.
type Infos struct {
	// Positions of the agents, as (row, col) grid coordinates.
	Positions [][2]int
	// Delta is the raw score increase of the step.
	Delta []float64
	// JustFinished marks episodes terminated by this exact step.
	JustFinished []bool
	// Percentages is the fraction of scoring patches found so far.
	Percentages []float64
}

// StepResult bundles the observation and reward signals of one step.
type StepResult struct {
	// Patches is the observation matrix, one row per batch item of
	// size n_glimps_levels * channels * patch_size * patch_size,
	// values in [0, 1].
	Patches    *mat.Dense
	Rewards    []float64
	Terminated []bool
	Truncated  []bool
	Infos      Infos
}

// Env is a batch of needle-search episodes over one collated image
// batch.
type Env struct {
	PatchSize     int
	MaxEpLen      int
	NGlimpsLevels int

	BatchSize int
	Channels  int
	Height    int
	Width     int
	Rows      int
	Cols      int

	// pyramid[b][g][c] is one h*w plane.
	pyramid [][][][]float64
	// bboxMask[b] marks the scoring patches, row-major [Rows*Cols].
	bboxMask [][]bool
	bboxes   [][]dataset.BBox

	positions  [][2]int
	visited    [][]bool
	steps      []int
	terminated []bool
	maxScores  []int

	rng *rand.Rand
}

// New builds the environment for a collated batch. The canvas must be
// divisible by the patch size.
func New(batch dataset.Batch, patchSize, maxEpLen, nGlimpsLevels int, rng *rand.Rand) (*Env, error) {
	shape := batch.Images.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("env: batch tensor must be 4-dimensional, got shape %v", shape)
	}
	b, c, h, w := shape[0], shape[1], shape[2], shape[3]

	if nGlimpsLevels <= 0 {
		return nil, fmt.Errorf("env: n_glimps_levels must be positive, got %d", nGlimpsLevels)
	}
	if h%patchSize != 0 || w%patchSize != 0 {
		return nil, fmt.Errorf("env: canvas %dx%d not divisible by patch size %d", w, h, patchSize)
	}

	e := &Env{
		PatchSize:     patchSize,
		MaxEpLen:      maxEpLen,
		NGlimpsLevels: nGlimpsLevels,
		BatchSize:     b,
		Channels:      c,
		Height:        h,
		Width:         w,
		Rows:          h / patchSize,
		Cols:          w / patchSize,
		bboxes:        batch.BBoxes,
		rng:           rng,
	}

	data := batch.Images.Data().([]float32)
	plane := h * w
	e.pyramid = make([][][][]float64, b)
	for i := 0; i < b; i++ {
		channels := make([][]float64, c)
		for ch := 0; ch < c; ch++ {
			channels[ch] = make([]float64, plane)
			base := (i*c + ch) * plane
			for p := 0; p < plane; p++ {
				channels[ch][p] = float64(data[base+p])
			}
		}
		e.pyramid[i] = buildPyramid(channels, h, w, patchSize, nGlimpsLevels)
	}

	e.bboxMask = make([][]bool, b)
	e.maxScores = make([]int, b)
	for i := 0; i < b; i++ {
		e.bboxMask[i] = patchMask(batch.BBoxes[i], patchSize, e.Rows, e.Cols)
		for _, hit := range e.bboxMask[i] {
			if hit {
				e.maxScores[i]++
			}
		}
	}

	e.reset()
	return e, nil
}

// patchMask marks every patch overlapped by at least one bbox.
func patchMask(bboxes []dataset.BBox, patchSize, rows, cols int) []bool {
	mask := make([]bool, rows*cols)
	for _, bbox := range bboxes {
		if bbox.Empty() {
			continue
		}
		r1 := bbox.Y1 / patchSize
		c1 := bbox.X1 / patchSize
		r2 := (bbox.Y2 - 1) / patchSize
		c2 := (bbox.X2 - 1) / patchSize
		for r := r1; r <= r2 && r < rows; r++ {
			for c := c1; c <= c2 && c < cols; c++ {
				mask[r*cols+c] = true
			}
		}
	}
	return mask
}

func (e *Env) reset() {
	e.positions = make([][2]int, e.BatchSize)
	e.visited = make([][]bool, e.BatchSize)
	e.steps = make([]int, e.BatchSize)
	e.terminated = make([]bool, e.BatchSize)
	for i := range e.visited {
		e.visited[i] = make([]bool, e.Rows*e.Cols)
	}
}

// Reset places the agents at random positions and returns the first
// observation.
func (e *Env) Reset() (*mat.Dense, Infos) {
	e.reset()

	for i := range e.positions {
		e.positions[i] = [2]int{e.rng.Intn(e.Rows), e.rng.Intn(e.Cols)}
		e.markVisited(i)
		e.terminated[i] = e.score(i) == e.maxScores[i]
	}

	infos := Infos{
		Positions:    e.Positions(),
		Delta:        make([]float64, e.BatchSize),
		JustFinished: make([]bool, e.BatchSize),
		Percentages:  e.percentages(),
	}

	return e.Patches(), infos
}

// Step applies one action per batch item.
func (e *Env) Step(actions []Action) (StepResult, error) {
	if len(actions) != e.BatchSize {
		return StepResult{}, fmt.Errorf("env: got %d actions for batch size %d", len(actions), e.BatchSize)
	}

	previous := make([]int, e.BatchSize)
	for i := range previous {
		previous[i] = e.score(i)
	}

	for i, action := range actions {
		e.positions[i][0] = wrap(e.positions[i][0]+action.DY, e.Rows)
		e.positions[i][1] = wrap(e.positions[i][1]+action.DX, e.Cols)
		e.markVisited(i)
		e.steps[i]++
	}

	result := StepResult{
		Rewards:    make([]float64, e.BatchSize),
		Terminated: make([]bool, e.BatchSize),
		Truncated:  make([]bool, e.BatchSize),
		Infos: Infos{
			Positions:    e.Positions(),
			Delta:        make([]float64, e.BatchSize),
			JustFinished: make([]bool, e.BatchSize),
			Percentages:  make([]float64, e.BatchSize),
		},
	}

	for i := 0; i < e.BatchSize; i++ {
		score := e.score(i)
		delta := score - previous[i]

		wasTerminated := e.terminated[i]
		if score == e.maxScores[i] {
			e.terminated[i] = true
		}

		maxScore := e.maxScores[i]
		if maxScore == 0 {
			maxScore = 1
		}

		result.Rewards[i] = float64(delta) / float64(maxScore)
		result.Terminated[i] = e.terminated[i]
		result.Truncated[i] = e.steps[i] >= e.MaxEpLen
		result.Infos.Delta[i] = float64(delta)
		result.Infos.JustFinished[i] = e.terminated[i] && !wasTerminated && delta != 0
		result.Infos.Percentages[i] = float64(score) / float64(maxScore)
	}

	result.Patches = e.Patches()
	return result, nil
}

func wrap(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}

func (e *Env) markVisited(i int) {
	e.visited[i][e.positions[i][0]*e.Cols+e.positions[i][1]] = true
}

func (e *Env) score(i int) int {
	score := 0
	for p, hit := range e.bboxMask[i] {
		if hit && e.visited[i][p] {
			score++
		}
	}
	return score
}

func (e *Env) percentages() []float64 {
	out := make([]float64, e.BatchSize)
	for i := range out {
		maxScore := e.maxScores[i]
		if maxScore == 0 {
			maxScore = 1
		}
		out[i] = float64(e.score(i)) / float64(maxScore)
	}
	return out
}

// Patches gathers the glimpse stack under every agent. Row i holds the
// levels of item i in [level][channel][y][x] order.
func (e *Env) Patches() *mat.Dense {
	p := e.PatchSize
	cols := e.NGlimpsLevels * e.Channels * p * p
	out := mat.NewDense(e.BatchSize, cols, nil)

	for i := 0; i < e.BatchSize; i++ {
		row, col := e.positions[i][0], e.positions[i][1]
		idx := 0
		for g := 0; g < e.NGlimpsLevels; g++ {
			for ch := 0; ch < e.Channels; ch++ {
				plane := e.pyramid[i][g][ch]
				for y := 0; y < p; y++ {
					base := (row*p+y)*e.Width + col*p
					for x := 0; x < p; x++ {
						out.Set(i, idx, plane[base+x])
						idx++
					}
				}
			}
		}
	}

	return out
}

// Scores returns the current per-item scores.
func (e *Env) Scores() []int {
	out := make([]int, e.BatchSize)
	for i := range out {
		out[i] = e.score(i)
	}
	return out
}

// MaxScores returns the number of scoring patches per item.
func (e *Env) MaxScores() []int {
	out := make([]int, e.BatchSize)
	copy(out, e.maxScores)
	return out
}

// Live reports which episodes are still running, neither terminated
// nor truncated.
func (e *Env) Live() []bool {
	out := make([]bool, e.BatchSize)
	for i := range out {
		out[i] = !e.terminated[i] && e.steps[i] < e.MaxEpLen
	}
	return out
}

// Positions returns a copy of the agent grid positions.
func (e *Env) Positions() [][2]int {
	out := make([][2]int, e.BatchSize)
	copy(out, e.positions)
	return out
}

// BBoxes returns the bounding boxes of the batch, for rendering.
func (e *Env) BBoxes() [][]dataset.BBox {
	return e.bboxes
}

// Done reports whether every episode is terminated or truncated.
func (e *Env) Done() bool {
	for i := 0; i < e.BatchSize; i++ {
		if !e.terminated[i] && e.steps[i] < e.MaxEpLen {
			return false
		}
	}
	return true
}
