package reinforce

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/pierrot-lc/snake-search/config"
	"github.com/pierrot-lc/snake-search/dataset"
	"github.com/pierrot-lc/snake-search/env"
	"github.com/pierrot-lc/snake-search/model"
	"github.com/pierrot-lc/snake-search/nn"
	"github.com/pierrot-lc/snake-search/tracker"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Env.PatchSize = 8
	cfg.Env.MaxEpLen = 3
	cfg.Env.NGlimpsLevels = 1
	cfg.Data.BatchSize = 2
	cfg.Data.NumWorkers = 0
	cfg.Data.ImageSize = 16
	cfg.Model.ViTPatchSize = 4
	cfg.Model.ViTEmbeddingSize = 8
	cfg.Model.ViTNLayers = 1
	cfg.Model.ViTNHeads = 2
	cfg.Model.ViTFFNSize = 16
	cfg.Model.GRUHiddenSize = 8
	cfg.Model.GRUNumLayers = 1
	cfg.Model.JumpSize = 1
	cfg.Reinforce.NIterations = 2
	cfg.Reinforce.LogEvery = 1
	cfg.Reinforce.PlotEvery = 2
	return &cfg
}

func testSetup(t *testing.T, cfg *config.Config) (*model.Policy, *dataset.Loader, *env.Env) {
	t.Helper()

	policy, err := model.New(cfg.Model, cfg.Env.PatchSize, cfg.Env.NGlimpsLevels, rand.New(rand.NewSource(0)))
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}

	source := dataset.NewSynthetic(8, cfg.Data.ImageSize, cfg.Data.ImageSize, 1)
	needle := dataset.NewNeedle(source, cfg.Data.ImageSize, cfg.Data.FillMode)
	loader := dataset.NewLoader(needle, cfg.Data.BatchSize, 0, 2)
	t.Cleanup(func() { loader.Close() })

	batch, err := loader.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	e, err := env.New(batch, cfg.Env.PatchSize, cfg.Env.MaxEpLen, cfg.Env.NGlimpsLevels, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("env.New: %v", err)
	}
	return policy, loader, e
}

func TestComputeReturns(t *testing.T) {
	r := &Rollout{
		Batch: 2,
		Steps: []Step{
			{Rewards: []float64{0.5, 0.2}, Mask: []float64{1, 1}},
			{Rewards: []float64{0.5, 0.8}, Mask: []float64{1, 0}},
			{Rewards: []float64{0.1, 0.9}, Mask: []float64{0, 0}},
		},
	}
	r.computeReturns()

	// Masked rewards never count, suffix sums otherwise.
	want := [][]float64{{1.0, 0.2}, {0.5, 0}, {0, 0}}
	for ti, row := range want {
		for i, v := range row {
			if math.Abs(r.Returns[ti][i]-v) > 1e-12 {
				t.Errorf("Returns[%d][%d] = %f, want %f", ti, i, r.Returns[ti][i], v)
			}
		}
	}

	if got := r.MaskSum(); got != 3 {
		t.Errorf("MaskSum = %f, want 3", got)
	}
}

func TestAdvantagesStandardized(t *testing.T) {
	r := &Rollout{
		Batch: 4,
		Steps: []Step{{Rewards: []float64{1, 2, 3, 4}, Mask: []float64{1, 1, 1, 1}}},
	}
	r.computeReturns()
	adv := r.Advantages()

	mean := 0.0
	for _, v := range adv[0] {
		mean += v
	}
	mean /= 4
	if math.Abs(mean) > 1e-9 {
		t.Errorf("advantage mean = %g, want 0", mean)
	}

	// Standardization uses the sample standard deviation (n-1).
	variance := 0.0
	for _, v := range adv[0] {
		variance += (v - mean) * (v - mean)
	}
	if std := math.Sqrt(variance / 3); math.Abs(std-1) > 1e-6 {
		t.Errorf("advantage sample std = %f, want 1", std)
	}

	single := &Rollout{
		Batch: 1,
		Steps: []Step{{Rewards: []float64{1}, Mask: []float64{1}}},
	}
	single.computeReturns()
	for _, v := range single.Advantages()[0] {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("single-item advantage = %g, want finite", v)
		}
	}
}

// TestHeadGradient verifies the analytic logits gradient against
// central differences of the masked policy-gradient loss.
func TestHeadGradient(t *testing.T) {
	logits := []float64{0.3, -1.2, 0.7}
	const (
		action        = 2
		advValue      = 0.8
		entropyWeight = 0.05
		maskSum       = 5.0
	)

	lossAt := func(z []float64) float64 {
		probs := nn.Softmax(mat.NewDense(1, 3, append([]float64(nil), z...)))
		logp := math.Log(probs.At(0, action))
		entropy := nn.Entropy(probs)[0]
		return (-logp*advValue - entropyWeight*entropy) / maskSum
	}

	probs := nn.Softmax(mat.NewDense(1, 3, append([]float64(nil), logits...)))
	entropy := nn.Entropy(probs)
	grad := headGradient(probs, []int{action}, entropy,
		[]float64{advValue}, []float64{1}, maskSum, entropyWeight)

	const eps = 1e-6
	for j := range logits {
		z := append([]float64(nil), logits...)
		z[j] += eps
		plus := lossAt(z)
		z[j] -= 2 * eps
		minus := lossAt(z)

		numeric := (plus - minus) / (2 * eps)
		if math.Abs(numeric-grad.At(0, j)) > 1e-6 {
			t.Errorf("grad[%d]: analytic %g, numeric %g", j, grad.At(0, j), numeric)
		}
	}
}

func TestHeadGradientMaskedRow(t *testing.T) {
	probs := nn.Softmax(mat.NewDense(1, 3, []float64{1, 2, 3}))
	grad := headGradient(probs, []int{0}, nn.Entropy(probs),
		[]float64{1.5}, []float64{0}, 4, 0.01)

	for j := 0; j < 3; j++ {
		if grad.At(0, j) != 0 {
			t.Fatalf("masked row must have zero gradient, got %g", grad.At(0, j))
		}
	}
}

func TestSampleRollout(t *testing.T) {
	cfg := testConfig()
	policy, _, e := testSetup(t, cfg)

	r := Sample(e, policy, rand.New(rand.NewSource(4)))
	policy.ClearCache()

	if len(r.Steps) == 0 || len(r.Steps) > cfg.Env.MaxEpLen {
		t.Fatalf("rollout has %d steps, max ep len %d", len(r.Steps), cfg.Env.MaxEpLen)
	}

	for i := 0; i < r.Batch; i++ {
		// Masks are monotone: once an episode is over it stays over.
		seenZero := false
		total := 0.0
		for _, step := range r.Steps {
			if step.Mask[i] == 0 {
				seenZero = true
			} else if seenZero {
				t.Fatalf("item %d mask went back to 1", i)
			}
			total += step.Rewards[i] * step.Mask[i]
		}
		if math.Abs(total-r.Returns[0][i]) > 1e-9 {
			t.Errorf("item %d return %f, masked reward sum %f", i, r.Returns[0][i], total)
		}
	}

	if len(r.Percentages) != r.Batch {
		t.Errorf("percentages length %d, want %d", len(r.Percentages), r.Batch)
	}
}

func TestBackpropAccumulatesGradients(t *testing.T) {
	cfg := testConfig()
	policy, _, e := testSetup(t, cfg)

	r := Sample(e, policy, rand.New(rand.NewSource(5)))
	params := policy.Params()
	nn.ZeroGrads(params)
	m := Backprop(policy, r, cfg.Reinforce.EntropyWeight)

	if math.IsNaN(m.Loss) || math.IsInf(m.Loss, 0) {
		t.Fatalf("loss = %f", m.Loss)
	}
	if m.Entropy < 0 {
		t.Errorf("entropy = %f, must not be negative", m.Entropy)
	}
	if m.Length <= 0 {
		t.Errorf("length = %f", m.Length)
	}

	nonZero := false
	for _, p := range params {
		for _, g := range p.Grad.RawMatrix().Data {
			if g != 0 {
				nonZero = true
				break
			}
		}
	}
	if !nonZero {
		t.Error("no gradient reached any parameter")
	}
}

func TestEvaluateBounds(t *testing.T) {
	cfg := testConfig()
	policy, _, e := testSetup(t, cfg)

	r := Evaluate(e, policy)
	if r.Percentage < 0 || r.Percentage > 1 {
		t.Errorf("percentage = %f", r.Percentage)
	}
	if r.Length < 0 || r.Length > float64(cfg.Env.MaxEpLen) {
		t.Errorf("length = %f", r.Length)
	}
	if r.Batch != cfg.Data.BatchSize {
		t.Errorf("batch = %d", r.Batch)
	}
}

func TestTrainEndToEnd(t *testing.T) {
	cfg := testConfig()
	policy, loader, _ := testSetup(t, cfg)

	store, err := tracker.Open(filepath.Join(t.TempDir(), "runs"))
	if err != nil {
		t.Fatalf("tracker.Open: %v", err)
	}
	defer store.Close()

	run, err := store.NewRun("test", cfg.DumpString())
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}

	trainer := NewTrainer(policy, loader, nil, cfg, run)
	if err := trainer.Train(context.Background()); err != nil {
		t.Fatalf("Train: %v", err)
	}

	if _, err := os.Stat(run.CheckpointPath()); err != nil {
		t.Errorf("checkpoint missing: %v", err)
	}

	points, err := store.Metrics(run.ID, "loss")
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if len(points) != cfg.Reinforce.NIterations {
		t.Errorf("logged %d loss points, want %d", len(points), cfg.Reinforce.NIterations)
	}

	images, err := store.Images(run.ID)
	if err != nil {
		t.Fatalf("Images: %v", err)
	}
	if len(images) == 0 {
		t.Error("no trajectory plots recorded")
	}
}
