package reinforce

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math/rand"
	"os"

	"golang.org/x/term"

	"github.com/pierrot-lc/snake-search/checkpoint"
	"github.com/pierrot-lc/snake-search/config"
	"github.com/pierrot-lc/snake-search/dataset"
	"github.com/pierrot-lc/snake-search/draw"
	"github.com/pierrot-lc/snake-search/env"
	"github.com/pierrot-lc/snake-search/envconfig"
	"github.com/pierrot-lc/snake-search/model"
	"github.com/pierrot-lc/snake-search/nn"
	"github.com/pierrot-lc/snake-search/progress"
	"github.com/pierrot-lc/snake-search/tracker"
)

// plotItems is how many episodes each trajectory plot tiles.
const plotItems = 4

// Trainer owns one training run end to end.
type Trainer struct {
	Policy     *model.Policy
	Loader     *dataset.Loader
	TestLoader *dataset.Loader // optional, for held-out plots
	Config     *config.Config
	Optimizer  *nn.AdamW
	Run        *tracker.Run // optional, metrics are slog-only without it

	rng *rand.Rand
}

// NewTrainer seeds the sampling stream from the config so a run is
// reproducible.
func NewTrainer(policy *model.Policy, loader, testLoader *dataset.Loader, cfg *config.Config, run *tracker.Run) *Trainer {
	return &Trainer{
		Policy:     policy,
		Loader:     loader,
		TestLoader: testLoader,
		Config:     cfg,
		Optimizer:  nn.NewAdamW(cfg.Optimizer.LearningRate, cfg.Optimizer.WeightDecay),
		Run:        run,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Train runs the configured number of REINFORCE iterations.
func (t *Trainer) Train(ctx context.Context) error {
	cfg := t.Config
	params := t.Policy.Params()

	slog.Info("starting training",
		"iterations", cfg.Reinforce.NIterations,
		"batch_size", cfg.Data.BatchSize,
		"parameters", t.Policy.NumParams())

	var bar *progress.Bar
	if !envconfig.NoProgress() && term.IsTerminal(int(os.Stderr.Fd())) {
		p := progress.NewProgress(os.Stderr)
		defer p.Stop()
		bar = progress.NewBar("training", int64(cfg.Reinforce.NIterations), 0)
		p.Add("train", bar)
	}

	for it := 1; it <= cfg.Reinforce.NIterations; it++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := t.Loader.Next(ctx)
		if err != nil {
			return fmt.Errorf("next batch: %w", err)
		}

		e, err := env.New(batch, cfg.Env.PatchSize, cfg.Env.MaxEpLen, cfg.Env.NGlimpsLevels, t.rng)
		if err != nil {
			return fmt.Errorf("build env: %w", err)
		}

		rollout := Sample(e, t.Policy, t.rng)
		nn.ZeroGrads(params)
		metrics := Backprop(t.Policy, rollout, cfg.Reinforce.EntropyWeight)
		t.Optimizer.Step(params)

		if bar != nil {
			bar.Set(int64(it))
		}

		if it%cfg.Reinforce.LogEvery == 0 {
			t.logMetrics(it, metrics)
		}
		if it%cfg.Reinforce.PlotEvery == 0 {
			if err := t.plot(ctx, it); err != nil {
				slog.Warn("plotting failed", "iteration", it, "error", err)
			}
			if err := t.saveCheckpoint(it); err != nil {
				return fmt.Errorf("save checkpoint: %w", err)
			}
		}
	}

	return t.saveCheckpoint(cfg.Reinforce.NIterations)
}

func (t *Trainer) logMetrics(it int, m Metrics) {
	slog.Info("iteration",
		"it", it,
		"loss", fmt.Sprintf("%.4f", m.Loss),
		"return", fmt.Sprintf("%.4f", m.Return),
		"found", fmt.Sprintf("%.1f%%", m.Percentage*100),
		"length", fmt.Sprintf("%.1f", m.Length),
		"entropy", fmt.Sprintf("%.4f", m.Entropy))

	if t.Run == nil {
		return
	}
	for name, value := range map[string]float64{
		"loss":       m.Loss,
		"return":     m.Return,
		"percentage": m.Percentage,
		"length":     m.Length,
		"entropy":    m.Entropy,
	} {
		if err := t.Run.Log(name, it, value); err != nil {
			slog.Warn("metric not recorded", "name", name, "error", err)
		}
	}
}

// plot renders greedy trajectories on a fresh train batch and, when a
// test loader is set, on a held-out batch.
func (t *Trainer) plot(ctx context.Context, it int) error {
	if t.Run == nil {
		return nil
	}

	img, err := t.renderGreedy(ctx, t.Loader)
	if err != nil {
		return err
	}
	if err := t.Run.LogImage("trajectory-train", it, img); err != nil {
		return err
	}

	if t.TestLoader != nil {
		img, err := t.renderGreedy(ctx, t.TestLoader)
		if err != nil {
			return err
		}
		if err := t.Run.LogImage("trajectory-test", it, img); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer) renderGreedy(ctx context.Context, loader *dataset.Loader) (*image.RGBA, error) {
	batch, err := loader.Next(ctx)
	if err != nil {
		return nil, err
	}

	cfg := t.Config
	e, err := env.New(batch, cfg.Env.PatchSize, cfg.Env.MaxEpLen, cfg.Env.NGlimpsLevels, t.rng)
	if err != nil {
		return nil, err
	}

	steps := Greedy(e, t.Policy)
	return RenderTrajectories(batch, steps, cfg.Env.PatchSize, plotItems), nil
}

// RenderTrajectories tiles the first episodes of a greedy rollout.
func RenderTrajectories(batch dataset.Batch, steps []GreedyStep, patchSize, items int) *image.RGBA {
	n := batch.Size()
	if n > items {
		n = items
	}

	var tiles []*image.RGBA
	for i := 0; i < n; i++ {
		tiles = append(tiles, draw.Trajectory(batch.RGBA[i], trajectoryOf(steps, i), patchSize, batch.BBoxes[i]))
	}
	return draw.Tile(tiles, 2)
}

// trajectoryOf extracts one item's visited positions, cut off at its
// episode end.
func trajectoryOf(steps []GreedyStep, item int) [][2]int {
	pos := [][2]int{steps[0].Positions[item]}
	for s := 1; s < len(steps); s++ {
		if !steps[s-1].Live[item] {
			break
		}
		pos = append(pos, steps[s].Positions[item])
	}
	return pos
}

func (t *Trainer) saveCheckpoint(it int) error {
	if t.Run == nil {
		return nil
	}
	c := checkpoint.FromParams(t.Policy.Params(), t.Config.DumpString(), it, checkpoint.F32)
	return checkpoint.Save(t.Run.CheckpointPath(), c)
}

// EvalResult summarizes a greedy evaluation batch.
type EvalResult struct {
	Percentage float64
	Length     float64
	Batch      int
}

// Evaluate plays the argmax policy on one environment and reports the
// mean found percentage and episode length.
func Evaluate(e *env.Env, policy *model.Policy) EvalResult {
	steps := Greedy(e, policy)

	r := EvalResult{Batch: e.BatchSize}
	scores := e.Scores()
	maxScores := e.MaxScores()
	for i := 0; i < e.BatchSize; i++ {
		if maxScores[i] > 0 {
			r.Percentage += float64(scores[i]) / float64(maxScores[i])
		}
		r.Length += float64(len(trajectoryOf(steps, i)) - 1)
	}
	if e.BatchSize > 0 {
		r.Percentage /= float64(e.BatchSize)
		r.Length /= float64(e.BatchSize)
	}
	return r
}
