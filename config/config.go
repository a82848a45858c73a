// Package config loads and validates experiment configurations.
//
// A configuration is a YAML tree with env, data, model, optimizer and
// reinforce sections. Values from the file can be overridden from the
// command line with dot-path expressions such as
// "optimizer.learning_rate=1e-4".
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FillMode selects how dataset images are normalized to the training
// canvas.
type FillMode string

const (
	// FillResize stretches the image to the canvas size.
	FillResize FillMode = "resize"
	// FillPad letterboxes the image with black on the bottom and right.
	FillPad FillMode = "pad"
)

type EnvConfig struct {
	// PatchSize is the side of one glimpse crop, in pixels.
	PatchSize int `yaml:"patch_size"`
	// MaxEpLen caps the number of steps in one search episode.
	MaxEpLen int `yaml:"max_ep_len"`
	// NGlimpsLevels is the depth of the multi-resolution glimpse stack.
	NGlimpsLevels int `yaml:"n_glimps_levels"`
}

type DataConfig struct {
	BatchSize  int      `yaml:"batch_size"`
	NumWorkers int      `yaml:"num_workers"`
	Dataset    string   `yaml:"dataset"`
	FillMode   FillMode `yaml:"fill_mode"`
	Path       string   `yaml:"path"`
	// ImageSize is the square training canvas side. Must be a multiple
	// of env.patch_size.
	ImageSize int `yaml:"image_size"`
}

type ModelConfig struct {
	NChannels        int `yaml:"n_channels"`
	ViTPatchSize     int `yaml:"vit_patch_size"`
	ViTEmbeddingSize int `yaml:"vit_embedding_size"`
	ViTNLayers       int `yaml:"vit_n_layers"`
	ViTNHeads        int `yaml:"vit_n_heads"`
	ViTFFNSize       int `yaml:"vit_ffn_size"`
	GRUHiddenSize    int `yaml:"gru_hidden_size"`
	GRUNumLayers     int `yaml:"gru_num_layers"`
	// JumpSize bounds a single move: both row and column offsets are
	// sampled from [-jump_size, jump_size].
	JumpSize int `yaml:"jump_size"`
}

type OptimizerConfig struct {
	LearningRate float64 `yaml:"learning_rate"`
	WeightDecay  float64 `yaml:"weight_decay"`
}

type ReinforceConfig struct {
	EntropyWeight float64 `yaml:"entropy_weight"`
	NIterations   int     `yaml:"n_iterations"`
	LogEvery      int     `yaml:"log_every"`
	PlotEvery     int     `yaml:"plot_every"`
}

type Config struct {
	Group  string `yaml:"group"`
	Device string `yaml:"device"`
	Seed   int64  `yaml:"seed"`

	Env       EnvConfig       `yaml:"env"`
	Data      DataConfig      `yaml:"data"`
	Model     ModelConfig     `yaml:"model"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Reinforce ReinforceConfig `yaml:"reinforce"`
}

// Default returns the base configuration every experiment starts from.
func Default() Config {
	return Config{
		Group:  "default",
		Device: "auto",
		Seed:   42,
		Env: EnvConfig{
			PatchSize:     32,
			MaxEpLen:      20,
			NGlimpsLevels: 2,
		},
		Data: DataConfig{
			BatchSize:  32,
			NumWorkers: 4,
			Dataset:    "synthetic",
			FillMode:   FillResize,
			Path:       "./data",
			ImageSize:  256,
		},
		Model: ModelConfig{
			NChannels:        3,
			ViTPatchSize:     8,
			ViTEmbeddingSize: 128,
			ViTNLayers:       2,
			ViTNHeads:        4,
			ViTFFNSize:       256,
			GRUHiddenSize:    256,
			GRUNumLayers:     2,
			JumpSize:         3,
		},
		Optimizer: OptimizerConfig{
			LearningRate: 3e-4,
			WeightDecay:  1e-2,
		},
		Reinforce: ReinforceConfig{
			EntropyWeight: 0.01,
			NIterations:   1000,
			LogEvery:      25,
			PlotEvery:     100,
		},
	}
}

// Load reads a YAML configuration file, layers it over the defaults and
// applies command line overrides, in that order. An empty path loads the
// defaults alone.
func Load(path string, overrides []string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	for _, override := range overrides {
		if err := cfg.apply(override); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the configuration invariants shared by every command.
func (c Config) Validate() error {
	switch c.Device {
	case "auto", "cpu":
	default:
		return fmt.Errorf("unknown device: %q", c.Device)
	}

	for _, check := range []struct {
		name  string
		value int
	}{
		{"env.patch_size", c.Env.PatchSize},
		{"env.max_ep_len", c.Env.MaxEpLen},
		{"env.n_glimps_levels", c.Env.NGlimpsLevels},
		{"data.batch_size", c.Data.BatchSize},
		{"data.image_size", c.Data.ImageSize},
		{"model.n_channels", c.Model.NChannels},
		{"model.vit_patch_size", c.Model.ViTPatchSize},
		{"model.vit_embedding_size", c.Model.ViTEmbeddingSize},
		{"model.vit_n_layers", c.Model.ViTNLayers},
		{"model.vit_n_heads", c.Model.ViTNHeads},
		{"model.vit_ffn_size", c.Model.ViTFFNSize},
		{"model.gru_hidden_size", c.Model.GRUHiddenSize},
		{"model.gru_num_layers", c.Model.GRUNumLayers},
		{"model.jump_size", c.Model.JumpSize},
		{"reinforce.n_iterations", c.Reinforce.NIterations},
		{"reinforce.log_every", c.Reinforce.LogEvery},
		{"reinforce.plot_every", c.Reinforce.PlotEvery},
	} {
		if check.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", check.name, check.value)
		}
	}

	if c.Data.NumWorkers < 0 {
		return fmt.Errorf("data.num_workers must not be negative, got %d", c.Data.NumWorkers)
	}

	if c.Optimizer.LearningRate <= 0 {
		return fmt.Errorf("optimizer.learning_rate must be positive, got %g", c.Optimizer.LearningRate)
	}

	if c.Optimizer.WeightDecay < 0 {
		return fmt.Errorf("optimizer.weight_decay must not be negative, got %g", c.Optimizer.WeightDecay)
	}

	if c.Reinforce.EntropyWeight < 0 {
		return fmt.Errorf("reinforce.entropy_weight must not be negative, got %g", c.Reinforce.EntropyWeight)
	}

	if c.Data.ImageSize%c.Env.PatchSize != 0 {
		return fmt.Errorf("data.image_size (%d) must be a multiple of env.patch_size (%d)", c.Data.ImageSize, c.Env.PatchSize)
	}

	if c.Env.PatchSize%c.Model.ViTPatchSize != 0 {
		return fmt.Errorf("env.patch_size (%d) must be a multiple of model.vit_patch_size (%d)", c.Env.PatchSize, c.Model.ViTPatchSize)
	}

	if c.Model.ViTEmbeddingSize%c.Model.ViTNHeads != 0 {
		return fmt.Errorf("model.vit_embedding_size (%d) must be a multiple of model.vit_n_heads (%d)", c.Model.ViTEmbeddingSize, c.Model.ViTNHeads)
	}

	switch c.Data.FillMode {
	case FillResize, FillPad:
	default:
		return fmt.Errorf("unknown data.fill_mode: %q", c.Data.FillMode)
	}

	switch c.Data.Dataset {
	case "standard", "celeba", "synthetic":
	default:
		return fmt.Errorf("unknown data.dataset: %q", c.Data.Dataset)
	}

	return nil
}

// GridSize returns the number of patch rows and columns of the training
// canvas.
func (c Config) GridSize() (rows, cols int) {
	return c.Data.ImageSize / c.Env.PatchSize, c.Data.ImageSize / c.Env.PatchSize
}
