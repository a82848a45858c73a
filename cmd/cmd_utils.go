package cmd

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/pierrot-lc/snake-search/checkpoint"
	"github.com/pierrot-lc/snake-search/config"
	"github.com/pierrot-lc/snake-search/dataset"
	"github.com/pierrot-lc/snake-search/envconfig"
	"github.com/pierrot-lc/snake-search/logutil"
	"github.com/pierrot-lc/snake-search/model"
)

func initLogging() {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
}

func loadConfig(path string, overrides []string) (*config.Config, error) {
	cfg, err := config.Load(path, overrides)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// buildLoaders constructs the train and test loaders for the
// configured dataset. The test loader is nil when the dataset has no
// held-out split.
func buildLoaders(cfg *config.Config) (train, test *dataset.Loader, err error) {
	var trainSet, testSet dataset.Dataset

	switch cfg.Data.Dataset {
	case "synthetic":
		trainSet = dataset.NewSynthetic(10000, cfg.Data.ImageSize, cfg.Data.ImageSize, cfg.Seed)
		testSet = dataset.NewSynthetic(1000, cfg.Data.ImageSize, cfg.Data.ImageSize, cfg.Seed+1)
	case "standard":
		trainSet, testSet, err = dataset.LoadStandardSplits(cfg.Data.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("load dataset at %s: %w", cfg.Data.Path, err)
		}
	case "celeba":
		trainSet, err = dataset.LoadCelebA("train", cfg.Data.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("load celeba at %s: %w", cfg.Data.Path, err)
		}
		testSet, err = dataset.LoadCelebA("test", cfg.Data.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("load celeba at %s: %w", cfg.Data.Path, err)
		}
	default:
		return nil, nil, fmt.Errorf("unknown dataset %q", cfg.Data.Dataset)
	}

	workers := cfg.Data.NumWorkers
	if t := envconfig.Threads(); t > 0 {
		workers = int(t)
	}

	trainNeedle := dataset.NewNeedle(trainSet, cfg.Data.ImageSize, cfg.Data.FillMode)
	train = dataset.NewLoader(trainNeedle, cfg.Data.BatchSize, workers, cfg.Seed)

	if testSet != nil {
		testNeedle := dataset.NewNeedle(testSet, cfg.Data.ImageSize, cfg.Data.FillMode)
		test = dataset.NewLoader(testNeedle, cfg.Data.BatchSize, 0, cfg.Seed+1)
	}
	return train, test, nil
}

// buildPolicy creates the policy for a config, seeded for
// reproducible initialization.
func buildPolicy(cfg *config.Config) (*model.Policy, error) {
	rng := rand.New(rand.NewSource(cfg.Seed))
	return model.New(cfg.Model, cfg.Env.PatchSize, cfg.Env.NGlimpsLevels, rng)
}

// loadPolicy restores a policy from a checkpoint file using the
// configuration stored inside it, optionally overridden.
func loadPolicy(path string, overrides []string) (*model.Policy, *config.Config, error) {
	c, err := checkpoint.Load(path)
	if err != nil {
		return nil, nil, err
	}

	tmp, err := writeTempConfig(c.ConfigYAML())
	if err != nil {
		return nil, nil, err
	}
	defer os.Remove(tmp)

	cfg, err := loadConfig(tmp, overrides)
	if err != nil {
		return nil, nil, fmt.Errorf("config stored in %s: %w", path, err)
	}

	policy, err := buildPolicy(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := c.Apply(policy.Params()); err != nil {
		return nil, nil, err
	}
	return policy, cfg, nil
}

func writeTempConfig(yaml string) (string, error) {
	f, err := os.CreateTemp("", "snake-config-*.yaml")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(yaml); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), f.Close()
}

// defaultCheckpoint resolves an empty checkpoint flag to the newest
// run's weights.
func defaultCheckpoint() (string, error) {
	entries, err := os.ReadDir(envconfig.Runs())
	if err != nil {
		return "", fmt.Errorf("no checkpoint given and no runs directory: %w", err)
	}

	var newest string
	var newestTime int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(envconfig.Runs(), e.Name(), "checkpoint.snsf")
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if t := info.ModTime().Unix(); t > newestTime {
			newest, newestTime = path, t
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no checkpoint found under %s", envconfig.Runs())
	}
	return newest, nil
}
