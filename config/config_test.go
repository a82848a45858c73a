package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "base.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
group: celeba-sweep
env:
  patch_size: 16
  max_ep_len: 30
data:
  dataset: celeba
  image_size: 192
  fill_mode: pad
model:
  vit_patch_size: 4
optimizer:
  learning_rate: 0.001
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Group != "celeba-sweep" {
		t.Errorf("group = %q, want celeba-sweep", cfg.Group)
	}
	if cfg.Env.PatchSize != 16 || cfg.Env.MaxEpLen != 30 {
		t.Errorf("env = %+v", cfg.Env)
	}
	if cfg.Data.Dataset != "celeba" || cfg.Data.FillMode != FillPad {
		t.Errorf("data = %+v", cfg.Data)
	}
	if cfg.Optimizer.LearningRate != 0.001 {
		t.Errorf("learning_rate = %g, want 0.001", cfg.Optimizer.LearningRate)
	}

	// Untouched sections keep their defaults.
	if cfg.Reinforce.NIterations != Default().Reinforce.NIterations {
		t.Errorf("n_iterations = %d, want default", cfg.Reinforce.NIterations)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load("", []string{
		"optimizer.learning_rate=1e-5",
		"reinforce.n_iterations=10",
		"data.dataset=standard",
		"env.n_glimps_levels=3",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Optimizer.LearningRate != 1e-5 {
		t.Errorf("learning_rate = %g, want 1e-5", cfg.Optimizer.LearningRate)
	}
	if cfg.Reinforce.NIterations != 10 {
		t.Errorf("n_iterations = %d, want 10", cfg.Reinforce.NIterations)
	}
	if cfg.Data.Dataset != "standard" {
		t.Errorf("dataset = %q, want standard", cfg.Data.Dataset)
	}
	if cfg.Env.NGlimpsLevels != 3 {
		t.Errorf("n_glimps_levels = %d, want 3", cfg.Env.NGlimpsLevels)
	}
}

func TestLoadOverrideSuggestion(t *testing.T) {
	_, err := Load("", []string{"optimiser.learning_rate=1e-5"})
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), `did you mean "optimizer.learning_rate"`) {
		t.Errorf("missing suggestion in error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero patch size", func(c *Config) { c.Env.PatchSize = 0 }},
		{"negative learning rate", func(c *Config) { c.Optimizer.LearningRate = -1 }},
		{"bad fill mode", func(c *Config) { c.Data.FillMode = "crop" }},
		{"bad dataset", func(c *Config) { c.Data.Dataset = "imagenet" }},
		{"bad device", func(c *Config) { c.Device = "tpu" }},
		{"image size not multiple of patch", func(c *Config) { c.Data.ImageSize = 250 }},
		{"patch not multiple of vit patch", func(c *Config) { c.Env.PatchSize = 30 }},
		{"embedding not multiple of heads", func(c *Config) { c.Model.ViTEmbeddingSize = 130 }},
		{"negative workers", func(c *Config) { c.Data.NumWorkers = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestDumpRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Group = "round-trip"
	cfg.Env.PatchSize = 16
	cfg.Model.ViTPatchSize = 4

	path := writeConfig(t, cfg.DumpString())
	loaded, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load dumped config: %v", err)
	}

	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDumpOrder(t *testing.T) {
	dump := Default().DumpString()

	order := []string{"group:", "env:", "patch_size:", "data:", "model:", "optimizer:", "reinforce:"}
	last := -1
	for _, marker := range order {
		idx := strings.Index(dump, marker)
		if idx < 0 {
			t.Fatalf("marker %q missing from dump:\n%s", marker, dump)
		}
		if idx < last {
			t.Errorf("marker %q out of order", marker)
		}
		last = idx
	}
}
