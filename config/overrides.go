package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
)

// setters maps dot-path override keys to their assignment. Keeping the
// table explicit keeps override parsing independent of YAML tags and
// lets us suggest near-miss keys.
func (c *Config) setters() map[string]func(string) error {
	return map[string]func(string) error{
		"group":  setString(&c.Group),
		"device": setString(&c.Device),
		"seed":   setInt64(&c.Seed),

		"env.patch_size":      setInt(&c.Env.PatchSize),
		"env.max_ep_len":      setInt(&c.Env.MaxEpLen),
		"env.n_glimps_levels": setInt(&c.Env.NGlimpsLevels),

		"data.batch_size":  setInt(&c.Data.BatchSize),
		"data.num_workers": setInt(&c.Data.NumWorkers),
		"data.dataset":     setString(&c.Data.Dataset),
		"data.fill_mode": func(s string) error {
			c.Data.FillMode = FillMode(s)
			return nil
		},
		"data.path":       setString(&c.Data.Path),
		"data.image_size": setInt(&c.Data.ImageSize),

		"model.n_channels":         setInt(&c.Model.NChannels),
		"model.vit_patch_size":     setInt(&c.Model.ViTPatchSize),
		"model.vit_embedding_size": setInt(&c.Model.ViTEmbeddingSize),
		"model.vit_n_layers":       setInt(&c.Model.ViTNLayers),
		"model.vit_n_heads":        setInt(&c.Model.ViTNHeads),
		"model.vit_ffn_size":       setInt(&c.Model.ViTFFNSize),
		"model.gru_hidden_size":    setInt(&c.Model.GRUHiddenSize),
		"model.gru_num_layers":     setInt(&c.Model.GRUNumLayers),
		"model.jump_size":          setInt(&c.Model.JumpSize),

		"optimizer.learning_rate": setFloat(&c.Optimizer.LearningRate),
		"optimizer.weight_decay":  setFloat(&c.Optimizer.WeightDecay),

		"reinforce.entropy_weight": setFloat(&c.Reinforce.EntropyWeight),
		"reinforce.n_iterations":   setInt(&c.Reinforce.NIterations),
		"reinforce.log_every":      setInt(&c.Reinforce.LogEvery),
		"reinforce.plot_every":     setInt(&c.Reinforce.PlotEvery),
	}
}

// apply parses a single "key=value" override and assigns it.
func (c *Config) apply(override string) error {
	key, value, ok := strings.Cut(override, "=")
	if !ok {
		return fmt.Errorf("invalid override %q, expected key=value", override)
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	setters := c.setters()
	set, ok := setters[key]
	if !ok {
		if suggestion := closestKey(key, setters); suggestion != "" {
			return fmt.Errorf("unknown config key %q, did you mean %q?", key, suggestion)
		}
		return fmt.Errorf("unknown config key %q", key)
	}

	if err := set(value); err != nil {
		return fmt.Errorf("override %s: %w", key, err)
	}

	return nil
}

// closestKey returns the known key with the smallest edit distance, if it
// is close enough to be a plausible typo.
func closestKey(key string, setters map[string]func(string) error) string {
	best, bestDist := "", 4
	for known := range setters {
		if dist := levenshtein.ComputeDistance(key, known); dist < bestDist {
			best, bestDist = known, dist
		}
	}
	return best
}

func setString(dst *string) func(string) error {
	return func(s string) error {
		*dst = s
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("expected integer, got %q", s)
		}
		*dst = n
		return nil
	}
}

func setInt64(dst *int64) func(string) error {
	return func(s string) error {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("expected integer, got %q", s)
		}
		*dst = n
		return nil
	}
}

func setFloat(dst *float64) func(string) error {
	return func(s string) error {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("expected number, got %q", s)
		}
		*dst = f
		return nil
	}
}
