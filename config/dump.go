package config

import (
	"fmt"
	"io"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Dump writes the composed configuration as YAML with stable section and
// key order, so run logs stay diffable.
func (c Config) Dump(w io.Writer) error {
	top := orderedmap.New[string, string]()
	top.Set("group", c.Group)
	top.Set("device", c.Device)
	top.Set("seed", fmt.Sprintf("%d", c.Seed))

	for pair := top.Oldest(); pair != nil; pair = pair.Next() {
		if _, err := fmt.Fprintf(w, "%s: %s\n", pair.Key, pair.Value); err != nil {
			return err
		}
	}

	sections := orderedmap.New[string, *orderedmap.OrderedMap[string, string]]()

	env := orderedmap.New[string, string]()
	env.Set("patch_size", fmt.Sprintf("%d", c.Env.PatchSize))
	env.Set("max_ep_len", fmt.Sprintf("%d", c.Env.MaxEpLen))
	env.Set("n_glimps_levels", fmt.Sprintf("%d", c.Env.NGlimpsLevels))
	sections.Set("env", env)

	data := orderedmap.New[string, string]()
	data.Set("batch_size", fmt.Sprintf("%d", c.Data.BatchSize))
	data.Set("num_workers", fmt.Sprintf("%d", c.Data.NumWorkers))
	data.Set("dataset", c.Data.Dataset)
	data.Set("fill_mode", string(c.Data.FillMode))
	data.Set("path", c.Data.Path)
	data.Set("image_size", fmt.Sprintf("%d", c.Data.ImageSize))
	sections.Set("data", data)

	model := orderedmap.New[string, string]()
	model.Set("n_channels", fmt.Sprintf("%d", c.Model.NChannels))
	model.Set("vit_patch_size", fmt.Sprintf("%d", c.Model.ViTPatchSize))
	model.Set("vit_embedding_size", fmt.Sprintf("%d", c.Model.ViTEmbeddingSize))
	model.Set("vit_n_layers", fmt.Sprintf("%d", c.Model.ViTNLayers))
	model.Set("vit_n_heads", fmt.Sprintf("%d", c.Model.ViTNHeads))
	model.Set("vit_ffn_size", fmt.Sprintf("%d", c.Model.ViTFFNSize))
	model.Set("gru_hidden_size", fmt.Sprintf("%d", c.Model.GRUHiddenSize))
	model.Set("gru_num_layers", fmt.Sprintf("%d", c.Model.GRUNumLayers))
	model.Set("jump_size", fmt.Sprintf("%d", c.Model.JumpSize))
	sections.Set("model", model)

	optimizer := orderedmap.New[string, string]()
	optimizer.Set("learning_rate", fmt.Sprintf("%g", c.Optimizer.LearningRate))
	optimizer.Set("weight_decay", fmt.Sprintf("%g", c.Optimizer.WeightDecay))
	sections.Set("optimizer", optimizer)

	reinforce := orderedmap.New[string, string]()
	reinforce.Set("entropy_weight", fmt.Sprintf("%g", c.Reinforce.EntropyWeight))
	reinforce.Set("n_iterations", fmt.Sprintf("%d", c.Reinforce.NIterations))
	reinforce.Set("log_every", fmt.Sprintf("%d", c.Reinforce.LogEvery))
	reinforce.Set("plot_every", fmt.Sprintf("%d", c.Reinforce.PlotEvery))
	sections.Set("reinforce", reinforce)

	for section := sections.Oldest(); section != nil; section = section.Next() {
		if _, err := fmt.Fprintf(w, "%s:\n", section.Key); err != nil {
			return err
		}
		for pair := section.Value.Oldest(); pair != nil; pair = pair.Next() {
			if _, err := fmt.Fprintf(w, "  %s: %s\n", pair.Key, pair.Value); err != nil {
				return err
			}
		}
	}

	return nil
}

// DumpString renders the configuration as a YAML string.
func (c Config) DumpString() string {
	var sb strings.Builder
	_ = c.Dump(&sb)
	return sb.String()
}
