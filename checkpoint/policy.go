package checkpoint

import (
	"fmt"

	"github.com/pierrot-lc/snake-search/nn"
	"github.com/pierrot-lc/snake-search/version"
)

// FromParams builds a checkpoint from policy parameters. The config
// dump and iteration counter travel in the KV header so a weights file
// is self-describing.
func FromParams(params []*nn.Param, configYAML string, iteration int, dtype DType) *Checkpoint {
	c := &Checkpoint{
		KV: map[string]any{
			"general.version":   version.Version,
			"general.dtype":     dtype.String(),
			"train.config":      configYAML,
			"train.iteration":   int64(iteration),
			"model.param_count": int64(nn.NumParams(params)),
		},
	}
	for _, p := range params {
		rows, cols := p.Value.Dims()
		data := make([]float64, rows*cols)
		copy(data, p.Value.RawMatrix().Data)
		c.Tensors = append(c.Tensors, &Tensor{
			Name:  p.Name,
			Shape: []int{rows, cols},
			DType: dtype,
			Data:  data,
		})
	}
	return c
}

// Apply copies the checkpoint tensors into matching parameters. Every
// parameter must be present with the right shape.
func (c *Checkpoint) Apply(params []*nn.Param) error {
	for _, p := range params {
		t, ok := c.Named(p.Name)
		if !ok {
			return fmt.Errorf("checkpoint: missing tensor %q", p.Name)
		}
		rows, cols := p.Value.Dims()
		if len(t.Shape) != 2 || t.Shape[0] != rows || t.Shape[1] != cols {
			return fmt.Errorf("checkpoint: tensor %q has shape %v, want [%d %d]", p.Name, t.Shape, rows, cols)
		}
		copy(p.Value.RawMatrix().Data, t.Data)
	}
	return nil
}

// Iteration returns the stored training iteration, zero if absent.
func (c *Checkpoint) Iteration() int {
	if v, ok := c.KV["train.iteration"].(int64); ok {
		return int(v)
	}
	return 0
}

// ConfigYAML returns the stored configuration dump, if any.
func (c *Checkpoint) ConfigYAML() string {
	s, _ := c.KV["train.config"].(string)
	return s
}
