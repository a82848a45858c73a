package checkpoint

import (
	"fmt"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
)

// ImportTorch reads a torch state dict saved with torch.save and
// converts every tensor to a float32 checkpoint. Strided views are not
// supported; exported state dicts are contiguous in practice.
func ImportTorch(path string) (*Checkpoint, error) {
	m, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load %s: %w", path, err)
	}

	c := &Checkpoint{KV: map[string]any{"general.imported_from": path}}

	add := func(key, value any) error {
		name, ok := key.(string)
		if !ok {
			return fmt.Errorf("checkpoint: non-string key %v", key)
		}
		t, ok := value.(*pytorch.Tensor)
		if !ok {
			// State dicts can carry non-tensor entries; skip them.
			return nil
		}
		tensor, err := fromTorch(name, t)
		if err != nil {
			return err
		}
		c.Tensors = append(c.Tensors, tensor)
		return nil
	}

	switch d := m.(type) {
	case *types.OrderedDict:
		for e := d.List.Front(); e != nil; e = e.Next() {
			entry := e.Value.(*types.OrderedDictEntry)
			if err := add(entry.Key, entry.Value); err != nil {
				return nil, err
			}
		}
	case *types.Dict:
		for _, entry := range *d {
			if err := add(entry.Key, entry.Value); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("checkpoint: unexpected torch payload %T", m)
	}

	return c, nil
}

func fromTorch(name string, t *pytorch.Tensor) (*Tensor, error) {
	n := 1
	for _, d := range t.Size {
		n *= d
	}

	data := make([]float64, n)
	switch s := t.Source.(type) {
	case *pytorch.FloatStorage:
		for i := 0; i < n; i++ {
			data[i] = float64(s.Data[t.StorageOffset+i])
		}
	case *pytorch.DoubleStorage:
		copy(data, s.Data[t.StorageOffset:t.StorageOffset+n])
	case *pytorch.HalfStorage:
		for i := 0; i < n; i++ {
			data[i] = float64(s.Data[t.StorageOffset+i])
		}
	default:
		return nil, fmt.Errorf("checkpoint: tensor %q has unsupported storage %T", name, t.Source)
	}

	return &Tensor{Name: name, Shape: append([]int(nil), t.Size...), DType: F32, Data: data}, nil
}
