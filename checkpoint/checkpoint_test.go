package checkpoint

import (
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/pierrot-lc/snake-search/nn"
)

func testCheckpoint(dtype DType) *Checkpoint {
	return &Checkpoint{
		KV: map[string]any{
			"general.dtype":   dtype.String(),
			"train.iteration": int64(42),
			"train.config":    "env:\n  patch_size: 32\n",
			"train.finished":  true,
			"train.lr":        3e-4,
		},
		Tensors: []*Tensor{
			{Name: "head.weight", Shape: []int{2, 3}, DType: dtype, Data: []float64{0.5, -1.25, 2, 0, 0.125, -3}},
			{Name: "head.bias", Shape: []int{1, 3}, DType: dtype, Data: []float64{1, 0, -0.5}},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, dtype := range []DType{F32, F16, BF16} {
		t.Run(dtype.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "weights.snsf")
			if err := Save(path, testCheckpoint(dtype)); err != nil {
				t.Fatalf("Save: %v", err)
			}

			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}

			if got.Iteration() != 42 {
				t.Errorf("iteration = %d, want 42", got.Iteration())
			}
			if got.KV["train.finished"] != true {
				t.Errorf("finished = %v, want true", got.KV["train.finished"])
			}
			if got.KV["train.lr"] != 3e-4 {
				t.Errorf("lr = %v", got.KV["train.lr"])
			}
			if got.ConfigYAML() == "" {
				t.Error("config dump missing")
			}

			want := testCheckpoint(dtype)
			for _, wt := range want.Tensors {
				gt, ok := got.Named(wt.Name)
				if !ok {
					t.Fatalf("tensor %q missing", wt.Name)
				}
				if len(gt.Data) != len(wt.Data) {
					t.Fatalf("tensor %q has %d values, want %d", wt.Name, len(gt.Data), len(wt.Data))
				}
				for i := range wt.Data {
					// The chosen values are exactly representable in
					// every supported dtype.
					if gt.Data[i] != wt.Data[i] {
						t.Errorf("%s[%d] = %g, want %g", wt.Name, i, gt.Data[i], wt.Data[i])
					}
				}
			}
		})
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.snsf")
	if err := os.WriteFile(path, []byte("GGUFxxxxxxxxxxxxxxxxxxxx"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrBadMagic) {
		t.Errorf("expected ErrBadMagic, got %v", err)
	}
}

func TestLoadRejectsUnknownDType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.snsf")
	c := &Checkpoint{
		KV:      map[string]any{},
		Tensors: []*Tensor{{Name: "w", Shape: []int{2, 2}, DType: F32, Data: []float64{1, 2, 3, 4}}},
	}
	if err := Save(path, c); err != nil {
		t.Fatal(err)
	}

	// The dtype field of the single tensor info sits after the 24 byte
	// header, the name (8+1) and the dims (4 + 2*8).
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	binary.LittleEndian.PutUint32(data[53:], 99)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown dtype")
	}
}

func TestHalfPrecisionError(t *testing.T) {
	c := &Checkpoint{
		KV: map[string]any{},
		Tensors: []*Tensor{
			{Name: "w", Shape: []int{1, 1}, DType: F16, Data: []float64{1.0 / 3.0}},
		},
	}
	path := filepath.Join(t.TempDir(), "w.snsf")
	if err := Save(path, c); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	v := got.Tensors[0].Data[0]
	if math.Abs(v-1.0/3.0) > 1e-3 {
		t.Errorf("f16 round trip too lossy: %g", v)
	}
}

func TestFromParamsApply(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	layer := nn.NewLinear("fc", 3, 2, rng)

	c := FromParams(layer.Params(), "config", 7, F32)
	path := filepath.Join(t.TempDir(), "w.snsf")
	if err := Save(path, c); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	fresh := nn.NewLinear("fc", 3, 2, rand.New(rand.NewSource(99)))
	if err := loaded.Apply(fresh.Params()); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	orig := layer.W.Value.RawMatrix().Data
	got := fresh.W.Value.RawMatrix().Data
	for i := range orig {
		if float64(float32(orig[i])) != got[i] {
			t.Fatalf("weight[%d] = %g, want %g", i, got[i], orig[i])
		}
	}
}

func TestApplyShapeMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	layer := nn.NewLinear("fc", 3, 2, rng)
	c := FromParams(layer.Params(), "", 0, F32)

	other := nn.NewLinear("fc", 4, 2, rng)
	if err := c.Apply(other.Params()); err == nil {
		t.Error("expected shape mismatch error")
	}
}

func TestApplyMissingTensor(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	layer := nn.NewLinear("fc", 3, 2, rng)
	c := FromParams(layer.Params(), "", 0, F32)

	other := nn.NewLinear("other", 3, 2, rng)
	if err := c.Apply(other.Params()); err == nil {
		t.Error("expected missing tensor error")
	}
}
