package env

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"

	"github.com/pierrot-lc/snake-search/dataset"
)

// testBatch builds a 1-item batch with a white needle square on black.
func testBatch(t *testing.T, size, patch int, bboxes []dataset.BBox) dataset.Batch {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for _, b := range bboxes {
		for y := b.Y1; y < b.Y2; y++ {
			for x := b.X1; x < b.X2; x++ {
				img.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
			}
		}
	}

	batch, err := dataset.Collate([]dataset.Sample{{Image: img, BBoxes: bboxes}})
	if err != nil {
		t.Fatalf("Collate: %v", err)
	}
	return batch
}

func TestPatchMask(t *testing.T) {
	tests := []struct {
		name   string
		bboxes []dataset.BBox
		expect []int // indices of scoring patches on a 4x4 grid, patch 8
	}{
		{"single patch", []dataset.BBox{{X1: 1, Y1: 1, X2: 5, Y2: 5}}, []int{0}},
		{"spans two cols", []dataset.BBox{{X1: 6, Y1: 0, X2: 12, Y2: 4}}, []int{0, 1}},
		{"spans four patches", []dataset.BBox{{X1: 6, Y1: 6, X2: 10, Y2: 10}}, []int{0, 1, 4, 5}},
		{"exact boundary", []dataset.BBox{{X1: 8, Y1: 8, X2: 16, Y2: 16}}, []int{5}},
		{"none", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mask := patchMask(tt.bboxes, 8, 4, 4)
			var got []int
			for i, hit := range mask {
				if hit {
					got = append(got, i)
				}
			}
			if len(got) != len(tt.expect) {
				t.Fatalf("scoring patches = %v, want %v", got, tt.expect)
			}
			for i := range got {
				if got[i] != tt.expect[i] {
					t.Fatalf("scoring patches = %v, want %v", got, tt.expect)
				}
			}
		})
	}
}

func TestMirrorIndex(t *testing.T) {
	tests := []struct{ i, n, expect int }{
		{0, 8, 0},
		{7, 8, 7},
		{-1, 8, 1},
		{-2, 8, 2},
		{8, 8, 6},
		{9, 8, 5},
	}
	for _, tt := range tests {
		if got := mirrorIndex(tt.i, tt.n); got != tt.expect {
			t.Errorf("mirrorIndex(%d, %d) = %d, want %d", tt.i, tt.n, got, tt.expect)
		}
	}
}

func TestEnvRewardsSumToOne(t *testing.T) {
	// One scoring patch at grid (1, 1) of a 4x4 grid.
	batch := testBatch(t, 32, 8, []dataset.BBox{{X1: 9, Y1: 9, X2: 14, Y2: 14}})

	rng := rand.New(rand.NewSource(0))
	e, err := New(batch, 8, 32, 2, rng)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.Reset()

	// Walk the full grid row by row; total reward must reach exactly 1.
	total := 0.0
	walked := 0
	for walked < 16 && !e.Done() {
		result, err := e.Step([]Action{{DY: 0, DX: 1}})
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		total += result.Rewards[0]
		walked++
		if walked%4 == 0 {
			down, err := e.Step([]Action{{DY: 1, DX: 0}})
			if err != nil {
				t.Fatalf("Step: %v", err)
			}
			total += down.Rewards[0]
		}
	}

	// The reset tile may already have been the scoring one.
	if total != 1 && e.Scores()[0] != e.MaxScores()[0] {
		t.Errorf("total reward = %f with score %d/%d", total, e.Scores()[0], e.MaxScores()[0])
	}
	if !e.terminated[0] {
		t.Error("episode should be terminated after visiting the needle")
	}
}

func TestEnvTerminatedSticky(t *testing.T) {
	batch := testBatch(t, 16, 8, []dataset.BBox{{X1: 0, Y1: 0, X2: 16, Y2: 16}})

	rng := rand.New(rand.NewSource(1))
	e, err := New(batch, 8, 4, 1, rng)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Reset()

	var sawTerminated bool
	for i := 0; i < 4; i++ {
		result, err := e.Step([]Action{{DY: 0, DX: 1}})
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if sawTerminated && !result.Terminated[0] {
			t.Error("terminated flag must be sticky")
		}
		sawTerminated = sawTerminated || result.Terminated[0]
	}
}

func TestEnvZeroBBoxes(t *testing.T) {
	batch := testBatch(t, 16, 8, nil)

	rng := rand.New(rand.NewSource(2))
	e, err := New(batch, 8, 4, 1, rng)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, infos := e.Reset()
	if !e.terminated[0] {
		t.Error("zero-bbox episode must terminate at reset")
	}
	if infos.Percentages[0] != 0 {
		t.Errorf("percentage = %f, want 0", infos.Percentages[0])
	}

	result, err := e.Step([]Action{{DY: 1, DX: 1}})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if result.Rewards[0] != 0 {
		t.Errorf("reward = %f, want 0", result.Rewards[0])
	}
	if math.IsNaN(result.Infos.Percentages[0]) {
		t.Error("percentage must not be NaN")
	}
}

func TestEnvWrapAround(t *testing.T) {
	batch := testBatch(t, 32, 8, []dataset.BBox{{X1: 0, Y1: 0, X2: 4, Y2: 4}})

	rng := rand.New(rand.NewSource(3))
	e, err := New(batch, 8, 100, 1, rng)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Reset()

	// A huge jump must still land in the grid.
	result, err := e.Step([]Action{{DY: 13, DX: -27}})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	pos := result.Infos.Positions[0]
	if pos[0] < 0 || pos[0] >= e.Rows || pos[1] < 0 || pos[1] >= e.Cols {
		t.Errorf("position out of grid: %v", pos)
	}
}

func TestEnvObservationShape(t *testing.T) {
	batch := testBatch(t, 32, 8, []dataset.BBox{{X1: 0, Y1: 0, X2: 4, Y2: 4}})

	rng := rand.New(rand.NewSource(4))
	e, err := New(batch, 8, 10, 3, rng)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	patches, _ := e.Reset()
	rows, cols := patches.Dims()
	if rows != 1 {
		t.Errorf("rows = %d, want 1", rows)
	}
	if want := 3 * 3 * 8 * 8; cols != want {
		t.Errorf("cols = %d, want %d", cols, want)
	}

	// Observations stay in [0, 1].
	for c := 0; c < cols; c++ {
		v := patches.At(0, c)
		if v < 0 || v > 1 {
			t.Fatalf("observation value %f out of [0,1]", v)
		}
	}
}

func TestEnvTruncation(t *testing.T) {
	// Needle far away so episodes cannot finish instantly.
	batch := testBatch(t, 32, 8, []dataset.BBox{{X1: 24, Y1: 24, X2: 32, Y2: 32}})

	rng := rand.New(rand.NewSource(5))
	e, err := New(batch, 8, 2, 1, rng)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Reset()

	if _, err := e.Step([]Action{{}}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	result, err := e.Step([]Action{{}})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}

	if !result.Truncated[0] {
		t.Error("episode must be truncated at max_ep_len")
	}
	if !e.Done() {
		t.Error("Done must report truncated episodes")
	}
}

func TestResizeBilinearConstant(t *testing.T) {
	plane := make([]float64, 16*16)
	for i := range plane {
		plane[i] = 0.5
	}

	out := resizeBilinear(plane, 16, 16, 8, 8)
	for i, v := range out {
		if math.Abs(v-0.5) > 1e-12 {
			t.Fatalf("out[%d] = %f, want 0.5", i, v)
		}
	}
}

func TestGlimpseLevelsDiffer(t *testing.T) {
	// A needle in the corner: level 1 is a zoomed-out view, so the
	// patch content at the needle's position must change across levels.
	batch := testBatch(t, 32, 8, []dataset.BBox{{X1: 0, Y1: 0, X2: 8, Y2: 8}})

	rng := rand.New(rand.NewSource(6))
	e, err := New(batch, 8, 10, 2, rng)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	level0 := e.pyramid[0][0][0]
	level1 := e.pyramid[0][1][0]

	var differ bool
	for i := range level0 {
		if math.Abs(level0[i]-level1[i]) > 1e-9 {
			differ = true
			break
		}
	}
	if !differ {
		t.Error("glimpse levels should differ for a non-uniform image")
	}
}
