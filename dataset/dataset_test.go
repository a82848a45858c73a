package dataset

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pierrot-lc/snake-search/config"
)

func TestBBoxScale(t *testing.T) {
	tests := []struct {
		name   string
		bbox   BBox
		sx, sy float64
		w, h   int
		expect BBox
	}{
		{"identity", BBox{10, 10, 20, 20}, 1, 1, 100, 100, BBox{10, 10, 20, 20}},
		{"half", BBox{10, 10, 20, 20}, 0.5, 0.5, 100, 100, BBox{5, 5, 10, 10}},
		{"clamped", BBox{80, 80, 120, 120}, 1, 1, 100, 100, BBox{80, 80, 100, 100}},
		{"outside", BBox{200, 200, 220, 220}, 1, 1, 100, 100, BBox{}},
		{"anisotropic", BBox{10, 10, 20, 20}, 2, 0.5, 100, 100, BBox{20, 5, 40, 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.bbox.Scale(tt.sx, tt.sy, tt.w, tt.h); got != tt.expect {
				t.Errorf("got %+v, want %+v", got, tt.expect)
			}
		})
	}
}

func TestSyntheticDeterministic(t *testing.T) {
	ds := NewSynthetic(8, 64, 64, 7)
	if ds.Len() != 8 {
		t.Fatalf("Len = %d, want 8", ds.Len())
	}

	a, err := ds.At(3)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	b, err := ds.At(3)
	if err != nil {
		t.Fatalf("At: %v", err)
	}

	if len(a.BBoxes) != 1 || a.BBoxes[0] != b.BBoxes[0] {
		t.Errorf("bboxes differ between identical reads: %+v vs %+v", a.BBoxes, b.BBoxes)
	}

	for i := range a.Image.Pix {
		if a.Image.Pix[i] != b.Image.Pix[i] {
			t.Fatalf("pixel data differs at %d", i)
		}
	}

	box := a.BBoxes[0]
	if box.Empty() || box.X2 > 64 || box.Y2 > 64 {
		t.Errorf("needle box out of canvas: %+v", box)
	}
}

func TestSyntheticTinyCanvas(t *testing.T) {
	// The needle can only ever fill the whole canvas, never exceed it.
	for _, size := range []int{4, 5, 8, 12} {
		ds := NewSynthetic(4, size, size, 11)
		for i := 0; i < ds.Len(); i++ {
			sample, err := ds.At(i)
			if err != nil {
				t.Fatalf("size=%d At(%d): %v", size, i, err)
			}
			box := sample.BBoxes[0]
			if box.X1 < 0 || box.Y1 < 0 || box.X2 > size || box.Y2 > size {
				t.Errorf("size=%d needle box out of canvas: %+v", size, box)
			}
		}
	}
}

func TestNeedleResize(t *testing.T) {
	src := NewSynthetic(4, 100, 50, 1)
	needle := NewNeedle(src, 64, config.FillResize)

	sample, err := needle.At(0)
	if err != nil {
		t.Fatalf("At: %v", err)
	}

	bounds := sample.Image.Bounds()
	if bounds.Dx() != 64 || bounds.Dy() != 64 {
		t.Errorf("canvas = %dx%d, want 64x64", bounds.Dx(), bounds.Dy())
	}

	for _, b := range sample.BBoxes {
		if b.X2 > 64 || b.Y2 > 64 || b.Empty() {
			t.Errorf("bbox not normalized: %+v", b)
		}
	}
}

func TestNeedlePad(t *testing.T) {
	src := NewSynthetic(4, 40, 30, 1)
	needle := NewNeedle(src, 64, config.FillPad)

	sample, err := needle.At(1)
	if err != nil {
		t.Fatalf("At: %v", err)
	}

	bounds := sample.Image.Bounds()
	if bounds.Dx() != 64 || bounds.Dy() != 64 {
		t.Errorf("canvas = %dx%d, want 64x64", bounds.Dx(), bounds.Dy())
	}

	// Padding must be black.
	if c := sample.Image.RGBAAt(63, 63); c.R != 0 || c.G != 0 || c.B != 0 {
		t.Errorf("padding pixel not black: %+v", c)
	}
}

func TestCollate(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.SetRGBA(0, 0, color.RGBA{255, 0, 0, 255})
	img.SetRGBA(1, 0, color.RGBA{0, 255, 0, 255})
	img.SetRGBA(0, 1, color.RGBA{0, 0, 255, 255})
	img.SetRGBA(1, 1, color.RGBA{255, 255, 255, 255})

	batch, err := Collate([]Sample{{Image: img}, {Image: img}})
	if err != nil {
		t.Fatalf("Collate: %v", err)
	}

	shape := batch.Images.Shape()
	want := []int{2, 3, 2, 2}
	for i := range want {
		if shape[i] != want[i] {
			t.Fatalf("shape = %v, want %v", shape, want)
		}
	}

	data := batch.Images.Data().([]float32)
	// Red channel plane of the first sample: pixel (0,0) is 1.
	if data[0] != 1 {
		t.Errorf("R(0,0) = %f, want 1", data[0])
	}
	// Green channel plane: pixel (1,0) is 1.
	if data[4+1] != 1 {
		t.Errorf("G(1,0) = %f, want 1", data[5])
	}
	// Blue channel plane: pixel (0,1) is 1.
	if data[8+2] != 1 {
		t.Errorf("B(0,1) = %f, want 1", data[10])
	}
	// Both samples identical.
	if data[12] != data[0] {
		t.Errorf("second sample differs")
	}
}

func TestLoaderSyncAndAsync(t *testing.T) {
	src := NewSynthetic(16, 32, 32, 3)
	needle := NewNeedle(src, 32, config.FillResize)

	for _, workers := range []int{0, 2} {
		loader := NewLoader(needle, 4, workers, 123)

		for i := 0; i < 3; i++ {
			batch, err := loader.Next(context.Background())
			if err != nil {
				t.Fatalf("workers=%d Next: %v", workers, err)
			}
			if batch.Size() != 4 {
				t.Errorf("workers=%d batch size = %d, want 4", workers, batch.Size())
			}
			if len(batch.RGBA) != 4 || len(batch.BBoxes) != 4 {
				t.Errorf("workers=%d metadata not collated", workers)
			}
		}

		if err := loader.Close(); err != nil {
			t.Errorf("workers=%d Close: %v", workers, err)
		}
	}
}

func TestLoaderCloseWithoutNext(t *testing.T) {
	src := NewSynthetic(16, 32, 32, 3)
	needle := NewNeedle(src, 32, config.FillResize)

	// Workers fill the channel and block on the send; Close must still
	// stop them even when no batch was ever consumed.
	loader := NewLoader(needle, 4, 2, 123)
	done := make(chan error, 1)
	go func() { done <- loader.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not stop the prefetch workers")
	}
}

func TestLoadStandardSplits(t *testing.T) {
	root := t.TempDir()

	for _, split := range []string{"train", "test"} {
		dir := filepath.Join(root, split)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}

		img := image.NewRGBA(image.Rect(0, 0, 16, 16))
		f, err := os.Create(filepath.Join(dir, "0001.png"))
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatal(err)
		}
		f.Close()

		annotations := `{"images": [{"file": "0001.png", "bboxes": [[2, 2, 10, 10]]}]}`
		if err := os.WriteFile(filepath.Join(dir, "annotations.json"), []byte(annotations), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	train, test, err := LoadStandardSplits(root)
	if err != nil {
		t.Fatalf("LoadStandardSplits: %v", err)
	}

	if train.Len() != 1 || test.Len() != 1 {
		t.Fatalf("split sizes = %d/%d, want 1/1", train.Len(), test.Len())
	}

	sample, err := train.At(0)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	if len(sample.BBoxes) != 1 || sample.BBoxes[0] != (BBox{2, 2, 10, 10}) {
		t.Errorf("bboxes = %+v", sample.BBoxes)
	}
}

func TestLoadCelebA(t *testing.T) {
	root := t.TempDir()
	imgDir := filepath.Join(root, "img_align_celeba")
	if err := os.MkdirAll(imgDir, 0o755); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"000001.png", "000002.png"} {
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		f, err := os.Create(filepath.Join(imgDir, name))
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}

	partition := "000001.png 0\n000002.png 2\n"
	if err := os.WriteFile(filepath.Join(root, "list_eval_partition.txt"), []byte(partition), 0o644); err != nil {
		t.Fatal(err)
	}

	bboxes := "2\nimage_id x_1 y_1 width height\n000001.png 1 1 4 4\n000002.png 2 2 3 3\n"
	if err := os.WriteFile(filepath.Join(root, "list_bbox_celeba.txt"), []byte(bboxes), 0o644); err != nil {
		t.Fatal(err)
	}

	train, err := LoadCelebA("train", root)
	if err != nil {
		t.Fatalf("LoadCelebA train: %v", err)
	}
	if train.Len() != 1 {
		t.Fatalf("train len = %d, want 1", train.Len())
	}

	sample, err := train.At(0)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	if len(sample.BBoxes) != 1 || sample.BBoxes[0] != (BBox{1, 1, 5, 5}) {
		t.Errorf("bboxes = %+v", sample.BBoxes)
	}

	test, err := LoadCelebA("test", root)
	if err != nil {
		t.Fatalf("LoadCelebA test: %v", err)
	}
	if test.Len() != 1 {
		t.Fatalf("test len = %d, want 1", test.Len())
	}

	if _, err := LoadCelebA("validation", root); err == nil {
		t.Error("expected error for unknown split")
	}
}
