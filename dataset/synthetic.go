package dataset

import (
	"image"
	"image/color"
	"math/rand"
)

// SyntheticDataset generates gradient images with a bright needle
// rectangle drawn at a random location. Generation is deterministic per
// index, so tests and the two splits of a demo run stay reproducible.
type SyntheticDataset struct {
	n      int
	width  int
	height int
	seed   int64
}

// NewSynthetic creates a synthetic dataset of n images.
func NewSynthetic(n, width, height int, seed int64) *SyntheticDataset {
	return &SyntheticDataset{n: n, width: width, height: height, seed: seed}
}

func (d *SyntheticDataset) Len() int { return d.n }

func (d *SyntheticDataset) At(i int) (Sample, error) {
	rng := rand.New(rand.NewSource(d.seed + int64(i)*1000003))

	img := gradientImage(d.width, d.height, rng)

	// Needle size between 4% and 12% of the smaller side, never larger
	// than the canvas itself.
	minSide := min(d.width, d.height)
	side := minSide/25 + rng.Intn(minSide/12+1)
	if side < 4 {
		side = 4
	}
	if side > minSide {
		side = minSide
	}

	var x, y int
	if n := d.width - side; n > 0 {
		x = rng.Intn(n)
	}
	if n := d.height - side; n > 0 {
		y = rng.Intn(n)
	}
	bbox := BBox{X1: x, Y1: y, X2: x + side, Y2: y + side}
	drawNeedle(img, bbox)

	return Sample{Image: img, BBoxes: []BBox{bbox}}, nil
}

// gradientImage renders a smooth two-axis color gradient with mild
// noise, similar to the patterns used for encoder benchmarks.
func gradientImage(width, height int, rng *rand.Rand) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	baseR := uint8(rng.Intn(128))
	baseG := uint8(rng.Intn(128))
	baseB := uint8(rng.Intn(128))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			noise := uint8(rng.Intn(16))
			img.SetRGBA(x, y, color.RGBA{
				R: baseR + uint8(96*x/width) + noise,
				G: baseG + uint8(96*y/height),
				B: baseB + uint8(96*(x+y)/(width+height)),
				A: 255,
			})
		}
	}

	return img
}

// drawNeedle draws the target object: a saturated square with a dark
// border so it stays visible on any gradient.
func drawNeedle(img *image.RGBA, b BBox) {
	for y := b.Y1; y < b.Y2; y++ {
		for x := b.X1; x < b.X2; x++ {
			c := color.RGBA{R: 250, G: 60, B: 220, A: 255}
			if x == b.X1 || x == b.X2-1 || y == b.Y1 || y == b.Y2-1 {
				c = color.RGBA{R: 20, G: 20, B: 20, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
}
