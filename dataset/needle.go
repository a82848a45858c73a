package dataset

import (
	"fmt"
	"image"

	"github.com/pdevine/tensor"

	"github.com/pierrot-lc/snake-search/config"
)

// NeedleDataset wraps a source dataset and normalizes every sample to
// the square training canvas. With fill mode "resize" the image is
// stretched; with "pad" it is letterboxed with black on the bottom and
// right. Bounding boxes follow the same transform and are clamped.
type NeedleDataset struct {
	source    Dataset
	imageSize int
	fillMode  config.FillMode
}

func NewNeedle(source Dataset, imageSize int, fillMode config.FillMode) *NeedleDataset {
	return &NeedleDataset{source: source, imageSize: imageSize, fillMode: fillMode}
}

func (d *NeedleDataset) Len() int { return d.source.Len() }

func (d *NeedleDataset) At(i int) (Sample, error) {
	sample, err := d.source.At(i)
	if err != nil {
		return Sample{}, err
	}

	bounds := sample.Image.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	var img *image.RGBA
	var sx, sy float64
	switch d.fillMode {
	case config.FillPad:
		if srcW > d.imageSize || srcH > d.imageSize {
			// Too large to pad, shrink first keeping aspect.
			scale := float64(d.imageSize) / float64(max(srcW, srcH))
			newW, newH := int(float64(srcW)*scale), int(float64(srcH)*scale)
			if newW < 1 {
				newW = 1
			}
			if newH < 1 {
				newH = 1
			}
			sample.Image = Resize(sample.Image, newW, newH)
			sx, sy = scale, scale
		} else {
			sx, sy = 1, 1
		}
		img = PadBottomRight(sample.Image, d.imageSize, d.imageSize)
	default: // config.FillResize
		sx = float64(d.imageSize) / float64(srcW)
		sy = float64(d.imageSize) / float64(srcH)
		img = Resize(sample.Image, d.imageSize, d.imageSize)
	}

	var bboxes []BBox
	for _, b := range sample.BBoxes {
		if scaled := b.Scale(sx, sy, d.imageSize, d.imageSize); !scaled.Empty() {
			bboxes = append(bboxes, scaled)
		}
	}

	return Sample{Image: img, BBoxes: bboxes}, nil
}

// Batch holds one collated batch. Images is a float32 tensor of shape
// [batch, 3, height, width] with values in [0, 1]. RGBA keeps the
// original canvases for trajectory rendering.
type Batch struct {
	Images *tensor.Dense
	RGBA   []*image.RGBA
	BBoxes [][]BBox
}

// Size returns the number of samples in the batch.
func (b Batch) Size() int {
	return b.Images.Shape()[0]
}

// Collate stacks normalized samples into a batch tensor in CHW order.
func Collate(samples []Sample) (Batch, error) {
	if len(samples) == 0 {
		return Batch{}, fmt.Errorf("collate: %w", ErrEmptyDataset)
	}

	height := samples[0].Image.Bounds().Dy()
	width := samples[0].Image.Bounds().Dx()

	data := make([]float32, len(samples)*3*height*width)
	batch := Batch{
		RGBA:   make([]*image.RGBA, len(samples)),
		BBoxes: make([][]BBox, len(samples)),
	}

	plane := height * width
	for i, sample := range samples {
		bounds := sample.Image.Bounds()
		if bounds.Dy() != height || bounds.Dx() != width {
			return Batch{}, fmt.Errorf("collate: sample %d is %dx%d, want %dx%d",
				i, bounds.Dx(), bounds.Dy(), width, height)
		}

		base := i * 3 * plane
		for y := 0; y < height; y++ {
			row := sample.Image.PixOffset(0, y)
			for x := 0; x < width; x++ {
				pix := sample.Image.Pix[row+4*x : row+4*x+3]
				data[base+y*width+x] = float32(pix[0]) / 255
				data[base+plane+y*width+x] = float32(pix[1]) / 255
				data[base+2*plane+y*width+x] = float32(pix[2]) / 255
			}
		}

		batch.RGBA[i] = sample.Image
		batch.BBoxes[i] = sample.BBoxes
	}

	batch.Images = tensor.New(
		tensor.WithShape(len(samples), 3, height, width),
		tensor.WithBacking(data),
	)

	return batch, nil
}
