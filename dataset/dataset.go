// Package dataset loads images and their object bounding boxes, and
// feeds collated batches to the training loop.
//
// Three sources are supported: "standard" directories with a JSON
// annotation file, the CelebA layout, and a seeded synthetic generator
// used by tests and demos. Every source is wrapped in a [NeedleDataset]
// which normalizes samples to the training canvas before collation.
package dataset

import (
	"errors"
	"image"
)

var ErrEmptyDataset = errors.New("dataset contains no samples")

// BBox is an axis-aligned box in pixel coordinates. X2 and Y2 are
// exclusive.
type BBox struct {
	X1, Y1, X2, Y2 int
}

func (b BBox) Dx() int { return b.X2 - b.X1 }
func (b BBox) Dy() int { return b.Y2 - b.Y1 }

func (b BBox) Empty() bool { return b.X2 <= b.X1 || b.Y2 <= b.Y1 }

// Scale maps the box through an axis scaling and clamps it to the target
// canvas. The zero BBox is returned when nothing remains.
func (b BBox) Scale(sx, sy float64, width, height int) BBox {
	scaled := BBox{
		X1: int(float64(b.X1) * sx),
		Y1: int(float64(b.Y1) * sy),
		X2: int(float64(b.X2) * sx),
		Y2: int(float64(b.Y2) * sy),
	}
	return scaled.Clamp(width, height)
}

// Clamp intersects the box with the canvas [0,width)x[0,height).
func (b BBox) Clamp(width, height int) BBox {
	if b.X1 < 0 {
		b.X1 = 0
	}
	if b.Y1 < 0 {
		b.Y1 = 0
	}
	if b.X2 > width {
		b.X2 = width
	}
	if b.Y2 > height {
		b.Y2 = height
	}
	if b.Empty() {
		return BBox{}
	}
	return b
}

// Sample is one image and the boxes of the objects to find in it. An
// empty box list is legal: the episode then has nothing to score.
type Sample struct {
	Image  *image.RGBA
	BBoxes []BBox
}

// Dataset is a finite indexed collection of samples.
type Dataset interface {
	Len() int
	At(i int) (Sample, error)
}

// Single wraps one image as a dataset without annotations, for ad-hoc
// prediction on arbitrary files.
func Single(img *image.RGBA) Dataset {
	return singleDataset{img: img}
}

type singleDataset struct {
	img *image.RGBA
}

func (s singleDataset) Len() int { return 1 }

func (s singleDataset) At(i int) (Sample, error) {
	if i != 0 {
		return Sample{}, errors.New("index out of range")
	}
	return Sample{Image: s.img}, nil
}
