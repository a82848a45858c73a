// Package draw renders search trajectories: the visited patches are
// tinted red in visit order, the patch grid and the target boxes are
// overlaid, and episodes can be tiled or animated for inspection.
package draw

import (
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"io"

	xdraw "golang.org/x/image/draw"

	"github.com/pierrot-lc/snake-search/dataset"
)

// OutputWidth is the width every rendered trajectory is resized to.
const OutputWidth = 500

// Trajectory renders one episode on top of its image. Positions are
// patch grid coordinates in visit order, starting at the reset
// position; the tint ramps from faint to solid so the path reads
// chronologically.
func Trajectory(img *image.RGBA, positions [][2]int, patchSize int, bboxes []dataset.BBox) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	xdraw.Copy(out, image.Point{}, img, img.Bounds(), xdraw.Src, nil)

	tintVisits(out, positions, patchSize)
	drawGrid(out, patchSize)
	for _, b := range bboxes {
		drawRect(out, b, color.RGBA{0, 255, 0, 255}, 3)
	}

	return resizeToWidth(out, OutputWidth)
}

// Frames renders one image per prefix of the trajectory, for animated
// output.
func Frames(img *image.RGBA, positions [][2]int, patchSize int, bboxes []dataset.BBox) []*image.RGBA {
	frames := make([]*image.RGBA, 0, len(positions))
	for i := 1; i <= len(positions); i++ {
		frames = append(frames, Trajectory(img, positions[:i], patchSize, bboxes))
	}
	return frames
}

// EncodePNG writes a single rendered trajectory.
func EncodePNG(w io.Writer, img *image.RGBA) error {
	return png.Encode(w, img)
}

// EncodeGIF writes the trajectory frames as a looping animation.
func EncodeGIF(w io.Writer, frames []*image.RGBA, delay int) error {
	if len(frames) == 0 {
		return fmt.Errorf("draw: no frames to encode")
	}

	anim := &gif.GIF{}
	for _, frame := range frames {
		pal := image.NewPaletted(frame.Bounds(), webSafePalette())
		xdraw.Draw(pal, pal.Bounds(), frame, frame.Bounds().Min, xdraw.Src)
		anim.Image = append(anim.Image, pal)
		anim.Delay = append(anim.Delay, delay)
	}
	return gif.EncodeAll(w, anim)
}

// Tile lays several rendered episodes out on a grid, row-major, with a
// small dark gutter between cells.
func Tile(images []*image.RGBA, cols int) *image.RGBA {
	if len(images) == 0 {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	if cols <= 0 {
		cols = 1
	}
	rows := (len(images) + cols - 1) / cols

	const gutter = 4
	cell := images[0].Bounds()
	width := cols*cell.Dx() + (cols+1)*gutter
	height := rows*cell.Dy() + (rows+1)*gutter

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	bg := color.RGBA{30, 30, 30, 255}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			out.SetRGBA(x, y, bg)
		}
	}

	for i, img := range images {
		r := i / cols
		c := i % cols
		x0 := gutter + c*(cell.Dx()+gutter)
		y0 := gutter + r*(cell.Dy()+gutter)
		rect := image.Rect(x0, y0, x0+img.Bounds().Dx(), y0+img.Bounds().Dy())
		xdraw.Draw(out, rect, img, img.Bounds().Min, xdraw.Src)
	}
	return out
}

// tintVisits blends red over each visited patch, ramping the blend
// factor from 0.3 at the first visit to 1.0 at the last.
func tintVisits(img *image.RGBA, positions [][2]int, patchSize int) {
	n := len(positions)
	for i, pos := range positions {
		alpha := 1.0
		if n > 1 {
			alpha = 0.3 + 0.7*float64(i)/float64(n-1)
		}
		tintPatch(img, pos[0], pos[1], patchSize, alpha)
	}
}

func tintPatch(img *image.RGBA, row, col, patchSize int, alpha float64) {
	x0 := col * patchSize
	y0 := row * patchSize
	for y := y0; y < y0+patchSize; y++ {
		for x := x0; x < x0+patchSize; x++ {
			if !image.Pt(x, y).In(img.Bounds()) {
				continue
			}
			c := img.RGBAAt(x, y)
			c.R = blend(c.R, 255, alpha)
			c.G = blend(c.G, 0, alpha)
			c.B = blend(c.B, 0, alpha)
			img.SetRGBA(x, y, c)
		}
	}
}

func blend(base, over uint8, alpha float64) uint8 {
	v := float64(base)*(1-alpha) + float64(over)*alpha
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return uint8(v)
}

func drawGrid(img *image.RGBA, patchSize int) {
	bounds := img.Bounds()
	white := color.RGBA{255, 255, 255, 255}
	for x := patchSize; x < bounds.Dx(); x += patchSize {
		for y := 0; y < bounds.Dy(); y++ {
			img.SetRGBA(x, y, white)
		}
	}
	for y := patchSize; y < bounds.Dy(); y += patchSize {
		for x := 0; x < bounds.Dx(); x++ {
			img.SetRGBA(x, y, white)
		}
	}
}

func drawRect(img *image.RGBA, b dataset.BBox, c color.RGBA, thickness int) {
	for t := 0; t < thickness; t++ {
		for x := b.X1 - t; x < b.X2+t; x++ {
			set(img, x, b.Y1-t, c)
			set(img, x, b.Y2-1+t, c)
		}
		for y := b.Y1 - t; y < b.Y2+t; y++ {
			set(img, b.X1-t, y, c)
			set(img, b.X2-1+t, y, c)
		}
	}
}

func set(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func resizeToWidth(img *image.RGBA, width int) *image.RGBA {
	bounds := img.Bounds()
	if bounds.Dx() == width {
		return img
	}
	height := bounds.Dy() * width / bounds.Dx()
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.BiLinear.Scale(out, out.Bounds(), img, bounds, xdraw.Src, nil)
	return out
}

// webSafePalette builds a small color table by uniform quantization.
// Good enough for debug animations.
func webSafePalette() color.Palette {
	var pal color.Palette
	for r := 0; r < 6; r++ {
		for g := 0; g < 6; g++ {
			for b := 0; b < 6; b++ {
				pal = append(pal, color.RGBA{uint8(r * 51), uint8(g * 51), uint8(b * 51), 255})
			}
		}
	}
	return pal
}
