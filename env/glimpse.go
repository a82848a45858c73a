package env

// Glimpse pyramid construction. Level 0 is the image itself; every
// further level pads all sides by the patch size with reflection and
// resizes back to the original size, so a patch crop at level g covers a
// progressively wider, lower-resolution view around the same location.

// mirrorIndex reflects an out-of-range index without repeating the edge
// pixel. Valid while the padding is smaller than the axis length.
func mirrorIndex(i, n int) int {
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

// reflectPad pads a single h x w plane by pad pixels on every side.
func reflectPad(plane []float64, h, w, pad int) []float64 {
	outH, outW := h+2*pad, w+2*pad
	out := make([]float64, outH*outW)
	for y := 0; y < outH; y++ {
		srcY := mirrorIndex(y-pad, h)
		for x := 0; x < outW; x++ {
			srcX := mirrorIndex(x-pad, w)
			out[y*outW+x] = plane[srcY*w+srcX]
		}
	}
	return out
}

// resizeBilinear resizes a single plane with bilinear interpolation.
func resizeBilinear(plane []float64, h, w, outH, outW int) []float64 {
	out := make([]float64, outH*outW)
	scaleY := float64(h) / float64(outH)
	scaleX := float64(w) / float64(outW)

	for y := 0; y < outH; y++ {
		srcY := (float64(y)+0.5)*scaleY - 0.5
		if srcY < 0 {
			srcY = 0
		}
		y0 := int(srcY)
		y1 := y0 + 1
		if y1 >= h {
			y1 = h - 1
		}
		fy := srcY - float64(y0)

		for x := 0; x < outW; x++ {
			srcX := (float64(x)+0.5)*scaleX - 0.5
			if srcX < 0 {
				srcX = 0
			}
			x0 := int(srcX)
			x1 := x0 + 1
			if x1 >= w {
				x1 = w - 1
			}
			fx := srcX - float64(x0)

			top := plane[y0*w+x0]*(1-fx) + plane[y0*w+x1]*fx
			bottom := plane[y1*w+x0]*(1-fx) + plane[y1*w+x1]*fx
			out[y*outW+x] = top*(1-fy) + bottom*fy
		}
	}
	return out
}

// buildPyramid stacks nLevels glimpse planes for one image. planes holds
// channels of size h*w; the result is [nLevels][channels][h*w].
func buildPyramid(planes [][]float64, h, w, pad, nLevels int) [][][]float64 {
	pyramid := make([][][]float64, nLevels)
	current := planes

	for level := 0; level < nLevels; level++ {
		pyramid[level] = current

		if level == nLevels-1 {
			break
		}

		next := make([][]float64, len(current))
		for c, plane := range current {
			padded := reflectPad(plane, h, w, pad)
			next[c] = resizeBilinear(padded, h+2*pad, w+2*pad, h, w)
		}
		current = next
	}

	return pyramid
}
