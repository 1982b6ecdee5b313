package features

import (
	"image"
	"sort"
)

// fastCircle is the Bresenham circle of radius 3 used by the segment test,
// listed clockwise from 12 o'clock.
var fastCircle = [16]image.Point{
	{0, -3}, {1, -3}, {2, -2}, {3, -1},
	{3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
	{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

// fastArc is the number of contiguous circle pixels that must all be brighter
// or all be darker than the center for the FAST-9 test to fire.
const fastArc = 9

const (
	harrisBlock = 7
	harrisK     = 0.04
)

// corner is a detection in level coordinates.
type corner struct {
	x, y     int
	response float64
}

// isFASTCorner runs the FAST-9 segment test at (x, y). The caller guarantees
// that the full circle lies inside the plane.
func isFASTCorner(g *image.Gray, x, y, threshold int) bool {
	center := int(g.Pix[y*g.Stride+x])
	hi, lo := center+threshold, center-threshold

	var state [16]int8
	for i, off := range fastCircle {
		v := int(g.Pix[(y+off.Y)*g.Stride+x+off.X])
		switch {
		case v > hi:
			state[i] = 1
		case v < lo:
			state[i] = -1
		}
	}

	// Any arc of 9 covers at least two of the four compass points.
	bright, dark := 0, 0
	for i := 0; i < 16; i += 4 {
		switch state[i] {
		case 1:
			bright++
		case -1:
			dark++
		}
	}
	if bright < 2 && dark < 2 {
		return false
	}

	run := 0
	var last int8
	for i := 0; i < 16+fastArc-1; i++ {
		s := state[i%16]
		if s != 0 && s == last {
			run++
		} else if s != 0 {
			run = 1
		} else {
			run = 0
		}
		last = s
		if run >= fastArc {
			return true
		}
	}
	return false
}

// harrisResponse computes the Harris corner measure over a 7x7 block of
// Sobel gradients centered on (x, y).
func harrisResponse(g *image.Gray, x, y int) float64 {
	at := func(px, py int) float64 {
		return float64(g.Pix[py*g.Stride+px])
	}

	r := harrisBlock / 2
	var a, b, c float64
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			px, py := x+dx, y+dy
			ix := at(px+1, py-1) + 2*at(px+1, py) + at(px+1, py+1) -
				at(px-1, py-1) - 2*at(px-1, py) - at(px-1, py+1)
			iy := at(px-1, py+1) + 2*at(px, py+1) + at(px+1, py+1) -
				at(px-1, py-1) - 2*at(px, py-1) - at(px+1, py-1)
			a += ix * ix
			b += iy * iy
			c += ix * iy
		}
	}

	scale := 1.0 / (4 * harrisBlock * 255)
	scale4 := scale * scale * scale * scale
	return (a*b - c*c - harrisK*(a+b)*(a+b)) * scale4
}

// detect finds FAST corners at least margin pixels from the border, scores
// them with the Harris measure, and keeps only 3x3 local maxima. The result
// is sorted by descending response, then by y and x.
func detect(g *image.Gray, threshold, margin int) []corner {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w < 2*margin+1 || h < 2*margin+1 {
		return nil
	}

	scores := make([]float64, w*h)
	var found []int
	for y := margin; y < h-margin; y++ {
		for x := margin; x < w-margin; x++ {
			if !isFASTCorner(g, x, y, threshold) {
				continue
			}
			// Non-positive responses are edges, not corners.
			r := harrisResponse(g, x, y)
			if r <= 0 {
				continue
			}
			scores[y*w+x] = r
			found = append(found, y*w+x)
		}
	}

	// Ties between neighbors go to the one earlier in raster order.
	before := [4]int{-w - 1, -w, -w + 1, -1}
	after := [4]int{1, w - 1, w, w + 1}

	corners := make([]corner, 0, len(found))
	for _, idx := range found {
		s := scores[idx]
		keep := true
		for i := 0; i < 4 && keep; i++ {
			keep = s > scores[idx+before[i]] && s >= scores[idx+after[i]]
		}
		if keep {
			corners = append(corners, corner{x: idx % w, y: idx / w, response: s})
		}
	}

	sort.Slice(corners, func(i, j int) bool {
		a, b := corners[i], corners[j]
		if a.response != b.response {
			return a.response > b.response
		}
		if a.y != b.y {
			return a.y < b.y
		}
		return a.x < b.x
	})
	return corners
}
