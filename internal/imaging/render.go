package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Link is one correspondence to draw, in the pixel coordinates of the
// template (From) and of the candidate (To).
type Link struct {
	From image.Point
	To   image.Point
}

// MatchRendering describes an annotated correspondence image.
type MatchRendering struct {
	// Template and Candidate are drawn side by side, template on the left.
	Template  image.Image
	Candidate image.Image

	// Links are the inlier correspondences.
	Links []Link

	// Outline is the template border projected into candidate coordinates.
	// Empty when no homography is available.
	Outline []image.Point

	// Label is printed in the top-left corner. Empty disables it.
	Label string
}

const (
	markerRadius  = 3
	labelFontSize = 12.0
	labelPadding  = 4
)

var outlineColor = color.NRGBA{R: 0, G: 255, B: 0, A: 255}

// RenderMatches composes the template and candidate side by side and draws
// every link as a colored line with circles at both ends, in the manner of
// a drawMatches visualization.
//
// The whole image is produced in memory; nothing is written to disk here.
//
// # Layout
//
//	+-----------+-------------------+
//	| template  | candidate         |
//	|     o-----+-------o           |
//	+-----------+-------------------+
//
// Canvas width is template width + candidate width, height is the larger of
// the two heights. Uncovered pixels are black.
//
// # Colors
//
// Link i gets hue i * 137.5 degrees (golden angle) so neighbouring links are
// easy to tell apart. The palette is a pure function of the index, so two
// renders of the same result are byte-identical.
func RenderMatches(r MatchRendering) (*image.NRGBA, error) {
	if r.Template == nil || r.Candidate == nil {
		return nil, fmt.Errorf("both template and candidate images are required")
	}

	tb := r.Template.Bounds()
	cb := r.Candidate.Bounds()
	width := tb.Dx() + cb.Dx()
	height := tb.Dy()
	if cb.Dy() > height {
		height = cb.Dy()
	}

	canvas := imaging.New(width, height, color.Black)
	canvas = imaging.Paste(canvas, r.Template, image.Pt(0, 0))
	canvas = imaging.Paste(canvas, r.Candidate, image.Pt(tb.Dx(), 0))

	offset := image.Pt(tb.Dx(), 0)

	if n := len(r.Outline); n > 1 && withinReach(r.Outline, cb.Dx(), cb.Dy()) {
		for i := range r.Outline {
			a := r.Outline[i].Add(offset)
			b := r.Outline[(i+1)%n].Add(offset)
			drawLine(canvas, a, b, outlineColor)
		}
	}

	for i, l := range r.Links {
		c := paletteColor(i)
		to := l.To.Add(offset)
		drawLine(canvas, l.From, to, c)
		drawCircle(canvas, l.From, markerRadius, c)
		drawCircle(canvas, to, markerRadius, c)
	}

	if r.Label != "" {
		if err := drawLabel(canvas, r.Label); err != nil {
			return nil, err
		}
	}

	return canvas, nil
}

// withinReach rejects outlines thrown far off the canvas by a nearly
// singular homography; rasterizing them would walk millions of pixels.
func withinReach(pts []image.Point, w, h int) bool {
	for _, p := range pts {
		if p.X < -4*w || p.X > 5*w || p.Y < -4*h || p.Y > 5*h {
			return false
		}
	}
	return true
}

func paletteColor(i int) color.Color {
	hue := math.Mod(float64(i)*137.5, 360)
	return colorful.Hsv(hue, 0.85, 0.95).Clamped()
}

// drawLine rasterizes a line with Bresenham's algorithm, clipping per pixel.
func drawLine(img draw.Image, a, b image.Point, c color.Color) {
	bounds := img.Bounds()
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	err := dx + dy
	x, y := a.X, a.Y
	for {
		if image.Pt(x, y).In(bounds) {
			img.Set(x, y, c)
		}
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

// drawCircle draws a circle outline with the midpoint algorithm.
func drawCircle(img draw.Image, center image.Point, radius int, c color.Color) {
	bounds := img.Bounds()
	set := func(x, y int) {
		if image.Pt(x, y).In(bounds) {
			img.Set(x, y, c)
		}
	}

	x, y, err := radius, 0, 0
	for x >= y {
		set(center.X+x, center.Y+y)
		set(center.X+y, center.Y+x)
		set(center.X-y, center.Y+x)
		set(center.X-x, center.Y+y)
		set(center.X-x, center.Y-y)
		set(center.X-y, center.Y-x)
		set(center.X+y, center.Y-x)
		set(center.X+x, center.Y-y)

		if err <= 0 {
			y++
			err += 2*y + 1
		}
		if err > 0 {
			x--
			err -= 2*x + 1
		}
	}
}

var (
	labelFontOnce sync.Once
	labelFont     *truetype.Font
	labelFontErr  error
)

// drawLabel prints text on a translucent black box in the top-left corner.
func drawLabel(img *image.NRGBA, text string) error {
	labelFontOnce.Do(func() {
		labelFont, labelFontErr = truetype.Parse(goregular.TTF)
	})
	if labelFontErr != nil {
		return fmt.Errorf("failed to load label font: %w", labelFontErr)
	}

	face := truetype.NewFace(labelFont, &truetype.Options{Size: labelFontSize, DPI: 72})
	textWidth := font.MeasureString(face, text).Ceil()
	face.Close()

	box := image.Rect(0, 0, textWidth+2*labelPadding, int(labelFontSize)+2*labelPadding+2)
	draw.Draw(img, box.Intersect(img.Bounds()), image.NewUniform(color.NRGBA{A: 180}), image.Point{}, draw.Over)

	ctx := freetype.NewContext()
	ctx.SetDPI(72)
	ctx.SetFont(labelFont)
	ctx.SetFontSize(labelFontSize)
	ctx.SetClip(img.Bounds())
	ctx.SetDst(img)
	ctx.SetSrc(image.White)
	ctx.SetHinting(font.HintingFull)

	pt := freetype.Pt(labelPadding, labelPadding+int(ctx.PointToFixed(labelFontSize)>>6))
	if _, err := ctx.DrawString(text, pt); err != nil {
		return fmt.Errorf("failed to draw label: %w", err)
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
