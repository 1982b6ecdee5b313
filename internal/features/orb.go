package features

import (
	"errors"
	"fmt"
	"image"
	"math"
	"math/rand"
	"sort"

	"github.com/disintegration/imaging"
)

const (
	// patchRadius bounds the orientation disc and the rotated test pattern.
	patchRadius = 15

	// edgeMargin keeps every read (Harris block, orientation disc, rotated
	// pattern plus smoothing kernel) inside the level.
	edgeMargin = 18

	patternRadius  = 13 // radius of the unrotated sampling disc
	patternSeed    = 0x0bd1
	descriptorBits = DescriptorBytes * 8

	// Orientations are quantized to 12 degree steps, each with a
	// pre-rotated copy of the pattern.
	angleBins = 30
)

// ORBConfig tunes the ORB extractor.
type ORBConfig struct {
	// MaxKeypoints caps the number of keypoints returned per image.
	MaxKeypoints int

	// FastThreshold is the intensity difference the FAST-9 test requires.
	FastThreshold int

	// PyramidLevels is the number of scale levels, including full resolution.
	PyramidLevels int

	// ScaleFactor is the size ratio between consecutive levels. Must be > 1.
	ScaleFactor float64
}

// DefaultORBConfig returns the settings used when nothing is configured.
func DefaultORBConfig() ORBConfig {
	return ORBConfig{
		MaxKeypoints:  2000,
		FastThreshold: 20,
		PyramidLevels: 4,
		ScaleFactor:   1.2,
	}
}

// ORB is an oriented FAST / rotated BRIEF extractor producing 32-byte binary
// descriptors. It is safe for concurrent use.
type ORB struct {
	cfg ORBConfig
}

// NewORB validates cfg and returns an extractor.
func NewORB(cfg ORBConfig) (*ORB, error) {
	switch {
	case cfg.MaxKeypoints <= 0:
		return nil, fmt.Errorf("max keypoints must be positive, got %d", cfg.MaxKeypoints)
	case cfg.FastThreshold <= 0 || cfg.FastThreshold > 255:
		return nil, fmt.Errorf("fast threshold must be in 1..255, got %d", cfg.FastThreshold)
	case cfg.PyramidLevels <= 0:
		return nil, fmt.Errorf("pyramid levels must be positive, got %d", cfg.PyramidLevels)
	case cfg.ScaleFactor <= 1:
		return nil, fmt.Errorf("scale factor must be greater than 1, got %g", cfg.ScaleFactor)
	}
	return &ORB{cfg: cfg}, nil
}

// Fingerprint implements Extractor.
func (o *ORB) Fingerprint() string {
	return fmt.Sprintf("orb-v1/n=%d/fast=%d/levels=%d/scale=%g",
		o.cfg.MaxKeypoints, o.cfg.FastThreshold, o.cfg.PyramidLevels, o.cfg.ScaleFactor)
}

type level struct {
	gray  *image.Gray
	scale float64
}

// scored is a corner that survived its level budget.
type scored struct {
	corner
	octave int
}

// Extract implements Extractor.
func (o *ORB) Extract(img *image.Gray) (*Features, error) {
	if img == nil {
		return nil, errors.New("image is nil")
	}

	levels := o.pyramid(rebase(img))
	budgets := levelBudgets(o.cfg.MaxKeypoints, len(levels), o.cfg.ScaleFactor)

	var picked []scored
	for l, lv := range levels {
		corners := detect(lv.gray, o.cfg.FastThreshold, edgeMargin)
		if len(corners) > budgets[l] {
			corners = corners[:budgets[l]]
		}
		for _, c := range corners {
			picked = append(picked, scored{corner: c, octave: l})
		}
	}

	sort.SliceStable(picked, func(i, j int) bool {
		a, b := picked[i], picked[j]
		if a.response != b.response {
			return a.response > b.response
		}
		if a.octave != b.octave {
			return a.octave < b.octave
		}
		if a.y != b.y {
			return a.y < b.y
		}
		return a.x < b.x
	})
	if len(picked) > o.cfg.MaxKeypoints {
		picked = picked[:o.cfg.MaxKeypoints]
	}

	smoothed := make([]*image.Gray, len(levels))
	out := &Features{
		Keypoints:   make([]Keypoint, 0, len(picked)),
		Descriptors: make([]Descriptor, 0, len(picked)),
	}
	for _, p := range picked {
		lv := levels[p.octave]
		if smoothed[p.octave] == nil {
			smoothed[p.octave] = gaussianBlur(lv.gray)
		}

		angle := orientation(lv.gray, p.x, p.y)
		out.Keypoints = append(out.Keypoints, Keypoint{
			X:        float64(p.x) * lv.scale,
			Y:        float64(p.y) * lv.scale,
			Angle:    angle,
			Size:     float64(2*patchRadius+1) * lv.scale,
			Response: p.response,
			Octave:   p.octave,
		})
		out.Descriptors = append(out.Descriptors, describe(smoothed[p.octave], p.x, p.y, angle))
	}
	return out, nil
}

// pyramid resizes the base plane once per level. Levels too small to hold a
// single described patch end the pyramid early.
func (o *ORB) pyramid(base *image.Gray) []level {
	levels := []level{{gray: base, scale: 1}}
	w, h := base.Rect.Dx(), base.Rect.Dy()
	for l := 1; l < o.cfg.PyramidLevels; l++ {
		s := math.Pow(o.cfg.ScaleFactor, float64(l))
		lw := int(math.Round(float64(w) / s))
		lh := int(math.Round(float64(h) / s))
		if lw < 2*edgeMargin+1 || lh < 2*edgeMargin+1 {
			break
		}
		resized := imaging.Resize(base, lw, lh, imaging.Linear)
		levels = append(levels, level{gray: nrgbaToGray(resized), scale: s})
	}
	return levels
}

// levelBudgets splits n keypoints across levels in proportion to level
// area, so coarse levels do not crowd out fine detail.
func levelBudgets(n, levels int, scaleFactor float64) []int {
	budgets := make([]int, levels)
	factor := 1 / scaleFactor
	per := float64(n) * (1 - factor) / (1 - math.Pow(factor, float64(levels)))
	sum := 0
	for l := 0; l < levels-1; l++ {
		budgets[l] = int(math.Round(per))
		sum += budgets[l]
		per *= factor
	}
	if rest := n - sum; rest > 0 {
		budgets[levels-1] = rest
	}
	return budgets
}

func nrgbaToGray(img *image.NRGBA) *image.Gray {
	b := img.Rect
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[y*img.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < b.Dx(); x++ {
			dst[x] = src[4*x]
		}
	}
	return out
}

// discSpan[d] is the half-width of the orientation disc at row offset d.
var discSpan = func() [patchRadius + 1]int {
	var s [patchRadius + 1]int
	for d := 0; d <= patchRadius; d++ {
		s[d] = int(math.Sqrt(float64(patchRadius*patchRadius - d*d)))
	}
	return s
}()

// orientation returns the direction from (x, y) to the intensity centroid
// of the surrounding disc, in degrees within [0, 360).
func orientation(g *image.Gray, x, y int) float64 {
	var m01, m10 int
	for dy := -patchRadius; dy <= patchRadius; dy++ {
		span := discSpan[abs(dy)]
		row := g.Pix[(y+dy)*g.Stride+x-span:]
		for dx := -span; dx <= span; dx++ {
			v := int(row[dx+span])
			m10 += dx * v
			m01 += dy * v
		}
	}
	angle := math.Atan2(float64(m01), float64(m10)) * 180 / math.Pi
	if angle < 0 {
		angle += 360
	}
	if angle >= 360 {
		angle -= 360
	}
	return angle
}

type testPair struct {
	x1, y1, x2, y2 int
}

// rotatedPatterns holds the sampling pattern pre-rotated for every angle bin.
var rotatedPatterns = buildPatterns()

func buildPatterns() *[angleBins][descriptorBits]testPair {
	rng := rand.New(rand.NewSource(patternSeed))
	sigma := float64(2*patchRadius+1) / 5
	sample := func() (float64, float64) {
		for {
			x := rng.NormFloat64() * sigma
			y := rng.NormFloat64() * sigma
			if x*x+y*y <= patternRadius*patternRadius {
				return x, y
			}
		}
	}

	var base [descriptorBits][4]float64
	for i := range base {
		x1, y1 := sample()
		x2, y2 := sample()
		base[i] = [4]float64{x1, y1, x2, y2}
	}

	var out [angleBins][descriptorBits]testPair
	for bin := 0; bin < angleBins; bin++ {
		theta := float64(bin) * 2 * math.Pi / angleBins
		cos, sin := math.Cos(theta), math.Sin(theta)
		for i, p := range base {
			out[bin][i] = testPair{
				x1: int(math.Round(cos*p[0] - sin*p[1])),
				y1: int(math.Round(sin*p[0] + cos*p[1])),
				x2: int(math.Round(cos*p[2] - sin*p[3])),
				y2: int(math.Round(sin*p[2] + cos*p[3])),
			}
		}
	}
	return &out
}

// describe evaluates the steered binary tests on the smoothed level.
func describe(smooth *image.Gray, x, y int, angle float64) Descriptor {
	bin := int(math.Round(angle/(360.0/angleBins))) % angleBins
	pattern := &rotatedPatterns[bin]

	at := func(dx, dy int) uint8 {
		return smooth.Pix[(y+dy)*smooth.Stride+x+dx]
	}

	d := make(Descriptor, DescriptorBytes)
	for i, p := range pattern {
		if at(p.x1, p.y1) < at(p.x2, p.y2) {
			d[i/8] |= 1 << (i % 8)
		}
	}
	return d
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
