package imaging

import (
	"image"
	"image/draw"

	"github.com/anthonynsimon/bild/effect"
)

// Preprocessor turns a decoded image into the grayscale plane the extractor
// works on. Templates and candidates carry separate Preprocessors, so each
// side can be cleaned up differently.
type Preprocessor struct {
	// Openings is the number of morphological openings (erode then dilate)
	// applied after grayscale conversion. Zero disables them.
	Openings int

	// Radius is the structuring element radius. A radius of 1 behaves like a
	// 3x3 element.
	Radius float64
}

// Apply converts img to grayscale and runs the configured openings.
//
// The result always has its origin at (0,0), so keypoint coordinates are
// relative to the top-left pixel of the source image.
func (p Preprocessor) Apply(img image.Image) *image.Gray {
	gray := Grayscale(img)
	for i := 0; i < p.Openings; i++ {
		gray = Open(gray, p.Radius)
	}
	return gray
}

// Grayscale converts any image to an 8-bit luminance plane anchored at (0,0).
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	return toGray(effect.Grayscale(img))
}

// Open performs a morphological opening (erosion followed by dilation), which
// removes bright specks smaller than the structuring element while keeping
// larger structures in place.
func Open(gray *image.Gray, radius float64) *image.Gray {
	eroded := effect.Erode(gray, radius)
	dilated := effect.Dilate(eroded, radius)
	return toGray(dilated)
}

// toGray copies the RGBA result of a bild filter back to a Gray plane
// anchored at (0,0). The filters used here produce R=G=B, so the copy is
// lossless.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
