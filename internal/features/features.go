package features

import (
	"image"
)

// DescriptorBytes is the length of a binary descriptor: 256 tests, 1 bit each.
const DescriptorBytes = 32

// Keypoint is a salient image location with the metadata needed to describe
// it. Coordinates are in pixels of the full-resolution input.
type Keypoint struct {
	// X and Y locate the keypoint; (0,0) is the top-left pixel.
	X float64 `json:"x"`
	Y float64 `json:"y"`

	// Angle is the dominant orientation in degrees, in [0, 360).
	Angle float64 `json:"angle"`

	// Size is the diameter of the described patch at full resolution.
	Size float64 `json:"size"`

	// Response is the Harris corner score used to rank keypoints.
	Response float64 `json:"response"`

	// Octave is the pyramid level the keypoint was found on.
	Octave int `json:"octave"`
}

// Point returns the keypoint location rounded to the nearest pixel.
func (k Keypoint) Point() image.Point {
	return image.Pt(int(k.X+0.5), int(k.Y+0.5))
}

// Descriptor is a fixed-length vector summarizing the appearance around a
// keypoint. Binary descriptors pack one test per bit, least significant bit
// first.
type Descriptor []byte

// Features pairs keypoints 1:1 with their descriptors.
type Features struct {
	Keypoints   []Keypoint
	Descriptors []Descriptor
}

// Len returns the number of keypoint/descriptor pairs.
func (f *Features) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Keypoints)
}

// Extractor converts a grayscale image into keypoints and descriptors.
//
// Implementations must be deterministic for a fixed image and configuration,
// must never return more keypoints than their configured maximum, and must
// return an empty (not nil-error) result for images without structure.
// Extractors perform no color conversion or denoising of their own.
type Extractor interface {
	Extract(img *image.Gray) (*Features, error)

	// Fingerprint identifies the extractor and every setting that changes
	// its output. It is part of the persistent cache key.
	Fingerprint() string
}
