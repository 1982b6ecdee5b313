// Package features detects keypoints and computes binary descriptors.
//
// The default extractor, ORB, is an oriented FAST / rotated BRIEF detector
// written in pure Go. It works on an 8-bit grayscale plane whose origin is
// (0,0); callers are responsible for grayscale conversion and any denoising.
//
// # Pipeline
//
//  1. Scale pyramid: level l is the input resized by 1/ScaleFactor^l.
//  2. FAST-9 segment test on every interior pixel of every level.
//  3. Harris response for each FAST corner, 3x3 non-maximum suppression,
//     and a per-level budget proportional to the level area.
//  4. Orientation from the intensity centroid of a radius-15 disc.
//  5. 256 binary intensity tests on a Gaussian-smoothed level, taken from
//     a fixed sampling pattern rotated to the keypoint orientation.
//
// # Determinism
//
// The sampling pattern comes from a fixed seed and keypoints are ordered by
// (response, octave, y, x), so the output is a pure function of the image
// and the configuration.
//
// # Caching
//
// Cache memoizes extraction results per key with at-most-once computation
// and an optional persistent second tier (see Store).
package features
