// Package homography estimates planar projective transforms from point
// correspondences.
//
// Estimator runs RANSAC over minimal 4-point samples solved with the
// normalized direct linear transform (SVD from gonum), then refits on the
// consensus set by least squares. The random source is explicit so that a
// fixed seed reproduces the same model.
package homography
