// Package pipeline runs the template x candidate batch.
//
// For every pair the Runner extracts features from both images (cached per
// image and role), cross-checks descriptors, fits a homography with RANSAC
// and accepts the pair when the inlier count reaches the threshold. Accepted
// pairs are rendered side by side and written through a Sink.
//
// # Concurrency
//
// Pairs run on a bounded errgroup. Workers write only their own slot of a
// pre-sized result slice; rendering, writing and logging happen afterwards
// in pair order. Each pair seeds its own random source from the configured
// seed and the digests of its two images, so results are reproducible for
// any worker count.
//
// # Failure isolation
//
// A file that fails to decode is reported once and every pair that needs
// it is skipped. Estimation failures and timeouts only affect their pair.
package pipeline
