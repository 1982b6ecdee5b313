// Package matching pairs descriptors between a template and a candidate.
//
// BruteForce evaluates the full distance grid once and keeps a pair only when
// each side is the other's nearest neighbour. Hamming is the metric for the
// binary descriptors produced by package features; L2 is available for
// numeric descriptors.
package matching
