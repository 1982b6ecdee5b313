package pipeline

// DefaultAcceptThreshold is the inlier count a pair must reach to be
// reported as a match.
const DefaultAcceptThreshold = 20

// Accept reports whether a pair with the given number of RANSAC inliers is
// a match. A pair exactly at the threshold is accepted.
func Accept(inliers, threshold int) bool {
	return inliers >= threshold
}

// Classifier applies Accept with a fixed threshold.
type Classifier struct {
	Threshold int
}

// Accept reports whether inliers reaches the classifier's threshold.
func (c Classifier) Accept(inliers int) bool {
	return Accept(inliers, c.Threshold)
}
