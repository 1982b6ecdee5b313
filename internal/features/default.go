//go:build !gocv

package features

// NewDefault returns the extractor used when none is injected: the pure-Go
// ORB. Builds with the gocv tag use OpenCV instead.
func NewDefault(cfg ORBConfig) (Extractor, error) {
	return NewORB(cfg)
}
