package homography

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var (
	// ErrInsufficientCorrespondences is returned for fewer than 4 pairs.
	ErrInsufficientCorrespondences = errors.New("at least 4 correspondences are required")

	// ErrDegenerateGeometry is returned when no non-degenerate model with at
	// least 4 inliers exists.
	ErrDegenerateGeometry = errors.New("degenerate correspondence geometry")

	// ErrEstimationTimeout is returned when the context ends mid-search.
	ErrEstimationTimeout = errors.New("homography estimation timed out")
)

const (
	sampleSize      = 4
	maxRefineRounds = 10

	// collinearSine is the smallest |sin| of the angle at a sample vertex
	// that still counts as a proper triangle.
	collinearSine = 1e-3
)

// Estimator fits a homography to noisy correspondences with RANSAC.
//
// An Estimator holds a random source and must not be shared between
// goroutines; create one per pair.
type Estimator struct {
	// Threshold is the reprojection distance, in pixels, below which a
	// correspondence counts as an inlier.
	Threshold float64

	// MaxIterations bounds the number of random samples drawn.
	MaxIterations int

	// Confidence is the probability of drawing at least one outlier-free
	// sample, used to stop early. Values >= 1 disable early stopping.
	Confidence float64

	// Rand drives sampling. Nil uses a source seeded with 1.
	Rand *rand.Rand
}

// NewEstimator returns an estimator with the default settings and a random
// source seeded with seed.
func NewEstimator(seed int64) *Estimator {
	return &Estimator{
		Threshold:     3.0,
		MaxIterations: 2000,
		Confidence:    0.995,
		Rand:          rand.New(rand.NewSource(seed)),
	}
}

// Estimate is a fitted model.
type Estimate struct {
	H Matrix

	// Mask marks the inliers, aligned with the input order.
	Mask []bool

	Inliers    int
	Total      int
	Iterations int

	// RMSE is the root mean square reprojection error over the inliers.
	RMSE float64
}

type model struct {
	h       Matrix
	mask    []bool
	inliers int
	// absErr is the summed reprojection error of the inliers and breaks
	// ties between models with equal support. sqErr feeds the RMSE.
	absErr float64
	sqErr  float64
}

func (m *model) betterThan(o *model) bool {
	if o == nil {
		return true
	}
	if m.inliers != o.inliers {
		return m.inliers > o.inliers
	}
	return m.absErr < o.absErr
}

// Estimate finds the homography mapping src[i] onto dst[i] for the largest
// consensus set.
//
// # Algorithm
//
//  1. Draw 4 distinct indices. Samples with a collinear triple on either
//     side, or with triangle orientations that flip inconsistently, are
//     skipped.
//  2. Solve the exact homography for the sample and count inliers.
//  3. Keep the model with the most inliers, lower total reprojection error
//     on ties, and shrink the iteration bound as the inlier ratio improves.
//  4. Refit on all inliers by least squares while the inlier set grows.
//
// # Errors
//
// ErrInsufficientCorrespondences for fewer than 4 pairs;
// ErrDegenerateGeometry when no usable model exists; ErrEstimationTimeout
// when ctx ends first.
func (e *Estimator) Estimate(ctx context.Context, src, dst []Point) (*Estimate, error) {
	if len(src) != len(dst) {
		return nil, fmt.Errorf("mismatched correspondence sets: %d source, %d destination points", len(src), len(dst))
	}
	n := len(src)
	if n < sampleSize {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientCorrespondences, n)
	}

	rng := e.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	limit := e.MaxIterations
	var best *model
	var sample [sampleSize]int
	var ss, ds [sampleSize]Point

	iter := 0
	for ; iter < limit; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w after %d iterations: %v", ErrEstimationTimeout, iter, err)
		}

		drawSample(rng, n, &sample)
		for k, idx := range sample {
			ss[k] = src[idx]
			ds[k] = dst[idx]
		}
		if !validSample(ss[:], ds[:]) {
			continue
		}

		h, ok := solveDLT(ss[:], ds[:])
		if !ok {
			continue
		}

		m := e.score(h, src, dst)
		if !m.betterThan(best) {
			continue
		}
		best = m
		if bound := e.adaptiveBound(best.inliers, n); bound < limit {
			limit = max(bound, iter+1)
		}
	}

	if best == nil || best.inliers < sampleSize {
		return nil, ErrDegenerateGeometry
	}

	best, err := e.refine(best, src, dst)
	if err != nil {
		return nil, err
	}

	rmse := 0.0
	if best.inliers > 0 {
		rmse = math.Sqrt(best.sqErr / float64(best.inliers))
	}
	return &Estimate{
		H:          best.h,
		Mask:       best.mask,
		Inliers:    best.inliers,
		Total:      n,
		Iterations: iter,
		RMSE:       rmse,
	}, nil
}

// refine refits the model on its inliers until the consensus set stops
// growing. A refit that scores worse than the current model is discarded.
func (e *Estimator) refine(m *model, src, dst []Point) (*model, error) {
	for round := 0; round < maxRefineRounds; round++ {
		is, id := selectInliers(m.mask, src, dst)
		h, ok := solveDLT(is, id)
		if !ok {
			if round == 0 {
				return nil, fmt.Errorf("%w: least-squares refit is singular", ErrDegenerateGeometry)
			}
			return m, nil
		}

		refit := e.score(h, src, dst)
		if !refit.betterThan(m) {
			return m, nil
		}
		grew := refit.inliers > m.inliers
		m = refit
		if !grew {
			return m, nil
		}
	}
	return m, nil
}

func (e *Estimator) score(h Matrix, src, dst []Point) *model {
	m := &model{h: h, mask: make([]bool, len(src))}
	for i := range src {
		d := ReprojectionError(h, src[i], dst[i])
		if d <= e.Threshold {
			m.mask[i] = true
			m.inliers++
			m.absErr += d
			m.sqErr += d * d
		}
	}
	return m
}

// adaptiveBound is the number of samples needed to draw one all-inlier
// sample with the configured confidence, given the current inlier ratio.
func (e *Estimator) adaptiveBound(inliers, total int) int {
	p := e.Confidence
	if p <= 0 || p >= 1 {
		return math.MaxInt
	}
	w := float64(inliers) / float64(total)
	if w >= 1 {
		return 0
	}
	denom := math.Log(1 - math.Pow(w, sampleSize))
	if denom >= 0 || math.IsNaN(denom) {
		return math.MaxInt
	}
	k := math.Ceil(math.Log(1-p) / denom)
	if k > float64(math.MaxInt32) {
		return math.MaxInt
	}
	return int(k)
}

// drawSample fills out with distinct indices in [0, n).
func drawSample(rng *rand.Rand, n int, out *[sampleSize]int) {
	for k := 0; k < sampleSize; {
		idx := rng.Intn(n)
		dup := false
		for j := 0; j < k; j++ {
			if out[j] == idx {
				dup = true
				break
			}
		}
		if !dup {
			out[k] = idx
			k++
		}
	}
}

// sampleTriples lists the four triangles of a 4-point sample.
var sampleTriples = [4][3]int{{0, 1, 2}, {1, 2, 3}, {0, 2, 3}, {0, 1, 3}}

func cross(a, b, c Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

func collinear(a, b, c Point) bool {
	ab := math.Hypot(b.X-a.X, b.Y-a.Y)
	ac := math.Hypot(c.X-a.X, c.Y-a.Y)
	return math.Abs(cross(a, b, c)) <= collinearSine*ab*ac
}

// validSample rejects samples that cannot define a homography: a collinear
// triple on either side, or a mix of preserved and flipped triangles, which
// no projective map of the sample's convex hull produces.
func validSample(src, dst []Point) bool {
	flipped := 0
	for _, t := range sampleTriples {
		a, b, c := t[0], t[1], t[2]
		if collinear(src[a], src[b], src[c]) || collinear(dst[a], dst[b], dst[c]) {
			return false
		}
		if (cross(src[a], src[b], src[c]) > 0) != (cross(dst[a], dst[b], dst[c]) > 0) {
			flipped++
		}
	}
	return flipped == 0 || flipped == len(sampleTriples)
}

func selectInliers(mask []bool, src, dst []Point) ([]Point, []Point) {
	var is, id []Point
	for i, ok := range mask {
		if ok {
			is = append(is, src[i])
			id = append(id, dst[i])
		}
	}
	return is, id
}
