package homography

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// normalization returns the similarity that moves the centroid of pts to
// the origin and their mean distance from it to sqrt(2).
func normalization(pts []Point) (Matrix, bool) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(pts))
	cx /= n
	cy /= n

	var mean float64
	for _, p := range pts {
		mean += math.Hypot(p.X-cx, p.Y-cy)
	}
	mean /= n
	if mean < 1e-12 {
		return Matrix{}, false
	}

	s := math.Sqrt2 / mean
	return Matrix{s, 0, -s * cx, 0, s, -s * cy, 0, 0, 1}, true
}

// solveDLT fits the homography mapping src onto dst with the normalized
// direct linear transform. Four correspondences give the exact solution,
// more give the algebraic least-squares fit.
func solveDLT(src, dst []Point) (Matrix, bool) {
	if len(src) < 4 || len(src) != len(dst) {
		return Matrix{}, false
	}

	ts, ok := normalization(src)
	if !ok {
		return Matrix{}, false
	}
	td, ok := normalization(dst)
	if !ok {
		return Matrix{}, false
	}

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range src {
		p, _ := ts.Apply(src[i])
		q, _ := td.Apply(dst[i])
		x, y, u, v := p.X, p.Y, q.X, q.Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return Matrix{}, false
	}

	// A second vanishing singular value means the solution is not unique.
	values := svd.Values(nil)
	if values[0] == 0 || values[7] < 1e-10*values[0] {
		return Matrix{}, false
	}

	var v mat.Dense
	svd.VTo(&v)
	var hn Matrix
	for i := 0; i < 9; i++ {
		hn[i] = v.At(i, 8)
	}

	tdInv, ok := td.Inverse()
	if !ok {
		return Matrix{}, false
	}
	h := tdInv.Mul(hn).Mul(ts).Normalized()
	if !h.finite() || math.Abs(h.Det()) < 1e-12 {
		return Matrix{}, false
	}
	return h, true
}
