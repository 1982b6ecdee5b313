package homography

import (
	"math"
)

// Point is a 2-D image coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Matrix is a 3x3 planar projective transform in row-major order.
type Matrix [9]float64

// Identity returns the identity transform.
func Identity() Matrix {
	return Matrix{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Apply maps p through the transform. It reports false when p lands on the
// line at infinity.
func (m Matrix) Apply(p Point) (Point, bool) {
	w := m[6]*p.X + m[7]*p.Y + m[8]
	if math.Abs(w) < 1e-12 {
		return Point{}, false
	}
	return Point{
		X: (m[0]*p.X + m[1]*p.Y + m[2]) / w,
		Y: (m[3]*p.X + m[4]*p.Y + m[5]) / w,
	}, true
}

// Mul returns m * o.
func (m Matrix) Mul(o Matrix) Matrix {
	var r Matrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[3*i+j] = m[3*i]*o[j] + m[3*i+1]*o[3+j] + m[3*i+2]*o[6+j]
		}
	}
	return r
}

// Det returns the determinant.
func (m Matrix) Det() float64 {
	return m[0]*(m[4]*m[8]-m[5]*m[7]) -
		m[1]*(m[3]*m[8]-m[5]*m[6]) +
		m[2]*(m[3]*m[7]-m[4]*m[6])
}

// Inverse returns the inverse transform, or false if m is singular.
func (m Matrix) Inverse() (Matrix, bool) {
	det := m.Det()
	if math.Abs(det) < 1e-15 || math.IsNaN(det) {
		return Matrix{}, false
	}
	inv := Matrix{
		m[4]*m[8] - m[5]*m[7], m[2]*m[7] - m[1]*m[8], m[1]*m[5] - m[2]*m[4],
		m[5]*m[6] - m[3]*m[8], m[0]*m[8] - m[2]*m[6], m[2]*m[3] - m[0]*m[5],
		m[3]*m[7] - m[4]*m[6], m[1]*m[6] - m[0]*m[7], m[0]*m[4] - m[1]*m[3],
	}
	for i := range inv {
		inv[i] /= det
	}
	return inv.Normalized(), true
}

// Normalized scales m so that its bottom-right entry is 1. Transforms whose
// bottom-right entry vanishes are scaled to unit Frobenius norm instead.
func (m Matrix) Normalized() Matrix {
	s := m[8]
	if math.Abs(s) < 1e-12 {
		var norm float64
		for _, v := range m {
			norm += v * v
		}
		s = math.Sqrt(norm)
		if s == 0 {
			return m
		}
	}
	for i := range m {
		m[i] /= s
	}
	return m
}

func (m Matrix) finite() bool {
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ReprojectionError is the Euclidean distance between H(src) and dst. Points
// mapped to infinity have infinite error.
func ReprojectionError(h Matrix, src, dst Point) float64 {
	p, ok := h.Apply(src)
	if !ok {
		return math.Inf(1)
	}
	return math.Hypot(p.X-dst.X, p.Y-dst.Y)
}
