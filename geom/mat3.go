package geom

import (
	"math"

	"github.com/golang/geo/r3"
)

// Vec is a 3D vector. Points, translations and centroids all use it.
type Vec = r3.Vector

// Mat3 is a row-major 3x3 matrix.
type Mat3 [3][3]float64

// Identity3 returns the 3x3 identity matrix
func Identity3() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Diag3 returns a diagonal matrix with the given entries
func Diag3(a, b, c float64) Mat3 {
	return Mat3{{a, 0, 0}, {0, b, 0}, {0, 0, c}}
}

// Outer returns the outer product a⊗b (a as column, b as row)
func Outer(a, b Vec) Mat3 {
	return Mat3{
		{a.X * b.X, a.X * b.Y, a.X * b.Z},
		{a.Y * b.X, a.Y * b.Y, a.Y * b.Z},
		{a.Z * b.X, a.Z * b.Y, a.Z * b.Z},
	}
}

// Mul returns m * n
func (m Mat3) Mul(n Mat3) Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][0]*n[0][j] + m[i][1]*n[1][j] + m[i][2]*n[2][j]
		}
	}
	return r
}

// MulVec returns m * v
func (m Mat3) MulVec(v Vec) Vec {
	return Vec{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Add returns m + n
func (m Mat3) Add(n Mat3) Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][j] + n[i][j]
		}
	}
	return r
}

// Sub returns m - n
func (m Mat3) Sub(n Mat3) Mat3 {
	return m.Add(n.Scale(-1))
}

// Scale returns f * m
func (m Mat3) Scale(f float64) Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = f * m[i][j]
		}
	}
	return r
}

// Transpose returns mᵗ
func (m Mat3) Transpose() Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[j][i]
		}
	}
	return r
}

func (m Mat3) Trace() float64 {
	return m[0][0] + m[1][1] + m[2][2]
}

func (m Mat3) Det() float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// IsZero reports whether every entry is exactly zero
func (m Mat3) IsZero() bool {
	return m == Mat3{}
}

// Col returns column j as a vector
func (m Mat3) Col(j int) Vec {
	return Vec{X: m[0][j], Y: m[1][j], Z: m[2][j]}
}

// ApproxEqual reports whether all entries differ by at most tol
func (m Mat3) ApproxEqual(n Mat3, tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(m[i][j]-n[i][j]) > tol {
				return false
			}
		}
	}
	return true
}

// IsRotation reports whether m is orthonormal with determinant +1 within tol.
// mᵗm is compared to the identity entry by entry.
func (m Mat3) IsRotation(tol float64) bool {
	if !m.Transpose().Mul(m).ApproxEqual(Identity3(), tol) {
		return false
	}
	return math.Abs(m.Det()-1) <= tol
}
