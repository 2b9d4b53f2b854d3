package geom

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Quaternion convention used throughout the module:
//   Real is the scalar part q0, (Imag, Jmag, Kmag) is the vector part (q1, q2, q3).
//   QuatToMat3 and Mat3ToQuat are exact inverses up to the sign of q.
//
//   R = | q0²+q1²-q2²-q3²   2(q1q2-q0q3)      2(q1q3+q0q2)    |
//       | 2(q1q2+q0q3)      q0²-q1²+q2²-q3²   2(q2q3-q0q1)    |
//       | 2(q1q3-q0q2)      2(q2q3+q0q1)      q0²-q1²-q2²+q3² |

// QuatToMat3 converts a quaternion to a rotation matrix. The quaternion is
// normalized first; the zero quaternion maps to the identity.
func QuatToMat3(q quat.Number) Mat3 {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return Identity3()
	}
	q = quat.Scale(1/n, q)
	q0, q1, q2, q3 := q.Real, q.Imag, q.Jmag, q.Kmag

	return Mat3{
		{q0*q0 + q1*q1 - q2*q2 - q3*q3, 2 * (q1*q2 - q0*q3), 2 * (q1*q3 + q0*q2)},
		{2 * (q1*q2 + q0*q3), q0*q0 - q1*q1 + q2*q2 - q3*q3, 2 * (q2*q3 - q0*q1)},
		{2 * (q1*q3 - q0*q2), 2 * (q2*q3 + q0*q1), q0*q0 - q1*q1 - q2*q2 + q3*q3},
	}
}

// Mat3ToQuat converts a rotation matrix to a unit quaternion with a
// non-negative scalar part.
func Mat3ToQuat(m Mat3) quat.Number {
	var q quat.Number
	tr := m.Trace()
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q = quat.Number{
			Real: 0.25 * s,
			Imag: (m[2][1] - m[1][2]) / s,
			Jmag: (m[0][2] - m[2][0]) / s,
			Kmag: (m[1][0] - m[0][1]) / s,
		}
	case m[0][0] > m[1][1] && m[0][0] > m[2][2]:
		s := math.Sqrt(1+m[0][0]-m[1][1]-m[2][2]) * 2
		q = quat.Number{
			Real: (m[2][1] - m[1][2]) / s,
			Imag: 0.25 * s,
			Jmag: (m[0][1] + m[1][0]) / s,
			Kmag: (m[0][2] + m[2][0]) / s,
		}
	case m[1][1] > m[2][2]:
		s := math.Sqrt(1+m[1][1]-m[0][0]-m[2][2]) * 2
		q = quat.Number{
			Real: (m[0][2] - m[2][0]) / s,
			Imag: (m[0][1] + m[1][0]) / s,
			Jmag: 0.25 * s,
			Kmag: (m[1][2] + m[2][1]) / s,
		}
	default:
		s := math.Sqrt(1+m[2][2]-m[0][0]-m[1][1]) * 2
		q = quat.Number{
			Real: (m[1][0] - m[0][1]) / s,
			Imag: (m[0][2] + m[2][0]) / s,
			Jmag: (m[1][2] + m[2][1]) / s,
			Kmag: 0.25 * s,
		}
	}

	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	if n := quat.Abs(q); n > 0 {
		q = quat.Scale(1/n, q)
	}
	return q
}

// RotX returns a rotation of angle radians about the X axis
func RotX(angle float64) Mat3 {
	c, s := math.Cos(angle), math.Sin(angle)
	return Mat3{{1, 0, 0}, {0, c, -s}, {0, s, c}}
}

// RotY returns a rotation of angle radians about the Y axis
func RotY(angle float64) Mat3 {
	c, s := math.Cos(angle), math.Sin(angle)
	return Mat3{{c, 0, s}, {0, 1, 0}, {-s, 0, c}}
}

// RotZ returns a rotation of angle radians about the Z axis
func RotZ(angle float64) Mat3 {
	c, s := math.Cos(angle), math.Sin(angle)
	return Mat3{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}
}

// EulerToMat3 builds R = Rz(rz)·Ry(ry)·Rx(rx), angles in radians.
func EulerToMat3(rx, ry, rz float64) Mat3 {
	return RotZ(rz).Mul(RotY(ry)).Mul(RotX(rx))
}

// Mat3ToEuler is the inverse of EulerToMat3. At gimbal lock rz is set to 0.
func Mat3ToEuler(m Mat3) (rx, ry, rz float64) {
	ry = math.Asin(Clamp(-m[2][0], -1, 1))
	if math.Abs(math.Cos(ry)) > 1e-9 {
		rx = math.Atan2(m[2][1], m[2][2])
		rz = math.Atan2(m[1][0], m[0][0])
		return rx, ry, rz
	}
	rx = math.Atan2(-m[1][2], m[1][1])
	return rx, ry, 0
}

// AxisAngleToQuat returns the quaternion rotating angle radians about axis.
// A zero axis yields the identity quaternion.
func AxisAngleToQuat(axis Vec, angle float64) quat.Number {
	n := axis.Norm()
	if n == 0 {
		return quat.Number{Real: 1}
	}
	a := axis.Mul(math.Sin(angle/2) / n)
	return quat.Number{Real: math.Cos(angle / 2), Imag: a.X, Jmag: a.Y, Kmag: a.Z}
}

// RotationVectorToMat3 converts a rotation vector (axis scaled by angle) to a matrix
func RotationVectorToMat3(v Vec) Mat3 {
	return QuatToMat3(AxisAngleToQuat(v, v.Norm()))
}

// Mat3ToRotationVector returns axis*angle for the rotation m, angle in [0, π].
func Mat3ToRotationVector(m Mat3) Vec {
	q := Mat3ToQuat(m)
	v := Vec{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	s := v.Norm()
	if s < 1e-15 {
		return Vec{}
	}
	angle := 2 * math.Atan2(s, q.Real)
	return v.Mul(angle / s)
}

// RotationAngle returns the rotation angle of m in radians, from its trace.
// The cosine is clamped to [-1, 1] so slightly non-orthonormal input never
// produces NaN.
func RotationAngle(m Mat3) float64 {
	return math.Acos(Clamp((m.Trace()-1)/2, -1, 1))
}

// ClosestRotation returns the rotation nearest to h in the Frobenius sense:
// h = U·S·Vᵗ, R = U·diag(1, 1, det(U·Vᵗ))·Vᵗ. ok is false when the SVD fails.
func ClosestRotation(h Mat3) (r Mat3, ok bool) {
	a := mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return Identity3(), false
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var uvt mat.Dense
	uvt.Mul(&u, v.T())
	d := 1.0
	if mat.Det(&uvt) < 0 {
		d = -1
	}

	var ud, res mat.Dense
	ud.Mul(&u, mat.NewDiagDense(3, []float64{1, 1, d}))
	res.Mul(&ud, v.T())

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = res.At(i, j)
		}
	}
	return r, true
}

// Clamp limits x to [lo, hi]
func Clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// QuatFromArray builds a quaternion from (q0, q1, q2, q3), q0 being the scalar part
func QuatFromArray(q [4]float64) quat.Number {
	return quat.Number{Real: q[0], Imag: q[1], Jmag: q[2], Kmag: q[3]}
}
