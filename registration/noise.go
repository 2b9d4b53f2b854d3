package registration

import (
	"math"
	"math/rand"

	"github.com/kwv/rigidreg/geom"
)

// UniformRandom returns a transform with a uniformly random rotation and a
// translation drawn uniformly in [-size/2, size/2] on each axis. Test helper.
func UniformRandom(rng *rand.Rand, size float64) RigidTransform {
	// Shoemake: uniform on the unit quaternion sphere
	u1, u2, u3 := rng.Float64(), rng.Float64(), rng.Float64()
	a, b := math.Sqrt(1-u1), math.Sqrt(u1)
	q := geom.QuatFromArray([4]float64{
		b * math.Cos(2*math.Pi*u3),
		a * math.Sin(2*math.Pi*u2),
		a * math.Cos(2*math.Pi*u2),
		b * math.Sin(2*math.Pi*u3),
	})

	t := geom.Vec{
		X: (rng.Float64() - 0.5) * size,
		Y: (rng.Float64() - 0.5) * size,
		Z: (rng.Float64() - 0.5) * size,
	}
	return NewRigidTransform(geom.QuatToMat3(q), t)
}

// AddGaussianTranslation perturbs each translation component by N(0, sigma²)
// and returns the norm of the perturbation.
func (t *RigidTransform) AddGaussianTranslation(rng *rand.Rand, sigma float64) float64 {
	d := geom.Vec{X: rng.NormFloat64() * sigma, Y: rng.NormFloat64() * sigma, Z: rng.NormFloat64() * sigma}
	t.SetTranslation(t.Translation().Add(d))
	return d.Norm()
}

// AddGaussianRotation perturbs the Euler angles of the rotation by N(0, sigmaDeg²)
// degrees each and returns the angle of the resulting rotation change in degrees.
func (t *RigidTransform) AddGaussianRotation(rng *rand.Rand, sigmaDeg float64) float64 {
	before := t.Rotation()
	rx, ry, rz := geom.Mat3ToEuler(before)
	rx += deg2rad(rng.NormFloat64() * sigmaDeg)
	ry += deg2rad(rng.NormFloat64() * sigmaDeg)
	rz += deg2rad(rng.NormFloat64() * sigmaDeg)
	after := geom.EulerToMat3(rx, ry, rz)
	t.SetRotation(after)
	return rad2deg(geom.RotationAngle(after.Mul(before.Transpose())))
}
