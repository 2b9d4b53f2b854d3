package registration

import (
	"math"

	"github.com/kwv/rigidreg/geom"
)

// DistanceMethod selects which probe points Distance2 compares.
type DistanceMethod int

const (
	// ThreeAxis compares the unit points on X, Y and Z
	ThreeAxis DistanceMethod = iota
	// TranslationOnly compares the origin only
	TranslationOnly
	// OX compares the origin and the unit point on X
	OX
	// OY compares the origin and the unit point on Y
	OY
	// OZ compares the origin and the unit point on Z
	OZ
)

var probes = [4]geom.Vec{{}, {X: 1}, {Y: 1}, {Z: 1}}

func (m DistanceMethod) selected() [4]bool {
	switch m {
	case ThreeAxis:
		return [4]bool{false, true, true, true}
	case TranslationOnly:
		return [4]bool{true, false, false, false}
	case OX:
		return [4]bool{true, true, false, false}
	case OY:
		return [4]bool{true, false, true, false}
	case OZ:
		return [4]bool{true, false, false, true}
	}
	return [4]bool{}
}

// Distance2 transforms the origin and the unit points on X, Y and Z by both t
// and o and returns the mean squared distance over the probes selected by
// method, plus the squared distance of every probe (O, X, Y, Z). It returns -1
// when method selects no probe.
func (t RigidTransform) Distance2(o RigidTransform, method DistanceMethod) (float64, [4]float64) {
	var errs [4]float64
	for i, p := range probes {
		errs[i] = t.Apply(p).Sub(o.Apply(p)).Norm2()
	}

	sum, n := 0.0, 0
	for i, use := range method.selected() {
		if use {
			sum += errs[i]
			n++
		}
	}
	if n == 0 {
		return -1, errs
	}
	return sum / float64(n), errs
}

// Distance is the square root of Distance2, or -1
func (t RigidTransform) Distance(o RigidTransform, method DistanceMethod) float64 {
	d2, _ := t.Distance2(o, method)
	if d2 < 0 {
		return -1
	}
	return math.Sqrt(d2)
}

// Compare measures how far t is from o. It is CompareInverse against o⁻¹.
func (t RigidTransform) Compare(o RigidTransform) (translationErr, rotationErrDeg float64) {
	return t.CompareInverse(o.Inverse())
}

// CompareInverse measures how far o is from being the inverse of t.
// With δ1 = o·t and δ2 = t·o, the translation error is the mean norm of the two
// translations and the rotation error is the rotation angle of δ1 in degrees.
// The cosine of the angle is clamped to [-1, 1] so rounding on nearly equal
// transforms gives 0 instead of NaN.
func (t RigidTransform) CompareInverse(o RigidTransform) (translationErr, rotationErrDeg float64) {
	d1 := Compose(o, t)
	d2 := Compose(t, o)
	translationErr = (d1.Translation().Norm() + d2.Translation().Norm()) / 2
	rotationErrDeg = rad2deg(geom.RotationAngle(d1.Rotation()))
	return translationErr, rotationErrDeg
}
