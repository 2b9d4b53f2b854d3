package registration

import (
	"fmt"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/kwv/rigidreg/geom"
)

// RotationTolerance is the numeric tolerance of the rotation predicate in IsValid.
const RotationTolerance = 1e-6

// Meta carries the acquisition timestamp and registration quality of a transform.
// Date is encoded as YYYYMMDD and Time as HHMMSSmmm; both zero means no timestamp.
type Meta struct {
	Date   int64   `json:"date"`
	Time   int64   `json:"time"`
	RMS    float64 `json:"rms"`    // registration RMS, -1 when undefined
	StdDev float64 `json:"stdDev"` // standard deviation of the residuals
	OK     bool    `json:"ok"`
}

// Touch sets the timestamp from t
func (m *Meta) Touch(t time.Time) {
	m.Date = int64(t.Year()*10000 + int(t.Month())*100 + t.Day())
	m.Time = int64(t.Hour()*10000000 + t.Minute()*100000 + t.Second()*1000 + t.Nanosecond()/1e6)
}

// Stamp decodes Date and Time into a UTC time. The zero timestamp decodes to
// the zero time.Time.
func (m Meta) Stamp() time.Time {
	if m.Date == 0 && m.Time == 0 {
		return time.Time{}
	}
	year, month, day := int(m.Date/10000), time.Month(m.Date/100%100), int(m.Date%100)
	hh, mm := int(m.Time/10000000), int(m.Time/100000%100)
	ss, ms := int(m.Time/1000%100), int(m.Time%1000)
	return time.Date(year, month, day, hh, mm, ss, ms*1e6, time.UTC)
}

// Before reports whether m is strictly older than o
func (m Meta) Before(o Meta) bool {
	if m.Date != o.Date {
		return m.Date < o.Date
	}
	return m.Time < o.Time
}

// RigidTransform is a 4x4 homogeneous rigid transform: rotation in the top-left
// 3x3 block, translation in column 3, bottom row [0 0 0 1].
//
// The zero value is not a valid transform; use Identity or NewRigidTransform.
type RigidTransform struct {
	Meta
	M geom.Mat4 `json:"matrix"`
}

// Identity returns the identity transform with RMS and StdDev at 0
func Identity() RigidTransform {
	return RigidTransform{M: geom.Identity4(), Meta: Meta{OK: true}}
}

// NewRigidTransform builds a transform from a rotation and a translation.
// RMS is undefined (-1).
func NewRigidTransform(r geom.Mat3, t geom.Vec) RigidTransform {
	rt := RigidTransform{M: geom.Identity4(), Meta: Meta{RMS: -1, OK: true}}
	rt.SetRotation(r)
	rt.SetTranslation(t)
	return rt
}

// FromRigidVector builds a transform from a 6-parameter vector: a rotation
// vector (axis scaled by the angle in radians) followed by the translation.
func FromRigidVector(v [6]float64) RigidTransform {
	r := geom.RotationVectorToMat3(geom.Vec{X: v[0], Y: v[1], Z: v[2]})
	return NewRigidTransform(r, geom.Vec{X: v[3], Y: v[4], Z: v[5]})
}

// RigidVector is the inverse of FromRigidVector
func (t RigidTransform) RigidVector() [6]float64 {
	rv := geom.Mat3ToRotationVector(t.Rotation())
	tr := t.Translation()
	return [6]float64{rv.X, rv.Y, rv.Z, tr.X, tr.Y, tr.Z}
}

// SetIdentity resets the rotation and translation and zeroes RMS and StdDev.
// The timestamp is kept.
func (t *RigidTransform) SetIdentity() {
	t.M = geom.Identity4()
	t.RMS = 0
	t.StdDev = 0
	t.OK = true
}

// Rotation returns the 3x3 rotation block
func (t RigidTransform) Rotation() geom.Mat3 {
	var r geom.Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = t.M[i][j]
		}
	}
	return r
}

// Translation returns column 3
func (t RigidTransform) Translation() geom.Vec {
	return geom.Vec{X: t.M[0][3], Y: t.M[1][3], Z: t.M[2][3]}
}

func (t *RigidTransform) SetRotation(r geom.Mat3) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t.M[i][j] = r[i][j]
		}
	}
	t.M[3] = [4]float64{0, 0, 0, 1}
}

func (t *RigidTransform) SetTranslation(v geom.Vec) {
	t.M[0][3], t.M[1][3], t.M[2][3] = v.X, v.Y, v.Z
	t.M[3] = [4]float64{0, 0, 0, 1}
}

// Quaternion returns the rotation as a unit quaternion, scalar part first.
// See geom.QuatToMat3 for the convention.
func (t RigidTransform) Quaternion() quat.Number {
	return geom.Mat3ToQuat(t.Rotation())
}

// SetQuaternion replaces the rotation block with the rotation of q
func (t *RigidTransform) SetQuaternion(q quat.Number) {
	t.SetRotation(geom.QuatToMat3(q))
}

// IsValid reports whether the bottom row is exactly [0 0 0 1] and the rotation
// block is orthonormal with determinant +1 within RotationTolerance.
func (t RigidTransform) IsValid() bool {
	if t.M[3] != [4]float64{0, 0, 0, 1} {
		return false
	}
	return t.Rotation().IsRotation(RotationTolerance)
}

// Inverse returns the inverse transform: rotation Rᵗ, translation -Rᵗ·t.
// Metadata is carried over.
func (t RigidTransform) Inverse() RigidTransform {
	rt := t.Rotation().Transpose()
	inv := RigidTransform{Meta: t.Meta, M: geom.Identity4()}
	inv.SetRotation(rt)
	inv.SetTranslation(rt.MulVec(t.Translation()).Mul(-1))
	return inv
}

// Compose returns a·b, applying b first. The result carries the older of the
// two timestamps and is OK only if both inputs are.
func Compose(a, b RigidTransform) RigidTransform {
	var m geom.Mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			for k := 0; k < 4; k++ {
				m[i][j] += a.M[i][k] * b.M[k][j]
			}
		}
	}

	meta := Meta{RMS: -1, OK: a.OK && b.OK}
	older := a.Meta
	if b.Before(a.Meta) {
		older = b.Meta
	}
	meta.Date, meta.Time = older.Date, older.Time
	return RigidTransform{Meta: meta, M: m}
}

// Apply transforms a coordinate
func (t RigidTransform) Apply(v geom.Vec) geom.Vec {
	return geom.Vec{
		X: t.M[0][0]*v.X + t.M[0][1]*v.Y + t.M[0][2]*v.Z + t.M[0][3],
		Y: t.M[1][0]*v.X + t.M[1][1]*v.Y + t.M[1][2]*v.Z + t.M[1][3],
		Z: t.M[2][0]*v.X + t.M[2][1]*v.Y + t.M[2][2]*v.Z + t.M[2][3],
	}
}

// TransformPoint moves p and, when it carries one, rotates its covariance as R·C·Rᵗ
func (t RigidTransform) TransformPoint(p Point) Point {
	out := p
	out.Coord = t.Apply(p.Coord)
	if p.HasCov() {
		r := t.Rotation()
		out.Cov = r.Mul(p.Cov).Mul(r.Transpose())
	}
	return out
}

// TransformPoints applies TransformPoint to every point of the list
func (t RigidTransform) TransformPoints(pl PointList) PointList {
	out := make(PointList, len(pl))
	for i, p := range pl {
		out[i] = t.TransformPoint(p)
	}
	return out
}

// TransformSegment moves both ends of s
func (t RigidTransform) TransformSegment(s Segment) Segment {
	return Segment{A: t.TransformPoint(s.A), B: t.TransformPoint(s.B)}
}

// RotXYZ returns the rotation Rz·Ry·Rx, angles in degrees, without translation
func RotXYZ(rx, ry, rz float64) RigidTransform {
	return NewRigidTransform(geom.EulerToMat3(deg2rad(rx), deg2rad(ry), deg2rad(rz)), geom.Vec{})
}

// RotX returns a rotation of deg degrees about X
func RotX(deg float64) RigidTransform { return RotXYZ(deg, 0, 0) }

// RotY returns a rotation of deg degrees about Y
func RotY(deg float64) RigidTransform { return RotXYZ(0, deg, 0) }

// RotZ returns a rotation of deg degrees about Z
func RotZ(deg float64) RigidTransform { return RotXYZ(0, 0, deg) }

// RotVecFromOrigin returns a rotation of angle radians about axis through the
// origin. A zero axis gives the identity.
func RotVecFromOrigin(axis geom.Vec, angle float64) RigidTransform {
	if axis.Norm() == 0 {
		return Identity()
	}
	return NewRigidTransform(geom.QuatToMat3(geom.AxisAngleToQuat(axis, angle)), geom.Vec{})
}

// String returns the 12 affine coefficients row by row on one line
func (t RigidTransform) String() string {
	var sb strings.Builder
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%.6g", t.M[i][j])
		}
	}
	return sb.String()
}

// Text returns a multi-line dump with metadata and the tab separated matrix
func (t RigidTransform) Text() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Date %d Time %d RMS %.6g StdDev %.6g\n", t.Date, t.Time, t.RMS, t.StdDev)
	for i := 0; i < 4; i++ {
		fmt.Fprintf(&sb, "%.10g\t%.10g\t%.10g\t%.10g\n", t.M[i][0], t.M[i][1], t.M[i][2], t.M[i][3])
	}
	return sb.String()
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }

func rad2deg(r float64) float64 { return r * 180 / math.Pi }
