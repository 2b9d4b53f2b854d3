package registration

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/kwv/rigidreg/geom"
)

// MinPairs is the minimum number of visible pairs closed-form registration needs.
const MinPairs = 3

// visiblePairs returns the coordinates of the index positions where both points are visible
func visiblePairs(src, dst PointList) (s, d []geom.Vec) {
	for i := range src {
		if src[i].Visible && dst[i].Visible {
			s = append(s, src[i].Coord)
			d = append(d, dst[i].Coord)
		}
	}
	return s, d
}

// crossCovariance returns (1/n)·Σ a_i⊗b_i − mean(a)⊗mean(b)
func crossCovariance(a, b []geom.Vec) geom.Mat3 {
	var h geom.Mat3
	for i := range a {
		h = h.Add(geom.Outer(a[i], b[i]))
	}
	h = h.Scale(1 / float64(len(a)))
	return h.Sub(geom.Outer(Centroid(a), Centroid(b)))
}

// Register3D3D returns the rigid transform T minimising Σ‖T·src_i − dst_i‖²
// over the pairs where both points are visible (Arun/Horn closed form).
// The transform carries the RMS and standard deviation of the residuals.
func Register3D3D(src, dst PointList) (RigidTransform, error) {
	if len(src) != len(dst) {
		return RigidTransform{}, fmt.Errorf("register 3D/3D: %d vs %d points: %w", len(src), len(dst), ErrSizeMismatch)
	}
	s, d := visiblePairs(src, dst)
	if len(s) < MinPairs {
		return RigidTransform{}, fmt.Errorf("register 3D/3D: %d visible pairs: %w", len(s), ErrTooFewPoints)
	}
	return registerCoords(s, d)
}

// RegisterPoints is Register3D3D for plain coordinates, all considered visible
func RegisterPoints(src, dst []geom.Vec) (RigidTransform, error) {
	return Register3D3D(NewPointList(src...), NewPointList(dst...))
}

func registerCoords(s, d []geom.Vec) (RigidTransform, error) {
	meanA := Centroid(d)
	meanB := Centroid(s)

	h := crossCovariance(d, s)
	r, ok := geom.ClosestRotation(h)
	if !ok {
		return RigidTransform{}, fmt.Errorf("register 3D/3D: closest rotation did not converge: %w", ErrInvalidTransform)
	}

	t := NewRigidTransform(r, meanA.Sub(r.MulVec(meanB)))
	res := residuals(t, s, d)
	t.RMS = res.RMS
	t.StdDev = res.StdDev
	return t, nil
}

// Residuals summarises the per-pair errors of a transform.
type Residuals struct {
	RMS    float64
	StdDev float64
	Mean   float64
	Errors []float64 // |T·src_i − dst_i| per visible pair
}

func residuals(t RigidTransform, s, d []geom.Vec) Residuals {
	res := Residuals{Errors: make([]float64, len(s))}
	sq := 0.0
	for i := range s {
		e := t.Apply(s[i]).Sub(d[i]).Norm()
		res.Errors[i] = e
		sq += e * e
	}
	if len(s) == 0 {
		return res
	}
	res.RMS = math.Sqrt(sq / float64(len(s)))
	res.Mean, _ = stats.Mean(res.Errors)
	res.StdDev, _ = stats.StandardDeviationPopulation(res.Errors)
	return res
}

// RMS3D3D computes the residuals of t over the visible pairs of src and dst
// and stores RMS and StdDev in t.
func (t *RigidTransform) RMS3D3D(src, dst PointList) (Residuals, error) {
	if len(src) != len(dst) {
		return Residuals{}, fmt.Errorf("rms 3D/3D: %d vs %d points: %w", len(src), len(dst), ErrSizeMismatch)
	}
	s, d := visiblePairs(src, dst)
	if len(s) == 0 {
		return Residuals{}, fmt.Errorf("rms 3D/3D: %w", ErrEmptyPointSet)
	}
	res := residuals(*t, s, d)
	t.RMS = res.RMS
	t.StdDev = res.StdDev
	return res, nil
}

// ChangePlaneOXZ returns the transform mapping the origin, the unit point on X
// and the unit point on Z onto o, x and z.
func ChangePlaneOXZ(o, x, z geom.Vec) (RigidTransform, error) {
	src := []geom.Vec{{}, {X: 1}, {Z: 1}}
	return RegisterPoints(src, []geom.Vec{o, x, z})
}
