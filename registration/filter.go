package registration

import (
	"fmt"
	"math"
	"strings"

	"github.com/kwv/rigidreg/geom"
)

// FilterPolicy weights each transform by its normalised age t in [0, 1]
// (0 oldest, 1 newest).
type FilterPolicy int

const (
	FilterConstant FilterPolicy = iota // 1
	FilterLinear                       // t
	FilterLog                          // ln(1 + t·(e−1))
	FilterSquare                       // t²
	FilterCubic                        // t³
)

var filterPolicyNames = map[FilterPolicy]string{
	FilterConstant: "constant",
	FilterLinear:   "linear",
	FilterLog:      "log",
	FilterSquare:   "square",
	FilterCubic:    "cubic",
}

func (p FilterPolicy) String() string {
	if s, ok := filterPolicyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("FilterPolicy(%d)", int(p))
}

// ParseFilterPolicy is the inverse of FilterPolicy.String, case-insensitive
func ParseFilterPolicy(s string) (FilterPolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range filterPolicyNames {
		if name == s {
			return p, nil
		}
	}
	return FilterConstant, fmt.Errorf("unknown filter policy %q", s)
}

// Coefficient maps the normalised time t through the policy
func (p FilterPolicy) Coefficient(t float64) float64 {
	switch p {
	case FilterLinear:
		return t
	case FilterLog:
		return math.Log(1 + t*(math.E-1))
	case FilterSquare:
		return t * t
	case FilterCubic:
		return t * t * t
	default:
		return 1
	}
}

// Average blends a time-ordered list of transforms into one.
//
// Translations and the Euler angles of each rotation are averaged with the policy weights, then the rotation is
// rebuilt from the mean angles. Averaging Euler angles is only an
// approximation of a rotation mean and degrades when the rotations are far
// apart or close to gimbal lock.
//
// A single transform is returned as is. The result takes the timestamp of the
// last transform of the list.
func Average(list []RigidTransform, policy FilterPolicy) (RigidTransform, error) {
	switch len(list) {
	case 0:
		return RigidTransform{}, ErrEmptyList
	case 1:
		return list[0], nil
	}

	oldest, newest := list[0].Stamp(), list[0].Stamp()
	for _, t := range list[1:] {
		s := t.Stamp()
		if s.Before(oldest) {
			oldest = s
		}
		if s.After(newest) {
			newest = s
		}
	}
	span := newest.Sub(oldest).Seconds()

	var trans, euler geom.Vec
	total := 0.0
	for _, t := range list {
		w := 1.0
		if span > 0 && policy != FilterConstant {
			w = policy.Coefficient(t.Stamp().Sub(oldest).Seconds() / span)
		}
		rx, ry, rz := geom.Mat3ToEuler(t.Rotation())
		euler = euler.Add(geom.Vec{X: rx, Y: ry, Z: rz}.Mul(w))
		trans = trans.Add(t.Translation().Mul(w))
		total += w
	}

	// the newest transform always weighs 1, so total > 0
	euler = euler.Mul(1 / total)
	avg := NewRigidTransform(geom.EulerToMat3(euler.X, euler.Y, euler.Z), trans.Mul(1/total))
	last := list[len(list)-1]
	avg.Date, avg.Time = last.Date, last.Time
	return avg, nil
}
