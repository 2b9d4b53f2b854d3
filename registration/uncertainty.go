package registration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/kwv/rigidreg/geom"
)

// OptimMethod selects the local optimizer of RegisterUncertainty.
type OptimMethod int

const (
	// LevenbergMarquardt is served by quasi-Newton BFGS with finite-difference gradients
	LevenbergMarquardt OptimMethod = iota
	// Powell is served by the derivative-free Nelder-Mead simplex
	Powell
	// ConjugateGradient uses nonlinear CG with finite-difference gradients
	ConjugateGradient
)

func (m OptimMethod) String() string {
	switch m {
	case LevenbergMarquardt:
		return "LM"
	case Powell:
		return "POW"
	case ConjugateGradient:
		return "GC"
	}
	return fmt.Sprintf("OptimMethod(%d)", int(m))
}

func (m OptimMethod) method() optimize.Method {
	switch m {
	case Powell:
		return &optimize.NelderMead{}
	case ConjugateGradient:
		return &optimize.CG{}
	default:
		return &optimize.BFGS{}
	}
}

// UncertaintyResult is the outcome of RegisterUncertainty.
type UncertaintyResult struct {
	Transform RigidTransform
	StartCost float64 // cost at the closed-form solution
	EndCost   float64
	Status    optimize.Status
}

// weightedPair holds a visible pair and the information matrix of the
// destination point, nil when the point has no covariance.
type weightedPair struct {
	src, dst geom.Vec
	info     *mat.SymDense
}

// UncertaintyCost returns Σ dᵢᵗ·Cᵢ⁻¹·dᵢ with dᵢ = T·srcᵢ − dstᵢ and Cᵢ the
// covariance of dstᵢ. Pairs whose destination has no covariance, or a singular
// one, contribute ‖dᵢ‖².
func UncertaintyCost(t RigidTransform, src, dst PointList) (float64, error) {
	pairs, err := buildWeightedPairs(src, dst)
	if err != nil {
		return 0, err
	}
	return uncertaintyCost(t, pairs), nil
}

func buildWeightedPairs(src, dst PointList) ([]weightedPair, error) {
	if len(src) != len(dst) {
		return nil, fmt.Errorf("uncertainty cost: %d vs %d points: %w", len(src), len(dst), ErrSizeMismatch)
	}
	var pairs []weightedPair
	for i := range src {
		if !src[i].Visible || !dst[i].Visible {
			continue
		}
		p := weightedPair{src: src[i].Coord, dst: dst[i].Coord}
		if dst[i].HasCov() {
			p.info = information(dst[i].Cov)
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

func information(c geom.Mat3) *mat.SymDense {
	cov := mat.NewSymDense(3, []float64{
		c[0][0], c[0][1], c[0][2],
		c[1][0], c[1][1], c[1][2],
		c[2][0], c[2][1], c[2][2],
	})
	var chol mat.Cholesky
	if !chol.Factorize(cov) {
		return nil
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil
	}
	return &inv
}

func uncertaintyCost(t RigidTransform, pairs []weightedPair) float64 {
	cost := 0.0
	for _, p := range pairs {
		d := t.Apply(p.src).Sub(p.dst)
		if p.info == nil {
			cost += d.Norm2()
			continue
		}
		v := mat.NewVecDense(3, []float64{d.X, d.Y, d.Z})
		cost += mat.Inner(v, p.info, v)
	}
	return cost
}

// RegisterUncertainty refines the closed-form registration of src onto dst by
// minimising UncertaintyCost over the 6-parameter rigid vector.
func RegisterUncertainty(src, dst PointList, method OptimMethod) (UncertaintyResult, error) {
	init, err := Register3D3D(src, dst)
	if err != nil {
		return UncertaintyResult{}, err
	}
	pairs, err := buildWeightedPairs(src, dst)
	if err != nil {
		return UncertaintyResult{}, err
	}

	f := func(x []float64) float64 {
		var v [6]float64
		copy(v[:], x)
		return uncertaintyCost(FromRigidVector(v), pairs)
	}
	problem := optimize.Problem{
		Func: f,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, f, x, nil)
		},
	}

	x0 := init.RigidVector()
	res := UncertaintyResult{StartCost: f(x0[:])}

	start := append([]float64(nil), x0[:]...)
	result, err := optimize.Minimize(problem, start, nil, method.method())
	if err != nil && result == nil {
		return UncertaintyResult{}, fmt.Errorf("register uncertainty (%s): %v: %w", method, err, ErrOptimizer)
	}

	var best [6]float64
	copy(best[:], result.X)
	res.EndCost = result.F
	res.Status = result.Status
	if math.IsNaN(res.EndCost) || res.EndCost > res.StartCost {
		best, res.EndCost = x0, res.StartCost
	}

	res.Transform = FromRigidVector(best)
	s, d := visiblePairs(src, dst)
	r := residuals(res.Transform, s, d)
	res.Transform.RMS = r.RMS
	res.Transform.StdDev = r.StdDev
	return res, nil
}
