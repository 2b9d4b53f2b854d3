package registration

import (
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/kwv/rigidreg/geom"
)

// ICPConfig holds configuration for the ICP algorithm.
// Distances are in the units of the input point lists.
type ICPConfig struct {
	MaxIterations   int     // Iteration cap
	RMSThreshold    float64 // Stop once |RMS - previous RMS| is at most this value
	JustVisible     bool    // Drop invisible points of both lists
	KDTreeMinPoints int     // Model size from which a k-d tree replaces the linear scan
	Refine          bool    // Polish the converged transform with a non-linear least squares pass
	Verbose         bool
}

// DefaultICPConfig returns sensible defaults for ICP.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		MaxIterations:   100,
		RMSThreshold:    1e-7,
		JustVisible:     true,
		KDTreeMinPoints: DefaultKDTreeMinPoints,
	}
}

// ICPResult contains the result of ICP registration
type ICPResult struct {
	Transform  RigidTransform // model -> data, same convention as the initial transform
	FirstRMS   float64        // nearest-neighbour RMS at the first iteration
	LastRMS    float64        // nearest-neighbour RMS at the last iteration
	Iterations int
	Converged  bool // false when the iteration cap stopped the loop
	Refined    bool // true when the least squares pass improved the result
}

// RegisterICP aligns data onto model starting from initial, which maps model
// coordinates to data coordinates. The returned transform keeps that convention.
//
// Hitting MaxIterations is not an error: the result reports Converged=false
// together with FirstRMS and LastRMS.
func RegisterICP(model, data PointList, initial RigidTransform, config ICPConfig) (ICPResult, error) {
	m, d, err := icpInputs(model, data, config.JustVisible)
	if err != nil {
		return ICPResult{}, err
	}
	index := NewNearestIndex(m, config.KDTreeMinPoints)
	return runICP(m, d, initial, index, config), nil
}

// RegisterICPBruteForce is RegisterICP with a linear nearest-neighbour scan.
// Same results, slower on large models.
func RegisterICPBruteForce(model, data PointList, initial RigidTransform, config ICPConfig) (ICPResult, error) {
	m, d, err := icpInputs(model, data, config.JustVisible)
	if err != nil {
		return ICPResult{}, err
	}
	return runICP(m, d, initial, NewBruteForceIndex(m), config), nil
}

func icpInputs(model, data PointList, justVisible bool) (m, d []geom.Vec, err error) {
	if justVisible {
		model, data = model.Visible(), data.Visible()
	}
	if len(model) == 0 {
		return nil, nil, fmt.Errorf("icp: model: %w", ErrEmptyPointSet)
	}
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("icp: data: %w", ErrEmptyPointSet)
	}
	return model.Coords(), data.Coords(), nil
}

func runICP(model, data []geom.Vec, initial RigidTransform, index NearestNeighborIndex, config ICPConfig) ICPResult {
	n := float64(len(data))

	// Work in the model frame: pi = initial⁻¹ · data
	toModel := initial.Inverse()
	pi := make([]geom.Vec, len(data))
	for i, p := range data {
		pi[i] = toModel.Apply(p)
	}
	gravityP := Centroid(pi)

	pk := make([]geom.Vec, len(pi))
	copy(pk, pi)
	yk := make([]geom.Vec, len(pi))

	result := ICPResult{FirstRMS: -1}
	rIcp := geom.Identity3()
	gravityY := gravityP

	oldRMS := math.MaxFloat64
	lastRMS := math.MaxFloat64 / 2
	for math.Abs(lastRMS-oldRMS) > config.RMSThreshold && result.Iterations < config.MaxIterations {
		result.Iterations++
		oldRMS = lastRMS

		sum := 0.0
		for i, p := range pk {
			j, d2 := index.Nearest(p)
			yk[i] = model[j]
			sum += d2
		}
		lastRMS = math.Sqrt(sum / n)
		if result.FirstRMS < 0 {
			result.FirstRMS = lastRMS
		}
		gravityY = Centroid(yk)

		rIcp = hornRotation(crossCovariance(pi, yk))
		traTemp := gravityY.Sub(rIcp.MulVec(gravityP))

		// always from the initial points, so rounding does not accumulate
		for i, p := range pi {
			pk[i] = rIcp.MulVec(p).Add(traTemp)
		}
	}
	if result.Iterations == 0 {
		// no pass ran, the residual is undefined
		lastRMS = -1
	}
	result.LastRMS = lastRMS
	result.Converged = result.Iterations > 0 && math.Abs(lastRMS-oldRMS) <= config.RMSThreshold

	step := NewRigidTransform(rIcp, gravityY.Sub(rIcp.MulVec(gravityP)))
	dataToModel := Compose(step, toModel)
	if config.Refine && result.Iterations > 0 {
		if refined, rms, ok := refineLS(model, data, dataToModel, index, lastRMS); ok {
			dataToModel = refined
			result.LastRMS = rms
			result.Refined = true
		}
	}

	result.Transform = dataToModel.Inverse()
	result.Transform.Meta = initial.Meta
	result.Transform.RMS = result.LastRMS
	result.Transform.StdDev = 0
	result.Transform.OK = true

	if config.Verbose {
		log.Printf("[ICP] firstRMS=%.6g lastRMS=%.6g iterations=%d model=%d data=%d converged=%v",
			result.FirstRMS, result.LastRMS, result.Iterations, len(model), len(data), result.Converged)
	}
	return result
}

// hornRotation returns the rotation R maximising Σ yᵢ·(R·pᵢ) for the cross
// covariance spy = (1/n)·Σ pᵢ⊗yᵢ − p̄⊗ȳ, from the dominant eigenvector of
// Horn's symmetric 4x4 matrix read as a quaternion (q0 scalar).
func hornRotation(spy geom.Mat3) geom.Mat3 {
	tr := spy.Trace()
	delta := [3]float64{
		spy[1][2] - spy[2][1],
		spy[2][0] - spy[0][2],
		spy[0][1] - spy[1][0],
	}

	var q geom.Mat4
	q[0][0] = tr
	for i := 1; i < 4; i++ {
		q[i][0] = delta[i-1]
		q[0][i] = delta[i-1]
		for j := 1; j < 4; j++ {
			q[i][j] = spy[i-1][j-1] + spy[j-1][i-1]
			if i == j {
				q[i][j] -= tr
			}
		}
	}

	eig := geom.SymEigen4(q)
	return geom.QuatToMat3(geom.QuatFromArray(eig.Vector(eig.MaxIndex())))
}

// refineLS minimises the mean squared nearest-neighbour distance over the
// rigid vector of dataToModel. ok is false when the optimizer does not beat rms.
func refineLS(model, data []geom.Vec, dataToModel RigidTransform, index NearestNeighborIndex, rms float64) (RigidTransform, float64, bool) {
	f := func(x []float64) float64 {
		var v [6]float64
		copy(v[:], x)
		t := FromRigidVector(v)
		sum := 0.0
		for _, p := range data {
			_, d2 := index.Nearest(t.Apply(p))
			sum += d2
		}
		return sum / float64(len(data))
	}

	x0 := dataToModel.RigidVector()
	settings := &optimize.Settings{MajorIterations: 200}
	res, err := optimize.Minimize(optimize.Problem{Func: f}, x0[:], settings, &optimize.NelderMead{})
	if err != nil && res == nil {
		return RigidTransform{}, 0, false
	}
	refined := math.Sqrt(res.F)
	if math.IsNaN(refined) || refined >= rms {
		return RigidTransform{}, 0, false
	}
	var v [6]float64
	copy(v[:], res.X)
	return FromRigidVector(v), refined, true
}

// Register3D3DWithoutMatching registers two lists of equal size whose
// correspondences are unknown: ICP from the identity pairs each src point with
// its nearest dst point, then the closed form is solved on those pairs. The
// result maps src onto dst. Only visible points are used.
func Register3D3DWithoutMatching(src, dst PointList, config ICPConfig) (RigidTransform, error) {
	if len(src) != len(dst) {
		return RigidTransform{}, fmt.Errorf("register without matching: %d src vs %d dst points: %w",
			len(src), len(dst), ErrSizeMismatch)
	}
	sv, dv := src.Visible(), dst.Visible()
	if len(sv) == 0 {
		return RigidTransform{}, fmt.Errorf("register without matching: src: %w", ErrEmptyPointSet)
	}
	if len(dv) == 0 {
		return RigidTransform{}, fmt.Errorf("register without matching: dst: %w", ErrEmptyPointSet)
	}
	s, d := sv.Coords(), dv.Coords()
	if len(s) < MinPairs {
		return RigidTransform{}, fmt.Errorf("register without matching: %w", ErrTooFewPoints)
	}

	// dst is the model, src the data; the ICP transform maps dst -> src
	index := NewNearestIndex(d, config.KDTreeMinPoints)
	res := runICP(d, s, Identity(), index, config)
	srcToDst := res.Transform.Inverse()

	matched := make([]geom.Vec, len(s))
	for i, p := range s {
		j, _ := index.Nearest(srcToDst.Apply(p))
		matched[i] = d[j]
	}
	return registerCoords(s, matched)
}
