package registration

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/rigidreg/geom"
)

// grid returns n³ points spaced by step, centred on the origin
func grid(n int, step float64) PointList {
	var pl PointList
	off := float64(n-1) * step / 2
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				pl = append(pl, NewPoint(float64(i)*step-off, float64(j)*step-off, float64(k)*step-off))
			}
		}
	}
	return pl
}

// smallMotion stays well under half the grid step for a 6x6x6 grid of step 10
func smallMotion() RigidTransform {
	tr := RotXYZ(2, -1, 3)
	tr.SetTranslation(geom.Vec{X: 0.5, Y: -0.3, Z: 0.4})
	return tr
}

func TestRegisterICP_SmallMotion(t *testing.T) {
	model := grid(6, 10)
	want := smallMotion()
	data := want.TransformPoints(model)

	res, err := RegisterICP(model, data, Identity(), DefaultICPConfig())
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.Greater(t, res.FirstRMS, res.LastRMS)
	assert.Less(t, res.LastRMS, 1e-6)
	assert.LessOrEqual(t, res.Iterations, DefaultICPConfig().MaxIterations)
	assert.True(t, res.Transform.IsValid())
	assert.Equal(t, res.LastRMS, res.Transform.RMS)
	assertTransformNear(t, want, res.Transform, 1e-6)
}

func TestRegisterICP_Identity(t *testing.T) {
	model := grid(4, 5)
	res, err := RegisterICP(model, model, Identity(), DefaultICPConfig())
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.InDelta(t, 0, res.FirstRMS, 1e-12)
	assertTransformNear(t, Identity(), res.Transform, 1e-9)
}

func TestRegisterICP_BruteForceAgrees(t *testing.T) {
	model := grid(6, 10)
	data := smallMotion().TransformPoints(model)

	kd, err := RegisterICP(model, data, Identity(), DefaultICPConfig())
	require.NoError(t, err)
	bf, err := RegisterICPBruteForce(model, data, Identity(), DefaultICPConfig())
	require.NoError(t, err)

	assert.Equal(t, kd.Iterations, bf.Iterations)
	assert.InDelta(t, kd.FirstRMS, bf.FirstRMS, 1e-9)
	assertTransformNear(t, kd.Transform, bf.Transform, 1e-9)
}

func TestRegisterICP_FromInitialGuess(t *testing.T) {
	model := grid(6, 10)
	want := RotZ(40)
	want.SetTranslation(geom.Vec{X: 30, Y: -10, Z: 5})
	data := want.TransformPoints(model)

	// far from the identity, close to the answer
	initial := Compose(want, smallMotion())

	res, err := RegisterICP(model, data, initial, DefaultICPConfig())
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assertTransformNear(t, want, res.Transform, 1e-6)
}

func TestRegisterICP_KeepsInitialTimestamp(t *testing.T) {
	model := grid(3, 10)
	initial := Identity()
	initial.Date, initial.Time = 20240101, 120000000

	res, err := RegisterICP(model, model, initial, DefaultICPConfig())
	require.NoError(t, err)
	assert.Equal(t, initial.Date, res.Transform.Date)
	assert.Equal(t, initial.Time, res.Transform.Time)
	assert.True(t, res.Transform.OK)
}

func TestRegisterICP_IterationCap(t *testing.T) {
	model := grid(6, 10)
	data := smallMotion().TransformPoints(model)
	cfg := DefaultICPConfig()
	cfg.MaxIterations = 1

	res, err := RegisterICP(model, data, Identity(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Iterations)
	assert.False(t, res.Converged)
	assert.Equal(t, res.FirstRMS, res.LastRMS)
	assert.True(t, res.Transform.IsValid())
}

func TestRegisterICP_NoIterations(t *testing.T) {
	model := grid(4, 10)
	initial := smallMotion()
	data := initial.TransformPoints(model)

	for _, limit := range []int{0, -3} {
		cfg := DefaultICPConfig()
		cfg.MaxIterations = limit
		cfg.Refine = true

		res, err := RegisterICP(model, data, initial, cfg)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Iterations)
		assert.False(t, res.Converged)
		assert.False(t, res.Refined)
		assert.Equal(t, -1.0, res.FirstRMS)
		assert.Equal(t, -1.0, res.LastRMS)
		assert.Equal(t, -1.0, res.Transform.RMS)
		assertTransformNear(t, initial, res.Transform, 1e-12)
	}
}

func TestRegisterICP_JustVisible(t *testing.T) {
	model := grid(5, 10)
	want := smallMotion()
	data := want.TransformPoints(model)
	// a hidden outlier must not pull the result
	data = append(data, Point{Coord: geom.Vec{X: 500, Y: 500, Z: 500}})

	res, err := RegisterICP(model, data, Identity(), DefaultICPConfig())
	require.NoError(t, err)
	assertTransformNear(t, want, res.Transform, 1e-6)
}

func TestRegisterICP_EmptySets(t *testing.T) {
	model := grid(3, 1)
	hidden := PointList{{Coord: geom.Vec{X: 1}}}

	tests := []struct {
		name        string
		model, data PointList
	}{
		{"no model", nil, model},
		{"no data", model, nil},
		{"only hidden data", model, hidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RegisterICP(tt.model, tt.data, Identity(), DefaultICPConfig())
			assert.ErrorIs(t, err, ErrEmptyPointSet)
		})
	}
}

func TestRegisterICP_Refine(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	model := grid(5, 10)
	want := smallMotion()
	data := want.TransformPoints(model)
	for i := range data {
		data[i].Coord = data[i].Coord.Add(geom.Vec{X: rng.NormFloat64() * 0.05, Y: rng.NormFloat64() * 0.05, Z: rng.NormFloat64() * 0.05})
	}

	plain, err := RegisterICP(model, data, Identity(), DefaultICPConfig())
	require.NoError(t, err)

	cfg := DefaultICPConfig()
	cfg.Refine = true
	refined, err := RegisterICP(model, data, Identity(), cfg)
	require.NoError(t, err)

	assert.LessOrEqual(t, refined.LastRMS, plain.LastRMS)
	assert.True(t, refined.Transform.IsValid())
	assertTransformNear(t, want, refined.Transform, 0.1)
}

func TestHornRotation(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	for i := 0; i < 20; i++ {
		r := UniformRandom(rng, 0).Rotation()
		p := randomCloud(rng, 15, 10).Coords()
		y := make([]geom.Vec, len(p))
		for j := range p {
			y[j] = r.MulVec(p[j])
		}
		got := hornRotation(crossCovariance(p, y))
		assert.True(t, r.ApproxEqual(got, 1e-9), "want %v got %v", r, got)
	}
}

func TestRegister3D3DWithoutMatching(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	dst := grid(5, 10)
	want := smallMotion()
	src := want.Inverse().TransformPoints(dst)
	rng.Shuffle(len(src), func(i, j int) { src[i], src[j] = src[j], src[i] })

	got, err := Register3D3DWithoutMatching(src, dst, DefaultICPConfig())
	require.NoError(t, err)
	assertTransformNear(t, want, got, 1e-6)
	assert.Less(t, got.RMS, 1e-6)

	_, err = Register3D3DWithoutMatching(src[:2], dst[:2], DefaultICPConfig())
	assert.ErrorIs(t, err, ErrTooFewPoints)
}

func TestRegister3D3DWithoutMatching_Errors(t *testing.T) {
	dst := grid(3, 10)
	src := smallMotion().Inverse().TransformPoints(dst)

	_, err := Register3D3DWithoutMatching(src[:5], dst, DefaultICPConfig())
	require.ErrorIs(t, err, ErrSizeMismatch)
	assert.Contains(t, err.Error(), "register without matching")

	hidden := make(PointList, len(dst))
	for i := range hidden {
		hidden[i] = Point{Coord: dst[i].Coord}
	}
	_, err = Register3D3DWithoutMatching(hidden, dst, DefaultICPConfig())
	require.ErrorIs(t, err, ErrEmptyPointSet)
	assert.True(t, strings.HasPrefix(err.Error(), "register without matching: src: "), err.Error())

	_, err = Register3D3DWithoutMatching(src, hidden, DefaultICPConfig())
	require.ErrorIs(t, err, ErrEmptyPointSet)
	assert.True(t, strings.HasPrefix(err.Error(), "register without matching: dst: "), err.Error())
}
