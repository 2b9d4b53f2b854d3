package registration

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kwv/rigidreg/geom"
)

func TestNearestIndex_KDTreeMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(1234))
	points := randomCloud(rng, 500, 100).Coords()
	kd := NewKDTreeIndex(points)
	bf := NewBruteForceIndex(points)
	assert.Equal(t, 500, kd.Len())
	assert.Equal(t, 500, bf.Len())

	for i := 0; i < 200; i++ {
		q := geom.Vec{X: (rng.Float64() - 0.5) * 120, Y: (rng.Float64() - 0.5) * 120, Z: (rng.Float64() - 0.5) * 120}
		ki, kd2 := kd.Nearest(q)
		bi, bd2 := bf.Nearest(q)
		if ki != bi || math.Abs(kd2-bd2) > 1e-9 {
			t.Fatalf("query %v: kd (%d, %g), brute force (%d, %g)", q, ki, kd2, bi, bd2)
		}
	}
}

func TestNearestIndex_ExactHit(t *testing.T) {
	points := []geom.Vec{{X: 1}, {Y: 2}, {Z: 3}, {X: -1, Y: -1}}
	for _, idx := range []NearestNeighborIndex{NewKDTreeIndex(points), NewBruteForceIndex(points)} {
		i, d2 := idx.Nearest(geom.Vec{Z: 3})
		assert.Equal(t, 2, i)
		assert.Equal(t, 0.0, d2)

		i, d2 = idx.Nearest(geom.Vec{X: -1, Y: -1, Z: 1})
		assert.Equal(t, 3, i)
		assert.InDelta(t, 1, d2, 1e-12)
	}
}

func TestNearestIndex_KeepsCallerOrder(t *testing.T) {
	points := []geom.Vec{{X: 5}, {X: 1}, {X: 3}, {X: 4}, {X: 2}}
	want := append([]geom.Vec(nil), points...)
	NewKDTreeIndex(points)
	assert.Equal(t, want, points)
}

func TestNearestIndex_Empty(t *testing.T) {
	for _, idx := range []NearestNeighborIndex{NewKDTreeIndex(nil), NewBruteForceIndex(nil)} {
		i, d2 := idx.Nearest(geom.Vec{})
		assert.Equal(t, -1, i)
		assert.True(t, math.IsInf(d2, 1))
		assert.Equal(t, 0, idx.Len())
	}
}

func TestNewNearestIndex_Selection(t *testing.T) {
	small := make([]geom.Vec, 10)
	large := make([]geom.Vec, DefaultKDTreeMinPoints)
	for i := range large {
		large[i] = geom.Vec{X: float64(i)}
	}

	assert.IsType(t, &BruteForceIndex{}, NewNearestIndex(small, 0))
	assert.IsType(t, &KDTreeIndex{}, NewNearestIndex(large, 0))
	assert.IsType(t, &KDTreeIndex{}, NewNearestIndex(small, 5))
}
