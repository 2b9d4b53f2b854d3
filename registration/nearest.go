package registration

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/kwv/rigidreg/geom"
)

// DefaultKDTreeMinPoints is the reference set size from which NewNearestIndex
// builds a k-d tree instead of scanning.
const DefaultKDTreeMinPoints = 64

// NearestNeighborIndex answers 1-nearest-neighbour queries over a fixed set of
// reference points. Implementations keep no state between queries and may be
// shared by concurrent readers.
type NearestNeighborIndex interface {
	// Nearest returns the index of the closest reference point and the squared
	// distance to it. An empty index returns -1 and +Inf.
	Nearest(q geom.Vec) (int, float64)
	Len() int
}

// NewNearestIndex picks the brute-force scan for small sets and a k-d tree from
// minTree points on. minTree <= 0 uses DefaultKDTreeMinPoints.
func NewNearestIndex(points []geom.Vec, minTree int) NearestNeighborIndex {
	if minTree <= 0 {
		minTree = DefaultKDTreeMinPoints
	}
	if len(points) < minTree {
		return NewBruteForceIndex(points)
	}
	return NewKDTreeIndex(points)
}

// BruteForceIndex scans every reference point, O(n) per query.
type BruteForceIndex struct {
	points []geom.Vec
}

func NewBruteForceIndex(points []geom.Vec) *BruteForceIndex {
	return &BruteForceIndex{points: points}
}

func (b *BruteForceIndex) Len() int { return len(b.points) }

func (b *BruteForceIndex) Nearest(q geom.Vec) (int, float64) {
	best, bestD := -1, math.Inf(1)
	for i, p := range b.points {
		if d := p.Sub(q).Norm2(); d < bestD {
			best, bestD = i, d
		}
	}
	return best, bestD
}

// KDTreeIndex answers queries from a gonum k-d tree, O(log n) on average.
type KDTreeIndex struct {
	tree *kdtree.Tree
	n    int
}

// NewKDTreeIndex builds the tree over a copy of points; the caller's slice is
// not reordered.
func NewKDTreeIndex(points []geom.Vec) *KDTreeIndex {
	nodes := make(indexedPoints, len(points))
	for i, p := range points {
		nodes[i] = indexedPoint{v: [3]float64{p.X, p.Y, p.Z}, idx: i}
	}
	idx := &KDTreeIndex{n: len(points)}
	if len(nodes) > 0 {
		idx.tree = kdtree.New(nodes, false)
	}
	return idx
}

func (k *KDTreeIndex) Len() int { return k.n }

func (k *KDTreeIndex) Nearest(q geom.Vec) (int, float64) {
	if k.tree == nil {
		return -1, math.Inf(1)
	}
	c, d := k.tree.Nearest(indexedPoint{v: [3]float64{q.X, q.Y, q.Z}, idx: -1})
	if c == nil {
		return -1, math.Inf(1)
	}
	return c.(indexedPoint).idx, d
}

// indexedPoint is a k-d tree element remembering its position in the input.
type indexedPoint struct {
	v   [3]float64
	idx int
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.v[d] - c.(indexedPoint).v[d]
}

func (p indexedPoint) Dims() int { return 3 }

func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	dx, dy, dz := p.v[0]-q.v[0], p.v[1]-q.v[1], p.v[2]-q.v[2]
	return dx*dx + dy*dy + dz*dz
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p indexedPoints) Len() int                      { return len(p) }
func (p indexedPoints) Pivot(d kdtree.Dim) int {
	return plane{indexedPoints: p, Dim: d}.Pivot()
}
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// plane sorts indexedPoints along one dimension for median partitioning.
type plane struct {
	kdtree.Dim
	indexedPoints
}

func (p plane) Less(i, j int) bool {
	return p.indexedPoints[i].v[p.Dim] < p.indexedPoints[j].v[p.Dim]
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{Dim: p.Dim, indexedPoints: p.indexedPoints[start:end]}
}
func (p plane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}
