package registration

import "github.com/kwv/rigidreg/geom"

// Point is a 3D measurement. Invisible points are ignored by registration.
// A zero Cov means the point carries no uncertainty.
type Point struct {
	Coord   geom.Vec  `json:"coord"`
	Visible bool      `json:"visible"`
	Cov     geom.Mat3 `json:"cov"`
}

// NewPoint returns a visible point without covariance
func NewPoint(x, y, z float64) Point {
	return Point{Coord: geom.Vec{X: x, Y: y, Z: z}, Visible: true}
}

// HasCov reports whether the point carries a covariance matrix
func (p Point) HasCov() bool {
	return !p.Cov.IsZero()
}

// PointList is an ordered set of points. Callers must not mutate a list while
// a NearestNeighborIndex built over it is in use.
type PointList []Point

// NewPointList builds a list of visible points from raw coordinates
func NewPointList(coords ...geom.Vec) PointList {
	pl := make(PointList, len(coords))
	for i, c := range coords {
		pl[i] = Point{Coord: c, Visible: true}
	}
	return pl
}

func (pl PointList) Len() int { return len(pl) }

// VisibleLen counts the visible points
func (pl PointList) VisibleLen() int {
	n := 0
	for _, p := range pl {
		if p.Visible {
			n++
		}
	}
	return n
}

// Visible returns the visible subset, in order
func (pl PointList) Visible() PointList {
	out := make(PointList, 0, len(pl))
	for _, p := range pl {
		if p.Visible {
			out = append(out, p)
		}
	}
	return out
}

// Coords returns the coordinates of every point
func (pl PointList) Coords() []geom.Vec {
	out := make([]geom.Vec, len(pl))
	for i, p := range pl {
		out[i] = p.Coord
	}
	return out
}

// Centroid returns the mean of the point coordinates, or the origin for an empty list
func Centroid(points []geom.Vec) geom.Vec {
	if len(points) == 0 {
		return geom.Vec{}
	}
	var sum geom.Vec
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(points)))
}

// Segment is a line segment between two points.
type Segment struct {
	A, B Point
}
