package geom

import "math"

// Mat4 is a row-major 4x4 matrix.
type Mat4 [4][4]float64

// Identity4 returns the 4x4 identity matrix
func Identity4() Mat4 {
	return Mat4{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
}

// MaxJacobiSweeps bounds the cyclic Jacobi iteration in SymEigen4.
const MaxJacobiSweeps = 25

// EigenResult holds the eigen decomposition of a symmetric 4x4 matrix.
// Column j of Vectors is the eigenvector for Values[j]. No ordering is implied.
type EigenResult struct {
	Values  [4]float64
	Vectors Mat4
	Sweeps  int
}

// Vector returns eigenvector j
func (e EigenResult) Vector(j int) [4]float64 {
	return [4]float64{e.Vectors[0][j], e.Vectors[1][j], e.Vectors[2][j], e.Vectors[3][j]}
}

// MaxIndex returns the index of the largest eigenvalue
func (e EigenResult) MaxIndex() int {
	best := 0
	for j := 1; j < 4; j++ {
		if e.Values[j] > e.Values[best] {
			best = j
		}
	}
	return best
}

// SymEigen4 computes the eigenvalues and eigenvectors of the symmetric matrix m
// with the cyclic Jacobi method. Only the upper triangle of m is read.
//
// Each sweep visits every off-diagonal entry and zeroes it with a plane
// rotation. The first three sweeps skip entries below a threshold of
// 0.2·sum/16; after four sweeps, entries too small to change the diagonal are
// set to zero directly. The call returns as soon as the off-diagonal sum is
// exactly zero, so a diagonal input returns immediately with identity vectors.
// The function keeps no state between calls.
func SymEigen4(m Mat4) EigenResult {
	const n = 4
	a := m
	res := EigenResult{Vectors: Identity4()}
	v := &res.Vectors
	d := &res.Values

	var b, z [4]float64
	for ip := 0; ip < n; ip++ {
		b[ip] = a[ip][ip]
		d[ip] = a[ip][ip]
	}

	for sweep := 0; sweep < MaxJacobiSweeps; sweep++ {
		sm := 0.0
		for ip := 0; ip < n-1; ip++ {
			for iq := ip + 1; iq < n; iq++ {
				sm += math.Abs(a[ip][iq])
			}
		}
		if sm == 0 {
			return res
		}
		res.Sweeps = sweep + 1

		thresh := 0.0
		if sweep < 3 {
			thresh = 0.2 * sm / (n * n)
		}

		for ip := 0; ip < n-1; ip++ {
			for iq := ip + 1; iq < n; iq++ {
				g := 100 * math.Abs(a[ip][iq])
				if sweep > 4 && math.Abs(d[ip])+g == math.Abs(d[ip]) && math.Abs(d[iq])+g == math.Abs(d[iq]) {
					a[ip][iq] = 0
					continue
				}
				if math.Abs(a[ip][iq]) <= thresh {
					continue
				}

				h := d[iq] - d[ip]
				var t float64
				if math.Abs(h)+g == math.Abs(h) {
					t = a[ip][iq] / h
				} else {
					theta := 0.5 * h / a[ip][iq]
					t = 1 / (math.Abs(theta) + math.Sqrt(1+theta*theta))
					if theta < 0 {
						t = -t
					}
				}
				c := 1 / math.Sqrt(1+t*t)
				s := t * c
				tau := s / (1 + c)
				h = t * a[ip][iq]
				z[ip] -= h
				z[iq] += h
				d[ip] -= h
				d[iq] += h
				a[ip][iq] = 0

				for j := 0; j < ip; j++ {
					rotate(&a, tau, s, j, ip, j, iq)
				}
				for j := ip + 1; j < iq; j++ {
					rotate(&a, tau, s, ip, j, j, iq)
				}
				for j := iq + 1; j < n; j++ {
					rotate(&a, tau, s, ip, j, iq, j)
				}
				for j := 0; j < n; j++ {
					rotate(v, tau, s, j, ip, j, iq)
				}
			}
		}

		for ip := 0; ip < n; ip++ {
			b[ip] += z[ip]
			d[ip] = b[ip]
			z[ip] = 0
		}
	}
	return res
}

func rotate(a *Mat4, tau, s float64, i, j, k, l int) {
	g := a[i][j]
	h := a[k][l]
	a[i][j] = g - s*(h+g*tau)
	a[k][l] = h + s*(g-h*tau)
}
