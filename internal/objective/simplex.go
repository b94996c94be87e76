package objective

import (
	"math"
	"sort"
)

// solveSymmetric solves a dense symmetric positive system via Gaussian
// elimination with partial pivoting. Returns false for a singular system.
func solveSymmetric(a [][]float64, b []float64) ([]float64, bool) {
	const eps = 1e-12
	n := len(b)
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < eps {
			return nil, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]
		for r := col + 1; r < n; r++ {
			f := a[r][col] / a[col][col]
			for c := col; c < n; c++ {
				a[r][c] -= f * a[col][c]
			}
			b[r] -= f * b[col]
		}
	}
	x := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		x[r] = b[r]
		for c := r + 1; c < n; c++ {
			x[r] -= a[r][c] * x[c]
		}
		x[r] /= a[r][r]
	}
	return x, true
}

// nelderMead minimizes f starting from x0 with per-dimension initial steps.
// It returns the best vertex, the iteration count, and whether the simplex
// collapsed below tol before maxIter.
func nelderMead(f func([]float64) float64, x0, steps []float64, maxIter int, tol float64) ([]float64, int, bool) {
	const (
		alpha = 1.0 // reflection
		gamma = 2.0 // expansion
		rho   = 0.5 // contraction
		sigma = 0.5 // shrink
	)
	n := len(x0)
	verts := make([][]float64, n+1)
	vals := make([]float64, n+1)
	for i := range verts {
		verts[i] = append([]float64(nil), x0...)
		if i > 0 {
			verts[i][i-1] += steps[i-1]
		}
		vals[i] = f(verts[i])
	}

	order := func() {
		idx := make([]int, n+1)
		for i := range idx {
			idx[i] = i
		}
		sort.Slice(idx, func(a, b int) bool { return vals[idx[a]] < vals[idx[b]] })
		nv := make([][]float64, n+1)
		nf := make([]float64, n+1)
		for i, j := range idx {
			nv[i], nf[i] = verts[j], vals[j]
		}
		copy(verts, nv)
		copy(vals, nf)
	}

	for it := 1; it <= maxIter; it++ {
		order()

		// Convergence: spread of function values across the simplex.
		if math.Abs(vals[n]-vals[0]) < tol && !math.IsInf(vals[n], 1) {
			return verts[0], it, true
		}

		// Centroid of all but the worst vertex.
		centroid := make([]float64, n)
		for i := 0; i < n; i++ {
			for d := 0; d < n; d++ {
				centroid[d] += verts[i][d] / float64(n)
			}
		}

		reflect := blend(centroid, verts[n], 1+alpha, -alpha)
		fr := f(reflect)
		switch {
		case fr < vals[0]:
			expand := blend(centroid, verts[n], 1+alpha*gamma, -alpha*gamma)
			if fe := f(expand); fe < fr {
				verts[n], vals[n] = expand, fe
			} else {
				verts[n], vals[n] = reflect, fr
			}
		case fr < vals[n-1]:
			verts[n], vals[n] = reflect, fr
		default:
			contract := blend(centroid, verts[n], 1-rho, rho)
			if fc := f(contract); fc < vals[n] {
				verts[n], vals[n] = contract, fc
			} else {
				for i := 1; i <= n; i++ {
					verts[i] = blend(verts[0], verts[i], 1-sigma, sigma)
					vals[i] = f(verts[i])
				}
			}
		}
	}
	order()
	return verts[0], maxIter, false
}

// blend returns wa*a + wb*b elementwise.
func blend(a, b []float64, wa, wb float64) []float64 {
	out := make([]float64, len(a))
	for i := range out {
		out[i] = wa*a[i] + wb*b[i]
	}
	return out
}
