package objective

import (
	"math"
	"testing"
)

func TestSolveSymmetric(t *testing.T) {
	a := [][]float64{
		{4, 1},
		{1, 3},
	}
	b := []float64{1, 2}
	x, ok := solveSymmetric(a, b)
	if !ok {
		t.Fatalf("expected a solution")
	}
	if math.Abs(x[0]-1.0/11.0) > 1e-12 || math.Abs(x[1]-7.0/11.0) > 1e-12 {
		t.Fatalf("expected (1/11, 7/11), got %v", x)
	}
}

func TestSolveSymmetricSingular(t *testing.T) {
	a := [][]float64{
		{1, 1},
		{1, 1},
	}
	b := []float64{1, 2}
	if _, ok := solveSymmetric(a, b); ok {
		t.Fatalf("expected singular system to be rejected")
	}
}

func TestNelderMeadQuadratic(t *testing.T) {
	f := func(x []float64) float64 {
		dx := x[0] - 3
		dy := x[1] + 1
		return dx*dx + dy*dy
	}
	best, iters, converged := nelderMead(f, []float64{0, 0}, []float64{1, 1}, 500, 1e-10)
	if !converged {
		t.Fatalf("expected convergence, stopped after %d iterations at %v", iters, best)
	}
	if math.Abs(best[0]-3) > 1e-3 || math.Abs(best[1]+1) > 1e-3 {
		t.Fatalf("expected minimum near (3,-1), got %v", best)
	}
}

func TestNelderMeadRespectsIterationCap(t *testing.T) {
	f := func(x []float64) float64 { return x[0] * x[0] }
	_, iters, converged := nelderMead(f, []float64{100}, []float64{1}, 3, 1e-15)
	if converged {
		t.Fatalf("expected no convergence within 3 iterations")
	}
	if iters != 3 {
		t.Fatalf("expected 3 iterations, got %d", iters)
	}
}
