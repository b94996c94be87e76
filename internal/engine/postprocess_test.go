package engine

import (
	"context"
	"math"
	"testing"

	"dicengine/internal/config"
	"dicengine/internal/field"
)

// vsgEngine builds a 3x3 grid of points under a linear displacement field
// u = 0.01*x, v = 0.02*y + 0.004*x and runs one frame so the post-processor
// sees the gathered solution.
func vsgEngine(t *testing.T, windowSize any) *Engine {
	t.Helper()
	factory := func(e *Engine, gid int, flds LocalFields) (Objective, error) {
		x := flds.Value(gid, field.CoordinateX)
		y := flds.Value(gid, field.CoordinateY)
		return &stubObjective{
			gid:        gid,
			initStatus: InitializeSuccessful,
			fast: solverResult{
				iters:  1,
				status: CorrelationSuccessful,
				u:      0.01 * x,
				v:      0.02*y + 0.004*x,
			},
		}, nil
	}
	var points []Point
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			points = append(points, Point{X: 30 + 10*x, Y: 30 + 10*y})
		}
	}
	cfg := config.DefaultParams()
	cfg.PostProcessVSGStrain = map[string]any{"strain_window_size": windowSize}
	e, err := New(cfg, Options{
		Log:          testLogger(),
		Workers:      1,
		Points:       points,
		SubsetSize:   11,
		NewObjective: factory,
		Ref:          &stubImage{w: 100, h: 100},
		Def:          &stubImage{w: 100, h: 100},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func TestVSGStrainPlaneFit(t *testing.T) {
	e := vsgEngine(t, 30)
	if len(e.PostProcessors()) != 1 {
		t.Fatalf("expected the VSG strain post-processor to be registered")
	}
	if err := e.ExecuteFrame(context.Background()); err != nil {
		t.Fatalf("ExecuteFrame failed: %v", err)
	}

	p := e.PostProcessors()[0]
	// The center point (id 4) has the full window around it; the linear field
	// must be recovered exactly up to round-off.
	exx, ok := p.FieldValue(4, VSGStrainXX)
	if !ok {
		t.Fatalf("expected a VSG_STRAIN_XX value")
	}
	if math.Abs(exx-0.01) > 1e-9 {
		t.Fatalf("expected exx 0.01, got %v", exx)
	}
	eyy, _ := p.FieldValue(4, VSGStrainYY)
	if math.Abs(eyy-0.02) > 1e-9 {
		t.Fatalf("expected eyy 0.02, got %v", eyy)
	}
	// exy = 0.5*(du/dy + dv/dx) = 0.5*(0 + 0.004).
	exy, _ := p.FieldValue(4, VSGStrainXY)
	if math.Abs(exy-0.002) > 1e-9 {
		t.Fatalf("expected exy 0.002, got %v", exy)
	}
}

func TestVSGStrainFieldValueBounds(t *testing.T) {
	e := vsgEngine(t, 30)
	if err := e.ExecuteFrame(context.Background()); err != nil {
		t.Fatalf("ExecuteFrame failed: %v", err)
	}
	p := e.PostProcessors()[0]
	if _, ok := p.FieldValue(-1, VSGStrainXX); ok {
		t.Fatalf("negative id must have no value")
	}
	if _, ok := p.FieldValue(99, VSGStrainXX); ok {
		t.Fatalf("out-of-range id must have no value")
	}
	if _, ok := p.FieldValue(0, "NOT_A_FIELD"); ok {
		t.Fatalf("unknown field must have no value")
	}
}

func TestVSGStrainRejectsBadWindow(t *testing.T) {
	e := vsgEngine(t, 0)
	if err := e.ExecuteFrame(context.Background()); err == nil {
		t.Fatalf("expected initialization failure for a non-positive window size")
	}
}

func TestVSGStrainTooFewNeighbors(t *testing.T) {
	// A window smaller than the grid spacing leaves each point alone in its
	// gauge; strains stay zero rather than failing.
	e := vsgEngine(t, 4)
	if err := e.ExecuteFrame(context.Background()); err != nil {
		t.Fatalf("ExecuteFrame failed: %v", err)
	}
	p := e.PostProcessors()[0]
	exx, ok := p.FieldValue(4, VSGStrainXX)
	if !ok || exx != 0 {
		t.Fatalf("expected zero strain with no neighbors, got %v (ok=%v)", exx, ok)
	}
}
