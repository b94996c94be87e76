package config

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestRunDefValidate(t *testing.T) {
	rd := &RunDef{SubsetSize: 0, StepSizeX: 10, StepSizeY: 10}
	if err := rd.Validate(); err == nil {
		t.Fatalf("expected error for non-positive subset size")
	}

	rd = &RunDef{SubsetSize: 21}
	if err := rd.Validate(); err == nil {
		t.Fatalf("expected error when neither points nor step sizes are given")
	}

	rd = &RunDef{
		SubsetSize:  21,
		Points:      []PointDef{{X: 50, Y: 50}, {X: 80, Y: 50}},
		NeighborIDs: []int{-1},
	}
	if err := rd.Validate(); err == nil {
		t.Fatalf("expected error for neighbor_ids length mismatch")
	}

	rd.NeighborIDs = []int{-1, 0}
	if err := rd.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestGridPoints(t *testing.T) {
	rd := &RunDef{SubsetSize: 10, StepSizeX: 10, StepSizeY: 10}
	pts, err := rd.GridPoints(100, 100)
	if err != nil {
		t.Fatalf("GridPoints failed: %v", err)
	}
	// 100 - 2*10 = 80 trimmed, 80/10 + 1 = 9 per axis.
	if len(pts) != 81 {
		t.Fatalf("expected 81 grid points, got %d", len(pts))
	}
	if pts[0].X != 9 || pts[0].Y != 9 {
		t.Fatalf("expected first point (9,9), got (%d,%d)", pts[0].X, pts[0].Y)
	}
	// Row-major order: second point steps in x.
	if pts[1].X != 19 || pts[1].Y != 9 {
		t.Fatalf("expected second point (19,9), got (%d,%d)", pts[1].X, pts[1].Y)
	}
	if pts[9].X != 9 || pts[9].Y != 19 {
		t.Fatalf("expected tenth point (9,19), got (%d,%d)", pts[9].X, pts[9].Y)
	}
}

func TestGridPointsExplicitPointsWin(t *testing.T) {
	rd := &RunDef{
		SubsetSize: 10,
		StepSizeX:  10,
		StepSizeY:  10,
		Points:     []PointDef{{X: 42, Y: 17}},
	}
	pts, err := rd.GridPoints(100, 100)
	if err != nil {
		t.Fatalf("GridPoints failed: %v", err)
	}
	if len(pts) != 1 || pts[0].X != 42 || pts[0].Y != 17 {
		t.Fatalf("expected the explicit point back, got %v", pts)
	}
}

func TestGridPointsImageTooSmall(t *testing.T) {
	rd := &RunDef{SubsetSize: 60, StepSizeX: 10, StepSizeY: 10}
	if _, err := rd.GridPoints(100, 100); err == nil {
		t.Fatalf("expected error for image too small for the grid")
	}
}

func TestMotionWindowDefaultUseSubsetID(t *testing.T) {
	doc := `
motion_windows:
  0:
    origin_x: 10
    origin_y: 20
    width: 30
    height: 40
    tol: 0.5
  1:
    use_subset_id: 0
`
	rd := &RunDef{}
	if err := yaml.Unmarshal([]byte(doc), rd); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	own := rd.MotionWindows[0]
	if own.UseSubsetID != -1 {
		t.Fatalf("omitted use_subset_id must default to -1, got %d", own.UseSubsetID)
	}
	if own.OriginX != 10 || own.Height != 40 || own.Tol != 0.5 {
		t.Fatalf("window fields not decoded: %+v", own)
	}
	borrow := rd.MotionWindows[1]
	if borrow.UseSubsetID != 0 {
		t.Fatalf("explicit use_subset_id 0 must survive decoding, got %d", borrow.UseSubsetID)
	}
}
