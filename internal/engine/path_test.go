package engine

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePathFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "path.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write path file: %v", err)
	}
	return path
}

func TestNewPathInitializerParsing(t *testing.T) {
	path := writePathFile(t, `# expected trajectory
0.0 0.0 0.0

1.0 0.5 0.01
2.0 1.0 0.02
`)
	ini, err := NewPathInitializer(path, 2)
	if err != nil {
		t.Fatalf("NewPathInitializer failed: %v", err)
	}
	idx, dist := ini.ClosestWaypoint(1.1, 0.5, 0.01)
	if idx != 1 {
		t.Fatalf("expected waypoint 1 to be closest, got %d", idx)
	}
	if math.Abs(dist-0.1) > 1e-12 {
		t.Fatalf("expected distance 0.1, got %v", dist)
	}
}

func TestNewPathInitializerErrors(t *testing.T) {
	if _, err := NewPathInitializer(filepath.Join(t.TempDir(), "missing.txt"), 2); err == nil {
		t.Fatalf("expected error for missing file")
	}

	path := writePathFile(t, "1.0 2.0\n")
	if _, err := NewPathInitializer(path, 2); err == nil {
		t.Fatalf("expected error for wrong column count")
	}

	path = writePathFile(t, "a b c\n")
	if _, err := NewPathInitializer(path, 2); err == nil {
		t.Fatalf("expected error for non-numeric columns")
	}

	path = writePathFile(t, "# only comments\n")
	_, err := NewPathInitializer(path, 2)
	if err == nil {
		t.Fatalf("expected error for empty trajectory")
	}
	if !strings.Contains(err.Error(), "no waypoints") {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestInitialGuessPicksBestWaypoint(t *testing.T) {
	path := writePathFile(t, `0.0 0.0 0.0
5.0 0.0 0.0
10.0 0.0 0.0
`)
	ini, err := NewPathInitializer(path, 3)
	if err != nil {
		t.Fatalf("NewPathInitializer failed: %v", err)
	}
	// Gamma is minimized at u=5.
	obj := &gammaObjective{bestU: 5.0}
	def := make([]float64, DeformLen)
	gamma, err := ini.InitialGuess(obj, def)
	if err != nil {
		t.Fatalf("InitialGuess failed: %v", err)
	}
	if def[DefU] != 5.0 {
		t.Fatalf("expected the u=5 waypoint, got %v", def[DefU])
	}
	if gamma != 0 {
		t.Fatalf("expected gamma 0 at the best waypoint, got %v", gamma)
	}
}

func TestInitialGuessNearBoundsTheSearch(t *testing.T) {
	path := writePathFile(t, `0.0 0.0 0.0
1.0 0.0 0.0
2.0 0.0 0.0
50.0 0.0 0.0
`)
	ini, err := NewPathInitializer(path, 2)
	if err != nil {
		t.Fatalf("NewPathInitializer failed: %v", err)
	}
	// The globally best waypoint (u=50) is outside the local neighborhood of
	// the previous solution, so the bounded search must not find it.
	obj := &gammaObjective{bestU: 50.0}
	def := make([]float64, DeformLen)
	if _, err := ini.InitialGuessNear(obj, def, 0.5, 0, 0); err != nil {
		t.Fatalf("InitialGuessNear failed: %v", err)
	}
	if def[DefU] == 50.0 {
		t.Fatalf("bounded search must stay near the previous solution, got u=%v", def[DefU])
	}
}

func TestInitialGuessAllWaypointsInvalid(t *testing.T) {
	path := writePathFile(t, "1.0 2.0 0.0\n")
	ini, err := NewPathInitializer(path, 1)
	if err != nil {
		t.Fatalf("NewPathInitializer failed: %v", err)
	}
	obj := &gammaObjective{invalid: true}
	def := make([]float64, DeformLen)
	if _, err := ini.InitialGuess(obj, def); err == nil {
		t.Fatalf("expected error when no waypoint yields a valid metric")
	}
}

// gammaObjective scores a guess by its distance in u from bestU; when invalid
// is set every evaluation returns the invalid metric.
type gammaObjective struct {
	bestU   float64
	invalid bool
}

func (g *gammaObjective) PointID() int   { return 0 }
func (g *gammaObjective) Subset() Subset { return &stubSubset{} }

func (g *gammaObjective) InitializeFromPreviousFrame(def []float64) (Status, error) {
	return InitializeSuccessful, nil
}

func (g *gammaObjective) InitializeFromNeighbor(def []float64) (Status, error) {
	return InitializeSuccessful, nil
}

func (g *gammaObjective) Gamma(def []float64) float64 {
	if g.invalid {
		return -1
	}
	return math.Abs(def[DefU] - g.bestU)
}

func (g *gammaObjective) Sigma(def []float64) float64 { return 0 }

func (g *gammaObjective) ComputeUpdateFast(def []float64) (int, Status, error) {
	return 0, CorrelationSuccessful, nil
}

func (g *gammaObjective) ComputeUpdateRobust(def []float64) (int, Status, error) {
	return 0, CorrelationSuccessful, nil
}
