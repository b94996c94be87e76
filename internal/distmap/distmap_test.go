package distmap

import (
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOwnedMapIsPartition(t *testing.T) {
	cases := []struct {
		n     int
		procs int
	}{
		{1, 1},
		{4, 1},
		{10, 3},
		{7, 7},
		{5, 8},
	}
	for _, tc := range cases {
		m, err := Build(testLogger(), tc.n, tc.procs, nil, nil)
		if err != nil {
			t.Fatalf("Build(%d,%d) failed: %v", tc.n, tc.procs, err)
		}
		if !m.Owned.IsOneToOne() {
			t.Fatalf("owned map for n=%d procs=%d is not a partition", tc.n, tc.procs)
		}
		if m.All.NumProcs() != tc.procs {
			t.Fatalf("all map has %d procs, want %d", m.All.NumProcs(), tc.procs)
		}
		for p := 0; p < tc.procs; p++ {
			if len(m.All.LocalIDs(p)) != tc.n {
				t.Fatalf("all map proc %d holds %d ids, want %d", p, len(m.All.LocalIDs(p)), tc.n)
			}
		}
	}
}

func TestObstructionColocation(t *testing.T) {
	// Point 1 is blocked by point 0; both must land on the same process with
	// the blocker first, regardless of the process count.
	m, err := Build(testLogger(), 2, 2, map[int][]int{1: {0}}, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	owner0 := m.Owned.OwnerOf(0)
	owner1 := m.Owned.OwnerOf(1)
	if owner0 != owner1 {
		t.Fatalf("blocker on proc %d but blocked point on proc %d", owner0, owner1)
	}
	ids := m.Owned.LocalIDs(owner0)
	if len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
		t.Fatalf("expected local order [0 1], got %v", ids)
	}
}

func TestObstructionGroupsDealtRoundRobin(t *testing.T) {
	obstructions := map[int][]int{1: {0}, 3: {2}}
	m, err := Build(testLogger(), 4, 2, obstructions, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	got0 := m.Owned.LocalIDs(0)
	got1 := m.Owned.LocalIDs(1)
	if len(got0) != 2 || got0[0] != 0 || got0[1] != 1 {
		t.Fatalf("proc 0 expected [0 1], got %v", got0)
	}
	if len(got1) != 2 || got1[0] != 2 || got1[1] != 3 {
		t.Fatalf("proc 1 expected [2 3], got %v", got1)
	}
}

func TestUngroupedIDsFillFewestFirst(t *testing.T) {
	// One group of two lands on proc 0; the three free ids go to whichever
	// process holds the fewest, ties to the lowest rank.
	m, err := Build(testLogger(), 5, 2, map[int][]int{1: {0}}, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	got0 := m.Owned.LocalIDs(0)
	got1 := m.Owned.LocalIDs(1)
	// Proc 0: group {0,1} plus tie-broken id 4, ordered unblocked-first.
	want0 := []int{0, 4, 1}
	want1 := []int{2, 3}
	if !equalInts(got0, want0) {
		t.Fatalf("proc 0 expected %v, got %v", want0, got0)
	}
	if !equalInts(got1, want1) {
		t.Fatalf("proc 1 expected %v, got %v", want1, got1)
	}
}

func TestBlockersAlwaysPrecedeBlocked(t *testing.T) {
	obstructions := map[int][]int{
		2: {0, 5},
		4: {1},
	}
	m, err := Build(testLogger(), 6, 2, obstructions, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for _, blocked := range []int{2, 4} {
		p := m.Owned.OwnerOf(blocked)
		pos := indexOf(m.Owned.LocalIDs(p), blocked)
		for _, blocker := range obstructions[blocked] {
			if m.Owned.OwnerOf(blocker) != p {
				t.Fatalf("blocker %d of %d not co-located", blocker, blocked)
			}
			if indexOf(m.Owned.LocalIDs(p), blocker) >= pos {
				t.Fatalf("blocker %d does not precede %d on proc %d: %v",
					blocker, blocked, p, m.Owned.LocalIDs(p))
			}
		}
	}
}

func TestDeepObstructionChainRejected(t *testing.T) {
	_, err := Build(testLogger(), 3, 1, map[int][]int{1: {0}, 2: {1}}, nil)
	if err == nil {
		t.Fatalf("expected error for obstruction chain deeper than one level")
	}
	if !strings.Contains(err.Error(), "itself blocked") {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestSerialObstructionOrderCarriesIntoAllMap(t *testing.T) {
	// Point 0 is blocked by 3; in a serial run the all map must also order
	// the blocker before the blocked point.
	m, err := Build(testLogger(), 4, 1, map[int][]int{0: {3}}, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := []int{1, 2, 3, 0}
	if !equalInts(m.Owned.LocalIDs(0), want) {
		t.Fatalf("owned order expected %v, got %v", want, m.Owned.LocalIDs(0))
	}
	if !equalInts(m.All.LocalIDs(0), want) {
		t.Fatalf("all-map order expected %v, got %v", want, m.All.LocalIDs(0))
	}
}

func TestSeedChainsRunSeedOutward(t *testing.T) {
	// Two chains: 0<-1<-2 and 3<-4<-5, each seeded at its first point.
	neighbors := []int{-1, 0, 1, -1, 3, 4}
	m, err := Build(testLogger(), 6, 2, nil, neighbors)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !m.Seed.IsOneToOne() {
		t.Fatalf("seed map is not a partition")
	}
	if m.SeedDegraded {
		t.Fatalf("seed map unexpectedly degraded")
	}
	for p := 0; p < 2; p++ {
		ids := m.Seed.LocalIDs(p)
		if len(ids) != 3 {
			t.Fatalf("proc %d holds %d ids, want 3: %v", p, len(ids), ids)
		}
		if neighbors[ids[0]] != -1 {
			t.Fatalf("proc %d does not start at a seed point: %v", p, ids)
		}
		for i := 1; i < len(ids); i++ {
			if neighbors[ids[i]] != ids[i-1] {
				t.Fatalf("proc %d chain broken at position %d: %v", p, i, ids)
			}
		}
	}
}

func TestSeedWithObstructionsDegrades(t *testing.T) {
	neighbors := []int{-1, 0, -1}
	m, err := Build(testLogger(), 3, 2, map[int][]int{2: {0}}, neighbors)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !m.SeedDegraded {
		t.Fatalf("expected seed map degradation when obstructions are present")
	}
	for p := 0; p < 2; p++ {
		if !equalInts(m.Seed.LocalIDs(p), m.Owned.LocalIDs(p)) {
			t.Fatalf("degraded seed map must equal owned map on proc %d", p)
		}
	}
}

func TestPointsBeforeFirstSeedRejected(t *testing.T) {
	// Point 0 names a neighbor but no seed precedes it in the downward scan.
	_, err := Build(testLogger(), 2, 1, nil, []int{1, -1})
	if err == nil {
		t.Fatalf("expected error for points preceding the first seed")
	}
	if !strings.Contains(err.Error(), "precede the first seed") {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestBuildValidation(t *testing.T) {
	if _, err := Build(testLogger(), 0, 1, nil, nil); err == nil {
		t.Fatalf("expected error for zero points")
	}
	if _, err := Build(testLogger(), 4, 0, nil, nil); err == nil {
		t.Fatalf("expected error for zero procs")
	}
	if _, err := Build(testLogger(), 4, 1, nil, []int{-1}); err == nil {
		t.Fatalf("expected error for neighbor list length mismatch")
	}
	if _, err := Build(testLogger(), 4, 1, map[int][]int{1: {9}}, nil); err == nil {
		t.Fatalf("expected error for out-of-range blocker")
	}
	if _, err := Build(testLogger(), 4, 1, nil, []int{-1, 7, -1, -1}); err == nil {
		t.Fatalf("expected error for out-of-range neighbor id")
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func indexOf(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
