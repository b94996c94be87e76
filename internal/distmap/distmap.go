// Package distmap assigns tracked point ids to worker processes and fixes
// the processing order within each process, honoring obstruction co-location
// and seed-chain dependencies.
package distmap

import (
	"fmt"
	"log/slog"
	"sort"
)

// Map assigns point ids to processes with a deterministic per-process order.
// The owned and seed variants are one-to-one partitions; the all variant
// replicates every id on every process.
type Map struct {
	n     int
	local [][]int // per process, ordered global ids
}

// NumPoints returns the global point count.
func (m *Map) NumPoints() int { return m.n }

// NumProcs returns the process count.
func (m *Map) NumProcs() int { return len(m.local) }

// LocalIDs returns process p's ids in processing order.
func (m *Map) LocalIDs(p int) []int { return m.local[p] }

// OwnerOf returns the process owning id, or -1 when the id is replicated
// (present on more than one process) or absent.
func (m *Map) OwnerOf(id int) int {
	owner := -1
	for p, ids := range m.local {
		for _, gid := range ids {
			if gid == id {
				if owner != -1 {
					return -1
				}
				owner = p
			}
		}
	}
	return owner
}

// IsOneToOne reports whether the map is a true partition of [0, n): every id
// present exactly once across all processes.
func (m *Map) IsOneToOne() bool {
	seen := make([]int, m.n)
	for _, ids := range m.local {
		for _, gid := range ids {
			if gid < 0 || gid >= m.n {
				return false
			}
			seen[gid]++
		}
	}
	for _, c := range seen {
		if c != 1 {
			return false
		}
	}
	return true
}

// Maps bundles the three distribution variants produced by Build.
type Maps struct {
	// Owned is the one-to-one partition used for distributed synchronization.
	Owned *Map
	// All replicates every id on every process (serial / frame-0 target).
	All *Map
	// Seed groups points sharing an initialization seed on one process,
	// ordered seed-outward. Equals Owned when no seed dependencies exist or
	// when obstruction grouping takes precedence.
	Seed *Map
	// SeedDegraded is set when seed ordering was dropped because obstruction
	// grouping was simultaneously active.
	SeedDegraded bool
}

// Build computes the owned, all, and seed maps for n points over procs
// processes. obstructions maps a blocked id to its blocker ids (one level
// deep); neighborIDs, when non-nil, gives each point's seed neighbor
// (-1 marks a seed point).
func Build(log *slog.Logger, n, procs int, obstructions map[int][]int, neighborIDs []int) (*Maps, error) {
	if log == nil {
		log = slog.Default()
	}
	if n <= 0 {
		return nil, fmt.Errorf("distmap: point count must be positive, got %d", n)
	}
	if procs <= 0 {
		return nil, fmt.Errorf("distmap: process count must be positive, got %d", procs)
	}
	if neighborIDs != nil && len(neighborIDs) != n {
		return nil, fmt.Errorf("distmap: neighbor id list has %d entries for %d points", len(neighborIDs), n)
	}

	m := &Maps{}

	// Replicated map: every process holds every id in ascending order.
	all := make([][]int, procs)
	for p := range all {
		all[p] = ascending(n)
	}
	m.All = &Map{n: n, local: all}

	// Evenly distributed contiguous partition, the default owned map.
	owned := contiguous(n, procs)

	hasObstructions := false
	for _, blockers := range obstructions {
		if len(blockers) > 0 {
			hasObstructions = true
			break
		}
	}

	if hasObstructions {
		grouped, err := obstructionPartition(log, n, procs, obstructions)
		if err != nil {
			return nil, err
		}
		owned = grouped
		// A serial run carries the ordering into the all map as well.
		if procs == 1 {
			m.All = &Map{n: n, local: [][]int{append([]int(nil), grouped[0]...)}}
		}
	}
	m.Owned = &Map{n: n, local: owned}
	if !m.Owned.IsOneToOne() {
		return nil, fmt.Errorf("distmap: owned map is not a one-to-one partition of [0,%d)", n)
	}

	seed, degraded, err := seedPartition(log, n, procs, obstructions, neighborIDs, hasObstructions, m.Owned)
	if err != nil {
		return nil, err
	}
	m.Seed = seed
	m.SeedDegraded = degraded
	if !m.Seed.IsOneToOne() {
		return nil, fmt.Errorf("distmap: seed map is not a one-to-one partition of [0,%d)", n)
	}
	return m, nil
}

func ascending(n int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// contiguous splits [0,n) into even blocks, the first n%procs blocks one
// element larger.
func contiguous(n, procs int) [][]int {
	local := make([][]int, procs)
	base := n / procs
	rem := n % procs
	next := 0
	for p := 0; p < procs; p++ {
		count := base
		if p < rem {
			count++
		}
		ids := make([]int, 0, count)
		for i := 0; i < count; i++ {
			ids = append(ids, next)
			next++
		}
		local[p] = ids
	}
	return local
}

// obstructionPartition groups transitively related ids with a union-find,
// deals groups round-robin, fills remaining eligible ids greedily, and
// orders each process's list unblocked-first then blocked.
//
// Obstruction is one level deep: a blocker may never itself be blocked.
// Deeper graphs are rejected rather than silently mis-ordered.
func obstructionPartition(log *slog.Logger, n, procs int, obstructions map[int][]int) ([][]int, error) {
	blocked := make(map[int]bool, len(obstructions))
	for id, blockers := range obstructions {
		if id < 0 || id >= n {
			return nil, fmt.Errorf("distmap: obstruction entry for out-of-range id %d", id)
		}
		if len(blockers) > 0 {
			blocked[id] = true
		}
	}
	uf := newUnionFind(n)
	touched := make(map[int]bool)
	for id, blockers := range obstructions {
		for _, b := range blockers {
			if b < 0 || b >= n {
				return nil, fmt.Errorf("distmap: point %d lists out-of-range blocker %d", id, b)
			}
			if blocked[b] {
				return nil, fmt.Errorf("distmap: point %d is blocked by %d which is itself blocked; obstruction chains deeper than one level are not supported", id, b)
			}
			uf.union(id, b)
			touched[id] = true
			touched[b] = true
		}
	}

	// Closed groups keyed by union-find root, ordered by smallest member so
	// the round-robin deal is deterministic.
	members := make(map[int][]int)
	for id := range touched {
		root := uf.find(id)
		members[root] = append(members[root], id)
	}
	groups := make([][]int, 0, len(members))
	for _, g := range members {
		sort.Ints(g)
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	log.Debug("obstruction groups computed", "groups", len(groups))

	// Deal complete groups round-robin, then place the untouched ids one at
	// a time on whichever process holds the fewest (ties to lowest rank).
	procIDs := make([][]int, procs)
	for i, g := range groups {
		procIDs[i%procs] = append(procIDs[i%procs], g...)
	}
	for id := 0; id < n; id++ {
		if touched[id] {
			continue
		}
		target := 0
		for p := 1; p < procs; p++ {
			if len(procIDs[p]) < len(procIDs[target]) {
				target = p
			}
		}
		procIDs[target] = append(procIDs[target], id)
	}

	// Two-tier local order: unblocked ids ascending, then blocked ids
	// ascending. Blockers therefore always run before the points they block.
	local := make([][]int, procs)
	for p := range procIDs {
		ids := append([]int(nil), procIDs[p]...)
		sort.Ints(ids)
		ordered := make([]int, 0, len(ids))
		for _, id := range ids {
			if !blocked[id] {
				ordered = append(ordered, id)
			}
		}
		for _, id := range ids {
			if blocked[id] {
				ordered = append(ordered, id)
			}
		}
		local[p] = ordered
	}
	return local, nil
}

// seedPartition builds the seed map: chains of points sharing a seed are
// kept whole on one process and ordered from the seed outward.
func seedPartition(log *slog.Logger, n, procs int, obstructions map[int][]int, neighborIDs []int, hasObstructions bool, owned *Map) (*Map, bool, error) {
	if neighborIDs == nil {
		return owned, false, nil
	}
	if hasObstructions {
		hasSeeds := false
		for _, nid := range neighborIDs {
			if nid != -1 {
				hasSeeds = true
				break
			}
		}
		if hasSeeds {
			log.Warn("seed values specified together with obstructing subsets; " +
				"grouping by obstruction trumps seed ordering, seed dependencies between neighbors will not be enforced")
		}
		return owned, hasSeeds, nil
	}
	for i, nid := range neighborIDs {
		if nid != -1 && (nid < 0 || nid >= n) {
			return nil, false, fmt.Errorf("distmap: point %d has out-of-range neighbor id %d", i, nid)
		}
	}

	// Chains are built scanning from the highest id down; hitting a seed
	// (neighbor == -1) closes the chain. Each chain is stored reversed, so
	// flip it to run seed-outward before placing it.
	var chains [][]int
	var current []int
	for i := n - 1; i >= 0; i-- {
		current = append(current, i)
		if neighborIDs[i] == -1 {
			chains = append(chains, current)
			current = nil
		}
	}
	if len(current) > 0 {
		return nil, false, fmt.Errorf("distmap: %d points precede the first seed (every chain must start at a point with neighbor id -1)", len(current))
	}

	local := make([][]int, procs)
	for i, chain := range chains {
		reverse(chain)
		p := i % procs
		local[p] = append(local[p], chain...)
	}
	for p := range local {
		if local[p] == nil {
			local[p] = []int{}
		}
	}
	log.Debug("seed chains distributed", "chains", len(chains))
	return &Map{n: n, local: local}, false, nil
}

func reverse(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
