package engine

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// pathSearchNeighbors is how many nearby waypoints a localized search tries.
const pathSearchNeighbors = 6

// waypoint is one expected-trajectory sample: displacement plus rotation.
type waypoint struct {
	u     float64
	v     float64
	theta float64
}

// PathInitializer derives initial guesses from an expected trajectory read
// from a whitespace-delimited file of "u v theta" rows. Lines starting with
// '#' and blank lines are skipped.
type PathInitializer struct {
	points []waypoint
	k      int
}

// NewPathInitializer loads a trajectory file. k bounds the localized search.
func NewPathInitializer(path string, k int) (Initializer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p := &PathInitializer{k: k}
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		cols := strings.Fields(text)
		if len(cols) != 3 {
			return nil, fmt.Errorf("path file %s line %d: expected 3 columns (u v theta), got %d",
				path, line, len(cols))
		}
		var wp waypoint
		if wp.u, err = strconv.ParseFloat(cols[0], 64); err != nil {
			return nil, fmt.Errorf("path file %s line %d: %w", path, line, err)
		}
		if wp.v, err = strconv.ParseFloat(cols[1], 64); err != nil {
			return nil, fmt.Errorf("path file %s line %d: %w", path, line, err)
		}
		if wp.theta, err = strconv.ParseFloat(cols[2], 64); err != nil {
			return nil, fmt.Errorf("path file %s line %d: %w", path, line, err)
		}
		p.points = append(p.points, wp)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(p.points) == 0 {
		return nil, fmt.Errorf("path file %s has no waypoints", path)
	}
	if p.k <= 0 {
		p.k = pathSearchNeighbors
	}
	return p, nil
}

// InitialGuess searches the whole trajectory for the waypoint with the best
// mismatch metric and writes it into def.
func (p *PathInitializer) InitialGuess(obj Objective, def []float64) (float64, error) {
	return p.bestOf(obj, def, allIndices(len(p.points)))
}

// InitialGuessNear searches the waypoints closest to the previous solution.
func (p *PathInitializer) InitialGuessNear(obj Objective, def []float64, u, v, theta float64) (float64, error) {
	idx := allIndices(len(p.points))
	sort.Slice(idx, func(a, b int) bool {
		return p.dist2(idx[a], u, v, theta) < p.dist2(idx[b], u, v, theta)
	})
	if len(idx) > p.k {
		idx = idx[:p.k]
	}
	return p.bestOf(obj, def, idx)
}

// ClosestWaypoint returns the nearest waypoint index and its Euclidean
// distance from the given solution.
func (p *PathInitializer) ClosestWaypoint(u, v, theta float64) (int, float64) {
	best, bestD2 := 0, math.Inf(1)
	for i := range p.points {
		if d2 := p.dist2(i, u, v, theta); d2 < bestD2 {
			best, bestD2 = i, d2
		}
	}
	return best, math.Sqrt(bestD2)
}

// bestOf evaluates gamma at each candidate waypoint and keeps the best one.
// Candidates with an invalid metric (negative gamma) are skipped.
func (p *PathInitializer) bestOf(obj Objective, def []float64, idx []int) (float64, error) {
	cand := make([]float64, DeformLen)
	bestGamma := math.Inf(1)
	found := false
	for _, i := range idx {
		for j := range cand {
			cand[j] = 0
		}
		cand[DefU] = p.points[i].u
		cand[DefV] = p.points[i].v
		cand[DefTheta] = p.points[i].theta
		g := obj.Gamma(cand)
		if g < 0 {
			continue
		}
		if g < bestGamma {
			bestGamma = g
			def[DefU] = cand[DefU]
			def[DefV] = cand[DefV]
			def[DefTheta] = cand[DefTheta]
			found = true
		}
	}
	if !found {
		return -1, fmt.Errorf("no waypoint produced a valid mismatch metric")
	}
	return bestGamma, nil
}

func (p *PathInitializer) dist2(i int, u, v, theta float64) float64 {
	du := p.points[i].u - u
	dv := p.points[i].v - v
	dt := p.points[i].theta - theta
	return du*du + dv*dv + dt*dt
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
