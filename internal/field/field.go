// Package field holds the per-point scalar fields tracked by the correlation
// engine: a globally replicated "all" view plus exclusively owned per-worker
// views, with scatter/gather synchronization between them.
package field

import (
	"fmt"
	"strings"
)

// Name identifies one scalar field of a tracked point.
type Name int

const (
	CoordinateX Name = iota
	CoordinateY
	DisplacementX
	DisplacementY
	RotationZ
	NormalStrainX
	NormalStrainY
	ShearStrainXY
	Sigma
	Gamma
	Match
	Iterations
	StatusFlag
	NeighborID

	// NumFields is the number of scalar fields per point.
	NumFields
)

var fieldNames = [NumFields]string{
	"COORDINATE_X",
	"COORDINATE_Y",
	"DISPLACEMENT_X",
	"DISPLACEMENT_Y",
	"ROTATION_Z",
	"NORMAL_STRAIN_X",
	"NORMAL_STRAIN_Y",
	"SHEAR_STRAIN_XY",
	"SIGMA",
	"GAMMA",
	"MATCH",
	"ITERATIONS",
	"STATUS_FLAG",
	"NEIGHBOR_ID",
}

func (n Name) String() string {
	if n < 0 || n >= NumFields {
		return fmt.Sprintf("FIELD(%d)", int(n))
	}
	return fieldNames[n]
}

// Parse returns the field with the given name (case insensitive).
func Parse(s string) (Name, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range fieldNames {
		if name == upper {
			return Name(i), nil
		}
	}
	return 0, fmt.Errorf("unknown field name %q", s)
}

// Names returns all field names in declaration order.
func Names() []string {
	out := make([]string, NumFields)
	copy(out, fieldNames[:])
	return out
}

// Store is the globally replicated field view: every scalar field for every
// point, for the current frame and the previous frame. It must only be
// mutated through Gather (or directly during setup, before the first frame).
type Store struct {
	n    int
	cur  [][]float64 // [field][point]
	prev [][]float64
}

// NewStore allocates a store for n points. n must be positive.
func NewStore(n int) (*Store, error) {
	if n <= 0 {
		return nil, fmt.Errorf("field: point count must be positive, got %d", n)
	}
	s := &Store{n: n}
	s.cur = make([][]float64, NumFields)
	s.prev = make([][]float64, NumFields)
	for f := range s.cur {
		s.cur[f] = make([]float64, n)
		s.prev[f] = make([]float64, n)
	}
	return s, nil
}

// NumPoints returns the fixed point count.
func (s *Store) NumPoints() int { return s.n }

// Value returns the current-frame value of field f for point id.
func (s *Store) Value(id int, f Name) float64 { return s.cur[f][id] }

// SetValue sets the current-frame value of field f for point id.
func (s *Store) SetValue(id int, f Name, v float64) { s.cur[f][id] = v }

// PrevValue returns the previous-frame value of field f for point id.
func (s *Store) PrevValue(id int, f Name) float64 { return s.prev[f][id] }

// SetPrevValue sets the previous-frame value of field f for point id.
func (s *Store) SetPrevValue(id int, f Name, v float64) { s.prev[f][id] = v }

// Scatter copies the all-view values (both frames) into the owned view.
func (s *Store) Scatter(v *View) {
	for f := 0; f < int(NumFields); f++ {
		for lid, gid := range v.ids {
			v.cur[f][lid] = s.cur[f][gid]
			v.prev[f][lid] = s.prev[f][gid]
		}
	}
}

// Gather copies the owned view's values (both frames) back into the
// all-view. After every owned view of a frame has been gathered, the
// all-view is a consistent global snapshot.
func (s *Store) Gather(v *View) {
	for f := 0; f < int(NumFields); f++ {
		for lid, gid := range v.ids {
			s.cur[f][gid] = v.cur[f][lid]
			s.prev[f][gid] = v.prev[f][lid]
		}
	}
}

// View is one worker's exclusively owned subset of the fields. Ids keep the
// order assigned by the distribution map; that order is a correctness
// requirement for obstruction and seed dependencies.
type View struct {
	ids  []int
	lid  map[int]int
	cur  [][]float64 // [field][local point]
	prev [][]float64
}

// NewView creates an owned view over the given ordered global ids.
func NewView(ids []int) *View {
	v := &View{
		ids: append([]int(nil), ids...),
		lid: make(map[int]int, len(ids)),
	}
	for i, gid := range v.ids {
		v.lid[gid] = i
	}
	v.cur = make([][]float64, NumFields)
	v.prev = make([][]float64, NumFields)
	for f := range v.cur {
		v.cur[f] = make([]float64, len(ids))
		v.prev[f] = make([]float64, len(ids))
	}
	return v
}

// IDs returns the owned global ids in processing order.
func (v *View) IDs() []int { return v.ids }

// Owns reports whether the view owns the global id.
func (v *View) Owns(id int) bool {
	_, ok := v.lid[id]
	return ok
}

// local resolves a global id to its local index. Accessing an id the view
// does not own is a caller bug; returning some other point's slot would
// silently corrupt the correlation, so it panics instead.
func (v *View) local(id int) int {
	lid, ok := v.lid[id]
	if !ok {
		panic(fmt.Sprintf("field: view does not own point %d", id))
	}
	return lid
}

// Value returns the current-frame value of field f for global id.
func (v *View) Value(id int, f Name) float64 { return v.cur[f][v.local(id)] }

// SetValue sets the current-frame value of field f for global id.
func (v *View) SetValue(id int, f Name, val float64) { v.cur[f][v.local(id)] = val }

// AddValue adds delta to the current-frame value of field f for global id.
func (v *View) AddValue(id int, f Name, delta float64) { v.cur[f][v.local(id)] += delta }

// PrevValue returns the previous-frame value of field f for global id.
func (v *View) PrevValue(id int, f Name) float64 { return v.prev[f][v.local(id)] }

// SaveOff snapshots a point's current fields into the previous-frame plane.
// Used by velocity-based projection to seed the next frame.
func (v *View) SaveOff(id int) {
	lid := v.local(id)
	for f := 0; f < int(NumFields); f++ {
		v.prev[f][lid] = v.cur[f][lid]
	}
}
