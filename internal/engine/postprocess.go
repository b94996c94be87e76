package engine

import (
	"fmt"
	"math"

	"dicengine/internal/field"
)

// Output field names contributed by the VSG strain post-processor.
const (
	VSGStrainXX = "VSG_STRAIN_XX"
	VSGStrainYY = "VSG_STRAIN_YY"
	VSGStrainXY = "VSG_STRAIN_XY"
)

// VSGStrain computes virtual strain gauge strains: for each point, the
// displacement field over all points within the strain window is fit with a
// least-squares plane, and the plane's gradients give the strain components.
// It reads the global field view after gather.
type VSGStrain struct {
	windowSize float64

	e         *Engine
	neighbors [][]int
	exx       []float64
	eyy       []float64
	exy       []float64
}

// NewVSGStrain builds the post-processor from its sub-parameter map
// (strain_window_size, in pixels).
func NewVSGStrain(params map[string]any) *VSGStrain {
	p := &VSGStrain{}
	switch v := params["strain_window_size"].(type) {
	case int:
		p.windowSize = float64(v)
	case float64:
		p.windowSize = v
	}
	return p
}

func (p *VSGStrain) Name() string { return "VSG_STRAIN" }

func (p *VSGStrain) FieldNames() []string {
	return []string{VSGStrainXX, VSGStrainYY, VSGStrainXY}
}

func (p *VSGStrain) Initialize(e *Engine) error {
	if p.windowSize <= 0 {
		return fmt.Errorf("strain_window_size must be positive, got %v", p.windowSize)
	}
	p.e = e
	n := e.NumPoints()
	p.exx = make([]float64, n)
	p.eyy = make([]float64, n)
	p.exy = make([]float64, n)
	return nil
}

// PreExecutionTasks builds the per-point neighbor lists once; point
// coordinates never move, so the window membership is fixed for the run.
func (p *VSGStrain) PreExecutionTasks() error {
	store := p.e.Store()
	n := p.e.NumPoints()
	half := p.windowSize / 2.0
	p.neighbors = make([][]int, n)
	for i := 0; i < n; i++ {
		xi := store.Value(i, field.CoordinateX)
		yi := store.Value(i, field.CoordinateY)
		for j := 0; j < n; j++ {
			dx := store.Value(j, field.CoordinateX) - xi
			dy := store.Value(j, field.CoordinateY) - yi
			if math.Sqrt(dx*dx+dy*dy) <= half {
				p.neighbors[i] = append(p.neighbors[i], j)
			}
		}
	}
	return nil
}

func (p *VSGStrain) Execute() error {
	store := p.e.Store()
	for i := 0; i < p.e.NumPoints(); i++ {
		p.exx[i], p.eyy[i], p.exy[i] = 0, 0, 0
		nbrs := p.neighbors[i]
		// A plane fit needs at least three non-collinear samples.
		if len(nbrs) < 3 {
			continue
		}
		xi := store.Value(i, field.CoordinateX)
		yi := store.Value(i, field.CoordinateY)

		// Normal equations for u = b0 + b1*dx + b2*dy (and likewise v),
		// accumulated about the gauge center to keep the system well scaled.
		var a [3][3]float64
		var bu, bv [3]float64
		for _, j := range nbrs {
			dx := store.Value(j, field.CoordinateX) - xi
			dy := store.Value(j, field.CoordinateY) - yi
			u := store.Value(j, field.DisplacementX)
			v := store.Value(j, field.DisplacementY)
			row := [3]float64{1, dx, dy}
			for r := 0; r < 3; r++ {
				for c := 0; c < 3; c++ {
					a[r][c] += row[r] * row[c]
				}
				bu[r] += row[r] * u
				bv[r] += row[r] * v
			}
		}
		cu, okU := solve3(a, bu)
		cv, okV := solve3(a, bv)
		if !okU || !okV {
			continue
		}
		dudx, dudy := cu[1], cu[2]
		dvdx, dvdy := cv[1], cv[2]
		p.exx[i] = dudx
		p.eyy[i] = dvdy
		p.exy[i] = 0.5 * (dudy + dvdx)
	}
	return nil
}

func (p *VSGStrain) FieldValue(id int, name string) (float64, bool) {
	if id < 0 || id >= len(p.exx) {
		return 0, false
	}
	switch name {
	case VSGStrainXX:
		return p.exx[id], true
	case VSGStrainYY:
		return p.eyy[id], true
	case VSGStrainXY:
		return p.exy[id], true
	}
	return 0, false
}

// solve3 solves a 3x3 linear system with partial pivoting.
func solve3(a [3][3]float64, b [3]float64) ([3]float64, bool) {
	const eps = 1e-12
	for col := 0; col < 3; col++ {
		pivot := col
		for r := col + 1; r < 3; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < eps {
			return [3]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]
		for r := col + 1; r < 3; r++ {
			f := a[r][col] / a[col][col]
			for c := col; c < 3; c++ {
				a[r][c] -= f * a[col][c]
			}
			b[r] -= f * b[col]
		}
	}
	var x [3]float64
	for r := 2; r >= 0; r-- {
		x[r] = b[r]
		for c := r + 1; c < 3; c++ {
			x[r] -= a[r][c] * x[c]
		}
		x[r] /= a[r][r]
	}
	return x, true
}
