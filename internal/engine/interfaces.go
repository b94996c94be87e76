package engine

import "dicengine/internal/field"

// Deformation vector indices. A solution is a fixed-length slice holding
// translation, rotation, and strain components.
const (
	DefU = iota
	DefV
	DefTheta
	DefEx
	DefEy
	DefGxy

	// DeformLen is the deformation vector length.
	DeformLen
)

// Image is the read-only pixel source consumed by the pipeline and the
// obstruction manager. Implementations live outside this package.
type Image interface {
	Width() int
	Height() int
	// Intensity returns the grayscale value at (x, y).
	Intensity(x, y int) float64
}

// GradientImage is an Image that also carries precomputed gradients, needed
// by gradient-based optimizers.
type GradientImage interface {
	Image
	HasGradients() bool
	GradX(x, y int) float64
	GradY(x, y int) float64
}

// Pixel is one image coordinate, used for obstruction masks.
type Pixel struct {
	X int
	Y int
}

// Subset exposes a point's patch shape and occlusion mask to the
// obstruction manager and the pipeline.
type Subset interface {
	CentroidX() int
	CentroidY() int
	// DeformedShape transforms the patch by the given solution about
	// (cx, cy), expanded by the skin factor, and returns covered pixels.
	DeformedShape(def []float64, cx, cy int, skin float64) []Pixel
	// SetBlockedPixels replaces the set of pixels this point must treat as
	// occluded because other points currently cover them.
	SetBlockedPixels(px []Pixel)
	// TurnOnPreviouslyObstructedPixels lets the patch adopt newly exposed
	// pixels (subset evolution).
	TurnOnPreviouslyObstructedPixels()
}

// Objective is the correlation objective for one point: quality metrics,
// initializers, and the two solver paths. Solver and initializer panics are
// confined at the pipeline boundary and become -by-exception statuses.
type Objective interface {
	PointID() int
	Subset() Subset
	// InitializeFromPreviousFrame seeds def from the point's own prior
	// solution.
	InitializeFromPreviousFrame(def []float64) (Status, error)
	// InitializeFromNeighbor seeds def from the already-solved neighbor
	// point (which the distribution order guarantees ran earlier).
	InitializeFromNeighbor(def []float64) (Status, error)
	// Gamma is the mismatch metric at the guess (0 is a perfect match).
	Gamma(def []float64) float64
	// Sigma is the uncertainty metric at the guess.
	Sigma(def []float64) float64
	// ComputeUpdateFast runs the gradient-based solver in place.
	ComputeUpdateFast(def []float64) (iterations int, status Status, err error)
	// ComputeUpdateRobust runs the simplex solver in place.
	ComputeUpdateRobust(def []float64) (iterations int, status Status, err error)
}

// LocalFields is the owned-view accessor handed to objectives: values of
// points owned by the same worker, exclusively mutable between scatter and
// gather.
type LocalFields interface {
	Value(id int, f field.Name) float64
	SetValue(id int, f field.Name, v float64)
	PrevValue(id int, f field.Name) float64
}

// ObjectiveFactory builds the objective for one point. flds resolves field
// values local to the worker that owns the point.
type ObjectiveFactory func(e *Engine, gid int, flds LocalFields) (Objective, error)

// Initializer produces initial guesses from an expected trajectory.
type Initializer interface {
	// InitialGuess searches the whole trajectory for the best guess and
	// returns its gamma.
	InitialGuess(obj Objective, def []float64) (float64, error)
	// InitialGuessNear searches near the previous solution.
	InitialGuessNear(obj Objective, def []float64, u, v, theta float64) (float64, error)
	// ClosestWaypoint returns the nearest trajectory waypoint and its
	// distance from the given solution.
	ClosestWaypoint(u, v, theta float64) (index int, distance float64)
}

// MotionDetector gates per-point work on observed motion in a window.
type MotionDetector interface {
	MotionDetected(img Image) bool
	Reset()
}

// PostProcessor consumes the global field view after gather, once per
// frame, in registration order.
type PostProcessor interface {
	Name() string
	// FieldNames lists the post-processor's own output fields (report
	// columns).
	FieldNames() []string
	Initialize(e *Engine) error
	PreExecutionTasks() error
	Execute() error
	// FieldValue returns an output field value for a point.
	FieldValue(id int, name string) (float64, bool)
}

// PhaseCorrelator estimates one global image-to-image displacement, shared
// by every point seeded from phase correlation.
type PhaseCorrelator func(prev, def Image) (ux, uy float64)

// FrameListener observes per-frame summaries after gather (monitoring).
type FrameListener interface {
	OnFrameComplete(FrameSummary)
}

// FrameSummary is a per-frame digest of outcomes across all points.
type FrameSummary struct {
	Frame        int            `json:"frame"`
	NumPoints    int            `json:"num_points"`
	StatusCounts map[string]int `json:"status_counts"`
}
