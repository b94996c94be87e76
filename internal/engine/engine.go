// Package engine drives digital image correlation over a sequence of image
// pairs: it partitions tracked points across workers, synchronizes field
// state around each frame, and runs the per-point correlation pipeline.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"dicengine/internal/config"
	"dicengine/internal/distmap"
	"dicengine/internal/field"
)

// fieldDescriptor names which distribution map is active for a frame.
type fieldDescriptor int

const (
	allOwned fieldDescriptor = iota
	distributed
	distributedGroupedBySeed
)

func (d fieldDescriptor) String() string {
	switch d {
	case distributed:
		return "DISTRIBUTED"
	case distributedGroupedBySeed:
		return "DISTRIBUTED_GROUPED_BY_SEED"
	}
	return "ALL_OWNED"
}

// Point is one tracked subset location.
type Point struct {
	X int
	Y int
}

// Options wires the engine's collaborators and per-point tables.
type Options struct {
	Log     *slog.Logger
	Workers int

	// Points are the subset centroids; ids are assigned by index.
	Points     []Point
	SubsetSize int

	// NeighborIDs gives each point its seed neighbor (-1 marks a seed);
	// nil means no seed dependencies.
	NeighborIDs []int
	// Obstructions maps a blocked id to its blocker ids (one level deep).
	Obstructions map[int][]int

	MotionWindows map[int]config.MotionWindowDef
	PathFiles     map[int]string
	SkipSolve     map[int]bool

	// NumFrames is informational (progress logging); <= 0 means unknown.
	NumFrames int

	// NewObjective builds the correlation objective for a point.
	NewObjective ObjectiveFactory
	// PhaseCorrelate supplies the global displacement estimate; required
	// when the initialization method is USE_PHASE_CORRELATION.
	PhaseCorrelate PhaseCorrelator
	// NewInitializer builds a trajectory initializer from a path file;
	// defaults to the waypoint-file initializer in this package.
	NewInitializer func(pathFile string) (Initializer, error)
	// NewMotionDetector builds a motion detector from a window definition;
	// defaults to the frame-differencing detector in this package.
	NewMotionDetector func(config.MotionWindowDef) MotionDetector

	Ref Image
	Def Image
}

// worker owns one partition of the point set for a frame.
type worker struct {
	proc       int
	view       *field.View
	objectives map[int]Objective
}

// Engine is the correlation scheduler.
type Engine struct {
	cfg *config.Params
	log *slog.Logger

	n          int
	procs      int
	subsetSize int

	store *field.Store
	maps  *distmap.Maps

	frame     int
	numFrames int

	refImg  Image
	prevImg Image
	defImg  Image

	phaseU float64
	phaseV float64

	obstructions  map[int][]int
	motionWindows map[int]config.MotionWindowDef
	pathFiles     map[int]string
	skipSolve     map[int]bool

	newObjective      ObjectiveFactory
	phaseCorrelate    PhaseCorrelator
	newInitializer    func(string) (Initializer, error)
	newMotionDetector func(config.MotionWindowDef) MotionDetector

	initializers    []Initializer
	motionDetectors []MotionDetector

	postProcessors []PostProcessor
	listeners      []FrameListener

	activeDesc fieldDescriptor
	workers    []*worker
}

// New validates the configuration and builds the engine: field store filled
// with initial coordinates, distribution maps, detectors, post-processors.
func New(cfg *config.Params, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: nil correlation parameters")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	if len(opts.Points) == 0 {
		return nil, fmt.Errorf("engine: point count must be positive")
	}
	if opts.SubsetSize <= 0 {
		return nil, fmt.Errorf("engine: subset size must be positive, got %d", opts.SubsetSize)
	}
	if opts.NewObjective == nil {
		return nil, fmt.Errorf("engine: objective factory is required")
	}
	if opts.Ref == nil || opts.Def == nil {
		return nil, fmt.Errorf("engine: reference and deformed images are required")
	}
	if opts.Ref.Width() != opts.Def.Width() || opts.Ref.Height() != opts.Def.Height() {
		return nil, fmt.Errorf("engine: images must be the same size (ref %dx%d, def %dx%d)",
			opts.Ref.Width(), opts.Ref.Height(), opts.Def.Width(), opts.Def.Height())
	}
	procs := opts.Workers
	if procs < 1 {
		procs = 1
	}
	if procs > 1 {
		switch cfg.InitializationMethod {
		case config.UseFieldValues, config.UseNeighborValues, config.UseNeighborValuesFirstStepOnly:
		default:
			return nil, fmt.Errorf("engine: initialization method %s is not supported with %d workers",
				cfg.InitializationMethod, procs)
		}
	}
	if cfg.InitializationMethod == config.UsePhaseCorrelation && opts.PhaseCorrelate == nil {
		return nil, fmt.Errorf("engine: USE_PHASE_CORRELATION requires a phase correlator")
	}

	n := len(opts.Points)
	store, err := field.NewStore(n)
	if err != nil {
		return nil, err
	}
	for i, pt := range opts.Points {
		store.SetValue(i, field.CoordinateX, float64(pt.X))
		store.SetValue(i, field.CoordinateY, float64(pt.Y))
		store.SetPrevValue(i, field.CoordinateX, float64(pt.X))
		store.SetPrevValue(i, field.CoordinateY, float64(pt.Y))
		store.SetValue(i, field.NeighborID, -1)
		store.SetPrevValue(i, field.NeighborID, -1)
	}
	if opts.NeighborIDs != nil {
		if len(opts.NeighborIDs) != n {
			return nil, fmt.Errorf("engine: neighbor id list has %d entries for %d points", len(opts.NeighborIDs), n)
		}
		for i, nid := range opts.NeighborIDs {
			store.SetValue(i, field.NeighborID, float64(nid))
		}
	}

	maps, err := distmap.Build(log, n, procs, opts.Obstructions, opts.NeighborIDs)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:               cfg,
		log:               log,
		n:                 n,
		procs:             procs,
		subsetSize:        opts.SubsetSize,
		store:             store,
		maps:              maps,
		numFrames:         opts.NumFrames,
		refImg:            opts.Ref,
		prevImg:           opts.Ref,
		defImg:            opts.Def,
		obstructions:      opts.Obstructions,
		motionWindows:     opts.MotionWindows,
		pathFiles:         opts.PathFiles,
		skipSolve:         opts.SkipSolve,
		newObjective:      opts.NewObjective,
		phaseCorrelate:    opts.PhaseCorrelate,
		newInitializer:    opts.NewInitializer,
		newMotionDetector: opts.NewMotionDetector,
		initializers:      make([]Initializer, n),
		motionDetectors:   make([]MotionDetector, n),
		activeDesc:        -1,
	}
	if e.newInitializer == nil {
		e.newInitializer = func(p string) (Initializer, error) { return NewPathInitializer(p, pathSearchNeighbors) }
	}
	if e.newMotionDetector == nil {
		e.newMotionDetector = func(w config.MotionWindowDef) MotionDetector { return newWindowDetector(w) }
	}
	if err := e.buildMotionDetectors(); err != nil {
		return nil, err
	}
	if cfg.PostProcessVSGStrain != nil {
		e.RegisterPostProcessor(NewVSGStrain(cfg.PostProcessVSGStrain))
	}
	return e, nil
}

// RegisterPostProcessor appends a post-processor; execution follows
// registration order.
func (e *Engine) RegisterPostProcessor(p PostProcessor) {
	if p == nil {
		return
	}
	e.postProcessors = append(e.postProcessors, p)
}

// PostProcessors returns the registered post-processors.
func (e *Engine) PostProcessors() []PostProcessor { return e.postProcessors }

// AddFrameListener registers a per-frame summary observer.
func (e *Engine) AddFrameListener(l FrameListener) {
	if l != nil {
		e.listeners = append(e.listeners, l)
	}
}

// Store exposes the global field view. It is consistent only between
// frames (after gather).
func (e *Engine) Store() *field.Store { return e.store }

// Maps exposes the distribution maps.
func (e *Engine) Maps() *distmap.Maps { return e.maps }

// Frame returns the current frame index.
func (e *Engine) Frame() int { return e.frame }

// NumPoints returns the tracked point count.
func (e *Engine) NumPoints() int { return e.n }

// Params returns the correlation parameter set.
func (e *Engine) Params() *config.Params { return e.cfg }

// SubsetSize returns the square subset edge length in pixels.
func (e *Engine) SubsetSize() int { return e.subsetSize }

// RefImage returns the reference image.
func (e *Engine) RefImage() Image { return e.refImg }

// PrevImage returns the previous frame's deformed image (equals the
// reference until the tracking routine advances it).
func (e *Engine) PrevImage() Image { return e.prevImg }

// DefImage returns the current deformed image.
func (e *Engine) DefImage() Image { return e.defImg }

// PhaseOffsets returns the frame's global phase-correlation estimate.
func (e *Engine) PhaseOffsets() (float64, float64) { return e.phaseU, e.phaseV }

// SetDefImage installs the deformed image for the next frame.
func (e *Engine) SetDefImage(img Image) error {
	if img == nil {
		return fmt.Errorf("engine: nil deformed image")
	}
	if img.Width() != e.refImg.Width() || img.Height() != e.refImg.Height() {
		return fmt.Errorf("engine: deformed image %dx%d does not match reference %dx%d",
			img.Width(), img.Height(), e.refImg.Width(), e.refImg.Height())
	}
	e.defImg = img
	return nil
}

// selectActiveMap decides which distribution map is active for this frame
// as a function of worker count, initialization strategy, and frame index.
func (e *Engine) selectActiveMap() (fieldDescriptor, *distmap.Map, bool, error) {
	if e.procs == 1 {
		if e.frame == 0 {
			return allOwned, e.maps.All, true, nil
		}
		return e.activeDesc, nil, false, nil
	}
	switch e.cfg.InitializationMethod {
	case config.UseFieldValues:
		if e.activeDesc != distributed {
			return distributed, e.maps.Owned, true, nil
		}
	case config.UseNeighborValuesFirstStepOnly:
		if e.frame == 0 {
			return distributedGroupedBySeed, e.maps.Seed, true, nil
		}
		if e.frame == 1 {
			return distributed, e.maps.Owned, true, nil
		}
	case config.UseNeighborValues:
		if e.frame == 0 {
			return distributedGroupedBySeed, e.maps.Seed, true, nil
		}
	default:
		return 0, nil, false, fmt.Errorf("engine: unknown initialization method %s for multi-worker execution",
			e.cfg.InitializationMethod)
	}
	return e.activeDesc, nil, false, nil
}

// rebuildWorkers installs views (and empty objective registries) for the
// given map. Owned views are exclusively mutated by their worker between
// scatter and gather.
func (e *Engine) rebuildWorkers(m *distmap.Map) {
	e.workers = make([]*worker, m.NumProcs())
	for p := 0; p < m.NumProcs(); p++ {
		v := field.NewView(m.LocalIDs(p))
		e.workers[p] = &worker{proc: p, view: v, objectives: make(map[int]Objective)}
	}
}

// ExecuteFrame runs one frame: map selection, scatter, per-point pipeline
// over every worker, gather, post-processing.
func (e *Engine) ExecuteFrame(ctx context.Context) error {
	e.log.Debug("frame begin", "frame", e.frame, "of", e.numFrames, "workers", e.procs)

	desc, m, changed, err := e.selectActiveMap()
	if err != nil {
		return err
	}
	if changed {
		e.activeDesc = desc
		e.rebuildWorkers(m)
		e.log.Debug("active distribution map changed", "descriptor", desc.String())
	}
	if e.workers == nil {
		return fmt.Errorf("engine: no active distribution map selected")
	}

	for _, d := range e.motionDetectors {
		if d != nil {
			d.Reset()
		}
	}

	if e.frame == 0 {
		for _, p := range e.postProcessors {
			if err := p.Initialize(e); err != nil {
				return fmt.Errorf("engine: post-processor %s initialize: %w", p.Name(), err)
			}
			if err := p.PreExecutionTasks(); err != nil {
				return fmt.Errorf("engine: post-processor %s pre-execution: %w", p.Name(), err)
			}
		}
	}

	// Scatter: all view -> owned views. The only read of global state this
	// frame.
	for _, w := range e.workers {
		e.store.Scatter(w.view)
	}

	if e.cfg.InitializationMethod == config.UsePhaseCorrelation {
		e.phaseU, e.phaseV = e.phaseCorrelate(e.prevImg, e.defImg)
		e.log.Debug("phase correlation initial displacements", "ux", e.phaseU, "uy", e.phaseV)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(e.workers))
	for i, w := range e.workers {
		wg.Add(1)
		go func(i int, w *worker) {
			defer wg.Done()
			errs[i] = e.runWorker(ctx, w)
		}(i, w)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	// Gather: owned views -> all view. After this, the global view is a
	// consistent snapshot of every owned write made this frame.
	for _, w := range e.workers {
		e.store.Gather(w.view)
	}

	for _, p := range e.postProcessors {
		if err := p.Execute(); err != nil {
			return fmt.Errorf("engine: post-processor %s execute: %w", p.Name(), err)
		}
	}

	e.notifyListeners()
	e.frame++
	if e.cfg.CorrelationRoutine == config.TrackingRoutine {
		e.prevImg = e.defImg
	}
	return nil
}

// runWorker processes the worker's owned points strictly in map order.
func (e *Engine) runWorker(ctx context.Context, w *worker) error {
	for _, gid := range w.view.IDs() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		switch e.cfg.CorrelationRoutine {
		case config.GenericRoutine:
			// Objectives are cheap relative to the many-point case; build
			// one per point per frame.
			obj, err := e.newObjective(e, gid, w.view)
			if err != nil {
				return fmt.Errorf("engine: objective for point %d: %w", gid, err)
			}
			w.objectives[gid] = obj
			e.correlate(w, obj)
		case config.TrackingRoutine:
			// A handful of points over many frames: construct once, reuse,
			// and refresh occlusion masks as blockers move.
			obj, ok := w.objectives[gid]
			if !ok {
				var err error
				obj, err = e.newObjective(e, gid, w.view)
				if err != nil {
					return fmt.Errorf("engine: objective for point %d: %w", gid, err)
				}
				w.objectives[gid] = obj
			}
			e.refreshBlockedPixels(w, gid)
			e.correlate(w, obj)
		default:
			return fmt.Errorf("engine: unknown correlation routine")
		}
	}
	return nil
}

func (e *Engine) notifyListeners() {
	if len(e.listeners) == 0 {
		return
	}
	summary := FrameSummary{
		Frame:        e.frame,
		NumPoints:    e.n,
		StatusCounts: make(map[string]int),
	}
	for i := 0; i < e.n; i++ {
		st := Status(int(e.store.Value(i, field.StatusFlag)))
		summary.StatusCounts[st.String()]++
	}
	for _, l := range e.listeners {
		l.OnFrameComplete(summary)
	}
}
