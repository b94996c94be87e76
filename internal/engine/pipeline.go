package engine

import (
	"fmt"

	"dicengine/internal/config"
	"dicengine/internal/field"
)

// correlate runs the per-point pipeline for one owned point. Every outcome
// is recorded into the worker's owned view; nothing propagates to the
// scheduler. Panics from collaborator calls are confined here and become
// -by-exception statuses.
func (e *Engine) correlate(w *worker, obj Objective) {
	gid := obj.PointID()
	numIterations := -1

	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("correlation panic", "point", gid, "frame", e.frame, "panic", r)
			e.recordFailure(w, gid, CorrelationFailedByException, numIterations)
		}
	}()

	// Motion gate. Only match, iterations and the status flag change; sigma
	// keeps its prior value so an idle frame does not force a path
	// initializer back to the global trajectory search.
	if det := e.motionDetectors[gid]; det != nil && !det.MotionDetected(e.defImg) {
		w.view.SetValue(gid, field.Match, 0)
		w.view.SetValue(gid, field.Iterations, 0)
		w.view.SetValue(gid, field.StatusFlag, float64(FrameSkippedDueToNoMotion))
		return
	}

	// Initial guess.
	def := make([]float64, DeformLen)
	initStatus, err := e.safeInitialGuess(w, gid, obj, def)
	if err != nil {
		e.log.Warn("initializer raised", "point", gid, "frame", e.frame, "error", err)
		e.recordFailure(w, gid, InitializeFailedByException, numIterations)
		return
	}
	if initStatus != InitializeSuccessful {
		e.recordFailure(w, gid, InitializeFailed, numIterations)
		return
	}

	// Skip-solve short-circuit: quality metrics at the guess only.
	if e.skipSolve[gid] {
		gamma := obj.Gamma(def)
		sigma := obj.Sigma(def)
		if t := e.cfg.SkipSolveGammaThreshold; t >= 0 && gamma > t {
			e.recordFailure(w, gid, FrameFailedDueToHighGamma, 0)
			return
		}
		e.recordSolution(w, gid, def, sigma, gamma, 0, FrameSkipped)
		return
	}

	// Initial-gamma gate.
	if t := e.cfg.InitialGammaThreshold; t >= 0 {
		if g := obj.Gamma(def); g > t {
			e.log.Debug("initial gamma above threshold", "point", gid, "gamma", g, "threshold", t)
			e.recordFailure(w, gid, InitializeFailed, numIterations)
			return
		}
	}

	// Optimize, with alternate-solver fallback for composite strategies.
	if st, ok := e.optimize(w, gid, obj, def, &numIterations, &initStatus); !ok {
		e.recordFailure(w, gid, st, numIterations)
		return
	}

	gamma := obj.Gamma(def)
	sigma := obj.Sigma(def)

	// Final-gamma gate. Under phase correlation the global offset is written
	// back into the displacement fields so the next frame seeds from it.
	if t := e.cfg.FinalGammaThreshold; t >= 0 && gamma > t {
		if e.cfg.InitializationMethod == config.UsePhaseCorrelation {
			u := e.phaseU + w.view.Value(gid, field.DisplacementX)
			v := e.phaseV + w.view.Value(gid, field.DisplacementY)
			w.view.SetValue(gid, field.DisplacementX, u)
			w.view.SetValue(gid, field.DisplacementY, v)
		}
		e.log.Debug("final gamma above threshold", "point", gid, "gamma", gamma, "threshold", t)
		e.recordFailure(w, gid, FrameFailedDueToHighGamma, numIterations)
		return
	}

	// Path-distance gate.
	if _, hasPath := e.pathFiles[gid]; hasPath && e.cfg.PathDistanceThreshold >= 0 {
		ini, err := e.initializerFor(gid)
		if err != nil {
			e.recordFailure(w, gid, InitializeFailedByException, numIterations)
			return
		}
		if _, dist := ini.ClosestWaypoint(def[DefU], def[DefV], def[DefTheta]); dist > e.cfg.PathDistanceThreshold {
			e.log.Debug("solution too far from path", "point", gid, "distance", dist)
			e.recordFailure(w, gid, FrameFailedDueToHighPathDistance, numIterations)
			return
		}
	}

	// Success records the initialization status of the accepted attempt.
	// The previous-frame snapshot is taken before the new solution lands so
	// velocity-based projection extrapolates across a real frame increment.
	if e.cfg.ProjectionMethod == config.VelocityBased {
		w.view.SaveOff(gid)
	}
	e.recordSolution(w, gid, def, sigma, gamma, numIterations, initStatus)
	if e.cfg.UseSubsetEvolution && e.frame > 1 {
		obj.Subset().TurnOnPreviouslyObstructedPixels()
	}
}

// initialGuess derives the initial deformation for a point. The same
// derivation is reused verbatim when a composite optimizer retries with its
// alternate solver.
func (e *Engine) initialGuess(w *worker, gid int, obj Objective, def []float64) (Status, error) {
	for i := range def {
		def[i] = 0
	}

	// An expected-trajectory file trumps the configured method for its point.
	if _, ok := e.pathFiles[gid]; ok {
		ini, err := e.initializerFor(gid)
		if err != nil {
			return InitializeFailed, err
		}
		// A prior failure leaves sigma at -1; fall back to a global search
		// of the trajectory rather than trusting the stale solution.
		if e.frame == 0 || w.view.Value(gid, field.Sigma) == -1 {
			if _, err := ini.InitialGuess(obj, def); err != nil {
				e.log.Debug("path global search failed", "point", gid, "error", err)
				return InitializeFailed, nil
			}
			return InitializeSuccessful, nil
		}
		u := w.view.Value(gid, field.DisplacementX)
		v := w.view.Value(gid, field.DisplacementY)
		th := w.view.Value(gid, field.RotationZ)
		if _, err := ini.InitialGuessNear(obj, def, u, v, th); err != nil {
			e.log.Debug("path local search failed", "point", gid, "error", err)
			return InitializeFailed, nil
		}
		return InitializeSuccessful, nil
	}

	method := e.cfg.InitializationMethod
	if method == config.UseNeighborValuesFirstStepOnly && e.frame > 0 {
		method = config.UseFieldValues
	}
	switch method {
	case config.UseFieldValues:
		return obj.InitializeFromPreviousFrame(def)
	case config.UseNeighborValues, config.UseNeighborValuesFirstStepOnly:
		// Seed points have no neighbor; they start from their own values.
		// When obstruction grouping degrades the seed map to the owned map,
		// a chained point's neighbor can live on another worker; its fields
		// are unreadable mid-frame, so the point seeds from its own values.
		nbr := int(w.view.Value(gid, field.NeighborID))
		if nbr < 0 || !w.view.Owns(nbr) {
			return obj.InitializeFromPreviousFrame(def)
		}
		return obj.InitializeFromNeighbor(def)
	case config.UsePhaseCorrelation:
		def[DefU] = e.phaseU + w.view.Value(gid, field.DisplacementX)
		def[DefV] = e.phaseV + w.view.Value(gid, field.DisplacementY)
		def[DefTheta] = w.view.Value(gid, field.RotationZ)
		return InitializeSuccessful, nil
	}
	return InitializeFailed, fmt.Errorf("unhandled initialization method %s", method)
}

// safeInitialGuess confines initializer panics.
func (e *Engine) safeInitialGuess(w *worker, gid int, obj Objective, def []float64) (st Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			st = InitializeFailedByException
			err = fmt.Errorf("initializer panic for point %d: %v", gid, r)
		}
	}()
	return e.initialGuess(w, gid, obj, def)
}

// optimize runs the configured solver strategy in place. It returns the
// failure status and false when no attempt succeeded.
func (e *Engine) optimize(w *worker, gid int, obj Objective, def []float64, iters *int, initStatus *Status) (Status, bool) {
	switch e.cfg.OptimizationMethod {
	case config.GradientBased:
		return attemptUpdate(obj.ComputeUpdateFast, def, iters)
	case config.Simplex:
		return attemptUpdate(obj.ComputeUpdateRobust, def, iters)
	case config.GradientBasedThenSimplex:
		if st, ok := attemptUpdate(obj.ComputeUpdateFast, def, iters); ok {
			return st, true
		}
		return e.retryAlternate(w, gid, obj, def, iters, initStatus, obj.ComputeUpdateRobust)
	case config.SimplexThenGradientBased:
		if st, ok := attemptUpdate(obj.ComputeUpdateRobust, def, iters); ok {
			return st, true
		}
		return e.retryAlternate(w, gid, obj, def, iters, initStatus, obj.ComputeUpdateFast)
	}
	return CorrelationFailed, false
}

// retryAlternate re-derives the initial guess and runs the alternate solver.
func (e *Engine) retryAlternate(w *worker, gid int, obj Objective, def []float64, iters *int, initStatus *Status,
	alt func([]float64) (int, Status, error)) (Status, bool) {
	e.log.Debug("retrying with alternate solver", "point", gid, "frame", e.frame)
	st, err := e.safeInitialGuess(w, gid, obj, def)
	if err != nil {
		return InitializeFailedByException, false
	}
	if st != InitializeSuccessful {
		return InitializeFailed, false
	}
	*initStatus = st
	return attemptUpdate(alt, def, iters)
}

// attemptUpdate invokes one solver, confining panics to a -by-exception
// status.
func attemptUpdate(fn func([]float64) (int, Status, error), def []float64, iters *int) (st Status, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			st, ok = CorrelationFailedByException, false
		}
	}()
	n, status, err := fn(def)
	*iters = n
	if err != nil {
		return CorrelationFailedByException, false
	}
	if status != CorrelationSuccessful {
		return CorrelationFailed, false
	}
	return status, true
}

// initializerFor lazily builds the trajectory initializer for a point. Each
// point is owned by exactly one worker, so distinct slice slots never race.
func (e *Engine) initializerFor(gid int) (Initializer, error) {
	if e.initializers[gid] != nil {
		return e.initializers[gid], nil
	}
	ini, err := e.newInitializer(e.pathFiles[gid])
	if err != nil {
		return nil, fmt.Errorf("path initializer for point %d: %w", gid, err)
	}
	e.initializers[gid] = ini
	return ini, nil
}

// recordSolution writes a full solution record for the point.
func (e *Engine) recordSolution(w *worker, gid int, def []float64, sigma, gamma float64, iters int, st Status) {
	w.view.SetValue(gid, field.DisplacementX, def[DefU])
	w.view.SetValue(gid, field.DisplacementY, def[DefV])
	w.view.SetValue(gid, field.RotationZ, def[DefTheta])
	w.view.SetValue(gid, field.NormalStrainX, def[DefEx])
	w.view.SetValue(gid, field.NormalStrainY, def[DefEy])
	w.view.SetValue(gid, field.ShearStrainXY, def[DefGxy])
	w.view.SetValue(gid, field.Sigma, sigma)
	w.view.SetValue(gid, field.Gamma, gamma)
	w.view.SetValue(gid, field.Match, 0)
	w.view.SetValue(gid, field.Iterations, float64(iters))
	w.view.SetValue(gid, field.StatusFlag, float64(st))
}

// recordFailure invalidates the quality fields and stamps the outcome.
// Displacement and strain fields keep their prior values.
func (e *Engine) recordFailure(w *worker, gid int, st Status, iters int) {
	w.view.SetValue(gid, field.Sigma, -1)
	w.view.SetValue(gid, field.Match, -1)
	w.view.SetValue(gid, field.Gamma, -1)
	w.view.SetValue(gid, field.Iterations, float64(iters))
	w.view.SetValue(gid, field.StatusFlag, float64(st))
}
