package engine

import (
	"fmt"
	"math"
	"sync"

	"dicengine/internal/config"
)

// buildMotionDetectors constructs one detector per point that defines its
// own window, then resolves borrow links (use_subset_id) so borrowers share
// the owning point's detector instance.
func (e *Engine) buildMotionDetectors() error {
	for gid, def := range e.motionWindows {
		if gid < 0 || gid >= e.n {
			return fmt.Errorf("engine: motion window for unknown point id %d", gid)
		}
		if def.UseSubsetID >= 0 {
			continue
		}
		if def.Width <= 0 || def.Height <= 0 {
			return fmt.Errorf("engine: motion window for point %d has non-positive size %dx%d",
				gid, def.Width, def.Height)
		}
		e.motionDetectors[gid] = e.newMotionDetector(def)
	}
	for gid, def := range e.motionWindows {
		if def.UseSubsetID < 0 {
			continue
		}
		target := def.UseSubsetID
		if target >= e.n || e.motionDetectors[target] == nil {
			return fmt.Errorf("engine: point %d borrows motion window from point %d, which defines none",
				gid, target)
		}
		e.motionDetectors[gid] = e.motionDetectors[target]
	}
	return nil
}

// windowDetector is a frame-differencing motion detector over a fixed image
// window. The first frame after a reset captures the baseline and reports
// motion; later frames compare the window's mean absolute difference against
// the tolerance.
//
// A detector may be shared by several points (borrowed windows), possibly
// across workers, so the result is computed once per frame under a lock and
// every caller sees the same answer.
type windowDetector struct {
	def config.MotionWindowDef

	mu       sync.Mutex
	baseline []float64
	decided  bool
	motion   bool
}

func newWindowDetector(def config.MotionWindowDef) *windowDetector {
	return &windowDetector{def: def}
}

// Reset marks the frame boundary: the next MotionDetected call recomputes.
func (d *windowDetector) Reset() {
	d.mu.Lock()
	d.decided = false
	d.mu.Unlock()
}

func (d *windowDetector) MotionDetected(img Image) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.decided {
		return d.motion
	}
	d.decided = true

	cur := d.capture(img)
	if d.baseline == nil {
		// Nothing to compare against yet; let the first frame through.
		d.baseline = cur
		d.motion = true
		return d.motion
	}
	var sum float64
	for i := range cur {
		sum += math.Abs(cur[i] - d.baseline[i])
	}
	diff := sum / float64(len(cur))
	d.motion = diff > d.def.Tol
	d.baseline = cur
	return d.motion
}

// capture copies the window's intensities, clamping to the image bounds.
func (d *windowDetector) capture(img Image) []float64 {
	out := make([]float64, 0, d.def.Width*d.def.Height)
	for y := d.def.OriginY; y < d.def.OriginY+d.def.Height; y++ {
		for x := d.def.OriginX; x < d.def.OriginX+d.def.Width; x++ {
			if x < 0 || y < 0 || x >= img.Width() || y >= img.Height() {
				out = append(out, 0)
				continue
			}
			out = append(out, img.Intensity(x, y))
		}
	}
	return out
}
