package imageio

import (
	"math"

	"dicengine/internal/engine"
)

// phaseSearchFraction bounds the displacement search to a fraction of the
// image size.
const phaseSearchFraction = 4

// PhaseCorrelate estimates one global integer displacement between two
// frames by minimizing the mean squared difference of a central window over
// a bounded shift search. It backs the phase-correlation initializer.
func PhaseCorrelate(prev, def engine.Image) (float64, float64) {
	w, h := prev.Width(), prev.Height()
	maxShift := min(w, h) / phaseSearchFraction
	if maxShift < 1 {
		return 0, 0
	}

	// Central window, inset far enough that every candidate shift stays in
	// bounds.
	x0, x1 := maxShift, w-maxShift
	y0, y1 := maxShift, h-maxShift
	if x1 <= x0 || y1 <= y0 {
		return 0, 0
	}

	bestU, bestV := 0, 0
	bestErr := math.Inf(1)
	for dv := -maxShift; dv <= maxShift; dv++ {
		for du := -maxShift; du <= maxShift; du++ {
			var sum float64
			var count int
			// Sparse sampling keeps the search cheap on large frames.
			for y := y0; y < y1; y += 2 {
				for x := x0; x < x1; x += 2 {
					d := def.Intensity(x+du, y+dv) - prev.Intensity(x, y)
					sum += d * d
					count++
				}
			}
			if count == 0 {
				continue
			}
			if mse := sum / float64(count); mse < bestErr {
				bestErr = mse
				bestU, bestV = du, dv
			}
		}
	}
	return float64(bestU), float64(bestV)
}
