// Package objective provides the built-in ZNSSD correlation objective: a
// square subset compared between the reference and deformed images, solved
// with Gauss-Newton (fast) or Nelder-Mead simplex (robust).
package objective

import (
	"math"

	"dicengine/internal/engine"
)

// SquareSubset is a square pixel patch centered on a point, with an
// occlusion mask of deformed-image pixels currently covered by blockers.
type SquareSubset struct {
	cx, cy  int
	size    int
	offsets []engine.Pixel

	blocked     map[engine.Pixel]struct{}
	everBlocked map[engine.Pixel]struct{}
}

// NewSquareSubset builds the patch; size is the edge length in pixels.
func NewSquareSubset(cx, cy, size int) *SquareSubset {
	half := size / 2
	s := &SquareSubset{
		cx:          cx,
		cy:          cy,
		size:        size,
		blocked:     make(map[engine.Pixel]struct{}),
		everBlocked: make(map[engine.Pixel]struct{}),
	}
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			s.offsets = append(s.offsets, engine.Pixel{X: dx, Y: dy})
		}
	}
	return s
}

func (s *SquareSubset) CentroidX() int { return s.cx }
func (s *SquareSubset) CentroidY() int { return s.cy }

// NumPixels returns the patch pixel count.
func (s *SquareSubset) NumPixels() int { return len(s.offsets) }

// mapPoint transforms a patch offset by the deformation about (cx, cy).
func mapPoint(def []float64, cx, cy int, dx, dy float64) (float64, float64) {
	ex, ey, gxy := def[engine.DefEx], def[engine.DefEy], def[engine.DefGxy]
	dxp := (1+ex)*dx + gxy*dy
	dyp := (1+ey)*dy + gxy*dx
	cosT, sinT := math.Cos(def[engine.DefTheta]), math.Sin(def[engine.DefTheta])
	x := float64(cx) + def[engine.DefU] + cosT*dxp - sinT*dyp
	y := float64(cy) + def[engine.DefV] + sinT*dxp + cosT*dyp
	return x, y
}

// DeformedShape transforms the patch by def about (cx, cy), with offsets
// scaled by the skin factor, and returns the covered integer pixels.
func (s *SquareSubset) DeformedShape(def []float64, cx, cy int, skin float64) []engine.Pixel {
	if skin <= 0 {
		skin = 1
	}
	seen := make(map[engine.Pixel]struct{}, len(s.offsets))
	for _, off := range s.offsets {
		x, y := mapPoint(def, cx, cy, float64(off.X)*skin, float64(off.Y)*skin)
		seen[engine.Pixel{X: int(math.Round(x)), Y: int(math.Round(y))}] = struct{}{}
	}
	out := make([]engine.Pixel, 0, len(seen))
	for px := range seen {
		out = append(out, px)
	}
	return out
}

// SetBlockedPixels replaces the occlusion mask. Pixels that were blocked at
// any point are remembered for subset evolution.
func (s *SquareSubset) SetBlockedPixels(px []engine.Pixel) {
	s.blocked = make(map[engine.Pixel]struct{}, len(px))
	for _, p := range px {
		s.blocked[p] = struct{}{}
		s.everBlocked[p] = struct{}{}
	}
}

// TurnOnPreviouslyObstructedPixels forgets historical occlusion so pixels
// exposed by a moving blocker rejoin the correlation.
func (s *SquareSubset) TurnOnPreviouslyObstructedPixels() {
	s.everBlocked = make(map[engine.Pixel]struct{}, len(s.blocked))
	for p := range s.blocked {
		s.everBlocked[p] = struct{}{}
	}
}

// isBlocked reports whether a deformed-image pixel is currently occluded.
func (s *SquareSubset) isBlocked(x, y int) bool {
	_, ok := s.blocked[engine.Pixel{X: x, Y: y}]
	return ok
}

// isDeactivated also excludes pixels blocked in earlier frames; they stay
// off until subset evolution turns them back on.
func (s *SquareSubset) isDeactivated(x, y int) bool {
	_, ok := s.everBlocked[engine.Pixel{X: x, Y: y}]
	return ok
}
