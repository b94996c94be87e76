package engine

import "dicengine/internal/field"

// refreshBlockedPixels recomputes the occlusion mask for a blocked point.
// Each blocker resides on the same worker and appears earlier in local
// order, so its current-frame solution is already in the owned view and its
// persistent objective already exists. The blocker's patch is transformed by
// that solution, expanded by the skin factor, dilated by the buffer size,
// and the union becomes the blocked point's mask.
func (e *Engine) refreshBlockedPixels(w *worker, gid int) {
	blockers := e.obstructions[gid]
	if len(blockers) == 0 {
		return
	}
	obj := w.objectives[gid]
	if obj == nil {
		return
	}

	seen := make(map[Pixel]struct{})
	for _, bid := range blockers {
		bobj := w.objectives[bid]
		if bobj == nil {
			continue
		}
		def := make([]float64, DeformLen)
		def[DefU] = w.view.Value(bid, field.DisplacementX)
		def[DefV] = w.view.Value(bid, field.DisplacementY)
		def[DefTheta] = w.view.Value(bid, field.RotationZ)
		def[DefEx] = w.view.Value(bid, field.NormalStrainX)
		def[DefEy] = w.view.Value(bid, field.NormalStrainY)
		def[DefGxy] = w.view.Value(bid, field.ShearStrainXY)

		sub := bobj.Subset()
		for _, px := range sub.DeformedShape(def, sub.CentroidX(), sub.CentroidY(), e.cfg.ObstructionSkinFactor) {
			seen[px] = struct{}{}
		}
	}
	if buf := e.cfg.ObstructionBufferSize; buf > 0 {
		seen = dilate(seen, buf, e.defImg.Width(), e.defImg.Height())
	}

	blocked := make([]Pixel, 0, len(seen))
	for px := range seen {
		blocked = append(blocked, px)
	}
	obj.Subset().SetBlockedPixels(blocked)
}

// dilate grows the pixel set by r in every direction, clamped to the image.
func dilate(in map[Pixel]struct{}, r, width, height int) map[Pixel]struct{} {
	out := make(map[Pixel]struct{}, len(in))
	for px := range in {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				x, y := px.X+dx, px.Y+dy
				if x < 0 || y < 0 || x >= width || y >= height {
					continue
				}
				out[Pixel{X: x, Y: y}] = struct{}{}
			}
		}
	}
	return out
}
