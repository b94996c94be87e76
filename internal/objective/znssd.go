package objective

import (
	"fmt"
	"math"

	"dicengine/internal/config"
	"dicengine/internal/engine"
	"dicengine/internal/field"
)

// minActivePixels is the smallest active pixel count for a meaningful
// correlation value.
const minActivePixels = 6

// ZNSSD correlates one square subset between the reference image and the
// current deformed image using the zero-normalized sum of squared
// differences metric.
type ZNSSD struct {
	e    *engine.Engine
	gid  int
	flds engine.LocalFields
	sub  *SquareSubset
}

// Factory is the engine.ObjectiveFactory for ZNSSD objectives.
func Factory(e *engine.Engine, gid int, flds engine.LocalFields) (engine.Objective, error) {
	cx := int(flds.Value(gid, field.CoordinateX))
	cy := int(flds.Value(gid, field.CoordinateY))
	ref := e.RefImage()
	if cx < 0 || cy < 0 || cx >= ref.Width() || cy >= ref.Height() {
		return nil, fmt.Errorf("objective: point %d centroid (%d,%d) outside %dx%d image",
			gid, cx, cy, ref.Width(), ref.Height())
	}
	return &ZNSSD{
		e:    e,
		gid:  gid,
		flds: flds,
		sub:  NewSquareSubset(cx, cy, e.SubsetSize()),
	}, nil
}

func (z *ZNSSD) PointID() int          { return z.gid }
func (z *ZNSSD) Subset() engine.Subset { return z.sub }

// InitializeFromPreviousFrame seeds def from the point's own prior solution.
// Velocity-based projection extrapolates forward by the last frame-to-frame
// increment.
func (z *ZNSSD) InitializeFromPreviousFrame(def []float64) (engine.Status, error) {
	u := z.flds.Value(z.gid, field.DisplacementX)
	v := z.flds.Value(z.gid, field.DisplacementY)
	def[engine.DefU] = u
	def[engine.DefV] = v
	def[engine.DefTheta] = z.flds.Value(z.gid, field.RotationZ)
	def[engine.DefEx] = z.flds.Value(z.gid, field.NormalStrainX)
	def[engine.DefEy] = z.flds.Value(z.gid, field.NormalStrainY)
	def[engine.DefGxy] = z.flds.Value(z.gid, field.ShearStrainXY)
	if z.e.Params().ProjectionMethod == config.VelocityBased && z.e.Frame() > 1 {
		def[engine.DefU] = 2*u - z.flds.PrevValue(z.gid, field.DisplacementX)
		def[engine.DefV] = 2*v - z.flds.PrevValue(z.gid, field.DisplacementY)
	}
	return engine.InitializeSuccessful, nil
}

// InitializeFromNeighbor seeds def from the already-solved neighbor point.
// Jump tolerances reject guesses implausibly far from this point's own prior
// values.
func (z *ZNSSD) InitializeFromNeighbor(def []float64) (engine.Status, error) {
	nbr := int(z.flds.Value(z.gid, field.NeighborID))
	if nbr < 0 {
		return engine.InitializeFailed, fmt.Errorf("point %d has no seed neighbor", z.gid)
	}
	def[engine.DefU] = z.flds.Value(nbr, field.DisplacementX)
	def[engine.DefV] = z.flds.Value(nbr, field.DisplacementY)
	def[engine.DefTheta] = z.flds.Value(nbr, field.RotationZ)
	def[engine.DefEx] = z.flds.Value(nbr, field.NormalStrainX)
	def[engine.DefEy] = z.flds.Value(nbr, field.NormalStrainY)
	def[engine.DefGxy] = z.flds.Value(nbr, field.ShearStrainXY)

	p := z.e.Params()
	if tol := p.DispJumpTol; tol >= 0 {
		du := def[engine.DefU] - z.flds.Value(z.gid, field.DisplacementX)
		dv := def[engine.DefV] - z.flds.Value(z.gid, field.DisplacementY)
		if math.Abs(du) > tol || math.Abs(dv) > tol {
			return engine.InitializeFailed, nil
		}
	}
	if tol := p.ThetaJumpTol; tol >= 0 {
		dt := def[engine.DefTheta] - z.flds.Value(z.gid, field.RotationZ)
		if math.Abs(dt) > tol {
			return engine.InitializeFailed, nil
		}
	}
	return engine.InitializeSuccessful, nil
}

// Gamma is the ZNSSD metric at the guess: 0 is a perfect match, up to 4 for
// anticorrelated patches. Returns -1 when too few pixels are usable or a
// patch has no contrast.
func (z *ZNSSD) Gamma(def []float64) float64 {
	refVals, defVals := z.sample(def)
	n := len(refVals)
	if n < minActivePixels {
		return -1
	}
	var mr, md float64
	for i := 0; i < n; i++ {
		mr += refVals[i]
		md += defVals[i]
	}
	mr /= float64(n)
	md /= float64(n)
	var sr, sd float64
	for i := 0; i < n; i++ {
		sr += (refVals[i] - mr) * (refVals[i] - mr)
		sd += (defVals[i] - md) * (defVals[i] - md)
	}
	if sr <= 0 || sd <= 0 {
		return -1
	}
	sr = math.Sqrt(sr)
	sd = math.Sqrt(sd)
	var gamma float64
	for i := 0; i < n; i++ {
		d := (refVals[i]-mr)/sr - (defVals[i]-md)/sd
		gamma += d * d
	}
	if z.e.Params().NormalizeGammaWithActivePixels {
		gamma /= float64(n)
	}
	return gamma
}

// Sigma estimates the one-sigma displacement uncertainty of the solution
// from the reference contrast. Returns -1 when the match itself is invalid.
func (z *ZNSSD) Sigma(def []float64) float64 {
	gamma := z.Gamma(def)
	if gamma < 0 {
		return -1
	}
	if grad, ok := z.e.RefImage().(engine.GradientImage); ok && grad.HasGradients() {
		var sumGrad float64
		for _, off := range z.sub.offsets {
			x, y := z.sub.cx+off.X, z.sub.cy+off.Y
			if x < 0 || y < 0 || x >= grad.Width() || y >= grad.Height() {
				continue
			}
			gx, gy := grad.GradX(x, y), grad.GradY(x, y)
			sumGrad += gx*gx + gy*gy
		}
		if sumGrad > 0 {
			return math.Sqrt(2 * gamma / sumGrad)
		}
	}
	return math.Sqrt(gamma / float64(z.sub.NumPixels()))
}

// sample collects paired reference/deformed intensities for the active
// pixels of the patch under def. Out-of-bounds and occluded pixels drop out.
func (z *ZNSSD) sample(def []float64) ([]float64, []float64) {
	ref := z.e.RefImage()
	dimg := z.e.DefImage()
	refVals := make([]float64, 0, z.sub.NumPixels())
	defVals := make([]float64, 0, z.sub.NumPixels())
	for _, off := range z.sub.offsets {
		rx, ry := z.sub.cx+off.X, z.sub.cy+off.Y
		if rx < 0 || ry < 0 || rx >= ref.Width() || ry >= ref.Height() {
			continue
		}
		x, y := mapPoint(def, z.sub.cx, z.sub.cy, float64(off.X), float64(off.Y))
		if x < 0 || y < 0 || x > float64(dimg.Width()-1) || y > float64(dimg.Height()-1) {
			continue
		}
		if z.sub.isDeactivated(int(math.Round(x)), int(math.Round(y))) {
			continue
		}
		refVals = append(refVals, ref.Intensity(rx, ry))
		defVals = append(defVals, bilinear(dimg, x, y))
	}
	return refVals, defVals
}

// bilinear interpolates the image intensity at a fractional location.
func bilinear(img engine.Image, x, y float64) float64 {
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := x0+1, y0+1
	if x1 >= img.Width() {
		x1 = x0
	}
	if y1 >= img.Height() {
		y1 = y0
	}
	fx, fy := x-float64(x0), y-float64(y0)
	top := img.Intensity(x0, y0)*(1-fx) + img.Intensity(x1, y0)*fx
	bot := img.Intensity(x0, y1)*(1-fx) + img.Intensity(x1, y1)*fx
	return top*(1-fy) + bot*fy
}

// activeParams lists the deformation components the configuration allows the
// solvers to move.
func (z *ZNSSD) activeParams() []int {
	p := z.e.Params()
	var idx []int
	if p.EnableTranslation {
		idx = append(idx, engine.DefU, engine.DefV)
	}
	if p.EnableRotation {
		idx = append(idx, engine.DefTheta)
	}
	if p.EnableNormalStrain {
		idx = append(idx, engine.DefEx, engine.DefEy)
	}
	if p.EnableShearStrain {
		idx = append(idx, engine.DefGxy)
	}
	return idx
}

// ComputeUpdateFast runs Gauss-Newton on the intensity residuals using
// reference-image gradients. It requires an image source with gradients.
func (z *ZNSSD) ComputeUpdateFast(def []float64) (int, engine.Status, error) {
	grad, ok := z.e.RefImage().(engine.GradientImage)
	if !ok || !grad.HasGradients() {
		return 0, engine.CorrelationFailed,
			fmt.Errorf("gradient-based solver requires reference image gradients")
	}
	params := z.activeParams()
	if len(params) == 0 {
		return 0, engine.CorrelationFailed, fmt.Errorf("no deformation components enabled")
	}
	p := z.e.Params()
	ref := z.e.RefImage()
	dimg := z.e.DefImage()
	m := len(params)

	for it := 1; it <= p.MaxSolverIterationsFast; it++ {
		a := make([][]float64, m)
		for i := range a {
			a[i] = make([]float64, m)
		}
		b := make([]float64, m)
		active := 0
		cosT, sinT := math.Cos(def[engine.DefTheta]), math.Sin(def[engine.DefTheta])

		for _, off := range z.sub.offsets {
			rx, ry := z.sub.cx+off.X, z.sub.cy+off.Y
			if rx < 0 || ry < 0 || rx >= ref.Width() || ry >= ref.Height() {
				continue
			}
			x, y := mapPoint(def, z.sub.cx, z.sub.cy, float64(off.X), float64(off.Y))
			if x < 0 || y < 0 || x > float64(dimg.Width()-1) || y > float64(dimg.Height()-1) {
				continue
			}
			if z.sub.isDeactivated(int(math.Round(x)), int(math.Round(y))) {
				continue
			}
			active++
			gx, gy := grad.GradX(rx, ry), grad.GradY(rx, ry)
			dx, dy := float64(off.X), float64(off.Y)
			dxp := (1+def[engine.DefEx])*dx + def[engine.DefGxy]*dy
			dyp := (1+def[engine.DefEy])*dy + def[engine.DefGxy]*dx

			// Residual and the steepest-descent row for the enabled params.
			r := bilinear(dimg, x, y) - ref.Intensity(rx, ry)
			row := make([]float64, m)
			for k, pi := range params {
				var jx, jy float64
				switch pi {
				case engine.DefU:
					jx, jy = 1, 0
				case engine.DefV:
					jx, jy = 0, 1
				case engine.DefTheta:
					jx = -sinT*dxp - cosT*dyp
					jy = cosT*dxp - sinT*dyp
				case engine.DefEx:
					jx, jy = cosT*dx, sinT*dx
				case engine.DefEy:
					jx, jy = -sinT*dy, cosT*dy
				case engine.DefGxy:
					jx = cosT*dy - sinT*dx
					jy = sinT*dy + cosT*dx
				}
				row[k] = gx*jx + gy*jy
			}
			for i := 0; i < m; i++ {
				for j := 0; j < m; j++ {
					a[i][j] += row[i] * row[j]
				}
				b[i] -= row[i] * r
			}
		}
		if active < minActivePixels {
			return it, engine.CorrelationFailed, nil
		}
		delta, ok := solveSymmetric(a, b)
		if !ok {
			return it, engine.CorrelationFailed, nil
		}
		var maxStep float64
		for k, pi := range params {
			def[pi] += delta[k]
			if s := math.Abs(delta[k]); s > maxStep {
				maxStep = s
			}
		}
		// Diverged well past the image; no point iterating further.
		if math.Abs(def[engine.DefU]) > float64(dimg.Width()) ||
			math.Abs(def[engine.DefV]) > float64(dimg.Height()) {
			return it, engine.CorrelationFailed, nil
		}
		if maxStep < p.FastSolverTolerance {
			return it, engine.CorrelationSuccessful, nil
		}
	}
	return p.MaxSolverIterationsFast, engine.CorrelationFailed, nil
}

// ComputeUpdateRobust minimizes gamma with a Nelder-Mead simplex over the
// enabled deformation components.
func (z *ZNSSD) ComputeUpdateRobust(def []float64) (int, engine.Status, error) {
	params := z.activeParams()
	if len(params) == 0 {
		return 0, engine.CorrelationFailed, fmt.Errorf("no deformation components enabled")
	}
	p := z.e.Params()

	start := make([]float64, len(params))
	steps := make([]float64, len(params))
	for k, pi := range params {
		start[k] = def[pi]
		switch pi {
		case engine.DefU, engine.DefV:
			steps[k] = p.RobustDeltaDisp
		case engine.DefTheta:
			steps[k] = p.RobustDeltaTheta
		default:
			// Strain components move far less than displacements.
			steps[k] = 0.001
		}
	}

	eval := func(x []float64) float64 {
		cand := make([]float64, engine.DeformLen)
		copy(cand, def)
		for k, pi := range params {
			cand[pi] = x[k]
		}
		g := z.Gamma(cand)
		if g < 0 {
			return math.Inf(1)
		}
		return g
	}

	best, iters, converged := nelderMead(eval, start, steps, p.MaxSolverIterationsRobust, p.RobustSolverTolerance)
	for k, pi := range params {
		def[pi] = best[k]
	}
	if !converged {
		return iters, engine.CorrelationFailed, nil
	}
	return iters, engine.CorrelationSuccessful, nil
}
