// Package imageio loads grayscale images for correlation via ImageMagick,
// with optional Gauss filtering, fixed-angle rotation, and gradient
// computation.
package imageio

import (
	"fmt"

	"gopkg.in/gographics/imagick.v3/imagick"

	"dicengine/internal/config"
)

// gaussSigma is the blur width applied when Gauss filtering is enabled.
const gaussSigma = 1.0

// Initialize must be called once before any image is loaded.
func Initialize() { imagick.Initialize() }

// Terminate releases the ImageMagick environment.
func Terminate() { imagick.Terminate() }

// Image is a grayscale intensity plane, optionally with central-difference
// gradients. It satisfies the engine's image interfaces.
type Image struct {
	width  int
	height int
	pixels []float64
	gradX  []float64
	gradY  []float64
}

// LoadOptions control how an image is prepared for correlation.
type LoadOptions struct {
	GaussFilter      bool
	ComputeGradients bool
	Rotation         config.Rotation
}

// Load reads an image file and converts it to a grayscale intensity plane in
// the range [0, 255].
func Load(path string, opts LoadOptions) (*Image, error) {
	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(path); err != nil {
		return nil, fmt.Errorf("read image %s: %w", path, err)
	}

	if opts.Rotation != config.ZeroDegrees {
		pw := imagick.NewPixelWand()
		defer pw.Destroy()
		var degrees float64
		switch opts.Rotation {
		case config.NinetyDegrees:
			degrees = 90
		case config.OneEightyDegrees:
			degrees = 180
		case config.TwoSeventyDegrees:
			degrees = 270
		}
		if err := mw.RotateImage(pw, degrees); err != nil {
			return nil, fmt.Errorf("rotate image %s by %v: %w", path, degrees, err)
		}
	}

	if opts.GaussFilter {
		if err := mw.GaussianBlurImage(0, gaussSigma); err != nil {
			return nil, fmt.Errorf("gauss filter %s: %w", path, err)
		}
	}

	width := int(mw.GetImageWidth())
	height := int(mw.GetImageHeight())
	raw, err := mw.ExportImagePixels(0, 0, uint(width), uint(height), "I", imagick.PIXEL_FLOAT)
	if err != nil {
		return nil, fmt.Errorf("export pixels %s: %w", path, err)
	}
	floats, ok := raw.([]float32)
	if !ok {
		return nil, fmt.Errorf("export pixels %s: unexpected pixel type %T", path, raw)
	}

	pixels := make([]float64, len(floats))
	for i, v := range floats {
		pixels[i] = float64(v) * 255.0
	}
	img := &Image{width: width, height: height, pixels: pixels}
	if opts.ComputeGradients {
		img.computeGradients()
	}
	return img, nil
}

// FromIntensities wraps an existing row-major intensity plane. Used by tests
// and synthetic sources.
func FromIntensities(width, height int, pixels []float64, withGradients bool) (*Image, error) {
	if len(pixels) != width*height {
		return nil, fmt.Errorf("imageio: %d pixels for %dx%d image", len(pixels), width, height)
	}
	img := &Image{width: width, height: height, pixels: pixels}
	if withGradients {
		img.computeGradients()
	}
	return img, nil
}

func (im *Image) Width() int  { return im.width }
func (im *Image) Height() int { return im.height }

// Intensity returns the grayscale value at (x, y).
func (im *Image) Intensity(x, y int) float64 {
	return im.pixels[y*im.width+x]
}

// HasGradients reports whether gradient planes were computed.
func (im *Image) HasGradients() bool { return im.gradX != nil }

// GradX returns the x intensity gradient at (x, y).
func (im *Image) GradX(x, y int) float64 { return im.gradX[y*im.width+x] }

// GradY returns the y intensity gradient at (x, y).
func (im *Image) GradY(x, y int) float64 { return im.gradY[y*im.width+x] }

// computeGradients fills central-difference gradient planes, one-sided at
// the borders.
func (im *Image) computeGradients() {
	im.gradX = make([]float64, len(im.pixels))
	im.gradY = make([]float64, len(im.pixels))
	for y := 0; y < im.height; y++ {
		for x := 0; x < im.width; x++ {
			i := y*im.width + x
			switch {
			case x == 0:
				im.gradX[i] = im.Intensity(x+1, y) - im.Intensity(x, y)
			case x == im.width-1:
				im.gradX[i] = im.Intensity(x, y) - im.Intensity(x-1, y)
			default:
				im.gradX[i] = 0.5 * (im.Intensity(x+1, y) - im.Intensity(x-1, y))
			}
			switch {
			case y == 0:
				im.gradY[i] = im.Intensity(x, y+1) - im.Intensity(x, y)
			case y == im.height-1:
				im.gradY[i] = im.Intensity(x, y) - im.Intensity(x, y-1)
			default:
				im.gradY[i] = 0.5 * (im.Intensity(x, y+1) - im.Intensity(x, y-1))
			}
		}
	}
}
