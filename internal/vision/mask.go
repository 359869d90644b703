package vision

import (
	"fmt"
	"image"

	"settlecam/internal/services"
)

// Mask marks the container pixels within the cropped region. Background
// pixels (anything that is not the container and its contents) are excluded
// from detection so reflections and rig hardware cannot fire scan columns.
type Mask struct {
	bits   []bool
	bounds image.Rectangle
	// CoveragePct is the fraction of the region the mask keeps, in percent.
	CoveragePct float64
}

// BuildMask derives the container mask from a reference frame. The reference
// frame is segmented with Otsu's threshold and the mask keeps the class that
// dominates the central third of the region, where the container is by
// calibration. Coverage outside [minPct, maxPct] means the segmentation
// failed (empty scene, lens blocked, lighting fault) and the run cannot be
// trusted.
func BuildMask(reference *image.Gray, minPct, maxPct float64) (*Mask, error) {
	bounds := reference.Bounds()
	if bounds.Empty() {
		return nil, services.Wrap(services.ErrValidation, "processing", "build mask", "empty reference frame", nil)
	}

	threshold := OtsuThreshold(Histogram(reference))

	// Decide which Otsu class is the container by majority vote over the
	// central third of the region.
	centerLow := bounds.Min.X + bounds.Dx()/3
	centerHigh := bounds.Max.X - bounds.Dx()/3
	above := 0
	center := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := centerLow; x < centerHigh; x++ {
			center++
			if reference.GrayAt(x, y).Y > threshold {
				above++
			}
		}
	}
	containerAbove := center > 0 && above*2 >= center

	mask := &Mask{bits: make([]bool, bounds.Dx()*bounds.Dy()), bounds: bounds}
	kept := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			isAbove := reference.GrayAt(x, y).Y > threshold
			if isAbove == containerAbove {
				mask.bits[(y-bounds.Min.Y)*bounds.Dx()+(x-bounds.Min.X)] = true
				kept++
			}
		}
	}

	mask.CoveragePct = 100 * float64(kept) / float64(len(mask.bits))
	if mask.CoveragePct < minPct || mask.CoveragePct > maxPct {
		return nil, services.Wrap(services.ErrValidation, "processing", "build mask",
			fmt.Sprintf("mask coverage %.1f%% outside [%.1f%%, %.1f%%]", mask.CoveragePct, minPct, maxPct), nil)
	}
	return mask, nil
}

// Contains reports whether the pixel belongs to the container.
func (m *Mask) Contains(x, y int) bool {
	if !image.Pt(x, y).In(m.bounds) {
		return false
	}
	return m.bits[(y-m.bounds.Min.Y)*m.bounds.Dx()+(x-m.bounds.Min.X)]
}

// Apply zeroes every pixel outside the mask. The input image must share the
// mask's bounds.
func (m *Mask) Apply(img *image.Gray) (*image.Gray, error) {
	if img.Bounds() != m.bounds {
		return nil, services.Wrap(services.ErrValidation, "processing", "apply mask",
			fmt.Sprintf("frame bounds %v do not match mask bounds %v", img.Bounds(), m.bounds), nil)
	}
	out := image.NewGray(m.bounds)
	copy(out.Pix, img.Pix)
	for y := m.bounds.Min.Y; y < m.bounds.Max.Y; y++ {
		for x := m.bounds.Min.X; x < m.bounds.Max.X; x++ {
			if !m.Contains(x, y) {
				out.Pix[out.PixOffset(x, y)] = 0
			}
		}
	}
	return out, nil
}
