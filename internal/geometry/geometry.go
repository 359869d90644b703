// Package geometry converts pixel measurements into physical units using the
// calibrated container dimensions.
package geometry

import (
	"fmt"
	"image"

	"settlecam/internal/config"
	"settlecam/internal/services"
	"settlecam/internal/vision"
)

// Measurement is a per-sample physical reading derived from a detection.
type Measurement struct {
	SampleIndex     int
	MixtureTopYPx   int
	InterfaceYPx    int
	ImageHeightPx   int
	MixtureHeightMM float64
	SludgeHeightMM  float64
	ClearHeightMM   float64
	SettledFraction float64
	LowConfidence   bool
}

// Calibrator maps vertical pixel distances to millimeters. The scale is fixed
// per camera mounting: the container's known height spans the full cropped
// image height.
type Calibrator struct {
	mmPerPixel float64
	minMM      float64
	maxMM      float64
}

// NewCalibrator derives the pixel scale from the container height and the
// cropped image height.
func NewCalibrator(cfg config.Geometry, imageHeightPx int) (*Calibrator, error) {
	if imageHeightPx <= 0 {
		return nil, services.Wrap(services.ErrValidation, "processing", "calibrate", "image height must be positive", nil)
	}
	return &Calibrator{
		mmPerPixel: cfg.ContainerHeightMM / float64(imageHeightPx),
		minMM:      cfg.MinPhysicalMM,
		maxMM:      cfg.MaxPhysicalMM,
	}, nil
}

// MMPerPixel exposes the derived scale.
func (c *Calibrator) MMPerPixel() float64 {
	return c.mmPerPixel
}

// ToMM converts a vertical pixel distance to millimeters.
func (c *Calibrator) ToMM(pixels int) float64 {
	return float64(pixels) * c.mmPerPixel
}

// Measure converts a frame detection into physical heights. A height outside
// the physically possible range for the container aborts the run: that is a
// calibration or mounting fault, not detection noise.
func (c *Calibrator) Measure(index int, result vision.FrameResult, imageHeightPx int) (Measurement, error) {
	mixtureHeight := c.ToMM(imageHeightPx - result.MixtureTopY)
	sludgeHeight := c.ToMM(imageHeightPx - result.InterfaceY)
	clearHeight := c.ToMM(result.InterfaceY - result.MixtureTopY)

	for _, check := range []struct {
		name  string
		value float64
	}{
		{"mixture height", mixtureHeight},
		{"sludge height", sludgeHeight},
	} {
		if check.value < c.minMM || check.value > c.maxMM {
			return Measurement{}, services.Wrap(services.ErrValidation, "processing", "calibrate",
				fmt.Sprintf("%s %.2fmm outside physical range [%.1f, %.1f]mm; check camera mounting", check.name, check.value, c.minMM, c.maxMM), nil)
		}
	}

	return Measurement{
		SampleIndex:     index,
		MixtureTopYPx:   result.MixtureTopY,
		InterfaceYPx:    result.InterfaceY,
		ImageHeightPx:   imageHeightPx,
		MixtureHeightMM: mixtureHeight,
		SludgeHeightMM:  sludgeHeight,
		ClearHeightMM:   clearHeight,
		SettledFraction: result.SettledFraction,
		LowConfidence:   result.Confidence != vision.Detected,
	}, nil
}

// ROI returns the configured crop region.
func ROI(cfg config.Geometry) image.Rectangle {
	return image.Rect(cfg.ROIX, cfg.ROIY, cfg.ROIX+cfg.ROIWidth, cfg.ROIY+cfg.ROIHeight)
}
