package vision

import (
	"image"
	"math"
	"sort"

	"settlecam/internal/config"
)

// Confidence classifies how trustworthy a frame's detection is.
type Confidence string

const (
	// Detected means enough scan columns agreed on the interface.
	Detected Confidence = "detected"
	// LowConfidence means fewer columns survived rejection than the
	// configured minimum; the value is reported but flagged.
	LowConfidence Confidence = "low_confidence"
	// NoInterface means no column found a sustained dark run; the solids
	// have not separated from the mixture yet.
	NoInterface Confidence = "no_interface"
)

// Dot is one scan column's detected interface position.
type Dot struct {
	X      int
	Y      int
	Column int
}

// FrameResult holds the per-frame detection outcome.
type FrameResult struct {
	MixtureTopY     int
	InterfaceY      int
	SettledFraction float64
	Confidence      Confidence
	FiredColumns    int
	Survivors       int
	Used            int
	Threshold       uint8
}

// Detector runs interface detection with a fixed parameter set.
type Detector struct {
	params config.Detection
}

// NewDetector builds a Detector from the detection configuration.
func NewDetector(params config.Detection) *Detector {
	return &Detector{params: params}
}

// MixtureTop locates the top surface of the mixture on a frame by finding the
// sharpest bright-to-dark transition in per-row mean brightness within the
// configured top fraction of the image.
func (d *Detector) MixtureTop(img *image.Gray) int {
	bounds := img.Bounds()
	h := bounds.Dy()
	w := bounds.Dx()
	if h < 2 || w == 0 {
		return 0
	}

	searchRows := int(float64(h) * d.params.SearchRegion)
	if searchRows < 2 {
		searchRows = 2
	}
	if searchRows > h {
		searchRows = h
	}

	brightness := make([]float64, searchRows)
	for y := 0; y < searchRows; y++ {
		sum := 0
		offset := img.PixOffset(bounds.Min.X, bounds.Min.Y+y)
		for _, v := range img.Pix[offset : offset+w] {
			sum += int(v)
		}
		brightness[y] = float64(sum) / float64(w)
	}

	dropRow := 0
	biggestDrop := math.Inf(1)
	for y := 0; y < searchRows-1; y++ {
		gradient := brightness[y+1] - brightness[y]
		if gradient < biggestDrop {
			biggestDrop = gradient
			dropRow = y
		}
	}
	return dropRow + 1
}

// ProcessFrame binarizes a masked frame and locates the interface below the
// given mixture top.
func (d *Detector) ProcessFrame(img *image.Gray, mixtureTopY int) FrameResult {
	threshold := OtsuThreshold(Histogram(img))
	binary := Binarize(img, threshold)

	dots := d.scanColumns(binary, mixtureTopY)
	survivors := d.rejectOutliers(dots)

	result := FrameResult{
		MixtureTopY:  mixtureTopY,
		FiredColumns: len(dots),
		Survivors:    len(survivors),
		Threshold:    threshold,
	}

	h := img.Bounds().Dy()
	if len(survivors) == 0 {
		// Nothing settled yet: the interface sits at the mixture top.
		result.InterfaceY = mixtureTopY
		result.Confidence = NoInterface
		result.SettledFraction = settledFraction(mixtureTopY, mixtureTopY, h)
		return result
	}

	averaged, used := trimmedAverage(survivors)
	result.InterfaceY = averaged
	result.Used = used
	result.SettledFraction = settledFraction(mixtureTopY, averaged, h)
	if len(survivors) < d.params.MinSurvivors {
		result.Confidence = LowConfidence
	} else {
		result.Confidence = Detected
	}
	return result
}

// scanColumns walks evenly spaced columns top-down looking for the first run
// of consecutive dark pixels. The outermost columns are skipped because the
// container walls reflect light there.
func (d *Detector) scanColumns(binary *image.Gray, mixtureTopY int) []Dot {
	bounds := binary.Bounds()
	h := bounds.Dy()
	w := bounds.Dx()

	maxSearchY := int(float64(h) * d.params.MaxDepthPct / 100)
	if maxSearchY > h {
		maxSearchY = h
	}
	minY := mixtureTopY + d.params.MinGapPx
	columns := d.params.ScanColumns
	if columns < 3 || w < columns {
		return nil
	}

	var dots []Dot
	for i := 0; i < columns; i++ {
		if i == 0 || i == columns-1 {
			continue
		}
		x := int(float64(i) * float64(w-1) / float64(columns-1))

		for y := minY; y < maxSearchY; y++ {
			if binary.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y != 0 {
				continue
			}
			if y+d.params.ConsecutivePx >= h {
				break
			}
			sustained := true
			for offset := 0; offset < d.params.ConsecutivePx; offset++ {
				if binary.GrayAt(bounds.Min.X+x, bounds.Min.Y+y+offset).Y != 0 {
					sustained = false
					break
				}
			}
			if sustained {
				dots = append(dots, Dot{X: x, Y: y, Column: i + 1})
				break
			}
		}
	}
	return dots
}

// rejectOutliers removes columns far from consensus in two stages: first
// against the median of all fired columns with the extreme threshold, then
// against the recomputed median with the moderate threshold.
func (d *Detector) rejectOutliers(dots []Dot) []Dot {
	if len(dots) == 0 {
		return nil
	}

	ys := make([]float64, len(dots))
	for i, dot := range dots {
		ys[i] = float64(dot.Y)
	}
	med := median(ys)

	stage1 := dots[:0:0]
	for _, dot := range dots {
		if math.Abs(float64(dot.Y)-med) <= d.params.OutlierExtremePx {
			stage1 = append(stage1, dot)
		}
	}
	if len(stage1) == 0 {
		return nil
	}

	ys = ys[:0]
	for _, dot := range stage1 {
		ys = append(ys, float64(dot.Y))
	}
	med = median(ys)

	final := stage1[:0:0]
	for _, dot := range stage1 {
		if math.Abs(float64(dot.Y)-med) <= d.params.OutlierModeratePx {
			final = append(final, dot)
		}
	}
	return final
}

// trimmedAverage averages the survivors after symmetric trimming: 6 keeps
// all, 7 drops the single value farthest from the median, 8 drops one from
// each end, 9 or more drops two from each end. Fewer than 6 survivors are
// averaged as-is.
func trimmedAverage(dots []Dot) (int, int) {
	sorted := make([]Dot, len(dots))
	copy(sorted, dots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Y < sorted[j].Y })

	var trimmed []Dot
	switch n := len(sorted); {
	case n <= 6:
		trimmed = sorted
	case n == 7:
		ys := make([]float64, n)
		for i, dot := range sorted {
			ys[i] = float64(dot.Y)
		}
		med := median(ys)
		if math.Abs(float64(sorted[0].Y)-med) > math.Abs(float64(sorted[n-1].Y)-med) {
			trimmed = sorted[1:]
		} else {
			trimmed = sorted[:n-1]
		}
	case n == 8:
		trimmed = sorted[1 : n-1]
	default:
		trimmed = sorted[2 : n-2]
	}

	ys := make([]float64, len(trimmed))
	for i, dot := range trimmed {
		ys[i] = float64(dot.Y)
	}
	return int(mean(ys)), len(trimmed)
}

// settledFraction maps the interface position to the settled fraction of the
// mixture column, clamped to [0, 1].
func settledFraction(mixtureTopY, interfaceY, height int) float64 {
	total := height - mixtureTopY
	if total <= 0 {
		return 0
	}
	fraction := float64(interfaceY-mixtureTopY) / float64(total)
	if fraction < 0 {
		return 0
	}
	if fraction > 1 {
		return 1
	}
	return fraction
}
