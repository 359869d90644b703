package vision

import "image"

// OtsuThreshold computes the intensity threshold maximizing between-class
// variance over the histogram.
func OtsuThreshold(hist [256]int) uint8 {
	total := 0
	for _, count := range hist {
		total += count
	}
	if total == 0 {
		return 0
	}

	var sum float64
	for v, count := range hist {
		sum += float64(v) * float64(count)
	}

	var (
		sumBackground float64
		weightBack    int
		bestThreshold uint8
		bestVariance  float64
	)
	for v := 0; v < 256; v++ {
		weightBack += hist[v]
		if weightBack == 0 {
			continue
		}
		weightFore := total - weightBack
		if weightFore == 0 {
			break
		}
		sumBackground += float64(v) * float64(hist[v])

		meanBack := sumBackground / float64(weightBack)
		meanFore := (sum - sumBackground) / float64(weightFore)
		diff := meanBack - meanFore
		variance := float64(weightBack) * float64(weightFore) * diff * diff
		if variance > bestVariance {
			bestVariance = variance
			bestThreshold = uint8(v)
		}
	}
	return bestThreshold
}

// Binarize thresholds the image: intensities above the threshold become white
// (clear liquid), the rest black (settled solids).
func Binarize(img *image.Gray, threshold uint8) *image.Gray {
	bounds := img.Bounds()
	out := image.NewGray(bounds)
	for i, v := range img.Pix {
		if v > threshold {
			out.Pix[i] = 255
		}
	}
	return out
}
