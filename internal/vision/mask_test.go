package vision

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"settlecam/internal/services"
)

// grayRect fills columns [x0, x1) with the given intensity.
func grayRect(img *image.Gray, x0, x1 int, value uint8) {
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := x0; x < x1; x++ {
			img.SetGray(x, y, color.Gray{Y: value})
		}
	}
}

func TestOtsuSplitsBimodalHistogram(t *testing.T) {
	var hist [256]int
	hist[40] = 1000
	hist[200] = 1000

	threshold := OtsuThreshold(hist)
	if threshold < 40 || threshold >= 200 {
		t.Fatalf("threshold %d does not separate modes at 40 and 200", threshold)
	}
}

func TestOtsuEmptyHistogram(t *testing.T) {
	var hist [256]int
	if got := OtsuThreshold(hist); got != 0 {
		t.Fatalf("expected 0 for empty histogram, got %d", got)
	}
}

func TestOtsuSingleModeHistogram(t *testing.T) {
	var hist [256]int
	hist[128] = 5000

	// A single intensity has no between-class split to prefer.
	if got := OtsuThreshold(hist); got > 128 {
		t.Fatalf("threshold %d above the only populated bin", got)
	}
}

func TestBinarizeUsesStrictGreaterThan(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 1))
	img.Pix[0] = 99
	img.Pix[1] = 100
	img.Pix[2] = 101

	out := Binarize(img, 100)
	if out.Pix[0] != 0 || out.Pix[1] != 0 || out.Pix[2] != 255 {
		t.Fatalf("unexpected binarization %v", out.Pix)
	}
}

func TestBuildMaskKeepsContainerClass(t *testing.T) {
	// Container occupies the central 60 of 100 columns, brighter than the
	// background.
	img := image.NewGray(image.Rect(0, 0, 100, 50))
	grayRect(img, 0, 20, 10)
	grayRect(img, 20, 80, 180)
	grayRect(img, 80, 100, 10)

	mask, err := BuildMask(img, 5, 95)
	if err != nil {
		t.Fatalf("BuildMask: %v", err)
	}
	if !mask.Contains(50, 25) {
		t.Fatal("expected container center inside mask")
	}
	if mask.Contains(5, 25) || mask.Contains(95, 25) {
		t.Fatal("expected background columns outside mask")
	}
	if mask.CoveragePct < 55 || mask.CoveragePct > 65 {
		t.Fatalf("coverage %.1f%% outside expected band", mask.CoveragePct)
	}
}

func TestBuildMaskKeepsDarkContainer(t *testing.T) {
	// Dark vessel against a bright bench. The majority vote over the central
	// third must still pick the container class.
	img := image.NewGray(image.Rect(0, 0, 100, 50))
	grayRect(img, 0, 20, 220)
	grayRect(img, 20, 80, 40)
	grayRect(img, 80, 100, 220)

	mask, err := BuildMask(img, 5, 95)
	if err != nil {
		t.Fatalf("BuildMask: %v", err)
	}
	if !mask.Contains(50, 25) {
		t.Fatal("expected dark container center inside mask")
	}
	if mask.Contains(5, 25) {
		t.Fatal("expected bright background outside mask")
	}
}

func TestBuildMaskRejectsCoverageOutsideGate(t *testing.T) {
	// A uniform frame segments into a single class covering everything.
	img := image.NewGray(image.Rect(0, 0, 100, 50))
	grayRect(img, 0, 100, 128)

	_, err := BuildMask(img, 5, 95)
	if err == nil {
		t.Fatal("expected coverage gate rejection")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBuildMaskRejectsEmptyFrame(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 0, 0))
	if _, err := BuildMask(img, 5, 95); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestApplyZeroesBackground(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 100, 50))
	grayRect(img, 0, 20, 10)
	grayRect(img, 20, 80, 180)
	grayRect(img, 80, 100, 10)

	mask, err := BuildMask(img, 5, 95)
	if err != nil {
		t.Fatalf("BuildMask: %v", err)
	}

	frame := image.NewGray(image.Rect(0, 0, 100, 50))
	grayRect(frame, 0, 100, 200)
	masked, err := mask.Apply(frame)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := masked.GrayAt(5, 25).Y; got != 0 {
		t.Fatalf("expected background zeroed, got %d", got)
	}
	if got := masked.GrayAt(50, 25).Y; got != 200 {
		t.Fatalf("expected container preserved, got %d", got)
	}
}

func TestApplyRejectsMismatchedBounds(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 100, 50))
	grayRect(img, 20, 80, 180)

	mask, err := BuildMask(img, 5, 95)
	if err != nil {
		t.Fatalf("BuildMask: %v", err)
	}

	other := image.NewGray(image.Rect(0, 0, 50, 50))
	if _, err := mask.Apply(other); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
