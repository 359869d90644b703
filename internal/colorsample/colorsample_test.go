package colorsample

import (
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"testing"

	"settlecam/internal/services"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func writeJPEG(t *testing.T, path string, img image.Image) {
	t.Helper()
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer file.Close()
	if err := jpeg.Encode(file, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func TestPatchAveragesUniformRegion(t *testing.T) {
	img := solid(40, 40, color.RGBA{R: 120, G: 80, B: 200, A: 255})
	got := NewSampler(3).Patch(img, Point{X: 20, Y: 20})
	if got.R != 120 || got.G != 80 || got.B != 200 {
		t.Fatalf("patch = %+v, want 120/80/200", got)
	}
}

func TestPatchClampsToBounds(t *testing.T) {
	img := solid(10, 10, color.RGBA{R: 50, G: 50, B: 50, A: 255})
	got := NewSampler(5).Patch(img, Point{X: 0, Y: 0})
	if got.R != 50 {
		t.Fatalf("clamped patch R = %v, want 50", got.R)
	}
}

func TestPatchOutsideImageIsBlack(t *testing.T) {
	img := solid(10, 10, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	got := NewSampler(2).Patch(img, Point{X: 100, Y: 100})
	if got != (RGB{}) {
		t.Fatalf("out-of-bounds patch = %+v, want zero", got)
	}
}

func TestCompareReportsBrightnessDeltas(t *testing.T) {
	dir := t.TempDir()
	earlyPath := filepath.Join(dir, "cam2_t2.jpg")
	latePath := filepath.Join(dir, "cam2_t33.jpg")

	// Murky early frame, clear top half late.
	writeJPEG(t, earlyPath, solid(64, 64, color.RGBA{R: 60, G: 60, B: 60, A: 255}))
	late := solid(64, 64, color.RGBA{R: 60, G: 60, B: 60, A: 255})
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			late.SetRGBA(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	writeJPEG(t, latePath, late)

	cmp, err := NewSampler(4).Compare(earlyPath, latePath, Point{X: 32, Y: 10}, Point{X: 32, Y: 54})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if cmp.TopDelta < 100 {
		t.Fatalf("top delta = %v, want clear-liquid brightening over 100", cmp.TopDelta)
	}
	if math.Abs(cmp.BottomDelta) > 20 {
		t.Fatalf("bottom delta = %v, want sludge layer roughly unchanged", cmp.BottomDelta)
	}
}

func TestCompareMissingSnapshot(t *testing.T) {
	dir := t.TempDir()
	earlyPath := filepath.Join(dir, "cam2_t2.jpg")
	writeJPEG(t, earlyPath, solid(8, 8, color.RGBA{A: 255}))

	_, err := NewSampler(2).Compare(earlyPath, filepath.Join(dir, "missing.jpg"), Point{}, Point{})
	if err == nil {
		t.Fatal("expected error for missing snapshot")
	}
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("error = %v, want not-found marker", err)
	}
}
