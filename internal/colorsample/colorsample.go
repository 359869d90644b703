// Package colorsample reads average patch colors from the timed snapshots and
// reports how much the supernatant brightened between them.
package colorsample

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"settlecam/internal/services"
)

// Point is a pixel coordinate to sample around.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// RGB is an averaged 8-bit color patch.
type RGB struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// Brightness is the mean of the three channels.
func (c RGB) Brightness() float64 {
	return (c.R + c.G + c.B) / 3
}

// Comparison holds the per-point colors of two snapshots and the brightness
// change between them. Positive deltas mean the later snapshot is brighter.
type Comparison struct {
	EarlyTop    RGB     `json:"early_top"`
	EarlyBottom RGB     `json:"early_bottom"`
	LateTop     RGB     `json:"late_top"`
	LateBottom  RGB     `json:"late_bottom"`
	TopDelta    float64 `json:"top_delta"`
	BottomDelta float64 `json:"bottom_delta"`
}

// Sampler averages square patches of a fixed radius.
type Sampler struct {
	radius int
}

// NewSampler returns a sampler with the given patch radius in pixels. Radius
// zero samples a single pixel.
func NewSampler(radius int) *Sampler {
	if radius < 0 {
		radius = 0
	}
	return &Sampler{radius: radius}
}

// Patch averages the pixels within radius of p, clamped to the image bounds.
// A patch that falls entirely outside the image averages to black.
func (s *Sampler) Patch(img image.Image, p Point) RGB {
	bounds := img.Bounds()
	x1 := max(bounds.Min.X, p.X-s.radius)
	x2 := min(bounds.Max.X, p.X+s.radius+1)
	y1 := max(bounds.Min.Y, p.Y-s.radius)
	y2 := min(bounds.Max.Y, p.Y+s.radius+1)
	if x1 >= x2 || y1 >= y2 {
		return RGB{}
	}

	var sumR, sumG, sumB float64
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			sumR += float64(r >> 8)
			sumG += float64(g >> 8)
			sumB += float64(b >> 8)
		}
	}
	n := float64((x2 - x1) * (y2 - y1))
	return RGB{R: sumR / n, G: sumG / n, B: sumB / n}
}

// Compare samples the top and bottom points in both snapshots and reports the
// brightness deltas from early to late.
func (s *Sampler) Compare(earlyPath, latePath string, top, bottom Point) (*Comparison, error) {
	early, err := loadImage(earlyPath)
	if err != nil {
		return nil, err
	}
	late, err := loadImage(latePath)
	if err != nil {
		return nil, err
	}

	cmp := &Comparison{
		EarlyTop:    s.Patch(early, top),
		EarlyBottom: s.Patch(early, bottom),
		LateTop:     s.Patch(late, top),
		LateBottom:  s.Patch(late, bottom),
	}
	cmp.TopDelta = cmp.LateTop.Brightness() - cmp.EarlyTop.Brightness()
	cmp.BottomDelta = cmp.LateBottom.Brightness() - cmp.EarlyBottom.Brightness()
	return cmp, nil
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "colorsample", "load_image",
			fmt.Sprintf("open %s", path), err)
	}
	defer file.Close()

	var img image.Image
	if strings.EqualFold(filepath.Ext(path), ".png") {
		img, err = png.Decode(file)
	} else {
		img, err = jpeg.Decode(file)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "colorsample", "load_image",
			fmt.Sprintf("decode %s", path), err)
	}
	return img, nil
}
