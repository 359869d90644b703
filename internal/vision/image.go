package vision

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"settlecam/internal/services"
)

// LoadGray reads an image file and converts it to 8-bit grayscale.
func LoadGray(path string) (*image.Gray, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "processing", "load frame", path, err)
	}
	defer file.Close()

	var decoded image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		decoded, err = png.Decode(file)
	default:
		decoded, err = jpeg.Decode(file)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "processing", "decode frame", path, err)
	}
	return ToGray(decoded), nil
}

// ToGray converts any decoded image to 8-bit grayscale.
func ToGray(src image.Image) *image.Gray {
	if gray, ok := src.(*image.Gray); ok {
		return gray
	}
	bounds := src.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(src.At(x, y)))
		}
	}
	return gray
}

// Crop copies the given region out of the image. The region is clamped to the
// image bounds; an empty intersection is an error since it means the
// calibrated region of interest does not match the camera geometry.
func Crop(src *image.Gray, region image.Rectangle) (*image.Gray, error) {
	clipped := region.Intersect(src.Bounds())
	if clipped.Empty() {
		return nil, services.Wrap(services.ErrConfiguration, "processing", "crop",
			fmt.Sprintf("region %v outside image bounds %v", region, src.Bounds()), nil)
	}
	out := image.NewGray(image.Rect(0, 0, clipped.Dx(), clipped.Dy()))
	for y := 0; y < clipped.Dy(); y++ {
		srcRow := src.PixOffset(clipped.Min.X, clipped.Min.Y+y)
		copy(out.Pix[y*out.Stride:y*out.Stride+clipped.Dx()], src.Pix[srcRow:srcRow+clipped.Dx()])
	}
	return out, nil
}

// Histogram counts pixel intensities.
func Histogram(img *image.Gray) [256]int {
	var hist [256]int
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row := img.Pix[img.PixOffset(bounds.Min.X, y) : img.PixOffset(bounds.Min.X, y)+bounds.Dx()]
		for _, v := range row {
			hist[v]++
		}
	}
	return hist
}
