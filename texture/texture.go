// Package texture decodes image files into tightly packed RGBA8 pixels.
package texture

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is row-major RGBA8 pixel data, 4 bytes per pixel, no row padding.
type Image struct {
	Pixels []byte
	Width  int
	Height int
}

// Decode reads a PNG, JPEG, BMP, TIFF or WebP image.
func Decode(r io.Reader) (*Image, error) {
	decoded, format, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "decoding texture")
	}

	bounds := decoded.Bounds()
	if bounds.Empty() {
		return nil, errors.Newf("%s texture has no pixels", format)
	}

	rgba, ok := decoded.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*4 || bounds.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), decoded, bounds.Min, draw.Src)
	}

	return &Image{
		Pixels: rgba.Pix,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

func Load(path string) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, err := Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	return img, nil
}
