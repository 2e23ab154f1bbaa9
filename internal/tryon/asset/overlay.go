// Package asset provides the overlay images and the product catalogue they
// belong to.
package asset

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/glasster/glasster/internal/tryon/geometry"
)

// Overlay is an eyewear image with its intrinsic size. An Overlay without
// an image is a placeholder for one that is still loading.
type Overlay struct {
	ID          string
	Image       image.Image
	PixelWidth  int
	PixelHeight int
	Sizing      geometry.Sizing
}

func NewOverlay(id string, img image.Image, sizing geometry.Sizing) *Overlay {
	o := &Overlay{ID: id, Image: img, Sizing: sizing}
	if img != nil {
		b := img.Bounds()
		o.PixelWidth, o.PixelHeight = b.Dx(), b.Dy()
	}
	return o
}

// Decode reads a PNG or JPEG overlay.
func Decode(id string, r io.Reader, sizing geometry.Sizing) (*Overlay, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode overlay %q: %w", id, err)
	}
	o := NewOverlay(id, img, sizing)
	if !o.Ready() {
		return nil, fmt.Errorf("%w: overlay %q is %dx%d", ErrEmptyImage, id, o.PixelWidth, o.PixelHeight)
	}
	return o, nil
}

func (o *Overlay) Ready() bool {
	return o != nil && o.Image != nil && o.PixelWidth > 0 && o.PixelHeight > 0
}

// AspectRatio is height/width of the image, or fallback while the size is
// unknown.
func (o *Overlay) AspectRatio(fallback float64) float64 {
	if o == nil || o.PixelWidth <= 0 || o.PixelHeight <= 0 {
		return fallback
	}
	return float64(o.PixelHeight) / float64(o.PixelWidth)
}
