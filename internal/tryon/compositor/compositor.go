// Package compositor draws an overlay image onto a render surface using a
// placement as an affine transform.
package compositor

import (
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/glasster/glasster/internal/tryon/geometry"
)

type Option func(*Compositor)

// WithInterpolator selects the resampling kernel. Defaults to bilinear.
func WithInterpolator(i draw.Interpolator) Option {
	return func(c *Compositor) {
		c.interp = i
	}
}

type Compositor struct {
	interp draw.Interpolator
}

func New(opts ...Option) *Compositor {
	c := &Compositor{interp: draw.BiLinear}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Render clears dst and, when both overlay and placement are present, draws
// overlay centered at the placement, scaled to its size and rotated about
// its own center.
func (c *Compositor) Render(dst *Surface, overlay image.Image, p *geometry.Placement) {
	dst.Clear()
	if overlay == nil || p == nil {
		return
	}
	sr := overlay.Bounds()
	if sr.Empty() || !(p.Width > 0) || !(p.Height > 0) {
		return
	}
	c.interp.Transform(dst.Image(), Transform(sr, *p), overlay, sr, draw.Over, nil)
}

// Transform maps source pixel coordinates of an image with bounds sr onto the
// surface: translate(center) * rotate(angle) * scale * translate(-srcCenter).
func Transform(sr image.Rectangle, p geometry.Placement) f64.Aff3 {
	sw, sh := float64(sr.Dx()), float64(sr.Dy())
	kx, ky := p.Width/sw, p.Height/sh
	sin, cos := math.Sincos(p.Angle)

	a, b := cos*kx, -sin*ky
	d, e := sin*kx, cos*ky

	srcCX := float64(sr.Min.X) + sw/2
	srcCY := float64(sr.Min.Y) + sh/2

	return f64.Aff3{
		a, b, p.CenterX - (a*srcCX + b*srcCY),
		d, e, p.CenterY - (d*srcCX + e*srcCY),
	}
}

// Snapshot flattens the overlay layer onto a still photo scaled to the
// layer's size.
func (c *Compositor) Snapshot(background image.Image, layer *Surface) *image.RGBA {
	out := image.NewRGBA(layer.Image().Bounds())
	if background != nil {
		c.interp.Scale(out, out.Bounds(), background, background.Bounds(), draw.Src, nil)
	}
	draw.Draw(out, out.Bounds(), layer.Image(), image.Point{}, draw.Over)
	return out
}
