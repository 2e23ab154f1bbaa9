package compositor

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glasster/glasster/internal/tryon/geometry"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

var red = color.NRGBA{R: 255, A: 255}

func alphaAt(s *Surface, x, y int) uint8 {
	return s.Image().RGBAAt(x, y).A
}

func TestRenderCentersAndScales(t *testing.T) {
	s := NewSurface(geometry.Viewport{Width: 100, Height: 100})
	c := New()

	c.Render(s, solid(10, 4, red), &geometry.Placement{CenterX: 50, CenterY: 50, Width: 20, Height: 8})

	center := s.Image().RGBAAt(50, 50)
	assert.Equal(t, uint8(255), center.R)
	assert.Equal(t, uint8(255), center.A)

	assert.Equal(t, uint8(255), alphaAt(s, 42, 50), "inside the scaled width")
	assert.Equal(t, uint8(0), alphaAt(s, 35, 50), "beyond the scaled width")
	assert.Equal(t, uint8(0), alphaAt(s, 50, 60), "beyond the scaled height")
	assert.Equal(t, uint8(0), alphaAt(s, 5, 5))
}

func TestRenderRotatesAboutCenter(t *testing.T) {
	s := NewSurface(geometry.Viewport{Width: 100, Height: 100})
	c := New()

	c.Render(s, solid(10, 4, red), &geometry.Placement{CenterX: 50, CenterY: 50, Width: 20, Height: 8, Angle: math.Pi / 2})

	assert.Equal(t, uint8(255), alphaAt(s, 50, 57), "width axis now runs vertically")
	assert.Equal(t, uint8(0), alphaAt(s, 57, 50), "height axis now runs horizontally")
}

func TestRenderClearsPreviousFrame(t *testing.T) {
	s := NewSurface(geometry.Viewport{Width: 100, Height: 100})
	c := New()
	overlay := solid(10, 4, red)

	c.Render(s, overlay, &geometry.Placement{CenterX: 20, CenterY: 20, Width: 20, Height: 8})
	require.Equal(t, uint8(255), alphaAt(s, 20, 20))

	c.Render(s, overlay, &geometry.Placement{CenterX: 80, CenterY: 80, Width: 20, Height: 8})
	assert.Equal(t, uint8(0), alphaAt(s, 20, 20), "no ghosting")
	assert.Equal(t, uint8(255), alphaAt(s, 80, 80))

	c.Render(s, overlay, nil)
	for _, v := range s.Image().Pix {
		if v != 0 {
			t.Fatal("surface not cleared when placement is absent")
		}
	}

	c.Render(s, nil, &geometry.Placement{CenterX: 80, CenterY: 80, Width: 20, Height: 8})
	assert.Equal(t, uint8(0), alphaAt(s, 80, 80))
}

func TestTransformMapsSourceCenter(t *testing.T) {
	m := Transform(image.Rect(0, 0, 10, 4), geometry.Placement{CenterX: 250, CenterY: 214.2, Width: 210, Height: 84, Angle: 0.3})

	x := m[0]*5 + m[1]*2 + m[2]
	y := m[3]*5 + m[4]*2 + m[5]
	assert.InDelta(t, 250.0, x, 1e-9)
	assert.InDelta(t, 214.2, y, 1e-9)
}

func TestSurfaceResize(t *testing.T) {
	s := NewSurface(geometry.Viewport{Width: 64, Height: 48})
	assert.Equal(t, geometry.Viewport{Width: 64, Height: 48}, s.Viewport())

	s.Resize(geometry.Viewport{Width: 32, Height: 16})
	assert.Equal(t, geometry.Viewport{Width: 32, Height: 16}, s.Viewport())

	var buf bytes.Buffer
	require.NoError(t, s.EncodePNG(&buf))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
}

func TestSnapshot(t *testing.T) {
	s := NewSurface(geometry.Viewport{Width: 100, Height: 100})
	c := New()
	c.Render(s, solid(10, 4, red), &geometry.Placement{CenterX: 50, CenterY: 50, Width: 20, Height: 8})

	photo := solid(50, 50, color.NRGBA{B: 255, A: 255})
	out := c.Snapshot(photo, s)

	assert.Equal(t, color.RGBA{R: 255, A: 255}, out.RGBAAt(50, 50))
	assert.Equal(t, color.RGBA{B: 255, A: 255}, out.RGBAAt(5, 5))
}
