package compositor

import (
	"image"
	"image/png"
	"io"

	"github.com/glasster/glasster/internal/tryon/geometry"
	"github.com/glasster/glasster/pkg/generic"
)

// encoderBuffers shares png compressor state between sessions encoding a
// frame each.
type encoderBuffers struct {
	pool *generic.Pool[*png.EncoderBuffer]
}

func (b encoderBuffers) Get() *png.EncoderBuffer { return b.pool.Get() }
func (b encoderBuffers) Put(buf *png.EncoderBuffer) { b.pool.Put(buf) }

var pngBuffers = encoderBuffers{
	pool: generic.NewPool(func() *png.EncoderBuffer { return new(png.EncoderBuffer) }, nil),
}

// Surface is the transparent overlay layer, sized to the viewport.
type Surface struct {
	img *image.RGBA
}

func NewSurface(vp geometry.Viewport) *Surface {
	s := &Surface{}
	s.Resize(vp)
	return s
}

// Resize reallocates the layer when the viewport changed. The content is
// dropped either way.
func (s *Surface) Resize(vp geometry.Viewport) {
	w, h := max(vp.Width, 0), max(vp.Height, 0)
	if s.img != nil && s.img.Rect.Dx() == w && s.img.Rect.Dy() == h {
		s.Clear()
		return
	}
	s.img = image.NewRGBA(image.Rect(0, 0, w, h))
}

func (s *Surface) Viewport() geometry.Viewport {
	return geometry.Viewport{Width: s.img.Rect.Dx(), Height: s.img.Rect.Dy()}
}

func (s *Surface) Clear() {
	clear(s.img.Pix)
}

func (s *Surface) Image() *image.RGBA {
	return s.img
}

func (s *Surface) EncodePNG(w io.Writer) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed, BufferPool: pngBuffers}
	return enc.Encode(w, s.img)
}
