// Package geometry turns the three facial anchors of one frame into the raw
// placement of an overlay: center, size and roll.
package geometry

import "math"

// Point is a pixel coordinate on the render surface.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) finite() bool {
	return finite(p.X) && finite(p.Y)
}

// Distance returns the euclidean distance between p and q.
func Distance(p, q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// AnchorSet holds the anchors of a single frame in pixel space.
type AnchorSet struct {
	LeftEye    Point `json:"leftEye"`
	RightEye   Point `json:"rightEye"`
	NoseBridge Point `json:"noseBridge"`
}

// Viewport is the pixel size of the render surface.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (v Viewport) Empty() bool {
	return v.Width <= 0 || v.Height <= 0
}

// Placement positions an overlay for one frame. Angle is in radians.
type Placement struct {
	CenterX float64 `json:"centerX"`
	CenterY float64 `json:"centerY"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Angle   float64 `json:"angle"`
}

// SizingPolicy selects how the overlay height is derived.
type SizingPolicy uint8

const (
	// AspectLocked keeps the asset's own aspect ratio: height = width * aspect.
	AspectLocked SizingPolicy = iota
	// Independent scales each axis from the eye distance: height = eyeDist * HeightScale.
	Independent
)

func (p SizingPolicy) String() string {
	switch p {
	case AspectLocked:
		return "aspect"
	case Independent:
		return "independent"
	default:
		return "unknown"
	}
}

// ParseSizingPolicy accepts "aspect" (or "") and "independent".
func ParseSizingPolicy(s string) (SizingPolicy, error) {
	switch s {
	case "", "aspect", "aspect_locked":
		return AspectLocked, nil
	case "independent":
		return Independent, nil
	default:
		return AspectLocked, ErrUnknownSizingPolicy
	}
}

func (p SizingPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *SizingPolicy) UnmarshalText(text []byte) error {
	v, err := ParseSizingPolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Sizing is the per-asset sizing choice. Zero scales defer to the resolver
// defaults.
type Sizing struct {
	Policy      SizingPolicy `json:"policy" yaml:"policy"`
	WidthScale  float64      `json:"widthScale,omitempty" yaml:"width_scale,omitempty"`
	HeightScale float64      `json:"heightScale,omitempty" yaml:"height_scale,omitempty"`
}
