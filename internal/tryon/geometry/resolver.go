package geometry

import (
	"fmt"
	"math"
)

// Config holds the calibration constants of the resolver.
type Config struct {
	// WidthScale multiplies the eye distance to get the overlay width.
	WidthScale float64 `yaml:"width_scale" env:"WIDTH_SCALE" validate:"gt=0"`
	// HeightScale multiplies the eye distance under the Independent policy.
	HeightScale float64 `yaml:"height_scale" env:"HEIGHT_SCALE" validate:"gt=0"`
	// FallbackAspect (height/width) is used while the asset size is unknown.
	FallbackAspect float64 `yaml:"fallback_aspect" env:"FALLBACK_ASPECT" validate:"gt=0"`
	// EyeWeight and NoseWeight blend the eye midpoint and the nose bridge
	// into the vertical center.
	EyeWeight  float64 `yaml:"eye_weight" env:"EYE_WEIGHT" validate:"gte=0"`
	NoseWeight float64 `yaml:"nose_weight" env:"NOSE_WEIGHT" validate:"gte=0"`
	// VerticalBias shifts the center down by a fraction of the height.
	VerticalBias float64 `yaml:"vertical_bias" env:"VERTICAL_BIAS"`
}

func DefaultConfig() Config {
	return Config{
		WidthScale:     2.1,
		HeightScale:    0.85,
		FallbackAspect: 0.4,
		EyeWeight:      2,
		NoseWeight:     1,
		VerticalBias:   0.05,
	}
}

func (c Config) Validate() error {
	switch {
	case !(c.WidthScale > 0):
		return fmt.Errorf("%w: width scale %v", ErrInvalidConfig, c.WidthScale)
	case !(c.HeightScale > 0):
		return fmt.Errorf("%w: height scale %v", ErrInvalidConfig, c.HeightScale)
	case !(c.FallbackAspect > 0):
		return fmt.Errorf("%w: fallback aspect %v", ErrInvalidConfig, c.FallbackAspect)
	case c.EyeWeight < 0 || c.NoseWeight < 0 || c.EyeWeight+c.NoseWeight == 0:
		return fmt.Errorf("%w: eye/nose weights %v/%v", ErrInvalidConfig, c.EyeWeight, c.NoseWeight)
	}
	return nil
}

// Resolver derives raw placements. It holds no per-frame state.
type Resolver struct {
	cfg Config
}

func NewResolver(cfg Config) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{cfg: cfg}, nil
}

func (r *Resolver) Config() Config {
	return r.cfg
}

// Resolve computes the raw placement for one frame. aspect is the asset's
// height/width ratio; a non-positive value selects the fallback.
func (r *Resolver) Resolve(a AnchorSet, aspect float64, sizing Sizing) (Placement, error) {
	if !a.LeftEye.finite() || !a.RightEye.finite() || !a.NoseBridge.finite() {
		return Placement{}, ErrDegenerateAnchors
	}

	dx := a.LeftEye.X - a.RightEye.X
	dy := a.LeftEye.Y - a.RightEye.Y
	eyeDist := math.Hypot(dx, dy)
	if !positive(eyeDist) {
		return Placement{}, ErrDegenerateAnchors
	}

	if !(aspect > 0) || math.IsInf(aspect, 0) {
		aspect = r.cfg.FallbackAspect
	}

	widthScale := sizing.WidthScale
	if widthScale <= 0 {
		widthScale = r.cfg.WidthScale
	}
	width := eyeDist * widthScale

	var height float64
	switch sizing.Policy {
	case Independent:
		heightScale := sizing.HeightScale
		if heightScale <= 0 {
			heightScale = r.cfg.HeightScale
		}
		height = eyeDist * heightScale
	default:
		height = width * aspect
	}

	angle := math.Atan2(dy, dx)
	if angle == -math.Pi {
		angle = math.Pi
	}

	midX := (a.LeftEye.X + a.RightEye.X) / 2
	midY := (a.LeftEye.Y + a.RightEye.Y) / 2
	centerY := (midY*r.cfg.EyeWeight + a.NoseBridge.Y*r.cfg.NoseWeight) / (r.cfg.EyeWeight + r.cfg.NoseWeight)

	p := Placement{
		CenterX: midX,
		CenterY: centerY + height*r.cfg.VerticalBias,
		Width:   width,
		Height:  height,
		Angle:   angle,
	}
	// Finite anchors can still overflow once combined.
	if !positive(p.Width) || !positive(p.Height) || !finite(p.CenterX) || !finite(p.CenterY) {
		return Placement{}, ErrDegenerateAnchors
	}
	return p, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
