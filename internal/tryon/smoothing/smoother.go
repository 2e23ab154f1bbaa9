// Package smoothing damps frame-to-frame jitter of overlay placements with a
// per-field exponential blend.
package smoothing

import (
	"errors"
	"fmt"
	"math"

	"github.com/glasster/glasster/internal/tryon/geometry"
)

// DefaultAlpha balances jitter damping and responsiveness for 30-60 fps input.
const DefaultAlpha = 0.18

var ErrInvalidAlpha = errors.New("smoothing factor must be in (0, 1]")

type Option func(*Smoother)

// WithAngleWrap blends the angle along the shortest arc so a roll crossing
// the +-pi boundary does not spin the overlay the long way round.
func WithAngleWrap(enabled bool) Option {
	return func(s *Smoother) {
		s.wrapAngle = enabled
	}
}

// Smoother owns the single persisted placement of a session. It is not safe
// for concurrent use.
type Smoother struct {
	alpha     float64
	wrapAngle bool

	prev geometry.Placement
	has  bool
}

func New(alpha float64, opts ...Option) (*Smoother, error) {
	if !(alpha > 0 && alpha <= 1) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAlpha, alpha)
	}
	s := &Smoother{alpha: alpha}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Smoother) Alpha() float64 {
	return s.alpha
}

// Update folds raw into the persisted placement and returns the result. The
// first sample after Reset is taken as-is.
func (s *Smoother) Update(raw geometry.Placement) geometry.Placement {
	if !s.has {
		s.prev = raw
		s.has = true
		return raw
	}

	a := s.alpha
	lerp := func(p, c float64) float64 { return p + a*(c-p) }

	next := geometry.Placement{
		CenterX: lerp(s.prev.CenterX, raw.CenterX),
		CenterY: lerp(s.prev.CenterY, raw.CenterY),
		Width:   lerp(s.prev.Width, raw.Width),
		Height:  lerp(s.prev.Height, raw.Height),
		Angle:   lerp(s.prev.Angle, raw.Angle),
	}
	if s.wrapAngle {
		next.Angle = normalizeAngle(s.prev.Angle + a*shortestArc(s.prev.Angle, raw.Angle))
	}

	s.prev = next
	return next
}

// Reset forgets the persisted placement.
func (s *Smoother) Reset() {
	s.prev = geometry.Placement{}
	s.has = false
}

func (s *Smoother) Current() (geometry.Placement, bool) {
	return s.prev, s.has
}

func shortestArc(from, to float64) float64 {
	d := math.Mod(to-from, 2*math.Pi)
	switch {
	case d > math.Pi:
		d -= 2 * math.Pi
	case d <= -math.Pi:
		d += 2 * math.Pi
	}
	return d
}

// normalizeAngle maps a into (-pi, pi].
func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	switch {
	case a > math.Pi:
		a -= 2 * math.Pi
	case a <= -math.Pi:
		a += 2 * math.Pi
	}
	return a
}
