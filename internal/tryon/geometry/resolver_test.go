package geometry

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-9

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(DefaultConfig())
	require.NoError(t, err)
	return r
}

func TestResolveScenario(t *testing.T) {
	r := newTestResolver(t)

	p, err := r.Resolve(AnchorSet{
		LeftEye:    Point{X: 300, Y: 200},
		RightEye:   Point{X: 200, Y: 200},
		NoseBridge: Point{X: 250, Y: 230},
	}, 0.4, Sizing{})
	require.NoError(t, err)

	assert.InDelta(t, 210.0, p.Width, eps)
	assert.InDelta(t, 84.0, p.Height, eps)
	assert.InDelta(t, 250.0, p.CenterX, eps)
	assert.InDelta(t, 214.2, p.CenterY, eps)
	assert.Equal(t, 0.0, p.Angle)
}

func TestResolveAspectLocked(t *testing.T) {
	r := newTestResolver(t)

	p, err := r.Resolve(AnchorSet{
		LeftEye:    Point{X: 150, Y: 100},
		RightEye:   Point{X: 100, Y: 100},
		NoseBridge: Point{X: 125, Y: 120},
	}, 0.5, Sizing{Policy: AspectLocked, WidthScale: 2})
	require.NoError(t, err)

	assert.Equal(t, 100.0, p.Width)
	assert.Equal(t, 50.0, p.Height)
}

func TestResolveIndependent(t *testing.T) {
	r := newTestResolver(t)
	anchors := AnchorSet{
		LeftEye:    Point{X: 300, Y: 200},
		RightEye:   Point{X: 200, Y: 200},
		NoseBridge: Point{X: 250, Y: 230},
	}

	p, err := r.Resolve(anchors, 0.4, Sizing{Policy: Independent, WidthScale: 2, HeightScale: 0.9})
	require.NoError(t, err)
	assert.InDelta(t, 200.0, p.Width, eps)
	assert.InDelta(t, 90.0, p.Height, eps)

	// the asset aspect is ignored under the independent policy
	q, err := r.Resolve(anchors, 3, Sizing{Policy: Independent, WidthScale: 2, HeightScale: 0.9})
	require.NoError(t, err)
	assert.Equal(t, p, q)

	// zero scales fall back to the configured defaults
	d, err := r.Resolve(anchors, 0.4, Sizing{Policy: Independent})
	require.NoError(t, err)
	assert.InDelta(t, 210.0, d.Width, eps)
	assert.InDelta(t, 85.0, d.Height, eps)
}

func TestResolveFallbackAspect(t *testing.T) {
	r := newTestResolver(t)
	anchors := AnchorSet{
		LeftEye:    Point{X: 300, Y: 200},
		RightEye:   Point{X: 200, Y: 200},
		NoseBridge: Point{X: 250, Y: 230},
	}

	for _, aspect := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		p, err := r.Resolve(anchors, aspect, Sizing{})
		require.NoError(t, err)
		assert.InDelta(t, 84.0, p.Height, eps, "aspect %v", aspect)
	}
}

func TestResolveAngleFollowsRoll(t *testing.T) {
	r := newTestResolver(t)

	p, err := r.Resolve(AnchorSet{
		LeftEye:    Point{X: 300, Y: 300},
		RightEye:   Point{X: 200, Y: 200},
		NoseBridge: Point{X: 240, Y: 270},
	}, 0.4, Sizing{})
	require.NoError(t, err)
	assert.InDelta(t, math.Pi/4, p.Angle, eps)
	assert.InDelta(t, 100*math.Sqrt2*2.1, p.Width, eps)

	// mirrored eyes put the angle on the +pi side, never -pi
	m, err := r.Resolve(AnchorSet{
		LeftEye:    Point{X: 100, Y: math.Copysign(0, -1)},
		RightEye:   Point{X: 200, Y: 0},
		NoseBridge: Point{X: 150, Y: 30},
	}, 0.4, Sizing{})
	require.NoError(t, err)
	assert.Equal(t, math.Pi, m.Angle)
}

func TestResolveDegenerate(t *testing.T) {
	r := newTestResolver(t)

	_, err := r.Resolve(AnchorSet{
		LeftEye:    Point{X: 10, Y: 10},
		RightEye:   Point{X: 10, Y: 10},
		NoseBridge: Point{X: 10, Y: 20},
	}, 0.4, Sizing{})
	assert.ErrorIs(t, err, ErrDegenerateAnchors)

	_, err = r.Resolve(AnchorSet{
		LeftEye:    Point{X: math.NaN(), Y: 10},
		RightEye:   Point{X: 20, Y: 10},
		NoseBridge: Point{X: 15, Y: 20},
	}, 0.4, Sizing{})
	assert.ErrorIs(t, err, ErrDegenerateAnchors)
}

func TestResolveRejectsOverflow(t *testing.T) {
	r := newTestResolver(t)

	// each anchor is finite but the eye distance is not
	_, err := r.Resolve(AnchorSet{
		LeftEye:    Point{X: 1.7e308, Y: 500},
		RightEye:   Point{X: -1.7e308, Y: 500},
		NoseBridge: Point{X: 0, Y: 550},
	}, 0.4, Sizing{})
	assert.ErrorIs(t, err, ErrDegenerateAnchors)

	// distance fits, width does not
	_, err = r.Resolve(AnchorSet{
		LeftEye:    Point{X: 1e308, Y: 500},
		RightEye:   Point{X: 0, Y: 500},
		NoseBridge: Point{X: 0, Y: 550},
	}, 0.4, Sizing{})
	assert.ErrorIs(t, err, ErrDegenerateAnchors)

	// size fits, the eye midpoint does not
	_, err = r.Resolve(AnchorSet{
		LeftEye:    Point{X: 1.7e308, Y: 500},
		RightEye:   Point{X: 1.6e308, Y: 500},
		NoseBridge: Point{X: 0, Y: 550},
	}, 0.4, Sizing{})
	assert.ErrorIs(t, err, ErrDegenerateAnchors)

	_, err = r.Resolve(AnchorSet{
		LeftEye:    Point{X: 10, Y: 10},
		RightEye:   Point{X: 20, Y: 10},
		NoseBridge: Point{X: 15, Y: 20},
	}, 0.4, Sizing{Policy: Independent, HeightScale: math.Inf(1)})
	assert.ErrorIs(t, err, ErrDegenerateAnchors)
}

func TestResolvePropertiesRandom(t *testing.T) {
	r := newTestResolver(t)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 2000; i++ {
		a := AnchorSet{
			LeftEye:    Point{X: rng.Float64() * 1280, Y: rng.Float64() * 720},
			RightEye:   Point{X: rng.Float64() * 1280, Y: rng.Float64() * 720},
			NoseBridge: Point{X: rng.Float64() * 1280, Y: rng.Float64() * 720},
		}
		if a.LeftEye == a.RightEye {
			continue
		}
		aspect := 0.1 + rng.Float64()

		p, err := r.Resolve(a, aspect, Sizing{})
		require.NoError(t, err)
		assert.Greater(t, p.Width, 0.0)
		assert.Greater(t, p.Height, 0.0)
		assert.Greater(t, p.Angle, -math.Pi)
		assert.LessOrEqual(t, p.Angle, math.Pi)

		// pure: identical inputs give bit-identical outputs
		q, err := r.Resolve(a, aspect, Sizing{})
		require.NoError(t, err)
		assert.Equal(t, math.Float64bits(p.CenterX), math.Float64bits(q.CenterX))
		assert.Equal(t, math.Float64bits(p.CenterY), math.Float64bits(q.CenterY))
		assert.Equal(t, math.Float64bits(p.Width), math.Float64bits(q.Width))
		assert.Equal(t, math.Float64bits(p.Height), math.Float64bits(q.Height))
		assert.Equal(t, math.Float64bits(p.Angle), math.Float64bits(q.Angle))
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.WidthScale = 0
	_, err := NewResolver(bad)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad = DefaultConfig()
	bad.EyeWeight, bad.NoseWeight = 0, 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = DefaultConfig()
	bad.FallbackAspect = math.NaN()
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}

func TestSizingPolicyText(t *testing.T) {
	var p SizingPolicy
	require.NoError(t, p.UnmarshalText([]byte("independent")))
	assert.Equal(t, Independent, p)

	text, err := AspectLocked.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "aspect", string(text))

	assert.ErrorIs(t, p.UnmarshalText([]byte("stretch")), ErrUnknownSizingPolicy)
}
