package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glasster/glasster/internal/tryon/geometry"
	"github.com/glasster/glasster/internal/tryon/smoothing"
)

func newMachine(t *testing.T, alpha float64) *Machine {
	t.Helper()
	s, err := smoothing.New(alpha)
	require.NoError(t, err)
	return NewMachine(s)
}

func TestInitialState(t *testing.T) {
	m := newMachine(t, 0.18)
	assert.Equal(t, NoFace, m.State())
	assert.Equal(t, "no_face", m.State().String())
}

func TestNoFaceToNoFace(t *testing.T) {
	m := newMachine(t, 0.18)
	var calls int
	m.OnTransition(func(_, _ State) { calls++ })

	_, ok := m.Observe(nil)
	assert.False(t, ok)
	assert.Equal(t, NoFace, m.State())
	assert.Zero(t, calls)
}

func TestAcquireTakesRawExactly(t *testing.T) {
	m := newMachine(t, 0.18)

	raw := geometry.Placement{CenterX: 250, CenterY: 214.2, Width: 210, Height: 84}
	got, ok := m.Observe(&raw)
	require.True(t, ok)
	assert.Equal(t, raw, got)
	assert.Equal(t, Tracking, m.State())
}

func TestTrackingBlends(t *testing.T) {
	m := newMachine(t, 0.2)

	first := geometry.Placement{CenterX: 250, Width: 100, Height: 40}
	m.Observe(&first)
	next := geometry.Placement{CenterX: 260, Width: 100, Height: 40}
	got, ok := m.Observe(&next)
	require.True(t, ok)
	assert.InDelta(t, 252.0, got.CenterX, 1e-9)
}

func TestLossDiscardsPreLossPlacement(t *testing.T) {
	m := newMachine(t, 0.18)

	var transitions [][2]State
	m.OnTransition(func(from, to State) { transitions = append(transitions, [2]State{from, to}) })

	before := geometry.Placement{CenterX: 600, CenterY: 50, Width: 400, Height: 160, Angle: 0.4}
	m.Observe(&before)
	m.Observe(&before)

	_, ok := m.Observe(nil)
	assert.False(t, ok)
	assert.Equal(t, NoFace, m.State())

	after := geometry.Placement{CenterX: 100, CenterY: 300, Width: 80, Height: 32, Angle: -0.1}
	got, ok := m.Observe(&after)
	require.True(t, ok)
	assert.Equal(t, after, got)

	assert.Equal(t, [][2]State{
		{NoFace, Tracking},
		{Tracking, NoFace},
		{NoFace, Tracking},
	}, transitions)
}

func TestReset(t *testing.T) {
	m := newMachine(t, 0.5)

	p := geometry.Placement{CenterX: 10, Width: 10, Height: 4}
	m.Observe(&p)
	m.Reset()
	assert.Equal(t, NoFace, m.State())

	q := geometry.Placement{CenterX: 90, Width: 10, Height: 4}
	got, _ := m.Observe(&q)
	assert.Equal(t, q, got)
}
