// Package tracking decides, frame by frame, whether smoothing memory carries
// over or starts fresh.
package tracking

import (
	"github.com/glasster/glasster/internal/tryon/geometry"
	"github.com/glasster/glasster/internal/tryon/smoothing"
)

type State uint8

const (
	NoFace State = iota
	Tracking
)

func (s State) String() string {
	switch s {
	case NoFace:
		return "no_face"
	case Tracking:
		return "tracking"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TransitionFunc observes state changes. Self transitions are not reported.
type TransitionFunc func(from, to State)

// Machine gates a Smoother. A smoothed placement exists only while the
// machine is in Tracking.
type Machine struct {
	state    State
	smoother *smoothing.Smoother
	onChange TransitionFunc
}

func NewMachine(smoother *smoothing.Smoother) *Machine {
	return &Machine{state: NoFace, smoother: smoother}
}

func (m *Machine) OnTransition(fn TransitionFunc) {
	m.onChange = fn
}

func (m *Machine) State() State {
	return m.state
}

// Observe feeds one frame. raw is nil when no face (or no usable placement)
// was found. It returns the smoothed placement while tracking.
func (m *Machine) Observe(raw *geometry.Placement) (geometry.Placement, bool) {
	if raw == nil {
		if m.state == Tracking {
			m.smoother.Reset()
			m.transition(NoFace)
		}
		return geometry.Placement{}, false
	}

	if m.state == NoFace {
		m.smoother.Reset()
		m.transition(Tracking)
	}
	return m.smoother.Update(*raw), true
}

// Reset forces NoFace and drops smoothing memory.
func (m *Machine) Reset() {
	m.smoother.Reset()
	m.transition(NoFace)
}

func (m *Machine) transition(to State) {
	from := m.state
	m.state = to
	if from != to && m.onChange != nil {
		m.onChange(from, to)
	}
}
