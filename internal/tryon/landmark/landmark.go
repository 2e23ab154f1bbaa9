// Package landmark describes the per-frame output of the face landmark model
// and picks the eye and nose anchors out of it.
package landmark

import "github.com/glasster/glasster/internal/tryon/geometry"

// FaceMesh indices of the anchors. The model reports landmarks from the
// subject's point of view, so "left eye" is index 263.
const (
	LeftEye    = 263
	RightEye   = 33
	NoseBridge = 168

	// FaceMeshSize is the number of points of a refined FaceMesh result.
	FaceMeshSize = 478
)

// Point is a normalized (0..1) coordinate in the source frame.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

// Result is one detector answer. No faces means no face was found.
type Result struct {
	Faces [][]Point `json:"faces"`
}

// Primary returns the tracked face, if any.
func (r Result) Primary() ([]Point, bool) {
	if len(r.Faces) == 0 || len(r.Faces[0]) == 0 {
		return nil, false
	}
	return r.Faces[0], true
}

// Indices selects the anchor landmarks.
type Indices struct {
	LeftEye    int `yaml:"left_eye" env:"LEFT_EYE" validate:"gte=0"`
	RightEye   int `yaml:"right_eye" env:"RIGHT_EYE" validate:"gte=0"`
	NoseBridge int `yaml:"nose_bridge" env:"NOSE_BRIDGE" validate:"gte=0"`
}

func DefaultIndices() Indices {
	return Indices{LeftEye: LeftEye, RightEye: RightEye, NoseBridge: NoseBridge}
}

// Anchors looks up the three anchors and scales them to the viewport. It
// reports false when any index is missing or the viewport is empty.
func Anchors(points []Point, idx Indices, vp geometry.Viewport) (geometry.AnchorSet, bool) {
	if vp.Empty() {
		return geometry.AnchorSet{}, false
	}

	left, ok := at(points, idx.LeftEye)
	if !ok {
		return geometry.AnchorSet{}, false
	}
	right, ok := at(points, idx.RightEye)
	if !ok {
		return geometry.AnchorSet{}, false
	}
	nose, ok := at(points, idx.NoseBridge)
	if !ok {
		return geometry.AnchorSet{}, false
	}

	w, h := float64(vp.Width), float64(vp.Height)
	return geometry.AnchorSet{
		LeftEye:    geometry.Point{X: left.X * w, Y: left.Y * h},
		RightEye:   geometry.Point{X: right.X * w, Y: right.Y * h},
		NoseBridge: geometry.Point{X: nose.X * w, Y: nose.Y * h},
	}, true
}

func at(points []Point, i int) (Point, bool) {
	if i < 0 || i >= len(points) {
		return Point{}, false
	}
	return points[i], true
}
