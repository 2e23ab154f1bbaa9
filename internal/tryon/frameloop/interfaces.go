package frameloop

import (
	"context"

	"github.com/glasster/glasster/internal/tryon/asset"
	"github.com/glasster/glasster/internal/tryon/compositor"
	"github.com/glasster/glasster/internal/tryon/geometry"
	"github.com/glasster/glasster/internal/tryon/landmark"
	"github.com/glasster/glasster/internal/tryon/tracking"
)

// Frame is one video frame (or the client-side detection result for it).
// Payload is opaque to the loop and handed to the LandmarkSource.
type Frame struct {
	Seq     uint64
	Payload any
}

// FrameSource yields frames. Next blocks until a frame is available and
// returns ErrStopped once the source has ended.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
	Live() bool
}

// LandmarkSource runs the face landmark model on a frame. It may block until
// the model completes.
type LandmarkSource interface {
	Detect(ctx context.Context, frame Frame) (landmark.Result, error)
}

type AssetProvider interface {
	Current() *asset.Overlay
}

type ViewportProvider interface {
	Viewport() geometry.Viewport
}

// Output is the result of one processed frame.
type Output struct {
	Frame     Frame
	State     tracking.State
	Placement geometry.Placement
	Drawn     bool
	// Surface holds the rendered overlay layer when rendering is enabled.
	Surface *compositor.Surface
}

type Presenter interface {
	Present(ctx context.Context, out Output) error
}
