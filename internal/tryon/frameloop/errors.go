package frameloop

import "errors"

var (
	// ErrStopped ends the loop without error.
	ErrStopped = errors.New("frame source stopped")

	ErrLoopRunning = errors.New("frame loop is already running")
)
