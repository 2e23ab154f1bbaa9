package geometry

import "errors"

var (
	ErrDegenerateAnchors   = errors.New("degenerate anchors")
	ErrInvalidConfig       = errors.New("invalid geometry configuration")
	ErrUnknownSizingPolicy = errors.New("unknown sizing policy")
)
