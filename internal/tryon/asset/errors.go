package asset

import "errors"

var (
	ErrUnknownProduct   = errors.New("unknown product")
	ErrDuplicateProduct = errors.New("duplicate product id")
	ErrInvalidCatalog   = errors.New("invalid catalog")
	ErrEmptyImage       = errors.New("overlay image has no pixels")
)
