package reproject

import "errors"

var (
	// ErrInput is returned when the input raster cannot be opened or read.
	ErrInput = errors.New("input error")

	// ErrMissingCRS is returned when a raster has no coordinate reference
	// system and no override was given.
	ErrMissingCRS = errors.New("missing CRS")

	// ErrInvalidCRS is returned when a coordinate reference system identifier
	// cannot be interpreted.
	ErrInvalidCRS = errors.New("invalid CRS")

	// ErrOutput is returned when the output raster cannot be created or
	// written.
	ErrOutput = errors.New("output error")

	errParse     = errors.New("parse error")
	errShortRead = errors.New("short read")
)
