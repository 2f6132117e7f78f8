// Package reproject reprojects raster datasets, typically digital elevation
// models, from one coordinate reference system to another.
//
// Raster I/O, the calculation of the destination grid, and resampling are
// delegated to GDAL via github.com/airbusgeo/godal. Coordinate
// transformations outside GDAL use PROJ via github.com/twpayne/go-proj. A
// small pure-Go GeoTIFF reader is provided for sampling GDAL-written
// GeoTIFFs without a GDAL handle.
//
// Per-band warping uses gdalwarp's -srcband and -dstband switches, which
// require GDAL 3.7 or later.
package reproject

import "context"

// A Pixel is a pixel coordinate.
type Pixel struct {
	C int // Column.
	R int // Row.
}

// A TileCoord is a tile coordinate.
type TileCoord struct {
	C int // Column.
	R int // Row.
}

// A Raster returns samples at pixel coordinates.
type Raster interface {
	Samples(ctx context.Context, band int, pixels []Pixel) ([]float64, error)
	Size() (int, int)
}
