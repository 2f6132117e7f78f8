package reproject

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// A GeoTransform is an affine transformation from pixel coordinates to world
// coordinates. Its coefficients are in GDAL order: x-origin, x-scale, x-skew,
// y-origin, y-skew, y-scale.
type GeoTransform [6]float64

// IdentityGeoTransform is the transform of a raster without georeferencing.
var IdentityGeoTransform = GeoTransform{0, 1, 0, 0, 0, 1}

// NewGeoTransform returns a north-up GeoTransform with its upper left corner
// at (originX, originY) and pixels pixelWidth wide and pixelHeight high.
func NewGeoTransform(originX, originY, pixelWidth, pixelHeight float64) GeoTransform {
	return GeoTransform{originX, pixelWidth, 0, originY, 0, -pixelHeight}
}

// Apply returns the world coordinates of the pixel coordinate (col, row).
// Pixel centers are at half-integer coordinates.
func (t GeoTransform) Apply(col, row float64) (float64, float64) {
	return t[0] + col*t[1] + row*t[2], t[3] + col*t[4] + row*t[5]
}

// Inverse returns the inverse of t. It returns false if t is not invertible.
func (t GeoTransform) Inverse() (GeoTransform, bool) {
	det := t[1]*t[5] - t[2]*t[4]
	if det == 0 || math.IsNaN(det) {
		return GeoTransform{}, false
	}
	invDet := 1 / det
	return GeoTransform{
		(t[2]*t[3] - t[0]*t[5]) * invDet,
		t[5] * invDet,
		-t[2] * invDet,
		(-t[1]*t[3] + t[0]*t[4]) * invDet,
		-t[4] * invDet,
		t[1] * invDet,
	}, true
}

// Origin returns the world coordinates of the upper left corner of t.
func (t GeoTransform) Origin() (float64, float64) {
	return t[0], t[3]
}

// Res returns the pixel width and height of t. Both are positive for a
// north-up transform.
func (t GeoTransform) Res() (float64, float64) {
	return t[1], -t[5]
}

// NorthUp returns whether t has no rotation or skew.
func (t GeoTransform) NorthUp() bool {
	return t[2] == 0 && t[4] == 0
}

// Affine returns the coefficients of t in the order a, b, c, d, e, f used by
// the affine and rasterio Python packages, i.e. x-scale, x-skew, x-origin,
// y-skew, y-scale, y-origin.
func (t GeoTransform) Affine() [6]float64 {
	return [6]float64{t[1], t[2], t[0], t[4], t[5], t[3]}
}

// Bounds returns the bounds of a raster width pixels wide and height pixels
// high with transform t.
func (t GeoTransform) Bounds(width, height int) Bounds {
	w, h := float64(width), float64(height)
	xs := make([]float64, 0, 4)
	ys := make([]float64, 0, 4)
	for _, corner := range [][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
		x, y := t.Apply(corner[0], corner[1])
		xs = append(xs, x)
		ys = append(ys, y)
	}
	return Bounds{
		Left:   min(xs[0], xs[1], xs[2], xs[3]),
		Bottom: min(ys[0], ys[1], ys[2], ys[3]),
		Right:  max(xs[0], xs[1], xs[2], xs[3]),
		Top:    max(ys[0], ys[1], ys[2], ys[3]),
	}
}

func (t GeoTransform) String() string {
	affine := t.Affine()
	values := make([]string, 0, len(affine))
	for _, value := range affine {
		values = append(values, strconv.FormatFloat(value, 'g', -1, 64))
	}
	return "Affine(" + strings.Join(values, ", ") + ")"
}

// A Bounds is an axis-aligned bounding box.
type Bounds struct {
	Left   float64
	Bottom float64
	Right  float64
	Top    float64
}

// Width returns the width of b.
func (b Bounds) Width() float64 {
	return b.Right - b.Left
}

// Height returns the height of b.
func (b Bounds) Height() float64 {
	return b.Top - b.Bottom
}

// Buffer returns b grown by dx horizontally and dy vertically on each side.
func (b Bounds) Buffer(dx, dy float64) Bounds {
	return Bounds{
		Left:   b.Left - dx,
		Bottom: b.Bottom - dy,
		Right:  b.Right + dx,
		Top:    b.Top + dy,
	}
}

// Intersects returns whether b and other overlap.
func (b Bounds) Intersects(other Bounds) bool {
	return b.Left < other.Right && other.Left < b.Right &&
		b.Bottom < other.Top && other.Bottom < b.Top
}

// Contains returns whether other lies entirely within b.
func (b Bounds) Contains(other Bounds) bool {
	return b.Left <= other.Left && other.Right <= b.Right &&
		b.Bottom <= other.Bottom && other.Top <= b.Top
}

func (b Bounds) String() string {
	return fmt.Sprintf("BoundingBox(left=%s, bottom=%s, right=%s, top=%s)",
		strconv.FormatFloat(b.Left, 'g', -1, 64),
		strconv.FormatFloat(b.Bottom, 'g', -1, 64),
		strconv.FormatFloat(b.Right, 'g', -1, 64),
		strconv.FormatFloat(b.Top, 'g', -1, 64),
	)
}
