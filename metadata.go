package reproject

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/airbusgeo/godal"
)

// Metadata is the metadata of a raster dataset.
type Metadata struct {
	// Driver is the GDAL driver name if it is known. Only GeoTIFFs are
	// recognized; it is empty for other formats.
	Driver    string
	DataType  godal.DataType
	NoData    float64
	HasNoData bool
	Width     int
	Height    int
	Count     int
	CRS       string
	Transform GeoTransform
}

// A Grid is the geometry of a raster: its transform and size.
type Grid struct {
	Transform GeoTransform
	Width     int
	Height    int
}

// Bounds returns g's bounds.
func (g Grid) Bounds() Bounds {
	return g.Transform.Bounds(g.Width, g.Height)
}

// Bounds returns m's bounds in m's CRS.
func (m *Metadata) Bounds() Bounds {
	return m.Transform.Bounds(m.Width, m.Height)
}

// Grid returns m's grid.
func (m *Metadata) Grid() Grid {
	return Grid{
		Transform: m.Transform,
		Width:     m.Width,
		Height:    m.Height,
	}
}

// WithGrid returns a copy of m with its CRS and grid replaced by crs and
// grid. All other fields are carried over unchanged.
func (m *Metadata) WithGrid(crs string, grid Grid) *Metadata {
	result := *m
	result.CRS = crs
	result.Transform = grid.Transform
	result.Width = grid.Width
	result.Height = grid.Height
	return &result
}

// DataTypeName returns the name of m's data type in lower case, e.g.
// "float32".
func (m *Metadata) DataTypeName() string {
	return strings.ToLower(m.DataType.String())
}

// NoDataString returns m's nodata value formatted as a string, or "None" if m
// has no nodata value.
func (m *Metadata) NoDataString() string {
	if !m.HasNoData {
		return "None"
	}
	return strconv.FormatFloat(m.NoData, 'g', -1, 64)
}

// WriteTo writes a human readable description of m to w.
func (m *Metadata) WriteTo(w io.Writer) (int64, error) {
	driver := m.Driver
	if driver == "" {
		driver = "unknown"
	}
	crs := m.CRS
	if crs == "" {
		crs = "None"
	}
	n, err := fmt.Fprintf(w, ""+
		"driver:    %s\n"+
		"dtype:     %s\n"+
		"nodata:    %s\n"+
		"width:     %d\n"+
		"height:    %d\n"+
		"count:     %d\n"+
		"crs:       %s\n"+
		"transform: %s\n"+
		"bounds:    %s\n",
		driver,
		m.DataTypeName(),
		m.NoDataString(),
		m.Width,
		m.Height,
		m.Count,
		crs,
		m.Transform,
		m.Bounds(),
	)
	return int64(n), err
}

func (m *Metadata) String() string {
	var sb strings.Builder
	_, _ = m.WriteTo(&sb)
	return sb.String()
}
