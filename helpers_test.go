package reproject

import (
	"path/filepath"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/alecthomas/assert/v2"
)

type testRaster struct {
	width     int
	height    int
	count     int
	crs       string
	transform GeoTransform
	noData    *float64
	options   []string
}

// newTestRasterOptions returns a small Float32 raster in UTM zone 13N near
// Boulder, Colorado.
func newTestRasterOptions() testRaster {
	noData := -9999.0
	return testRaster{
		width:     40,
		height:    30,
		count:     1,
		crs:       "EPSG:32613",
		transform: NewGeoTransform(476000, 4436000, 2, 2),
		noData:    &noData,
	}
}

// writeTestRaster writes r to a GeoTIFF called name in a temporary directory
// and returns its path. The value of pixel (c, r) in band b is
// 1000*b + width*r + c.
func writeTestRaster(t *testing.T, name string, r testRaster) string {
	t.Helper()
	registerDrivers()

	path := filepath.Join(t.TempDir(), name)
	var options []godal.DatasetCreateOption
	if len(r.options) > 0 {
		options = append(options, godal.CreationOption(r.options...))
	}
	ds, err := godal.Create(godal.GTiff, path, r.count, godal.Float32, r.width, r.height, options...)
	assert.NoError(t, err)

	assert.NoError(t, ds.SetGeoTransform(r.transform))
	if r.crs != "" {
		sr, err := newSpatialRef(r.crs)
		assert.NoError(t, err)
		assert.NoError(t, ds.SetSpatialRef(sr))
		sr.Close()
	}
	for i, band := range ds.Bands() {
		if r.noData != nil {
			assert.NoError(t, band.SetNoData(*r.noData))
		}
		assert.NoError(t, band.Write(0, 0, testRasterValues(r, i+1), r.width, r.height))
	}
	assert.NoError(t, ds.Close())
	return path
}

func testRasterValues(r testRaster, band int) []float32 {
	values := make([]float32, r.width*r.height)
	for i := range values {
		values[i] = float32(1000*band + i)
	}
	return values
}

// readBand reads band of the raster at path.
func readBand(t *testing.T, path string, band int) []float32 {
	t.Helper()
	registerDrivers()
	ds, err := godal.Open(path, godal.RasterOnly())
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, ds.Close())
	}()
	structure := ds.Structure()
	values := make([]float32, structure.SizeX*structure.SizeY)
	assert.NoError(t, ds.Bands()[band-1].Read(0, 0, values, structure.SizeX, structure.SizeY))
	return values
}
