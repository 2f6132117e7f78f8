package reproject

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/alecthomas/assert/v2"
)

func TestReprojectRaster(t *testing.T) {
	input := writeTestRaster(t, "utm.tif", newTestRasterOptions())
	output := filepath.Join(t.TempDir(), "geographic.tif")

	metadata, err := ReprojectRaster(t.Context(), input, output, "epsg:4326")
	assert.NoError(t, err)

	assert.Equal(t, DriverGTiff, metadata.Driver)
	assert.Equal(t, godal.Float32, metadata.DataType)
	assert.True(t, metadata.HasNoData)
	assert.Equal(t, -9999.0, metadata.NoData)
	assert.Equal(t, 1, metadata.Count)
	assert.Equal(t, EPSG4326, metadata.CRS)
	assert.True(t, metadata.Transform.NorthUp())
	resX, resY := metadata.Transform.Res()
	assert.True(t, resX > 0)
	assert.True(t, resY > 0)
	assert.True(t, metadata.Width > 0)
	assert.True(t, metadata.Height > 0)

	inspected, err := readMetadata(output)
	assert.NoError(t, err)
	assert.Equal(t, metadata, inspected)
}

func TestReprojectRasterValuesAreSourceValues(t *testing.T) {
	options := newTestRasterOptions()
	input := writeTestRaster(t, "utm.tif", options)
	output := filepath.Join(t.TempDir(), "geographic.tif")

	_, err := ReprojectRaster(t.Context(), input, output, EPSG4326)
	assert.NoError(t, err)

	sourceValues := make(map[float32]bool)
	for _, value := range testRasterValues(options, 1) {
		sourceValues[value] = true
	}
	validValues := 0
	for _, value := range readBand(t, output, 1) {
		if value == -9999 {
			continue
		}
		assert.True(t, sourceValues[value], "value %v is not a source value", value)
		validValues++
	}
	assert.True(t, validValues > 0)
}

func TestReprojectRasterMultipleBands(t *testing.T) {
	options := newTestRasterOptions()
	options.count = 3
	input := writeTestRaster(t, "utm.tif", options)
	output := filepath.Join(t.TempDir(), "geographic.tif")

	metadata, err := ReprojectRaster(t.Context(), input, output, EPSG4326)
	assert.NoError(t, err)
	assert.Equal(t, 3, metadata.Count)

	band1 := readBand(t, output, 1)
	for band := 2; band <= 3; band++ {
		values := readBand(t, output, band)
		assert.Equal(t, len(band1), len(values))
		for i, value := range values {
			if band1[i] == -9999 {
				assert.Equal(t, float32(-9999), value)
				continue
			}
			assert.Equal(t, band1[i]+float32(1000*(band-1)), value)
		}
	}
}

func TestReprojectRasterDeterministic(t *testing.T) {
	input := writeTestRaster(t, "utm.tif", newTestRasterOptions())
	dir := t.TempDir()

	var outputs [][]byte
	for _, name := range []string{"a.tif", "b.tif"} {
		output := filepath.Join(dir, name)
		_, err := ReprojectRaster(t.Context(), input, output, EPSG4326)
		assert.NoError(t, err)
		data, err := os.ReadFile(output)
		assert.NoError(t, err)
		outputs = append(outputs, data)
	}
	assert.True(t, bytes.Equal(outputs[0], outputs[1]))
}

func TestReprojectRasterFootprint(t *testing.T) {
	options := newTestRasterOptions()
	input := writeTestRaster(t, "utm.tif", options)
	output := filepath.Join(t.TempDir(), "geographic.tif")

	metadata, err := ReprojectRaster(t.Context(), input, output, EPSG4326)
	assert.NoError(t, err)

	sourceBounds := options.transform.Bounds(options.width, options.height)
	expected, err := TransformBounds(options.crs, EPSG4326, sourceBounds)
	assert.NoError(t, err)

	resX, resY := metadata.Transform.Res()
	actual := metadata.Bounds()
	assert.True(t, actual.Buffer(resX, resY).Contains(expected), "%s does not contain %s", actual, expected)
	assert.True(t, expected.Buffer(2*resX, 2*resY).Contains(actual), "%s does not contain %s", expected, actual)
}

func TestReprojectRasterSameCRS(t *testing.T) {
	options := newTestRasterOptions()
	input := writeTestRaster(t, "utm.tif", options)
	output := filepath.Join(t.TempDir(), "utm.tif")

	metadata, err := ReprojectRaster(t.Context(), input, output, options.crs)
	assert.NoError(t, err)
	assert.Equal(t, options.width, metadata.Width)
	assert.Equal(t, options.height, metadata.Height)
	for i := range metadata.Transform {
		assertInDelta(t, options.transform[i], metadata.Transform[i], 1e-6)
	}
	assert.Equal(t, testRasterValues(options, 1), readBand(t, output, 1))
}

func TestReprojectRasterNoNoData(t *testing.T) {
	options := newTestRasterOptions()
	options.noData = nil
	input := writeTestRaster(t, "utm.tif", options)
	output := filepath.Join(t.TempDir(), "geographic.tif")

	metadata, err := ReprojectRaster(t.Context(), input, output, EPSG4326)
	assert.NoError(t, err)
	assert.False(t, metadata.HasNoData)
	assert.Equal(t, "None", metadata.NoDataString())
}

func TestReprojectRasterNaNNoData(t *testing.T) {
	options := newTestRasterOptions()
	noData := math.NaN()
	options.noData = &noData
	input := writeTestRaster(t, "utm.tif", options)
	output := filepath.Join(t.TempDir(), "geographic.tif")

	metadata, err := ReprojectRaster(t.Context(), input, output, EPSG4326)
	assert.NoError(t, err)
	assert.True(t, metadata.HasNoData)
	assert.True(t, math.IsNaN(metadata.NoData))
}

func TestReprojectRasterSourceCRSOverride(t *testing.T) {
	options := newTestRasterOptions()
	options.crs = ""
	input := writeTestRaster(t, "nocrs.tif", options)
	dir := t.TempDir()

	_, err := ReprojectRaster(t.Context(), input, filepath.Join(dir, "a.tif"), EPSG4326)
	assert.IsError(t, err, ErrMissingCRS)
	assertNotExist(t, filepath.Join(dir, "a.tif"))

	metadata, err := ReprojectRaster(t.Context(), input, filepath.Join(dir, "b.tif"), EPSG4326, WithSourceCRS("EPSG:32613"))
	assert.NoError(t, err)
	assert.Equal(t, EPSG4326, metadata.CRS)
}

func TestReprojectRasterOptions(t *testing.T) {
	input := writeTestRaster(t, "utm.tif", newTestRasterOptions())
	output := filepath.Join(t.TempDir(), "geographic.tif")

	metadata, err := ReprojectRaster(t.Context(), input, output, EPSG4326,
		WithResampling(Bilinear),
		WithCreationOptions("COMPRESS=DEFLATE"),
		WithNumThreads(2),
	)
	assert.NoError(t, err)
	assert.Equal(t, EPSG4326, metadata.CRS)
}

func TestReprojectRasterErrors(t *testing.T) {
	input := writeTestRaster(t, "utm.tif", newTestRasterOptions())
	dir := t.TempDir()

	t.Run("missing_input", func(t *testing.T) {
		output := filepath.Join(dir, "missing.tif")
		_, err := ReprojectRaster(t.Context(), filepath.Join(dir, "nonexistent.tif"), output, EPSG4326)
		assert.IsError(t, err, ErrInput)
		assertNotExist(t, output)
	})

	t.Run("invalid_input", func(t *testing.T) {
		notARaster := filepath.Join(dir, "not_a_raster.tif")
		assert.NoError(t, os.WriteFile(notARaster, []byte("not a raster"), 0o666))
		output := filepath.Join(dir, "invalid.tif")
		_, err := ReprojectRaster(t.Context(), notARaster, output, EPSG4326)
		assert.IsError(t, err, ErrInput)
		assertNotExist(t, output)
	})

	t.Run("invalid_dst_crs", func(t *testing.T) {
		output := filepath.Join(dir, "invalid_crs.tif")
		_, err := ReprojectRaster(t.Context(), input, output, "EPSG:999999")
		assert.IsError(t, err, ErrInvalidCRS)
		assertNotExist(t, output)
	})

	t.Run("invalid_src_crs", func(t *testing.T) {
		output := filepath.Join(dir, "invalid_src_crs.tif")
		_, err := ReprojectRaster(t.Context(), input, output, EPSG4326, WithSourceCRS("not a crs"))
		assert.IsError(t, err, ErrInvalidCRS)
		assertNotExist(t, output)
	})

	t.Run("unwritable_output", func(t *testing.T) {
		output := filepath.Join(dir, "nonexistent", "output.tif")
		_, err := ReprojectRaster(t.Context(), input, output, EPSG4326)
		assert.IsError(t, err, ErrOutput)
		assertNotExist(t, output)
	})

	t.Run("output_is_input", func(t *testing.T) {
		_, err := ReprojectRaster(t.Context(), input, input, EPSG4326)
		assert.IsError(t, err, ErrOutput)
		_, err = os.Stat(input)
		assert.NoError(t, err)
	})

	t.Run("output_is_directory", func(t *testing.T) {
		output := filepath.Join(dir, "directory")
		assert.NoError(t, os.Mkdir(output, 0o777))
		_, err := ReprojectRaster(t.Context(), input, output, EPSG4326)
		assert.IsError(t, err, ErrOutput)
		info, err := os.Stat(output)
		assert.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("output_is_symlink_to_input", func(t *testing.T) {
		before, err := os.ReadFile(input)
		assert.NoError(t, err)
		output := filepath.Join(dir, "symlink.tif")
		assert.NoError(t, os.Symlink(input, output))
		_, err = ReprojectRaster(t.Context(), input, output, EPSG4326)
		assert.IsError(t, err, ErrOutput)
		after, err := os.ReadFile(input)
		assert.NoError(t, err)
		assert.True(t, bytes.Equal(before, after))
	})

	t.Run("output_is_hard_link_to_input", func(t *testing.T) {
		output := filepath.Join(dir, "hardlink.tif")
		assert.NoError(t, os.Link(input, output))
		_, err := ReprojectRaster(t.Context(), input, output, EPSG4326)
		assert.IsError(t, err, ErrOutput)
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		output := filepath.Join(dir, "canceled.tif")
		_, err := ReprojectRaster(ctx, input, output, EPSG4326)
		assert.IsError(t, err, context.Canceled)
		assertNotExist(t, output)
	})
}

// cancelHandler is a slog.Handler that calls cancel when it handles a record
// with message.
type cancelHandler struct {
	message string
	cancel  context.CancelFunc
}

func (h *cancelHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *cancelHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Message == h.message {
		h.cancel()
	}
	return nil
}

func (h *cancelHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *cancelHandler) WithGroup(string) slog.Handler { return h }

func TestReprojectRasterCanceledDuringWarp(t *testing.T) {
	options := newTestRasterOptions()
	options.count = 3
	input := writeTestRaster(t, "utm.tif", options)

	for _, tc := range []struct {
		name              string
		keepPartialOutput bool
	}{
		{name: "remove_partial_output"},
		{name: "keep_partial_output", keepPartialOutput: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			logger := slog.New(&cancelHandler{
				message: "warped band",
				cancel:  cancel,
			})
			output := filepath.Join(t.TempDir(), "geographic.tif")

			_, err := ReprojectRaster(ctx, input, output, EPSG4326,
				WithLogger(logger),
				WithKeepPartialOutput(tc.keepPartialOutput),
			)
			assert.IsError(t, err, context.Canceled)

			if tc.keepPartialOutput {
				_, err := os.Stat(output)
				assert.NoError(t, err)
			} else {
				assertNotExist(t, output)
			}
		})
	}
}

func TestReprojectRasterNonGeoTIFFSource(t *testing.T) {
	options := newTestRasterOptions()
	utm := writeTestRaster(t, "utm.tif", options)
	input := filepath.Join(t.TempDir(), "utm.img")
	ds, err := godal.Open(utm, godal.RasterOnly())
	assert.NoError(t, err)
	hfa, err := ds.Translate(input, []string{"-of", "HFA"})
	assert.NoError(t, err)
	assert.NoError(t, hfa.Close())
	assert.NoError(t, ds.Close())

	report, err := Inspect(t.Context(), input)
	assert.NoError(t, err)
	assert.Equal(t, "", report.Metadata.Driver)
	assert.Contains(t, report.String(), "driver:    unknown\n")

	output := filepath.Join(t.TempDir(), "geographic.tif")
	metadata, err := ReprojectRaster(t.Context(), input, output, EPSG4326)
	assert.NoError(t, err)
	assert.Equal(t, DriverGTiff, metadata.Driver)
}

func TestReprojectRasterOverwritesOutput(t *testing.T) {
	input := writeTestRaster(t, "utm.tif", newTestRasterOptions())
	output := filepath.Join(t.TempDir(), "geographic.tif")
	assert.NoError(t, os.WriteFile(output, []byte("stale"), 0o666))

	_, err := ReprojectRaster(t.Context(), input, output, EPSG4326)
	assert.NoError(t, err)
	data, err := os.ReadFile(output)
	assert.NoError(t, err)
	assert.False(t, bytes.Equal([]byte("stale"), data))
}

// TestReprojectRasterPreDTM reprojects a lidar-derived DTM of Boulder,
// Colorado, from UTM zone 13N to WGS 84.
func TestReprojectRasterPreDTM(t *testing.T) {
	input := filepath.Join("testdata", "pre_DTM.tif")
	if _, err := os.Stat(input); errors.Is(err, fs.ErrNotExist) {
		t.Skip(err)
	}
	output := filepath.Join(t.TempDir(), "pre_DTM_4326.tif")

	srcMetadata, err := readMetadata(input)
	assert.NoError(t, err)

	metadata, err := ReprojectRaster(t.Context(), input, output, EPSG4326)
	assert.NoError(t, err)

	assert.Equal(t, EPSG4326, metadata.CRS)
	assert.Equal(t, 4179, metadata.Width)
	assert.Equal(t, 1614, metadata.Height)
	assert.Equal(t, srcMetadata.DataType, metadata.DataType)
	assert.Equal(t, srcMetadata.Count, metadata.Count)
	assert.Equal(t, srcMetadata.HasNoData, metadata.HasNoData)
	assert.Equal(t, srcMetadata.NoData, metadata.NoData)

	originX, originY := metadata.Transform.Origin()
	assertInDelta(t, -105.32837712340124, originX, 1e-7)
	assertInDelta(t, 40.073923431943214, originY, 1e-7)
	resX, resY := metadata.Transform.Res()
	assertInDelta(t, 1.124235e-05, resX, 1e-9)
	assertInDelta(t, 1.124235e-05, resY, 1e-9)
	assert.Equal(t, 0.0, metadata.Transform[2])
	assert.Equal(t, 0.0, metadata.Transform[4])

	values := readBand(t, output, 1)
	sourceValues := readBand(t, input, 1)
	slices.Sort(sourceValues)
	for _, value := range values {
		if metadata.HasNoData && float64(value) == metadata.NoData {
			continue
		}
		_, found := slices.BinarySearch(sourceValues, value)
		assert.True(t, found, "value %v is not a source value", value)
	}
}

func TestSameFile(t *testing.T) {
	assert.True(t, sameFile("a.tif", "./a.tif"))
	assert.False(t, sameFile("a.tif", "b.tif"))

	dir := t.TempDir()
	a := filepath.Join(dir, "a.tif")
	assert.NoError(t, os.WriteFile(a, nil, 0o666))
	symlink := filepath.Join(dir, "symlink.tif")
	assert.NoError(t, os.Symlink(a, symlink))
	hardLink := filepath.Join(dir, "hardlink.tif")
	assert.NoError(t, os.Link(a, hardLink))
	b := filepath.Join(dir, "b.tif")
	assert.NoError(t, os.WriteFile(b, nil, 0o666))

	assert.True(t, sameFile(a, symlink))
	assert.True(t, sameFile(a, hardLink))
	assert.False(t, sameFile(a, b))
	assert.False(t, sameFile(a, filepath.Join(dir, "nonexistent.tif")))
}

func assertNotExist(t *testing.T, name string) {
	t.Helper()
	_, err := os.Stat(name)
	assert.IsError(t, err, fs.ErrNotExist)
}

func assertInDelta(t *testing.T, expected, actual, delta float64) {
	t.Helper()
	assert.True(t, math.Abs(expected-actual) <= delta, "expected %v, got %v", expected, actual)
}
