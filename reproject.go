package reproject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/airbusgeo/godal"
)

// defaultGTiffCreationOptions are the creation options used for GeoTIFF
// output when none are given.
var defaultGTiffCreationOptions = []string{"TILED=YES", "COMPRESS=LZW"}

// A Reprojector reprojects raster datasets.
type Reprojector struct {
	srcCRS             string
	resampling         Resampling
	driver             string
	creationOptions    []string
	creationOptionsSet bool
	numThreads         int
	logger             *slog.Logger
	keepPartialOutput  bool
}

// An Option sets an option on a Reprojector.
type Option func(*Reprojector)

// NewReprojector returns a new Reprojector with the given options.
func NewReprojector(options ...Option) *Reprojector {
	r := &Reprojector{
		resampling: Nearest,
		logger:     slog.Default(),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// WithSourceCRS overrides the CRS of the source raster.
func WithSourceCRS(srcCRS string) Option {
	return func(r *Reprojector) {
		r.srcCRS = srcCRS
	}
}

// WithResampling sets the resampling method. The default is Nearest.
func WithResampling(resampling Resampling) Option {
	return func(r *Reprojector) {
		r.resampling = resampling
	}
}

// WithDriver sets the GDAL driver of the output. The default is the driver of
// the source, or GTiff if it cannot be determined. Only GeoTIFF sources are
// recognized, so sources in other formats are written as GeoTIFF unless
// WithDriver is given.
func WithDriver(driver string) Option {
	return func(r *Reprojector) {
		r.driver = driver
	}
}

// WithCreationOptions sets the driver-specific creation options of the
// output. The default for GTiff output is TILED=YES and COMPRESS=LZW.
func WithCreationOptions(creationOptions ...string) Option {
	return func(r *Reprojector) {
		r.creationOptions = creationOptions
		r.creationOptionsSet = true
	}
}

// WithNumThreads sets the number of threads GDAL uses when warping. Zero
// means GDAL's default.
func WithNumThreads(numThreads int) Option {
	return func(r *Reprojector) {
		r.numThreads = numThreads
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reprojector) {
		r.logger = logger
	}
}

// WithKeepPartialOutput sets whether the output of a failed reprojection is
// kept. By default it is removed.
func WithKeepPartialOutput(keepPartialOutput bool) Option {
	return func(r *Reprojector) {
		r.keepPartialOutput = keepPartialOutput
	}
}

// ReprojectRaster reprojects the raster at inputPath to dstCRS and writes the
// result to outputPath with a Reprojector configured with options.
func ReprojectRaster(ctx context.Context, inputPath, outputPath, dstCRS string, options ...Option) (*Metadata, error) {
	return NewReprojector(options...).ReprojectRaster(ctx, inputPath, outputPath, dstCRS)
}

// ReprojectRaster reprojects the raster at inputPath to dstCRS and writes the
// result to outputPath, creating or overwriting it. The output has the same
// data type, nodata value, and band count as the input, and a grid calculated
// by CalculateDefaultTransform. Each band is resampled independently. It
// returns the metadata of the output.
//
// Both datasets are closed on every path. If the reprojection fails then the
// output is removed, unless WithKeepPartialOutput was given, in which case it
// must be treated as invalid.
func (r *Reprojector) ReprojectRaster(ctx context.Context, inputPath, outputPath, dstCRS string) (_ *Metadata, err error) {
	start := time.Now()
	logger := r.logger.With("input", inputPath, "output", outputPath)
	defer func() {
		reprojectionDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			reprojections.WithLabelValues("failure").Inc()
			logger.Error("reprojection failed", "err", err)
		} else {
			reprojections.WithLabelValues("success").Inc()
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dstCRS, err = ValidateCRS(dstCRS)
	if err != nil {
		return nil, err
	}
	if sameFile(inputPath, outputPath) {
		return nil, fmt.Errorf("%w: %s: output would overwrite input", ErrOutput, outputPath)
	}

	var openOptions []OpenOption
	if r.srcCRS != "" {
		openOptions = append(openOptions, WithCRS(r.srcCRS))
	}
	src, err := Open(inputPath, openOptions...)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, src.Close())
	}()

	srcMetadata, err := src.Metadata()
	if err != nil {
		return nil, err
	}
	if srcMetadata.CRS == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingCRS, inputPath)
	}
	if srcMetadata.Count < 1 {
		return nil, fmt.Errorf("%w: %s: no bands", ErrInput, inputPath)
	}
	logger.Info("opened source",
		"crs", srcMetadata.CRS,
		"width", srcMetadata.Width,
		"height", srcMetadata.Height,
		"count", srcMetadata.Count,
	)

	grid, err := CalculateDefaultTransform(src, dstCRS)
	if err != nil {
		return nil, err
	}
	logger.Debug("calculated default transform",
		"crs", dstCRS,
		"transform", grid.Transform.String(),
		"width", grid.Width,
		"height", grid.Height,
	)

	dstMetadata := srcMetadata.WithGrid(dstCRS, grid)
	if r.driver != "" {
		dstMetadata.Driver = r.driver
	}
	if dstMetadata.Driver == "" {
		dstMetadata.Driver = DriverGTiff
	}

	dst, err := create(outputPath, dstMetadata, r.creationOptionsFor(dstMetadata.Driver))
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, dst.Close())
		if err != nil && !r.keepPartialOutput {
			err = errors.Join(err, removeOutput(outputPath))
		}
	}()

	switches := r.warpSwitches(src, srcMetadata)
	var warpIntoOptions []godal.DatasetWarpIntoOption
	if r.numThreads != 0 {
		warpIntoOptions = append(warpIntoOptions, godal.ConfigOption("GDAL_NUM_THREADS="+strconv.Itoa(r.numThreads)))
	}
	for band := 1; band <= srcMetadata.Count; band++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bandSwitches := append(slices.Clone(switches),
			"-srcband", strconv.Itoa(band),
			"-dstband", strconv.Itoa(band),
		)
		if err := dst.ds.WarpInto([]*godal.Dataset{src.ds}, bandSwitches, warpIntoOptions...); err != nil {
			return nil, fmt.Errorf("band %d: %w", band, err)
		}
		bandsWarped.Inc()
		logger.Debug("warped band", "band", band)
	}

	if err := dst.Close(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOutput, outputPath, err)
	}

	result, err := readMetadata(outputPath)
	if err != nil {
		return nil, err
	}
	logger.Info("reprojected",
		"crs", result.CRS,
		"width", result.Width,
		"height", result.Height,
		"duration", time.Since(start),
	)
	return result, nil
}

// creationOptionsFor returns the creation options for driver.
func (r *Reprojector) creationOptionsFor(driver string) []string {
	switch {
	case r.creationOptionsSet:
		return r.creationOptions
	case driver == DriverGTiff:
		return defaultGTiffCreationOptions
	default:
		return nil
	}
}

// warpSwitches returns the gdalwarp switches common to all bands.
func (r *Reprojector) warpSwitches(src *Dataset, srcMetadata *Metadata) []string {
	switches := []string{"-r", r.resampling.WarpName()}
	if src.srsOverride {
		switches = append(switches, "-s_srs", src.crs)
	}
	if srcMetadata.HasNoData {
		noData := strconv.FormatFloat(srcMetadata.NoData, 'g', -1, 64)
		switches = append(switches, "-srcnodata", noData, "-dstnodata", noData)
	}
	if r.numThreads != 0 {
		switches = append(switches, "-wo", "NUM_THREADS="+strconv.Itoa(r.numThreads))
	}
	return switches
}

// readMetadata returns the metadata of the raster at name.
func readMetadata(name string) (_ *Metadata, err error) {
	ds, err := Open(name)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, ds.Close())
	}()
	return ds.Metadata()
}

// sameFile returns whether a and b name the same file, following symbolic
// links and hard links. A path that does not exist is not the same file as
// any other.
func sameFile(a, b string) bool {
	if absA, err := filepath.Abs(a); err == nil {
		if absB, err := filepath.Abs(b); err == nil && absA == absB {
			return true
		}
	}
	infoA, err := os.Stat(a)
	if err != nil {
		return false
	}
	infoB, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(infoA, infoB)
}
