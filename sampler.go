package reproject

import (
	"context"
	"io/fs"
	"math"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// A Sampler returns the values of the pixels containing coordinates. Pixel
// values are never interpolated. Recently used GeoTIFFs are kept open.
type Sampler struct {
	mutex          sync.Mutex
	fsys           fs.FS
	geoTIFFOptions []GeoTIFFOption
	cacheSize      int
	rasterCache    *lru.Cache[string, *GeoTIFFRaster]
}

// A SamplerOption sets an option on a Sampler.
type SamplerOption func(*Sampler)

// NewSampler returns a new Sampler with the given options.
func NewSampler(options ...SamplerOption) (*Sampler, error) {
	s := &Sampler{
		fsys:      osFS{},
		cacheSize: 8,
	}
	for _, option := range options {
		option(s)
	}

	var err error
	s.rasterCache, err = lru.NewWithEvict(s.cacheSize, func(_ string, raster *GeoTIFFRaster) {
		rasterCacheEvictions.Inc()
		_ = raster.Close()
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// WithCacheSize sets the number of GeoTIFFs that are kept open.
func WithCacheSize(cacheSize int) SamplerOption {
	return func(s *Sampler) {
		s.cacheSize = cacheSize
	}
}

// WithFS sets the filesystem that filenames are opened in. The default is the
// operating system's filesystem, with filenames interpreted as paths.
func WithFS(fsys fs.FS) SamplerOption {
	return func(s *Sampler) {
		s.fsys = fsys
	}
}

// WithGeoTIFFOptions sets the options used when opening GeoTIFFs.
func WithGeoTIFFOptions(geoTIFFOptions ...GeoTIFFOption) SamplerOption {
	return func(s *Sampler) {
		s.geoTIFFOptions = geoTIFFOptions
	}
}

// Samples returns the values of band of the GeoTIFF filename at coords.
// coords are in crs, with longitude before latitude for geographic CRSs. If
// crs is empty then coords are in the GeoTIFF's CRS. Nodata and coordinates
// outside the GeoTIFF are returned as NaNs.
func (s *Sampler) Samples(ctx context.Context, filename string, band int, crs string, coords [][]float64) ([]float64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	raster, err := s.getRasterCached(filename)
	if err != nil {
		return nil, err
	}

	rasterCoords := cloneCoords(coords)
	if crs != "" {
		srcCRS, err := NormalizeCRS(crs)
		if err != nil {
			return nil, err
		}
		dstCRS, err := raster.CRS()
		if err != nil {
			return nil, err
		}
		if err := TransformCoords(srcCRS, dstCRS, rasterCoords); err != nil {
			return nil, err
		}
	}

	pixels := make([]Pixel, len(rasterCoords))
	for i, coord := range rasterCoords {
		if math.IsInf(coord[0], 0) || math.IsInf(coord[1], 0) || math.IsNaN(coord[0]) || math.IsNaN(coord[1]) {
			pixels[i] = Pixel{C: -1, R: -1}
			continue
		}
		pixels[i] = raster.Pixel(coord[0], coord[1])
	}
	return raster.Samples(ctx, band, pixels)
}

// Close closes all open GeoTIFFs.
func (s *Sampler) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.rasterCache.Purge()
	return nil
}

// getRasterCached returns the GeoTIFF filename, using the cache if possible.
func (s *Sampler) getRasterCached(filename string) (*GeoTIFFRaster, error) {
	if raster, ok := s.rasterCache.Get(filename); ok {
		rasterCacheHits.Inc()
		return raster, nil
	}
	rasterCacheMisses.Inc()

	raster, err := OpenGeoTIFF(s.fsys, filename, s.geoTIFFOptions...)
	if err != nil {
		return nil, err
	}
	s.rasterCache.Add(filename, raster)
	return raster, nil
}

// An osFS is an fs.FS that opens paths in the operating system's filesystem.
// Unlike os.DirFS it accepts absolute and relative paths.
type osFS struct{}

func (osFS) Open(name string) (fs.File, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return file, nil
}
