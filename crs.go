package reproject

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/twpayne/go-proj/v10"
)

// EPSG4326 is WGS 84 longitude/latitude.
const EPSG4326 = "EPSG:4326"

// transformBoundsDensifyPoints is the number of points added along each edge
// of a bounding box before it is transformed, so that curved edges are
// accounted for.
const transformBoundsDensifyPoints = 21

var epsgRx = regexp.MustCompile(`(?i)\A\s*epsg:(\d+)\s*\z`)

// NormalizeCRS returns a canonical form of the CRS identifier crs. EPSG
// identifiers in any case and bare EPSG codes are returned as "EPSG:<code>".
// Other identifiers, such as WKT or PROJ strings, are returned with
// surrounding whitespace removed.
func NormalizeCRS(crs string) (string, error) {
	crs = strings.TrimSpace(crs)
	if crs == "" {
		return "", fmt.Errorf("%w: empty identifier", ErrInvalidCRS)
	}
	if m := epsgRx.FindStringSubmatch(crs); m != nil {
		code, err := strconv.Atoi(m[1])
		if err != nil || code <= 0 {
			return "", fmt.Errorf("%w: %s", ErrInvalidCRS, crs)
		}
		return "EPSG:" + strconv.Itoa(code), nil
	}
	if code, err := strconv.Atoi(crs); err == nil {
		if code <= 0 {
			return "", fmt.Errorf("%w: %s", ErrInvalidCRS, crs)
		}
		return "EPSG:" + strconv.Itoa(code), nil
	}
	return crs, nil
}

// EPSGCode returns the EPSG code of crs, if crs is an EPSG identifier.
func EPSGCode(crs string) (int, bool) {
	m := epsgRx.FindStringSubmatch(crs)
	if m == nil {
		return 0, false
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return code, true
}

// ValidateCRS returns the normalized form of crs if PROJ can interpret it.
func ValidateCRS(crs string) (string, error) {
	normalized, err := NormalizeCRS(crs)
	if err != nil {
		return "", err
	}
	pj, err := proj.New(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidCRS, crs, err)
	}
	pj.Destroy()
	return normalized, nil
}

// newSpatialRef returns a new GDAL spatial reference for crs. The caller must
// close it.
func newSpatialRef(crs string) (*godal.SpatialRef, error) {
	var sr *godal.SpatialRef
	var err error
	switch code, ok := EPSGCode(crs); {
	case ok:
		sr, err = godal.NewSpatialRefFromEPSG(code)
	case strings.HasPrefix(crs, "+"):
		sr, err = godal.NewSpatialRefFromProj4(crs)
	default:
		sr, err = godal.NewSpatialRefFromWKT(crs)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidCRS, crs, err)
	}
	return sr, nil
}

// A crsPair is a source and destination CRS.
type crsPair struct {
	src string
	dst string
}

// A transformerCache is a cache of PROJ transformations. PROJ objects are not
// safe for concurrent use, so the cache's mutex is held while a
// transformation is used.
type transformerCache struct {
	mutex sync.Mutex
	cache *lru.Cache[crsPair, *proj.PJ]
}

var transformers = newTransformerCache(16)

func newTransformerCache(size int) *transformerCache {
	cache, err := lru.NewWithEvict(size, func(_ crsPair, pj *proj.PJ) {
		pj.Destroy()
	})
	if err != nil {
		panic(err)
	}
	return &transformerCache{
		cache: cache,
	}
}

// with calls f with a transformation from src to dst. Coordinates are in
// traditional GIS order, i.e. longitude before latitude.
func (c *transformerCache) with(src, dst string, f func(*proj.PJ) error) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	key := crsPair{src: src, dst: dst}
	pj, ok := c.cache.Get(key)
	if !ok {
		crsToCRS, err := proj.NewCRSToCRS(src, dst, nil)
		if err != nil {
			return fmt.Errorf("%w: %s to %s: %w", ErrInvalidCRS, src, dst, err)
		}
		pj, err = crsToCRS.NormalizeForVisualization()
		crsToCRS.Destroy()
		if err != nil {
			return err
		}
		c.cache.Add(key, pj)
	}
	return f(pj)
}

// TransformBounds transforms bounds from src to dst. The edges of bounds are
// densified so that the result contains the whole transformed region.
func TransformBounds(src, dst string, bounds Bounds) (Bounds, error) {
	var result Bounds
	err := transformers.with(src, dst, func(pj *proj.PJ) error {
		projBounds, err := pj.TransBounds(proj.DirectionFwd, proj.Bounds{
			XMin: bounds.Left,
			YMin: bounds.Bottom,
			XMax: bounds.Right,
			YMax: bounds.Top,
		}, transformBoundsDensifyPoints)
		if err != nil {
			return err
		}
		result = Bounds{
			Left:   projBounds.XMin,
			Bottom: projBounds.YMin,
			Right:  projBounds.XMax,
			Top:    projBounds.YMax,
		}
		return nil
	})
	return result, err
}

// TransformCoords transforms coords from src to dst in place.
func TransformCoords(src, dst string, coords [][]float64) error {
	if src == dst || len(coords) == 0 {
		return nil
	}
	return transformers.with(src, dst, func(pj *proj.PJ) error {
		return pj.ForwardFloat64Slices(coords)
	})
}

func cloneCoords(coords [][]float64) [][]float64 {
	clonedCoordsFlat := make([]float64, 2*len(coords))
	clonedCoords := make([][]float64, len(coords))
	for i, coord := range coords {
		copy(clonedCoordsFlat[2*i:2*i+2], coord)
		clonedCoords[i] = clonedCoordsFlat[2*i : 2*i+2]
	}
	return clonedCoords
}
