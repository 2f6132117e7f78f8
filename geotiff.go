package reproject

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"github.com/maypok86/otter/v2"
	"golang.org/x/image/tiff/lzw"
)

// TIFF field values.
const (
	compressionNone        = 1
	compressionLZW         = 5
	planarConfigChunky     = 1
	predictorNone          = 1
	sampleFormatIEEEFP     = 3
	rasterTypePixelIsPoint = 2
)

// A GeoTIFFRaster is an open GeoTIFF file that is read without GDAL. Only
// float32, pixel-interleaved, uncompressed or LZW-compressed GeoTIFFs with a
// north-up transform are supported, which includes the output of
// Reprojector for float32 rasters.
type GeoTIFFRaster struct {
	file                      *os.File
	byteOrder                 binary.ByteOrder
	imageWidth                int
	imageLength               int
	samplesPerPixel           int
	compression               int
	tiled                     bool
	tileWidth                 int
	tileLength                int
	tilesAcross               int
	tilesDown                 int
	tileOffsets               []uint64
	tileByteCounts            []uint64
	tileSampleCount           int
	tileByteCountUncompressed int
	tileCacheSizeBytes        int
	tileSamplesCache          *otter.Cache[TileCoord, []float32]
	transform                 GeoTransform
	inverseTransform          GeoTransform
	noData                    float32
	hasNoData                 bool
	geoKeys                   *ParsedGeoKeys
}

// A GeoTIFFOption sets an option on a GeoTIFFRaster.
type GeoTIFFOption func(*GeoTIFFRaster)

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth          uint32    `tiff:"field,tag=256"`
	ImageLength         uint32    `tiff:"field,tag=257"`
	BitsPerSample       []uint16  `tiff:"field,tag=258"`
	Compression         uint16    `tiff:"field,tag=259"`
	StripOffsets        []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel     uint16    `tiff:"field,tag=277"`
	RowsPerStrip        uint32    `tiff:"field,tag=278"`
	StripByteCounts     []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration uint16    `tiff:"field,tag=284"`
	Predictor           uint16    `tiff:"field,tag=317"`
	TileWidth           uint32    `tiff:"field,tag=322"`
	TileLength          uint32    `tiff:"field,tag=323"`
	TileOffsets         []uint64  `tiff:"field,tag=324"`
	TileByteCounts      []uint64  `tiff:"field,tag=325"`
	SampleFormat        []uint16  `tiff:"field,tag=339"`
	ModelPixelScaleTag  []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag    []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag  []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag  []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag   string    `tiff:"field,tag=34737"`
	GDALNoData          string    `tiff:"field,tag=42113"`
}

// parseGeoTIFFIFD parses the first IFD of the TIFF in file.
func parseGeoTIFFIFD(file *os.File) (*geoTIFFIFD, error) {
	tiffTIFF, err := tiff.Parse(file, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, err
	}
	ifds := tiffTIFF.IFDs()
	if len(ifds) == 0 {
		return nil, errors.New("no IFDs")
	}
	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(ifds[0], &ifd); err != nil {
		return nil, err
	}
	return &ifd, nil
}

// geoKeys returns the parsed GeoKeys of ifd.
func (ifd *geoTIFFIFD) geoKeys() (*ParsedGeoKeys, error) {
	if len(ifd.GeoKeyDirectoryTag) == 0 {
		return nil, ErrMissingCRS
	}
	return ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
}

// OpenGeoTIFF opens the GeoTIFF filename in fsys. fsys must be backed by the
// operating system's filesystem, e.g. os.DirFS.
func OpenGeoTIFF(fsys fs.FS, filename string, options ...GeoTIFFOption) (*GeoTIFFRaster, error) {
	var err error
	ok := false

	r := &GeoTIFFRaster{
		tileCacheSizeBytes: 128 << 20, // 128MB.
	}
	for _, option := range options {
		option(r)
	}

	file, err := fsys.Open(filename)
	if err != nil {
		return nil, err
	}
	osFile, isOSFile := file.(*os.File)
	if !isOSFile {
		_ = file.Close()
		return nil, errors.ErrUnsupported
	}
	r.file = osFile
	defer func() {
		if !ok {
			_ = r.file.Close()
		}
	}()

	if r.byteOrder, err = readByteOrder(r.file); err != nil {
		return nil, err
	}

	ifd, err := parseGeoTIFFIFD(r.file)
	if err != nil {
		return nil, err
	}

	if !allEqual(ifd.BitsPerSample, 32) ||
		!allEqual(ifd.SampleFormat, sampleFormatIEEEFP) ||
		(ifd.Compression != compressionNone && ifd.Compression != compressionLZW) ||
		(ifd.Predictor != 0 && ifd.Predictor != predictorNone) ||
		(ifd.PlanarConfiguration != 0 && ifd.PlanarConfiguration != planarConfigChunky) ||
		len(ifd.ModelPixelScaleTag) != 3 ||
		len(ifd.ModelTiepointTag) != 6 {
		return nil, errors.ErrUnsupported
	}

	r.imageWidth = int(ifd.ImageWidth)
	r.imageLength = int(ifd.ImageLength)
	r.samplesPerPixel = max(int(ifd.SamplesPerPixel), 1)
	r.compression = int(ifd.Compression)
	if ifd.TileWidth != 0 {
		r.tiled = true
		r.tileWidth = int(ifd.TileWidth)
		r.tileLength = int(ifd.TileLength)
		r.tileOffsets = ifd.TileOffsets
		r.tileByteCounts = ifd.TileByteCounts
	} else {
		r.tileWidth = r.imageWidth
		r.tileLength = int(ifd.RowsPerStrip)
		if r.tileLength == 0 || r.tileLength > r.imageLength {
			r.tileLength = r.imageLength
		}
		r.tileOffsets = ifd.StripOffsets
		r.tileByteCounts = ifd.StripByteCounts
	}
	if r.tileWidth <= 0 || r.tileLength <= 0 {
		return nil, errors.ErrUnsupported
	}
	r.tilesAcross = (r.imageWidth + r.tileWidth - 1) / r.tileWidth
	r.tilesDown = (r.imageLength + r.tileLength - 1) / r.tileLength
	tilesPerImage := r.tilesAcross * r.tilesDown
	if len(r.tileByteCounts) != tilesPerImage || len(r.tileOffsets) != tilesPerImage {
		return nil, errors.New("incorrect number of tile byte counts or offsets")
	}
	r.tileSampleCount = r.tileWidth * r.tileLength * r.samplesPerPixel
	r.tileByteCountUncompressed = 4 * r.tileSampleCount

	tileCacheCount := max(r.tileCacheSizeBytes/r.tileByteCountUncompressed, 1)
	r.tileSamplesCache, err = otter.New(&otter.Options[TileCoord, []float32]{
		MaximumSize: tileCacheCount,
	})
	if err != nil {
		return nil, err
	}

	if noData := strings.TrimSpace(strings.TrimRight(ifd.GDALNoData, "\x00")); noData != "" {
		value, err := strconv.ParseFloat(noData, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid nodata value: %w", noData, err)
		}
		r.noData = float32(value)
		r.hasNoData = true
	}

	if len(ifd.GeoKeyDirectoryTag) != 0 {
		if r.geoKeys, err = ifd.geoKeys(); err != nil {
			return nil, err
		}
	}

	scaleX, scaleY, scaleZ := ifd.ModelPixelScaleTag[0], ifd.ModelPixelScaleTag[1], ifd.ModelPixelScaleTag[2]
	if scaleX == 0 || scaleY == 0 || scaleZ != 0 {
		return nil, errors.ErrUnsupported
	}
	i, j := ifd.ModelTiepointTag[0], ifd.ModelTiepointTag[1]
	x, y := ifd.ModelTiepointTag[3], ifd.ModelTiepointTag[4]
	originX := x - i*scaleX
	originY := y + j*scaleY
	if r.geoKeys != nil && r.geoKeys.Params[GeoKeyGTRasterType] == rasterTypePixelIsPoint {
		originX -= scaleX / 2
		originY += scaleY / 2
	}
	r.transform = NewGeoTransform(originX, originY, scaleX, scaleY)
	r.inverseTransform, _ = r.transform.Inverse()

	ok = true
	return r, nil
}

// WithTileCacheSize sets the size of the tile cache in bytes.
func WithTileCacheSize(tileCacheSize int) GeoTIFFOption {
	return func(r *GeoTIFFRaster) {
		r.tileCacheSizeBytes = tileCacheSize
	}
}

// Close closes r.
func (r *GeoTIFFRaster) Close() error {
	return r.file.Close()
}

// Size returns r's width and height in pixels.
func (r *GeoTIFFRaster) Size() (int, int) {
	return r.imageWidth, r.imageLength
}

// Count returns r's number of bands.
func (r *GeoTIFFRaster) Count() int {
	return r.samplesPerPixel
}

// Transform returns r's GeoTransform.
func (r *GeoTIFFRaster) Transform() GeoTransform {
	return r.transform
}

// NoData returns r's nodata value, if any.
func (r *GeoTIFFRaster) NoData() (float64, bool) {
	return float64(r.noData), r.hasNoData
}

// CRS returns r's CRS as an EPSG identifier.
func (r *GeoTIFFRaster) CRS() (string, error) {
	if r.geoKeys == nil {
		return "", ErrMissingCRS
	}
	return r.geoKeys.CRS()
}

// GeoKeys returns r's GeoKeys, or nil if r has none.
func (r *GeoTIFFRaster) GeoKeys() *ParsedGeoKeys {
	return r.geoKeys
}

// Pixel returns the pixel containing the world coordinate (x, y).
func (r *GeoTIFFRaster) Pixel(x, y float64) Pixel {
	col, row := r.inverseTransform.Apply(x, y)
	return Pixel{
		C: int(math.Floor(col)),
		R: int(math.Floor(row)),
	}
}

// Sample returns a single sample from band of r. Bands are numbered from 1.
// Nodata and pixels outside r are returned as NaN.
func (r *GeoTIFFRaster) Sample(ctx context.Context, band int, pixel Pixel) (float64, error) {
	samples, err := r.Samples(ctx, band, []Pixel{pixel})
	if err != nil {
		return 0, err
	}
	return samples[0], nil
}

// Samples returns multiple samples from band of r. It is significantly faster
// than calling [Sample] for each pixel.
func (r *GeoTIFFRaster) Samples(ctx context.Context, band int, pixels []Pixel) ([]float64, error) {
	if band < 1 || r.samplesPerPixel < band {
		return nil, fmt.Errorf("%d: invalid band", band)
	}

	samples := make([]float64, len(pixels))

	// Group indexes by tile coord.
	indexesByTileCoord := make(map[TileCoord][]int)
	for index, pixel := range pixels {
		tileCoord, ok := r.tileCoord(pixel)
		if !ok {
			samples[index] = math.NaN()
			continue
		}
		indexesByTileCoord[tileCoord] = append(indexesByTileCoord[tileCoord], index)
	}

	// Populate samples one tile at a time.
	for tileCoord, indexes := range indexesByTileCoord {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slices.Sort(indexes)
		tileSamples, err := r.getTileSamplesCached(ctx, tileCoord)
		if err != nil {
			return nil, err
		}
		for _, index := range indexes {
			samples[index] = r.tileSample(tileSamples, band, pixels[index])
		}
	}

	return samples, nil
}

// getTileSamplesCached returns the samples of the tile at tileCoord using r's
// cache. Empty tiles are returned as nil.
func (r *GeoTIFFRaster) getTileSamplesCached(ctx context.Context, tileCoord TileCoord) ([]float32, error) {
	tileCacheLookups.Inc()
	return r.tileSamplesCache.Get(ctx, tileCoord, otter.LoaderFunc[TileCoord, []float32](r.getTileSamples))
}

// getTileSamples returns the samples of the tile at tileCoord. Sparse tiles,
// which have no data in the file, are returned as nil.
func (r *GeoTIFFRaster) getTileSamples(ctx context.Context, tileCoord TileCoord) ([]float32, error) {
	tileCacheMisses.Inc()
	tileIndex := tileCoord.C + r.tilesAcross*tileCoord.R
	tileByteCount := r.tileByteCounts[tileIndex]
	tileOffset := r.tileOffsets[tileIndex]
	if tileByteCount == 0 {
		return nil, nil
	}

	compressedData := make([]byte, tileByteCount)
	switch n, err := r.file.ReadAt(compressedData, int64(tileOffset)); {
	case n != int(tileByteCount):
		return nil, errShortRead
	case err != nil && !errors.Is(err, io.EOF):
		return nil, err
	}

	// The last strip of a stripped image may be shorter than the others.
	byteCount := r.tileByteCountUncompressed
	if !r.tiled {
		rows := min(r.tileLength, r.imageLength-tileCoord.R*r.tileLength)
		byteCount = 4 * rows * r.tileWidth * r.samplesPerPixel
	}

	tileData, err := r.decompressTileData(compressedData, byteCount)
	if err != nil {
		return nil, err
	}
	return r.decodeTileData(tileData), nil
}

// decompressTileData decompresses byteCount bytes from compressedData.
func (r *GeoTIFFRaster) decompressTileData(compressedData []byte, byteCount int) ([]byte, error) {
	switch r.compression {
	case compressionNone:
		if len(compressedData) < byteCount {
			return nil, errShortRead
		}
		return compressedData[:byteCount], nil
	case compressionLZW:
		tileData := make([]byte, byteCount)
		lzwReader := lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
		defer lzwReader.Close()
		if _, err := io.ReadFull(lzwReader, tileData); err != nil {
			return nil, err
		}
		return tileData, nil
	default:
		return nil, errors.ErrUnsupported
	}
}

// decodeTileData decodes tileData into a full tile of samples. Samples beyond
// the end of tileData are left as zero.
func (r *GeoTIFFRaster) decodeTileData(tileData []byte) []float32 {
	tileSamples := make([]float32, r.tileSampleCount)
	for i := range len(tileData) / 4 {
		tileSamples[i] = math.Float32frombits(r.byteOrder.Uint32(tileData[4*i : 4*(i+1)]))
	}
	return tileSamples
}

// tileCoord returns the tile coord for a given pixel.
func (r *GeoTIFFRaster) tileCoord(pixel Pixel) (TileCoord, bool) {
	if pixel.C < 0 || r.imageWidth <= pixel.C || pixel.R < 0 || r.imageLength <= pixel.R {
		return TileCoord{}, false
	}
	return TileCoord{
		C: pixel.C / r.tileWidth,
		R: pixel.R / r.tileLength,
	}, true
}

// tileSample returns the sample of band from tileSamples at pixel.
func (r *GeoTIFFRaster) tileSample(tileSamples []float32, band int, pixel Pixel) float64 {
	if tileSamples == nil {
		return math.NaN()
	}
	index := (pixel.C%r.tileWidth+(pixel.R%r.tileLength)*r.tileWidth)*r.samplesPerPixel + band - 1
	sample := tileSamples[index]
	if r.hasNoData && (sample == r.noData || (math.IsNaN(float64(r.noData)) && math.IsNaN(float64(sample)))) {
		return math.NaN()
	}
	return float64(sample)
}

// readByteOrder returns the byte order of the TIFF in file.
func readByteOrder(file *os.File) (binary.ByteOrder, error) {
	header := make([]byte, 2)
	if _, err := file.ReadAt(header, 0); err != nil {
		return nil, err
	}
	switch string(header) {
	case "II":
		return binary.LittleEndian, nil
	case "MM":
		return binary.BigEndian, nil
	default:
		return nil, errParse
	}
}

func allEqual(values []uint16, value uint16) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if v != value {
			return false
		}
	}
	return true
}
