package reproject

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/google/tiff"
)

// DriverGTiff is the name of GDAL's GeoTIFF driver.
const DriverGTiff = "GTiff"

var registerDriversOnce sync.Once

func registerDrivers() {
	registerDriversOnce.Do(godal.RegisterAll)
}

// A Dataset is an open GDAL raster dataset. A Dataset must be closed with
// Close when it is no longer needed.
type Dataset struct {
	name        string
	ds          *godal.Dataset
	driver      string
	crs         string
	srsOverride bool
}

// An OpenOption sets an option on Open.
type OpenOption func(*openOptions)

type openOptions struct {
	crs string
}

// WithCRS overrides the CRS of the opened dataset. It is used when the
// dataset's embedded CRS is missing or incorrect.
func WithCRS(crs string) OpenOption {
	return func(o *openOptions) {
		o.crs = crs
	}
}

// Open opens the raster dataset name for reading.
func Open(name string, options ...OpenOption) (*Dataset, error) {
	var o openOptions
	for _, option := range options {
		option(&o)
	}

	var crs string
	if o.crs != "" {
		var err error
		crs, err = ValidateCRS(o.crs)
		if err != nil {
			return nil, err
		}
	}

	if !strings.HasPrefix(name, "/vsi") {
		if _, err := os.Stat(name); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInput, err)
		}
	}

	registerDrivers()
	ds, err := godal.Open(name, godal.RasterOnly())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInput, name, err)
	}

	d := &Dataset{
		name:   name,
		ds:     ds,
		driver: sniffDriver(name),
	}
	if crs != "" {
		d.crs = crs
		d.srsOverride = true
	} else {
		d.crs = datasetCRS(ds)
	}
	return d, nil
}

// create creates a new raster dataset with metadata m. crs must be a
// normalized CRS identifier.
func create(name string, m *Metadata, creationOptions []string) (*Dataset, error) {
	registerDrivers()

	driver := m.Driver
	if driver == "" {
		driver = DriverGTiff
	}
	var options []godal.DatasetCreateOption
	if len(creationOptions) > 0 {
		options = append(options, godal.CreationOption(creationOptions...))
	}
	ds, err := godal.Create(godal.DriverName(driver), name, m.Count, m.DataType, m.Width, m.Height, options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOutput, name, err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = ds.Close()
		}
	}()

	if err := ds.SetGeoTransform(m.Transform); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOutput, name, err)
	}
	sr, err := newSpatialRef(m.CRS)
	if err != nil {
		return nil, err
	}
	defer sr.Close()
	if err := ds.SetSpatialRef(sr); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOutput, name, err)
	}
	if m.HasNoData {
		for _, band := range ds.Bands() {
			if err := band.SetNoData(m.NoData); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrOutput, name, err)
			}
			if err := band.Fill(m.NoData, 0); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrOutput, name, err)
			}
		}
	}

	ok = true
	return &Dataset{
		name:   name,
		ds:     ds,
		driver: driver,
		crs:    m.CRS,
	}, nil
}

// Close releases d. It is safe to call Close more than once.
func (d *Dataset) Close() error {
	if d.ds == nil {
		return nil
	}
	err := d.ds.Close()
	d.ds = nil
	return err
}

// Name returns the name d was opened with.
func (d *Dataset) Name() string {
	return d.name
}

// CRS returns d's CRS, or the empty string if d has no CRS. If d was opened
// with WithCRS then the override is returned.
func (d *Dataset) CRS() string {
	return d.crs
}

// Metadata returns d's metadata. The nodata value is the nodata value of the
// first band.
func (d *Dataset) Metadata() (*Metadata, error) {
	if d.ds == nil {
		return nil, fs.ErrClosed
	}
	structure := d.ds.Structure()
	transform, err := d.ds.GeoTransform()
	if err != nil {
		transform = IdentityGeoTransform
	}
	m := &Metadata{
		Driver:    d.driver,
		DataType:  structure.DataType,
		Width:     structure.SizeX,
		Height:    structure.SizeY,
		Count:     structure.NBands,
		CRS:       d.crs,
		Transform: transform,
	}
	if bands := d.ds.Bands(); len(bands) > 0 {
		m.NoData, m.HasNoData = bands[0].NoData()
	}
	return m, nil
}

// warpCRSSwitches returns the gdalwarp switches that describe d's CRS and
// the destination CRS dstCRS.
func (d *Dataset) warpCRSSwitches(dstCRS string) []string {
	var switches []string
	if d.srsOverride {
		switches = append(switches, "-s_srs", d.crs)
	}
	return append(switches, "-t_srs", dstCRS)
}

// datasetCRS returns an identifier for ds's CRS. EPSG CRSs are returned as
// "EPSG:<code>", other CRSs as WKT.
func datasetCRS(ds *godal.Dataset) string {
	wkt := ds.Projection()
	if wkt == "" {
		return ""
	}
	sr := ds.SpatialRef()
	if sr == nil {
		return wkt
	}
	defer sr.Close()
	if authorityName, authorityCode := sr.AuthorityName(""), sr.AuthorityCode(""); strings.EqualFold(authorityName, "EPSG") && authorityCode != "" {
		return "EPSG:" + authorityCode
	}
	return wkt
}

// sniffDriver returns the GDAL driver name for name if it can be determined
// without GDAL, or the empty string otherwise. godal does not expose the
// driver of an open dataset, so only GeoTIFFs are recognized.
func sniffDriver(name string) string {
	file, err := os.Open(name)
	if err != nil {
		return ""
	}
	defer file.Close()
	if _, err := tiff.Parse(file, tiff.GetTagSpace("GeoTIFF"), nil); err != nil {
		return ""
	}
	return DriverGTiff
}

// removeOutput removes the output name after a failed reprojection.
func removeOutput(name string) error {
	if strings.HasPrefix(name, "/vsi") {
		return nil
	}
	if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
