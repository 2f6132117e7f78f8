package reproject

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// A Report describes a raster dataset.
type Report struct {
	Metadata *Metadata
	Bounds   Bounds

	// GeographicBounds are the bounds in EPSG:4326, if they could be
	// calculated.
	GeographicBounds *Bounds

	// GeoKeys are the raw GeoKeys of GeoTIFF datasets.
	GeoKeys *ParsedGeoKeys
}

// Inspect returns a report on the raster dataset at name. The dataset is
// opened for reading and closed before Inspect returns.
func Inspect(ctx context.Context, name string, options ...OpenOption) (_ *Report, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ds, err := Open(name, options...)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, ds.Close())
	}()

	metadata, err := ds.Metadata()
	if err != nil {
		return nil, err
	}
	report := &Report{
		Metadata: metadata,
		Bounds:   metadata.Bounds(),
	}

	if metadata.CRS != "" {
		if geographicBounds, err := TransformBounds(metadata.CRS, EPSG4326, report.Bounds); err == nil {
			report.GeographicBounds = &geographicBounds
		}
	}

	if metadata.Driver == DriverGTiff {
		if geoKeys, err := readGeoKeys(name); err == nil {
			report.GeoKeys = geoKeys
		}
	}

	return report, nil
}

// WriteTo writes a human readable version of r to w.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	_, _ = r.Metadata.WriteTo(&sb)
	if r.GeographicBounds != nil {
		fmt.Fprintf(&sb, "lonlat:    %s\n", r.GeographicBounds)
	}
	if r.GeoKeys != nil {
		if code, ok := r.GeoKeys.EPSG(); ok {
			fmt.Fprintf(&sb, "geokeys:   EPSG:%d\n", code)
		}
		for _, key := range r.GeoKeys.SortedKeys() {
			fmt.Fprintf(&sb, "  %-5d %s\n", key, r.GeoKeys.Value(key))
		}
	}
	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func (r *Report) String() string {
	var sb strings.Builder
	_, _ = r.WriteTo(&sb)
	return sb.String()
}

// readGeoKeys reads the GeoKeys of the GeoTIFF at name.
func readGeoKeys(name string) (*ParsedGeoKeys, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	ifd, err := parseGeoTIFFIFD(file)
	if err != nil {
		return nil, err
	}
	return ifd.geoKeys()
}
