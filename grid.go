package reproject

import (
	"errors"
	"fmt"
)

// CalculateDefaultTransform returns the grid that covers the footprint of src
// in dstCRS at a resolution that preserves src's ground sampling distance as
// closely as possible. The calculation is GDAL's suggested warp output, read
// from an in-memory VRT that is discarded without computing any pixels.
func CalculateDefaultTransform(src *Dataset, dstCRS string) (_ Grid, err error) {
	if src.ds == nil {
		return Grid{}, errors.New("dataset closed")
	}
	if src.crs == "" {
		return Grid{}, fmt.Errorf("%w: %s", ErrMissingCRS, src.name)
	}

	switches := append([]string{"-of", "VRT"}, src.warpCRSSwitches(dstCRS)...)
	vrt, err := src.ds.Warp("", switches)
	if err != nil {
		return Grid{}, err
	}
	defer func() {
		err = errors.Join(err, vrt.Close())
	}()

	transform, err := vrt.GeoTransform()
	if err != nil {
		return Grid{}, err
	}
	structure := vrt.Structure()
	return Grid{
		Transform: transform,
		Width:     structure.SizeX,
		Height:    structure.SizeY,
	}, nil
}
