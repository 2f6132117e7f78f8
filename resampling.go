package reproject

import (
	"fmt"
	"strings"

	"github.com/airbusgeo/godal"
)

// A Resampling is a resampling method.
type Resampling int

// Resampling methods.
const (
	Nearest Resampling = iota
	Bilinear
	Cubic
	CubicSpline
	Lanczos
	Average
	Mode
	Max
	Min
	Median
	Q1
	Q3
	Sum
)

var resamplingAlgs = map[Resampling]godal.ResamplingAlg{
	Nearest:     godal.Nearest,
	Bilinear:    godal.Bilinear,
	Cubic:       godal.Cubic,
	CubicSpline: godal.CubicSpline,
	Lanczos:     godal.Lanczos,
	Average:     godal.Average,
	Mode:        godal.Mode,
	Max:         godal.Max,
	Min:         godal.Min,
	Median:      godal.Median,
	Q1:          godal.Q1,
	Q3:          godal.Q3,
	Sum:         godal.Sum,
}

var resamplingNames = map[Resampling]string{
	Nearest:     "nearest",
	Bilinear:    "bilinear",
	Cubic:       "cubic",
	CubicSpline: "cubic_spline",
	Lanczos:     "lanczos",
	Average:     "average",
	Mode:        "mode",
	Max:         "max",
	Min:         "min",
	Median:      "med",
	Q1:          "q1",
	Q3:          "q3",
	Sum:         "sum",
}

// ParseResampling parses a resampling method name. Names are case
// insensitive. Both GDAL's names (e.g. "near", "cubicspline") and rasterio's
// names (e.g. "nearest", "cubic_spline") are accepted.
func ParseResampling(s string) (Resampling, error) {
	switch name := strings.ToLower(strings.TrimSpace(s)); name {
	case "near", "nearest":
		return Nearest, nil
	case "cubicspline", "cubic_spline":
		return CubicSpline, nil
	case "med", "median":
		return Median, nil
	default:
		for resampling, resamplingName := range resamplingNames {
			if name == resamplingName {
				return resampling, nil
			}
		}
		return 0, fmt.Errorf("%s: unknown resampling method", s)
	}
}

// Alg returns the godal resampling algorithm of r.
func (r Resampling) Alg() godal.ResamplingAlg {
	return resamplingAlgs[r]
}

// WarpName returns the name of r as understood by gdalwarp's -r switch.
func (r Resampling) WarpName() string {
	if r == Nearest {
		return "near"
	}
	return r.Alg().String()
}

func (r Resampling) String() string {
	if name, ok := resamplingNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Resampling(%d)", int(r))
}
