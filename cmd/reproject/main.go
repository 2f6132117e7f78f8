package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/twpayne/go-reproject"
)

type stringsFlag []string

func (f *stringsFlag) String() string {
	return strings.Join(*f, ",")
}

func (f *stringsFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}

func run() error {
	configFile := flag.String("config", "", "job config file")
	srcCRS := flag.String("s_srs", "", "source CRS override")
	dstCRS := flag.String("t_srs", envOr("REPROJECT_DST_CRS", reproject.EPSG4326), "destination CRS")
	resampling := flag.String("r", "nearest", "resampling method")
	driver := flag.String("of", "", "output driver")
	var creationOptions stringsFlag
	flag.Var(&creationOptions, "co", "creation option NAME=VALUE, may be repeated")
	numThreads := flag.Int("threads", 0, "warp threads, 0 for GDAL's default")
	keepPartialOutput := flag.Bool("keep-partial-output", false, "keep output of failed reprojections")
	metricsTextfile := flag.String("metrics-textfile", "", "write metrics to file")
	logLevel := flag.String("log-level", "info", "log level")
	info := flag.Bool("info", false, "print raster metadata")
	sample := flag.Bool("sample", false, "print pixel values at a coordinate")
	sampleCRS := flag.String("crs", "", "CRS of -sample coordinates")
	band := flag.Int("b", 1, "band for -sample")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if *metricsTextfile != "" {
		defer func() {
			if err := reproject.WriteMetrics(*metricsTextfile); err != nil {
				logger.Error("write metrics", "err", err)
			}
		}()
	}

	switch {
	case *info:
		if flag.NArg() != 1 {
			return errors.New("syntax: reproject -info path")
		}
		var openOptions []reproject.OpenOption
		if *srcCRS != "" {
			openOptions = append(openOptions, reproject.WithCRS(*srcCRS))
		}
		report, err := reproject.Inspect(ctx, flag.Arg(0), openOptions...)
		if err != nil {
			return err
		}
		_, err = report.WriteTo(os.Stdout)
		return err

	case *sample:
		if flag.NArg() != 3 {
			return errors.New("syntax: reproject -sample [-crs crs] path x y")
		}
		x, err := strconv.ParseFloat(flag.Arg(1), 64)
		if err != nil {
			return err
		}
		y, err := strconv.ParseFloat(flag.Arg(2), 64)
		if err != nil {
			return err
		}
		sampler, err := reproject.NewSampler(reproject.WithCacheSize(1))
		if err != nil {
			return err
		}
		defer sampler.Close()
		values, err := sampler.Samples(ctx, flag.Arg(0), *band, *sampleCRS, [][]float64{{x, y}})
		if err != nil {
			return err
		}
		fmt.Println(values[0])
		return nil
	}

	var job *reproject.Job
	if *configFile != "" {
		var err error
		job, err = reproject.LoadJob(*configFile)
		if err != nil {
			return err
		}
		if flag.NArg() != 0 {
			return errors.New("syntax: reproject -config job.hcl")
		}
	} else {
		if flag.NArg() != 2 {
			return errors.New("syntax: reproject [flags] input output")
		}
		job = &reproject.Job{
			Input:           flag.Arg(0),
			Output:          flag.Arg(1),
			DstCRS:          *dstCRS,
			SrcCRS:          *srcCRS,
			Resampling:      *resampling,
			Driver:          *driver,
			CreationOptions: creationOptions,
			NumThreads:      *numThreads,
		}
	}
	if err := job.Validate(); err != nil {
		return err
	}

	options, err := job.Options(logger)
	if err != nil {
		return err
	}
	options = append(options, reproject.WithKeepPartialOutput(*keepPartialOutput))
	metadata, err := reproject.ReprojectRaster(ctx, job.Input, job.Output, job.DstCRS, options...)
	if err != nil {
		return err
	}
	_, err = metadata.WriteTo(os.Stdout)
	return err
}

func envOr(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
