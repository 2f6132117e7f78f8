package reproject

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
)

// A Job describes a single reprojection.
type Job struct {
	Input           string   `hcl:"input"`
	Output          string   `hcl:"output"`
	DstCRS          string   `hcl:"dst_crs,optional"`
	SrcCRS          string   `hcl:"src_crs,optional"`
	Resampling      string   `hcl:"resampling,optional"`
	Driver          string   `hcl:"driver,optional"`
	CreationOptions []string `hcl:"creation_options,optional"`
	NumThreads      int      `hcl:"num_threads,optional"`
}

// LoadJob loads a job from the HCL or JSON file filename. Expressions in the
// file can refer to environment variables as env.NAME.
func LoadJob(filename string) (*Job, error) {
	var job Job
	if err := hclsimple.DecodeFile(filename, jobEvalContext(os.Environ()), &job); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if job.DstCRS == "" {
		job.DstCRS = EPSG4326
	}
	return &job, nil
}

// Validate checks that j is complete.
func (j *Job) Validate() error {
	var errs []error
	if j.Input == "" {
		errs = append(errs, errors.New("input: required"))
	}
	if j.Output == "" {
		errs = append(errs, errors.New("output: required"))
	}
	if j.DstCRS == "" {
		errs = append(errs, errors.New("dst_crs: required"))
	}
	if j.Resampling != "" {
		if _, err := ParseResampling(j.Resampling); err != nil {
			errs = append(errs, fmt.Errorf("resampling: %w", err))
		}
	}
	if j.NumThreads < 0 {
		errs = append(errs, errors.New("num_threads: must not be negative"))
	}
	return errors.Join(errs...)
}

// Options returns the Reprojector options described by j.
func (j *Job) Options(logger *slog.Logger) ([]Option, error) {
	options := []Option{
		WithNumThreads(j.NumThreads),
	}
	if logger != nil {
		options = append(options, WithLogger(logger))
	}
	if j.SrcCRS != "" {
		options = append(options, WithSourceCRS(j.SrcCRS))
	}
	if j.Resampling != "" {
		resampling, err := ParseResampling(j.Resampling)
		if err != nil {
			return nil, err
		}
		options = append(options, WithResampling(resampling))
	}
	if j.Driver != "" {
		options = append(options, WithDriver(j.Driver))
	}
	if j.CreationOptions != nil {
		options = append(options, WithCreationOptions(j.CreationOptions...))
	}
	return options, nil
}

// jobEvalContext returns the evaluation context for job files with the
// environment variables environ.
func jobEvalContext(environ []string) *hcl.EvalContext {
	env := make(map[string]cty.Value, len(environ))
	for _, keyValue := range environ {
		if key, value, ok := strings.Cut(keyValue, "="); ok && key != "" {
			env[key] = cty.StringVal(value)
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(env),
		},
	}
}
