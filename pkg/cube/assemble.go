package cube

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"fitscube/internal/models"
)

// Options configures a cube assembly run.
type Options struct {
	// Overwrite allows replacing an existing destination file.
	Overwrite bool

	// CreateBlanks regrids the resolved axis values onto an evenly spaced
	// sequence and leaves channels without a matching input at the no-data
	// sentinel.
	CreateBlanks bool

	// Override supersedes per-file axis-value derivation. Nil means derive
	// from each file's metadata.
	Override AxisOverride

	// MaxWorkers bounds the number of concurrent plane writes. Zero or
	// negative means one worker per available CPU.
	MaxWorkers int

	// TimeDomain stacks along time in seconds instead of frequency in Hz.
	// The algorithm is unchanged; only the axis semantics differ.
	TimeDomain bool

	// DefaultStep is the axis step used when only a single channel exists.
	// Zero means 1.
	DefaultStep float64

	// Logger receives diagnostics. Nil disables logging.
	Logger *zap.SugaredLogger
}

func (o *Options) kind() AxisKind {
	if o.TimeDomain {
		return TimeAxis
	}
	return FrequencyAxis
}

func (o *Options) logger() *zap.SugaredLogger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop().Sugar()
}

func (o *Options) workers() int {
	if o.MaxWorkers > 0 {
		return o.MaxWorkers
	}
	return runtime.NumCPU()
}

// Assemble combines the given single-plane images, in the given order, into
// one cube at outPath and returns the resolved axis-value sequence.
//
// All metadata validation (readability, shape agreement, axis-value
// cardinality) happens before the destination is touched, so a failing run
// never leaves a partial file at the final path: planes are written into a
// temporary sibling file that is renamed into place only after every slot
// has been written successfully.
func Assemble(ctx context.Context, files []string, outPath string, opts Options) ([]float64, error) {
	log := opts.logger()
	if len(files) == 0 {
		return nil, fmt.Errorf("no input files given")
	}

	descs, err := inspectAll(files)
	if err != nil {
		return nil, err
	}
	log.Infow("inspected inputs", "files", len(descs), "shape", descs[0].Shape)

	res, err := resolveAxis(log, descs, opts.Override, opts.kind(), opts.CreateBlanks)
	if err != nil {
		return nil, err
	}

	geom, err := buildGeometry(descs[0], res.Values, opts.kind(), opts.DefaultStep)
	if err != nil {
		return nil, err
	}
	log.Infow("derived cube geometry", "shape", geom.Shape, "stackAxis", geom.StackAxis)

	// Sentinel-fill whenever some output channel has no input plane.
	fill := opts.CreateBlanks || geom.NChan > len(files)
	alloc, err := allocate(geom, outPath, opts.Overwrite, fill)
	if err != nil {
		return nil, err
	}

	jobs := make([]planeJob, len(descs))
	for i, d := range descs {
		jobs[i] = planeJob{desc: d, slot: res.Slots[i]}
	}
	if err := writePlanes(ctx, alloc.File, geom.StackAxis, jobs, opts.workers(), log); err != nil {
		alloc.Abort()
		return nil, err
	}
	if err := alloc.Finalize(); err != nil {
		return nil, err
	}
	log.Infow("wrote cube", "path", outPath, "channels", geom.NChan)

	return valueSlice(res.Values), nil
}

// AllocateBlank creates a cube with no input planes: the stacking axis is a
// synthesized evenly spaced sequence and the whole data region holds the
// no-data sentinel. The template image supplies the spatial geometry and
// header; its pixel data is never read.
func AllocateBlank(ctx context.Context, template, outPath string, syn Synthesize, opts Options) ([]float64, error) {
	log := opts.logger()

	desc, err := Inspect(template)
	if err != nil {
		return nil, err
	}
	res, err := resolveAxis(log, nil, syn, opts.kind(), false)
	if err != nil {
		return nil, err
	}
	geom, err := buildGeometry(desc, res.Values, opts.kind(), syn.Step)
	if err != nil {
		return nil, err
	}
	log.Infow("allocating blank cube", "shape", geom.Shape, "channels", geom.NChan)

	alloc, err := allocate(geom, outPath, opts.Overwrite, true)
	if err != nil {
		return nil, err
	}
	if err := alloc.Finalize(); err != nil {
		return nil, err
	}
	return valueSlice(res.Values), nil
}

func valueSlice(vals []models.AxisValue) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = v.Value
	}
	return out
}
