package cube

import (
	"context"
	"fmt"

	"fitscube/internal/models"
	"fitscube/pkg/fits"
)

// stokesCType is the WCS type of the polarization axis.
const stokesCType = "STOKES"

// CombineStokes assembles single-polarization images for Stokes I, Q, U and
// optionally V (vPath empty to omit) into a polarization cube at outPath.
//
// All inputs must share the first image's shape and, unlike the frequency
// path, their full coordinate descriptions must match exactly: the stacking
// axis is the fixed Stokes enumeration, so there is no axis resolution step
// and no ordering ambiguity. Planes are written sequentially into their
// fixed slots: I at 0, Q at 1, U at 2, V at 3 when present.
func CombineStokes(ctx context.Context, iPath, qPath, uPath, vPath, outPath string, opts Options) error {
	log := opts.logger()

	paths := []string{iPath, qPath, uPath}
	if vPath != "" {
		paths = append(paths, vPath)
	}
	descs, err := inspectAll(paths)
	if err != nil {
		return err
	}
	for _, d := range descs[1:] {
		if !fits.EqualWCS(d.WCS, descs[0].WCS) {
			return &IncompatibleShapeError{Path: d.Path, Detail: "coordinate description differs from the first input"}
		}
	}
	log.Infow("inspected Stokes inputs", "planes", len(descs), "shape", descs[0].Shape)

	geom, err := buildStokesGeometry(descs[0], len(descs))
	if err != nil {
		return err
	}

	alloc, err := allocate(geom, outPath, opts.Overwrite, false)
	if err != nil {
		return err
	}
	for slot, d := range descs {
		if ctx.Err() != nil {
			alloc.Abort()
			return ctx.Err()
		}
		if err := copyPlane(alloc.File, geom.StackAxis, planeJob{desc: d, slot: slot}); err != nil {
			alloc.Abort()
			return &PlaneWriteError{Path: d.Path, Slot: slot, Err: err}
		}
		log.Debugw("wrote Stokes plane", "path", d.Path, "slot", slot)
	}
	if err := alloc.Finalize(); err != nil {
		return err
	}
	log.Infow("wrote Stokes cube", "path", outPath, "planes", len(descs))
	return nil
}

// buildStokesGeometry inserts a polarization axis of the given length,
// reusing an existing degenerate STOKES axis when the input carries one.
// Stokes parameters are enumerated 1..n in FITS convention, so the axis is
// a unit ramp starting at 1.
func buildStokesGeometry(first *models.ImageDescriptor, n int) (*models.CubeGeometry, error) {
	shape := append([]int(nil), first.Shape...)
	stackAxis := first.WCS.AxisIndexByType(stokesCType)
	if stackAxis >= 0 {
		if shape[stackAxis] != 1 {
			return nil, &IncompatibleShapeError{
				Path:   first.Path,
				Detail: fmt.Sprintf("existing STOKES axis has length %d, want a single plane", shape[stackAxis]),
			}
		}
		shape[stackAxis] = n
	} else {
		stackAxis = len(shape)
		shape = append(shape, n)
	}

	header := first.Header.Copy()
	header.SetShape(shape)
	fits.SetAxis(header, stackAxis, fits.Axis{
		Type:   stokesCType,
		Len:    n,
		RefPix: 1,
		RefVal: 1,
		Delta:  1,
	})

	return &models.CubeGeometry{
		Shape:     shape,
		Header:    header,
		StackAxis: stackAxis,
		NChan:     n,
	}, nil
}
