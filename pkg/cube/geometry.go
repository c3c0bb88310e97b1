package cube

import (
	"fmt"

	"fitscube/internal/models"
	"fitscube/pkg/fits"
)

// buildGeometry derives the output cube's shape and header from the first
// input's coordinate description and the resolved axis-value sequence.
//
// If the input already carries a (degenerate) axis of the stacking type, that
// axis is resized in place; otherwise a new axis is appended as the
// slowest-varying dimension. The new axis gets reference pixel 1, reference
// value equal to the first resolved value, and a step taken from the first
// two values (or defaultStep when only one channel exists). When axis
// information was ignored, the axis becomes a bare channel enumeration.
func buildGeometry(first *models.ImageDescriptor, vals []models.AxisValue, kind AxisKind, defaultStep float64) (*models.CubeGeometry, error) {
	n := len(vals)
	if n < 1 {
		return nil, fmt.Errorf("cannot build a cube with zero channels")
	}

	shape := append([]int(nil), first.Shape...)
	stackAxis := first.WCS.AxisIndexByType(kind.CType)
	if stackAxis >= 0 {
		if shape[stackAxis] != 1 {
			return nil, &IncompatibleShapeError{
				Path:   first.Path,
				Detail: fmt.Sprintf("existing %s axis has length %d, want a single plane", kind.CType, shape[stackAxis]),
			}
		}
		shape[stackAxis] = n
	} else {
		stackAxis = len(shape)
		shape = append(shape, n)
	}

	step := defaultStep
	if n > 1 {
		step = vals[1].Value - vals[0].Value
	}
	if step == 0 {
		step = 1
	}

	axis := fits.Axis{
		Type:   kind.CType,
		Len:    n,
		RefPix: 1,
		RefVal: vals[0].Value,
		Delta:  step,
		Unit:   kind.Unit,
	}
	if vals[0].Source == models.SourceIgnored {
		// No physical axis information: write a placeholder pixel axis.
		axis = fits.Axis{Type: "CHAN", Len: n, RefPix: 1, RefVal: 1, Delta: 1}
	}

	header := first.Header.Copy()
	header.SetShape(shape)
	fits.SetAxis(header, stackAxis, axis)

	return &models.CubeGeometry{
		Shape:     shape,
		Header:    header,
		StackAxis: stackAxis,
		NChan:     n,
	}, nil
}
