// Package cube implements the cube assembly engine: it validates the
// metadata of single-plane input images, resolves the values of the new
// stacking axis, derives the output cube's geometry, pre-allocates the
// output container, and writes plane data with bounded concurrency.
package cube

import (
	"fitscube/internal/models"
	"fitscube/pkg/fits"
)

// AxisKind describes the semantics of the stacking axis: the WCS type name
// it appears under, the fallback reference-value header keyword, and the
// physical unit of its values.
type AxisKind struct {
	// CType is the WCS axis type, "FREQ" or "TIME".
	CType string
	// Keyword is the header keyword holding a single representative value
	// for images without a dedicated coordinate axis.
	Keyword string
	// Unit is the CUNIT value for the output axis.
	Unit string
}

// FrequencyAxis stacks along frequency in Hz, derived from a FREQ coordinate
// axis or the REFFREQ keyword.
var FrequencyAxis = AxisKind{CType: "FREQ", Keyword: "REFFREQ", Unit: "Hz"}

// TimeAxis stacks along time in seconds since the reference epoch, derived
// from a TIME coordinate axis or the REFTIME keyword. The algorithm is
// identical to the frequency path; only the axis semantics change.
var TimeAxis = AxisKind{CType: "TIME", Keyword: "REFTIME", Unit: "s"}

// Inspect reads one input image's metadata only and returns its descriptor.
// Pixel data is not read. Fails with UnreadableHeaderError when the file
// cannot be opened or lacks the required shape and coordinate description.
func Inspect(path string) (*models.ImageDescriptor, error) {
	f, err := fits.Open(path)
	if err != nil {
		return nil, &UnreadableHeaderError{Path: path, Err: err}
	}
	defer f.Close()

	wcs, err := fits.ParseWCS(f.Header())
	if err != nil {
		return nil, &UnreadableHeaderError{Path: path, Err: err}
	}
	return &models.ImageDescriptor{
		Path:   path,
		Shape:  f.Shape(),
		Header: f.Header(),
		WCS:    wcs,
	}, nil
}

// inspectAll inspects every input in order and verifies that all shapes
// match the first file's. The shape check is metadata-only and runs before
// any allocation, so a bad input set is rejected before expensive I/O.
func inspectAll(paths []string) ([]*models.ImageDescriptor, error) {
	descs := make([]*models.ImageDescriptor, 0, len(paths))
	for _, p := range paths {
		d, err := Inspect(p)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	for _, d := range descs[1:] {
		if !shapesEqual(d.Shape, descs[0].Shape) {
			return nil, &IncompatibleShapeError{Path: d.Path, Want: descs[0].Shape, Got: d.Shape}
		}
	}
	return descs, nil
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
