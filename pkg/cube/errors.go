package cube

import (
	"fmt"
)

// UnreadableHeaderError reports an input file that cannot be opened or lacks
// the minimum required metadata. Fatal before any allocation.
type UnreadableHeaderError struct {
	Path string
	Err  error
}

func (e *UnreadableHeaderError) Error() string {
	return fmt.Sprintf("unreadable header in %s: %v", e.Path, e.Err)
}

func (e *UnreadableHeaderError) Unwrap() error { return e.Err }

// AxisCountMismatchError reports an axis-value override whose cardinality
// does not match the number of input files.
type AxisCountMismatchError struct {
	Want   int
	Got    int
	Source string
}

func (e *AxisCountMismatchError) Error() string {
	return fmt.Sprintf("axis override from %s has %d values, want %d", e.Source, e.Got, e.Want)
}

// MissingAxisInfoError reports a file with neither a spectral/time coordinate
// axis nor a reference-value keyword, when axis information is required.
type MissingAxisInfoError struct {
	Path    string
	Keyword string
}

func (e *MissingAxisInfoError) Error() string {
	return fmt.Sprintf("%s has no spectral axis and no %s keyword; cannot derive an axis value", e.Path, e.Keyword)
}

// IncompatibleShapeError reports an input whose shape (or, for the Stokes
// path, whose WCS) disagrees with the first input's.
type IncompatibleShapeError struct {
	Path   string
	Want   []int
	Got    []int
	Detail string
}

func (e *IncompatibleShapeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s is incompatible with the first input: %s", e.Path, e.Detail)
	}
	return fmt.Sprintf("%s has shape %v, want %v", e.Path, e.Got, e.Want)
}

// DestinationExistsError reports an output path that already exists when
// overwrite was not requested. Nothing has been written.
type DestinationExistsError struct {
	Path string
}

func (e *DestinationExistsError) Error() string {
	return fmt.Sprintf("output file %s already exists; use overwrite to replace it", e.Path)
}

// AllocationError reports an I/O failure while creating or pre-sizing the
// output container. Any partially created destination has been removed.
type AllocationError struct {
	Path string
	Err  error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocating %s: %v", e.Path, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// PlaneWriteError reports a single plane that failed to be read from its
// source or written into its output slot. Sibling slots are unaffected, but
// the overall run fails once all scheduled work drains.
type PlaneWriteError struct {
	Path string
	Slot int
	Err  error
}

func (e *PlaneWriteError) Error() string {
	return fmt.Sprintf("plane %d from %s: %v", e.Slot, e.Path, e.Err)
}

func (e *PlaneWriteError) Unwrap() error { return e.Err }
