// Package models holds the shared data model of the cube assembly pipeline:
// per-file image descriptors, resolved stacking-axis values with their
// provenance, and the derived output cube geometry.
package models

import (
	"fitscube/pkg/fits"
)

// ImageDescriptor captures the metadata of one input image, read without
// touching pixel data. All descriptors in one run must share the same Shape;
// only the first file's Header seeds the output cube, the others are kept
// for consistency checks.
type ImageDescriptor struct {
	// Path is the location of the image file. The file outlives the
	// descriptor; nothing here owns it.
	Path string

	// Shape is the pixel-array dimensions, fastest-varying axis first.
	Shape []int

	// Header is the raw primary header.
	Header *fits.Header

	// WCS is the parsed coordinate description.
	WCS *fits.WCS
}

// AxisSource records how a stacking-axis value was produced. It is carried
// for diagnostic logging only and never changes behavior downstream.
type AxisSource int

const (
	// SourceWCSAxis means the value came from a dedicated spectral or time
	// coordinate axis in the file's WCS.
	SourceWCSAxis AxisSource = iota

	// SourceHeaderKeyword means the value came from a reference-value header
	// keyword such as REFFREQ.
	SourceHeaderKeyword

	// SourceUserList means the value was supplied on the command line.
	SourceUserList

	// SourceUserFile means the value was read from a values file.
	SourceUserFile

	// SourceSynthetic means the value was synthesized on an evenly spaced
	// grid, as in blank-cube allocation.
	SourceSynthetic

	// SourceIgnored means axis information was deliberately discarded and
	// the value is a bare channel ordinal.
	SourceIgnored
)

// String returns a short provenance label for logs.
func (s AxisSource) String() string {
	switch s {
	case SourceWCSAxis:
		return "wcs-axis"
	case SourceHeaderKeyword:
		return "header-keyword"
	case SourceUserList:
		return "user-list"
	case SourceUserFile:
		return "user-file"
	case SourceSynthetic:
		return "synthetic"
	case SourceIgnored:
		return "ignored"
	}
	return "unknown"
}

// AxisValue is one resolved stacking-axis value: a frequency in Hz or a time
// in seconds since the reference epoch, tagged with its provenance. Values
// are produced once by the axis resolver and never mutated.
type AxisValue struct {
	Value  float64
	Source AxisSource
}

// CubeGeometry is the derived description of the output cube: its shape, its
// fully populated header, and the position of the stacking axis. Built once
// per run and immutable thereafter.
type CubeGeometry struct {
	// Shape is the output dimensions, fastest-varying axis first.
	Shape []int

	// Header is the output primary header, including the stacking-axis WCS
	// cards.
	Header *fits.Header

	// StackAxis is the 0-based index of the stacking axis within Shape.
	StackAxis int

	// NChan is the stacking-axis length.
	NChan int
}
