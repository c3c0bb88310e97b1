package cube

import (
	"fmt"
	"os"
	"path/filepath"

	"fitscube/internal/models"
	"fitscube/pkg/fits"
)

// allocation is an open, pre-sized output container. The data lives at a
// temporary path next to the destination until Finalize renames it into
// place, so a valid file only ever appears at the final path after every
// plane write has succeeded.
type allocation struct {
	File      *fits.File
	Geometry  *models.CubeGeometry
	tempPath  string
	finalPath string
}

// allocate creates the output container for the given geometry: it writes
// the header and pre-sizes the full data region, optionally filling it with
// the no-data sentinel for blank-cube mode.
//
// The destination is checked before anything is written; an existing path
// without the overwrite flag fails with DestinationExistsError and leaves
// the existing file untouched. Any I/O failure during allocation removes the
// partial temporary file and reports AllocationError.
func allocate(geom *models.CubeGeometry, dest string, overwrite, sentinelFill bool) (*allocation, error) {
	if _, err := os.Stat(dest); err == nil && !overwrite {
		return nil, &DestinationExistsError{Path: dest}
	}

	dir := filepath.Dir(dest)
	base := filepath.Base(dest)
	tempPath := filepath.Join(dir, fmt.Sprintf(".%s.partial-%d", base, os.Getpid()))

	f, err := fits.Create(tempPath, geom.Header)
	if err != nil {
		os.Remove(tempPath)
		return nil, &AllocationError{Path: dest, Err: err}
	}
	if sentinelFill {
		if err := f.FillSentinel(); err != nil {
			f.Close()
			os.Remove(tempPath)
			return nil, &AllocationError{Path: dest, Err: err}
		}
	}
	return &allocation{File: f, Geometry: geom, tempPath: tempPath, finalPath: dest}, nil
}

// Finalize flushes the container and renames it onto the destination path.
// Only after this returns does a complete cube exist at the final path.
func (a *allocation) Finalize() error {
	if err := a.File.Sync(); err != nil {
		a.Abort()
		return &AllocationError{Path: a.finalPath, Err: err}
	}
	if err := a.File.Close(); err != nil {
		os.Remove(a.tempPath)
		return &AllocationError{Path: a.finalPath, Err: err}
	}
	if err := os.Rename(a.tempPath, a.finalPath); err != nil {
		os.Remove(a.tempPath)
		return &AllocationError{Path: a.finalPath, Err: err}
	}
	return nil
}

// Abort discards the temporary container, leaving the destination as it was.
func (a *allocation) Abort() {
	a.File.Close()
	os.Remove(a.tempPath)
}
