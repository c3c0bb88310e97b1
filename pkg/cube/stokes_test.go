package cube

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"fitscube/pkg/fits"
)

// writeStokesPlanes writes one 5x4 image per seed with identical coordinate
// descriptions and returns their paths.
func writeStokesPlanes(t *testing.T, dir string, names []string) []string {
	t.Helper()
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name+".fits")
		writePlaneFile(t, paths[i], []int{5, 4}, -32, plane(float64(i+1), 5, 4), nil)
	}
	return paths
}

func TestCombineStokes(t *testing.T) {
	dir := t.TempDir()
	paths := writeStokesPlanes(t, dir, []string{"i", "q", "u"})
	outPath := filepath.Join(dir, "iqu.fits")

	if err := CombineStokes(context.Background(), paths[0], paths[1], paths[2], "", outPath, Options{}); err != nil {
		t.Fatalf("CombineStokes: %v", err)
	}

	out, err := fits.Open(outPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer out.Close()

	t.Run("geometry", func(t *testing.T) {
		shape := out.Shape()
		if len(shape) != 3 || shape[0] != 5 || shape[1] != 4 || shape[2] != 3 {
			t.Fatalf("shape = %v, want [5 4 3]", shape)
		}
		h := out.Header()
		if ct, _ := h.Str("CTYPE3"); ct != "STOKES" {
			t.Errorf("CTYPE3 = %q, want STOKES", ct)
		}
		if v, _ := h.Float("CRVAL3"); v != 1 {
			t.Errorf("CRVAL3 = %v, want 1", v)
		}
		if d, _ := h.Float("CDELT3"); d != 1 {
			t.Errorf("CDELT3 = %v, want 1", d)
		}
	})

	t.Run("fixed slots", func(t *testing.T) {
		for slot, p := range paths {
			src, err := fits.Open(p)
			if err != nil {
				t.Fatalf("Open(%s): %v", p, err)
			}
			want, err := src.ReadData()
			src.Close()
			if err != nil {
				t.Fatalf("ReadData: %v", err)
			}
			got, err := out.ReadSlice(2, slot)
			if err != nil {
				t.Fatalf("ReadSlice(2, %d): %v", slot, err)
			}
			if !bytes.Equal(got, want) {
				t.Errorf("slot %d does not hold its input plane", slot)
			}
		}
	})
}

func TestCombineStokesWithV(t *testing.T) {
	dir := t.TempDir()
	paths := writeStokesPlanes(t, dir, []string{"i", "q", "u", "v"})
	outPath := filepath.Join(dir, "iquv.fits")

	if err := CombineStokes(context.Background(), paths[0], paths[1], paths[2], paths[3], outPath, Options{}); err != nil {
		t.Fatalf("CombineStokes: %v", err)
	}

	out, err := fits.Open(outPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer out.Close()
	if shape := out.Shape(); shape[2] != 4 {
		t.Fatalf("shape = %v, want 4 polarization planes", shape)
	}

	src, err := fits.Open(paths[3])
	if err != nil {
		t.Fatal(err)
	}
	want, _ := src.ReadData()
	src.Close()
	got, err := out.ReadSlice(2, 3)
	if err != nil {
		t.Fatalf("ReadSlice: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("Stokes V is not in the last slot")
	}
}

func TestCombineStokesReusesDegenerateAxis(t *testing.T) {
	dir := t.TempDir()
	paths := make([]string, 3)
	for i, name := range []string{"i", "q", "u"} {
		paths[i] = filepath.Join(dir, name+".fits")
		writePlaneFile(t, paths[i], []int{5, 4, 1}, -32, plane(float64(i+1), 5, 4), func(h *fits.Header) {
			fits.SetAxis(h, 2, fits.Axis{Type: "STOKES", Len: 1, RefPix: 1, RefVal: 1, Delta: 1})
		})
	}
	outPath := filepath.Join(dir, "iqu.fits")

	if err := CombineStokes(context.Background(), paths[0], paths[1], paths[2], "", outPath, Options{}); err != nil {
		t.Fatalf("CombineStokes: %v", err)
	}
	out, err := fits.Open(outPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer out.Close()
	if shape := out.Shape(); len(shape) != 3 || shape[2] != 3 {
		t.Fatalf("shape = %v, want the existing axis resized to 3", shape)
	}
}

func TestCombineStokesWCSMismatch(t *testing.T) {
	dir := t.TempDir()
	paths := writeStokesPlanes(t, dir, []string{"i", "q"})
	u := filepath.Join(dir, "u.fits")
	writePlaneFile(t, u, []int{5, 4}, -32, plane(3, 5, 4), func(h *fits.Header) {
		h.SetFloat("CRVAL1", 190.0, "")
	})
	outPath := filepath.Join(dir, "iqu.fits")

	err := CombineStokes(context.Background(), paths[0], paths[1], u, "", outPath, Options{})
	var shape *IncompatibleShapeError
	if !errors.As(err, &shape) {
		t.Fatalf("got %v, want IncompatibleShapeError", err)
	}
	if shape.Path != u {
		t.Errorf("error names %s, want %s", shape.Path, u)
	}
	if _, statErr := os.Stat(outPath); !os.IsNotExist(statErr) {
		t.Error("failed run left a file at the destination")
	}
}

func TestCombineStokesDestinationExists(t *testing.T) {
	dir := t.TempDir()
	paths := writeStokesPlanes(t, dir, []string{"i", "q", "u"})
	outPath := filepath.Join(dir, "iqu.fits")
	if err := os.WriteFile(outPath, []byte("precious"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := CombineStokes(context.Background(), paths[0], paths[1], paths[2], "", outPath, Options{})
	var exists *DestinationExistsError
	if !errors.As(err, &exists) {
		t.Fatalf("got %v, want DestinationExistsError", err)
	}
	if err := CombineStokes(context.Background(), paths[0], paths[1], paths[2], "", outPath, Options{Overwrite: true}); err != nil {
		t.Fatalf("CombineStokes with overwrite: %v", err)
	}
}
