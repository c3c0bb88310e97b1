package cube

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"fitscube/pkg/fits"
)

// writePlaneFile writes a small test image to disk. Values are laid out in
// the serialized pixel order, fastest-varying axis first.
func writePlaneFile(t *testing.T, path string, shape []int, bitpix int, values []float64, mutate func(*fits.Header)) {
	t.Helper()
	hdr := fits.NewHeader(bitpix, shape)
	hdr.SetString("CTYPE1", "RA---SIN", "")
	hdr.SetFloat("CRPIX1", 1, "")
	hdr.SetFloat("CRVAL1", 187.7, "")
	hdr.SetFloat("CDELT1", -2.8e-4, "")
	hdr.SetString("CTYPE2", "DEC--SIN", "")
	hdr.SetFloat("CRPIX2", 1, "")
	hdr.SetFloat("CRVAL2", 12.4, "")
	hdr.SetFloat("CDELT2", 2.8e-4, "")
	if mutate != nil {
		mutate(hdr)
	}
	raw, err := fits.EncodeFloats(values, bitpix)
	if err != nil {
		t.Fatalf("EncodeFloats: %v", err)
	}
	if err := fits.WriteImage(path, hdr, raw); err != nil {
		t.Fatalf("WriteImage(%s): %v", path, err)
	}
}

// plane returns nx*ny values whose content identifies the plane.
func plane(seed float64, nx, ny int) []float64 {
	out := make([]float64, nx*ny)
	for i := range out {
		out[i] = seed*1000 + float64(i)
	}
	return out
}

// writeFreqPlanes writes n 4x3 planes with REFFREQ keywords at the given
// frequencies and returns their paths.
func writeFreqPlanes(t *testing.T, dir string, freqs []float64) []string {
	t.Helper()
	paths := make([]string, len(freqs))
	for i, freq := range freqs {
		paths[i] = filepath.Join(dir, "plane"+string(rune('a'+i))+".fits")
		f := freq
		writePlaneFile(t, paths[i], []int{4, 3}, -32, plane(float64(i+1), 4, 3), func(h *fits.Header) {
			h.SetFloat("REFFREQ", f, "reference frequency")
		})
	}
	return paths
}

func TestAssemble(t *testing.T) {
	dir := t.TempDir()
	paths := writeFreqPlanes(t, dir, []float64{1.0e9, 1.1e9, 1.2e9})
	outPath := filepath.Join(dir, "cube.fits")

	values, err := Assemble(context.Background(), paths, outPath, Options{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(values) != 3 || values[0] != 1.0e9 || values[2] != 1.2e9 {
		t.Errorf("axis values = %v", values)
	}

	out, err := fits.Open(outPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer out.Close()

	t.Run("geometry", func(t *testing.T) {
		shape := out.Shape()
		if len(shape) != 3 || shape[0] != 4 || shape[1] != 3 || shape[2] != 3 {
			t.Fatalf("shape = %v, want [4 3 3]", shape)
		}
		h := out.Header()
		if ct, _ := h.Str("CTYPE3"); ct != "FREQ" {
			t.Errorf("CTYPE3 = %q, want FREQ", ct)
		}
		if v, _ := h.Float("CRVAL3"); v != 1.0e9 {
			t.Errorf("CRVAL3 = %v, want 1.0e9", v)
		}
		if d, _ := h.Float("CDELT3"); d != 1.0e8 {
			t.Errorf("CDELT3 = %v, want 1.0e8", d)
		}
		if p, _ := h.Float("CRPIX3"); p != 1 {
			t.Errorf("CRPIX3 = %v, want 1", p)
		}
		if u, _ := h.Str("CUNIT3"); u != "Hz" {
			t.Errorf("CUNIT3 = %q, want Hz", u)
		}
	})

	t.Run("planes preserved byte for byte", func(t *testing.T) {
		for i, p := range paths {
			src, err := fits.Open(p)
			if err != nil {
				t.Fatalf("Open(%s): %v", p, err)
			}
			want, err := src.ReadData()
			src.Close()
			if err != nil {
				t.Fatalf("ReadData: %v", err)
			}
			got, err := out.ReadSlice(2, i)
			if err != nil {
				t.Fatalf("ReadSlice(2, %d): %v", i, err)
			}
			if !bytes.Equal(got, want) {
				t.Errorf("plane %d differs from its input", i)
			}
		}
	})

	t.Run("no temporary files left", func(t *testing.T) {
		leftovers, err := filepath.Glob(filepath.Join(dir, "*partial*"))
		if err != nil {
			t.Fatal(err)
		}
		if len(leftovers) != 0 {
			t.Errorf("temporary files remain: %v", leftovers)
		}
	})
}

func TestAssembleWorkerCountInvariance(t *testing.T) {
	dir := t.TempDir()
	paths := writeFreqPlanes(t, dir, []float64{1.0e9, 1.1e9, 1.2e9, 1.3e9, 1.4e9})

	serial := filepath.Join(dir, "serial.fits")
	parallel := filepath.Join(dir, "parallel.fits")
	if _, err := Assemble(context.Background(), paths, serial, Options{MaxWorkers: 1}); err != nil {
		t.Fatalf("Assemble serial: %v", err)
	}
	if _, err := Assemble(context.Background(), paths, parallel, Options{MaxWorkers: 4}); err != nil {
		t.Fatalf("Assemble parallel: %v", err)
	}

	a, err := os.ReadFile(serial)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(parallel)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("output depends on the worker count")
	}
}

func TestAssembleDestinationExists(t *testing.T) {
	dir := t.TempDir()
	paths := writeFreqPlanes(t, dir, []float64{1.0e9, 1.1e9})
	outPath := filepath.Join(dir, "cube.fits")
	if err := os.WriteFile(outPath, []byte("precious"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Assemble(context.Background(), paths, outPath, Options{})
	var exists *DestinationExistsError
	if !errors.As(err, &exists) {
		t.Fatalf("got %v, want DestinationExistsError", err)
	}
	content, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "precious" {
		t.Error("existing destination was modified")
	}

	if _, err := Assemble(context.Background(), paths, outPath, Options{Overwrite: true}); err != nil {
		t.Fatalf("Assemble with overwrite: %v", err)
	}
	if _, err := fits.Open(outPath); err != nil {
		t.Fatalf("overwritten output is not a valid image: %v", err)
	}
}

func TestAssembleShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.fits")
	b := filepath.Join(dir, "b.fits")
	writePlaneFile(t, a, []int{4, 3}, -32, plane(1, 4, 3), func(h *fits.Header) { h.SetFloat("REFFREQ", 1.0e9, "") })
	writePlaneFile(t, b, []int{3, 4}, -32, plane(2, 3, 4), func(h *fits.Header) { h.SetFloat("REFFREQ", 1.1e9, "") })

	_, err := Assemble(context.Background(), []string{a, b}, filepath.Join(dir, "cube.fits"), Options{})
	var shape *IncompatibleShapeError
	if !errors.As(err, &shape) {
		t.Fatalf("got %v, want IncompatibleShapeError", err)
	}
	if shape.Path != b {
		t.Errorf("error names %s, want %s", shape.Path, b)
	}
}

func TestAssembleUnreadableInput(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.fits")
	writePlaneFile(t, good, []int{4, 3}, -32, plane(1, 4, 3), func(h *fits.Header) { h.SetFloat("REFFREQ", 1.0e9, "") })

	t.Run("garbage bytes", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.fits")
		if err := os.WriteFile(bad, []byte("not a FITS file"), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := Assemble(context.Background(), []string{good, bad}, filepath.Join(dir, "cube.fits"), Options{})
		var unreadable *UnreadableHeaderError
		if !errors.As(err, &unreadable) {
			t.Fatalf("got %v, want UnreadableHeaderError", err)
		}
		if unreadable.Path != bad {
			t.Errorf("error names %s, want %s", unreadable.Path, bad)
		}
	})

	t.Run("negative axis count", func(t *testing.T) {
		bad := filepath.Join(dir, "naxis.fits")
		h := &fits.Header{}
		h.SetBool("SIMPLE", true, "")
		h.SetInt("BITPIX", -32, "")
		h.SetInt("NAXIS", -1, "")
		if err := os.WriteFile(bad, h.Serialize(), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := Assemble(context.Background(), []string{good, bad}, filepath.Join(dir, "cube.fits"), Options{})
		var unreadable *UnreadableHeaderError
		if !errors.As(err, &unreadable) {
			t.Fatalf("got %v, want UnreadableHeaderError", err)
		}
		if unreadable.Path != bad {
			t.Errorf("error names %s, want %s", unreadable.Path, bad)
		}
	})
}

func TestAssembleNonUniformSpacing(t *testing.T) {
	dir := t.TempDir()
	paths := writeFreqPlanes(t, dir, []float64{1.0e9, 1.1e9, 1.3e9})
	outPath := filepath.Join(dir, "cube.fits")

	// Without regridding, uneven spacing warns and proceeds: one channel per
	// input, step taken from the first difference.
	values, err := Assemble(context.Background(), paths, outPath, Options{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(values) != 3 || values[2] != 1.3e9 {
		t.Errorf("axis values = %v, want the three inputs unchanged", values)
	}

	out, err := fits.Open(outPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer out.Close()
	if shape := out.Shape(); shape[2] != 3 {
		t.Fatalf("shape = %v, want one channel per input", shape)
	}
	if v, _ := out.Header().Float("CRVAL3"); v != 1.0e9 {
		t.Errorf("CRVAL3 = %v, want 1.0e9", v)
	}
	if d, _ := out.Header().Float("CDELT3"); d != 1.0e8 {
		t.Errorf("CDELT3 = %v, want the first difference 1.0e8", d)
	}

	// The third plane still lands in slot 2; only the axis metadata is an
	// approximation.
	src, err := fits.Open(paths[2])
	if err != nil {
		t.Fatal(err)
	}
	want, _ := src.ReadData()
	src.Close()
	got, err := out.ReadSlice(2, 2)
	if err != nil {
		t.Fatalf("ReadSlice: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("plane order does not follow the input order")
	}
}

func TestAssemblePixelTypeMismatch(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.fits")
	b := filepath.Join(dir, "b.fits")
	writePlaneFile(t, a, []int{4, 3}, -32, plane(1, 4, 3), func(h *fits.Header) { h.SetFloat("REFFREQ", 1.0e9, "") })
	writePlaneFile(t, b, []int{4, 3}, -64, plane(2, 4, 3), func(h *fits.Header) { h.SetFloat("REFFREQ", 1.1e9, "") })
	outPath := filepath.Join(dir, "cube.fits")

	_, err := Assemble(context.Background(), []string{a, b}, outPath, Options{})
	var write *PlaneWriteError
	if !errors.As(err, &write) {
		t.Fatalf("got %v, want PlaneWriteError", err)
	}
	if write.Slot != 1 {
		t.Errorf("failing slot = %d, want 1", write.Slot)
	}
	if _, statErr := os.Stat(outPath); !os.IsNotExist(statErr) {
		t.Error("failed run left a file at the destination")
	}
}

func TestAssembleCanceled(t *testing.T) {
	dir := t.TempDir()
	paths := writeFreqPlanes(t, dir, []float64{1.0e9, 1.1e9})
	outPath := filepath.Join(dir, "cube.fits")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Assemble(ctx, paths, outPath, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if _, statErr := os.Stat(outPath); !os.IsNotExist(statErr) {
		t.Error("canceled run left a file at the destination")
	}
}

func TestAssembleCreateBlanks(t *testing.T) {
	dir := t.TempDir()
	paths := writeFreqPlanes(t, dir, []float64{1.0e9, 1.1e9, 1.3e9})
	outPath := filepath.Join(dir, "cube.fits")

	values, err := Assemble(context.Background(), paths, outPath, Options{CreateBlanks: true})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(values) != 4 {
		t.Fatalf("got %d channels, want 4 after regridding", len(values))
	}

	out, err := fits.Open(outPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer out.Close()
	if shape := out.Shape(); shape[2] != 4 {
		t.Fatalf("shape = %v, want 4 channels", shape)
	}

	// The gap at 1.2e9 stays at the no-data sentinel.
	raw, err := out.ReadSlice(2, 2)
	if err != nil {
		t.Fatalf("ReadSlice: %v", err)
	}
	decoded := decodeSlice(t, raw)
	for i, v := range decoded {
		if !math.IsNaN(v) {
			t.Fatalf("blank channel pixel %d = %v, want NaN", i, v)
		}
	}

	// The plane derived at 1.3e9 lands in the last slot.
	src, err := fits.Open(paths[2])
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
		t.Error("regridded plane is not in its grid slot")
	}
}

func TestAllocateBlank(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "template.fits")
	writePlaneFile(t, template, []int{4, 3}, -32, plane(1, 4, 3), nil)
	outPath := filepath.Join(dir, "blank.fits")

	syn := Synthesize{Count: 5, Start: 1.0e9, Step: 1.0e7}
	values, err := AllocateBlank(context.Background(), template, outPath, syn, Options{})
	if err != nil {
		t.Fatalf("AllocateBlank: %v", err)
	}
	if len(values) != 5 || values[0] != 1.0e9 || values[4] != 1.04e9 {
		t.Errorf("axis values = %v", values)
	}

	out, err := fits.Open(outPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer out.Close()
	if shape := out.Shape(); len(shape) != 3 || shape[2] != 5 {
		t.Fatalf("shape = %v, want [4 3 5]", shape)
	}
	if v, _ := out.Header().Float("CRVAL3"); v != 1.0e9 {
		t.Errorf("CRVAL3 = %v, want 1.0e9", v)
	}
	if d, _ := out.Header().Float("CDELT3"); d != 1.0e7 {
		t.Errorf("CDELT3 = %v, want 1.0e7", d)
	}

	pixels, err := out.ReadFloats()
	if err != nil {
		t.Fatalf("ReadFloats: %v", err)
	}
	for i, v := range pixels {
		if !math.IsNaN(v) {
			t.Fatalf("pixel %d = %v, want NaN", i, v)
		}
	}
}

// decodeSlice decodes raw 32-bit float pixels for assertions.
func decodeSlice(t *testing.T, raw []byte) []float64 {
	t.Helper()
	vals := make([]float64, 0, len(raw)/4)
	for i := 0; i+4 <= len(raw); i += 4 {
		bits := uint32(raw[i])<<24 | uint32(raw[i+1])<<16 | uint32(raw[i+2])<<8 | uint32(raw[i+3])
		vals = append(vals, float64(math.Float32frombits(bits)))
	}
	return vals
}
