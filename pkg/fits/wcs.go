package fits

import (
	"fmt"
	"math"
	"strings"
)

// Axis describes one world-coordinate axis of an image: its type name and the
// linear pixel-to-world mapping taken straight from the header cards.
type Axis struct {
	// Type is the CTYPE value, e.g. "RA---SIN", "FREQ", "STOKES".
	Type string
	// Len is the axis length from NAXISn.
	Len int
	// RefPix is CRPIX, the 1-based reference pixel.
	RefPix float64
	// RefVal is CRVAL, the world value at the reference pixel.
	RefVal float64
	// Delta is CDELT, the world step per pixel.
	Delta float64
	// Unit is CUNIT, empty when absent.
	Unit string
}

// WorldAt returns the world coordinate at a 0-based pixel index along the
// axis, using the linear model crval + (pixel+1 - crpix) * cdelt.
func (a Axis) WorldAt(pixel int) float64 {
	return a.RefVal + (float64(pixel)+1-a.RefPix)*a.Delta
}

// WCS is the per-axis world-coordinate description of an image.
// Axes[0] corresponds to NAXIS1, the fastest-varying axis.
type WCS struct {
	Axes []Axis
}

// ParseWCS extracts the coordinate description from a header. Missing CRPIX,
// CRVAL or CDELT cards default to the FITS conventions (1, 0, 1).
func ParseWCS(h *Header) (*WCS, error) {
	shape, err := h.Shape()
	if err != nil {
		return nil, err
	}
	w := &WCS{Axes: make([]Axis, len(shape))}
	for i := range shape {
		n := i + 1
		w.Axes[i] = Axis{
			Type:   h.StrOr(fmt.Sprintf("CTYPE%d", n), ""),
			Len:    shape[i],
			RefPix: h.FloatOr(fmt.Sprintf("CRPIX%d", n), 1),
			RefVal: h.FloatOr(fmt.Sprintf("CRVAL%d", n), 0),
			Delta:  h.FloatOr(fmt.Sprintf("CDELT%d", n), 1),
			Unit:   h.StrOr(fmt.Sprintf("CUNIT%d", n), ""),
		}
	}
	return w, nil
}

// AxisIndexByType returns the 0-based index of the first axis whose CTYPE
// starts with the given type name, or -1 when no axis matches. Prefix
// matching covers algorithm-qualified types such as "FREQ-LSR".
func (w *WCS) AxisIndexByType(t string) int {
	for i, a := range w.Axes {
		if a.Type == t || strings.HasPrefix(a.Type, t+"-") {
			return i
		}
	}
	return -1
}

// SetAxis writes one axis description into the header at the given 0-based
// axis index (NAXIS<idx+1>).
func SetAxis(h *Header, idx int, a Axis) {
	n := idx + 1
	h.SetInt(fmt.Sprintf("NAXIS%d", n), int64(a.Len), "")
	h.SetString(fmt.Sprintf("CTYPE%d", n), a.Type, "")
	h.SetFloat(fmt.Sprintf("CRPIX%d", n), a.RefPix, "")
	h.SetFloat(fmt.Sprintf("CRVAL%d", n), a.RefVal, "")
	h.SetFloat(fmt.Sprintf("CDELT%d", n), a.Delta, "")
	if a.Unit != "" {
		h.SetString(fmt.Sprintf("CUNIT%d", n), a.Unit, "")
	} else {
		h.Delete(fmt.Sprintf("CUNIT%d", n))
	}
}

// EqualWCS reports whether two coordinate descriptions agree axis-by-axis.
// Numeric fields are compared with a relative tolerance so that headers
// re-serialized by different writers still compare equal.
func EqualWCS(a, b *WCS) bool {
	if len(a.Axes) != len(b.Axes) {
		return false
	}
	for i := range a.Axes {
		x, y := a.Axes[i], b.Axes[i]
		if x.Type != y.Type || x.Len != y.Len {
			return false
		}
		if !closeEnough(x.RefPix, y.RefPix) || !closeEnough(x.RefVal, y.RefVal) || !closeEnough(x.Delta, y.Delta) {
			return false
		}
	}
	return true
}

func closeEnough(a, b float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b) <= 1e-9*scale
}
