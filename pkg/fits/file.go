package fits

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// File is an open FITS image. Reads and writes address the primary HDU only.
// Slice writes via WriteSlice address disjoint byte ranges and are safe to
// issue concurrently from multiple goroutines.
type File struct {
	path     string
	f        *os.File
	hdr      *Header
	shape    []int
	bitpix   int
	dataOff  int64
	writable bool
}

// Open opens an existing FITS file and reads only its primary header. Pixel
// data is not touched until ReadData or ReadSlice is called.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	hdr, dataOff, err := readHeaderBlocks(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	shape, err := hdr.Shape()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	bitpix, err := hdr.Bitpix()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if _, err := bytesPerValue(bitpix); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &File{path: path, f: f, hdr: hdr, shape: shape, bitpix: bitpix, dataOff: dataOff}, nil
}

// readHeaderBlocks consumes 2880-byte blocks until the END card appears and
// returns the parsed header plus the byte offset of the data region.
func readHeaderBlocks(f *os.File) (*Header, int64, error) {
	var raw []byte
	buf := make([]byte, BlockSize)
	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, 0, fmt.Errorf("reading header: %w", err)
		}
		raw = append(raw, buf...)
		if blockHasEnd(buf) {
			break
		}
		if len(raw) > 100*BlockSize {
			return nil, 0, fmt.Errorf("header exceeds 100 blocks without END card")
		}
	}
	hdr, err := ParseHeader(raw)
	if err != nil {
		return nil, 0, err
	}
	return hdr, int64(len(raw)), nil
}

func blockHasEnd(block []byte) bool {
	for off := 0; off+cardLength <= len(block); off += cardLength {
		if string(block[off:off+3]) == "END" && string(block[off+3:off+8]) == "     " {
			return true
		}
	}
	return false
}

// Create writes a new FITS file with the given header and a pre-sized,
// zero-filled data region matching the header's shape and BITPIX. The file
// is left open for writing.
func Create(path string, hdr *Header) (*File, error) {
	shape, err := hdr.Shape()
	if err != nil {
		return nil, err
	}
	bitpix, err := hdr.Bitpix()
	if err != nil {
		return nil, err
	}
	bsz, err := bytesPerValue(bitpix)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	raw := hdr.Serialize()
	if _, err := f.Write(raw); err != nil {
		f.Close()
		return nil, err
	}
	dataOff := int64(len(raw))
	total := dataOff + padTo(int64(elementCount(shape))*int64(bsz))
	// Pre-size the whole data region up front so that later slice writes
	// address an already-allocated, non-overlapping byte range.
	if err := f.Truncate(total); err != nil {
		f.Close()
		return nil, err
	}
	return &File{path: path, f: f, hdr: hdr, shape: shape, bitpix: bitpix, dataOff: dataOff, writable: true}, nil
}

// Path returns the file path.
func (fl *File) Path() string { return fl.path }

// Header returns the primary header.
func (fl *File) Header() *Header { return fl.hdr }

// Shape returns the array dimensions, fastest-varying axis first.
func (fl *File) Shape() []int { return fl.shape }

// Bitpix returns the BITPIX code.
func (fl *File) Bitpix() int { return fl.bitpix }

// DataSize returns the unpadded byte size of the pixel data region.
func (fl *File) DataSize() int64 {
	bsz, _ := bytesPerValue(fl.bitpix)
	return int64(elementCount(fl.shape)) * int64(bsz)
}

// Close closes the underlying file handle.
func (fl *File) Close() error {
	return fl.f.Close()
}

// Sync flushes file contents to stable storage.
func (fl *File) Sync() error {
	return fl.f.Sync()
}

// ReadData reads the full pixel array as raw big-endian bytes.
func (fl *File) ReadData() ([]byte, error) {
	buf := make([]byte, fl.DataSize())
	if _, err := fl.f.ReadAt(buf, fl.dataOff); err != nil {
		return nil, fmt.Errorf("%s: reading data: %w", fl.path, err)
	}
	return buf, nil
}

// ReadFloats reads the full pixel array decoded to float64 values. Integer
// pixel types are widened; no BSCALE/BZERO scaling is applied.
func (fl *File) ReadFloats() ([]float64, error) {
	raw, err := fl.ReadData()
	if err != nil {
		return nil, err
	}
	return decodeValues(raw, fl.bitpix)
}

// sliceLayout describes how a slice perpendicular to one axis maps onto the
// serialized data region: contiguous chunks of chunk elements, repeated outer
// times with a stride of stride elements between repetitions.
func sliceLayout(shape []int, axis int) (chunk, stride, outer int) {
	chunk = 1
	for _, n := range shape[:axis] {
		chunk *= n
	}
	stride = chunk * shape[axis]
	outer = 1
	for _, n := range shape[axis+1:] {
		outer *= n
	}
	return chunk, stride, outer
}

// SliceSize returns the byte size of one slice perpendicular to the given
// 0-based axis.
func (fl *File) SliceSize(axis int) int64 {
	bsz, _ := bytesPerValue(fl.bitpix)
	chunk, _, outer := sliceLayout(fl.shape, axis)
	return int64(chunk) * int64(outer) * int64(bsz)
}

// WriteSlice writes raw pixel bytes into the slice at the given index along
// the given 0-based axis. The raw length must equal SliceSize(axis). Writes
// for distinct indices touch disjoint byte ranges.
func (fl *File) WriteSlice(axis, index int, raw []byte) error {
	if !fl.writable {
		return fmt.Errorf("%s: file not open for writing", fl.path)
	}
	if axis < 0 || axis >= len(fl.shape) {
		return fmt.Errorf("%s: axis %d out of range for shape %v", fl.path, axis, fl.shape)
	}
	if index < 0 || index >= fl.shape[axis] {
		return fmt.Errorf("%s: index %d out of range on axis %d (len %d)", fl.path, index, axis, fl.shape[axis])
	}
	if int64(len(raw)) != fl.SliceSize(axis) {
		return fmt.Errorf("%s: slice is %d bytes, want %d", fl.path, len(raw), fl.SliceSize(axis))
	}
	bsz, _ := bytesPerValue(fl.bitpix)
	chunk, stride, outer := sliceLayout(fl.shape, axis)
	chunkBytes := chunk * bsz
	for o := 0; o < outer; o++ {
		src := raw[o*chunkBytes : (o+1)*chunkBytes]
		dst := fl.dataOff + int64(o*stride+index*chunk)*int64(bsz)
		if _, err := fl.f.WriteAt(src, dst); err != nil {
			return fmt.Errorf("%s: writing slice %d on axis %d: %w", fl.path, index, axis, err)
		}
	}
	return nil
}

// ReadSlice reads the slice at the given index along the given 0-based axis
// as raw big-endian bytes.
func (fl *File) ReadSlice(axis, index int) ([]byte, error) {
	if axis < 0 || axis >= len(fl.shape) {
		return nil, fmt.Errorf("%s: axis %d out of range for shape %v", fl.path, axis, fl.shape)
	}
	if index < 0 || index >= fl.shape[axis] {
		return nil, fmt.Errorf("%s: index %d out of range on axis %d (len %d)", fl.path, index, axis, fl.shape[axis])
	}
	bsz, _ := bytesPerValue(fl.bitpix)
	chunk, stride, outer := sliceLayout(fl.shape, axis)
	chunkBytes := chunk * bsz
	out := make([]byte, int64(chunkBytes)*int64(outer))
	for o := 0; o < outer; o++ {
		src := fl.dataOff + int64(o*stride+index*chunk)*int64(bsz)
		if _, err := fl.f.ReadAt(out[o*chunkBytes:(o+1)*chunkBytes], src); err != nil {
			return nil, fmt.Errorf("%s: reading slice %d on axis %d: %w", fl.path, index, axis, err)
		}
	}
	return out, nil
}

// FillSentinel overwrites the whole data region with the floating-point
// no-data sentinel (NaN). Only floating-point BITPIX codes can represent the
// sentinel.
func (fl *File) FillSentinel() error {
	if !fl.writable {
		return fmt.Errorf("%s: file not open for writing", fl.path)
	}
	var pattern []byte
	switch fl.bitpix {
	case -32:
		pattern = make([]byte, 4)
		binary.BigEndian.PutUint32(pattern, math.Float32bits(float32(math.NaN())))
	case -64:
		pattern = make([]byte, 8)
		binary.BigEndian.PutUint64(pattern, math.Float64bits(math.NaN()))
	default:
		return fmt.Errorf("%s: BITPIX %d cannot hold a NaN sentinel", fl.path, fl.bitpix)
	}
	// Build one block's worth of the pattern and tile it over the region.
	buf := make([]byte, BlockSize)
	for i := 0; i < len(buf); i += len(pattern) {
		copy(buf[i:], pattern)
	}
	remaining := fl.DataSize()
	off := fl.dataOff
	for remaining > 0 {
		n := int64(len(buf))
		if n > remaining {
			n = remaining
		}
		if _, err := fl.f.WriteAt(buf[:n], off); err != nil {
			return fmt.Errorf("%s: sentinel fill: %w", fl.path, err)
		}
		off += n
		remaining -= n
	}
	return nil
}

// elementCount returns the number of pixels in the shape.
func elementCount(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// decodeValues converts raw big-endian pixel bytes to float64 values.
func decodeValues(raw []byte, bitpix int) ([]float64, error) {
	bsz, err := bytesPerValue(bitpix)
	if err != nil {
		return nil, err
	}
	if len(raw)%bsz != 0 {
		return nil, fmt.Errorf("data length %d is not a multiple of %d", len(raw), bsz)
	}
	out := make([]float64, len(raw)/bsz)
	for i := range out {
		b := raw[i*bsz : (i+1)*bsz]
		switch bitpix {
		case 8:
			out[i] = float64(b[0])
		case 16:
			out[i] = float64(int16(binary.BigEndian.Uint16(b)))
		case 32:
			out[i] = float64(int32(binary.BigEndian.Uint32(b)))
		case 64:
			out[i] = float64(int64(binary.BigEndian.Uint64(b)))
		case -32:
			out[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
		case -64:
			out[i] = math.Float64frombits(binary.BigEndian.Uint64(b))
		}
	}
	return out, nil
}

// EncodeFloats converts float64 pixel values to raw big-endian bytes for the
// given BITPIX code. Used by tests and tools that synthesize images.
func EncodeFloats(values []float64, bitpix int) ([]byte, error) {
	bsz, err := bytesPerValue(bitpix)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(values)*bsz)
	for i, v := range values {
		b := out[i*bsz : (i+1)*bsz]
		switch bitpix {
		case 8:
			b[0] = byte(v)
		case 16:
			binary.BigEndian.PutUint16(b, uint16(int16(v)))
		case 32:
			binary.BigEndian.PutUint32(b, uint32(int32(v)))
		case 64:
			binary.BigEndian.PutUint64(b, uint64(int64(v)))
		case -32:
			binary.BigEndian.PutUint32(b, math.Float32bits(float32(v)))
		case -64:
			binary.BigEndian.PutUint64(b, math.Float64bits(v))
		}
	}
	return out, nil
}

// WriteImage creates a complete FITS image in one call: header, pre-sized
// data region, and the full pixel array. Used by tests and by plane
// extraction, where the data fits comfortably in memory.
func WriteImage(path string, hdr *Header, raw []byte) error {
	fl, err := Create(path, hdr)
	if err != nil {
		return err
	}
	if int64(len(raw)) != fl.DataSize() {
		fl.Close()
		os.Remove(path)
		return fmt.Errorf("%s: data is %d bytes, want %d", path, len(raw), fl.DataSize())
	}
	if _, err := fl.f.WriteAt(raw, fl.dataOff); err != nil {
		fl.Close()
		os.Remove(path)
		return err
	}
	return fl.Close()
}
