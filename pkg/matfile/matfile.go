// Package matfile reads and writes MATLAB Level 5 MAT-files.
//
// Only the subset used by radar data products is supported: numeric,
// logical and char arrays, structs and cells, optionally wrapped in zlib
// compressed elements. MATLAB 7.3 files are HDF5 containers and are
// rejected with ErrUnsupportedVersion.
package matfile

import (
	"errors"
)

var (
	// ErrNotMAT indicates the input does not carry a MAT-file header.
	ErrNotMAT = errors.New("not a MAT-file")
	// ErrUnsupportedVersion indicates a MAT-file version this package cannot decode.
	ErrUnsupportedVersion = errors.New("unsupported MAT-file version")
	// ErrCorrupt indicates a structurally invalid data element.
	ErrCorrupt = errors.New("corrupt MAT-file element")
)

// Data element types.
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
	miUTF8       = 16
	miUTF16      = 17
	miUTF32      = 18
)

// Array flag bits.
const (
	flagComplex = 0x0800
	flagGlobal  = 0x0400
	flagLogical = 0x0200
)

const (
	headerSize      = 128
	headerTextSize  = 116
	version5        = 0x0100
	maxElementBytes = 1 << 31
	maxNesting      = 64
	maxContainer    = 1 << 24
	readChunk       = 64 << 10
)

// Class is the MATLAB array class.
type Class uint8

// Array classes.
const (
	ClassCell   Class = 1
	ClassStruct Class = 2
	ClassObject Class = 3
	ClassChar   Class = 4
	ClassSparse Class = 5
	ClassDouble Class = 6
	ClassSingle Class = 7
	ClassInt8   Class = 8
	ClassUint8  Class = 9
	ClassInt16  Class = 10
	ClassUint16 Class = 11
	ClassInt32  Class = 12
	ClassUint32 Class = 13
	ClassInt64  Class = 14
	ClassUint64 Class = 15
)

// IsNumeric reports whether c is one of the numeric classes.
func (c Class) IsNumeric() bool {
	return c >= ClassDouble && c <= ClassUint64
}

func (c Class) String() string {
	switch c {
	case ClassCell:
		return "cell"
	case ClassStruct:
		return "struct"
	case ClassObject:
		return "object"
	case ClassChar:
		return "char"
	case ClassSparse:
		return "sparse"
	case ClassDouble:
		return "double"
	case ClassSingle:
		return "single"
	case ClassInt8:
		return "int8"
	case ClassUint8:
		return "uint8"
	case ClassInt16:
		return "int16"
	case ClassUint16:
		return "uint16"
	case ClassInt32:
		return "int32"
	case ClassUint32:
		return "uint32"
	case ClassInt64:
		return "int64"
	case ClassUint64:
		return "uint64"
	default:
		return "unknown"
	}
}

// Array is one decoded MATLAB variable or nested value.
type Array struct {
	Name    string
	Class   Class
	Dims    []int
	Logical bool
	Complex bool

	// Data holds the real part of numeric arrays in column-major order.
	Data []float64
	// Strings holds char arrays, one entry per row with trailing blanks removed.
	Strings []string
	// Fields lists struct field names in file order.
	Fields []string
	// Structs holds struct elements in column-major order. It is empty for
	// a field-less struct array of more than one element; Dims keeps the
	// shape.
	Structs []map[string]*Array
	// Cells holds cell elements in column-major order.
	Cells []*Array

	// Unsupported is set for sparse, object and opaque arrays, whose
	// contents are not decoded.
	Unsupported bool
}

// Numel returns the number of elements implied by Dims.
func (a *Array) Numel() int {
	if len(a.Dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range a.Dims {
		n *= d
	}
	return n
}

// Float64s returns the numeric data of a numeric array.
func (a *Array) Float64s() ([]float64, bool) {
	if a == nil || !a.Class.IsNumeric() || a.Unsupported {
		return nil, false
	}
	return a.Data, true
}

// Header is the 128-byte MAT-file header.
type Header struct {
	Text         string
	Version      uint16
	LittleEndian bool
}

// File is a decoded MAT-file.
type File struct {
	Header Header
	Vars   map[string]*Array
	// Order lists decoded variable names in file order.
	Order []string
	// Skipped lists variables whose payload was not decoded.
	Skipped []string
}

// Var returns the named top-level variable.
func (f *File) Var(name string) (*Array, bool) {
	a, ok := f.Vars[name]
	return a, ok
}

// Options controls decoding.
type Options struct {
	// Keep decides whether a top-level variable is decoded. It sees the
	// name, class and element count before the payload is read. Nil keeps
	// every variable.
	Keep func(name string, class Class, numel int) bool
}
