package matfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"unicode/utf16"

	"github.com/klauspost/compress/zlib"
)

// Writer encodes little-endian Level 5 MAT-files. It is used to produce
// fixtures and small derived products.
type Writer struct {
	w        io.Writer
	compress bool
	order    binary.ByteOrder
	wroteHdr bool
}

// NewWriter returns a Writer. When compress is set every variable is
// wrapped in a zlib compressed element, as MATLAB's -v7 format does.
func NewWriter(w io.Writer, compress bool) *Writer {
	return &Writer{w: w, compress: compress, order: binary.LittleEndian}
}

// WriteHeader writes the 128-byte file header.
func (w *Writer) WriteHeader(text string) error {
	if len(text) > headerTextSize {
		text = text[:headerTextSize]
	}
	var buf [headerSize]byte
	copy(buf[:], text)
	for i := len(text); i < headerTextSize; i++ {
		buf[i] = ' '
	}
	w.order.PutUint16(buf[124:126], version5)
	copy(buf[126:128], "IM")
	if _, err := w.w.Write(buf[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	w.wroteHdr = true
	return nil
}

// WriteVar writes one top-level variable.
func (w *Writer) WriteVar(a *Array) error {
	if !w.wroteHdr {
		if err := w.WriteHeader("MATLAB 5.0 MAT-file, Platform: GLNXA64"); err != nil {
			return err
		}
	}
	body, err := w.encodeMatrix(a, a.Name)
	if err != nil {
		return err
	}
	elem := w.element(miMATRIX, body)

	if w.compress {
		var zbuf bytes.Buffer
		zw := zlib.NewWriter(&zbuf)
		if _, err := zw.Write(elem); err != nil {
			return fmt.Errorf("compress %q: %w", a.Name, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compress %q: %w", a.Name, err)
		}
		var tag [8]byte
		w.order.PutUint32(tag[0:4], miCOMPRESSED)
		w.order.PutUint32(tag[4:8], uint32(zbuf.Len()))
		elem = append(tag[:], zbuf.Bytes()...)
	}

	if _, err := w.w.Write(elem); err != nil {
		return fmt.Errorf("write %q: %w", a.Name, err)
	}
	return nil
}

// element frames a payload as a data element, using the small element
// form when it fits.
func (w *Writer) element(typ uint32, payload []byte) []byte {
	if len(payload) <= 4 && typ != miMATRIX && len(payload) > 0 {
		var buf [8]byte
		w.order.PutUint32(buf[0:4], uint32(len(payload))<<16|typ)
		copy(buf[4:], payload)
		return buf[:]
	}
	n := len(payload)
	padded := n
	if n%8 != 0 {
		padded += 8 - n%8
	}
	buf := make([]byte, 8+padded)
	w.order.PutUint32(buf[0:4], typ)
	w.order.PutUint32(buf[4:8], uint32(n))
	copy(buf[8:], payload)
	return buf
}

func (w *Writer) encodeMatrix(a *Array, name string) ([]byte, error) {
	var out bytes.Buffer

	flags := make([]byte, 8)
	word := uint32(a.Class)
	if a.Logical {
		word |= flagLogical
	}
	w.order.PutUint32(flags[0:4], word)
	out.Write(w.element(miUINT32, flags))

	dims := a.Dims
	if len(dims) == 0 {
		dims = []int{0, 0}
	}
	dimBytes := make([]byte, 4*len(dims))
	for i, d := range dims {
		w.order.PutUint32(dimBytes[4*i:], uint32(int32(d)))
	}
	out.Write(w.element(miINT32, dimBytes))
	out.Write(w.element(miINT8, []byte(name)))

	switch {
	case a.Class.IsNumeric():
		typ, payload := w.encodeNumbers(a.Class, a.Data)
		out.Write(w.element(typ, payload))
	case a.Class == ClassChar:
		out.Write(w.element(miUINT16, w.encodeChars(a.Strings)))
	case a.Class == ClassStruct:
		nameLen := 32
		for _, f := range a.Fields {
			if len(f)+1 > nameLen {
				nameLen = len(f) + 1
			}
		}
		lenBytes := make([]byte, 4)
		w.order.PutUint32(lenBytes, uint32(nameLen))
		out.Write(w.element(miINT32, lenBytes))
		names := make([]byte, nameLen*len(a.Fields))
		for i, f := range a.Fields {
			copy(names[i*nameLen:], f)
		}
		out.Write(w.element(miINT8, names))
		for _, elem := range a.Structs {
			for _, f := range a.Fields {
				child, ok := elem[f]
				if !ok {
					child = &Array{Class: ClassDouble}
				}
				body, err := w.encodeMatrix(child, "")
				if err != nil {
					return nil, err
				}
				out.Write(w.element(miMATRIX, body))
			}
		}
	case a.Class == ClassCell:
		for _, c := range a.Cells {
			body, err := w.encodeMatrix(c, "")
			if err != nil {
				return nil, err
			}
			out.Write(w.element(miMATRIX, body))
		}
	default:
		return nil, fmt.Errorf("encode %q: class %s not supported", name, a.Class)
	}
	return out.Bytes(), nil
}

func (w *Writer) encodeNumbers(c Class, data []float64) (uint32, []byte) {
	var typ uint32
	var width int
	switch c {
	case ClassInt8:
		typ, width = miINT8, 1
	case ClassUint8:
		typ, width = miUINT8, 1
	case ClassInt16:
		typ, width = miINT16, 2
	case ClassUint16:
		typ, width = miUINT16, 2
	case ClassInt32:
		typ, width = miINT32, 4
	case ClassUint32:
		typ, width = miUINT32, 4
	case ClassSingle:
		typ, width = miSINGLE, 4
	case ClassInt64:
		typ, width = miINT64, 8
	case ClassUint64:
		typ, width = miUINT64, 8
	default:
		typ, width = miDOUBLE, 8
	}
	buf := make([]byte, width*len(data))
	for i, f := range data {
		b := buf[i*width:]
		switch typ {
		case miINT8:
			b[0] = byte(int8(f))
		case miUINT8:
			b[0] = byte(f)
		case miINT16:
			w.order.PutUint16(b, uint16(int16(f)))
		case miUINT16:
			w.order.PutUint16(b, uint16(f))
		case miINT32:
			w.order.PutUint32(b, uint32(int32(f)))
		case miUINT32:
			w.order.PutUint32(b, uint32(f))
		case miSINGLE:
			w.order.PutUint32(b, math.Float32bits(float32(f)))
		case miINT64:
			w.order.PutUint64(b, uint64(int64(f)))
		case miUINT64:
			w.order.PutUint64(b, uint64(f))
		default:
			w.order.PutUint64(b, math.Float64bits(f))
		}
	}
	return typ, buf
}

// encodeChars lays rows out column-major, padding short rows with blanks.
func (w *Writer) encodeChars(rows []string) []byte {
	runes := make([][]rune, len(rows))
	cols := 0
	for i, r := range rows {
		runes[i] = []rune(r)
		if len(runes[i]) > cols {
			cols = len(runes[i])
		}
	}
	units := make([]uint16, 0, cols*len(rows))
	for c := 0; c < cols; c++ {
		for r := range rows {
			ch := ' '
			if c < len(runes[r]) {
				ch = runes[r][c]
			}
			units = append(units, utf16.Encode([]rune{ch})[0])
		}
	}
	buf := make([]byte, 2*len(units))
	for i, u := range units {
		w.order.PutUint16(buf[2*i:], u)
	}
	return buf
}

// NewDouble returns a 1xN double row vector.
func NewDouble(name string, data ...float64) *Array {
	return &Array{Name: name, Class: ClassDouble, Dims: []int{1, len(data)}, Data: data}
}

// NewNumeric returns a 1xN vector of the given numeric class.
func NewNumeric(name string, c Class, data ...float64) *Array {
	return &Array{Name: name, Class: c, Dims: []int{1, len(data)}, Data: data}
}

// NewLogical returns a logical scalar.
func NewLogical(name string, v bool) *Array {
	f := 0.0
	if v {
		f = 1
	}
	return &Array{Name: name, Class: ClassUint8, Logical: true, Dims: []int{1, 1}, Data: []float64{f}}
}

// NewChar returns a char row vector. Characters outside the basic
// multilingual plane are not representable.
func NewChar(name, s string) *Array {
	n := len([]rune(s))
	rows := 1
	if n == 0 {
		rows = 0
	}
	return &Array{Name: name, Class: ClassChar, Dims: []int{rows, n}, Strings: []string{s}}
}

// NewStruct returns a 1xN struct array. Field order is sorted by name.
func NewStruct(name string, elems ...map[string]*Array) *Array {
	seen := make(map[string]bool)
	var fields []string
	for _, e := range elems {
		for k := range e {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}
	sort.Strings(fields)
	return &Array{Name: name, Class: ClassStruct, Dims: []int{1, len(elems)}, Fields: fields, Structs: elems}
}

// NewCell returns a 1xN cell array.
func NewCell(name string, cells ...*Array) *Array {
	return &Array{Name: name, Class: ClassCell, Dims: []int{1, len(cells)}, Cells: cells}
}
