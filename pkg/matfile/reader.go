package matfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/klauspost/compress/zlib"
)

// Read decodes a Level 5 MAT-file of the given size.
func Read(r io.ReaderAt, size int64, opts Options) (*File, error) {
	hdr, order, err := readHeader(r, size)
	if err != nil {
		return nil, err
	}

	d := &decoder{order: order}
	f := &File{Header: hdr, Vars: make(map[string]*Array)}

	for off := int64(headerSize); size-off >= 8; {
		var tag [8]byte
		if _, err := r.ReadAt(tag[:], off); err != nil {
			return nil, fmt.Errorf("read tag at %d: %w", off, err)
		}
		typ := order.Uint32(tag[0:4])
		n := int64(order.Uint32(tag[4:8]))
		next := off + 8 + n
		if typ>>16 != 0 || next > size {
			return nil, fmt.Errorf("%w: element at offset %d overruns file", ErrCorrupt, off)
		}
		body := io.NewSectionReader(r, off+8, n)

		var arr *Array
		var kept bool
		switch typ {
		case miCOMPRESSED:
			arr, kept, err = d.readCompressed(body, opts.Keep)
		case miMATRIX:
			arr, kept, err = d.readMatrix(body, opts.Keep, 0)
		default:
			off = next
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("variable at offset %d: %w", off, err)
		}
		if arr != nil {
			if kept {
				f.Vars[arr.Name] = arr
				f.Order = append(f.Order, arr.Name)
			} else {
				f.Skipped = append(f.Skipped, arr.Name)
			}
		}
		off = next
	}
	return f, nil
}

func readHeader(r io.ReaderAt, size int64) (Header, binary.ByteOrder, error) {
	if size < headerSize {
		return Header{}, nil, ErrNotMAT
	}
	var buf [headerSize]byte
	if _, err := r.ReadAt(buf[:], 0); err != nil {
		return Header{}, nil, fmt.Errorf("read header: %w", err)
	}
	text := strings.TrimRight(string(buf[:headerTextSize]), " \x00")
	if !strings.HasPrefix(text, "MATLAB") {
		return Header{}, nil, ErrNotMAT
	}
	if strings.HasPrefix(text, "MATLAB 7.3") {
		return Header{}, nil, fmt.Errorf("%w: 7.3 (HDF5)", ErrUnsupportedVersion)
	}

	var order binary.ByteOrder
	littleEndian := false
	switch string(buf[126:128]) {
	case "IM":
		order = binary.LittleEndian
		littleEndian = true
	case "MI":
		order = binary.BigEndian
	default:
		return Header{}, nil, fmt.Errorf("%w: bad endian indicator", ErrNotMAT)
	}
	version := order.Uint16(buf[124:126])
	if version != version5 {
		return Header{}, nil, fmt.Errorf("%w: 0x%04x", ErrUnsupportedVersion, version)
	}
	return Header{Text: text, Version: version, LittleEndian: littleEndian}, order, nil
}

type decoder struct {
	order binary.ByteOrder
}

func (d *decoder) readCompressed(body io.Reader, keep func(string, Class, int) bool) (*Array, bool, error) {
	zr, err := zlib.NewReader(body)
	if err != nil {
		return nil, false, fmt.Errorf("%w: zlib: %v", ErrCorrupt, err)
	}
	defer zr.Close()

	var tag [8]byte
	if _, err := io.ReadFull(zr, tag[:]); err != nil {
		return nil, false, fmt.Errorf("%w: compressed tag: %v", ErrCorrupt, err)
	}
	typ := d.order.Uint32(tag[0:4])
	n := int64(d.order.Uint32(tag[4:8]))
	if typ != miMATRIX {
		return nil, false, nil
	}
	return d.readMatrix(io.LimitReader(zr, n), keep, 0)
}

// readElement reads one data element, returning its type and payload.
// Payload padding is consumed; small elements are unpacked.
func (d *decoder) readElement(rd io.Reader) (uint32, []byte, error) {
	var tag [8]byte
	if _, err := io.ReadFull(rd, tag[:]); err != nil {
		return 0, nil, fmt.Errorf("%w: element tag: %v", ErrCorrupt, err)
	}
	first := d.order.Uint32(tag[0:4])
	if small := first >> 16; small != 0 {
		if small > 4 {
			return 0, nil, fmt.Errorf("%w: small element of %d bytes", ErrCorrupt, small)
		}
		payload := make([]byte, small)
		copy(payload, tag[4:4+small])
		return first & 0xffff, payload, nil
	}

	n := d.order.Uint32(tag[4:8])
	if int64(n) > maxElementBytes {
		return 0, nil, fmt.Errorf("%w: element of %d bytes", ErrCorrupt, n)
	}
	padded := n
	if first != miCOMPRESSED && n%8 != 0 {
		padded += 8 - n%8
	}
	// The declared length is untrusted; the buffer grows only as bytes arrive.
	var buf bytes.Buffer
	buf.Grow(int(min(padded, readChunk)))
	if _, err := buf.ReadFrom(io.LimitReader(rd, int64(padded))); err != nil {
		return 0, nil, fmt.Errorf("%w: element payload: %v", ErrCorrupt, err)
	}
	// The final element of a stream may omit its padding.
	if buf.Len() < int(n) {
		return 0, nil, fmt.Errorf("%w: element payload: %d of %d bytes", ErrCorrupt, buf.Len(), n)
	}
	return first, buf.Bytes()[:n], nil
}

// readMatrix decodes the subelements of one miMATRIX element. keep applies
// only at the top level; nested arrays are always decoded.
func (d *decoder) readMatrix(rd io.Reader, keep func(string, Class, int) bool, depth int) (*Array, bool, error) {
	if depth > maxNesting {
		return nil, false, fmt.Errorf("%w: nesting deeper than %d", ErrCorrupt, maxNesting)
	}

	typ, p, err := d.readElement(rd)
	if err != nil {
		return nil, false, err
	}
	if typ != miUINT32 || len(p) < 8 {
		return nil, false, fmt.Errorf("%w: array flags", ErrCorrupt)
	}
	flags := d.order.Uint32(p[0:4])
	a := &Array{
		Class:   Class(flags & 0xff),
		Complex: flags&flagComplex != 0,
		Logical: flags&flagLogical != 0,
	}

	typ, p, err = d.readElement(rd)
	if err != nil {
		return nil, false, err
	}
	if typ != miINT32 || len(p)%4 != 0 {
		return nil, false, fmt.Errorf("%w: dimensions", ErrCorrupt)
	}
	numel := int64(1)
	for i := 0; i < len(p); i += 4 {
		dim := int64(int32(d.order.Uint32(p[i : i+4])))
		if dim < 0 {
			return nil, false, fmt.Errorf("%w: negative dimension", ErrCorrupt)
		}
		a.Dims = append(a.Dims, int(dim))
		numel *= dim
		if numel > maxElementBytes {
			return nil, false, fmt.Errorf("%w: %d elements", ErrCorrupt, numel)
		}
	}

	typ, p, err = d.readElement(rd)
	if err != nil {
		return nil, false, err
	}
	if typ != miINT8 && typ != miUINT8 {
		return nil, false, fmt.Errorf("%w: array name", ErrCorrupt)
	}
	a.Name = string(bytes.TrimRight(p, "\x00"))

	if keep != nil && !keep(a.Name, a.Class, int(numel)) {
		return a, false, nil
	}

	switch {
	case a.Class.IsNumeric():
		err = d.readNumeric(rd, a, int(numel))
	case a.Class == ClassChar:
		err = d.readChar(rd, a, int(numel))
	case a.Class == ClassStruct:
		err = d.readStruct(rd, a, int(numel), depth)
	case a.Class == ClassCell:
		err = d.readCell(rd, a, int(numel), depth)
	default:
		a.Unsupported = true
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s %q: %w", a.Class, a.Name, err)
	}
	return a, true, nil
}

func (d *decoder) readNumeric(rd io.Reader, a *Array, numel int) error {
	if numel == 0 {
		return nil
	}
	typ, p, err := d.readElement(rd)
	if err != nil {
		return err
	}
	data, err := d.decodeNumbers(typ, p)
	if err != nil {
		return err
	}
	if len(data) != numel {
		return fmt.Errorf("%w: %d values for %d elements", ErrCorrupt, len(data), numel)
	}
	a.Data = data
	if a.Complex {
		// Imaginary part is read to validate the element and then dropped.
		if _, _, err := d.readElement(rd); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) decodeNumbers(typ uint32, p []byte) ([]float64, error) {
	width := storageWidth(typ)
	if width == 0 {
		return nil, fmt.Errorf("%w: numeric storage type %d", ErrCorrupt, typ)
	}
	if len(p)%width != 0 {
		return nil, fmt.Errorf("%w: %d bytes not a multiple of %d", ErrCorrupt, len(p), width)
	}
	out := make([]float64, len(p)/width)
	for i := range out {
		b := p[i*width : (i+1)*width]
		switch typ {
		case miINT8:
			out[i] = float64(int8(b[0]))
		case miUINT8:
			out[i] = float64(b[0])
		case miINT16:
			out[i] = float64(int16(d.order.Uint16(b)))
		case miUINT16:
			out[i] = float64(d.order.Uint16(b))
		case miINT32:
			out[i] = float64(int32(d.order.Uint32(b)))
		case miUINT32:
			out[i] = float64(d.order.Uint32(b))
		case miSINGLE:
			out[i] = float64(math.Float32frombits(d.order.Uint32(b)))
		case miDOUBLE:
			out[i] = math.Float64frombits(d.order.Uint64(b))
		case miINT64:
			out[i] = float64(int64(d.order.Uint64(b)))
		case miUINT64:
			out[i] = float64(d.order.Uint64(b))
		}
	}
	return out, nil
}

func (d *decoder) readChar(rd io.Reader, a *Array, numel int) error {
	if numel == 0 {
		a.Strings = []string{}
		return nil
	}
	typ, p, err := d.readElement(rd)
	if err != nil {
		return err
	}

	var chars []rune
	switch typ {
	case miUTF8:
		if !utf8.Valid(p) {
			return fmt.Errorf("%w: invalid utf-8 text", ErrCorrupt)
		}
		chars = []rune(string(p))
	case miUINT16, miUTF16:
		units := make([]uint16, len(p)/2)
		for i := range units {
			units[i] = d.order.Uint16(p[2*i:])
		}
		chars = utf16.Decode(units)
	case miUINT8, miINT8:
		chars = make([]rune, len(p))
		for i, b := range p {
			chars[i] = rune(b)
		}
	case miUTF32, miUINT32, miINT32:
		chars = make([]rune, len(p)/4)
		for i := range chars {
			chars[i] = rune(d.order.Uint32(p[4*i:]))
		}
	default:
		return fmt.Errorf("%w: char storage type %d", ErrCorrupt, typ)
	}

	rows := 1
	if len(a.Dims) > 0 {
		rows = a.Dims[0]
	}
	if rows == 0 || len(chars)%rows != 0 {
		return fmt.Errorf("%w: %d chars in %d rows", ErrCorrupt, len(chars), rows)
	}
	cols := len(chars) / rows
	a.Strings = make([]string, rows)
	row := make([]rune, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			row[c] = chars[c*rows+r]
		}
		a.Strings[r] = strings.TrimRight(string(row), " \x00")
	}
	return nil
}

func (d *decoder) readStruct(rd io.Reader, a *Array, numel, depth int) error {
	typ, p, err := d.readElement(rd)
	if err != nil {
		return err
	}
	if typ != miINT32 || len(p) < 4 {
		return fmt.Errorf("%w: field name length", ErrCorrupt)
	}
	nameLen := int(int32(d.order.Uint32(p)))
	if nameLen <= 0 {
		return fmt.Errorf("%w: field name length %d", ErrCorrupt, nameLen)
	}

	_, p, err = d.readElement(rd)
	if err != nil {
		return err
	}
	if len(p)%nameLen != 0 {
		return fmt.Errorf("%w: field names", ErrCorrupt)
	}
	for i := 0; i < len(p); i += nameLen {
		a.Fields = append(a.Fields, string(bytes.TrimRight(p[i:i+nameLen], "\x00")))
	}
	if numel > maxContainer || numel*len(a.Fields) > maxContainer {
		return fmt.Errorf("%w: struct of %d elements", ErrCorrupt, numel)
	}
	// Elements of a field-less struct array carry no data; only a scalar
	// keeps its single empty element.
	if len(a.Fields) == 0 {
		if numel == 1 {
			a.Structs = []map[string]*Array{{}}
		}
		return nil
	}

	a.Structs = make([]map[string]*Array, 0, min(numel, readChunk/8))
	for i := 0; i < numel; i++ {
		elem := make(map[string]*Array, len(a.Fields))
		for _, field := range a.Fields {
			child, err := d.readChild(rd, depth)
			if err != nil {
				return fmt.Errorf("field %q: %w", field, err)
			}
			child.Name = field
			elem[field] = child
		}
		a.Structs = append(a.Structs, elem)
	}
	return nil
}

func (d *decoder) readCell(rd io.Reader, a *Array, numel, depth int) error {
	if numel > maxContainer {
		return fmt.Errorf("%w: cell of %d elements", ErrCorrupt, numel)
	}
	a.Cells = make([]*Array, 0, min(numel, readChunk/8))
	for i := 0; i < numel; i++ {
		child, err := d.readChild(rd, depth)
		if err != nil {
			return fmt.Errorf("cell %d: %w", i, err)
		}
		a.Cells = append(a.Cells, child)
	}
	return nil
}

// readChild reads a nested miMATRIX element. An empty element decodes as
// an empty double array.
func (d *decoder) readChild(rd io.Reader, depth int) (*Array, error) {
	typ, p, err := d.readElement(rd)
	if err != nil {
		return nil, err
	}
	if typ != miMATRIX {
		return nil, fmt.Errorf("%w: expected matrix, got type %d", ErrCorrupt, typ)
	}
	if len(p) == 0 {
		return &Array{Class: ClassDouble, Dims: []int{0, 0}}, nil
	}
	child, _, err := d.readMatrix(bytes.NewReader(p), nil, depth+1)
	return child, err
}

func storageWidth(typ uint32) int {
	switch typ {
	case miINT8, miUINT8:
		return 1
	case miINT16, miUINT16:
		return 2
	case miINT32, miUINT32, miSINGLE:
		return 4
	case miDOUBLE, miINT64, miUINT64:
		return 8
	default:
		return 0
	}
}
