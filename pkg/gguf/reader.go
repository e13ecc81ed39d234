package gguf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// source is the byte-level input shared by the mapped and stream readers.
// Every read advances the offset; both implementations must fail with
// ErrTruncated rather than read past the end of input.
type source interface {
	// next returns the next n bytes. The slice is only valid until the
	// following call.
	next(n int) ([]byte, error)
	skip(n uint64) error
	offset() uint64
	// remaining reports the bytes left, if known.
	remaining() (uint64, bool)
}

// mappedSource reads from a memory-mapped file through a bounds-checked
// cursor.
type mappedSource struct {
	data []byte
	pos  uint64
}

func (m *mappedSource) next(n int) ([]byte, error) {
	if n < 0 || uint64(n) > uint64(len(m.data))-m.pos {
		return nil, ErrTruncated
	}
	b := m.data[m.pos : m.pos+uint64(n)]
	m.pos += uint64(n)
	return b, nil
}

func (m *mappedSource) skip(n uint64) error {
	if n > uint64(len(m.data))-m.pos {
		return ErrTruncated
	}
	m.pos += n
	return nil
}

func (m *mappedSource) offset() uint64 { return m.pos }

func (m *mappedSource) remaining() (uint64, bool) {
	return uint64(len(m.data)) - m.pos, true
}

// streamSource reads through a bufio.Reader. size is the total input length
// or -1 when unknown.
type streamSource struct {
	r    *bufio.Reader
	pos  uint64
	size int64
	buf  []byte
}

func newStreamSource(r io.Reader, size int64) *streamSource {
	return &streamSource{r: bufio.NewReaderSize(r, 1<<16), size: size}
}

func (s *streamSource) next(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrTruncated
	}
	if rem, ok := s.remaining(); ok && uint64(n) > rem {
		return nil, ErrTruncated
	}
	if cap(s.buf) < n {
		s.buf = make([]byte, n)
	}
	b := s.buf[:n]
	if _, err := io.ReadFull(s.r, b); err != nil {
		return nil, truncated(err)
	}
	s.pos += uint64(n)
	return b, nil
}

func (s *streamSource) skip(n uint64) error {
	if rem, ok := s.remaining(); ok && n > rem {
		return ErrTruncated
	}
	for n > 0 {
		chunk := n
		if chunk > math.MaxInt32 {
			chunk = math.MaxInt32
		}
		discarded, err := s.r.Discard(int(chunk))
		s.pos += uint64(discarded)
		if err != nil {
			return truncated(err)
		}
		n -= chunk
	}
	return nil
}

func (s *streamSource) offset() uint64 { return s.pos }

func (s *streamSource) remaining() (uint64, bool) {
	if s.size < 0 {
		return 0, false
	}
	if uint64(s.size) < s.pos {
		return 0, true
	}
	return uint64(s.size) - s.pos, true
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return fmt.Errorf("read: %w", err)
}

// decoder layers little-endian GGUF primitives over a source.
type decoder struct {
	src source
}

func (d decoder) u8() (uint8, error) {
	b, err := d.src.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d decoder) u16() (uint16, error) {
	b, err := d.src.next(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (d decoder) u32() (uint32, error) {
	b, err := d.src.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d decoder) u64() (uint64, error) {
	b, err := d.src.next(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// str reads a u64-length-prefixed string. Strings longer than MaxStringLen
// are skipped and reported as dropped.
func (d decoder) str() (string, bool, error) {
	n, err := d.u64()
	if err != nil {
		return "", false, err
	}
	if n > MaxStringLen {
		if err := d.src.skip(n); err != nil {
			return "", false, err
		}
		return "", true, nil
	}
	b, err := d.src.next(int(n))
	if err != nil {
		return "", false, err
	}
	return string(b), false, nil
}

func (d decoder) header() (Header, error) {
	var h Header
	var err error
	if h.Magic, err = d.u32(); err != nil {
		return h, err
	}
	if h.Magic != Magic {
		return h, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, h.Magic)
	}
	if h.Version, err = d.u32(); err != nil {
		return h, err
	}
	if h.Version < 2 {
		return h, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.TensorCount, err = d.u64(); err != nil {
		return h, err
	}
	if h.MetadataKVCount, err = d.u64(); err != nil {
		return h, err
	}
	return h, nil
}

// maxArrayDepth bounds nested arrays.
const maxArrayDepth = 4

// value decodes one payload of type t.
func (d decoder) value(t ValueType, depth int) (Value, error) {
	val := Value{Type: t}
	var err error
	switch t {
	case ValueTypeUint8:
		val.v, err = d.u8()
	case ValueTypeInt8:
		var x uint8
		x, err = d.u8()
		val.v = int8(x)
	case ValueTypeUint16:
		val.v, err = d.u16()
	case ValueTypeInt16:
		var x uint16
		x, err = d.u16()
		val.v = int16(x)
	case ValueTypeUint32:
		val.v, err = d.u32()
	case ValueTypeInt32:
		var x uint32
		x, err = d.u32()
		val.v = int32(x)
	case ValueTypeFloat32:
		var x uint32
		x, err = d.u32()
		val.v = math.Float32frombits(x)
	case ValueTypeBool:
		var x uint8
		x, err = d.u8()
		val.v = x != 0
	case ValueTypeString:
		var s string
		s, val.Dropped, err = d.str()
		val.v = s
	case ValueTypeUint64:
		val.v, err = d.u64()
	case ValueTypeInt64:
		var x uint64
		x, err = d.u64()
		val.v = int64(x)
	case ValueTypeFloat64:
		var x uint64
		x, err = d.u64()
		val.v = math.Float64frombits(x)
	case ValueTypeArray:
		return d.array(depth)
	default:
		return val, fmt.Errorf("%w: %d", ErrUnknownType, uint32(t))
	}
	return val, err
}

func (d decoder) array(depth int) (Value, error) {
	raw, err := d.u32()
	if err != nil {
		return Value{}, err
	}
	elem := ValueType(raw)
	if !elem.valid() {
		return Value{}, fmt.Errorf("%w: array element %d", ErrUnknownType, raw)
	}
	count, err := d.u64()
	if err != nil {
		return Value{}, err
	}
	val := Value{Type: ValueTypeArray, ElemType: elem}

	switch elem {
	case ValueTypeString:
		if count > MaxStringArrayLen {
			if err := d.skipStrings(count); err != nil {
				return Value{}, err
			}
			val.v, val.Dropped = emptyArray(elem), true
			return val, nil
		}
		out := make([]string, 0, preallocHint(count))
		for i := uint64(0); i < count; i++ {
			s, dropped, err := d.str()
			if err != nil {
				return Value{}, err
			}
			val.Dropped = val.Dropped || dropped
			out = append(out, s)
		}
		val.v = out
		return val, nil

	case ValueTypeArray:
		if depth >= maxArrayDepth || count > MaxNumericArrayLen {
			return Value{}, fmt.Errorf("%w: nested array", ErrTooLarge)
		}
		out := make([]Value, 0, preallocHint(count))
		for i := uint64(0); i < count; i++ {
			e, err := d.array(depth + 1)
			if err != nil {
				return Value{}, err
			}
			out = append(out, e)
		}
		val.v = out
		return val, nil
	}

	width := uint64(elem.Size())
	if count > math.MaxUint64/width {
		return Value{}, ErrTruncated
	}
	if count > MaxNumericArrayLen {
		if err := d.src.skip(count * width); err != nil {
			return Value{}, err
		}
		val.v, val.Dropped = emptyArray(elem), true
		return val, nil
	}
	if rem, ok := d.src.remaining(); ok && count*width > rem {
		return Value{}, ErrTruncated
	}
	val.v, err = d.numbers(elem, int(count))
	if err != nil {
		return Value{}, err
	}
	return val, nil
}

// skipStrings advances past count length-prefixed strings without
// allocating them.
func (d decoder) skipStrings(count uint64) error {
	for i := uint64(0); i < count; i++ {
		n, err := d.u64()
		if err != nil {
			return err
		}
		if err := d.src.skip(n); err != nil {
			return err
		}
	}
	return nil
}

func (d decoder) numbers(elem ValueType, n int) (any, error) {
	b, err := d.src.next(n * elem.Size())
	if err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	switch elem {
	case ValueTypeUint8:
		return append([]uint8(nil), b...), nil
	case ValueTypeInt8:
		out := make([]int8, n)
		for i := range out {
			out[i] = int8(b[i])
		}
		return out, nil
	case ValueTypeBool:
		out := make([]bool, n)
		for i := range out {
			out[i] = b[i] != 0
		}
		return out, nil
	case ValueTypeUint16:
		out := make([]uint16, n)
		for i := range out {
			out[i] = le.Uint16(b[i*2:])
		}
		return out, nil
	case ValueTypeInt16:
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(le.Uint16(b[i*2:]))
		}
		return out, nil
	case ValueTypeUint32:
		out := make([]uint32, n)
		for i := range out {
			out[i] = le.Uint32(b[i*4:])
		}
		return out, nil
	case ValueTypeInt32:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(le.Uint32(b[i*4:]))
		}
		return out, nil
	case ValueTypeFloat32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(le.Uint32(b[i*4:]))
		}
		return out, nil
	case ValueTypeUint64:
		out := make([]uint64, n)
		for i := range out {
			out[i] = le.Uint64(b[i*8:])
		}
		return out, nil
	case ValueTypeInt64:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(le.Uint64(b[i*8:]))
		}
		return out, nil
	case ValueTypeFloat64:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(le.Uint64(b[i*8:]))
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint32(elem))
}

// tensorInfo decodes one tensor directory entry.
func (d decoder) tensorInfo() (TensorInfo, error) {
	var t TensorInfo
	name, dropped, err := d.str()
	if err != nil {
		return t, err
	}
	if dropped {
		return t, fmt.Errorf("%w: tensor name", ErrTooLarge)
	}
	t.Name = name
	nDims, err := d.u32()
	if err != nil {
		return t, err
	}
	if nDims > MaxTensorDims {
		return t, fmt.Errorf("%w: tensor %q has %d dimensions", ErrTooLarge, name, nDims)
	}
	t.Dims = make([]uint64, nDims)
	for i := range t.Dims {
		if t.Dims[i], err = d.u64(); err != nil {
			return t, err
		}
	}
	typ, err := d.u32()
	if err != nil {
		return t, err
	}
	t.Type = GGMLType(typ)
	if t.Offset, err = d.u64(); err != nil {
		return t, err
	}
	t.Size = tensorSize(t)
	return t, nil
}

// preallocHint caps slice preallocation for counts read from the file.
func preallocHint(count uint64) int {
	const maxHint = 1024
	if count > maxHint {
		return maxHint
	}
	return int(count)
}

// ReadHeader decodes only the fixed GGUF header from r.
func ReadHeader(r io.Reader) (Header, error) {
	d := decoder{src: newStreamSource(r, -1)}
	return d.header()
}
