// Package gguf decodes the GGUF model container: a fixed header, a typed
// key-value metadata section and a tensor directory.
//
// Reference: https://github.com/ggerganov/ggml/blob/master/docs/gguf.md
package gguf

import (
	"fmt"
	"math"
)

const (
	// Magic is "GGUF" read as a little-endian uint32.
	Magic uint32 = 0x46554747

	// DefaultAlignment is used when general.alignment is absent.
	DefaultAlignment uint64 = 32
)

// Hard caps applied while decoding untrusted input.
const (
	MaxNumericArrayLen = 1_000_000
	MaxStringArrayLen  = 200_000
	MaxStringLen       = 1_000_000

	// MaxTensorDims is the largest dimension count ggml supports.
	MaxTensorDims = 4

	// MaxQuantizedTensorSize bounds the computed size of tensors whose
	// element width is only approximated.
	MaxQuantizedTensorSize = 100 << 20
)

// Well-known metadata keys.
const (
	KeyArchitecture = "general.architecture"
	KeyAlignment    = "general.alignment"
	KeyName         = "general.name"
	KeyFileType     = "general.file_type"
)

// ValueType is the type tag of a metadata value.
type ValueType uint32

const (
	ValueTypeUint8   ValueType = 0
	ValueTypeInt8    ValueType = 1
	ValueTypeUint16  ValueType = 2
	ValueTypeInt16   ValueType = 3
	ValueTypeUint32  ValueType = 4
	ValueTypeInt32   ValueType = 5
	ValueTypeFloat32 ValueType = 6
	ValueTypeBool    ValueType = 7
	ValueTypeString  ValueType = 8
	ValueTypeArray   ValueType = 9
	ValueTypeUint64  ValueType = 10
	ValueTypeInt64   ValueType = 11
	ValueTypeFloat64 ValueType = 12
)

var valueTypeNames = map[ValueType]string{
	ValueTypeUint8:   "uint8",
	ValueTypeInt8:    "int8",
	ValueTypeUint16:  "uint16",
	ValueTypeInt16:   "int16",
	ValueTypeUint32:  "uint32",
	ValueTypeInt32:   "int32",
	ValueTypeFloat32: "float32",
	ValueTypeBool:    "bool",
	ValueTypeString:  "string",
	ValueTypeArray:   "array",
	ValueTypeUint64:  "uint64",
	ValueTypeInt64:   "int64",
	ValueTypeFloat64: "float64",
}

func (t ValueType) String() string {
	if name, ok := valueTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint32(t))
}

// Size returns the encoded width of a fixed-size scalar, or 0 for strings
// and arrays.
func (t ValueType) Size() int {
	switch t {
	case ValueTypeUint8, ValueTypeInt8, ValueTypeBool:
		return 1
	case ValueTypeUint16, ValueTypeInt16:
		return 2
	case ValueTypeUint32, ValueTypeInt32, ValueTypeFloat32:
		return 4
	case ValueTypeUint64, ValueTypeInt64, ValueTypeFloat64:
		return 8
	default:
		return 0
	}
}

func (t ValueType) valid() bool {
	_, ok := valueTypeNames[t]
	return ok
}

// GGMLType is the element type of a tensor.
type GGMLType uint32

const (
	GGMLTypeF32     GGMLType = 0
	GGMLTypeF16     GGMLType = 1
	GGMLTypeQ4_0    GGMLType = 2
	GGMLTypeQ4_1    GGMLType = 3
	GGMLTypeQ5_0    GGMLType = 6
	GGMLTypeQ5_1    GGMLType = 7
	GGMLTypeQ8_0    GGMLType = 8
	GGMLTypeQ8_1    GGMLType = 9
	GGMLTypeQ2_K    GGMLType = 10
	GGMLTypeQ3_K    GGMLType = 11
	GGMLTypeQ4_K    GGMLType = 12
	GGMLTypeQ5_K    GGMLType = 13
	GGMLTypeQ6_K    GGMLType = 14
	GGMLTypeQ8_K    GGMLType = 15
	GGMLTypeIQ2_XXS GGMLType = 16
	GGMLTypeIQ2_XS  GGMLType = 17
	GGMLTypeIQ3_XXS GGMLType = 18
	GGMLTypeIQ1_S   GGMLType = 19
	GGMLTypeIQ4_NL  GGMLType = 20
	GGMLTypeIQ3_S   GGMLType = 21
	GGMLTypeIQ2_S   GGMLType = 22
	GGMLTypeIQ4_XS  GGMLType = 23
	GGMLTypeI8      GGMLType = 24
	GGMLTypeI16     GGMLType = 25
	GGMLTypeI32     GGMLType = 26
	GGMLTypeI64     GGMLType = 27
	GGMLTypeF64     GGMLType = 28
	GGMLTypeIQ1_M   GGMLType = 29
	GGMLTypeBF16    GGMLType = 30
)

var ggmlTypeNames = map[GGMLType]string{
	GGMLTypeF32:     "F32",
	GGMLTypeF16:     "F16",
	GGMLTypeQ4_0:    "Q4_0",
	GGMLTypeQ4_1:    "Q4_1",
	GGMLTypeQ5_0:    "Q5_0",
	GGMLTypeQ5_1:    "Q5_1",
	GGMLTypeQ8_0:    "Q8_0",
	GGMLTypeQ8_1:    "Q8_1",
	GGMLTypeQ2_K:    "Q2_K",
	GGMLTypeQ3_K:    "Q3_K",
	GGMLTypeQ4_K:    "Q4_K",
	GGMLTypeQ5_K:    "Q5_K",
	GGMLTypeQ6_K:    "Q6_K",
	GGMLTypeQ8_K:    "Q8_K",
	GGMLTypeIQ2_XXS: "IQ2_XXS",
	GGMLTypeIQ2_XS:  "IQ2_XS",
	GGMLTypeIQ3_XXS: "IQ3_XXS",
	GGMLTypeIQ1_S:   "IQ1_S",
	GGMLTypeIQ4_NL:  "IQ4_NL",
	GGMLTypeIQ3_S:   "IQ3_S",
	GGMLTypeIQ2_S:   "IQ2_S",
	GGMLTypeIQ4_XS:  "IQ4_XS",
	GGMLTypeI8:      "I8",
	GGMLTypeI16:     "I16",
	GGMLTypeI32:     "I32",
	GGMLTypeI64:     "I64",
	GGMLTypeF64:     "F64",
	GGMLTypeIQ1_M:   "IQ1_M",
	GGMLTypeBF16:    "BF16",
}

func (t GGMLType) String() string {
	if name, ok := ggmlTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint32(t))
}

// elementWidth returns the per-element byte width and whether that width is
// exact. Block-quantized types are approximated as one byte per element.
func (t GGMLType) elementWidth() (uint64, bool) {
	switch t {
	case GGMLTypeF32, GGMLTypeI32:
		return 4, true
	case GGMLTypeF16, GGMLTypeBF16, GGMLTypeI16:
		return 2, true
	case GGMLTypeF64, GGMLTypeI64:
		return 8, true
	case GGMLTypeI8:
		return 1, true
	default:
		return 1, false
	}
}

// Header is the fixed-size GGUF preamble.
type Header struct {
	Magic           uint32
	Version         uint32
	TensorCount     uint64
	MetadataKVCount uint64
}

// TensorInfo describes one entry of the tensor directory.
type TensorInfo struct {
	Name   string
	Dims   []uint64
	Type   GGMLType
	Offset uint64 // relative to the start of the tensor data region
	Size   uint64
}

// Elements returns the product of the tensor's dimensions, saturating at
// math.MaxUint64.
func (t TensorInfo) Elements() uint64 {
	if len(t.Dims) == 0 {
		return 0
	}
	n := uint64(1)
	for _, d := range t.Dims {
		if d != 0 && n > math.MaxUint64/d {
			return math.MaxUint64
		}
		n *= d
	}
	return n
}

// tensorSize computes the byte size of a tensor from its shape and type.
func tensorSize(t TensorInfo) uint64 {
	n := t.Elements()
	width, exact := t.Type.elementWidth()
	var size uint64
	if n > math.MaxUint64/width {
		size = math.MaxUint64
	} else {
		size = n * width
	}
	if !exact && size > MaxQuantizedTensorSize {
		size = MaxQuantizedTensorSize
	}
	return size
}

func alignOffset(offset, alignment uint64) uint64 {
	if alignment == 0 {
		return offset
	}
	if rem := offset % alignment; rem != 0 {
		return offset + alignment - rem
	}
	return offset
}
