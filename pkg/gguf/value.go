package gguf

import (
	"fmt"
	"math"
	"strings"
)

// Value is a decoded metadata value. Type selects which Go type the payload
// holds: a scalar (uint8..float64, bool, string) or, for arrays, a typed
// slice whose element type is ElemType.
type Value struct {
	Type     ValueType
	ElemType ValueType

	// Dropped is set when an array or string exceeded a decoding cap and was
	// replaced by its empty value.
	Dropped bool

	v any
}

// Raw returns the decoded payload.
func (v Value) Raw() any {
	return v.v
}

// Len returns the element count of an array value, or 0.
func (v Value) Len() int {
	switch a := v.v.(type) {
	case []uint8:
		return len(a)
	case []int8:
		return len(a)
	case []uint16:
		return len(a)
	case []int16:
		return len(a)
	case []uint32:
		return len(a)
	case []int32:
		return len(a)
	case []float32:
		return len(a)
	case []bool:
		return len(a)
	case []string:
		return len(a)
	case []uint64:
		return len(a)
	case []int64:
		return len(a)
	case []float64:
		return len(a)
	case []Value:
		return len(a)
	}
	return 0
}

// AsUint64 converts any non-negative integer scalar.
func (v Value) AsUint64() (uint64, bool) {
	switch x := v.v.(type) {
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	case int8, int16, int32, int64:
		i, _ := v.AsInt64()
		if i < 0 {
			return 0, false
		}
		return uint64(i), true
	}
	return 0, false
}

// AsInt64 converts any integer scalar that fits in an int64.
func (v Value) AsInt64() (int64, bool) {
	switch x := v.v.(type) {
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}

// AsFloat64 converts any numeric scalar.
func (v Value) AsFloat64() (float64, bool) {
	switch x := v.v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	if i, ok := v.AsInt64(); ok {
		return float64(i), true
	}
	if u, ok := v.AsUint64(); ok {
		return float64(u), true
	}
	return 0, false
}

func (v Value) AsBool() (bool, bool) {
	b, ok := v.v.(bool)
	return b, ok
}

func (v Value) AsString() (string, bool) {
	s, ok := v.v.(string)
	return s, ok
}

// AsStrings returns a string array, or nil.
func (v Value) AsStrings() []string {
	s, _ := v.v.([]string)
	return s
}

// AsUint64s widens any integer array. It returns nil for non-integer arrays
// and for arrays holding negative elements. A dropped array yields an empty
// slice.
func (v Value) AsUint64s() []uint64 {
	if v.Type != ValueTypeArray {
		return nil
	}
	out := make([]uint64, 0, v.Len())
	ok := true
	each(v.v, func(e Value) {
		u, valid := e.AsUint64()
		if !valid {
			ok = false
			return
		}
		out = append(out, u)
	})
	if !ok {
		return nil
	}
	return out
}

// AsInt64s widens any integer array. It returns nil for non-integer arrays.
func (v Value) AsInt64s() []int64 {
	if v.Type != ValueTypeArray {
		return nil
	}
	out := make([]int64, 0, v.Len())
	ok := true
	each(v.v, func(e Value) {
		i, valid := e.AsInt64()
		if !valid {
			ok = false
			return
		}
		out = append(out, i)
	})
	if !ok {
		return nil
	}
	return out
}

// each calls fn with every element of a typed slice wrapped as a scalar
// Value.
func each(arr any, fn func(Value)) {
	switch a := arr.(type) {
	case []uint8:
		for _, x := range a {
			fn(Value{Type: ValueTypeUint8, v: x})
		}
	case []int8:
		for _, x := range a {
			fn(Value{Type: ValueTypeInt8, v: x})
		}
	case []uint16:
		for _, x := range a {
			fn(Value{Type: ValueTypeUint16, v: x})
		}
	case []int16:
		for _, x := range a {
			fn(Value{Type: ValueTypeInt16, v: x})
		}
	case []uint32:
		for _, x := range a {
			fn(Value{Type: ValueTypeUint32, v: x})
		}
	case []int32:
		for _, x := range a {
			fn(Value{Type: ValueTypeInt32, v: x})
		}
	case []uint64:
		for _, x := range a {
			fn(Value{Type: ValueTypeUint64, v: x})
		}
	case []int64:
		for _, x := range a {
			fn(Value{Type: ValueTypeInt64, v: x})
		}
	case []float32:
		for _, x := range a {
			fn(Value{Type: ValueTypeFloat32, v: x})
		}
	case []float64:
		for _, x := range a {
			fn(Value{Type: ValueTypeFloat64, v: x})
		}
	case []bool:
		for _, x := range a {
			fn(Value{Type: ValueTypeBool, v: x})
		}
	case []string:
		for _, x := range a {
			fn(Value{Type: ValueTypeString, v: x})
		}
	case []Value:
		for _, x := range a {
			fn(x)
		}
	}
}

// String renders the value for display. Arrays longer than 8 elements are
// abbreviated.
func (v Value) String() string {
	if v.Type != ValueTypeArray {
		if v.v == nil {
			return ""
		}
		return fmt.Sprint(v.v)
	}
	const preview = 8
	var parts []string
	n := 0
	each(v.v, func(e Value) {
		if n < preview {
			parts = append(parts, e.String())
		}
		n++
	})
	if n > preview {
		parts = append(parts, fmt.Sprintf("... (%d total)", n))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// emptyArray returns the zero-length typed slice for an element type.
func emptyArray(t ValueType) any {
	switch t {
	case ValueTypeUint8:
		return []uint8{}
	case ValueTypeInt8:
		return []int8{}
	case ValueTypeUint16:
		return []uint16{}
	case ValueTypeInt16:
		return []int16{}
	case ValueTypeUint32:
		return []uint32{}
	case ValueTypeInt32:
		return []int32{}
	case ValueTypeFloat32:
		return []float32{}
	case ValueTypeBool:
		return []bool{}
	case ValueTypeString:
		return []string{}
	case ValueTypeUint64:
		return []uint64{}
	case ValueTypeInt64:
		return []int64{}
	case ValueTypeFloat64:
		return []float64{}
	default:
		return []Value{}
	}
}
