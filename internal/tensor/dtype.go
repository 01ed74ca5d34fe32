// Package tensor provides the buffer types every operator reads and writes:
// an owned Buffer that holds storage and a borrowed View that aliases it.
package tensor

import "github.com/x448/float16"

// Element is a constraint for element types a View can be reinterpreted as.
type Element interface {
	~float32 | ~float64 | ~int16 | ~int32 | ~int64 | ~int8 | ~uint8 | ~bool |
		~complex64 | ~complex128
}

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types. Only Float32 is computed by the kernels; the others
// are carried through the graph.
const (
	None DataType = iota
	Float32
	Float64
	Float16
	Int32
	Int64
	Int16
	Int8
	Uint8
	Bool
	Complex64
	Complex128
	Complex32
)

// Size returns the byte size of the data type. None has size 0.
func (dt DataType) Size() int {
	switch dt {
	case Int8, Uint8, Bool:
		return 1
	case Float16, Int16:
		return 2
	case Float32, Int32, Complex32:
		return 4
	case Float64, Int64, Complex64:
		return 8
	case Complex128:
		return 16
	default:
		return 0
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Float16:
		return "float16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Int16:
		return "int16"
	case Int8:
		return "int8"
	case Uint8:
		return "uint8"
	case Bool:
		return "bool"
	case Complex64:
		return "complex64"
	case Complex128:
		return "complex128"
	case Complex32:
		return "complex32"
	default:
		return "none"
	}
}

// FromIRType maps the model description's numeric type code (1..12) to a
// DataType. Unknown codes map to None.
func FromIRType(code int) DataType {
	if code < int(Float32) || code > int(Complex32) {
		return None
	}
	return DataType(code)
}

// DataTypeOf returns the DataType matching the Go element type T.
func DataTypeOf[T Element]() DataType {
	var dummy T
	switch any(dummy).(type) {
	case float32:
		return Float32
	case float64:
		return Float64
	case int32:
		return Int32
	case int64:
		return Int64
	case int16:
		return Int16
	case int8:
		return Int8
	case uint8:
		return Uint8
	case bool:
		return Bool
	case complex64:
		return Complex64
	case complex128:
		return Complex128
	default:
		return None
	}
}

// ToFloat32 decodes little-endian raw bytes of the given type into float32
// values. Float32, Float16 and Float64 are supported; anything else returns
// false.
func ToFloat32(dtype DataType, raw []byte) ([]float32, bool) {
	switch dtype {
	case Float32:
		out := make([]float32, len(raw)/4)
		copy(out, bytesAs[float32](raw, len(out)))
		return out, true
	case Float16:
		out := make([]float32, len(raw)/2)
		for i := range out {
			bits := uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
			out[i] = float16.Frombits(bits).Float32()
		}
		return out, true
	case Float64:
		src := bytesAs[float64](raw, len(raw)/8)
		out := make([]float32, len(src))
		for i, v := range src {
			out[i] = float32(v)
		}
		return out, true
	default:
		return nil, false
	}
}
