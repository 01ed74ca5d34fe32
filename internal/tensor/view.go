package tensor

import (
	"fmt"

	"github.com/simpleinfer/simpleinfer/internal/status"
)

// View is a borrowed, shallow alias of tensor storage.
//
// Copying a View copies the description only; both copies share the bytes.
// A View never allocates nor frees: whoever owns the storage (a Buffer or
// caller memory passed to NewView) must outlive every View of it.
type View struct {
	dtype DataType
	shape Shape
	data  []byte
}

// NewView wraps caller-owned bytes. data must hold at least the number of
// bytes dtype and shape require.
func NewView(dtype DataType, shape Shape, data []byte) (View, error) {
	need := shape.NumElements() * dtype.Size()
	if need <= 0 {
		return View{}, status.Errorf(status.Fail, "view %s%v: non-positive size %d", dtype, shape, need)
	}
	if len(data) < need {
		return View{}, status.Errorf(status.ErrorShape, "view %s%v needs %d bytes, got %d", dtype, shape, need, len(data))
	}
	return View{dtype: dtype, shape: shape.Clone(), data: data[:need]}, nil
}

// FromFloat32 wraps a float32 slice as a View without copying.
func FromFloat32(shape Shape, values []float32) (View, error) {
	if shape.NumElements() != len(values) {
		return View{}, status.Errorf(status.ErrorShape, "shape %v requires %d elements, but got %d",
			shape, shape.NumElements(), len(values))
	}
	if len(values) == 0 {
		return View{}, status.Errorf(status.Fail, "empty float32 view")
	}
	return View{dtype: Float32, shape: shape.Clone(), data: bytesOf(values)}, nil
}

// Describe returns a View with no storage, used to carry dtype and shape
// before memory is bound.
func Describe(dtype DataType, shape Shape) View {
	return View{dtype: dtype, shape: shape.Clone()}
}

// DType returns the element type.
func (v View) DType() DataType {
	return v.dtype
}

// Shape returns the tensor's shape.
func (v View) Shape() Shape {
	return v.shape
}

// Bound reports whether the view refers to storage.
func (v View) Bound() bool {
	return v.data != nil
}

// Data returns the raw byte slice.
// WARNING: Direct access to underlying memory. Use with caution.
func (v View) Data() []byte {
	return v.data
}

// NumElements returns the total number of elements.
func (v View) NumElements() int {
	return v.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (v View) ByteSize() int {
	return v.NumElements() * v.dtype.Size()
}

// Dims returns the shape folded or padded to rank dimensions.
func (v View) Dims(rank int) []int {
	return v.shape.Dims(rank)
}

// Float32 interprets the data as []float32.
// Panics if the view's dtype is not Float32.
func (v View) Float32() []float32 {
	if v.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", v.dtype))
	}
	return bytesAs[float32](v.data, v.NumElements())
}

// Reshape returns a view of the same bytes with a different shape of equal
// element count.
func (v View) Reshape(shape Shape) (View, error) {
	if shape.NumElements() != v.NumElements() {
		return View{}, status.Errorf(status.ErrorShape, "reshape %v to %v: element count mismatch", v.shape, shape)
	}
	return View{dtype: v.dtype, shape: shape.Clone(), data: v.data}, nil
}

// As reinterprets the view's bytes as []T. The caller guarantees that T
// matches the view's dtype; the result is meaningless otherwise.
func As[T Element](v View) []T {
	return bytesAs[T](v.data, v.NumElements())
}
