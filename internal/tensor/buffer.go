package tensor

import (
	"unsafe"

	"github.com/simpleinfer/simpleinfer/internal/status"
)

// Buffer owns a block of tensor memory.
//
// A Buffer is the only type that allocates or releases storage. Views taken
// from it with View alias the same bytes and stay valid only while the
// Buffer keeps that storage; Deallocate or a reallocating AllocateAs
// invalidates every View taken before.
type Buffer struct {
	dtype DataType
	shape Shape
	data  []byte // nil when nothing is owned
}

// NewBuffer creates a buffer description and allocates storage when allocate
// is true.
func NewBuffer(dtype DataType, shape Shape, allocate bool) (*Buffer, error) {
	b := &Buffer{dtype: dtype, shape: shape.Clone()}
	if allocate {
		if err := b.Allocate(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Allocate obtains zeroed storage for the current dtype and shape.
// It fails if the computed byte size is not positive.
func (b *Buffer) Allocate() error {
	size := b.dtype.Size()
	for _, dim := range b.shape {
		size *= dim
	}
	if size <= 0 {
		return status.Errorf(status.Fail, "allocate %s%v: non-positive size %d", b.dtype, b.shape, size)
	}
	b.data = make([]byte, size)
	return nil
}

// AllocateAs (re)allocates storage for dtype and shape. It is a no-op when
// the buffer already owns storage of the same dtype and shape.
func (b *Buffer) AllocateAs(dtype DataType, shape Shape) error {
	if b.data != nil && b.dtype == dtype && b.shape.Equal(shape) {
		return nil
	}
	_ = b.Deallocate()
	b.dtype = dtype
	b.shape = shape.Clone()
	return b.Allocate()
}

// Deallocate releases owned storage. On a buffer that owns nothing it does
// nothing and reports status.Fail.
func (b *Buffer) Deallocate() error {
	if b.data == nil {
		return status.Errorf(status.Fail, "deallocate %s%v: buffer owns no storage", b.dtype, b.shape)
	}
	b.data = nil
	return nil
}

// Owned reports whether the buffer currently holds storage.
func (b *Buffer) Owned() bool {
	return b.data != nil
}

// DType returns the element type.
func (b *Buffer) DType() DataType {
	return b.dtype
}

// Shape returns the tensor's shape.
func (b *Buffer) Shape() Shape {
	return b.shape
}

// ByteSize returns the total memory size in bytes.
func (b *Buffer) ByteSize() int {
	return b.shape.NumElements() * b.dtype.Size()
}

// View returns a borrowed alias of the buffer's storage. The view's data is
// nil if the buffer owns nothing.
func (b *Buffer) View() View {
	return View{dtype: b.dtype, shape: b.shape, data: b.data}
}

// bytesAs reinterprets raw bytes as n values of T without copying.
func bytesAs[T any](raw []byte, n int) []T {
	if n == 0 || len(raw) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by callers
	return unsafe.Slice((*T)(unsafe.Pointer(&raw[0])), n)
}

// bytesOf exposes the bytes backing a float32 slice.
func bytesOf(values []float32) []byte {
	//nolint:gosec // zero-copy alias of caller memory
	return unsafe.Slice((*byte)(unsafe.Pointer(&values[0])), len(values)*4)
}
