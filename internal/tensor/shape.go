package tensor

import "fmt"

// Shape represents the dimensions of a tensor.
type Shape []int

// NumElements returns the total number of elements in the tensor.
func (s Shape) NumElements() int {
	if len(s) == 0 {
		return 1 // Scalar has 1 element
	}
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks if the shape is valid (all dimensions > 0).
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ComputeStrides calculates row-major strides for the shape.
// Strides define memory layout: stride[i] = product of all dimensions after i.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}

	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// Dims folds or pads the shape to exactly rank dimensions. Extra leading
// dimensions are multiplied into the first one and missing leading
// dimensions are filled with 1, so the element count is preserved.
//
//	Shape{2, 3, 4, 5}.Dims(2) → [24, 5]
//	Shape{4, 5}.Dims(4)       → [1, 1, 4, 5]
func (s Shape) Dims(rank int) []int {
	dims := make([]int, rank)
	if rank == 0 {
		return dims
	}
	if rank <= len(s) {
		idx := len(s) - 1
		for i := rank - 1; i > 0; i-- {
			dims[i] = s[idx]
			idx--
		}
		d0 := 1
		for ; idx >= 0; idx-- {
			d0 *= s[idx]
		}
		dims[0] = d0
		return dims
	}

	idx := rank - 1
	for i := len(s) - 1; i >= 0; i-- {
		dims[idx] = s[i]
		idx--
	}
	for ; idx >= 0; idx-- {
		dims[idx] = 1
	}
	return dims
}

// ChannelsLast rotates the trailing (C, H, W) dimensions of a shape of rank
// > 3 to (H, W, C), so (N, C, H, W) becomes (N, H, W, C). Shapes of rank <= 3
// are returned unchanged.
func (s Shape) ChannelsLast() Shape {
	out := s.Clone()
	if len(s) <= 3 {
		return out
	}
	n := len(s)
	out[n-1] = s[n-3]
	out[n-2] = s[n-1]
	out[n-3] = s[n-2]
	return out
}

// BroadcastShapes implements NumPy-style broadcasting rules.
//
// Rules:
// 1. Compare shapes element-wise from right to left
// 2. Dimensions are compatible if:
//   - They are equal, OR
//   - One of them is 1
//
// 3. Missing dimensions are treated as 1
//
// Returns the broadcasted shape, a flag indicating if broadcasting is needed, and an error if incompatible.
//
// Examples:
//
//	(3, 1) + (3, 5) → (3, 5), true, nil
//	(1, 5) + (3, 5) → (3, 5), true, nil
//	(3, 5) + (3, 5) → (3, 5), false, nil
//	(3, 4) + (3, 5) → nil, false, Error
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	maxLen := max(len(a), len(b))
	result := make(Shape, maxLen)
	needsBroadcast := false

	for i := 0; i < maxLen; i++ {
		aIdx := len(a) - 1 - i
		bIdx := len(b) - 1 - i

		aDim := 1
		if aIdx >= 0 {
			aDim = a[aIdx]
		}

		bDim := 1
		if bIdx >= 0 {
			bDim = b[bIdx]
		}

		switch {
		case aDim == bDim:
			result[maxLen-1-i] = aDim
		case aDim == 1:
			result[maxLen-1-i] = bDim
			needsBroadcast = true
		case bDim == 1:
			result[maxLen-1-i] = aDim
			needsBroadcast = true
		default:
			return nil, false, fmt.Errorf("shapes not compatible for broadcasting: %v vs %v (dimension %d: %d vs %d)",
				a, b, maxLen-1-i, aDim, bDim)
		}
	}

	return result, needsBroadcast, nil
}
