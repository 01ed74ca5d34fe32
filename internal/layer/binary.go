package layer

import (
	"github.com/simpleinfer/simpleinfer/internal/ir"
	"github.com/simpleinfer/simpleinfer/internal/status"
	"github.com/simpleinfer/simpleinfer/internal/tensor"
)

// Binary operation kinds, as carried in parameter "0".
const (
	BinaryAdd  = 0
	BinarySub  = 1
	BinaryMul  = 2
	BinaryDiv  = 3
	BinaryRSub = 7 // b - a
	BinaryRDiv = 8 // b / a
)

// BinaryOp combines two tensors, or one tensor and a scalar, elementwise
// with broadcasting over equal-rank shapes.
//
// Parameters: "0" the operation kind, "1" non-zero when the second operand
// is the scalar "2".
type BinaryOp struct {
	Base

	kind       int
	withScalar bool
	scalar     float32

	// broadcast plan, filled by Validate
	outDims    []int
	aDims      []int
	bDims      []int
	sameShapes bool
}

// NewBinaryOp creates a BinaryOp operator.
func NewBinaryOp() *BinaryOp {
	return &BinaryOp{}
}

// Init reads the operation kind and optional scalar operand.
func (l *BinaryOp) Init(op *ir.Operator) error {
	if err := l.Base.Init(op); err != nil {
		return err
	}

	kind, err := l.intParam(op, "0")
	if err != nil {
		return err
	}
	switch kind {
	case BinaryAdd, BinarySub, BinaryMul, BinaryDiv, BinaryRSub, BinaryRDiv:
		l.kind = kind
	default:
		return l.errorf(status.Unsupported, "unsupported BinaryOp type %d", kind)
	}

	l.withScalar = op.ParamInt("1", 0) != 0
	if l.withScalar {
		if !op.HasParams("2") {
			return l.errorf(status.Fail, "missing scalar operand")
		}
		l.scalar = op.ParamFloat("2", 0)
	}
	return nil
}

// Validate checks arity and that the inputs broadcast to the output shape.
func (l *BinaryOp) Validate() error {
	nIn := 2
	if l.withScalar {
		nIn = 1
	}
	if err := l.ValidateShape(nIn, 1); err != nil {
		return err
	}
	if err := l.ValidateFloat32(); err != nil {
		return err
	}

	out := l.outputs[0].Shape()
	if len(out) > 4 {
		return l.errorf(status.Unsupported, "unsupported rank %d", len(out))
	}
	l.outDims = out.Dims(4)
	l.aDims = l.inputs[0].Shape().Dims(4)
	l.bDims = l.outDims
	if !l.withScalar {
		l.bDims = l.inputs[1].Shape().Dims(4)
	}

	for i, d := range l.outDims {
		a, b := l.aDims[i], l.bDims[i]
		if (a != d && a != 1) || (b != d && b != 1) || max(a, b) != d {
			return l.errorf(status.ErrorShape, "cannot broadcast %v and %v to %v", l.aDims, l.bDims, l.outDims)
		}
	}
	l.sameShapes = tensor.Shape(l.aDims).Equal(l.outDims) && tensor.Shape(l.bDims).Equal(l.outDims)
	if l.withScalar && !l.sameShapes {
		return l.errorf(status.ErrorShape, "scalar operand needs equal input/output shape, got %v vs %v", l.aDims, l.outDims)
	}
	return nil
}

func (l *BinaryOp) apply(a, b float32) float32 {
	switch l.kind {
	case BinaryAdd:
		return a + b
	case BinarySub:
		return a - b
	case BinaryMul:
		return a * b
	case BinaryDiv:
		return a / b
	case BinaryRSub:
		return b - a
	default:
		return b / a
	}
}

func (l *BinaryOp) Forward(inputs, outputs []tensor.View) error {
	pool, err := l.Pool()
	if err != nil {
		return err
	}

	a, dst := inputs[0].Float32(), outputs[0].Float32()

	if l.withScalar {
		s := l.scalar
		pool.For(len(dst), func(start, end int) {
			for i := start; i < end; i++ {
				dst[i] = l.apply(a[i], s)
			}
		})
		return nil
	}

	b := inputs[1].Float32()
	if l.sameShapes {
		pool.For(len(dst), func(start, end int) {
			for i := start; i < end; i++ {
				dst[i] = l.apply(a[i], b[i])
			}
		})
		return nil
	}

	od := l.outDims
	aStr := broadcastStrides(l.aDims)
	bStr := broadcastStrides(l.bDims)
	inner := od[3]
	rows := od[0] * od[1] * od[2]

	pool.For(rows, func(start, end int) {
		for r := start; r < end; r++ {
			i0, i1, i2 := r/(od[1]*od[2]), r/od[2]%od[1], r%od[2]
			aBase := i0*aStr[0] + i1*aStr[1] + i2*aStr[2]
			bBase := i0*bStr[0] + i1*bStr[1] + i2*bStr[2]
			out := dst[r*inner : (r+1)*inner]
			for j := range out {
				out[j] = l.apply(a[aBase+j*aStr[3]], b[bBase+j*bStr[3]])
			}
		}
	})
	return nil
}

// broadcastStrides returns row-major strides with 0 for size-1 dimensions.
func broadcastStrides(dims []int) []int {
	strides := tensor.Shape(dims).ComputeStrides()
	for i, d := range dims {
		if d == 1 {
			strides[i] = 0
		}
	}
	return strides
}
