package layer

import (
	"github.com/simpleinfer/simpleinfer/internal/ir"
	"github.com/simpleinfer/simpleinfer/internal/status"
	"github.com/simpleinfer/simpleinfer/internal/tensor"
)

// catAxis maps a channel-first concatenation axis of a rank-4 tensor to the
// channel-last one.
var catAxis = [4]int{0, 3, 1, 2}

// Cat concatenates rank-4 tensors along one axis.
type Cat struct {
	Base

	dim  int
	axis int
}

// NewCat creates a Cat operator.
func NewCat() *Cat {
	return &Cat{}
}

// Init reads dim.
func (l *Cat) Init(op *ir.Operator) error {
	if err := l.Base.Init(op); err != nil {
		return err
	}
	var err error
	l.dim, err = l.intParam(op, "dim")
	return err
}

// Validate requires at least two float32 rank-4 inputs whose shapes agree
// off the concatenation axis and sum to the output along it.
func (l *Cat) Validate() error {
	if err := l.ValidateShape(-1, 1); err != nil {
		return err
	}
	if err := l.ValidateFloat32(); err != nil {
		return err
	}
	if len(l.inputs) < 2 {
		return l.errorf(status.Unsupported, "unsupported inputs size %d", len(l.inputs))
	}
	out := l.outputs[0].Shape()
	if len(out) != 4 {
		return l.errorf(status.Unsupported, "unsupported output shape %v", out)
	}

	dim := l.dim
	if dim < 0 {
		dim += 4
	}
	if dim < 0 || dim > 3 {
		return l.errorf(status.Fail, "dim %d out of range", l.dim)
	}
	l.axis = catAxis[dim]

	total := 0
	for _, n := range l.inputs {
		in := n.Shape()
		if len(in) != 4 {
			return l.errorf(status.ErrorShape, "input %s has rank %d", n.Name(), len(in))
		}
		for i := range in {
			if i != l.axis && in[i] != out[i] {
				return l.errorf(status.ErrorShape, "input %s shape %v does not fit output %v", n.Name(), in, out)
			}
		}
		total += in[l.axis]
	}
	if total != out[l.axis] {
		return l.errorf(status.ErrorShape, "inputs sum to %d along axis %d, output has %d", total, l.axis, out[l.axis])
	}
	return nil
}

func (l *Cat) Forward(inputs, outputs []tensor.View) error {
	pool, err := l.Pool()
	if err != nil {
		return err
	}

	out := outputs[0].Shape()
	if len(out) != 4 || len(inputs) < 2 {
		return l.errorf(status.Unsupported, "unsupported output shape %v", out)
	}
	dst := outputs[0].Float32()

	outer := 1
	for _, d := range out[:l.axis] {
		outer *= d
	}
	inner := 1
	for _, d := range out[l.axis+1:] {
		inner *= d
	}
	outRow := out[l.axis] * inner

	pool.ForGrain(outer, 1, func(start, end int) {
		for o := start; o < end; o++ {
			offset := o * outRow
			for _, in := range inputs {
				n := in.Shape()[l.axis] * inner
				copy(dst[offset:offset+n], in.Float32()[o*n:(o+1)*n])
				offset += n
			}
		}
	})
	return nil
}

// Flatten collapses dimensions into one. Rank-4 inputs are reordered to
// channel-first first so the result matches the channel-first flattening.
type Flatten struct {
	Base

	startDim, endDim int
}

// NewFlatten creates a Flatten operator.
func NewFlatten() *Flatten {
	return &Flatten{}
}

// Init reads start_dim and end_dim.
func (l *Flatten) Init(op *ir.Operator) error {
	if err := l.Base.Init(op); err != nil {
		return err
	}
	var err error
	if l.startDim, err = l.intParam(op, "start_dim"); err != nil {
		return err
	}
	l.endDim, err = l.intParam(op, "end_dim")
	return err
}

// Validate requires equal element counts.
func (l *Flatten) Validate() error {
	if err := l.ValidateShape(1, 1); err != nil {
		return err
	}
	if err := l.ValidateFloat32(); err != nil {
		return err
	}
	in, out := l.inputs[0].Shape(), l.outputs[0].Shape()
	if in.NumElements() != out.NumElements() {
		return l.errorf(status.ErrorShape, "cannot flatten %v into %v", in, out)
	}
	return nil
}

func (l *Flatten) Forward(inputs, outputs []tensor.View) error {
	pool, err := l.Pool()
	if err != nil {
		return err
	}

	in := inputs[0].Shape()
	src, dst := inputs[0].Float32(), outputs[0].Float32()
	if len(in) != 4 {
		copy(dst, src)
		return nil
	}

	// (N, H, W, C) -> (N, C, H, W)
	n, h, w, c := in[0], in[1], in[2], in[3]
	pool.ForGrain(n*c, 1, func(start, end int) {
		for k := start; k < end; k++ {
			b, ch := k/c, k%c
			plane := dst[k*h*w : (k+1)*h*w]
			img := src[b*h*w*c:]
			for s := range plane {
				plane[s] = img[s*c+ch]
			}
		}
	})
	return nil
}
