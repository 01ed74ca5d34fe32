package layer

import (
	"github.com/simpleinfer/simpleinfer/internal/ir"
	"github.com/simpleinfer/simpleinfer/internal/kernels"
	"github.com/simpleinfer/simpleinfer/internal/status"
	"github.com/simpleinfer/simpleinfer/internal/tensor"
)

// Linear computes x·Wᵀ + b over the last dimension of its input.
type Linear struct {
	Base

	inFeatures, outFeatures int
	useBias                 bool

	packed []float32 // Wᵀ packed for the GEMM kernel
	bias   []float32
}

// NewLinear creates a Linear operator.
func NewLinear() *Linear {
	return &Linear{}
}

// Init reads the feature counts and packs the (out, in) weight.
func (l *Linear) Init(op *ir.Operator) error {
	if err := l.Base.Init(op); err != nil {
		return err
	}

	var err error
	if l.inFeatures, err = l.intParam(op, "in_features"); err != nil {
		return err
	}
	if l.outFeatures, err = l.intParam(op, "out_features"); err != nil {
		return err
	}
	if l.useBias, err = l.boolParam(op, "bias"); err != nil {
		return err
	}

	weight, shape, err := l.float32Attr(op, "weight", 2)
	if err != nil {
		return err
	}
	if shape[0] != l.outFeatures || shape[1] != l.inFeatures {
		return l.errorf(status.Fail, "weight shape %v, need [%d %d]", shape, l.outFeatures, l.inFeatures)
	}

	// (out, in) -> (in, out)
	in, out := l.inFeatures, l.outFeatures
	wt := make([]float32, in*out)
	for o := 0; o < out; o++ {
		for i := 0; i < in; i++ {
			wt[i*out+o] = weight[o*in+i]
		}
	}
	l.packed = make([]float32, kernels.PackedBSize(out, in))
	kernels.PackB(out, in, wt, out, l.packed)

	if l.useBias {
		if l.bias, _, err = l.float32Attr(op, "bias", 1); err != nil {
			return err
		}
		if len(l.bias) != out {
			return l.errorf(status.Fail, "bias has %d values, need %d", len(l.bias), out)
		}
	}
	return nil
}

// Validate requires (rows, in_features) -> (rows, out_features).
func (l *Linear) Validate() error {
	if err := l.ValidateShape(1, 1); err != nil {
		return err
	}
	if err := l.ValidateFloat32(); err != nil {
		return err
	}
	in, out := l.inputs[0].Shape().Dims(2), l.outputs[0].Shape().Dims(2)
	if in[1] != l.inFeatures || out[1] != l.outFeatures || in[0] != out[0] {
		return l.errorf(status.ErrorShape, "shape %v -> %v does not match %d -> %d features",
			l.inputs[0].Shape(), l.outputs[0].Shape(), l.inFeatures, l.outFeatures)
	}
	return nil
}

func (l *Linear) Forward(inputs, outputs []tensor.View) error {
	pool, err := l.Pool()
	if err != nil {
		return err
	}

	rows := inputs[0].Dims(2)[0]
	in, out := l.inFeatures, l.outFeatures
	src, dst := inputs[0].Float32(), outputs[0].Float32()

	pool.ForGrain(rows, 4, func(start, end int) {
		y := dst[start*out : end*out]
		clear(y)
		kernels.GemmPack4F32(end-start, out, in, src[start*in:], in, l.packed, y, out)
		if l.useBias {
			kernels.AddBiasNHWC(l.bias, end-start, out, y)
		}
	})
	return nil
}
