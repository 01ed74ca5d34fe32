package layer

import (
	"github.com/simpleinfer/simpleinfer/internal/ir"
	"github.com/simpleinfer/simpleinfer/internal/status"
	"github.com/simpleinfer/simpleinfer/internal/tensor"
)

// Upsample resizes rank-4 tensors with nearest-neighbor sampling: output
// coordinate y reads input row int(y/scale), clamped to the input.
type Upsample struct {
	Base

	scaleH, scaleW float32
}

// NewUpsample creates an Upsample operator.
func NewUpsample() *Upsample {
	return &Upsample{}
}

// Init reads mode and either scale_factor or size. With size only, the
// scale is derived from the bound shapes in Validate.
func (l *Upsample) Init(op *ir.Operator) error {
	if err := l.Base.Init(op); err != nil {
		return err
	}

	if !op.CheckParam("mode", ir.ParamString) {
		return l.errorf(status.Fail, "missing or malformed parameter mode")
	}
	if mode := op.Params["mode"].S; mode != "nearest" {
		return l.errorf(status.Unsupported, "unsupported upsample mode %q", mode)
	}

	if scale := op.ParamFloats("scale_factor"); len(scale) > 0 {
		if len(scale) == 1 {
			scale = []float32{scale[0], scale[0]}
		}
		if len(scale) != 2 || scale[0] <= 0 || scale[1] <= 0 {
			return l.errorf(status.Fail, "malformed scale_factor %v", scale)
		}
		l.scaleH, l.scaleW = scale[0], scale[1]
		return nil
	}
	if len(op.ParamInts("size")) == 0 {
		return l.errorf(status.Fail, "need scale_factor or size")
	}
	return nil
}

// Validate requires rank-4 float32 tensors with matching batch and channels.
func (l *Upsample) Validate() error {
	if err := validatePool2d(&l.Base); err != nil {
		return err
	}
	if l.scaleH == 0 {
		in, out := l.inputs[0].Shape(), l.outputs[0].Shape()
		l.scaleH = float32(out[1]) / float32(in[1])
		l.scaleW = float32(out[2]) / float32(in[2])
	}
	return nil
}

func (l *Upsample) Forward(inputs, outputs []tensor.View) error {
	pool, err := l.Pool()
	if err != nil {
		return err
	}

	in, out := inputs[0].Shape(), outputs[0].Shape()
	ih, iw, c := in[1], in[2], in[3]
	oh, ow := out[1], out[2]
	invH, invW := 1/l.scaleH, 1/l.scaleW
	src, dst := inputs[0].Float32(), outputs[0].Float32()

	pool.ForGrain(in[0]*oh, 1, func(start, end int) {
		for r := start; r < end; r++ {
			n, oy := r/oh, r%oh
			iy := clampIndex(int(float32(oy)*invH), ih)
			for ox := 0; ox < ow; ox++ {
				ix := clampIndex(int(float32(ox)*invW), iw)
				s := ((n*ih+iy)*iw + ix) * c
				copy(dst[(r*ow+ox)*c:(r*ow+ox+1)*c], src[s:s+c])
			}
		}
	})
	return nil
}

func clampIndex(i, n int) int {
	return max(0, min(n-1, i))
}
