package layer

import (
	"math"

	"github.com/simpleinfer/simpleinfer/internal/ir"
	"github.com/simpleinfer/simpleinfer/internal/kernels"
	"github.com/simpleinfer/simpleinfer/internal/status"
	"github.com/simpleinfer/simpleinfer/internal/tensor"
)

// MaxPool2d is a sliding-window maximum. Padded cells read as the lowest
// float32, so they never win against an in-range sample.
//
// With ceil_mode the output may hold one extra, partially covered window per
// spatial axis. return_indices is read but no indices are produced.
type MaxPool2d struct {
	Base

	ceilMode      bool
	returnIndices bool
	geo           kernels.ConvGeometry
}

// NewMaxPool2d creates a MaxPool2d operator.
func NewMaxPool2d() *MaxPool2d {
	return &MaxPool2d{}
}

// Init reads the window parameters.
func (l *MaxPool2d) Init(op *ir.Operator) error {
	if err := l.Base.Init(op); err != nil {
		return err
	}

	var err error
	if l.ceilMode, err = l.boolParam(op, "ceil_mode"); err != nil {
		return err
	}
	if l.returnIndices, err = l.boolParam(op, "return_indices"); err != nil {
		return err
	}
	g := &l.geo
	if g.PadTop, g.PadLeft, err = l.intPair(op, "padding"); err != nil {
		return err
	}
	g.PadBottom, g.PadRight = g.PadTop, g.PadLeft
	if g.KernelH, g.KernelW, err = l.intPair(op, "kernel_size"); err != nil {
		return err
	}
	if g.StrideH, g.StrideW, err = l.intPair(op, "stride"); err != nil {
		return err
	}
	if g.DilationH, g.DilationW, err = l.intPair(op, "dilation"); err != nil {
		return err
	}
	if g.KernelH <= 0 || g.KernelW <= 0 || g.StrideH <= 0 || g.StrideW <= 0 || g.DilationH <= 0 || g.DilationW <= 0 {
		return l.errorf(status.Fail, "non-positive window parameters")
	}
	return nil
}

// Validate requires rank-4 float32 tensors with matching batch and channels
// and an output size the window geometry produces.
func (l *MaxPool2d) Validate() error {
	if err := validatePool2d(&l.Base); err != nil {
		return err
	}
	in, out := l.inputs[0].Shape(), l.outputs[0].Shape()
	g := l.geo
	g.InH, g.InW = in[1], in[2]
	if g.InH+g.PadTop+g.PadBottom < g.DilationH*(g.KernelH-1)+1 ||
		g.InW+g.PadLeft+g.PadRight < g.DilationW*(g.KernelW-1)+1 {
		return l.errorf(status.ErrorShape, "window %dx%d larger than padded input %v", g.KernelH, g.KernelW, in)
	}
	if !l.validExtent(out[1], g.OutH(), g.InH, g.PadTop, g.StrideH) ||
		!l.validExtent(out[2], g.OutW(), g.InW, g.PadLeft, g.StrideW) {
		return l.errorf(status.ErrorShape, "output %v, need spatial %dx%d", out, g.OutH(), g.OutW())
	}
	return nil
}

// validExtent accepts the floor-mode size, or in ceil mode one more window
// as long as it starts inside the input or its leading padding.
func (l *MaxPool2d) validExtent(got, floor, in, pad, stride int) bool {
	if got == floor {
		return true
	}
	return l.ceilMode && got == floor+1 && floor*stride < in+pad
}

func (l *MaxPool2d) Forward(inputs, outputs []tensor.View) error {
	pool, err := l.Pool()
	if err != nil {
		return err
	}

	in, out := inputs[0].Shape(), outputs[0].Shape()
	src, dst := inputs[0].Float32(), outputs[0].Float32()
	g := l.geo
	ih, iw, c := in[1], in[2], in[3]
	oh, ow := out[1], out[2]
	lowest := float32(-math.MaxFloat32)

	// one task per output row of one image
	pool.ForGrain(in[0]*oh, 1, func(start, end int) {
		for r := start; r < end; r++ {
			n, oy := r/oh, r%oh
			img := src[n*ih*iw*c:]
			for ox := 0; ox < ow; ox++ {
				acc := dst[((n*oh+oy)*ow+ox)*c : ((n*oh+oy)*ow+ox+1)*c]
				for ch := range acc {
					acc[ch] = lowest
				}
				for ky := 0; ky < g.KernelH; ky++ {
					iy := oy*g.StrideH - g.PadTop + ky*g.DilationH
					if iy < 0 || iy >= ih {
						continue
					}
					for kx := 0; kx < g.KernelW; kx++ {
						ix := ox*g.StrideW - g.PadLeft + kx*g.DilationW
						if ix < 0 || ix >= iw {
							continue
						}
						px := img[(iy*iw+ix)*c : (iy*iw+ix+1)*c]
						for ch, v := range px {
							acc[ch] = max(acc[ch], v)
						}
					}
				}
			}
		}
	})
	return nil
}

// AdaptiveAvgPool2d averages over windows that evenly divide the input.
type AdaptiveAvgPool2d struct {
	Base

	outH, outW int
}

// NewAdaptiveAvgPool2d creates an AdaptiveAvgPool2d operator.
func NewAdaptiveAvgPool2d() *AdaptiveAvgPool2d {
	return &AdaptiveAvgPool2d{}
}

// Init reads output_size.
func (l *AdaptiveAvgPool2d) Init(op *ir.Operator) error {
	if err := l.Base.Init(op); err != nil {
		return err
	}
	var err error
	l.outH, l.outW, err = l.intPair(op, "output_size")
	return err
}

// Validate requires rank-4 float32 tensors with matching batch and channels
// whose output size evenly divides the input.
func (l *AdaptiveAvgPool2d) Validate() error {
	if err := validatePool2d(&l.Base); err != nil {
		return err
	}
	in, out := l.inputs[0].Shape(), l.outputs[0].Shape()
	if out[1] <= 0 || out[2] <= 0 || in[1]%out[1] != 0 || in[2]%out[2] != 0 {
		return l.errorf(status.Unsupported, "unsupported input/output shape %v -> %v", in, out)
	}
	return nil
}

func (l *AdaptiveAvgPool2d) Forward(inputs, outputs []tensor.View) error {
	pool, err := l.Pool()
	if err != nil {
		return err
	}

	in, out := inputs[0].Shape(), outputs[0].Shape()
	ih, iw, c := in[1], in[2], in[3]
	oh, ow := out[1], out[2]
	kh, kw := ih/oh, iw/ow
	scale := 1 / float64(kh*kw)

	src, dst := inputs[0].Float32(), outputs[0].Float32()
	pool.ForGrain(in[0]*oh*ow, 1, func(start, end int) {
		sum := make([]float64, c)
		for r := start; r < end; r++ {
			n, oy, ox := r/(oh*ow), r/ow%oh, r%ow
			clear(sum)
			for ky := 0; ky < kh; ky++ {
				for kx := 0; kx < kw; kx++ {
					iy, ix := oy*kh+ky, ox*kw+kx
					px := src[((n*ih+iy)*iw+ix)*c:]
					for ch := range sum {
						sum[ch] += float64(px[ch])
					}
				}
			}
			o := dst[r*c : (r+1)*c]
			for ch, s := range sum {
				o[ch] = float32(s * scale)
			}
		}
	})
	return nil
}

func validatePool2d(b *Base) error {
	if err := b.ValidateShape(1, 1); err != nil {
		return err
	}
	if err := b.ValidateFloat32(); err != nil {
		return err
	}
	if err := b.ValidateRank(4); err != nil {
		return err
	}
	in, out := b.inputs[0].Shape(), b.outputs[0].Shape()
	if in[0] != out[0] || in[3] != out[3] {
		return b.errorf(status.ErrorShape, "batch/channel mismatch %v -> %v", in, out)
	}
	return nil
}
