package layer

import (
	"sync"

	"github.com/simpleinfer/simpleinfer/internal/ir"
	"github.com/simpleinfer/simpleinfer/internal/kernels"
	"github.com/simpleinfer/simpleinfer/internal/parallel"
	"github.com/simpleinfer/simpleinfer/internal/status"
	"github.com/simpleinfer/simpleinfer/internal/tensor"
)

// im2colBlock is the number of output pixels lowered per scratch block.
const im2colBlock = 64

// winogradRowBlock is the number of tiles per Winograd GEMM task.
const winogradRowBlock = 64

// Conv2d is a 2-D convolution over channel-last images.
//
// 3×3, stride 1, dilation 1, ungrouped convolutions with symmetric padding
// of 0 or 1 run through Winograd F(2x2,3x3); everything else is lowered with
// im2col and multiplied with the packed GEMM kernel, one GEMM per group.
type Conv2d struct {
	Base

	inChannels, outChannels int
	groups                  int
	useBias                 bool
	geo                     kernels.ConvGeometry

	winograd bool
	kernel   []float32   // Winograd-transformed weights
	packed   [][]float32 // one packed GEMM operand per group
	bias     []float32

	// Winograd scratch, reused across calls
	plan    kernels.Winograd
	wInput  []float32
	product []float32

	scratch sync.Pool
}

// NewConv2d creates a Conv2d operator.
func NewConv2d() *Conv2d {
	return &Conv2d{}
}

// Init reads the convolution parameters and prepares the weights for the
// selected kernel.
func (l *Conv2d) Init(op *ir.Operator) error {
	if err := l.Base.Init(op); err != nil {
		return err
	}

	if !op.CheckParam("padding_mode", ir.ParamString) {
		return l.errorf(status.Fail, "missing or malformed parameter padding_mode")
	}
	if mode := op.Params["padding_mode"].S; mode != "zeros" {
		return l.errorf(status.Unsupported, "unsupported padding_mode %q", mode)
	}

	var err error
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
	if l.groups, err = l.intParam(op, "groups"); err != nil {
		return err
	}
	if l.inChannels, err = l.intParam(op, "in_channels"); err != nil {
		return err
	}
	if l.outChannels, err = l.intParam(op, "out_channels"); err != nil {
		return err
	}
	if l.useBias, err = l.boolParam(op, "bias"); err != nil {
		return err
	}

	if g.KernelH <= 0 || g.KernelW <= 0 || g.StrideH <= 0 || g.StrideW <= 0 || g.DilationH <= 0 || g.DilationW <= 0 {
		return l.errorf(status.Fail, "non-positive window parameters")
	}
	if l.groups <= 0 || l.inChannels%l.groups != 0 || l.outChannels%l.groups != 0 {
		return l.errorf(status.Fail, "groups %d does not divide %d -> %d channels", l.groups, l.inChannels, l.outChannels)
	}

	weight, shape, err := l.float32Attr(op, "weight", 4)
	if err != nil {
		return err
	}
	oc, icg := l.outChannels, l.inChannels/l.groups
	kh, kw := g.KernelH, g.KernelW
	if shape[0] != oc || shape[1] != icg || shape[2] != kh || shape[3] != kw {
		return l.errorf(status.Fail, "weight shape %v, need [%d %d %d %d]", shape, oc, icg, kh, kw)
	}

	if l.useBias {
		if l.bias, _, err = l.float32Attr(op, "bias", 1); err != nil {
			return err
		}
		if len(l.bias) != oc {
			return l.errorf(status.Fail, "bias has %d values, need %d", len(l.bias), oc)
		}
	}

	hwio := toHWIO(weight, oc, icg, kh, kw)
	l.winograd = kh == 3 && kw == 3 &&
		g.StrideH == 1 && g.StrideW == 1 &&
		g.DilationH == 1 && g.DilationW == 1 &&
		l.groups == 1 &&
		g.PadTop == g.PadLeft && (g.PadTop == 0 || g.PadTop == 1)

	if l.winograd {
		l.kernel = make([]float32, kernels.WinogradKernelSize(l.inChannels, oc))
		kernels.TransformKernelPack4(hwio, l.inChannels, oc, l.kernel)
		return nil
	}

	ocg := oc / l.groups
	k := kh * kw * icg
	l.packed = make([][]float32, l.groups)
	for grp := range l.packed {
		l.packed[grp] = make([]float32, kernels.PackedBSize(ocg, k))
		kernels.PackB(ocg, k, hwio[grp*ocg:], oc, l.packed[grp])
	}
	return nil
}

// toHWIO reorders OIHW weights to (kh, kw, icg, oc).
func toHWIO(oihw []float32, oc, icg, kh, kw int) []float32 {
	hwio := make([]float32, len(oihw))
	for o := 0; o < oc; o++ {
		for i := 0; i < icg; i++ {
			for ky := 0; ky < kh; ky++ {
				for kx := 0; kx < kw; kx++ {
					hwio[((ky*kw+kx)*icg+i)*oc+o] = oihw[((o*icg+i)*kh+ky)*kw+kx]
				}
			}
		}
	}
	return hwio
}

// Validate requires one rank-4 float32 input and output whose channels and
// spatial size agree with the convolution parameters.
func (l *Conv2d) Validate() error {
	if err := l.ValidateShape(1, 1); err != nil {
		return err
	}
	if err := l.ValidateFloat32(); err != nil {
		return err
	}
	if err := l.ValidateRank(4); err != nil {
		return err
	}

	in, out := l.inputs[0].Shape(), l.outputs[0].Shape()
	if in[3] != l.inChannels || out[3] != l.outChannels {
		return l.errorf(status.ErrorShape, "channels %d -> %d, need %d -> %d", in[3], out[3], l.inChannels, l.outChannels)
	}
	if in[0] != out[0] {
		return l.errorf(status.ErrorShape, "batch mismatch %v -> %v", in, out)
	}
	g := l.geometry(in)
	if g.OutH() != out[1] || g.OutW() != out[2] {
		return l.errorf(status.ErrorShape, "output %v, need spatial %dx%d", out, g.OutH(), g.OutW())
	}
	return nil
}

func (l *Conv2d) geometry(in tensor.Shape) kernels.ConvGeometry {
	g := l.geo
	g.InH, g.InW = in[1], in[2]
	return g
}

// Deinit drops the scratch buffers.
func (l *Conv2d) Deinit() error {
	l.wInput, l.product = nil, nil
	return nil
}

func (l *Conv2d) Forward(inputs, outputs []tensor.View) error {
	pool, err := l.Pool()
	if err != nil {
		return err
	}

	in, out := inputs[0].Shape(), outputs[0].Shape()
	src, dst := inputs[0].Float32(), outputs[0].Float32()
	inSize := in[1] * in[2] * in[3]
	outSize := out[1] * out[2] * out[3]
	g := l.geometry(in)

	for n := 0; n < in[0]; n++ {
		x := src[n*inSize : (n+1)*inSize]
		y := dst[n*outSize : (n+1)*outSize]
		if l.winograd {
			l.forwardWinograd(pool, g, x, y)
		} else {
			l.forwardIm2Col(pool, g, x, y)
		}
	}
	return nil
}

func (l *Conv2d) forwardWinograd(pool *parallel.Pool, g kernels.ConvGeometry, x, y []float32) {
	oc := l.outChannels
	plan := kernels.NewWinograd(g.InH, g.InW, l.inChannels, g.PadTop)
	if plan != l.plan || l.wInput == nil {
		l.plan = plan
		l.wInput = make([]float32, plan.InputSize())
		l.product = make([]float32, plan.ProductSize(oc))
	}
	tiles := plan.Tiles()

	pool.For(tiles, func(start, end int) {
		plan.TransformInput(x, start, end, l.wInput)
	})

	clear(l.product)
	blocks := (tiles + winogradRowBlock - 1) / winogradRowBlock
	pool.ForGrain(kernels.WinogradTileCount*blocks, 1, func(start, end int) {
		for i := start; i < end; i++ {
			t, b := i/blocks, i%blocks
			rs := b * winogradRowBlock
			re := min(tiles, rs+winogradRowBlock)
			plan.Multiply(t, oc, l.wInput, l.kernel, l.product, rs, re)
		}
	})

	pool.For(tiles, func(start, end int) {
		plan.TransformOutput(l.product, oc, start, end, y)
	})

	if l.useBias {
		pool.For(plan.OutH*plan.OutW, func(start, end int) {
			kernels.AddBiasNHWC(l.bias, end-start, oc, y[start*oc:])
		})
	}
}

func (l *Conv2d) forwardIm2Col(pool *parallel.Pool, g kernels.ConvGeometry, x, y []float32) {
	oc, ic := l.outChannels, l.inChannels
	icg, ocg := ic/l.groups, oc/l.groups
	k := g.KernelH * g.KernelW * icg
	rows := g.OutH() * g.OutW()

	pool.ForGrain(rows, im2colBlock, func(start, end int) {
		buf := l.getScratch(im2colBlock * k)
		defer l.scratch.Put(buf)
		cols := *buf

		for rs := start; rs < end; rs += im2colBlock {
			re := min(end, rs+im2colBlock)
			out := y[rs*oc : re*oc]
			clear(out)
			for grp := 0; grp < l.groups; grp++ {
				kernels.Im2Col(g, x, ic, grp*icg, icg, rs, re, cols)
				kernels.GemmPack4F32(re-rs, ocg, k, cols, k, l.packed[grp], out[grp*ocg:], oc)
			}
			if l.useBias {
				kernels.AddBiasNHWC(l.bias, re-rs, oc, out)
			}
		}
	})
}

func (l *Conv2d) getScratch(n int) *[]float32 {
	if v, ok := l.scratch.Get().(*[]float32); ok && cap(*v) >= n {
		*v = (*v)[:n]
		return v
	}
	s := make([]float32, n)
	return &s
}
