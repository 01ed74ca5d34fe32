package layer

import (
	"fmt"

	"github.com/simpleinfer/simpleinfer/internal/ir"
	"github.com/simpleinfer/simpleinfer/internal/status"
	"github.com/simpleinfer/simpleinfer/internal/tensor"
)

// yoloScales is the number of detection heads.
const yoloScales = 3

// Attribute indices of the per-scale anchor grids and cell grids.
var (
	yoloAnchorIndex = [yoloScales]int{4, 2, 0}
	yoloGridIndex   = [yoloScales]int{6, 3, 1}
)

// YoloDetect is the fused YOLOv5 detection head. Each of the three feature
// maps goes through a 1×1 convolution and a sigmoid, then box centers and
// sizes are decoded against the cell grid and anchor grid of that scale.
// Rows of all scales are concatenated into an (N, boxes, info) output.
type YoloDetect struct {
	Base

	strides [yoloScales]float32
	convs   [yoloScales]*Conv2d
	spatial [yoloScales]tensor.Buffer

	// grids and anchors in (H, W, levels, 2) order
	grids      [yoloScales][]float32
	anchors    [yoloScales][]float32
	gridShape  [yoloScales][2]int // H, W
	levels     int
	numOutputs int // levels * info
	info       int
}

// NewYoloDetect creates a YoloDetect operator.
func NewYoloDetect() *YoloDetect {
	return &YoloDetect{}
}

// Init reads the strides, builds the three 1×1 convolutions and reorders
// the grids.
func (l *YoloDetect) Init(op *ir.Operator) error {
	if err := l.Base.Init(op); err != nil {
		return err
	}

	strides, shape, err := l.float32Attr(op, "pnnx_5", 1)
	if err != nil {
		return err
	}
	if shape[0] != yoloScales {
		return l.errorf(status.Fail, "strides shape %v, need [%d]", shape, yoloScales)
	}
	copy(l.strides[:], strides)

	for i := 0; i < yoloScales; i++ {
		if err := l.initConv(op, i); err != nil {
			return err
		}
		if err := l.initGrids(op, i); err != nil {
			return err
		}
	}

	if l.numOutputs%l.levels != 0 {
		return l.errorf(status.Fail, "%d outputs not divisible by %d anchor levels", l.numOutputs, l.levels)
	}
	l.info = l.numOutputs / l.levels
	if l.info < 4 {
		return l.errorf(status.Fail, "box info size %d, need at least 4", l.info)
	}
	return nil
}

func (l *YoloDetect) initConv(op *ir.Operator, i int) error {
	weightName := fmt.Sprintf("m.%d.weight", i)
	biasName := fmt.Sprintf("m.%d.bias", i)
	weight, ok := op.Attrs[weightName]
	if !ok || len(weight.Shape) != 4 || weight.Shape[2] != 1 || weight.Shape[3] != 1 {
		return l.errorf(status.Fail, "missing or malformed attribute %s", weightName)
	}
	bias, ok := op.Attrs[biasName]
	if !ok {
		return l.errorf(status.Fail, "missing attribute %s", biasName)
	}

	oc, ic := weight.Shape[0], weight.Shape[1]
	if i == 0 {
		l.numOutputs = oc
	} else if oc != l.numOutputs {
		return l.errorf(status.Fail, "%s has %d outputs, need %d", weightName, oc, l.numOutputs)
	}

	conv := NewConv2d()
	err := conv.Init(&ir.Operator{
		Type: "nn.Conv2d",
		Name: fmt.Sprintf("%s.m.%d", op.Name, i),
		Params: map[string]ir.Parameter{
			"bias":         {Type: ir.ParamBool, B: true},
			"padding_mode": {Type: ir.ParamString, S: "zeros"},
			"padding":      {Type: ir.ParamIntArray, AI: []int{0, 0}},
			"kernel_size":  {Type: ir.ParamIntArray, AI: []int{1, 1}},
			"stride":       {Type: ir.ParamIntArray, AI: []int{1, 1}},
			"dilation":     {Type: ir.ParamIntArray, AI: []int{1, 1}},
			"groups":       {Type: ir.ParamInt, I: 1},
			"in_channels":  {Type: ir.ParamInt, I: ic},
			"out_channels": {Type: ir.ParamInt, I: oc},
		},
		Attrs: map[string]ir.Attribute{
			"weight": weight,
			"bias":   bias,
		},
	})
	if err != nil {
		return status.Wrap(err, "%s: head %d", l.Name(), i)
	}
	l.convs[i] = conv
	return nil
}

func (l *YoloDetect) initGrids(op *ir.Operator, i int) error {
	anchors, aShape, err := l.float32Attr(op, fmt.Sprintf("pnnx_%d", yoloAnchorIndex[i]), 5)
	if err != nil {
		return err
	}
	grids, gShape, err := l.float32Attr(op, fmt.Sprintf("pnnx_%d", yoloGridIndex[i]), 5)
	if err != nil {
		return err
	}
	if aShape[0] != 1 || aShape[4] != 2 || !tensor.Shape(aShape).Equal(gShape) {
		return l.errorf(status.Fail, "grid shapes %v and %v, need equal [1 levels H W 2]", aShape, gShape)
	}

	levels, h, w := aShape[1], aShape[2], aShape[3]
	if i == 0 {
		l.levels = levels
	} else if levels != l.levels {
		return l.errorf(status.Fail, "scale %d has %d anchor levels, need %d", i, levels, l.levels)
	}
	l.gridShape[i] = [2]int{h, w}
	l.anchors[i] = shuffleGrid(anchors, levels, h, w)
	l.grids[i] = shuffleGrid(grids, levels, h, w)
	return nil
}

// shuffleGrid reorders (levels, H, W, 2) to (H, W, levels, 2).
func shuffleGrid(src []float32, levels, h, w int) []float32 {
	dst := make([]float32, len(src))
	for a := 0; a < levels; a++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				s := ((a*h+y)*w + x) * 2
				d := ((y*w+x)*levels + a) * 2
				dst[d], dst[d+1] = src[s], src[s+1]
			}
		}
	}
	return dst
}

// SetContext binds ctx to the operator and its convolutions.
func (l *YoloDetect) SetContext(ctx *Context) {
	l.Base.SetContext(ctx)
	for _, conv := range l.convs {
		if conv != nil {
			conv.SetContext(ctx)
		}
	}
}

// Validate checks the three feature maps against the grids and allocates
// the per-scale convolution outputs.
func (l *YoloDetect) Validate() error {
	if err := l.ValidateShape(yoloScales, 1); err != nil {
		return err
	}
	if err := l.ValidateFloat32(); err != nil {
		return err
	}

	out := l.outputs[0].Shape()
	if len(out) != 3 {
		return l.errorf(status.Unsupported, "unsupported output rank %d, need 3", len(out))
	}

	boxes := 0
	for i, node := range l.inputs {
		in := node.Shape()
		if len(in) != 4 {
			return l.errorf(status.Unsupported, "unsupported rank %d of input %d", len(in), i)
		}
		if in[0] != out[0] || in[1] != l.gridShape[i][0] || in[2] != l.gridShape[i][1] {
			return l.errorf(status.ErrorShape, "input %d shape %v does not match grid %v", i, in, l.gridShape[i])
		}
		if in[3] != l.convs[i].inChannels {
			return l.errorf(status.ErrorShape, "input %d has %d channels, need %d", i, in[3], l.convs[i].inChannels)
		}
		if err := l.spatial[i].AllocateAs(tensor.Float32, tensor.Shape{in[0], in[1], in[2], l.numOutputs}); err != nil {
			return status.Wrap(err, "%s: scale %d", l.Name(), i)
		}
		boxes += in[1] * in[2] * l.levels
	}
	if out[1] != boxes || out[2] != l.info {
		return l.errorf(status.ErrorShape, "output shape %v, need [%d %d %d]", out, out[0], boxes, l.info)
	}
	return nil
}

// Deinit frees the convolution outputs.
func (l *YoloDetect) Deinit() error {
	for i := range l.spatial {
		if l.spatial[i].Owned() {
			if err := l.spatial[i].Deallocate(); err != nil {
				return err
			}
		}
	}
	for _, conv := range l.convs {
		if conv != nil {
			if err := conv.Deinit(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *YoloDetect) Forward(inputs, outputs []tensor.View) error {
	pool, err := l.Pool()
	if err != nil {
		return err
	}

	out := outputs[0].Shape()
	dst := outputs[0].Float32()
	boxes := out[1]
	info, levels := l.info, l.levels

	offset := 0
	for i := 0; i < yoloScales; i++ {
		spatial := l.spatial[i].View()
		if err := l.convs[i].Forward(inputs[i:i+1], []tensor.View{spatial}); err != nil {
			return err
		}

		shape := spatial.Shape()
		cells := shape[1] * shape[2]
		src := spatial.Float32()
		grid, anchor := l.grids[i], l.anchors[i]
		stride := l.strides[i]
		base := offset

		// one task per cell of one image; each cell holds levels boxes
		pool.ForGrain(shape[0]*cells, 16, func(start, end int) {
			for r := start; r < end; r++ {
				n, cell := r/cells, r%cells
				for a := 0; a < levels; a++ {
					s := src[(r*levels+a)*info : (r*levels+a+1)*info]
					row := base + cell*levels + a
					d := dst[(n*boxes+row)*info : (n*boxes+row+1)*info]
					for k, v := range s {
						d[k] = sigmoid32(v)
					}
					g := (cell*levels + a) * 2
					d[0] = (d[0]*2 + grid[g]) * stride
					d[1] = (d[1]*2 + grid[g+1]) * stride
					w, h := d[2]*2, d[3]*2
					d[2] = w * w * anchor[g]
					d[3] = h * h * anchor[g+1]
				}
			}
		})
		offset += cells * levels
	}
	return nil
}
