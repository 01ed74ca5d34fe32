package layer

import (
	"math"

	"github.com/simpleinfer/simpleinfer/internal/ir"
	"github.com/simpleinfer/simpleinfer/internal/status"
	"github.com/simpleinfer/simpleinfer/internal/tensor"
)

// BatchNorm2d computes (x-mean)·rsqrt(var+eps)·weight + bias per channel.
type BatchNorm2d struct {
	Base

	eps         float32
	numFeatures int
	affine      bool

	mean   []float32
	invStd []float32
	weight []float32
	bias   []float32
}

// NewBatchNorm2d creates a BatchNorm2d operator.
func NewBatchNorm2d() *BatchNorm2d {
	return &BatchNorm2d{}
}

// Init reads eps, num_features, affine and the running statistics.
func (l *BatchNorm2d) Init(op *ir.Operator) error {
	if err := l.Base.Init(op); err != nil {
		return err
	}

	if !op.CheckParam("eps", ir.ParamFloat) && !op.CheckParam("eps", ir.ParamInt) {
		return l.errorf(status.Fail, "missing or malformed parameter eps")
	}
	l.eps = op.ParamFloat("eps", 0)

	var err error
	if l.numFeatures, err = l.intParam(op, "num_features"); err != nil {
		return err
	}
	if l.affine, err = l.boolParam(op, "affine"); err != nil {
		return err
	}

	if l.mean, _, err = l.float32Attr(op, "running_mean", 1); err != nil {
		return err
	}
	variance, _, err := l.float32Attr(op, "running_var", 1)
	if err != nil {
		return err
	}

	if l.affine || op.HasAttrs("weight", "bias") {
		if l.weight, _, err = l.float32Attr(op, "weight", 1); err != nil {
			return err
		}
		if l.bias, _, err = l.float32Attr(op, "bias", 1); err != nil {
			return err
		}
	} else {
		l.weight = make([]float32, l.numFeatures)
		l.bias = make([]float32, l.numFeatures)
		for c := range l.weight {
			l.weight[c] = 1
		}
	}

	n := l.numFeatures
	if len(l.mean) != n || len(variance) != n || len(l.weight) != n || len(l.bias) != n {
		return l.errorf(status.Fail, "statistics do not match num_features %d", n)
	}

	l.invStd = make([]float32, n)
	for c, v := range variance {
		l.invStd[c] = float32(1 / math.Sqrt(float64(v+l.eps)))
	}
	return nil
}

// Validate requires one float32 input and output of equal shape whose
// channel count matches num_features.
func (l *BatchNorm2d) Validate() error {
	if err := l.ValidateShape(1, 1); err != nil {
		return err
	}
	if err := l.ValidateFloat32(); err != nil {
		return err
	}
	if err := l.ValidateSameShape(); err != nil {
		return err
	}
	if c := l.inputs[0].Shape().Dims(4)[3]; c != l.numFeatures {
		return l.errorf(status.ErrorShape, "input has %d channels, need %d", c, l.numFeatures)
	}
	return nil
}

func (l *BatchNorm2d) Forward(inputs, outputs []tensor.View) error {
	pool, err := l.Pool()
	if err != nil {
		return err
	}

	src, dst := inputs[0].Float32(), outputs[0].Float32()
	c := l.numFeatures
	pool.For(len(dst)/c, func(start, end int) {
		for s := start; s < end; s++ {
			in, out := src[s*c:(s+1)*c], dst[s*c:(s+1)*c]
			for ch, x := range in {
				out[ch] = (x-l.mean[ch])*l.invStd[ch]*l.weight[ch] + l.bias[ch]
			}
		}
	})
	return nil
}
