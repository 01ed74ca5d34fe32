package layer

import (
	"math"

	"github.com/simpleinfer/simpleinfer/internal/tensor"
)

// unary is an elementwise operator with one input and one output of equal
// shape.
type unary struct {
	Base
	fn func(dst, src []float32)
}

func (u *unary) Validate() error {
	if err := u.ValidateShape(1, 1); err != nil {
		return err
	}
	if err := u.ValidateFloat32(); err != nil {
		return err
	}
	return u.ValidateSameShape()
}

func (u *unary) Forward(inputs, outputs []tensor.View) error {
	pool, err := u.Pool()
	if err != nil {
		return err
	}
	src, dst := inputs[0].Float32(), outputs[0].Float32()
	pool.For(len(dst), func(start, end int) {
		u.fn(dst[start:end], src[start:end])
	})
	return nil
}

// ReLU computes max(x, 0).
type ReLU struct{ unary }

// NewReLU creates a ReLU operator.
func NewReLU() *ReLU {
	return &ReLU{unary{fn: relu}}
}

func relu(dst, src []float32) {
	for i, x := range src {
		dst[i] = max(x, 0)
	}
}

// Sigmoid computes 1/(1+e^-x).
type Sigmoid struct{ unary }

// NewSigmoid creates a Sigmoid operator.
func NewSigmoid() *Sigmoid {
	return &Sigmoid{unary{fn: sigmoid}}
}

func sigmoid(dst, src []float32) {
	for i, x := range src {
		dst[i] = sigmoid32(x)
	}
}

func sigmoid32(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// SiLU computes x·sigmoid(x).
type SiLU struct{ unary }

// NewSiLU creates a SiLU operator.
func NewSiLU() *SiLU {
	return &SiLU{unary{fn: silu}}
}

func silu(dst, src []float32) {
	for i, x := range src {
		dst[i] = float32(float64(x) / (1 + math.Exp(-float64(x))))
	}
}

// Hard sigmoid constants: clip(x/6 + 1/2, 0, 1).
const (
	hardSigmoidAlpha = float32(1.0 / 6.0)
	hardSigmoidBeta  = float32(0.5)
)

// HardSigmoid computes clip(x·(1/6) + 1/2, 0, 1).
type HardSigmoid struct{ unary }

// NewHardSigmoid creates a HardSigmoid operator.
func NewHardSigmoid() *HardSigmoid {
	return &HardSigmoid{unary{fn: hardSigmoid}}
}

func hardSigmoid32(x float32) float32 {
	return min(max(x*hardSigmoidAlpha+hardSigmoidBeta, 0), 1)
}

func hardSigmoid(dst, src []float32) {
	for i, x := range src {
		dst[i] = hardSigmoid32(x)
	}
}

// HardSwish computes x·HardSigmoid(x).
type HardSwish struct{ unary }

// NewHardSwish creates a HardSwish operator.
func NewHardSwish() *HardSwish {
	return &HardSwish{unary{fn: hardSwish}}
}

func hardSwish(dst, src []float32) {
	for i, x := range src {
		dst[i] = x * hardSigmoid32(x)
	}
}
