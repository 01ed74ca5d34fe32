// Package layer defines the operator contract of the engine and implements
// the built-in operators.
//
// An operator is created from the registry, configured from its IR operator
// with Init, bound to tensor nodes, checked once with Validate and then run
// any number of times through Run. All operators compute on channel-last
// float32 data.
package layer

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/simpleinfer/simpleinfer/internal/ir"
	"github.com/simpleinfer/simpleinfer/internal/parallel"
	"github.com/simpleinfer/simpleinfer/internal/status"
	"github.com/simpleinfer/simpleinfer/internal/tensor"
)

// Layer is the contract every operator implements.
//
// Lifecycle: Init → SetContext → SetInputNodes/SetOutputNodes → Validate →
// Forward (repeated) → Deinit.
type Layer interface {
	// Init reads parameters and weights from op.
	Init(op *ir.Operator) error
	SetContext(ctx *Context)
	SetInputNodes(nodes []*TensorNode)
	SetOutputNodes(nodes []*TensorNode)
	InputNodes() []*TensorNode
	OutputNodes() []*TensorNode
	// Validate checks arity, dtypes and shapes of the bound nodes.
	Validate() error
	// Forward computes outputs from inputs. Arity is checked by Validate.
	Forward(inputs, outputs []tensor.View) error
	Deinit() error
	Op() *ir.Operator
}

// Run executes one forward step of l over the current views of its bound
// tensor nodes.
func Run(l Layer) error {
	ins, outs := l.InputNodes(), l.OutputNodes()
	inputs := make([]tensor.View, len(ins))
	for i, n := range ins {
		inputs[i] = n.View()
	}
	outputs := make([]tensor.View, len(outs))
	for i, n := range outs {
		outputs[i] = n.View()
	}

	if klog.V(2).Enabled() {
		klog.Infof("forward %s", describe(l.Op()))
	}
	return l.Forward(inputs, outputs)
}

// Base provides the default behavior for every Layer method. Operators embed
// it and override what they need.
type Base struct {
	op      *ir.Operator
	ctx     *Context
	inputs  []*TensorNode
	outputs []*TensorNode
}

// Init stores op. A nil op is reported as status.Empty.
func (b *Base) Init(op *ir.Operator) error {
	if op == nil {
		return status.Errorf(status.Empty, "init: nil operator")
	}
	b.op = op
	return nil
}

// SetContext binds the execution context.
func (b *Base) SetContext(ctx *Context) {
	b.ctx = ctx
}

// SetInputNodes binds the input tensor nodes.
func (b *Base) SetInputNodes(nodes []*TensorNode) {
	b.inputs = nodes
}

// SetOutputNodes binds the output tensor nodes.
func (b *Base) SetOutputNodes(nodes []*TensorNode) {
	b.outputs = nodes
}

// InputNodes returns the bound input nodes.
func (b *Base) InputNodes() []*TensorNode {
	return b.inputs
}

// OutputNodes returns the bound output nodes.
func (b *Base) OutputNodes() []*TensorNode {
	return b.outputs
}

// Validate accepts any binding.
func (b *Base) Validate() error {
	return nil
}

// Forward is not implemented by default.
func (b *Base) Forward(_, _ []tensor.View) error {
	return b.errorf(status.Unsupported, "forward not implemented")
}

// Deinit releases nothing by default.
func (b *Base) Deinit() error {
	return nil
}

// Op returns the IR operator passed to Init.
func (b *Base) Op() *ir.Operator {
	return b.op
}

// ValidateShape checks the number of bound inputs and outputs. A negative
// count skips that check.
func (b *Base) ValidateShape(nIn, nOut int) error {
	if nIn >= 0 && nIn != len(b.inputs) {
		return b.errorf(status.ErrorShape, "input size error %d, need %d", len(b.inputs), nIn)
	}
	if nOut >= 0 && nOut != len(b.outputs) {
		return b.errorf(status.ErrorShape, "output size error %d, need %d", len(b.outputs), nOut)
	}
	return nil
}

// ValidateFloat32 requires every bound node to be float32.
func (b *Base) ValidateFloat32() error {
	for _, n := range b.inputs {
		if n.DType() != tensor.Float32 {
			return b.errorf(status.Unsupported, "unsupported input data type %s of %s", n.DType(), n.Name())
		}
	}
	for _, n := range b.outputs {
		if n.DType() != tensor.Float32 {
			return b.errorf(status.Unsupported, "unsupported output data type %s of %s", n.DType(), n.Name())
		}
	}
	return nil
}

// ValidateSameShape requires the first input and output to share a shape.
func (b *Base) ValidateSameShape() error {
	in, out := b.inputs[0].Shape(), b.outputs[0].Shape()
	if !in.Equal(out) {
		return b.errorf(status.ErrorShape, "error input/output shape %v vs %v", in, out)
	}
	return nil
}

// ValidateRank requires the first input and output to have the given rank.
func (b *Base) ValidateRank(rank int) error {
	if r := len(b.inputs[0].Shape()); r != rank {
		return b.errorf(status.Unsupported, "unsupported input rank %d, need %d", r, rank)
	}
	if r := len(b.outputs[0].Shape()); r != rank {
		return b.errorf(status.Unsupported, "unsupported output rank %d, need %d", r, rank)
	}
	return nil
}

// Pool returns the shared compute pool, or status.ErrorContext when no
// context is bound.
func (b *Base) Pool() (*parallel.Pool, error) {
	if b.ctx == nil || b.ctx.Pool == nil {
		return nil, b.errorf(status.ErrorContext, "empty compute pool")
	}
	return b.ctx.Pool, nil
}

// Context returns the bound execution context.
func (b *Base) Context() *Context {
	return b.ctx
}

// Name returns the operator name, or its type when unnamed.
func (b *Base) Name() string {
	return describe(b.op)
}

// errorf logs one line and returns a status error prefixed with the
// operator's name.
func (b *Base) errorf(code status.Code, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	klog.Errorf("%s: %s", b.Name(), msg)
	return status.Errorf(code, "%s: %s", b.Name(), msg)
}

func describe(op *ir.Operator) string {
	if op == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%s)", op.Type, op.Name)
}
