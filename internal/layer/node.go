package layer

import (
	"github.com/simpleinfer/simpleinfer/internal/ir"
	"github.com/simpleinfer/simpleinfer/internal/status"
	"github.com/simpleinfer/simpleinfer/internal/tensor"
)

// TensorNode is the engine-side holder of one IR operand: its declared
// channel-last shape, dtype and the view operators read and write.
//
// A node either owns its storage (Allocate) or aliases caller memory (Bind);
// graph inputs are never allocated.
type TensorNode struct {
	Index   int
	Operand *ir.Operand

	dtype tensor.DataType
	shape tensor.Shape
	view  tensor.View
	buf   tensor.Buffer
}

// NewTensorNode creates the node for operand. Shapes of rank > 3 are
// converted from channel-first to channel-last.
func NewTensorNode(index int, operand *ir.Operand) *TensorNode {
	dtype := tensor.FromIRType(operand.Type)
	shape := tensor.Shape(operand.Shape).ChannelsLast()
	return &TensorNode{
		Index:   index,
		Operand: operand,
		dtype:   dtype,
		shape:   shape,
		view:    tensor.Describe(dtype, shape),
	}
}

// Name returns the operand name.
func (n *TensorNode) Name() string {
	return n.Operand.Name
}

// DType returns the declared element type.
func (n *TensorNode) DType() tensor.DataType {
	return n.dtype
}

// Shape returns the declared channel-last shape.
func (n *TensorNode) Shape() tensor.Shape {
	return n.shape
}

// View returns the current view of the node's data.
func (n *TensorNode) View() tensor.View {
	return n.view
}

// Allocate gives the node its own storage, reusing it when the dtype and
// shape are unchanged.
func (n *TensorNode) Allocate() error {
	if err := n.buf.AllocateAs(n.dtype, n.shape); err != nil {
		return status.Wrap(err, "tensor node %s", n.Name())
	}
	n.view = n.buf.View()
	return nil
}

// Bind aliases v as the node's data without copying. The view must match
// the node's dtype, and its shape when the declared shape is fully known.
func (n *TensorNode) Bind(v tensor.View) error {
	if !v.Bound() {
		return status.Errorf(status.Empty, "tensor node %s: unbound view", n.Name())
	}
	if v.DType() != n.dtype {
		return status.Errorf(status.Fail, "tensor node %s: dtype %s, need %s", n.Name(), v.DType(), n.dtype)
	}
	if n.shape.Validate() == nil && !v.Shape().Equal(n.shape) {
		return status.Errorf(status.ErrorShape, "tensor node %s: shape %v, need %v", n.Name(), v.Shape(), n.shape)
	}
	n.view = v
	return nil
}

// Release drops owned storage and any alias.
func (n *TensorNode) Release() error {
	var err error
	if n.buf.Owned() {
		err = n.buf.Deallocate()
	}
	n.view = tensor.Describe(n.dtype, n.shape)
	return err
}
