// Package ir holds the in-memory description of a model graph as produced by
// a model loader: operators, the operands flowing between them, scalar
// parameters and binary weight attributes.
package ir

import (
	"github.com/simpleinfer/simpleinfer/internal/tensor"
)

// Parameter value kinds.
const (
	ParamNull        = 0
	ParamBool        = 1
	ParamInt         = 2
	ParamFloat       = 3
	ParamString      = 4
	ParamIntArray    = 5
	ParamFloatArray  = 6
	ParamStringArray = 7
)

// Operand and attribute element type codes. They line up with
// tensor.FromIRType.
const (
	TypeNull       = 0
	TypeFloat32    = 1
	TypeFloat64    = 2
	TypeFloat16    = 3
	TypeInt32      = 4
	TypeInt64      = 5
	TypeInt16      = 6
	TypeInt8       = 7
	TypeUint8      = 8
	TypeBool       = 9
	TypeComplex64  = 10
	TypeComplex128 = 11
	TypeComplex32  = 12
)

// Loader reads a model description (a text graph and a binary weight file)
// into a Graph.
type Loader interface {
	Load(paramPath, binPath string) (*Graph, error)
}

// Graph is a loaded model description.
type Graph struct {
	Operators []*Operator
	Operands  []*Operand
}

// Operator is one node of the model description.
type Operator struct {
	Type    string // e.g. "nn.Conv2d"
	Name    string
	Inputs  []*Operand
	Outputs []*Operand
	Params  map[string]Parameter
	Attrs   map[string]Attribute
}

// Operand is a named tensor edge between operators.
type Operand struct {
	Name      string
	Type      int   // element type code
	Shape     []int // -1 marks an unknown dimension
	Producer  *Operator
	Consumers []*Operator
}

// Parameter is a scalar or array operator parameter.
type Parameter struct {
	Type int
	B    bool
	I    int
	F    float32
	S    string
	AI   []int
	AF   []float32
	AS   []string
}

// Attribute is a binary operator attribute, typically a weight tensor.
type Attribute struct {
	Type  int
	Shape []int
	Data  []byte
}

// DataType returns the attribute's element type.
func (a Attribute) DataType() tensor.DataType {
	return tensor.FromIRType(a.Type)
}

// Float32 decodes the attribute data to float32. Half and double precision
// data is converted; other types report false.
func (a Attribute) Float32() ([]float32, bool) {
	return tensor.ToFloat32(a.DataType(), a.Data)
}

// NumElements returns the product of the attribute's shape.
func (a Attribute) NumElements() int {
	return tensor.Shape(a.Shape).NumElements()
}

// NewOperator creates an operator with empty parameter and attribute maps and
// appends it to the graph.
func (g *Graph) NewOperator(typ, name string) *Operator {
	op := &Operator{
		Type:   typ,
		Name:   name,
		Params: make(map[string]Parameter),
		Attrs:  make(map[string]Attribute),
	}
	g.Operators = append(g.Operators, op)
	return op
}

// NewOperand creates an operand and appends it to the graph.
func (g *Graph) NewOperand(name string) *Operand {
	r := &Operand{Name: name}
	g.Operands = append(g.Operands, r)
	return r
}

// Operand returns the operand with the given name, or nil.
func (g *Graph) Operand(name string) *Operand {
	for _, r := range g.Operands {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// Connect links op's outputs and inputs: op becomes the producer of outputs
// and a consumer of inputs.
func (op *Operator) Connect(inputs, outputs []*Operand) {
	for _, r := range inputs {
		r.Consumers = append(r.Consumers, op)
		op.Inputs = append(op.Inputs, r)
	}
	for _, r := range outputs {
		r.Producer = op
		op.Outputs = append(op.Outputs, r)
	}
}

// RemoveConsumer drops op from the operand's consumer list.
func (r *Operand) RemoveConsumer(op *Operator) {
	for i, c := range r.Consumers {
		if c == op {
			r.Consumers = append(r.Consumers[:i], r.Consumers[i+1:]...)
			return
		}
	}
}
