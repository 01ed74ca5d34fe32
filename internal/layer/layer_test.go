package layer

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simpleinfer/simpleinfer/internal/ir"
	"github.com/simpleinfer/simpleinfer/internal/parallel"
	"github.com/simpleinfer/simpleinfer/internal/status"
	"github.com/simpleinfer/simpleinfer/internal/tensor"
)

func testContext(t *testing.T) *Context {
	t.Helper()
	ctx := NewContext(parallel.Config{Enabled: true, NumWorkers: 2, MinChunkSize: 1})
	t.Cleanup(ctx.Close)
	return ctx
}

func newOp(typ string) *ir.Operator {
	return &ir.Operator{
		Type:   typ,
		Name:   "op0",
		Params: make(map[string]ir.Parameter),
		Attrs:  make(map[string]ir.Attribute),
	}
}

func pInt(v int) ir.Parameter { return ir.Parameter{Type: ir.ParamInt, I: v} }
func pInts(v ...int) ir.Parameter { return ir.Parameter{Type: ir.ParamIntArray, AI: v} }
func pBool(v bool) ir.Parameter { return ir.Parameter{Type: ir.ParamBool, B: v} }
func pFloat(v float32) ir.Parameter { return ir.Parameter{Type: ir.ParamFloat, F: v} }
func pString(v string) ir.Parameter { return ir.Parameter{Type: ir.ParamString, S: v} }
func pFloats(v ...float32) ir.Parameter {
	return ir.Parameter{Type: ir.ParamFloatArray, AF: v}
}

func f32Attr(shape []int, values []float32) ir.Attribute {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	return ir.Attribute{Type: ir.TypeFloat32, Shape: shape, Data: data}
}

func randValues(rng *rand.Rand, n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func makeNodes(t *testing.T, prefix string, shapes [][]int) []*TensorNode {
	t.Helper()
	nodes := make([]*TensorNode, len(shapes))
	for i, s := range shapes {
		nodes[i] = NewTensorNode(i, &ir.Operand{
			Name:  fmt.Sprintf("%s%d", prefix, i),
			Type:  ir.TypeFloat32,
			Shape: s,
		})
		require.NoError(t, nodes[i].Allocate())
	}
	return nodes
}

// bind initializes l from op, attaches allocated nodes of the given
// channel-first shapes and returns the result of Validate.
func bind(t *testing.T, l Layer, op *ir.Operator, inShapes, outShapes [][]int) ([]*TensorNode, []*TensorNode, error) {
	t.Helper()
	require.NoError(t, l.Init(op))
	l.SetContext(testContext(t))
	ins := makeNodes(t, "in", inShapes)
	outs := makeNodes(t, "out", outShapes)
	l.SetInputNodes(ins)
	l.SetOutputNodes(outs)
	return ins, outs, l.Validate()
}

func mustBind(t *testing.T, l Layer, op *ir.Operator, inShapes, outShapes [][]int) ([]*TensorNode, []*TensorNode) {
	t.Helper()
	ins, outs, err := bind(t, l, op, inShapes, outShapes)
	require.NoError(t, err)
	return ins, outs
}

func assertClose(t *testing.T, want, got []float32, tol float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if math.Abs(float64(want[i]-got[i])) > tol {
			t.Fatalf("index %d: want %v, got %v", i, want[i], got[i])
		}
	}
}

func TestBaseDefaults(t *testing.T) {
	var b Base
	err := b.Init(nil)
	assert.Equal(t, status.Empty, status.CodeOf(err))

	require.NoError(t, b.Init(newOp("nn.Thing")))
	assert.Equal(t, "nn.Thing(op0)", b.Name())
	assert.NoError(t, b.Validate())
	assert.NoError(t, b.Deinit())

	assert.Equal(t, status.ErrorShape, status.CodeOf(b.ValidateShape(1, 1)))
	assert.NoError(t, b.ValidateShape(0, 0))
	assert.NoError(t, b.ValidateShape(-1, 0))

	_, err = b.Pool()
	assert.Equal(t, status.ErrorContext, status.CodeOf(err))

	err = b.Forward(nil, nil)
	assert.Equal(t, status.Unsupported, status.CodeOf(err))
}

func TestRunWithoutContext(t *testing.T) {
	l := NewReLU()
	require.NoError(t, l.Init(newOp("nn.ReLU")))
	l.SetInputNodes(makeNodes(t, "in", [][]int{{4}}))
	l.SetOutputNodes(makeNodes(t, "out", [][]int{{4}}))
	require.NoError(t, l.Validate())

	assert.Equal(t, status.ErrorContext, status.CodeOf(Run(l)))
}

func TestValidateFloat32(t *testing.T) {
	l := NewReLU()
	require.NoError(t, l.Init(newOp("nn.ReLU")))
	in := NewTensorNode(0, &ir.Operand{Name: "x", Type: ir.TypeInt32, Shape: []int{4}})
	l.SetInputNodes([]*TensorNode{in})
	l.SetOutputNodes(makeNodes(t, "out", [][]int{{4}}))

	assert.Equal(t, status.Unsupported, status.CodeOf(l.Validate()))
}

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	ops := r.SupportedOps()
	assert.Len(t, ops, 15)
	assert.Contains(t, ops, "nn.Conv2d")
	assert.Contains(t, ops, "models.yolo.Detect")
	assert.IsIncreasing(t, ops)

	for _, typ := range ops {
		e, ok := r.Lookup(typ)
		require.True(t, ok, typ)
		assert.NotNil(t, e.New(), typ)
	}

	_, ok := r.Lookup("nn.GELU")
	assert.False(t, ok)

	r.Register("nn.Custom", Entry{New: func() Layer { return NewReLU() }})
	_, ok = r.Lookup("nn.Custom")
	assert.True(t, ok)
}

func TestTensorNodeLifecycle(t *testing.T) {
	n := NewTensorNode(3, &ir.Operand{Name: "x", Type: ir.TypeFloat32, Shape: []int{1, 3, 4, 5}})
	assert.Equal(t, "x", n.Name())
	assert.Equal(t, tensor.Float32, n.DType())
	assert.Equal(t, tensor.Shape{1, 4, 5, 3}, n.Shape())
	assert.False(t, n.View().Bound())

	require.NoError(t, n.Allocate())
	require.True(t, n.View().Bound())
	assert.Len(t, n.View().Float32(), 60)

	// alias caller memory
	data := make([]float32, 60)
	v, err := tensor.FromFloat32(tensor.Shape{1, 4, 5, 3}, data)
	require.NoError(t, err)
	require.NoError(t, n.Bind(v))
	n.View().Float32()[7] = 2
	assert.Equal(t, float32(2), data[7])

	wrong, err := tensor.FromFloat32(tensor.Shape{1, 3, 4, 5}, data)
	require.NoError(t, err)
	assert.Equal(t, status.ErrorShape, status.CodeOf(n.Bind(wrong)))
	assert.Equal(t, status.Empty, status.CodeOf(n.Bind(tensor.View{})))

	require.NoError(t, n.Release())
	assert.False(t, n.View().Bound())
	require.NoError(t, n.Release())
}

func TestTensorNodeDynamicShape(t *testing.T) {
	n := NewTensorNode(0, &ir.Operand{Name: "x", Type: ir.TypeFloat32, Shape: []int{1, 3, -1, -1}})
	v, err := tensor.FromFloat32(tensor.Shape{1, 8, 8, 3}, make([]float32, 192))
	require.NoError(t, err)
	require.NoError(t, n.Bind(v))
	assert.Equal(t, tensor.Shape{1, 8, 8, 3}, n.View().Shape())
}
