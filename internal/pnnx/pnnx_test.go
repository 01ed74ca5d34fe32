package pnnx

import (
	"archive/zip"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simpleinfer/simpleinfer/internal/ir"
)

func float32Bytes(values ...float32) []byte {
	out := make([]byte, 0, 4*len(values))
	for _, v := range values {
		bits := math.Float32bits(v)
		out = append(out, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
	}
	return out
}

const testParam = `7767517
6 4
pnnx.Input               pnnx_input_0     0 1 0 #0=(1,2,4,4)f32
nn.Conv2d                conv_0           1 1 0 1 bias=True dilation=(1,1) groups=1 in_channels=2 kernel_size=(1,1) out_channels=1 padding=(0,0) padding_mode=zeros stride=(1,1) @bias=(1)f32 @weight=(1,2,1,1)f32 #0=(1,2,4,4)f32 #1=(1,1,4,4)f32
nn.Upsample              up_0             1 1 1 2 mode=nearest scale_factor=(2.0,2.0) size=None #1=(1,1,4,4)f32 #2=(1,1,8,8)f32
pnnx.Expression          expr_0           2 1 1 0 3 expr=add(@0,mul(@1,2)) #3=(1,2,4,4)f32
pnnx.Output              pnnx_output_0    1 0 3
pnnx.Output              pnnx_output_1    1 0 2
`

func writeModel(t *testing.T, param string, entries map[string][]byte) (string, string) {
	t.Helper()
	dir := t.TempDir()

	paramPath := filepath.Join(dir, "model.param")
	require.NoError(t, os.WriteFile(paramPath, []byte(param), 0o600))

	binPath := filepath.Join(dir, "model.bin")
	f, err := os.Create(binPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, data := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	return paramPath, binPath
}

func testWeights() map[string][]byte {
	return map[string][]byte{
		"conv_0.weight": float32Bytes(0.5, -1),
		"conv_0.bias":   float32Bytes(0.25),
	}
}

func TestLoaderLoad(t *testing.T) {
	paramPath, binPath := writeModel(t, testParam, testWeights())

	g, err := NewLoader(LoadOptions{Expand: false}).Load(paramPath, binPath)
	require.NoError(t, err)
	require.Len(t, g.Operators, 6)
	require.Len(t, g.Operands, 4)

	conv := g.Operators[1]
	assert.Equal(t, "nn.Conv2d", conv.Type)
	assert.Equal(t, "conv_0", conv.Name)
	assert.True(t, conv.CheckParam("bias", ir.ParamBool))
	assert.Equal(t, []int{1, 1}, conv.ParamInts("kernel_size"))
	assert.Equal(t, "zeros", conv.ParamString("padding_mode", ""))
	assert.Equal(t, 2, conv.ParamInt("in_channels", 0))

	w, ok := conv.Attrs["weight"]
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 1, 1}, w.Shape)
	values, ok := w.Float32()
	require.True(t, ok)
	assert.Equal(t, []float32{0.5, -1}, values)

	up := g.Operators[2]
	assert.Equal(t, ir.ParamNull, up.Params["size"].Type)
	assert.Equal(t, []float32{2, 2}, up.ParamFloats("scale_factor"))

	in := g.Operand("0")
	require.NotNil(t, in)
	assert.Equal(t, []int{1, 2, 4, 4}, in.Shape)
	assert.Equal(t, ir.TypeFloat32, in.Type)
	assert.Same(t, g.Operators[0], in.Producer)
	require.Len(t, in.Consumers, 2)
}

func TestLoaderExpandsExpressions(t *testing.T) {
	paramPath, binPath := writeModel(t, testParam, testWeights())

	g, err := NewLoader().Load(paramPath, binPath)
	require.NoError(t, err)

	var types []string
	for _, op := range g.Operators {
		types = append(types, op.Type)
		assert.NotEqual(t, ExpressionType, op.Type)
	}
	assert.Equal(t, []string{"pnnx.Input", "nn.Conv2d", "nn.Upsample", "BinaryOp", "BinaryOp", "pnnx.Output", "pnnx.Output"}, types)

	mul := g.Operators[3]
	assert.Equal(t, "expr_0_1", mul.Name)
	assert.Equal(t, BinaryMul, mul.ParamInt("0", -1))
	assert.Equal(t, 1, mul.ParamInt("1", -1))
	assert.InDelta(t, 2, mul.ParamFloat("2", 0), 0)
	require.Len(t, mul.Outputs, 1)
	assert.Equal(t, []int{1, 2, 4, 4}, mul.Outputs[0].Shape)
	require.Len(t, mul.Inputs, 1)
	assert.Equal(t, "0", mul.Inputs[0].Name)

	add := g.Operators[4]
	assert.Equal(t, "expr_0", add.Name)
	assert.Equal(t, BinaryAdd, add.ParamInt("0", -1))
	assert.Equal(t, 0, add.ParamInt("1", -1))
	require.Len(t, add.Inputs, 2)
	assert.Equal(t, "1", add.Inputs[0].Name)
	assert.Same(t, mul.Outputs[0], add.Inputs[1])
	assert.Same(t, add, g.Operand("3").Producer)

	// The expression no longer consumes the graph input.
	for _, c := range g.Operand("0").Consumers {
		assert.NotEqual(t, ExpressionType, c.Type)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		param string
	}{
		{"bad magic", "1234\n0 0\n"},
		{"missing counts", "7767517\n"},
		{"truncated", "7767517\n2 1\npnnx.Input in 0 1 0\n"},
		{"unknown input", "7767517\n1 1\nnn.ReLU relu 1 1 x y\n"},
		{"bad kv", "7767517\n1 1\npnnx.Input in 0 1 0 novalue\n"},
		{"bad type", "7767517\n1 1\npnnx.Input in 0 1 0 #0=(1,2)f99\n"},
		{"lone bracket", "7767517\n1 1\npnnx.Input in0 0 1 x k=(\n"},
		{"unterminated array", "7767517\n1 1\npnnx.Input in0 0 1 x k=(1,2\n"},
		{"mismatched brackets", "7767517\n1 1\npnnx.Input in0 0 1 x k=[1,2)\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			assert.NotPanics(t, func() {
				_, err = Parse(strings.NewReader(tt.param), nil)
			})
			assert.Error(t, err)
		})
	}
}

func TestParseAttributeSizeMismatch(t *testing.T) {
	param := "7767517\n1 1\nnn.Linear fc 0 1 y @weight=(2,2)f32\n"
	weights := func(string) ([]byte, error) { return float32Bytes(1, 2, 3), nil }

	_, err := Parse(strings.NewReader(param), weights)
	assert.Error(t, err)
}

func TestLoaderMissingWeightEntry(t *testing.T) {
	paramPath, binPath := writeModel(t, testParam, map[string][]byte{
		"conv_0.weight": float32Bytes(0.5, -1),
	})
	_, err := NewLoader().Load(paramPath, binPath)
	assert.Error(t, err)
}

func TestParseParameter(t *testing.T) {
	tests := []struct {
		in   string
		want ir.Parameter
	}{
		{"None", ir.Parameter{Type: ir.ParamNull}},
		{"True", ir.Parameter{Type: ir.ParamBool, B: true}},
		{"False", ir.Parameter{Type: ir.ParamBool}},
		{"-3", ir.Parameter{Type: ir.ParamInt, I: -3}},
		{"1e-05", ir.Parameter{Type: ir.ParamFloat, F: 1e-5}},
		{"nearest", ir.Parameter{Type: ir.ParamString, S: "nearest"}},
		{"(3,3)", ir.Parameter{Type: ir.ParamIntArray, AI: []int{3, 3}}},
		{"[1,2]", ir.Parameter{Type: ir.ParamIntArray, AI: []int{1, 2}}},
		{"(2.0,1)", ir.Parameter{Type: ir.ParamFloatArray, AF: []float32{2, 1}}},
		{"(a,'b')", ir.Parameter{Type: ir.ParamStringArray, AS: []string{"a", "b"}}},
		{"inf", ir.Parameter{Type: ir.ParamString, S: "inf"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseParameter(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"(", "[", "(1,2", "[1,2)", "(1,2]"} {
		_, err := parseParameter(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseShapeType(t *testing.T) {
	shape, typ, err := parseShapeType("(1,?,224,224)f16")
	require.NoError(t, err)
	assert.Equal(t, []int{1, -1, 224, 224}, shape)
	assert.Equal(t, ir.TypeFloat16, typ)

	_, _, err = parseShapeType("1,2)f32")
	assert.Error(t, err)
}

func TestExpandExpressionVariants(t *testing.T) {
	tests := []struct {
		expr    string
		nOps    int
		rootOp  int
		wantErr bool
	}{
		{"mul(@0,@1)", 1, BinaryMul, false},
		{"sub(1,@0)", 1, BinaryRSub, false},
		{"div(@0,2.5)", 1, BinaryDiv, false},
		{"add(sub(@0,@1),div(@1,mul(2,3)))", 3, BinaryAdd, false},
		{"pow(@0,2)", 0, 0, true},
		{"add(1,2)", 0, 0, true},
		{"@0", 0, 0, true},
		{"add(@0,@5)", 0, 0, true},
		{"add(@0,@1", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			g := &ir.Graph{}
			a := g.NewOperand("a")
			a.Shape = []int{1, 3, 4, 4}
			b := g.NewOperand("b")
			b.Shape = []int{1, 3, 1, 1}
			out := g.NewOperand("out")
			op := g.NewOperator(ExpressionType, "e")
			op.Params["expr"] = ir.Parameter{Type: ir.ParamString, S: tt.expr}
			op.Connect([]*ir.Operand{a, b}, []*ir.Operand{out})

			err := ExpandExpressions(g)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, g.Operators, tt.nOps)
			root := g.Operators[len(g.Operators)-1]
			assert.Equal(t, "e", root.Name)
			assert.Equal(t, tt.rootOp, root.ParamInt("0", -1))
			assert.Same(t, root, out.Producer)
		})
	}
}

func TestLoaderMmapMatchesBuffered(t *testing.T) {
	paramPath, binPath := writeModel(t, testParam, testWeights())

	mapped, err := NewLoader(LoadOptions{Mmap: true}).Load(paramPath, binPath)
	require.NoError(t, err)
	buffered, err := NewLoader(LoadOptions{Mmap: false}).Load(paramPath, binPath)
	require.NoError(t, err)

	require.Len(t, mapped.Operators, len(buffered.Operators))
	for i, op := range mapped.Operators {
		assert.Equal(t, buffered.Operators[i].Type, op.Type)
		for name, a := range buffered.Operators[i].Attrs {
			assert.Equal(t, a.Data, op.Attrs[name].Data, "%s.%s", op.Name, name)
		}
	}
}

func TestOpenMappedErrors(t *testing.T) {
	_, err := openMapped(filepath.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = openMapped(empty)
	require.Error(t, err)

	_, err = NewLoader().Load(empty, empty)
	require.Error(t, err)
}
