package pnnx

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/simpleinfer/simpleinfer/internal/ir"
)

var typeCodes = map[string]int{
	"f32":  ir.TypeFloat32,
	"f64":  ir.TypeFloat64,
	"f16":  ir.TypeFloat16,
	"i32":  ir.TypeInt32,
	"i64":  ir.TypeInt64,
	"i16":  ir.TypeInt16,
	"i8":   ir.TypeInt8,
	"u8":   ir.TypeUint8,
	"bool": ir.TypeBool,
	"c64":  ir.TypeComplex64,
	"c128": ir.TypeComplex128,
	"c32":  ir.TypeComplex32,
}

// parseParameter decodes a parameter value.
//
//	None → null, True/False → bool, 3 → int, 0.5 → float,
//	(1,2) → int array, (0.5,2.0) → float array, (a,b) → string array,
//	anything else → string.
//
// An array missing its closing bracket is an error.
func parseParameter(value string) (ir.Parameter, error) {
	switch value {
	case "None", "":
		return ir.Parameter{Type: ir.ParamNull}, nil
	case "True":
		return ir.Parameter{Type: ir.ParamBool, B: true}, nil
	case "False":
		return ir.Parameter{Type: ir.ParamBool, B: false}, nil
	}

	if open := value[0]; open == '(' || open == '[' {
		closing := byte(')')
		if open == '[' {
			closing = ']'
		}
		if len(value) < 2 || value[len(value)-1] != closing {
			return ir.Parameter{}, errors.Errorf("unterminated array %q", value)
		}
		return parseArray(value[1 : len(value)-1]), nil
	}

	if i, ok := parseInt(value); ok {
		return ir.Parameter{Type: ir.ParamInt, I: i}, nil
	}
	if f, ok := parseFloat(value); ok {
		return ir.Parameter{Type: ir.ParamFloat, F: f}, nil
	}
	return ir.Parameter{Type: ir.ParamString, S: unquote(value)}, nil
}

func parseArray(body string) ir.Parameter {
	var elems []string
	for _, e := range strings.Split(body, ",") {
		if e = strings.TrimSpace(e); e != "" {
			elems = append(elems, e)
		}
	}

	ints := make([]int, 0, len(elems))
	for _, e := range elems {
		i, ok := parseInt(e)
		if !ok {
			break
		}
		ints = append(ints, i)
	}
	if len(ints) == len(elems) {
		return ir.Parameter{Type: ir.ParamIntArray, AI: ints}
	}

	floats := make([]float32, 0, len(elems))
	for _, e := range elems {
		f, ok := parseFloat(e)
		if !ok {
			break
		}
		floats = append(floats, f)
	}
	if len(floats) == len(elems) {
		return ir.Parameter{Type: ir.ParamFloatArray, AF: floats}
	}

	strs := make([]string, len(elems))
	for i, e := range elems {
		strs[i] = unquote(e)
	}
	return ir.Parameter{Type: ir.ParamStringArray, AS: strs}
}

func parseInt(s string) (int, bool) {
	i, err := strconv.Atoi(s)
	return i, err == nil
}

// parseFloat accepts decimal and exponent forms only, so words such as "inf"
// or "nan" stay strings.
func parseFloat(s string) (float32, bool) {
	if s == "" {
		return 0, false
	}
	c := s[0]
	if (c < '0' || c > '9') && c != '-' && c != '+' && c != '.' {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, false
	}
	return float32(f), true
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// parseShapeType decodes "(1,3,?,224)f32" into a shape and a type code.
// Unknown dimensions become -1.
func parseShapeType(value string) ([]int, int, error) {
	if !strings.HasPrefix(value, "(") {
		return nil, 0, errors.Errorf("malformed shape %q", value)
	}
	end := strings.IndexByte(value, ')')
	if end < 0 {
		return nil, 0, errors.Errorf("malformed shape %q", value)
	}

	var shape []int
	for _, d := range strings.Split(value[1:end], ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		n, err := strconv.Atoi(d)
		if err != nil {
			n = -1 // "?" or a symbolic dimension
		}
		shape = append(shape, n)
	}

	typ, ok := typeCodes[value[end+1:]]
	if !ok {
		return nil, 0, errors.Errorf("unknown element type %q in %q", value[end+1:], value)
	}
	return shape, typ, nil
}
