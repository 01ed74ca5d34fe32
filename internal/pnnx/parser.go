package pnnx

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/simpleinfer/simpleinfer/internal/ir"
	"github.com/simpleinfer/simpleinfer/internal/tensor"
)

// Magic is the first line of every param file.
const Magic = 7767517

// WeightFunc returns the raw bytes stored for an attribute key of the form
// "operator.attribute".
type WeightFunc func(key string) ([]byte, error)

// ParseFile parses a param file, reading attribute data through weights.
func ParseFile(path string, weights WeightFunc) (*ir.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open param file")
	}
	defer f.Close()

	return Parse(f, weights)
}

// Parse reads a param description from r. weights may be nil for graphs
// without attributes.
func Parse(r io.Reader, weights WeightFunc) (*ir.Graph, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line, ok := nextLine(sc)
	if !ok {
		return nil, errors.New("empty param file")
	}
	if magic, err := strconv.Atoi(line); err != nil || magic != Magic {
		return nil, errors.Errorf("bad magic %q, want %d", line, Magic)
	}

	line, ok = nextLine(sc)
	if !ok {
		return nil, errors.New("missing operator/operand counts")
	}
	counts := strings.Fields(line)
	if len(counts) != 2 {
		return nil, errors.Errorf("malformed counts line %q", line)
	}
	opCount, err1 := strconv.Atoi(counts[0])
	operandCount, err2 := strconv.Atoi(counts[1])
	if err1 != nil || err2 != nil || opCount < 0 || operandCount < 0 {
		return nil, errors.Errorf("malformed counts line %q", line)
	}

	g := &ir.Graph{
		Operators: make([]*ir.Operator, 0, opCount),
		Operands:  make([]*ir.Operand, 0, operandCount),
	}
	operands := make(map[string]*ir.Operand, operandCount)

	for i := 0; i < opCount; i++ {
		line, ok = nextLine(sc)
		if !ok {
			return nil, errors.Errorf("expected %d operators, found %d", opCount, i)
		}
		if err := parseOperator(g, operands, line, weights); err != nil {
			return nil, errors.Wrapf(err, "operator line %d", i+1)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read param file")
	}
	return g, nil
}

func nextLine(sc *bufio.Scanner) (string, bool) {
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line, true
		}
	}
	return "", false
}

func parseOperator(g *ir.Graph, operands map[string]*ir.Operand, line string, weights WeightFunc) error {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return errors.Errorf("malformed operator %q", line)
	}

	nIn, err1 := strconv.Atoi(fields[2])
	nOut, err2 := strconv.Atoi(fields[3])
	if err1 != nil || err2 != nil || nIn < 0 || nOut < 0 || len(fields) < 4+nIn+nOut {
		return errors.Errorf("malformed operand counts in %q", line)
	}

	op := g.NewOperator(fields[0], fields[1])

	inputs := make([]*ir.Operand, nIn)
	for i, name := range fields[4 : 4+nIn] {
		r, ok := operands[name]
		if !ok {
			return errors.Errorf("%s: unknown input operand %q", op.Name, name)
		}
		inputs[i] = r
	}

	outputs := make([]*ir.Operand, nOut)
	for i, name := range fields[4+nIn : 4+nIn+nOut] {
		if _, dup := operands[name]; dup {
			return errors.Errorf("%s: operand %q produced twice", op.Name, name)
		}
		r := g.NewOperand(name)
		operands[name] = r
		outputs[i] = r
	}
	op.Connect(inputs, outputs)

	for _, kv := range fields[4+nIn+nOut:] {
		key, value, found := strings.Cut(kv, "=")
		if !found || key == "" {
			return errors.Errorf("%s: malformed key=value %q", op.Name, kv)
		}

		switch key[0] {
		case '@':
			if err := parseAttribute(op, key[1:], value, weights); err != nil {
				return err
			}
		case '#':
			r, ok := operands[key[1:]]
			if !ok {
				return errors.Errorf("%s: shape for unknown operand %q", op.Name, key[1:])
			}
			shape, typ, err := parseShapeType(value)
			if err != nil {
				return errors.Wrapf(err, "%s: operand %s", op.Name, r.Name)
			}
			r.Shape, r.Type = shape, typ
		default:
			param, err := parseParameter(value)
			if err != nil {
				return errors.Wrapf(err, "%s: parameter %s", op.Name, key)
			}
			op.Params[key] = param
		}
	}
	return nil
}

func parseAttribute(op *ir.Operator, name, value string, weights WeightFunc) error {
	shape, typ, err := parseShapeType(value)
	if err != nil {
		return errors.Wrapf(err, "%s: attribute %s", op.Name, name)
	}

	attr := ir.Attribute{Type: typ, Shape: shape}
	size := tensor.Shape(shape).NumElements() * tensor.FromIRType(typ).Size()
	if size > 0 {
		if weights == nil {
			return errors.Errorf("%s: attribute %s has no weight source", op.Name, name)
		}
		data, err := weights(op.Name + "." + name)
		if err != nil {
			return errors.Wrapf(err, "%s: attribute %s", op.Name, name)
		}
		if len(data) != size {
			return errors.Errorf("%s: attribute %s holds %d bytes, shape %v%s needs %d",
				op.Name, name, len(data), shape, tensor.FromIRType(typ), size)
		}
		attr.Data = data
	}
	op.Attrs[name] = attr
	return nil
}
