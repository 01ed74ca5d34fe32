package pnnx

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/simpleinfer/simpleinfer/internal/ir"
	"github.com/simpleinfer/simpleinfer/internal/tensor"
)

// ExpressionType is the operator type of an unexpanded expression.
const ExpressionType = "pnnx.Expression"

// BinaryOpType is the operator type expressions are expanded into.
const BinaryOpType = "BinaryOp"

// Binary operation codes carried in BinaryOp parameter "0".
const (
	BinaryAdd  = 0
	BinarySub  = 1
	BinaryMul  = 2
	BinaryDiv  = 3
	BinaryRSub = 7
	BinaryRDiv = 8
)

var binaryFuncs = map[string]int{
	"add": BinaryAdd,
	"sub": BinarySub,
	"mul": BinaryMul,
	"div": BinaryDiv,
}

// exprNode is a parsed expression term: an operand reference (@N), a
// numeric constant, or a binary function call.
type exprNode struct {
	operand  int // index into the expression's inputs, -1 if none
	constant float32
	isConst  bool
	fn       string
	args     []*exprNode
}

// ExpandExpressions replaces every pnnx.Expression operator in g with a
// chain of BinaryOp operators computing the same value. Intermediate
// operands get shapes broadcast from their arguments.
func ExpandExpressions(g *ir.Graph) error {
	expanded := make([]*ir.Operator, 0, len(g.Operators))
	for _, op := range g.Operators {
		if op.Type != ExpressionType {
			expanded = append(expanded, op)
			continue
		}

		ops, err := expandExpression(g, op)
		if err != nil {
			return errors.Wrapf(err, "expand %s", op.Name)
		}
		klog.V(1).Infof("pnnx: expanded %s %q into %d BinaryOp", op.Name, op.ParamString("expr", ""), len(ops))
		expanded = append(expanded, ops...)
	}
	g.Operators = expanded
	return nil
}

type expander struct {
	g    *ir.Graph
	expr *ir.Operator
	out  []*ir.Operator
	seq  int
}

func expandExpression(g *ir.Graph, op *ir.Operator) ([]*ir.Operator, error) {
	if len(op.Outputs) != 1 {
		return nil, errors.Errorf("expression must have one output, has %d", len(op.Outputs))
	}
	text := op.ParamString("expr", "")
	root, err := parseExpr(text)
	if err != nil {
		return nil, err
	}
	if root.fn == "" {
		return nil, errors.Errorf("expression %q is not a function call", text)
	}

	for _, r := range op.Inputs {
		r.RemoveConsumer(op)
	}
	e := &expander{g: g, expr: op}
	if _, _, err := e.emit(root, op.Outputs[0]); err != nil {
		return nil, errors.Wrapf(err, "expression %q", text)
	}
	return e.out, nil
}

// emit materializes n. It returns the operand holding the value, or a
// constant when n folds to one. dst, when set, receives the result.
func (e *expander) emit(n *exprNode, dst *ir.Operand) (*ir.Operand, float32, error) {
	switch {
	case n.isConst:
		return nil, n.constant, nil
	case n.fn == "":
		if n.operand < 0 || n.operand >= len(e.expr.Inputs) {
			return nil, 0, errors.Errorf("operand @%d out of range (%d inputs)", n.operand, len(e.expr.Inputs))
		}
		return e.expr.Inputs[n.operand], 0, nil
	}

	code, ok := binaryFuncs[n.fn]
	if !ok {
		return nil, 0, errors.Errorf("unsupported function %q", n.fn)
	}
	if len(n.args) != 2 {
		return nil, 0, errors.Errorf("%s takes 2 arguments, got %d", n.fn, len(n.args))
	}

	a, ca, err := e.emit(n.args[0], nil)
	if err != nil {
		return nil, 0, err
	}
	b, cb, err := e.emit(n.args[1], nil)
	if err != nil {
		return nil, 0, err
	}

	if a == nil && b == nil {
		v := fold(code, ca, cb)
		if dst != nil {
			return nil, 0, errors.New("expression folds to a constant")
		}
		return nil, v, nil
	}

	name := e.expr.Name
	if dst == nil {
		e.seq++
		name = e.expr.Name + "_" + strconv.Itoa(e.seq)
	}
	op := &ir.Operator{
		Type:   BinaryOpType,
		Name:   name,
		Params: make(map[string]ir.Parameter),
		Attrs:  make(map[string]ir.Attribute),
	}

	var inputs []*ir.Operand
	switch {
	case a != nil && b != nil:
		inputs = []*ir.Operand{a, b}
		op.Params["1"] = ir.Parameter{Type: ir.ParamInt, I: 0}
	case a != nil:
		inputs = []*ir.Operand{a}
		op.Params["1"] = ir.Parameter{Type: ir.ParamInt, I: 1}
		op.Params["2"] = ir.Parameter{Type: ir.ParamFloat, F: cb}
	default:
		inputs = []*ir.Operand{b}
		op.Params["1"] = ir.Parameter{Type: ir.ParamInt, I: 1}
		op.Params["2"] = ir.Parameter{Type: ir.ParamFloat, F: ca}
		switch code {
		case BinarySub:
			code = BinaryRSub
		case BinaryDiv:
			code = BinaryRDiv
		}
	}
	op.Params["0"] = ir.Parameter{Type: ir.ParamInt, I: code}

	if dst == nil {
		dst = e.g.NewOperand(name)
		dst.Type = ir.TypeFloat32
		shape, err := resultShape(inputs)
		if err != nil {
			return nil, 0, err
		}
		dst.Shape = shape
	}
	op.Connect(inputs, []*ir.Operand{dst})
	e.out = append(e.out, op)
	return dst, 0, nil
}

func fold(code int, a, b float32) float32 {
	switch code {
	case BinaryAdd:
		return a + b
	case BinarySub:
		return a - b
	case BinaryMul:
		return a * b
	default:
		return a / b
	}
}

func resultShape(inputs []*ir.Operand) ([]int, error) {
	if len(inputs) == 1 {
		return tensor.Shape(inputs[0].Shape).Clone(), nil
	}
	s, _, err := tensor.BroadcastShapes(inputs[0].Shape, inputs[1].Shape)
	if err != nil {
		return nil, errors.Wrapf(err, "infer shape of %s and %s", inputs[0].Name, inputs[1].Name)
	}
	return s, nil
}

// parseExpr parses expressions of the form fn(arg,arg) where each arg is
// @N, a number, or another call.
func parseExpr(text string) (*exprNode, error) {
	p := &exprParser{s: strings.ReplaceAll(text, " ", "")}
	n, err := p.term()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.s) {
		return nil, errors.Errorf("trailing input at %d in %q", p.pos, text)
	}
	return n, nil
}

type exprParser struct {
	s   string
	pos int
}

func (p *exprParser) term() (*exprNode, error) {
	if p.pos >= len(p.s) {
		return nil, errors.Errorf("unexpected end of %q", p.s)
	}

	if p.s[p.pos] == '@' {
		p.pos++
		start := p.pos
		for p.pos < len(p.s) && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
			p.pos++
		}
		idx, err := strconv.Atoi(p.s[start:p.pos])
		if err != nil {
			return nil, errors.Errorf("bad operand reference at %d in %q", start, p.s)
		}
		return &exprNode{operand: idx}, nil
	}

	start := p.pos
	for p.pos < len(p.s) && !strings.ContainsRune("(),", rune(p.s[p.pos])) {
		p.pos++
	}
	tok := p.s[start:p.pos]
	if tok == "" {
		return nil, errors.Errorf("empty term at %d in %q", start, p.s)
	}

	if p.pos >= len(p.s) || p.s[p.pos] != '(' {
		f, ok := parseFloat(tok)
		if !ok {
			return nil, errors.Errorf("bad constant %q in %q", tok, p.s)
		}
		return &exprNode{operand: -1, constant: f, isConst: true}, nil
	}

	p.pos++ // '('
	n := &exprNode{operand: -1, fn: tok}
	for {
		arg, err := p.term()
		if err != nil {
			return nil, err
		}
		n.args = append(n.args, arg)
		if p.pos >= len(p.s) {
			return nil, errors.Errorf("unterminated call %s in %q", tok, p.s)
		}
		c := p.s[p.pos]
		p.pos++
		if c == ')' {
			return n, nil
		}
		if c != ',' {
			return nil, errors.Errorf("unexpected %q at %d in %q", c, p.pos-1, p.s)
		}
	}
}
