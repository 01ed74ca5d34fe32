package layer

import (
	"github.com/simpleinfer/simpleinfer/internal/ir"
	"github.com/simpleinfer/simpleinfer/internal/status"
)

// float32Attr returns attribute name of op decoded to float32, checking its
// rank when rank >= 0.
func (b *Base) float32Attr(op *ir.Operator, name string, rank int) ([]float32, []int, error) {
	a, ok := op.Attrs[name]
	if !ok {
		return nil, nil, b.errorf(status.Fail, "missing attribute %s", name)
	}
	if rank >= 0 && len(a.Shape) != rank {
		return nil, nil, b.errorf(status.Fail, "attribute %s has rank %d, need %d", name, len(a.Shape), rank)
	}
	values, ok := a.Float32()
	if !ok {
		return nil, nil, b.errorf(status.Unsupported, "attribute %s has unsupported type %s", name, a.DataType())
	}
	if len(values) != a.NumElements() {
		return nil, nil, b.errorf(status.Fail, "attribute %s holds %d values, shape %v", name, len(values), a.Shape)
	}
	return values, a.Shape, nil
}

// intPair reads a two-element integer array parameter.
func (b *Base) intPair(op *ir.Operator, name string) (int, int, error) {
	if !op.CheckParam(name, ir.ParamIntArray) || len(op.Params[name].AI) != 2 {
		return 0, 0, b.errorf(status.Fail, "missing or malformed parameter %s", name)
	}
	v := op.Params[name].AI
	return v[0], v[1], nil
}

// intParam reads a required integer parameter.
func (b *Base) intParam(op *ir.Operator, name string) (int, error) {
	if !op.CheckParam(name, ir.ParamInt) {
		return 0, b.errorf(status.Fail, "missing or malformed parameter %s", name)
	}
	return op.Params[name].I, nil
}

// boolParam reads a required boolean parameter.
func (b *Base) boolParam(op *ir.Operator, name string) (bool, error) {
	if !op.CheckParam(name, ir.ParamBool) {
		return false, b.errorf(status.Fail, "missing or malformed parameter %s", name)
	}
	return op.Params[name].B, nil
}
