package ir

// HasParams reports whether op carries every named parameter.
func (op *Operator) HasParams(names ...string) bool {
	for _, n := range names {
		if _, ok := op.Params[n]; !ok {
			return false
		}
	}
	return true
}

// HasAttrs reports whether op carries every named attribute.
func (op *Operator) HasAttrs(names ...string) bool {
	for _, n := range names {
		if _, ok := op.Attrs[n]; !ok {
			return false
		}
	}
	return true
}

// ParamInt returns an integer parameter or defaultVal.
func (op *Operator) ParamInt(name string, defaultVal int) int {
	if p, ok := op.Params[name]; ok && p.Type == ParamInt {
		return p.I
	}
	return defaultVal
}

// ParamFloat returns a float parameter or defaultVal. Integer parameters are
// converted.
func (op *Operator) ParamFloat(name string, defaultVal float32) float32 {
	p, ok := op.Params[name]
	if !ok {
		return defaultVal
	}
	switch p.Type {
	case ParamFloat:
		return p.F
	case ParamInt:
		return float32(p.I)
	default:
		return defaultVal
	}
}

// ParamBool returns a boolean parameter or defaultVal.
func (op *Operator) ParamBool(name string, defaultVal bool) bool {
	if p, ok := op.Params[name]; ok && p.Type == ParamBool {
		return p.B
	}
	return defaultVal
}

// ParamString returns a string parameter or defaultVal.
func (op *Operator) ParamString(name, defaultVal string) string {
	if p, ok := op.Params[name]; ok && p.Type == ParamString {
		return p.S
	}
	return defaultVal
}

// ParamInts returns an integer array parameter. A scalar integer parameter is
// returned as a one-element slice; anything else returns nil.
func (op *Operator) ParamInts(name string) []int {
	p, ok := op.Params[name]
	if !ok {
		return nil
	}
	switch p.Type {
	case ParamIntArray:
		return p.AI
	case ParamInt:
		return []int{p.I}
	default:
		return nil
	}
}

// ParamFloats returns a float array parameter. Integer arrays are converted.
func (op *Operator) ParamFloats(name string) []float32 {
	p, ok := op.Params[name]
	if !ok {
		return nil
	}
	switch p.Type {
	case ParamFloatArray:
		return p.AF
	case ParamFloat:
		return []float32{p.F}
	case ParamIntArray:
		out := make([]float32, len(p.AI))
		for i, v := range p.AI {
			out[i] = float32(v)
		}
		return out
	default:
		return nil
	}
}

// CheckParam reports whether op has the named parameter with exactly the
// given kind.
func (op *Operator) CheckParam(name string, kind int) bool {
	p, ok := op.Params[name]
	return ok && p.Type == kind
}

// CheckAttr reports whether op has the named attribute with exactly the given
// element type.
func (op *Operator) CheckAttr(name string, typ int) bool {
	a, ok := op.Attrs[name]
	return ok && a.Type == typ
}
