package layer

import (
	"sort"
	"sync"
)

// Creator constructs a fresh operator instance.
type Creator func() Layer

// Destroyer releases an operator instance created by the matching Creator.
type Destroyer func(Layer)

// Entry is the registered construct/destroy pair for one IR operator type.
type Entry struct {
	New     Creator
	Destroy Destroyer // optional
}

// Registry maps IR operator type names to operator implementations.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds or replaces the implementation of an operator type.
func (r *Registry) Register(typ string, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[typ] = e
}

// Lookup returns the implementation of an operator type.
func (r *Registry) Lookup(typ string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[typ]
	return e, ok
}

// SupportedOps returns the registered operator types in sorted order.
func (r *Registry) SupportedOps() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops := make([]string, 0, len(r.entries))
	for op := range r.entries {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry. It starts empty; call
// RegisterBuiltins on it once during setup.
func Default() *Registry {
	return defaultRegistry
}

// RegisterBuiltins registers every built-in operator into r.
func RegisterBuiltins(r *Registry) {
	builtins := map[string]Creator{
		"nn.AdaptiveAvgPool2d": func() Layer { return NewAdaptiveAvgPool2d() },
		"nn.BatchNorm2d":       func() Layer { return NewBatchNorm2d() },
		"BinaryOp":             func() Layer { return NewBinaryOp() },
		"torch.cat":            func() Layer { return NewCat() },
		"nn.Conv2d":            func() Layer { return NewConv2d() },
		"torch.flatten":        func() Layer { return NewFlatten() },
		"nn.Hardsigmoid":       func() Layer { return NewHardSigmoid() },
		"nn.Hardswish":         func() Layer { return NewHardSwish() },
		"nn.Linear":            func() Layer { return NewLinear() },
		"nn.MaxPool2d":         func() Layer { return NewMaxPool2d() },
		"nn.ReLU":              func() Layer { return NewReLU() },
		"nn.Sigmoid":           func() Layer { return NewSigmoid() },
		"nn.SiLU":              func() Layer { return NewSiLU() },
		"nn.Upsample":          func() Layer { return NewUpsample() },
		"models.yolo.Detect":   func() Layer { return NewYoloDetect() },
	}
	for typ, c := range builtins {
		r.Register(typ, Entry{New: c})
	}
}
