// Copyright 2025 SimpleInfer Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package infer

import (
	"sync"

	"github.com/simpleinfer/simpleinfer/internal/engine"
	"github.com/simpleinfer/simpleinfer/internal/ir"
	"github.com/simpleinfer/simpleinfer/internal/layer"
	"github.com/simpleinfer/simpleinfer/internal/status"
	"github.com/simpleinfer/simpleinfer/internal/tensor"
)

// Engine is one loaded model.
type Engine = engine.Engine

// Options configures an Engine.
type Options = engine.Options

// DefaultOptions returns the default engine configuration.
//
// Default configuration:
//   - ComputeWorkers: number of CPUs
//   - PipelineWorkers: 2
func DefaultOptions() Options {
	return engine.DefaultOptions()
}

// New creates an engine with no model loaded.
func New(opts Options) *Engine {
	return engine.New(opts)
}

var initOnce sync.Once

// Initialize registers the built-in operators with the default registry.
// It is safe to call more than once.
func Initialize() {
	initOnce.Do(func() {
		layer.RegisterBuiltins(layer.Default())
	})
}

// Tensors

// View is a borrowed view of tensor memory.
type View = tensor.View

// Shape represents the dimensions of a tensor.
type Shape = tensor.Shape

// DataType is a tensor element type.
type DataType = tensor.DataType

// FromFloat32 wraps values as a View without copying.
func FromFloat32(shape Shape, values []float32) (View, error) {
	return tensor.FromFloat32(shape, values)
}

// Graphs

// Graph is an in-memory model description, loadable with Engine.LoadGraph.
type Graph = ir.Graph

// Operator is one node of a Graph.
type Operator = ir.Operator

// Operand is a tensor edge of a Graph.
type Operand = ir.Operand

// Parameter is a scalar or array Operator parameter.
type Parameter = ir.Parameter

// Attribute is a binary Operator attribute, such as a weight tensor.
type Attribute = ir.Attribute

// TypeFloat32 is the element type code of a float32 Operand or Attribute.
const TypeFloat32 = ir.TypeFloat32

// Parameter kinds.
const (
	ParamBool        = ir.ParamBool
	ParamInt         = ir.ParamInt
	ParamFloat       = ir.ParamFloat
	ParamString      = ir.ParamString
	ParamIntArray    = ir.ParamIntArray
	ParamFloatArray  = ir.ParamFloatArray
	ParamStringArray = ir.ParamStringArray
)

// Loader reads model files into a Graph.
type Loader = ir.Loader

// Operators

// Layer is the contract of an operator implementation.
type Layer = layer.Layer

// Entry is a registered operator implementation.
type Entry = layer.Entry

// Register adds an operator implementation to the default registry.
func Register(typ string, e Entry) {
	layer.Default().Register(typ, e)
}

// SupportedOps returns the operator types of the default registry.
func SupportedOps() []string {
	return layer.Default().SupportedOps()
}

// Errors

// Code classifies an error.
type Code = status.Code

// Error codes.
const (
	Success      = status.Success
	Fail         = status.Fail
	Empty        = status.Empty
	ErrorShape   = status.ErrorShape
	ErrorContext = status.ErrorContext
	Unsupported  = status.Unsupported
)

// CodeOf returns the code carried by err.
func CodeOf(err error) Code {
	return status.CodeOf(err)
}
