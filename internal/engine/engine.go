// Package engine builds an executable graph from a model description and
// runs it.
//
// Loading runs a fixed sequence of phases: create the execution context,
// read the graph, create tensor nodes, create and validate operators,
// compile the schedule and allocate tensor memory. The first failing phase
// aborts the load; the engine must then be released before reuse.
package engine

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sys/cpu"
	"k8s.io/klog/v2"

	"github.com/simpleinfer/simpleinfer/internal/ir"
	"github.com/simpleinfer/simpleinfer/internal/layer"
	"github.com/simpleinfer/simpleinfer/internal/parallel"
	"github.com/simpleinfer/simpleinfer/internal/pipeline"
	"github.com/simpleinfer/simpleinfer/internal/pnnx"
	"github.com/simpleinfer/simpleinfer/internal/status"
	"github.com/simpleinfer/simpleinfer/internal/tensor"
)

// Sentinel operator types marking graph inputs and outputs.
const (
	InputType  = "pnnx.Input"
	OutputType = "pnnx.Output"
)

// Engine is one loaded model. It is not safe for concurrent use; callers
// serialize Input, Forward and Extract.
type Engine struct {
	opts Options

	ctx   *layer.Context
	graph *ir.Graph

	nodes   []*layer.TensorNode
	byName  map[string]*layer.TensorNode
	inputs  map[string]*layer.TensorNode
	outputs map[string]*layer.TensorNode

	layers    []layer.Layer
	destroy   []layer.Destroyer
	layerOf   map[*ir.Operator]int
	plan      *pipeline.Plan
	allocated bool
}

// New creates an engine with no model loaded.
func New(opts Options) *Engine {
	if opts.Loader == nil {
		opts.Loader = pnnx.NewLoader()
	}
	if opts.Registry == nil {
		opts.Registry = layer.Default()
	}
	if opts.PipelineWorkers < 1 {
		opts.PipelineWorkers = 1
	}
	return &Engine{opts: opts}
}

// LoadModel releases any previous model and loads the one described by
// paramPath and binPath.
func (e *Engine) LoadModel(paramPath, binPath string) error {
	if err := e.Release(); err != nil {
		return err
	}
	e.createContext()

	g, err := e.opts.Loader.Load(paramPath, binPath)
	if err != nil {
		klog.Errorf("load model %s: %v", paramPath, err)
		return status.Wrap(err, "load model %s", paramPath)
	}
	return e.build(g)
}

// LoadGraph releases any previous model and builds g. The engine keeps a
// reference to g until Release.
func (e *Engine) LoadGraph(g *ir.Graph) error {
	if err := e.Release(); err != nil {
		return err
	}
	if g == nil {
		return status.Errorf(status.Empty, "load graph: nil graph")
	}
	e.createContext()
	return e.build(g)
}

func (e *Engine) build(g *ir.Graph) error {
	if err := e.createGraph(g); err != nil {
		return err
	}
	if err := e.createTensorNodes(); err != nil {
		return err
	}
	if err := e.createLayers(); err != nil {
		return err
	}
	if err := e.createPipeline(); err != nil {
		return err
	}
	return e.allocateTensorMemory()
}

func (e *Engine) createContext() {
	cfg := parallel.Config{
		Enabled:      e.opts.ComputeWorkers > 1,
		NumWorkers:   e.opts.ComputeWorkers,
		MinChunkSize: e.opts.MinChunkSize,
	}
	e.ctx = layer.NewContext(cfg)

	if klog.V(1).Enabled() {
		switch runtime.GOARCH {
		case "amd64", "386":
			klog.Infof("engine: %d compute workers, avx2=%t fma=%t avx512f=%t",
				e.ctx.Pool.Workers(), cpu.X86.HasAVX2, cpu.X86.HasFMA, cpu.X86.HasAVX512F)
		case "arm64":
			klog.Infof("engine: %d compute workers, asimd=%t fphp=%t",
				e.ctx.Pool.Workers(), cpu.ARM64.HasASIMD, cpu.ARM64.HasFPHP)
		default:
			klog.Infof("engine: %d compute workers", e.ctx.Pool.Workers())
		}
	}
}

func (e *Engine) createGraph(g *ir.Graph) error {
	if err := pnnx.ExpandExpressions(g); err != nil {
		klog.Errorf("expand expressions: %v", err)
		return status.Wrap(err, "create graph")
	}
	e.graph = g
	return nil
}

// createTensorNodes makes one node per operand. An operand produced by an
// operator without inputs is a graph input; one consumed by an operator
// without outputs is a graph output.
func (e *Engine) createTensorNodes() error {
	e.byName = make(map[string]*layer.TensorNode, len(e.graph.Operands))
	e.inputs = make(map[string]*layer.TensorNode)
	e.outputs = make(map[string]*layer.TensorNode)

	for i, r := range e.graph.Operands {
		if _, dup := e.byName[r.Name]; dup {
			klog.Errorf("duplicate operand %s", r.Name)
			return status.Errorf(status.Fail, "create tensor nodes: duplicate operand %s", r.Name)
		}
		n := layer.NewTensorNode(i, r)
		e.nodes = append(e.nodes, n)
		e.byName[r.Name] = n

		if r.Producer != nil && len(r.Producer.Inputs) == 0 {
			e.inputs[r.Name] = n
		}
		for _, c := range r.Consumers {
			if len(c.Outputs) == 0 {
				e.outputs[r.Name] = n
				break
			}
		}
		klog.V(1).Infof("tensor node %d %s %s%v", i, r.Name, n.DType(), n.Shape())
	}
	return nil
}

func isSentinel(op *ir.Operator) bool {
	return op.Type == InputType || op.Type == OutputType
}

func (e *Engine) createLayers() error {
	e.layerOf = make(map[*ir.Operator]int)
	names := make(map[string]bool)

	for _, op := range e.graph.Operators {
		if isSentinel(op) {
			continue
		}
		entry, ok := e.opts.Registry.Lookup(op.Type)
		if !ok {
			klog.Errorf("no implementation for %s (%s)", op.Type, op.Name)
			return status.Errorf(status.Empty, "create layers: unsupported operator type %s (%s)", op.Type, op.Name)
		}
		if names[op.Name] {
			klog.Errorf("duplicate layer name %s", op.Name)
			return status.Errorf(status.Fail, "create layers: duplicate layer name %s", op.Name)
		}
		names[op.Name] = true

		l := entry.New()
		e.layerOf[op] = len(e.layers)
		e.layers = append(e.layers, l)
		e.destroy = append(e.destroy, entry.Destroy)

		if err := l.Init(op); err != nil {
			return status.Wrap(err, "create layers")
		}
		l.SetContext(e.ctx)

		ins, err := e.lookupNodes(op, op.Inputs)
		if err != nil {
			return err
		}
		outs, err := e.lookupNodes(op, op.Outputs)
		if err != nil {
			return err
		}
		l.SetInputNodes(ins)
		l.SetOutputNodes(outs)

		if err := l.Validate(); err != nil {
			return status.Wrap(err, "create layers")
		}
		klog.V(1).Infof("layer %s (%s): %d inputs, %d outputs", op.Name, op.Type, len(ins), len(outs))
	}
	return nil
}

func (e *Engine) lookupNodes(op *ir.Operator, operands []*ir.Operand) ([]*layer.TensorNode, error) {
	nodes := make([]*layer.TensorNode, len(operands))
	for i, r := range operands {
		n, ok := e.byName[r.Name]
		if !ok {
			klog.Errorf("%s: no tensor node %s", op.Name, r.Name)
			return nil, status.Errorf(status.Empty, "create layers: %s: no tensor node %s", op.Name, r.Name)
		}
		nodes[i] = n
	}
	return nodes, nil
}

// createPipeline derives one edge per producer/consumer pair of layers.
func (e *Engine) createPipeline() error {
	var edges []pipeline.Edge
	for to, l := range e.layers {
		for _, r := range l.Op().Inputs {
			if r.Producer == nil {
				continue
			}
			if from, ok := e.layerOf[r.Producer]; ok {
				edges = append(edges, pipeline.Edge{From: from, To: to})
			}
		}
	}

	plan, err := pipeline.Build(len(e.layers), edges)
	if err != nil {
		klog.Errorf("create pipeline: %v", err)
		return status.Wrap(err, "create pipeline")
	}
	e.plan = plan
	klog.V(1).Infof("pipeline: %d layers in %d levels, %d workers", plan.Len(), len(plan.Levels()), e.opts.PipelineWorkers)
	return nil
}

// allocateTensorMemory gives every node except the graph inputs its own
// storage. Inputs alias caller memory through Input.
func (e *Engine) allocateTensorMemory() error {
	for _, n := range e.nodes {
		if _, isInput := e.inputs[n.Name()]; isInput {
			continue
		}
		if err := n.Allocate(); err != nil {
			klog.Errorf("allocate %s: %v", n.Name(), err)
			return status.Wrap(err, "allocate tensor memory")
		}
	}
	e.allocated = true
	return nil
}

// Release tears down the loaded model in reverse phase order. It is safe to
// call on an engine that never loaded a model, or more than once.
func (e *Engine) Release() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	for _, n := range e.nodes {
		keep(n.Release())
	}
	e.allocated = false
	e.plan = nil

	for i := len(e.layers) - 1; i >= 0; i-- {
		keep(e.layers[i].Deinit())
		if e.destroy[i] != nil {
			e.destroy[i](e.layers[i])
		}
	}
	e.layers, e.destroy, e.layerOf = nil, nil, nil

	e.nodes, e.byName, e.inputs, e.outputs = nil, nil, nil, nil
	e.graph = nil

	e.ctx.Close()
	e.ctx = nil
	return first
}

// InputNames returns the names of the graph inputs.
func (e *Engine) InputNames() []string {
	return sortedKeys(e.inputs)
}

// OutputNames returns the names of the graph outputs.
func (e *Engine) OutputNames() []string {
	return sortedKeys(e.outputs)
}

func sortedKeys(m map[string]*layer.TensorNode) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InputShape returns the declared channel-last shape of input name.
func (e *Engine) InputShape(name string) (tensor.Shape, error) {
	n, ok := e.inputs[name]
	if !ok {
		return nil, status.Errorf(status.Empty, "input shape: unknown input %s", name)
	}
	return n.Shape(), nil
}

// Input binds v as graph input name without copying. v must stay valid
// until the next Forward returns.
func (e *Engine) Input(name string, v tensor.View) error {
	n, ok := e.inputs[name]
	if !ok {
		klog.Errorf("unknown input %s", name)
		return status.Errorf(status.Empty, "input: unknown input %s", name)
	}
	return n.Bind(v)
}

// Forward runs one pass over the whole graph. It returns after every layer
// has run or the first layer has failed.
func (e *Engine) Forward() error {
	if e.plan == nil || !e.allocated {
		return status.Errorf(status.Empty, "forward: no model loaded")
	}
	for name, n := range e.inputs {
		if !n.View().Bound() {
			klog.Errorf("input %s not set", name)
			return status.Errorf(status.Empty, "forward: input %s not set", name)
		}
	}

	err := e.plan.Run(context.Background(), e.opts.PipelineWorkers, func(i int) error {
		return layer.Run(e.layers[i])
	})
	if err != nil {
		klog.Errorf("forward: %v", err)
		return status.Errorf(status.Fail, "forward: %v", err)
	}
	return nil
}

// Extract returns a view of output name. The view aliases engine memory
// and is overwritten by the next Forward.
func (e *Engine) Extract(name string) (tensor.View, error) {
	n, ok := e.outputs[name]
	if !ok {
		klog.Errorf("unknown output %s", name)
		return tensor.View{}, status.Errorf(status.Empty, "extract: unknown output %s", name)
	}
	return n.View(), nil
}
