package engine

import (
	"runtime"

	"github.com/simpleinfer/simpleinfer/internal/ir"
	"github.com/simpleinfer/simpleinfer/internal/layer"
)

// Options configures an Engine.
type Options struct {
	// ComputeWorkers is the width of the compute pool operators split their
	// loops over. Values below 2 run every loop on the calling goroutine.
	ComputeWorkers int

	// PipelineWorkers bounds how many graph nodes run at once.
	PipelineWorkers int

	// MinChunkSize is the smallest loop range handed to one worker.
	MinChunkSize int

	// Loader reads model files. Nil selects the pnnx loader.
	Loader ir.Loader

	// Registry resolves operator types. Nil selects layer.Default().
	Registry *layer.Registry
}

// DefaultOptions returns the default engine configuration:
//   - ComputeWorkers: number of CPUs
//   - PipelineWorkers: 2
//   - MinChunkSize: 64
func DefaultOptions() Options {
	return Options{
		ComputeWorkers:  runtime.NumCPU(),
		PipelineWorkers: 2,
		MinChunkSize:    64,
	}
}
