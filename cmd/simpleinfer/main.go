// Package main provides the simpleinfer CLI: it loads a pnnx model, feeds a
// constant tensor to every input and reports output shapes and timings.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"k8s.io/klog/v2"

	"github.com/simpleinfer/simpleinfer/infer"
)

const version = "v0.1.0-dev"

func main() {
	klog.InitFlags(nil)
	param := flag.String("param", "", "path to the pnnx param file")
	bin := flag.String("bin", "", "path to the pnnx weight archive")
	runs := flag.Int("runs", 1, "number of forward passes")
	workers := flag.Int("workers", 0, "compute workers (0: number of CPUs)")
	pipeline := flag.Int("pipeline", 2, "graph nodes run concurrently")
	fill := flag.Float64("fill", 0.5, "value of every input element")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()
	defer klog.Flush()

	if *showVersion {
		fmt.Printf("simpleinfer %s\n", version)
		return
	}
	if *param == "" || *bin == "" {
		fmt.Fprintln(os.Stderr, "usage: simpleinfer -param model.param -bin model.bin [-runs N]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(*param, *bin, *runs, *workers, *pipeline, float32(*fill)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v (%s)\n", err, infer.CodeOf(err))
		os.Exit(1)
	}
}

func run(param, bin string, runs, workers, pipeline int, fill float32) error {
	infer.Initialize()

	opts := infer.DefaultOptions()
	if workers > 0 {
		opts.ComputeWorkers = workers
	}
	opts.PipelineWorkers = pipeline

	e := infer.New(opts)
	defer func() {
		if err := e.Release(); err != nil {
			klog.Errorf("release: %v", err)
		}
	}()

	start := time.Now()
	if err := e.LoadModel(param, bin); err != nil {
		return err
	}
	fmt.Printf("loaded %s in %v\n", param, time.Since(start))

	for _, name := range e.InputNames() {
		shape, err := e.InputShape(name)
		if err != nil {
			return err
		}
		data := make([]float32, shape.NumElements())
		for i := range data {
			data[i] = fill
		}
		in, err := infer.FromFloat32(shape, data)
		if err != nil {
			return err
		}
		if err := e.Input(name, in); err != nil {
			return err
		}
		fmt.Printf("input  %-12s %v\n", name, shape)
	}

	var total time.Duration
	for i := 0; i < runs; i++ {
		start := time.Now()
		if err := e.Forward(); err != nil {
			return err
		}
		elapsed := time.Since(start)
		total += elapsed
		fmt.Printf("run %d: %v\n", i, elapsed)
	}
	if runs > 0 {
		fmt.Printf("average: %v\n", total/time.Duration(runs))
	}

	for _, name := range e.OutputNames() {
		out, err := e.Extract(name)
		if err != nil {
			return err
		}
		fmt.Printf("output %-12s %v\n", name, out.Shape())
	}
	return nil
}
