// Copyright 2025 SimpleInfer Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package infer runs pnnx models on the CPU.
//
// # Overview
//
// A model is a pnnx param file plus its zip weight archive. Loading builds a
// static graph of operators over preallocated tensors; Forward then runs
// the graph with independent branches scheduled concurrently and each
// operator splitting its work over a shared compute pool.
//
// # Basic Usage
//
//	infer.Initialize()
//
//	e := infer.New(infer.DefaultOptions())
//	defer e.Release()
//
//	if err := e.LoadModel("model.pnnx.param", "model.pnnx.bin"); err != nil {
//	    log.Fatal(err)
//	}
//
//	// tensors are channel-last: (N, H, W, C)
//	in, _ := infer.FromFloat32(infer.Shape{1, 224, 224, 3}, pixels)
//	if err := e.Input(e.InputNames()[0], in); err != nil {
//	    log.Fatal(err)
//	}
//	if err := e.Forward(); err != nil {
//	    log.Fatal(err)
//	}
//	out, _ := e.Extract(e.OutputNames()[0])
//
// # Errors
//
// Every error carries a Code; use CodeOf to classify it:
//   - Empty: a missing entity (unknown operator type, input or output name)
//   - ErrorShape: operator arity or tensor shape mismatch
//   - Unsupported: a recognized but unimplemented configuration
//   - ErrorContext: an operator ran without a compute pool
//   - Fail: everything else
//
// # Supported Operators
//
// Use [SupportedOps] after [Initialize] for the full list. Custom operators
// are added with [Register].
package infer
