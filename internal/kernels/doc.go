// Package kernels contains the float32 compute kernels behind convolution
// and linear operators: a register-blocked GEMM over a packed right-hand
// side, im2col lowering, the Winograd F(2x2,3x3) transforms and bias add.
//
// All buffers are dense row-major float32 slices; images are channel-last
// (H, W, C). Kernels never allocate on the hot path and never spawn
// goroutines; callers split work by rows or tiles.
package kernels
