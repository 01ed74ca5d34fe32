// Package pnnx reads models exported as a text graph (".param") plus a zip
// archive of weights (".bin") into the ir data model.
//
// The text graph starts with the magic number 7767517, followed by a line
// holding the operator and operand counts. Every further line describes one
// operator:
//
//	type name nIn nOut in0 ... out0 ... key=value ...
//
// Keys prefixed with '@' declare weight attributes whose bytes live in the
// archive entry "name.key". Keys prefixed with '#' declare the shape and type
// of an operand. Any other key is an operator parameter.
package pnnx
