// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/kiln/internal/native"
	"github.com/born-ml/kiln/internal/tensor"
)

// Runtime is the native array engine tensors are allocated in.
type Runtime = native.Runtime

// Tensor is a handle to a native array.
type Tensor = tensor.Tensor

// Context creates tensors in a runtime from a seeded random source.
type Context = tensor.Context

// Shape represents tensor dimensions.
type Shape = tensor.Shape

// DataType is the element type of a tensor.
type DataType = tensor.DataType

// Element types.
const (
	Float32 = tensor.Float32
	Int32   = tensor.Int32
	Uint32  = tensor.Uint32
)

// NewContext creates a context for rt. Random creation functions are
// deterministic for a given seed.
//
// Example:
//
//	ctx := tensor.NewContext(cpu.New(), 42)
//	w := ctx.Normal(tensor.Shape{128, 784}, 0, 0.02)
func NewContext(rt Runtime, seed uint64) *Context {
	return tensor.NewContext(rt, seed)
}

// BroadcastShapes returns the shape two operands broadcast to.
func BroadcastShapes(a, b Shape) (Shape, error) {
	return tensor.BroadcastShapes(a, b)
}

// Dequantize expands packed weights back to float32.
func Dequantize(packed, scales, biases *Tensor, groupSize, bits int, mode string) *Tensor {
	return tensor.Dequantize(packed, scales, biases, groupSize, bits, mode)
}

// QuantizedMatMul multiplies x by a packed matrix, transposed if transpose is
// set.
func QuantizedMatMul(x, packed, scales, biases *Tensor, transpose bool, groupSize, bits int, mode string) *Tensor {
	return tensor.QuantizedMatMul(x, packed, scales, biases, transpose, groupSize, bits, mode)
}
