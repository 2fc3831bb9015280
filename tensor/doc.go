// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides handles to arrays owned by a native runtime.
//
// # Overview
//
// A Tensor wraps one native array. Every operation returns a new tensor that
// the caller owns and must release with Free; inputs are never consumed.
// Tensors are created through a Context, which binds a runtime and a seeded
// random source.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/kiln/backend/cpu"
//	    "github.com/born-ml/kiln/tensor"
//	)
//
//	func main() {
//	    ctx := tensor.NewContext(cpu.New(), 42)
//
//	    x, err := ctx.FromFloat32([]float32{1, 2, 3, 4}, tensor.Shape{2, 2})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer x.Free()
//
//	    y := x.MatMul(x)
//	    defer y.Free()
//	    fmt.Println(y.Float32s()) // [7 10 15 22]
//	}
//
// # Broadcasting
//
// Binary operations broadcast their operands with NumPy rules:
//
//	a := ctx.Zeros(tensor.Shape{3, 1})
//	b := ctx.Ones(tensor.Shape{1, 4})
//	c := a.Add(b) // shape [3, 4]
//
// # Quantization
//
// Quantize packs a float32 matrix into groups of groupSize values sharing a
// scale and bias. Dequantize and QuantizedMatMul consume the packed form.
package tensor
