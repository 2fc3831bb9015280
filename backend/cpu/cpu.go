// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	internalcpu "github.com/born-ml/kiln/internal/native/cpu"
	"github.com/born-ml/kiln/tensor"
)

// Runtime represents the CPU runtime implementation.
type Runtime = internalcpu.Runtime

// Compile-time check that Runtime implements tensor.Runtime.
var _ tensor.Runtime = (*Runtime)(nil)

// New creates a new CPU runtime.
//
// Example:
//
//	import (
//	    "github.com/born-ml/kiln/backend/cpu"
//	    "github.com/born-ml/kiln/tensor"
//	)
//
//	func main() {
//	    ctx := tensor.NewContext(cpu.New(), 42)
//	    x := ctx.Zeros(tensor.Shape{2, 3})
//	    defer x.Free()
//	}
func New() *Runtime {
	return internalcpu.New()
}
