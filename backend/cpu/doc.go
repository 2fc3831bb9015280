// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go reference runtime.
//
// # Overview
//
// The runtime implements the native array interface with:
//   - Pure Go implementation (no CGO)
//   - float32, int32 and uint32 arrays
//   - NumPy-compatible broadcasting
//   - Reverse-mode gradients of compiled closures
//   - Affine group quantization
//
// # Leak Checking
//
// LiveArrays, LiveVectors and LiveClosures report the handles that have not
// been released, which makes ownership bugs visible in tests:
//
//	rt := cpu.New()
//	ctx := tensor.NewContext(rt, 1)
//	// ...
//	if n := rt.LiveArrays(); n != 0 {
//	    t.Fatalf("%d arrays leaked", n)
//	}
package cpu
