// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the module tree, layers, value-and-grad kernels and
// quantization.
//
// # Overview
//
// This package contains:
//   - Module tree: Base, Register, parameters, buffers and children addressed by dotted path
//   - Layers: Linear, Embedding, Sequential, Dropout
//   - Activations: Identity, ReLU, LeakyReLU, Sigmoid, Tanh
//   - Loss functions: MSELoss, L1Loss
//   - Gradients: ValueAndGrad, BuildValueAndGrad, BuildValueAndGradList
//   - Quantization: Quantize, QuantizeWith, QuantizedLinear, QuantizedEmbedding
//
// # Defining Modules
//
// Custom modules embed Base, call Init with themselves and register their
// parameters and children:
//
//	type MLP struct {
//	    nn.Base
//	    fc1, fc2 *nn.Linear
//	}
//
//	func NewMLP(ctx *tensor.Context) *MLP {
//	    m := &MLP{}
//	    m.Init(m)
//	    m.fc1 = nn.Register(&m.Base, "fc1", nn.NewLinear(ctx, 784, 128, true))
//	    m.fc2 = nn.Register(&m.Base, "fc2", nn.NewLinear(ctx, 128, 10, true))
//	    return m
//	}
//
// Parameters are then reachable as "fc1.weight", "fc2.bias" and so on.
//
// # Training
//
//	step := nn.BuildValueAndGrad(model, func(m nn.Module, x, y *tensor.Tensor) (*tensor.Tensor, error) {
//	    pred := m.(*MLP).Forward(x)
//	    defer pred.Free()
//	    return nn.MSELoss(pred, y, nn.ReductionMean)
//	})
//	defer step.Close()
//
//	loss, grads, err := step.Apply(model, x, y)
//
// The kernel is compiled on the first call and reused while the set of
// trainable parameters stays the same. Freezing or unfreezing a parameter
// compiles a new one.
//
// # Quantization
//
// Quantize replaces every quantizable leaf in place:
//
//	err := nn.Quantize(model, nn.WithGroupSize(64), nn.WithBits(4))
//
// Layers whose shape does not fit the requested group size are kept in full
// precision.
//
// # Ownership
//
// Tensors returned by Forward, losses and Apply belong to the caller and must
// be released with Free. Modules own their parameters and buffers; Close
// releases them.
package nn
