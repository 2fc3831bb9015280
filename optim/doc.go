// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides optimization algorithms for training neural networks.
//
// # Overview
//
// This package contains:
//   - SGD: Stochastic Gradient Descent with optional momentum
//   - Adam: Adaptive Moment Estimation with bias correction
//
// Optimizers consume the gradients returned by a value-and-grad function and
// write new parameter values back into the model by path.
//
// # Basic Usage
//
//	optimizer := optim.NewAdam(optim.AdamConfig{LR: 0.001})
//	step := nn.BuildValueAndGrad(model, lossFn)
//	defer step.Close()
//
//	for range steps {
//	    loss, grads, err := step.Apply(model, x, y)
//	    if err != nil {
//	        return err
//	    }
//	    err = optimizer.Update(model, grads)
//	    loss.Free()
//	    grads.Free()
//	    if err != nil {
//	        return err
//	    }
//	}
//
// # Optimizer State
//
// Momentum and moment estimates are keyed by parameter path, so they survive
// freezing, unfreezing and structural replacement of unrelated modules.
package optim
