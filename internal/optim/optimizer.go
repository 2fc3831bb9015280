// Package optim implements optimization algorithms for training neural networks.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation
//
// Optimizers work on gradients keyed by parameter path, as returned by the
// value-and-grad functions of package nn, and write new values back with
// Module.UpdateParameters. Optimizer state is keyed by path as well, so it
// survives structural replacement of the modules owning the parameters.
//
// Example usage:
//
//	optimizer := optim.NewAdam(optim.AdamConfig{LR: 0.001})
//	step := nn.BuildValueAndGrad(model, lossFn)
//	defer step.Close()
//
//	for epoch := range epochs {
//	    loss, grads, err := step.Apply(model, x, y)
//	    if err != nil {
//	        return err
//	    }
//	    err = optimizer.Update(model, grads)
//	    loss.Free()
//	    grads.Free()
//	}
package optim

import (
	"github.com/pkg/errors"

	"github.com/born-ml/kiln/internal/nn"
)

// Optimizer is the base interface for all optimization algorithms.
//
// Optimizers update model parameters based on computed gradients to
// minimize the loss function during training.
type Optimizer interface {
	// Update applies one step for every path in grads.
	//
	// New parameter tensors are created and swapped into the model; the
	// previous values are released. Paths the model does not have are
	// skipped. grads is not consumed.
	Update(model nn.Module, grads *nn.ParameterCollection) error

	// LR returns the current learning rate.
	//
	// Useful for monitoring and learning rate scheduling.
	LR() float32
}

// Config is the base configuration for all optimizers.
type Config struct {
	LR float32 // Learning rate
}

// rule computes the new values of one parameter in place.
type rule func(path string, param, grad []float32)

// apply runs step for every gradient and writes the results back to model.
func apply(model nn.Module, grads *nn.ParameterCollection, step rule) error {
	current := model.Parameters()
	updates := nn.NewParameterCollection()
	for path, g := range grads.All() {
		p, ok := current.Get(path)
		if !ok {
			continue
		}
		if !p.Value.Shape().Equal(g.Value.Shape()) {
			_ = updates.Free()
			return errors.Errorf("gradient for %q has shape %v, parameter has %v", path, g.Value.Shape(), p.Value.Shape())
		}
		values := p.Value.Float32s()
		step(path, values, g.Value.Float32s())
		next, err := p.Value.Context().FromFloat32(values, p.Value.Shape())
		if err != nil {
			_ = updates.Free()
			return errors.Wrapf(err, "update %q", path)
		}
		updates.Set(path, next, p.Trainable)
	}
	if updates.Len() == 0 {
		return nil
	}
	if err := model.UpdateParameters(updates, nn.Strict(false), nn.DisposeReplaced(true)); err != nil {
		return errors.Wrap(err, "apply optimizer step")
	}
	return nil
}

// state returns the slice stored for path, creating a zeroed one of length n.
func state(m map[string][]float32, path string, n int) []float32 {
	s, ok := m[path]
	if !ok || len(s) != n {
		s = make([]float32, n)
		m[path] = s
	}
	return s
}
