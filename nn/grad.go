// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/kiln/internal/nn"
	"github.com/born-ml/kiln/tensor"
)

// LossFunc computes the outputs of a model for args. The first output is the
// value that is differentiated.
type LossFunc[A any] = nn.LossFunc[A]

// ValueAndGrad computes a loss and its gradients with respect to the
// trainable parameters of a model.
type ValueAndGrad[A any] = nn.ValueAndGrad[A]

// NewValueAndGrad creates a value-and-grad function for model.
//
// Example:
//
//	vg := nn.NewValueAndGrad(model, func(m nn.Module, batch Batch) ([]*tensor.Tensor, error) {
//	    loss, err := computeLoss(m, batch)
//	    return []*tensor.Tensor{loss}, err
//	})
//	defer vg.Close()
//	outputs, grads, err := vg.Apply(model, batch)
func NewValueAndGrad[A any](model Module, loss LossFunc[A], opts ...GradOption) *ValueAndGrad[A] {
	return nn.NewValueAndGrad(model, loss, opts...)
}

// GradOption configures a value-and-grad function.
type GradOption = nn.GradOption

// CacheKernel controls whether the compiled kernel is kept between calls.
// It defaults to true; with false every Apply compiles and releases its own.
func CacheKernel(v bool) GradOption { return nn.CacheKernel(v) }

// PairValueAndGrad is the value-and-grad form of a loss over (x, y).
type PairValueAndGrad = nn.PairValueAndGrad

// BuildValueAndGrad creates a value-and-grad function for a scalar loss of
// an input and a target.
func BuildValueAndGrad(model Module, loss func(m Module, x, y *tensor.Tensor) (*tensor.Tensor, error), opts ...GradOption) *PairValueAndGrad {
	return nn.BuildValueAndGrad(model, loss, opts...)
}

// ListValueAndGrad is the value-and-grad form of a loss over a list of
// tensors.
type ListValueAndGrad = nn.ListValueAndGrad

// BuildValueAndGradList creates a value-and-grad function for a loss over a
// list of tensors.
func BuildValueAndGradList(model Module, loss func(m Module, args []*tensor.Tensor) ([]*tensor.Tensor, error), opts ...GradOption) *ListValueAndGrad {
	return nn.BuildValueAndGradList(model, loss, opts...)
}
