package main

import (
	"github.com/born-ml/kiln/internal/nn"
	"github.com/born-ml/kiln/internal/tensor"
)

// regressor is a small fully-connected network.
//
// Architecture:
//   - Input: inputs features
//   - Hidden: hidden neurons with tanh activation and optional dropout
//   - Output: 1 value
//
// Layers are only reachable through the module tree, so quantization can
// swap any of them in place.
type regressor struct {
	nn.Base
}

func newRegressor(ctx *tensor.Context, inputs, hidden int, dropout float32) *regressor {
	m := &regressor{}
	m.Init(m)
	m.RegisterModule("fc1", nn.NewLinear(ctx, inputs, hidden, true))
	m.RegisterModule("act", nn.NewTanh())
	m.RegisterModule("drop", nn.NewDropout(dropout))
	m.RegisterModule("fc2", nn.NewLinear(ctx, hidden, 1, true))
	return m
}

// Forward maps [batch, inputs] to [batch, 1].
func (m *regressor) Forward(x *tensor.Tensor) *tensor.Tensor {
	out := x
	for _, name := range m.ChildNames() {
		next := m.Child(name).(nn.UnaryLayer).Forward(out)
		if out != x {
			_ = out.Free()
		}
		out = next
	}
	return out
}
