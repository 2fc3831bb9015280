package nn

import (
	"github.com/goki/mat32"

	"github.com/born-ml/kiln/internal/tensor"
)

// Identity returns its input unchanged.
type Identity struct{ Base }

// NewIdentity creates an Identity layer.
func NewIdentity() *Identity {
	m := &Identity{}
	m.Init(m)
	return m
}

// Forward returns a view of x.
func (m *Identity) Forward(x *tensor.Tensor) *tensor.Tensor { return x.View() }

// ReLU applies max(x, 0) element-wise.
type ReLU struct{ Base }

// NewReLU creates a ReLU activation.
func NewReLU() *ReLU {
	m := &ReLU{}
	m.Init(m)
	return m
}

// Forward applies ReLU.
func (m *ReLU) Forward(x *tensor.Tensor) *tensor.Tensor { return x.ReLU() }

// LeakyReLU applies max(x, slope*x) element-wise.
type LeakyReLU struct {
	Base
	slope float32
}

// NewLeakyReLU creates a LeakyReLU activation with the given negative slope.
// Use 0.01 for the usual default.
func NewLeakyReLU(slope float32) *LeakyReLU {
	m := &LeakyReLU{slope: slope}
	m.Init(m)
	return m
}

// Forward applies LeakyReLU.
func (m *LeakyReLU) Forward(x *tensor.Tensor) *tensor.Tensor {
	scaled := x.MulScalar(m.slope)
	defer release(scaled)
	return x.Maximum(scaled)
}

// Sigmoid applies 1/(1+e^-x) element-wise.
type Sigmoid struct{ Base }

// NewSigmoid creates a Sigmoid activation.
func NewSigmoid() *Sigmoid {
	m := &Sigmoid{}
	m.Init(m)
	return m
}

// Forward applies Sigmoid.
func (m *Sigmoid) Forward(x *tensor.Tensor) *tensor.Tensor { return x.Sigmoid() }

// Tanh applies the hyperbolic tangent element-wise.
type Tanh struct{ Base }

// NewTanh creates a Tanh activation.
func NewTanh() *Tanh {
	m := &Tanh{}
	m.Init(m)
	return m
}

// Forward applies Tanh.
func (m *Tanh) Forward(x *tensor.Tensor) *tensor.Tensor { return x.Tanh() }

// SiLU applies x * sigmoid(x) element-wise.
type SiLU struct{ Base }

// NewSiLU creates a SiLU activation.
func NewSiLU() *SiLU {
	m := &SiLU{}
	m.Init(m)
	return m
}

// Forward applies SiLU.
func (m *SiLU) Forward(x *tensor.Tensor) *tensor.Tensor {
	gate := x.Sigmoid()
	defer release(gate)
	return x.Mul(gate)
}

// GELU applies the exact Gaussian error linear unit,
// 0.5 * x * (1 + erf(x / sqrt(2))).
type GELU struct{ Base }

// NewGELU creates a GELU activation.
func NewGELU() *GELU {
	m := &GELU{}
	m.Init(m)
	return m
}

// Forward applies GELU.
func (m *GELU) Forward(x *tensor.Tensor) *tensor.Tensor {
	scaled := x.MulScalar(1 / mat32.Sqrt2)
	e := scaled.Erf()
	release(scaled)
	cdf := e.AddScalar(1)
	release(e)
	half := cdf.MulScalar(0.5)
	release(cdf)
	defer release(half)
	return x.Mul(half)
}

// Softmax normalizes its input into probabilities along one axis.
// The row maximum is subtracted before exponentiating.
type Softmax struct {
	Base
	axis int
}

// NewSoftmax creates a Softmax over axis. Negative axes count from the end;
// -1 is the usual choice.
func NewSoftmax(axis int) *Softmax {
	m := &Softmax{axis: axis}
	m.Init(m)
	return m
}

// Axis returns the normalized axis.
func (m *Softmax) Axis() int { return m.axis }

// Forward applies Softmax.
func (m *Softmax) Forward(x *tensor.Tensor) *tensor.Tensor {
	peak := x.MaxKeepDims(m.axis)
	shifted := x.Sub(peak)
	release(peak)
	e := shifted.Exp()
	release(shifted)
	total := e.SumKeepDims(m.axis)
	defer release(e, total)
	return e.Div(total)
}
