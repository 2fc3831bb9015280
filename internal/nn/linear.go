package nn

import (
	"fmt"

	"github.com/goki/mat32"

	"github.com/born-ml/kiln/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W.T + b
// where:
//   - x is the input tensor with shape [..., in_features]
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the bias vector with shape [out_features]
//   - y is the output tensor with shape [..., out_features]
//
// Parameters are named "weight" and "bias".
//
// Example:
//
//	ctx := tensor.NewContext(cpu.New(), 0)
//	layer := nn.NewLinear(ctx, 784, 128, true)
//	output := layer.Forward(input) // [32, 784] -> [32, 128]
type Linear struct {
	Base
	inFeatures  int
	outFeatures int
	weight      *Parameter
	bias        *Parameter
}

// NewLinear creates a new Linear layer.
//
// Weight and bias are drawn from U(-k, k) with k = sqrt(1/in_features).
//
// Parameters:
//   - ctx: Context providing the engine and random source
//   - inFeatures: Number of input features
//   - outFeatures: Number of output features
//   - bias: Whether to add a learnable bias
func NewLinear(ctx *tensor.Context, inFeatures, outFeatures int, bias bool) *Linear {
	k := mat32.Sqrt(1 / float32(inFeatures))
	w := ctx.Uniform(tensor.Shape{outFeatures, inFeatures}, -k, k)
	var b *tensor.Tensor
	if bias {
		b = ctx.Uniform(tensor.Shape{outFeatures}, -k, k)
	}
	return NewLinearFrom(w, b)
}

// NewLinearFrom builds a Linear layer around existing tensors. Ownership of
// both moves to the layer.
//
// Parameters:
//   - weight: Weight tensor [out_features, in_features]
//   - bias: Bias tensor [out_features], or nil for no bias
//
// Returns the layer. It panics if weight is not 2D.
func NewLinearFrom(weight, bias *tensor.Tensor) *Linear {
	shape := weight.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("nn: linear weight must be 2D, got shape %v", shape))
	}
	l := &Linear{inFeatures: shape[1], outFeatures: shape[0]}
	l.Init(l)
	l.weight = l.RegisterParameter("weight", weight, true)
	if bias != nil {
		l.bias = l.RegisterParameter("bias", bias, true)
	}
	return l
}

// Forward computes y = x @ W.T + b.
//
// Shapes:
//   - input: [..., in_features]
//   - output: [..., out_features]
//
// The input is left untouched; the caller owns the returned tensor.
func (l *Linear) Forward(x *tensor.Tensor) *tensor.Tensor {
	shape := x.Shape()
	if len(shape) == 0 || shape[len(shape)-1] != l.inFeatures {
		panic(fmt.Sprintf("Linear.Forward: expected input with %d features, got shape %v", l.inFeatures, shape))
	}
	wT := l.weight.Value().T()
	out := x.MatMul(wT)
	release(wT)
	if l.bias == nil {
		return out
	}
	withBias := out.Add(l.bias.Value())
	release(out)
	return withBias
}

// Weight returns the weight parameter.
func (l *Linear) Weight() *Parameter {
	return l.weight
}

// Bias returns the bias parameter, or nil.
func (l *Linear) Bias() *Parameter {
	return l.bias
}

// InFeatures returns the number of input features.
func (l *Linear) InFeatures() int {
	return l.inFeatures
}

// OutFeatures returns the number of output features.
func (l *Linear) OutFeatures() int {
	return l.outFeatures
}

// ToQuantized implements Quantizable. The layer itself is left untouched.
func (l *Linear) ToQuantized(groupSize, bits int, mode QuantizationMode) (Module, error) {
	return NewQuantizedLinearFrom(l, groupSize, bits, mode)
}
