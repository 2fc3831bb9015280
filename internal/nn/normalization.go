package nn

import (
	"fmt"

	"github.com/born-ml/kiln/internal/tensor"
)

// LayerNorm normalizes its input over the last dimension.
//
// Formula: y = weight * (x - mean(x)) / sqrt(var(x) + eps) + bias
//
// Where:
//   - mean and var are taken over the last dimension
//   - weight is the learnable scale [dims], initialized to ones
//   - bias is the learnable shift [dims], initialized to zeros
//   - eps keeps the denominator away from zero
//
// Parameters are named "weight" and "bias". Without an affine transform the
// layer has no parameters.
//
// Example:
//
//	ctx := tensor.NewContext(cpu.New(), 0)
//	norm := nn.NewLayerNorm(ctx, 768, 1e-5, true)
//	output := norm.Forward(hidden) // [..., 768] -> [..., 768]
type LayerNorm struct {
	Base
	dims   int
	eps    float32
	weight *Parameter
	bias   *Parameter
}

// NewLayerNorm creates a new LayerNorm layer.
//
// Parameters:
//   - ctx: Context the parameters are created in
//   - dims: Size of the last (feature) dimension
//   - eps: Stability constant, typically 1e-5
//   - affine: Whether to learn a per-feature weight and bias
func NewLayerNorm(ctx *tensor.Context, dims int, eps float32, affine bool) *LayerNorm {
	l := &LayerNorm{dims: dims, eps: eps}
	l.Init(l)
	if affine {
		l.weight = l.RegisterParameter("weight", ctx.Ones(tensor.Shape{dims}), true)
		l.bias = l.RegisterParameter("bias", ctx.Zeros(tensor.Shape{dims}), true)
	}
	return l
}

// Forward applies LayerNorm.
//
// Shapes:
//   - input: [..., dims]
//   - output: [..., dims]
//
// Algorithm:
//  1. mean = mean(x) over the last dimension
//  2. centered = x - mean
//  3. variance = mean(centered^2) over the last dimension
//  4. normalized = centered / sqrt(variance + eps)
//  5. output = weight * normalized + bias
func (l *LayerNorm) Forward(x *tensor.Tensor) *tensor.Tensor {
	checkFeatures("LayerNorm", l.dims, x)
	mean := x.MeanKeepDims(-1)
	centered := x.Sub(mean)
	release(mean)
	sq := centered.Square()
	variance := sq.MeanKeepDims(-1)
	release(sq)
	shifted := variance.AddScalar(l.eps)
	release(variance)
	std := shifted.Sqrt()
	release(shifted)
	normalized := centered.Div(std)
	release(centered, std)
	if l.weight == nil {
		return normalized
	}
	scaled := normalized.Mul(l.weight.Value())
	release(normalized)
	out := scaled.Add(l.bias.Value())
	release(scaled)
	return out
}

// Weight returns the scale parameter, or nil without an affine transform.
func (l *LayerNorm) Weight() *Parameter { return l.weight }

// Bias returns the shift parameter, or nil without an affine transform.
func (l *LayerNorm) Bias() *Parameter { return l.bias }

// Epsilon returns the stability constant.
func (l *LayerNorm) Epsilon() float32 { return l.eps }

// RMSNorm scales its input by the reciprocal root mean square of the last
// dimension: y = weight * x / sqrt(mean(x^2) + eps).
//
// The single parameter is named "weight" and starts at ones.
type RMSNorm struct {
	Base
	dims   int
	eps    float32
	weight *Parameter
}

// NewRMSNorm creates a new RMSNorm layer over a last dimension of size dims.
func NewRMSNorm(ctx *tensor.Context, dims int, eps float32) *RMSNorm {
	r := &RMSNorm{dims: dims, eps: eps}
	r.Init(r)
	r.weight = r.RegisterParameter("weight", ctx.Ones(tensor.Shape{dims}), true)
	return r
}

// Forward applies RMSNorm.
func (r *RMSNorm) Forward(x *tensor.Tensor) *tensor.Tensor {
	checkFeatures("RMSNorm", r.dims, x)
	sq := x.Square()
	ms := sq.MeanKeepDims(-1)
	release(sq)
	shifted := ms.AddScalar(r.eps)
	release(ms)
	rms := shifted.Sqrt()
	release(shifted)
	normalized := x.Div(rms)
	release(rms)
	defer release(normalized)
	return normalized.Mul(r.weight.Value())
}

// Weight returns the scale parameter.
func (r *RMSNorm) Weight() *Parameter { return r.weight }

// Epsilon returns the stability constant.
func (r *RMSNorm) Epsilon() float32 { return r.eps }

func checkFeatures(layer string, dims int, x *tensor.Tensor) {
	shape := x.Shape()
	if len(shape) == 0 || shape[len(shape)-1] != dims {
		panic(fmt.Sprintf("%s.Forward: expected last dimension %d, got shape %v", layer, dims, shape))
	}
}
