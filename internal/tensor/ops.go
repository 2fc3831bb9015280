package tensor

import (
	"github.com/born-ml/kiln/internal/native"
)

func (t *Tensor) unary(op native.UnaryOp) *Tensor {
	h, st := t.ctx.rt.Unary(op, t.handle)
	native.Must(st, op.String())
	return t.ctx.Adopt(h)
}

func (t *Tensor) binary(op native.BinaryOp, other *Tensor) *Tensor {
	h, st := t.ctx.rt.Binary(op, t.handle, other.handle)
	native.Must(st, op.String())
	return t.ctx.Adopt(h)
}

// withScalar applies op against a temporary scalar.
func (t *Tensor) withScalar(op native.BinaryOp, v float32) *Tensor {
	s := t.ctx.Scalar(v)
	defer s.Free()
	return t.binary(op, s)
}

// Add performs element-wise addition with broadcasting.
func (t *Tensor) Add(other *Tensor) *Tensor { return t.binary(native.OpAdd, other) }

// Sub performs element-wise subtraction with broadcasting.
func (t *Tensor) Sub(other *Tensor) *Tensor { return t.binary(native.OpSubtract, other) }

// Mul performs element-wise multiplication with broadcasting.
func (t *Tensor) Mul(other *Tensor) *Tensor { return t.binary(native.OpMultiply, other) }

// Div performs element-wise division with broadcasting.
func (t *Tensor) Div(other *Tensor) *Tensor { return t.binary(native.OpDivide, other) }

// Maximum returns the element-wise maximum with broadcasting.
func (t *Tensor) Maximum(other *Tensor) *Tensor { return t.binary(native.OpMaximum, other) }

// AddScalar adds a constant to every element.
func (t *Tensor) AddScalar(v float32) *Tensor { return t.withScalar(native.OpAdd, v) }

// MulScalar multiplies every element by a constant.
func (t *Tensor) MulScalar(v float32) *Tensor { return t.withScalar(native.OpMultiply, v) }

// Neg negates every element.
func (t *Tensor) Neg() *Tensor { return t.unary(native.OpNegative) }

// Square squares every element.
func (t *Tensor) Square() *Tensor { return t.unary(native.OpSquare) }

// Sqrt takes the square root of every element.
func (t *Tensor) Sqrt() *Tensor { return t.unary(native.OpSqrt) }

// Exp applies e^x element-wise.
func (t *Tensor) Exp() *Tensor { return t.unary(native.OpExp) }

// Log applies the natural logarithm element-wise.
func (t *Tensor) Log() *Tensor { return t.unary(native.OpLog) }

// Tanh applies the hyperbolic tangent element-wise.
func (t *Tensor) Tanh() *Tensor { return t.unary(native.OpTanh) }

// Sigmoid applies 1/(1+e^-x) element-wise.
func (t *Tensor) Sigmoid() *Tensor { return t.unary(native.OpSigmoid) }

// Abs takes the absolute value of every element.
func (t *Tensor) Abs() *Tensor { return t.unary(native.OpAbs) }

// Erf computes the Gauss error function element-wise.
func (t *Tensor) Erf() *Tensor { return t.unary(native.OpErf) }

// ReLU applies max(x, 0) element-wise.
func (t *Tensor) ReLU() *Tensor { return t.withScalar(native.OpMaximum, 0) }

// MatMul performs matrix multiplication: [..., M, K] @ [K, N] -> [..., M, N].
func (t *Tensor) MatMul(other *Tensor) *Tensor {
	h, st := t.ctx.rt.Matmul(t.handle, other.handle)
	native.Must(st, "matmul")
	return t.ctx.Adopt(h)
}

// Transpose permutes the axes. With no axes the order is reversed.
func (t *Tensor) Transpose(axes ...int) *Tensor {
	var perm []int
	if len(axes) > 0 {
		perm = axes
	}
	h, st := t.ctx.rt.Transpose(t.handle, perm)
	native.Must(st, "transpose")
	return t.ctx.Adopt(h)
}

// T is shorthand for Transpose with the axes reversed.
func (t *Tensor) T() *Tensor {
	return t.Transpose()
}

// Reshape returns a tensor with the same elements and a new shape.
// One dimension may be -1 and is then inferred.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	h, st := t.ctx.rt.Reshape(t.handle, shape)
	native.Must(st, "reshape")
	return t.ctx.Adopt(h)
}

// View returns a new tensor over the same values that stays connected to t in
// the recorded computation.
func (t *Tensor) View() *Tensor {
	return t.Reshape(t.Shape()...)
}

func (t *Tensor) reduce(op native.ReduceOp, keepDims bool, axes []int) *Tensor {
	var resolved []int
	if len(axes) > 0 {
		resolved = axes
	}
	h, st := t.ctx.rt.Reduce(op, t.handle, resolved, keepDims)
	native.Must(st, op.String())
	return t.ctx.Adopt(h)
}

// Sum reduces over the given axes, or over every axis when none are given.
func (t *Tensor) Sum(axes ...int) *Tensor { return t.reduce(native.OpSum, false, axes) }

// SumKeepDims is Sum with the reduced axes kept as size 1.
func (t *Tensor) SumKeepDims(axes ...int) *Tensor { return t.reduce(native.OpSum, true, axes) }

// Mean averages over the given axes, or over every axis when none are given.
func (t *Tensor) Mean(axes ...int) *Tensor { return t.reduce(native.OpMean, false, axes) }

// MeanKeepDims is Mean with the reduced axes kept as size 1.
func (t *Tensor) MeanKeepDims(axes ...int) *Tensor { return t.reduce(native.OpMean, true, axes) }

// MaxKeepDims keeps the largest value over the given axes, which stay as size 1.
func (t *Tensor) MaxKeepDims(axes ...int) *Tensor { return t.reduce(native.OpMax, true, axes) }

// Take selects entries along axis using int32 indices.
func (t *Tensor) Take(indices *Tensor, axis int) *Tensor {
	h, st := t.ctx.rt.Take(t.handle, indices.handle, axis)
	native.Must(st, "take")
	return t.ctx.Adopt(h)
}

// Copy returns a new tensor with the same values, detached from any recorded
// computation.
func (t *Tensor) Copy() *Tensor {
	h, st := t.ctx.rt.ArrayCopy(t.handle)
	native.Must(st, "array_copy")
	return t.ctx.Adopt(h)
}

// Quantize packs t group-wise along its last axis and returns the packed
// weights with their per-group scales and biases.
func (t *Tensor) Quantize(groupSize, bits int, mode string) (packed, scales, biases *Tensor, err error) {
	p, s, b, st := t.ctx.rt.Quantize(t.handle, groupSize, bits, mode)
	if err := native.Check(st, "quantize"); err != nil {
		return nil, nil, nil, err
	}
	return t.ctx.Adopt(p), t.ctx.Adopt(s), t.ctx.Adopt(b), nil
}

// Dequantize expands packed weights produced by Quantize.
func Dequantize(packed, scales, biases *Tensor, groupSize, bits int, mode string) *Tensor {
	h, st := packed.ctx.rt.Dequantize(packed.handle, scales.handle, biases.handle, groupSize, bits, mode)
	native.Must(st, "dequantize")
	return packed.ctx.Adopt(h)
}

// QuantizedMatMul computes x @ w (x @ w^T when transpose is set) for weights
// stored by Quantize.
func QuantizedMatMul(x, packed, scales, biases *Tensor, transpose bool, groupSize, bits int, mode string) *Tensor {
	h, st := x.ctx.rt.QuantizedMatmul(x.handle, packed.handle, scales.handle, biases.handle, transpose, groupSize, bits, mode)
	native.Must(st, "quantized_matmul")
	return x.ctx.Adopt(h)
}
