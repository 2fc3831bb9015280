package cpu

import (
	"math"

	"github.com/goki/mat32"

	"github.com/born-ml/kiln/internal/native"
	"github.com/born-ml/kiln/internal/parallel"
)

// unary applies an element-wise primitive.
//
// Backward pass: grad_x = grad * f'(x), where the derivative is expressed in
// terms of the input x or the output y, whichever is cheaper.
func unary(op native.UnaryOp, x *node) (*node, native.Status) {
	if x.dtype != native.Float32 {
		return nil, native.StatusUnsupported
	}
	var (
		fwd   func(v float32) float32
		deriv func(x, y float32) float32
	)
	switch op {
	case native.OpNegative:
		fwd = func(v float32) float32 { return -v }
		deriv = func(_, _ float32) float32 { return -1 }
	case native.OpSquare:
		fwd = func(v float32) float32 { return v * v }
		deriv = func(x, _ float32) float32 { return 2 * x }
	case native.OpSqrt:
		fwd = mat32.Sqrt
		deriv = func(_, y float32) float32 { return 0.5 / y }
	case native.OpExp:
		fwd = mat32.Exp
		deriv = func(_, y float32) float32 { return y }
	case native.OpLog:
		fwd = mat32.Log
		deriv = func(x, _ float32) float32 { return 1 / x }
	case native.OpTanh:
		fwd = tanh32
		deriv = func(_, y float32) float32 { return 1 - y*y }
	case native.OpSigmoid:
		fwd = func(v float32) float32 { return 1 / (1 + mat32.Exp(-v)) }
		deriv = func(_, y float32) float32 { return y * (1 - y) }
	case native.OpAbs:
		fwd = mat32.Abs
		deriv = func(x, _ float32) float32 {
			switch {
			case x > 0:
				return 1
			case x < 0:
				return -1
			default:
				return 0
			}
		}
	case native.OpErf:
		fwd = mat32.Erf
		deriv = func(x, _ float32) float32 { return 2 / mat32.SqrtPi * mat32.Exp(-x*x) }
	default:
		return nil, native.StatusUnsupported
	}

	out := make([]float32, len(x.f32))
	parallel.For(len(out), workers, func(i int) {
		out[i] = fwd(x.f32[i])
	})
	n := newFloatNode(x.shape, out)
	n.inputs = []*node{x}
	n.vjp = func(grad []float32) [][]float32 {
		gx := make([]float32, len(grad))
		parallel.For(len(gx), workers, func(i int) {
			gx[i] = grad[i] * deriv(x.f32[i], out[i])
		})
		return [][]float32{gx}
	}
	return n, native.StatusOK
}

// binary applies an element-wise primitive with broadcasting.
//
// Backward pass uses the same broadcast offsets as the forward pass, so the
// accumulation into each input gradient reduces over broadcast dimensions.
func binary(op native.BinaryOp, a, b *node) (*node, native.Status) {
	if a.dtype != native.Float32 || b.dtype != native.Float32 {
		return nil, native.StatusUnsupported
	}
	outShape, ok := broadcastShapes(a.shape, b.shape)
	if !ok {
		return nil, native.StatusShapeMismatch
	}

	var (
		fwd     func(x, y float32) float32
		partial func(x, y float32) (float32, float32)
	)
	switch op {
	case native.OpAdd:
		fwd = func(x, y float32) float32 { return x + y }
		partial = func(_, _ float32) (float32, float32) { return 1, 1 }
	case native.OpSubtract:
		fwd = func(x, y float32) float32 { return x - y }
		partial = func(_, _ float32) (float32, float32) { return 1, -1 }
	case native.OpMultiply:
		fwd = func(x, y float32) float32 { return x * y }
		partial = func(x, y float32) (float32, float32) { return y, x }
	case native.OpDivide:
		fwd = func(x, y float32) float32 { return x / y }
		partial = func(x, y float32) (float32, float32) { return 1 / y, -x / (y * y) }
	case native.OpMaximum:
		fwd = mat32.Max
		partial = func(x, y float32) (float32, float32) {
			if x >= y {
				return 1, 0
			}
			return 0, 1
		}
	default:
		return nil, native.StatusUnsupported
	}

	strides := [][]int{broadcastStrides(a.shape, outShape), broadcastStrides(b.shape, outShape)}
	out := make([]float32, numElements(outShape))
	forEachIndex(outShape, strides, func(i int, off []int) {
		out[i] = fwd(a.f32[off[0]], b.f32[off[1]])
	})

	n := newFloatNode(outShape, out)
	n.inputs = []*node{a, b}
	n.vjp = func(grad []float32) [][]float32 {
		ga := make([]float32, len(a.f32))
		gb := make([]float32, len(b.f32))
		forEachIndex(outShape, strides, func(i int, off []int) {
			pa, pb := partial(a.f32[off[0]], b.f32[off[1]])
			ga[off[0]] += grad[i] * pa
			gb[off[1]] += grad[i] * pb
		})
		return [][]float32{ga, gb}
	}
	return n, native.StatusOK
}

func tanh32(v float32) float32 {
	return float32(math.Tanh(float64(v)))
}
