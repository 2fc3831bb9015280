// Package native defines the boundary between kiln and a native tensor engine.
//
// The surface has the shape of a C ABI. Values crossing the boundary are opaque
// handles and calls report an integer Status. Callbacks into Go are registered
// as closures carrying an opaque Payload token and a destructor. A cgo binding
// over a real engine can implement Runtime directly. The pure-Go reference
// engine lives in internal/native/cpu.
//
// Ownership rules:
//   - Every Array, Vector, Closure and GradClosure handle returned by a Runtime is
//     one owned reference and must be released exactly once with the matching
//     Free call.
//   - VectorNew takes its own references to the supplied arrays; the caller keeps
//     ownership of its handles.
//   - VectorGet returns a new owned reference.
//   - A Closure destructor runs exactly once, when the last reference to the
//     closure (including references held by a GradClosure) is released.
package native

import "fmt"

// Status is the integer result code of a native call. Zero means success.
type Status int32

// Status codes reported by the reference engine. Other engines may report any
// non-zero value; callers must not interpret codes beyond success/failure.
const (
	StatusOK Status = iota
	StatusInvalidHandle
	StatusInvalidArgument
	StatusShapeMismatch
	StatusUnsupported
	StatusCallbackFailed
)

// String returns a short name for known codes.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalidHandle:
		return "invalid handle"
	case StatusInvalidArgument:
		return "invalid argument"
	case StatusShapeMismatch:
		return "shape mismatch"
	case StatusUnsupported:
		return "unsupported"
	case StatusCallbackFailed:
		return "callback failed"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Dtype is the element type of a native array.
type Dtype int32

// Element types understood by the boundary.
const (
	Float32 Dtype = iota
	Int32
	Uint32
)

// String returns the dtype name.
func (d Dtype) String() string {
	switch d {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	case Uint32:
		return "uint32"
	default:
		return "unknown"
	}
}

// Handle types. The zero value of each is the null handle.
type (
	// Array is an owned reference to an n-dimensional array.
	Array uintptr
	// Vector is an owned reference to an ordered list of arrays.
	Vector uintptr
	// Closure is an owned reference to a callable function object.
	Closure uintptr
	// GradClosure is an owned reference to a value-and-grad transformed closure.
	GradClosure uintptr
)

// ClosureFunc is the callback signature the engine invokes for a Closure.
//
// input is owned by the engine and only valid for the duration of the call. The
// returned vector is owned by the engine once the callback returns StatusOK.
// Implementations must not let a panic escape: a real engine cannot unwind
// through its own frames.
type ClosureFunc func(input Vector, payload Payload) (Vector, Status)

// Destructor releases the payload of a closure. It is invoked exactly once.
type Destructor func(payload Payload)

// UnaryOp selects an element-wise unary primitive.
type UnaryOp int

// Unary primitives.
const (
	OpNegative UnaryOp = iota
	OpSquare
	OpSqrt
	OpExp
	OpLog
	OpTanh
	OpSigmoid
	OpAbs
	OpErf
)

// String returns the primitive name.
func (op UnaryOp) String() string {
	switch op {
	case OpNegative:
		return "negative"
	case OpSquare:
		return "square"
	case OpSqrt:
		return "sqrt"
	case OpExp:
		return "exp"
	case OpLog:
		return "log"
	case OpTanh:
		return "tanh"
	case OpSigmoid:
		return "sigmoid"
	case OpAbs:
		return "abs"
	case OpErf:
		return "erf"
	default:
		return "unary"
	}
}

// BinaryOp selects an element-wise binary primitive with broadcasting.
type BinaryOp int

// Binary primitives.
const (
	OpAdd BinaryOp = iota
	OpSubtract
	OpMultiply
	OpDivide
	OpMaximum
)

// String returns the primitive name.
func (op BinaryOp) String() string {
	switch op {
	case OpAdd:
		return "add"
	case OpSubtract:
		return "subtract"
	case OpMultiply:
		return "multiply"
	case OpDivide:
		return "divide"
	case OpMaximum:
		return "maximum"
	default:
		return "binary"
	}
}

// ReduceOp selects a reduction primitive.
type ReduceOp int

// Reduction primitives.
const (
	OpSum ReduceOp = iota
	OpMean
	OpMax
)

// String returns the primitive name.
func (op ReduceOp) String() string {
	switch op {
	case OpMean:
		return "mean"
	case OpMax:
		return "max"
	default:
		return "sum"
	}
}

// Runtime is the native engine surface consumed by kiln.
//
// All methods must be safe for concurrent use.
type Runtime interface {
	// Name identifies the engine (for logs).
	Name() string

	ArrayFromFloat32(data []float32, shape []int) (Array, Status)
	ArrayFromInt32(data []int32, shape []int) (Array, Status)
	ArrayFree(a Array) Status
	ArrayShape(a Array) ([]int, Status)
	ArrayDtype(a Array) (Dtype, Status)
	// ArrayFloat32 copies the elements of a float32 array.
	ArrayFloat32(a Array) ([]float32, Status)
	// ArrayInt32 copies the elements of an int32 array.
	ArrayInt32(a Array) ([]int32, Status)
	// ArrayCopy returns a new array holding the same values, detached from any
	// recorded computation.
	ArrayCopy(a Array) (Array, Status)

	VectorNew(arrays []Array) (Vector, Status)
	VectorSize(v Vector) (int, Status)
	VectorGet(v Vector, index int) (Array, Status)
	VectorFree(v Vector) Status

	ClosureNew(fn ClosureFunc, payload Payload, dtor Destructor) (Closure, Status)
	ClosureApply(c Closure, input Vector) (Vector, Status)
	ClosureFree(c Closure) Status

	// ValueAndGrad returns a closure computing the outputs of c together with the
	// gradient of its first output with respect to the inputs at argnums.
	ValueAndGrad(c Closure, argnums []int) (GradClosure, Status)
	GradClosureApply(g GradClosure, input Vector) (values, grads Vector, status Status)
	GradClosureFree(g GradClosure) Status

	Unary(op UnaryOp, a Array) (Array, Status)
	Binary(op BinaryOp, a, b Array) (Array, Status)
	Matmul(a, b Array) (Array, Status)
	Transpose(a Array, axes []int) (Array, Status)
	Reshape(a Array, shape []int) (Array, Status)
	Reduce(op ReduceOp, a Array, axes []int, keepDims bool) (Array, Status)
	Take(a, indices Array, axis int) (Array, Status)

	// Quantize packs w group-wise along its last axis. It returns the packed
	// weights, the per-group scales and the per-group biases.
	Quantize(w Array, groupSize, bits int, mode string) (packed, scales, biases Array, status Status)
	Dequantize(packed, scales, biases Array, groupSize, bits int, mode string) (Array, Status)
	// QuantizedMatmul computes x @ dequantize(w) (or its transpose).
	QuantizedMatmul(x, packed, scales, biases Array, transpose bool, groupSize, bits int, mode string) (Array, Status)
}
