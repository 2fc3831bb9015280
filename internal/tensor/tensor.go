package tensor

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/born-ml/kiln/internal/native"
)

// DataType is the element type of a tensor.
type DataType = native.Dtype

// Supported data types.
const (
	Float32 = native.Float32
	Int32   = native.Int32
	Uint32  = native.Uint32
)

// ErrFreed is returned when a tensor is released twice.
var ErrFreed = errors.New("tensor already freed")

// Tensor is an owned reference to a native array.
type Tensor struct {
	ctx    *Context
	handle native.Array
	freed  atomic.Bool
}

// Context returns the context the tensor was created in.
func (t *Tensor) Context() *Context {
	return t.ctx
}

// Handle returns the native handle without transferring ownership.
func (t *Tensor) Handle() native.Array {
	return t.handle
}

// Freed reports whether Free has been called.
func (t *Tensor) Freed() bool {
	return t.freed.Load()
}

// Free releases the native handle. A second call returns ErrFreed.
func (t *Tensor) Free() error {
	if t.freed.Swap(true) {
		return ErrFreed
	}
	return native.Check(t.ctx.rt.ArrayFree(t.handle), "array_free")
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	s, st := t.ctx.rt.ArrayShape(t.handle)
	native.Must(st, "array_shape")
	return Shape(s)
}

// DType returns the tensor's data type.
func (t *Tensor) DType() DataType {
	dt, st := t.ctx.rt.ArrayDtype(t.handle)
	native.Must(st, "array_dtype")
	return dt
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	return t.Shape().NumElements()
}

// Float32s copies the elements of a float32 tensor.
func (t *Tensor) Float32s() []float32 {
	data, st := t.ctx.rt.ArrayFloat32(t.handle)
	native.Must(st, "array_data_float32")
	return data
}

// Int32s copies the elements of an int32 tensor.
func (t *Tensor) Int32s() []int32 {
	data, st := t.ctx.rt.ArrayInt32(t.handle)
	native.Must(st, "array_data_int32")
	return data
}

// Item returns the value of a single-element float32 tensor.
func (t *Tensor) Item() float32 {
	data := t.Float32s()
	if len(data) != 1 {
		panic(fmt.Sprintf("tensor: Item requires exactly one element, got shape %v", t.Shape()))
	}
	return data[0]
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t.Freed() {
		return "Tensor(freed)"
	}
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s)", t.Shape(), t.DType())
}
