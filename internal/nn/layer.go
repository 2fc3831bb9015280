package nn

import "github.com/born-ml/kiln/internal/tensor"

// UnaryLayer is a module with a single input and a single output.
//
// Forward never takes ownership of its input and always returns a new tensor
// owned by the caller.
type UnaryLayer interface {
	Module
	Forward(x *tensor.Tensor) *tensor.Tensor
}

// release frees intermediate tensors created inside a forward pass.
func release(ts ...*tensor.Tensor) {
	freeAll(ts)
}
