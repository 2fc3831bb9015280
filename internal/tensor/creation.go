package tensor

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/born-ml/kiln/internal/native"
)

// FromFloat32 creates a float32 tensor from a Go slice.
// The slice is copied into the tensor's memory.
func (c *Context) FromFloat32(data []float32, shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if shape.NumElements() != len(data) {
		return nil, errors.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	h, st := c.rt.ArrayFromFloat32(data, shape)
	if err := native.Check(st, "array_new_float32"); err != nil {
		return nil, err
	}
	return c.Adopt(h), nil
}

// FromInt32 creates an int32 tensor from a Go slice.
func (c *Context) FromInt32(data []int32, shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if shape.NumElements() != len(data) {
		return nil, errors.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	h, st := c.rt.ArrayFromInt32(data, shape)
	if err := native.Check(st, "array_new_int32"); err != nil {
		return nil, err
	}
	return c.Adopt(h), nil
}

// mustFloat32 is FromFloat32 for shapes already known to be consistent.
func (c *Context) mustFloat32(data []float32, shape Shape) *Tensor {
	t, err := c.FromFloat32(data, shape)
	if err != nil {
		panic(err)
	}
	return t
}

// Zeros creates a float32 tensor filled with zeros.
//
// Example:
//
//	t := ctx.Zeros(tensor.Shape{3, 4})
func (c *Context) Zeros(shape Shape) *Tensor {
	return c.Full(shape, 0)
}

// Ones creates a float32 tensor filled with ones.
func (c *Context) Ones(shape Shape) *Tensor {
	return c.Full(shape, 1)
}

// Full creates a float32 tensor filled with a specific value.
func (c *Context) Full(shape Shape, value float32) *Tensor {
	data := make([]float32, shape.NumElements())
	for i := range data {
		data[i] = value
	}
	return c.mustFloat32(data, shape)
}

// Scalar creates a rank-0 float32 tensor.
func (c *Context) Scalar(value float32) *Tensor {
	return c.mustFloat32([]float32{value}, Shape{})
}

// Uniform creates a tensor with values drawn uniformly from [low, high).
func (c *Context) Uniform(shape Shape, low, high float32) *Tensor {
	data := c.fill(shape.NumElements(), func(r *rand.Rand) float32 {
		return low + (high-low)*r.Float32()
	})
	return c.mustFloat32(data, shape)
}

// Normal creates a tensor with values drawn from N(mean, std²).
func (c *Context) Normal(shape Shape, mean, std float32) *Tensor {
	data := c.fill(shape.NumElements(), func(r *rand.Rand) float32 {
		return mean + std*float32(r.NormFloat64())
	})
	return c.mustFloat32(data, shape)
}

// Bernoulli creates a tensor of ones (with probability p) and zeros.
func (c *Context) Bernoulli(shape Shape, p float32) *Tensor {
	data := c.fill(shape.NumElements(), func(r *rand.Rand) float32 {
		if r.Float32() < p {
			return 1
		}
		return 0
	})
	return c.mustFloat32(data, shape)
}

// XavierUniform creates a tensor using Glorot uniform initialization:
// U(-limit, limit) with limit = sqrt(6 / (fanIn + fanOut)).
func (c *Context) XavierUniform(shape Shape, fanIn, fanOut int) *Tensor {
	limit := float32(math.Sqrt(6.0 / float64(fanIn+fanOut)))
	return c.Uniform(shape, -limit, limit)
}
