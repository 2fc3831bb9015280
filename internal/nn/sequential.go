package nn

import (
	"strconv"

	"github.com/born-ml/kiln/internal/tensor"
)

// Sequential chains layers, feeding each output to the next layer.
//
// Layers are registered as children named "0", "1", ... so their parameters
// appear as "0.weight", "1.bias" and so on.
//
// Example:
//
//	model := nn.NewSequential(
//	    nn.NewLinear(ctx, 784, 128, true),
//	    nn.NewReLU(),
//	    nn.NewLinear(ctx, 128, 10, true),
//	)
type Sequential struct {
	Base
}

// NewSequential creates a Sequential container from layers.
//
// Parameters:
//   - layers: Layers in application order; ownership moves to the container
//
// Returns a container whose Close closes every layer.
func NewSequential(layers ...UnaryLayer) *Sequential {
	s := &Sequential{}
	s.Init(s)
	for i, l := range layers {
		s.RegisterModule(strconv.Itoa(i), l)
	}
	return s
}

// Layers returns the current layers in order. Layers replaced through
// UpdateModules are returned in their new form.
func (s *Sequential) Layers() []UnaryLayer {
	out := make([]UnaryLayer, 0, len(s.children))
	for _, c := range s.children {
		if l, ok := c.module.(UnaryLayer); ok {
			out = append(out, l)
		}
	}
	return out
}

// Len returns the number of layers.
func (s *Sequential) Len() int {
	return len(s.children)
}

// Forward runs x through every layer. Intermediate outputs are released.
//
// An empty container returns a view of x. It panics if a child replaced
// through UpdateModules is not a UnaryLayer.
func (s *Sequential) Forward(x *tensor.Tensor) *tensor.Tensor {
	if len(s.children) == 0 {
		return x.View()
	}
	out := x
	for _, c := range s.children {
		l, ok := c.module.(UnaryLayer)
		if !ok {
			panic("Sequential.Forward: child " + strconv.Quote(c.name) + " is not a unary layer")
		}
		next := l.Forward(out)
		if out != x {
			release(out)
		}
		out = next
	}
	return out
}
