package nn

import (
	"fmt"

	"github.com/born-ml/kiln/internal/tensor"
)

// Dropout zeroes elements with probability p during training and scales the
// rest by 1/(1-p). In eval mode it passes its input through.
//
// The mask is drawn from the random source of the input's Context.
type Dropout struct {
	Base
	p float32
}

// NewDropout creates a Dropout layer. p must be in [0, 1).
func NewDropout(p float32) *Dropout {
	checkProbability(p)
	d := &Dropout{p: p}
	d.Init(d)
	return d
}

// P returns the drop probability.
func (d *Dropout) P() float32 {
	return d.p
}

// Forward applies dropout.
func (d *Dropout) Forward(x *tensor.Tensor) *tensor.Tensor {
	return dropMasked(&d.Base, d.p, x, x.Shape())
}

// Dropout2d zeroes whole channels of a [N, C, H, W] or [C, H, W] input with
// probability p during training.
type Dropout2d struct {
	Base
	p float32
}

// NewDropout2d creates a Dropout2d layer. p must be in [0, 1).
func NewDropout2d(p float32) *Dropout2d {
	checkProbability(p)
	d := &Dropout2d{p: p}
	d.Init(d)
	return d
}

// P returns the drop probability.
func (d *Dropout2d) P() float32 { return d.p }

// Forward applies channel dropout. It panics unless x has rank 3 or 4.
func (d *Dropout2d) Forward(x *tensor.Tensor) *tensor.Tensor {
	return dropMasked(&d.Base, d.p, x, channelMask("Dropout2d", x.Shape(), 2))
}

// Dropout3d zeroes whole channels of a [N, C, D, H, W] or [C, D, H, W] input
// with probability p during training.
type Dropout3d struct {
	Base
	p float32
}

// NewDropout3d creates a Dropout3d layer. p must be in [0, 1).
func NewDropout3d(p float32) *Dropout3d {
	checkProbability(p)
	d := &Dropout3d{p: p}
	d.Init(d)
	return d
}

// P returns the drop probability.
func (d *Dropout3d) P() float32 { return d.p }

// Forward applies channel dropout. It panics unless x has rank 4 or 5.
func (d *Dropout3d) Forward(x *tensor.Tensor) *tensor.Tensor {
	return dropMasked(&d.Base, d.p, x, channelMask("Dropout3d", x.Shape(), 3))
}

func checkProbability(p float32) {
	if p < 0 || p >= 1 {
		panic(fmt.Sprintf("nn: dropout probability must be in [0, 1), got %v", p))
	}
}

// channelMask returns shape with its trailing spatial dimensions set to 1.
func channelMask(layer string, shape tensor.Shape, spatial int) tensor.Shape {
	if len(shape) != spatial+1 && len(shape) != spatial+2 {
		panic(fmt.Sprintf("%s.Forward: expected rank %d or %d input, got shape %v", layer, spatial+1, spatial+2, shape))
	}
	mask := shape.Clone()
	for i := len(mask) - spatial; i < len(mask); i++ {
		mask[i] = 1
	}
	return mask
}

// dropMasked multiplies x by a Bernoulli mask of maskShape scaled by 1/(1-p).
// In eval mode, or with p == 0, it returns a view of x.
func dropMasked(b *Base, p float32, x *tensor.Tensor, maskShape tensor.Shape) *tensor.Tensor {
	keep := 1 - p
	if !b.Training() || keep == 1 {
		return x.View()
	}
	mask := x.Context().Bernoulli(maskShape, keep)
	masked := x.Mul(mask)
	release(mask)
	defer release(masked)
	return masked.MulScalar(1 / keep)
}
