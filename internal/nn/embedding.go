package nn

import (
	"fmt"

	"github.com/goki/mat32"

	"github.com/born-ml/kiln/internal/tensor"
)

// Embedding maps int32 token indices to rows of a [count, dims] weight.
//
// The weight parameter is named "weight". AsLinear reuses it as an output
// projection, as in tied input/output embeddings.
//
// Example:
//
//	embed := nn.NewEmbedding(ctx, 50257, 768)
//	hidden := embed.Forward(tokens)    // [batch, seq] int32 -> [batch, seq, 768]
//	logits := embed.AsLinear(hidden)   // [batch, seq, 768] -> [batch, seq, 50257]
type Embedding struct {
	Base
	count  int
	dims   int
	weight *Parameter
}

// NewEmbedding creates an embedding table initialized from N(0, 1/dims).
//
// Parameters:
//   - ctx: Context providing the engine and random source
//   - count: Number of rows (vocabulary size)
//   - dims: Width of each row
func NewEmbedding(ctx *tensor.Context, count, dims int) *Embedding {
	std := mat32.Sqrt(1 / float32(dims))
	return NewEmbeddingFrom(ctx.Normal(tensor.Shape{count, dims}, 0, std), true)
}

// NewEmbeddingFrom builds an embedding around an existing [count, dims]
// weight, taking ownership of it.
func NewEmbeddingFrom(weight *tensor.Tensor, trainable bool) *Embedding {
	shape := weight.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("nn: embedding weight must be 2D, got shape %v", shape))
	}
	e := &Embedding{count: shape[0], dims: shape[1]}
	e.Init(e)
	e.weight = e.RegisterParameter("weight", weight, trainable)
	return e
}

// Forward looks up rows of the table.
//
// Shapes:
//   - indices: [...] int32, each in [0, count)
//   - output: [..., dims]
func (e *Embedding) Forward(indices *tensor.Tensor) *tensor.Tensor {
	return e.weight.Value().Take(indices, 0)
}

// AsLinear projects x [..., dims] onto the vocabulary: x @ W.T.
func (e *Embedding) AsLinear(x *tensor.Tensor) *tensor.Tensor {
	wT := e.weight.Value().T()
	defer release(wT)
	return x.MatMul(wT)
}

// Weight returns the embedding table.
func (e *Embedding) Weight() *Parameter {
	return e.weight
}

// Dims returns the embedding width.
func (e *Embedding) Dims() int {
	return e.dims
}

// ToQuantized implements Quantizable.
func (e *Embedding) ToQuantized(groupSize, bits int, mode QuantizationMode) (Module, error) {
	return NewQuantizedEmbeddingFrom(e, groupSize, bits, mode)
}
