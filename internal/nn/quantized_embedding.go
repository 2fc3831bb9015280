package nn

import (
	"github.com/pkg/errors"

	"github.com/born-ml/kiln/internal/tensor"
)

// QuantizedEmbedding is an Embedding whose table is stored group-wise
// quantized, with the same parameter and buffer names as QuantizedLinear.
type QuantizedEmbedding struct {
	Base
	count     int
	dims      int
	groupSize int
	bits      int
	mode      QuantizationMode

	weight *Parameter
	scales *Buffer
	biases *Buffer
}

// NewQuantizedEmbeddingFrom quantizes a copy of e's table. e is not modified.
func NewQuantizedEmbeddingFrom(e *Embedding, groupSize, bits int, mode QuantizationMode) (*QuantizedEmbedding, error) {
	packed, scales, biases, err := e.weight.Value().Quantize(groupSize, bits, string(mode))
	if err != nil {
		return nil, errors.Wrapf(err, "quantize embedding [%d, %d]", e.count, e.dims)
	}
	q := &QuantizedEmbedding{
		count:     e.count,
		dims:      e.dims,
		groupSize: groupSize,
		bits:      bits,
		mode:      mode,
	}
	q.Init(q)
	q.weight = q.RegisterParameter("weight", packed, false)
	q.scales = q.RegisterBuffer("scales", scales)
	q.biases = q.RegisterBuffer("quant_biases", biases)
	return q, nil
}

// Forward dequantizes the selected rows and returns indices.shape + [dims].
func (q *QuantizedEmbedding) Forward(indices *tensor.Tensor) *tensor.Tensor {
	flat := indices.Reshape(-1)
	packed := q.weight.Value().Take(flat, 0)
	scales := q.scales.Value().Take(flat, 0)
	biases := q.biases.Value().Take(flat, 0)
	rows := tensor.Dequantize(packed, scales, biases, q.groupSize, q.bits, string(q.mode))
	release(flat, packed, scales, biases)
	defer release(rows)

	shape := append(indices.Shape().Clone(), q.dims)
	return rows.Reshape(shape...)
}

// AsLinear projects x [..., dims] onto the vocabulary using the quantized
// table.
func (q *QuantizedEmbedding) AsLinear(x *tensor.Tensor) *tensor.Tensor {
	return tensor.QuantizedMatMul(x, q.weight.Value(), q.scales.Value(), q.biases.Value(),
		true, q.groupSize, q.bits, string(q.mode))
}

// GroupSize implements Quantized.
func (q *QuantizedEmbedding) GroupSize() int { return q.groupSize }

// Bits implements Quantized.
func (q *QuantizedEmbedding) Bits() int { return q.bits }

// Mode implements Quantized.
func (q *QuantizedEmbedding) Mode() QuantizationMode { return q.mode }
