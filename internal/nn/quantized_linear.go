package nn

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/born-ml/kiln/internal/tensor"
)

// QuantizedLinear is a Linear layer whose weight is stored group-wise
// quantized.
//
// The packed weight is the frozen parameter "weight"; the per-group scales and
// biases are the buffers "scales" and "quant_biases". The optional bias stays
// in full precision and is frozen as well.
type QuantizedLinear struct {
	Base
	inFeatures  int
	outFeatures int
	groupSize   int
	bits        int
	mode        QuantizationMode

	weight *Parameter
	bias   *Parameter
	scales *Buffer
	biases *Buffer
}

// NewQuantizedLinearFrom quantizes a copy of l's weight. l is not modified and
// keeps ownership of its tensors.
func NewQuantizedLinearFrom(l *Linear, groupSize, bits int, mode QuantizationMode) (*QuantizedLinear, error) {
	var bias *tensor.Tensor
	if l.bias != nil {
		bias = l.bias.Value()
	}
	return NewQuantizedLinear(l.weight.Value(), bias, groupSize, bits, mode)
}

// NewQuantizedLinear builds a QuantizedLinear from a float weight
// [out_features, in_features] and an optional bias. The inputs are not
// consumed.
func NewQuantizedLinear(weight, bias *tensor.Tensor, groupSize, bits int, mode QuantizationMode) (*QuantizedLinear, error) {
	shape := weight.Shape()
	if len(shape) != 2 {
		return nil, errors.Errorf("quantized linear: weight must be 2D, got shape %v", shape)
	}
	packed, scales, biases, err := weight.Quantize(groupSize, bits, string(mode))
	if err != nil {
		return nil, errors.Wrapf(err, "quantize linear weight %v", shape)
	}

	q := &QuantizedLinear{
		inFeatures:  shape[1],
		outFeatures: shape[0],
		groupSize:   groupSize,
		bits:        bits,
		mode:        mode,
	}
	q.Init(q)
	q.weight = q.RegisterParameter("weight", packed, false)
	if bias != nil {
		q.bias = q.RegisterParameter("bias", bias.Copy(), false)
	}
	q.scales = q.RegisterBuffer("scales", scales)
	q.biases = q.RegisterBuffer("quant_biases", biases)
	return q, nil
}

// Forward computes y = x @ dequantize(W).T + b.
func (q *QuantizedLinear) Forward(x *tensor.Tensor) *tensor.Tensor {
	shape := x.Shape()
	if len(shape) == 0 || shape[len(shape)-1] != q.inFeatures {
		panic(fmt.Sprintf("QuantizedLinear.Forward: expected input with %d features, got shape %v", q.inFeatures, shape))
	}
	out := tensor.QuantizedMatMul(x, q.weight.Value(), q.scales.Value(), q.biases.Value(),
		true, q.groupSize, q.bits, string(q.mode))
	if q.bias == nil {
		return out
	}
	withBias := out.Add(q.bias.Value())
	release(out)
	return withBias
}

// GroupSize implements Quantized.
func (q *QuantizedLinear) GroupSize() int { return q.groupSize }

// Bits implements Quantized.
func (q *QuantizedLinear) Bits() int { return q.bits }

// Mode implements Quantized.
func (q *QuantizedLinear) Mode() QuantizationMode { return q.mode }

// InFeatures returns the number of input features.
func (q *QuantizedLinear) InFeatures() int { return q.inFeatures }

// OutFeatures returns the number of output features.
func (q *QuantizedLinear) OutFeatures() int { return q.outFeatures }
