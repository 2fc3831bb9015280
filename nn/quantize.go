// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/kiln/internal/nn"
	"github.com/born-ml/kiln/tensor"
)

// QuantizationMode selects the packing scheme of quantized weights.
type QuantizationMode = nn.QuantizationMode

// Quantization modes.
const (
	Affine = nn.Affine
	MXFP4  = nn.MXFP4
)

// Quantizable is a module that can produce a quantized counterpart.
type Quantizable = nn.Quantizable

// Quantized is implemented by quantized modules.
type Quantized = nn.Quantized

// Quantizer converts a single module, or returns nil to leave it unchanged.
type Quantizer = nn.Quantizer

// QuantizeOption configures Quantize and QuantizeWith.
type QuantizeOption = nn.QuantizeOption

// Selection is the quantization setting chosen for one module.
type Selection = nn.Selection

// QuantizedLinear is a Linear layer with a packed weight.
type QuantizedLinear = nn.QuantizedLinear

// QuantizedEmbedding is an Embedding with a packed table.
type QuantizedEmbedding = nn.QuantizedEmbedding

// WithGroupSize sets the number of weights sharing a scale. Default: 64.
func WithGroupSize(n int) QuantizeOption { return nn.WithGroupSize(n) }

// WithBits sets the bits per packed weight. Default: 4.
func WithBits(n int) QuantizeOption { return nn.WithBits(n) }

// WithMode sets the quantization mode. Default: Affine.
func WithMode(mode QuantizationMode) QuantizeOption { return nn.WithMode(mode) }

// WithFilter restricts quantization to modules for which keep returns true.
func WithFilter(keep func(path string, m Module) bool) QuantizeOption { return nn.WithFilter(keep) }

// WithQuantizer replaces the per-module conversion.
func WithQuantizer(q Quantizer) QuantizeOption { return nn.WithQuantizer(q) }

// Quantize replaces the quantizable leaves of model in place.
//
// Example:
//
//	err := nn.Quantize(model, nn.WithGroupSize(32), nn.WithBits(8))
func Quantize(model Module, opts ...QuantizeOption) error {
	return nn.Quantize(model, opts...)
}

// QuantizeWith lets selector choose the setting for every module of model.
func QuantizeWith(model Module, selector func(path string, m Module) *Selection, opts ...QuantizeOption) error {
	return nn.QuantizeWith(model, selector, opts...)
}

// QuantizeSingle converts one module, or returns nil when it cannot be
// quantized.
func QuantizeSingle(m Module, groupSize, bits int, mode QuantizationMode) Module {
	return nn.QuantizeSingle(m, groupSize, bits, mode)
}

// NewQuantizedLinear quantizes a weight [out, in] and optional bias [out].
func NewQuantizedLinear(weight, bias *tensor.Tensor, groupSize, bits int, mode QuantizationMode) (*QuantizedLinear, error) {
	return nn.NewQuantizedLinear(weight, bias, groupSize, bits, mode)
}
