package nn

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"k8s.io/klog/v2"
)

// QuantizationMode names a group-wise quantization scheme.
type QuantizationMode string

const (
	// Affine stores each group as levels with a float scale and bias.
	Affine QuantizationMode = "affine"
	// MXFP4 is the microscaling FP4 format. Engines may not support it.
	MXFP4 QuantizationMode = "mxfp4"
)

// Quantizable is implemented by modules that have a quantized counterpart.
type Quantizable interface {
	Module
	ToQuantized(groupSize, bits int, mode QuantizationMode) (Module, error)
}

// Quantized is implemented by modules holding quantized weights.
type Quantized interface {
	Module
	GroupSize() int
	Bits() int
	Mode() QuantizationMode
}

// Quantizer converts a single module, returning nil to leave it in place.
type Quantizer func(m Module, groupSize, bits int, mode QuantizationMode) Module

// QuantizeSingle returns the quantized counterpart of m, or nil when m is
// already quantized, has no quantized form, or cannot be converted.
func QuantizeSingle(m Module, groupSize, bits int, mode QuantizationMode) Module {
	if _, ok := m.(Quantized); ok {
		return nil
	}
	q, ok := m.(Quantizable)
	if !ok {
		return nil
	}
	out, err := q.ToQuantized(groupSize, bits, mode)
	if err != nil {
		klog.V(2).InfoS("module left unquantized", "type", typeName(m), "groupSize", groupSize, "bits", bits, "mode", mode, "err", err)
		return nil
	}
	return out
}

type quantizeOptions struct {
	groupSize int
	bits      int
	mode      QuantizationMode
	filter    func(path string, m Module) bool
	quantizer Quantizer
}

// QuantizeOption configures Quantize and QuantizeWith.
type QuantizeOption func(*quantizeOptions)

// WithGroupSize sets the number of weights sharing a scale and bias (default 64).
func WithGroupSize(n int) QuantizeOption {
	return func(o *quantizeOptions) { o.groupSize = n }
}

// WithBits sets the bits per weight (default 4).
func WithBits(n int) QuantizeOption {
	return func(o *quantizeOptions) { o.bits = n }
}

// WithMode sets the quantization mode (default Affine).
func WithMode(mode QuantizationMode) QuantizeOption {
	return func(o *quantizeOptions) { o.mode = mode }
}

// WithFilter restricts Quantize to the leaves for which keep returns true.
// The default accepts every Quantizable leaf that is not already Quantized.
func WithFilter(keep func(path string, m Module) bool) QuantizeOption {
	return func(o *quantizeOptions) { o.filter = keep }
}

// WithQuantizer replaces QuantizeSingle as the per-module converter.
func WithQuantizer(q Quantizer) QuantizeOption {
	return func(o *quantizeOptions) { o.quantizer = q }
}

func buildQuantizeOptions(opts []QuantizeOption) quantizeOptions {
	o := quantizeOptions{
		groupSize: 64,
		bits:      4,
		mode:      Affine,
		filter:    defaultQuantizeFilter,
		quantizer: QuantizeSingle,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func defaultQuantizeFilter(_ string, m Module) bool {
	_, quantizable := m.(Quantizable)
	_, quantized := m.(Quantized)
	return quantizable && !quantized
}

// Quantize replaces the leaf modules of model with their quantized
// counterparts.
//
// Conversion is best effort: leaves rejected by the filter or by the quantizer
// are left in place. Replaced modules are closed.
//
// Example:
//
//	err := nn.Quantize(model, nn.WithGroupSize(32), nn.WithBits(8))
func Quantize(model Module, opts ...QuantizeOption) error {
	o := buildQuantizeOptions(opts)
	replacements := make(map[string]Module)
	for path, m := range model.LeafModules() {
		if !o.filter(path, m) {
			continue
		}
		if r := o.quantizer(m, o.groupSize, o.bits, o.mode); r != nil {
			replacements[path] = r
		}
	}
	return applyReplacements(model, replacements)
}

// Selection is the quantization chosen for one module by a selector.
type Selection struct {
	GroupSize int
	Bits      int
	Mode      QuantizationMode
}

// QuantizeWith walks every module of model, including intermediate nodes, and
// quantizes those for which selector returns a Selection. A nil Selection
// leaves the module unchanged. Only WithQuantizer is honored in opts.
func QuantizeWith(model Module, selector func(path string, m Module) *Selection, opts ...QuantizeOption) error {
	o := buildQuantizeOptions(opts)
	replacements := make(map[string]Module)
	for path, m := range model.FlattenModules() {
		sel := selector(path, m)
		if sel == nil {
			continue
		}
		if r := o.quantizer(m, sel.GroupSize, sel.Bits, sel.Mode); r != nil {
			replacements[path] = r
		}
	}
	return applyReplacements(model, replacements)
}

// applyReplacements drops replacements nested under another replaced path,
// closing them, and swaps the rest in without strict resolution.
func applyReplacements(model Module, replacements map[string]Module) error {
	var kept []string
	for _, path := range slices.Sorted(maps.Keys(replacements)) {
		nested := slices.ContainsFunc(kept, func(parent string) bool {
			return strings.HasPrefix(path, parent+".")
		})
		if nested {
			if err := replacements[path].Close(); err != nil {
				klog.V(2).InfoS("error closing unused replacement", "path", path, "err", err)
			}
			delete(replacements, path)
			continue
		}
		kept = append(kept, path)
	}
	if len(replacements) == 0 {
		return nil
	}
	klog.V(4).InfoS("quantizing modules", "count", len(replacements))
	return model.UpdateModules(replacements, Strict(false))
}

func typeName(m Module) string {
	return fmt.Sprintf("%T", m)
}
