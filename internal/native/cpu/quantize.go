package cpu

import (
	"github.com/goki/mat32"

	"github.com/born-ml/kiln/internal/native"
	"github.com/born-ml/kiln/internal/parallel"
)

const (
	modeAffine = "affine"
	modeMXFP4  = "mxfp4"
)

func checkQuantization(groupSize, bits int, mode string) native.Status {
	switch mode {
	case modeAffine:
	case modeMXFP4:
		return native.StatusUnsupported
	default:
		return native.StatusInvalidArgument
	}
	switch groupSize {
	case 32, 64, 128:
	default:
		return native.StatusInvalidArgument
	}
	switch bits {
	case 2, 4, 8:
	default:
		return native.StatusInvalidArgument
	}
	return native.StatusOK
}

// quantize packs w group-wise along its last axis.
//
// Each group stores q = round((w - bias) / scale) with bias = min(group) and
// scale = (max - min) / (2^bits - 1). A constant group uses scale 1.
func quantize(w *node, groupSize, bits int, mode string) (packed, scales, biases *node, status native.Status) {
	if st := checkQuantization(groupSize, bits, mode); st != native.StatusOK {
		return nil, nil, nil, st
	}
	if w.dtype != native.Float32 || len(w.shape) < 1 {
		return nil, nil, nil, native.StatusInvalidArgument
	}
	cols := w.shape[len(w.shape)-1]
	if cols%groupSize != 0 {
		return nil, nil, nil, native.StatusShapeMismatch
	}

	rows := w.size() / cols
	groups := cols / groupSize
	perWord := 32 / bits
	words := cols / perWord
	levels := float32(int(1)<<bits - 1)

	q := make([]uint32, rows*words)
	s := make([]float32, rows*groups)
	b := make([]float32, rows*groups)
	parallel.For(rows, workers, func(r int) {
		for g := 0; g < groups; g++ {
			start := r*cols + g*groupSize
			group := w.f32[start : start+groupSize]
			lo, hi := group[0], group[0]
			for _, v := range group[1:] {
				lo = mat32.Min(lo, v)
				hi = mat32.Max(hi, v)
			}
			scale := (hi - lo) / levels
			if scale == 0 {
				scale = 1
			}
			s[r*groups+g] = scale
			b[r*groups+g] = lo
			for j, v := range group {
				level := mat32.Floor((v-lo)/scale + 0.5)
				level = min(max(level, 0), levels)
				col := g*groupSize + j
				q[r*words+col/perWord] |= uint32(level) << (bits * (col % perWord))
			}
		}
	})

	lead := w.shape[:len(w.shape)-1]
	packed = &node{shape: append(cloneShape(lead), words), dtype: native.Uint32, u32: q}
	scales = newFloatNode(append(cloneShape(lead), groups), s)
	biases = newFloatNode(append(cloneShape(lead), groups), b)
	return packed, scales, biases, native.StatusOK
}

// dequantize expands packed weights back to float32. The result is a constant:
// no gradient flows into quantized storage.
func dequantize(packed, scales, biases *node, groupSize, bits int, mode string) (*node, native.Status) {
	if st := checkQuantization(groupSize, bits, mode); st != native.StatusOK {
		return nil, st
	}
	if packed.dtype != native.Uint32 || scales.dtype != native.Float32 || biases.dtype != native.Float32 {
		return nil, native.StatusInvalidArgument
	}
	if len(packed.shape) < 1 || !sameShape(scales.shape, biases.shape) || len(scales.shape) != len(packed.shape) {
		return nil, native.StatusShapeMismatch
	}

	perWord := 32 / bits
	words := packed.shape[len(packed.shape)-1]
	cols := words * perWord
	groups := cols / groupSize
	if scales.shape[len(scales.shape)-1] != groups || !sameShape(scales.shape[:len(scales.shape)-1], packed.shape[:len(packed.shape)-1]) {
		return nil, native.StatusShapeMismatch
	}

	rows := packed.size() / words
	mask := uint32(1)<<bits - 1
	out := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for col := 0; col < cols; col++ {
			word := packed.u32[r*words+col/perWord]
			level := (word >> (bits * (col % perWord))) & mask
			g := r*groups + col/groupSize
			out[r*cols+col] = float32(level)*scales.f32[g] + biases.f32[g]
		}
	}

	shape := append(cloneShape(packed.shape[:len(packed.shape)-1]), cols)
	return newFloatNode(shape, out), native.StatusOK
}

// quantizedMatmul computes x @ w (or x @ w^T when transpose is set) where w is
// stored quantized. Gradients flow to x only.
func quantizedMatmul(x, packed, scales, biases *node, transposeW bool, groupSize, bits int, mode string) (*node, native.Status) {
	w, st := dequantize(packed, scales, biases, groupSize, bits, mode)
	if st != native.StatusOK {
		return nil, st
	}
	if len(w.shape) != 2 {
		return nil, native.StatusShapeMismatch
	}
	if transposeW {
		if w, st = transpose(w, nil); st != native.StatusOK {
			return nil, st
		}
		w = w.leaf()
	}
	return matmul(x, w)
}
