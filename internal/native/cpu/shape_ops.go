package cpu

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/kiln/internal/native"
)

// matmul multiplies a [..., m, k] by b [k, n]. Leading dimensions of a are
// folded into the row count.
//
// Backward pass:
//   - grad_a = grad @ b^T
//   - grad_b = a^T @ grad
func matmul(a, b *node) (*node, native.Status) {
	if a.dtype != native.Float32 || b.dtype != native.Float32 {
		return nil, native.StatusUnsupported
	}
	if len(a.shape) < 2 || len(b.shape) != 2 {
		return nil, native.StatusShapeMismatch
	}
	k := a.shape[len(a.shape)-1]
	if b.shape[0] != k {
		return nil, native.StatusShapeMismatch
	}
	rows := a.size() / k
	n := b.shape[1]

	outShape := append(cloneShape(a.shape[:len(a.shape)-1]), n)
	out := make([]float32, rows*n)
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		general(a.f32, rows, k), general(b.f32, k, n),
		0, general(out, rows, n))

	res := newFloatNode(outShape, out)
	res.inputs = []*node{a, b}
	res.vjp = func(grad []float32) [][]float32 {
		ga := make([]float32, rows*k)
		gb := make([]float32, k*n)
		blas32.Gemm(blas.NoTrans, blas.Trans, 1,
			general(grad, rows, n), general(b.f32, k, n),
			0, general(ga, rows, k))
		blas32.Gemm(blas.Trans, blas.NoTrans, 1,
			general(a.f32, rows, k), general(grad, rows, n),
			0, general(gb, k, n))
		return [][]float32{ga, gb}
	}
	return res, native.StatusOK
}

func general(data []float32, rows, cols int) blas32.General {
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: data}
}

// transpose permutes the axes of x. A nil axes reverses them.
//
// Backward pass: the gradient is scattered back through the same permutation.
func transpose(x *node, axes []int) (*node, native.Status) {
	rank := len(x.shape)
	if axes == nil {
		axes = make([]int, rank)
		for i := range axes {
			axes[i] = rank - 1 - i
		}
	}
	if len(axes) != rank {
		return nil, native.StatusInvalidArgument
	}
	perm, ok := normalizeAxes(axes, rank)
	if !ok {
		return nil, native.StatusInvalidArgument
	}

	inStrides := stridesOf(x.shape)
	outShape := make([]int, rank)
	permStrides := make([]int, rank)
	for i, ax := range perm {
		outShape[i] = x.shape[ax]
		permStrides[i] = inStrides[ax]
	}
	src := make([]int, x.size())
	forEachIndex(outShape, [][]int{permStrides}, func(i int, off []int) {
		src[i] = off[0]
	})

	res := gather(x, outShape, src)
	if x.dtype == native.Float32 {
		res.inputs = []*node{x}
		res.vjp = func(grad []float32) [][]float32 {
			gx := make([]float32, len(x.f32))
			for i, s := range src {
				gx[s] += grad[i]
			}
			return [][]float32{gx}
		}
	}
	return res, native.StatusOK
}

// gather builds a node whose i-th element is x's src[i]-th element.
func gather(x *node, shape []int, src []int) *node {
	res := &node{shape: cloneShape(shape), dtype: x.dtype}
	switch x.dtype {
	case native.Float32:
		res.f32 = make([]float32, len(src))
		for i, s := range src {
			res.f32[i] = x.f32[s]
		}
	case native.Int32:
		res.i32 = make([]int32, len(src))
		for i, s := range src {
			res.i32[i] = x.i32[s]
		}
	case native.Uint32:
		res.u32 = make([]uint32, len(src))
		for i, s := range src {
			res.u32[i] = x.u32[s]
		}
	}
	return res
}

// reshape reinterprets x with a new shape. A single -1 dimension is inferred.
func reshape(x *node, shape []int) (*node, native.Status) {
	target := cloneShape(shape)
	infer := -1
	known := 1
	for i, d := range target {
		switch {
		case d == -1 && infer < 0:
			infer = i
		case d <= 0:
			return nil, native.StatusInvalidArgument
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if x.size()%known != 0 {
			return nil, native.StatusShapeMismatch
		}
		target[infer] = x.size() / known
	}
	if numElements(target) != x.size() {
		return nil, native.StatusShapeMismatch
	}

	res := &node{shape: target, dtype: x.dtype, f32: x.f32, i32: x.i32, u32: x.u32}
	if x.dtype == native.Float32 {
		res.inputs = []*node{x}
		res.vjp = func(grad []float32) [][]float32 {
			return [][]float32{append([]float32(nil), grad...)}
		}
	}
	return res, native.StatusOK
}

// reduce sums or averages x over axes. A nil axes reduces everything.
//
// Backward pass: the gradient is broadcast back over the reduced axes (and
// scaled by 1/count for the mean).
func reduce(op native.ReduceOp, x *node, axes []int, keepDims bool) (*node, native.Status) {
	if x.dtype != native.Float32 {
		return nil, native.StatusUnsupported
	}
	resolved, ok := normalizeAxes(axes, len(x.shape))
	if !ok {
		return nil, native.StatusInvalidArgument
	}
	reduced := make(map[int]bool, len(resolved))
	for _, ax := range resolved {
		reduced[ax] = true
	}

	kept := cloneShape(x.shape)
	outShape := make([]int, 0, len(x.shape))
	count := 1
	for i, d := range x.shape {
		if reduced[i] {
			kept[i] = 1
			count *= d
			if keepDims {
				outShape = append(outShape, 1)
			}
			continue
		}
		outShape = append(outShape, d)
	}

	scale := float32(1)
	if op == native.OpMean {
		scale = 1 / float32(count)
	}

	strides := [][]int{broadcastStrides(kept, x.shape)}
	if op == native.OpMax {
		return reduceMax(x, kept, outShape, strides), native.StatusOK
	}
	out := make([]float32, numElements(kept))
	forEachIndex(x.shape, strides, func(i int, off []int) {
		out[off[0]] += x.f32[i]
	})
	if scale != 1 {
		for i := range out {
			out[i] *= scale
		}
	}

	res := newFloatNode(outShape, out)
	res.inputs = []*node{x}
	res.vjp = func(grad []float32) [][]float32 {
		gx := make([]float32, len(x.f32))
		forEachIndex(x.shape, strides, func(i int, off []int) {
			gx[i] = grad[off[0]] * scale
		})
		return [][]float32{gx}
	}
	return res, native.StatusOK
}

// reduceMax keeps the largest element of every reduced group.
//
// Backward pass: the gradient flows to the first position holding the maximum.
func reduceMax(x *node, kept, outShape []int, strides [][]int) *node {
	n := numElements(kept)
	out := make([]float32, n)
	arg := make([]int, n)
	for i := range arg {
		arg[i] = -1
	}
	forEachIndex(x.shape, strides, func(i int, off []int) {
		j := off[0]
		if arg[j] < 0 || x.f32[i] > out[j] {
			out[j], arg[j] = x.f32[i], i
		}
	})

	res := newFloatNode(outShape, out)
	res.inputs = []*node{x}
	res.vjp = func(grad []float32) [][]float32 {
		gx := make([]float32, len(x.f32))
		for j, i := range arg {
			if i >= 0 {
				gx[i] += grad[j]
			}
		}
		return [][]float32{gx}
	}
	return res
}

// take selects entries of x along axis using integer indices.
//
// Backward pass: the gradient is scatter-added into the selected rows.
func take(x, indices *node, axis int) (*node, native.Status) {
	if indices.dtype != native.Int32 {
		return nil, native.StatusUnsupported
	}
	rank := len(x.shape)
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return nil, native.StatusInvalidArgument
	}
	dim := x.shape[axis]
	for _, idx := range indices.i32 {
		if idx < 0 || int(idx) >= dim {
			return nil, native.StatusInvalidArgument
		}
	}

	outer := numElements(x.shape[:axis])
	inner := numElements(x.shape[axis+1:])
	outShape := make([]int, 0, rank-1+len(indices.shape))
	outShape = append(outShape, x.shape[:axis]...)
	outShape = append(outShape, indices.shape...)
	outShape = append(outShape, x.shape[axis+1:]...)

	src := make([]int, 0, numElements(outShape))
	for o := 0; o < outer; o++ {
		for _, idx := range indices.i32 {
			base := (o*dim + int(idx)) * inner
			for j := 0; j < inner; j++ {
				src = append(src, base+j)
			}
		}
	}

	res := gather(x, outShape, src)
	if x.dtype == native.Float32 {
		res.inputs = []*node{x, indices}
		res.vjp = func(grad []float32) [][]float32 {
			gx := make([]float32, len(x.f32))
			for i, s := range src {
				gx[s] += grad[i]
			}
			return [][]float32{gx, nil}
		}
	}
	return res, native.StatusOK
}
