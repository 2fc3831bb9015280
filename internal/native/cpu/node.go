package cpu

import (
	"github.com/born-ml/kiln/internal/native"
)

// node is an immutable array value.
//
// Nodes produced by a primitive remember their inputs and a vector-Jacobian
// product, so that the reverse pass can walk from any output back to the leaves
// it depends on. Handles are references to nodes; releasing a handle never
// invalidates a node that is still reachable from a live graph.
type node struct {
	shape []int
	dtype native.Dtype
	f32   []float32
	i32   []int32
	u32   []uint32

	inputs []*node
	// vjp maps the gradient of this node to one gradient per input.
	// A nil entry means no gradient flows to that input.
	vjp func(grad []float32) [][]float32
}

func newFloatNode(shape []int, data []float32) *node {
	return &node{shape: cloneShape(shape), dtype: native.Float32, f32: data}
}

// size returns the number of elements.
func (n *node) size() int {
	return numElements(n.shape)
}

// leaf returns a node sharing n's storage with no recorded history.
func (n *node) leaf() *node {
	return &node{shape: n.shape, dtype: n.dtype, f32: n.f32, i32: n.i32, u32: n.u32}
}

// clone returns a leaf with its own copy of the storage.
func (n *node) clone() *node {
	c := &node{shape: cloneShape(n.shape), dtype: n.dtype}
	switch n.dtype {
	case native.Float32:
		c.f32 = append([]float32(nil), n.f32...)
	case native.Int32:
		c.i32 = append([]int32(nil), n.i32...)
	case native.Uint32:
		c.u32 = append([]uint32(nil), n.u32...)
	}
	return c
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func cloneShape(shape []int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func validShape(shape []int) bool {
	for _, d := range shape {
		if d <= 0 {
			return false
		}
	}
	return true
}

// stridesOf returns row-major strides.
func stridesOf(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

// broadcastShapes applies NumPy broadcasting rules.
func broadcastShapes(a, b []int) ([]int, bool) {
	rank := max(len(a), len(b))
	out := make([]int, rank)
	for i := 0; i < rank; i++ {
		ad, bd := 1, 1
		if j := len(a) - rank + i; j >= 0 {
			ad = a[j]
		}
		if j := len(b) - rank + i; j >= 0 {
			bd = b[j]
		}
		switch {
		case ad == bd:
			out[i] = ad
		case ad == 1:
			out[i] = bd
		case bd == 1:
			out[i] = ad
		default:
			return nil, false
		}
	}
	return out, true
}

// broadcastStrides returns strides that map an index of outShape onto an array
// of shape in. Broadcast dimensions get stride zero.
func broadcastStrides(in, outShape []int) []int {
	strides := make([]int, len(outShape))
	inStrides := stridesOf(in)
	offset := len(outShape) - len(in)
	for i := range outShape {
		j := i - offset
		if j < 0 || in[j] == 1 {
			continue
		}
		strides[i] = inStrides[j]
	}
	return strides
}

// forEachIndex visits every flat index of shape together with the offsets given
// by each stride set.
func forEachIndex(shape []int, strides [][]int, visit func(i int, offsets []int)) {
	total := numElements(shape)
	if total == 0 {
		return
	}
	rank := len(shape)
	counter := make([]int, rank)
	offsets := make([]int, len(strides))
	for i := 0; i < total; i++ {
		visit(i, offsets)
		for d := rank - 1; d >= 0; d-- {
			counter[d]++
			for s := range strides {
				offsets[s] += strides[s][d]
			}
			if counter[d] < shape[d] {
				break
			}
			for s := range strides {
				offsets[s] -= strides[s][d] * shape[d]
			}
			counter[d] = 0
		}
	}
}

// normalizeAxes resolves negative axes and rejects duplicates.
func normalizeAxes(axes []int, rank int) ([]int, bool) {
	if axes == nil {
		all := make([]int, rank)
		for i := range all {
			all[i] = i
		}
		return all, true
	}
	seen := make(map[int]bool, len(axes))
	out := make([]int, len(axes))
	for i, a := range axes {
		if a < 0 {
			a += rank
		}
		if a < 0 || a >= rank || seen[a] {
			return nil, false
		}
		seen[a] = true
		out[i] = a
	}
	return out, true
}
