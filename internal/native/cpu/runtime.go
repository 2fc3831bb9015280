// Package cpu implements native.Runtime in pure Go.
//
// Arrays are immutable graph nodes that remember the primitive that produced
// them, which makes value-and-grad a reverse walk over the recorded graph. It is
// the default runtime of the kiln CLI.
package cpu

import (
	"sync"

	"github.com/born-ml/kiln/internal/native"
	"github.com/born-ml/kiln/internal/parallel"
)

// Name is the engine name reported by Runtime.Name.
const Name = "cpu"

// workers splits element-wise kernels and row-wise quantization.
var workers = parallel.DefaultConfig()

type closure struct {
	fn      native.ClosureFunc
	payload native.Payload
	dtor    native.Destructor
	refs    int
}

type gradClosure struct {
	closure *closure
	argnums []int
}

// Runtime is the reference engine. The zero value is not usable; call New.
type Runtime struct {
	mu       sync.Mutex
	next     uintptr
	arrays   map[native.Array]*node
	vectors  map[native.Vector][]*node
	closures map[native.Closure]*closure
	grads    map[native.GradClosure]*gradClosure
}

// New creates an empty engine.
func New() *Runtime {
	return &Runtime{
		arrays:   make(map[native.Array]*node),
		vectors:  make(map[native.Vector][]*node),
		closures: make(map[native.Closure]*closure),
		grads:    make(map[native.GradClosure]*gradClosure),
	}
}

// Name implements native.Runtime.
func (r *Runtime) Name() string {
	return Name
}

// LiveArrays returns the number of array handles not yet released.
func (r *Runtime) LiveArrays() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.arrays)
}

// LiveVectors returns the number of vector handles not yet released.
func (r *Runtime) LiveVectors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.vectors)
}

// LiveClosures returns the number of closure and grad closure handles not yet
// released.
func (r *Runtime) LiveClosures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.closures) + len(r.grads)
}

func (r *Runtime) nextHandle() uintptr {
	r.next++
	return r.next
}

func (r *Runtime) addArray(n *node) native.Array {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := native.Array(r.nextHandle())
	r.arrays[h] = n
	return h
}

func (r *Runtime) array(h native.Array) (*node, native.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.arrays[h]
	if !ok {
		return nil, native.StatusInvalidHandle
	}
	return n, native.StatusOK
}

func (r *Runtime) arrayList(hs ...native.Array) ([]*node, native.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*node, len(hs))
	for i, h := range hs {
		n, ok := r.arrays[h]
		if !ok {
			return nil, native.StatusInvalidHandle
		}
		out[i] = n
	}
	return out, native.StatusOK
}

func (r *Runtime) addVector(nodes []*node) native.Vector {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := native.Vector(r.nextHandle())
	r.vectors[h] = nodes
	return h
}

// result registers n as a new array handle unless status reports a failure.
func (r *Runtime) result(n *node, status native.Status) (native.Array, native.Status) {
	if status != native.StatusOK {
		return 0, status
	}
	return r.addArray(n), native.StatusOK
}

// ArrayFromFloat32 implements native.Runtime. The data is copied.
func (r *Runtime) ArrayFromFloat32(data []float32, shape []int) (native.Array, native.Status) {
	if !validShape(shape) || numElements(shape) != len(data) {
		return 0, native.StatusShapeMismatch
	}
	return r.addArray(newFloatNode(shape, append([]float32(nil), data...))), native.StatusOK
}

// ArrayFromInt32 implements native.Runtime. The data is copied.
func (r *Runtime) ArrayFromInt32(data []int32, shape []int) (native.Array, native.Status) {
	if !validShape(shape) || numElements(shape) != len(data) {
		return 0, native.StatusShapeMismatch
	}
	n := &node{shape: cloneShape(shape), dtype: native.Int32, i32: append([]int32(nil), data...)}
	return r.addArray(n), native.StatusOK
}

// ArrayFree implements native.Runtime.
func (r *Runtime) ArrayFree(a native.Array) native.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.arrays[a]; !ok {
		return native.StatusInvalidHandle
	}
	delete(r.arrays, a)
	return native.StatusOK
}

// ArrayShape implements native.Runtime.
func (r *Runtime) ArrayShape(a native.Array) ([]int, native.Status) {
	n, st := r.array(a)
	if st != native.StatusOK {
		return nil, st
	}
	return cloneShape(n.shape), native.StatusOK
}

// ArrayDtype implements native.Runtime.
func (r *Runtime) ArrayDtype(a native.Array) (native.Dtype, native.Status) {
	n, st := r.array(a)
	if st != native.StatusOK {
		return 0, st
	}
	return n.dtype, native.StatusOK
}

// ArrayFloat32 implements native.Runtime.
func (r *Runtime) ArrayFloat32(a native.Array) ([]float32, native.Status) {
	n, st := r.array(a)
	if st != native.StatusOK {
		return nil, st
	}
	if n.dtype != native.Float32 {
		return nil, native.StatusInvalidArgument
	}
	return append([]float32(nil), n.f32...), native.StatusOK
}

// ArrayInt32 implements native.Runtime.
func (r *Runtime) ArrayInt32(a native.Array) ([]int32, native.Status) {
	n, st := r.array(a)
	if st != native.StatusOK {
		return nil, st
	}
	if n.dtype != native.Int32 {
		return nil, native.StatusInvalidArgument
	}
	return append([]int32(nil), n.i32...), native.StatusOK
}

// ArrayCopy implements native.Runtime.
func (r *Runtime) ArrayCopy(a native.Array) (native.Array, native.Status) {
	n, st := r.array(a)
	if st != native.StatusOK {
		return 0, st
	}
	return r.addArray(n.clone()), native.StatusOK
}

// VectorNew implements native.Runtime.
func (r *Runtime) VectorNew(arrays []native.Array) (native.Vector, native.Status) {
	nodes, st := r.arrayList(arrays...)
	if st != native.StatusOK {
		return 0, st
	}
	return r.addVector(nodes), native.StatusOK
}

// VectorSize implements native.Runtime.
func (r *Runtime) VectorSize(v native.Vector) (int, native.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nodes, ok := r.vectors[v]
	if !ok {
		return 0, native.StatusInvalidHandle
	}
	return len(nodes), native.StatusOK
}

// VectorGet implements native.Runtime.
func (r *Runtime) VectorGet(v native.Vector, index int) (native.Array, native.Status) {
	r.mu.Lock()
	nodes, ok := r.vectors[v]
	r.mu.Unlock()
	if !ok {
		return 0, native.StatusInvalidHandle
	}
	if index < 0 || index >= len(nodes) {
		return 0, native.StatusInvalidArgument
	}
	return r.addArray(nodes[index]), native.StatusOK
}

// VectorFree implements native.Runtime.
func (r *Runtime) VectorFree(v native.Vector) native.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.vectors[v]; !ok {
		return native.StatusInvalidHandle
	}
	delete(r.vectors, v)
	return native.StatusOK
}

// takeVector removes v from the table and returns its contents.
func (r *Runtime) takeVector(v native.Vector) ([]*node, native.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nodes, ok := r.vectors[v]
	if !ok {
		return nil, native.StatusInvalidHandle
	}
	delete(r.vectors, v)
	return nodes, native.StatusOK
}

// Unary implements native.Runtime.
func (r *Runtime) Unary(op native.UnaryOp, a native.Array) (native.Array, native.Status) {
	n, st := r.array(a)
	if st != native.StatusOK {
		return 0, st
	}
	return r.result(unary(op, n))
}

// Binary implements native.Runtime.
func (r *Runtime) Binary(op native.BinaryOp, a, b native.Array) (native.Array, native.Status) {
	ns, st := r.arrayList(a, b)
	if st != native.StatusOK {
		return 0, st
	}
	return r.result(binary(op, ns[0], ns[1]))
}

// Matmul implements native.Runtime.
func (r *Runtime) Matmul(a, b native.Array) (native.Array, native.Status) {
	ns, st := r.arrayList(a, b)
	if st != native.StatusOK {
		return 0, st
	}
	return r.result(matmul(ns[0], ns[1]))
}

// Transpose implements native.Runtime.
func (r *Runtime) Transpose(a native.Array, axes []int) (native.Array, native.Status) {
	n, st := r.array(a)
	if st != native.StatusOK {
		return 0, st
	}
	return r.result(transpose(n, axes))
}

// Reshape implements native.Runtime.
func (r *Runtime) Reshape(a native.Array, shape []int) (native.Array, native.Status) {
	n, st := r.array(a)
	if st != native.StatusOK {
		return 0, st
	}
	return r.result(reshape(n, shape))
}

// Reduce implements native.Runtime.
func (r *Runtime) Reduce(op native.ReduceOp, a native.Array, axes []int, keepDims bool) (native.Array, native.Status) {
	n, st := r.array(a)
	if st != native.StatusOK {
		return 0, st
	}
	return r.result(reduce(op, n, axes, keepDims))
}

// Take implements native.Runtime.
func (r *Runtime) Take(a, indices native.Array, axis int) (native.Array, native.Status) {
	ns, st := r.arrayList(a, indices)
	if st != native.StatusOK {
		return 0, st
	}
	return r.result(take(ns[0], ns[1], axis))
}

// Quantize implements native.Runtime.
func (r *Runtime) Quantize(w native.Array, groupSize, bits int, mode string) (packed, scales, biases native.Array, status native.Status) {
	n, st := r.array(w)
	if st != native.StatusOK {
		return 0, 0, 0, st
	}
	qp, qs, qb, st := quantize(n, groupSize, bits, mode)
	if st != native.StatusOK {
		return 0, 0, 0, st
	}
	return r.addArray(qp), r.addArray(qs), r.addArray(qb), native.StatusOK
}

// Dequantize implements native.Runtime.
func (r *Runtime) Dequantize(packed, scales, biases native.Array, groupSize, bits int, mode string) (native.Array, native.Status) {
	ns, st := r.arrayList(packed, scales, biases)
	if st != native.StatusOK {
		return 0, st
	}
	return r.result(dequantize(ns[0], ns[1], ns[2], groupSize, bits, mode))
}

// QuantizedMatmul implements native.Runtime.
func (r *Runtime) QuantizedMatmul(x, packed, scales, biases native.Array, transpose bool, groupSize, bits int, mode string) (native.Array, native.Status) {
	ns, st := r.arrayList(x, packed, scales, biases)
	if st != native.StatusOK {
		return 0, st
	}
	return r.result(quantizedMatmul(ns[0], ns[1], ns[2], ns[3], transpose, groupSize, bits, mode))
}

var _ native.Runtime = (*Runtime)(nil)
