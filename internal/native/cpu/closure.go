package cpu

import (
	"k8s.io/klog/v2"

	"github.com/born-ml/kiln/internal/native"
)

// ClosureNew implements native.Runtime.
func (r *Runtime) ClosureNew(fn native.ClosureFunc, payload native.Payload, dtor native.Destructor) (native.Closure, native.Status) {
	if fn == nil {
		return 0, native.StatusInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h := native.Closure(r.nextHandle())
	r.closures[h] = &closure{fn: fn, payload: payload, dtor: dtor, refs: 1}
	klog.V(5).InfoS("closure created", "closure", uintptr(h))
	return h, native.StatusOK
}

// ClosureApply implements native.Runtime. The input vector stays owned by the
// caller; the returned vector is owned by the caller.
func (r *Runtime) ClosureApply(c native.Closure, input native.Vector) (native.Vector, native.Status) {
	r.mu.Lock()
	cl, ok := r.closures[c]
	_, hasInput := r.vectors[input]
	r.mu.Unlock()
	if !ok || !hasInput {
		return 0, native.StatusInvalidHandle
	}
	return cl.fn(input, cl.payload)
}

// ClosureFree implements native.Runtime.
func (r *Runtime) ClosureFree(c native.Closure) native.Status {
	r.mu.Lock()
	cl, ok := r.closures[c]
	if ok {
		delete(r.closures, c)
	}
	r.mu.Unlock()
	if !ok {
		return native.StatusInvalidHandle
	}
	klog.V(5).InfoS("closure released", "closure", uintptr(c))
	r.release(cl)
	return native.StatusOK
}

// release drops one reference to cl and runs its destructor on the last one.
// The destructor runs without the engine lock held.
func (r *Runtime) release(cl *closure) {
	r.mu.Lock()
	cl.refs--
	last := cl.refs == 0
	r.mu.Unlock()
	if last && cl.dtor != nil {
		klog.V(5).InfoS("closure destructor invoked")
		cl.dtor(cl.payload)
	}
}

// ValueAndGrad implements native.Runtime. The returned grad closure holds its
// own reference to c.
func (r *Runtime) ValueAndGrad(c native.Closure, argnums []int) (native.GradClosure, native.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cl, ok := r.closures[c]
	if !ok {
		return 0, native.StatusInvalidHandle
	}
	for _, a := range argnums {
		if a < 0 {
			return 0, native.StatusInvalidArgument
		}
	}
	cl.refs++
	h := native.GradClosure(r.nextHandle())
	r.grads[h] = &gradClosure{closure: cl, argnums: append([]int(nil), argnums...)}
	klog.V(5).InfoS("grad closure created", "grad", uintptr(h), "closure", uintptr(c), "argnums", len(argnums))
	return h, native.StatusOK
}

// GradClosureFree implements native.Runtime.
func (r *Runtime) GradClosureFree(g native.GradClosure) native.Status {
	r.mu.Lock()
	gc, ok := r.grads[g]
	if ok {
		delete(r.grads, g)
	}
	r.mu.Unlock()
	if !ok {
		return native.StatusInvalidHandle
	}
	klog.V(5).InfoS("grad closure released", "grad", uintptr(g))
	r.release(gc.closure)
	return native.StatusOK
}

// GradClosureApply implements native.Runtime.
//
// Every input is wrapped in a fresh leaf so that gradients are taken with
// respect to this call's inputs only. The callback receives a vector of leaf
// handles that the engine releases once the callback returns. The first output
// must hold exactly one float32 element.
func (r *Runtime) GradClosureApply(g native.GradClosure, input native.Vector) (values, grads native.Vector, status native.Status) {
	r.mu.Lock()
	gc, ok := r.grads[g]
	in, hasInput := r.vectors[input]
	r.mu.Unlock()
	if !ok || !hasInput {
		return 0, 0, native.StatusInvalidHandle
	}
	for _, a := range gc.argnums {
		if a >= len(in) {
			return 0, 0, native.StatusInvalidArgument
		}
	}

	leaves := make([]*node, len(in))
	for i, n := range in {
		leaves[i] = n.leaf()
	}
	args := r.addVector(leaves)
	out, st := gc.closure.fn(args, gc.closure.payload)
	r.VectorFree(args)
	if st != native.StatusOK {
		klog.V(5).InfoS("closure callback failed", "grad", uintptr(g), "status", st.String())
		return 0, 0, st
	}

	outputs, st := r.takeVector(out)
	if st != native.StatusOK {
		return 0, 0, st
	}
	if len(outputs) == 0 {
		return 0, 0, native.StatusInvalidArgument
	}
	loss := outputs[0]
	if loss.dtype != native.Float32 || loss.size() != 1 {
		return 0, 0, native.StatusShapeMismatch
	}

	byNode := backward(loss)
	gradNodes := make([]*node, len(gc.argnums))
	for i, a := range gc.argnums {
		leaf := leaves[a]
		gv, ok := byNode[leaf]
		if !ok {
			gv = make([]float32, leaf.size())
		}
		gradNodes[i] = newFloatNode(leaf.shape, gv)
	}
	return r.addVector(outputs), r.addVector(gradNodes), native.StatusOK
}
