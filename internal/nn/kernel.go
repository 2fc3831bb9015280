package nn

import (
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/kiln/internal/native"
	"github.com/born-ml/kiln/internal/tensor"
)

// errKernelClosed is returned by apply when the kernel was disposed after it
// was looked up, which happens when a concurrent call changed the layout.
var errKernelClosed = errors.Wrap(ErrDisposed, "value-and-grad kernel")

// lossCall runs the user loss for one invocation against the model as seen by
// the engine.
type lossCall func(m Module) ([]*tensor.Tensor, error)

// kernelState is the Go side of a compiled kernel that native callbacks can
// reach through the payload token. It must not reference the kernel itself,
// so the kernel stays collectable while the token is registered.
type kernelState struct {
	id     uuid.UUID
	model  Module
	ctx    *tensor.Context
	layout *ParameterLayout

	// Per-invocation state, guarded by kernel.mu.
	pending    lossCall
	failure    error
	panicked   bool
	panicValue any
}

// kernelHandles are the native resources of a kernel, released in field order.
type kernelHandles struct {
	rt      native.Runtime
	id      uuid.UUID
	grad    native.GradClosure
	closure native.Closure
}

// kernel is a value-and-grad closure compiled for one ParameterLayout.
type kernel struct {
	mu      sync.Mutex
	state   *kernelState
	handles kernelHandles
	closed  bool
	cleanup runtime.Cleanup
}

// compileKernel registers the callback with the engine and wraps it with the
// native value-and-grad transform over every layout position.
func compileKernel(model Module, ctx *tensor.Context, layout *ParameterLayout) (*kernel, error) {
	state := &kernelState{
		id:     uuid.New(),
		model:  model,
		ctx:    ctx,
		layout: layout,
	}
	rt := ctx.Runtime()

	payload := native.NewPayload(state)
	closure, st := rt.ClosureNew(kernelCallback, payload, releasePayload)
	if err := native.Check(st, "closure_new_func_payload"); err != nil {
		payload.Delete()
		return nil, err
	}

	argnums := make([]int, layout.Len())
	for i := range argnums {
		argnums[i] = i
	}
	grad, st := rt.ValueAndGrad(closure, argnums)
	if err := native.Check(st, "value_and_grad"); err != nil {
		// Releasing the closure runs the destructor, which deletes the token.
		if fst := rt.ClosureFree(closure); fst != native.StatusOK {
			klog.V(2).InfoS("failed to release closure", "kernel", state.id, "status", fst.String())
		}
		return nil, err
	}

	k := &kernel{
		state:   state,
		handles: kernelHandles{rt: rt, id: state.id, grad: grad, closure: closure},
	}
	k.cleanup = runtime.AddCleanup(k, finalizeKernel, k.handles)
	klog.V(4).InfoS("compiled value-and-grad kernel", "kernel", state.id, "engine", rt.Name(), "parameters", layout.Len())
	return k, nil
}

// release frees the wrapper closure, then the raw closure. The engine runs the
// payload destructor once the raw closure's last reference is gone.
func (h kernelHandles) release() error {
	var first error
	if err := native.Check(h.rt.GradClosureFree(h.grad), "closure_free(value_and_grad)"); err != nil {
		first = err
	}
	if err := native.Check(h.rt.ClosureFree(h.closure), "closure_free"); err != nil && first == nil {
		first = err
	}
	return first
}

func finalizeKernel(h kernelHandles) {
	defer func() {
		if r := recover(); r != nil {
			klog.V(2).InfoS("panic releasing collected kernel", "kernel", h.id, "panic", r)
		}
	}()
	if err := h.release(); err != nil {
		klog.V(2).InfoS("error releasing collected kernel", "kernel", h.id, "err", err)
		return
	}
	klog.V(4).InfoS("released collected kernel", "kernel", h.id)
}

func releasePayload(p native.Payload) {
	p.Delete()
}

// Close releases the kernel's native resources exactly once. It waits for an
// in-flight invocation to finish.
func (k *kernel) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	k.cleanup.Stop()
	klog.V(4).InfoS("disposing value-and-grad kernel", "kernel", k.state.id)
	return k.handles.release()
}

// apply evaluates the loss and its gradients at params.
//
// Invocations of one kernel are serialized: the loss for the current call is
// stashed on the state for the callback to pick up.
func (k *kernel) apply(params *ParameterCollection, loss lossCall) ([]*tensor.Tensor, *ParameterCollection, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, nil, errKernelClosed
	}

	rt := k.handles.rt
	handles, err := k.state.layout.Handles(params)
	if err != nil {
		return nil, nil, err
	}
	input, st := rt.VectorNew(handles)
	if err := native.Check(st, "vector_new"); err != nil {
		return nil, nil, err
	}
	defer rt.VectorFree(input)

	k.state.pending = loss
	values, grads, st := rt.GradClosureApply(k.handles.grad, input)
	failure, panicked, panicValue := k.state.failure, k.state.panicked, k.state.panicValue
	k.state.pending, k.state.failure, k.state.panicked, k.state.panicValue = nil, nil, false, nil

	if panicked {
		panic(panicValue)
	}
	if failure != nil {
		return nil, nil, failure
	}
	if err := native.Check(st, "closure_value_and_grad_apply"); err != nil {
		return nil, nil, err
	}
	defer rt.VectorFree(values)
	defer rt.VectorFree(grads)

	outputs, err := unpackVector(k.state.ctx, values)
	if err != nil {
		return nil, nil, err
	}
	gradients, err := unpackVector(k.state.ctx, grads)
	if err != nil {
		freeAll(outputs)
		return nil, nil, err
	}
	collection, err := k.state.layout.Rehydrate(gradients)
	if err != nil {
		freeAll(outputs)
		freeAll(gradients)
		return nil, nil, err
	}
	return outputs, collection, nil
}

// unpackVector takes an owned reference to every element of v.
func unpackVector(ctx *tensor.Context, v native.Vector) ([]*tensor.Tensor, error) {
	rt := ctx.Runtime()
	n, st := rt.VectorSize(v)
	if err := native.Check(st, "vector_size"); err != nil {
		return nil, err
	}
	out := make([]*tensor.Tensor, 0, n)
	for i := 0; i < n; i++ {
		h, st := rt.VectorGet(v, i)
		if err := native.Check(st, "vector_get"); err != nil {
			freeAll(out)
			return nil, err
		}
		out = append(out, ctx.Adopt(h))
	}
	return out, nil
}

func freeAll(ts []*tensor.Tensor) {
	for _, t := range ts {
		if t != nil && !t.Freed() {
			_ = t.Free()
		}
	}
}

// kernelCallback is the closure body invoked by the engine. Failures of the
// loss are recorded on the state and reported as StatusCallbackFailed; a panic
// never unwinds into the engine.
func kernelCallback(input native.Vector, payload native.Payload) (out native.Vector, status native.Status) {
	var state *kernelState
	defer func() {
		if r := recover(); r != nil {
			if state != nil {
				state.panicked, state.panicValue = true, r
			}
			out, status = 0, native.StatusCallbackFailed
		}
	}()

	state, ok := payload.Value().(*kernelState)
	if !ok {
		return 0, native.StatusCallbackFailed
	}
	out, err := state.invoke(input)
	if err != nil {
		state.failure = err
		return 0, native.StatusCallbackFailed
	}
	return out, native.StatusOK
}

// invoke runs the pending loss with the engine's tracer values in place of the
// model's trainable parameters.
//
// The engine's values are borrowed: they are swapped into the model without
// releasing the model's own tensors, and the model is restored before
// returning.
func (s *kernelState) invoke(input native.Vector) (native.Vector, error) {
	if s.pending == nil {
		return 0, errors.New("value-and-grad callback invoked outside of an application")
	}
	rt := s.ctx.Runtime()

	borrowed, err := unpackVector(s.ctx, input)
	if err != nil {
		return 0, err
	}
	defer freeAll(borrowed)

	tracers, err := s.layout.Rehydrate(borrowed)
	if err != nil {
		return 0, err
	}

	// Frozen parameters keep their current value so the update stays complete.
	snapshot := s.model.Parameters()
	update := snapshot.Clone()
	for path, e := range tracers.All() {
		update.Set(path, e.Value, e.Trainable)
	}
	if err := s.model.UpdateParameters(update, Strict(true), DisposeReplaced(false)); err != nil {
		return 0, errors.Wrap(err, "apply traced parameters")
	}
	defer func() {
		if err := s.model.UpdateParameters(snapshot, Strict(true), DisposeReplaced(false)); err != nil {
			klog.ErrorS(err, "failed to restore model parameters", "kernel", s.id)
		}
	}()

	outputs, err := s.pending(s.model)
	if err != nil {
		return 0, err
	}
	if len(outputs) == 0 {
		return 0, errors.Wrap(ErrOutputCount, "loss returned no outputs")
	}

	owned := make(map[*tensor.Tensor]bool, len(borrowed)+snapshot.Len())
	for _, t := range borrowed {
		owned[t] = true
	}
	for _, e := range snapshot.All() {
		owned[e.Value] = true
	}
	handles := make([]native.Array, len(outputs))
	for i, t := range outputs {
		handles[i] = t.Handle()
	}
	vec, st := rt.VectorNew(handles)
	for _, t := range outputs {
		if !owned[t] && !t.Freed() {
			_ = t.Free()
			owned[t] = true
		}
	}
	if err := native.Check(st, "vector_new"); err != nil {
		return 0, err
	}
	return vec, nil
}
