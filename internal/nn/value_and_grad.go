package nn

import (
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/kiln/internal/tensor"
)

// LossFunc computes one or more outputs from a model and call arguments. The
// first output is the value differentiated; it must hold a single element.
//
// Returned tensors are handed to the engine and released once it has taken
// them, except the model's own parameters. Return a Copy of anything else the
// loss does not own.
type LossFunc[A any] func(m Module, args A) ([]*tensor.Tensor, error)

// ValueAndGrad evaluates a loss and its gradients with respect to the
// trainable parameters of a model.
//
// A compiled kernel is cached per parameter layout: repeated calls with the
// same trainable paths reuse it, while freezing or unfreezing a parameter
// compiles a new one on the next call. A ValueAndGrad is safe for concurrent
// use; calls run one at a time because the loss sees the model with the
// engine's values swapped in.
//
// Example:
//
//	vg := nn.NewValueAndGrad(model, func(m nn.Module, batch Batch) ([]*tensor.Tensor, error) {
//	    pred := m.(*nn.Linear).Forward(batch.X)
//	    return []*tensor.Tensor{pred.Sub(batch.Y).Square().Mean()}, nil
//	})
//	defer vg.Close()
//
//	outputs, grads, err := vg.Apply(model, batch)
type ValueAndGrad[A any] struct {
	model Module
	loss  LossFunc[A]
	cache bool

	run sync.Mutex // serializes Apply

	mu     sync.Mutex // guards kernel
	kernel *kernel
}

// GradOption configures a ValueAndGrad.
type GradOption func(*gradOptions)

type gradOptions struct {
	cache bool
}

// CacheKernel controls whether the compiled kernel is kept between calls.
// Default: true. Without caching every Apply compiles a kernel and releases
// it before returning.
func CacheKernel(v bool) GradOption {
	return func(o *gradOptions) { o.cache = v }
}

// NewValueAndGrad captures model and loss. Nothing is compiled until the
// first Apply.
func NewValueAndGrad[A any](model Module, loss LossFunc[A], opts ...GradOption) *ValueAndGrad[A] {
	o := gradOptions{cache: true}
	for _, opt := range opts {
		opt(&o)
	}
	return &ValueAndGrad[A]{model: model, loss: loss, cache: o.cache}
}

// Apply evaluates the loss at the model's current trainable parameters.
//
// It returns the loss outputs and the gradients keyed by parameter path; both
// are owned by the caller. A failure returned by the loss is returned
// unchanged, and a panic inside the loss is re-raised with its original value.
func (v *ValueAndGrad[A]) Apply(model Module, args A) ([]*tensor.Tensor, *ParameterCollection, error) {
	if model != v.model {
		return nil, nil, ErrModelMismatch
	}
	if model.base().closed {
		return nil, nil, errors.Wrap(ErrDisposed, "value-and-grad on a closed model")
	}
	v.run.Lock()
	defer v.run.Unlock()

	params := model.TrainableParameters()
	if params.Len() == 0 {
		return nil, nil, ErrNoTrainableParameters
	}
	call := func(m Module) ([]*tensor.Tensor, error) {
		return v.loss(m, args)
	}
	if !v.cache {
		return v.applyOnce(params, call)
	}
	for {
		k, err := v.kernelFor(params)
		if err != nil {
			return nil, nil, err
		}
		outputs, grads, err := k.apply(params, call)
		if err == errKernelClosed {
			continue
		}
		return outputs, grads, err
	}
}

// applyOnce compiles a kernel for a single call and releases it afterwards.
func (v *ValueAndGrad[A]) applyOnce(params *ParameterCollection, call lossCall) ([]*tensor.Tensor, *ParameterCollection, error) {
	ctx, err := contextOf(params)
	if err != nil {
		return nil, nil, err
	}
	k, err := compileKernel(v.model, ctx, NewParameterLayout(params))
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err := k.Close(); err != nil {
			klog.V(2).InfoS("error disposing value-and-grad kernel", "kernel", k.state.id, "err", err)
		}
	}()
	return k.apply(params, call)
}

func (v *ValueAndGrad[A]) kernelFor(params *ParameterCollection) (*kernel, error) {
	layout := NewParameterLayout(params)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.kernel != nil {
		if v.kernel.state.layout.Matches(layout) {
			klog.V(4).InfoS("reusing value-and-grad kernel", "kernel", v.kernel.state.id)
			return v.kernel, nil
		}
		klog.V(4).InfoS("parameter layout changed", "kernel", v.kernel.state.id)
		if err := v.kernel.Close(); err != nil {
			klog.V(2).InfoS("error disposing stale kernel", "kernel", v.kernel.state.id, "err", err)
		}
		v.kernel = nil
	}

	ctx, err := contextOf(params)
	if err != nil {
		return nil, err
	}
	k, err := compileKernel(v.model, ctx, layout)
	if err != nil {
		return nil, err
	}
	v.kernel = k
	return k, nil
}

// contextOf returns the tensor context shared by every parameter.
func contextOf(params *ParameterCollection) (*tensor.Context, error) {
	var ctx *tensor.Context
	for path, e := range params.All() {
		c := e.Value.Context()
		switch {
		case ctx == nil:
			ctx = c
		case c.Runtime() != ctx.Runtime():
			return nil, errors.Errorf("parameter %q lives on engine %s, expected %s", path, c.Runtime().Name(), ctx.Runtime().Name())
		}
	}
	if ctx == nil {
		return nil, ErrNoTrainableParameters
	}
	return ctx, nil
}

// Close releases the cached kernel. The ValueAndGrad stays usable and
// compiles a new kernel on the next Apply.
func (v *ValueAndGrad[A]) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.kernel == nil {
		return nil
	}
	err := v.kernel.Close()
	v.kernel = nil
	return err
}

// currentKernel returns the cached kernel, if any.
func (v *ValueAndGrad[A]) currentKernel() *kernel {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.kernel
}

type tensorPair struct {
	x, y *tensor.Tensor
}

// PairValueAndGrad is the value-and-grad form of a loss over two tensors,
// typically an input batch and its targets.
type PairValueAndGrad struct {
	vg *ValueAndGrad[tensorPair]
}

// BuildValueAndGrad wraps a loss of the form loss(model, x, y).
//
// Example:
//
//	step := nn.BuildValueAndGrad(model, func(m nn.Module, x, y *tensor.Tensor) (*tensor.Tensor, error) {
//	    return nn.MSELoss(m.(*nn.Linear).Forward(x), y, nn.ReductionMean)
//	})
//	loss, grads, err := step.Apply(model, x, y)
func BuildValueAndGrad(model Module, loss func(m Module, x, y *tensor.Tensor) (*tensor.Tensor, error), opts ...GradOption) *PairValueAndGrad {
	return &PairValueAndGrad{
		vg: NewValueAndGrad(model, func(m Module, args tensorPair) ([]*tensor.Tensor, error) {
			out, err := loss(m, args.x, args.y)
			if err != nil {
				return nil, err
			}
			return []*tensor.Tensor{out}, nil
		}, opts...),
	}
}

// Apply returns the loss value and the gradients keyed by parameter path.
func (p *PairValueAndGrad) Apply(model Module, x, y *tensor.Tensor) (*tensor.Tensor, *ParameterCollection, error) {
	outputs, grads, err := p.vg.Apply(model, tensorPair{x: x, y: y})
	if err != nil {
		return nil, nil, err
	}
	if len(outputs) != 1 {
		freeAll(outputs)
		_ = grads.Free()
		return nil, nil, errors.Wrapf(ErrOutputCount, "expected 1 output, got %d", len(outputs))
	}
	return outputs[0], grads, nil
}

// Close releases the cached kernel.
func (p *PairValueAndGrad) Close() error {
	return p.vg.Close()
}

// ListValueAndGrad is the value-and-grad form of a loss over a list of
// tensors.
type ListValueAndGrad struct {
	vg *ValueAndGrad[[]*tensor.Tensor]
}

// BuildValueAndGradList wraps a loss of the form loss(model, args). A nil
// argument list is passed to the loss as an empty one.
func BuildValueAndGradList(model Module, loss func(m Module, args []*tensor.Tensor) ([]*tensor.Tensor, error), opts ...GradOption) *ListValueAndGrad {
	return &ListValueAndGrad{
		vg: NewValueAndGrad(model, func(m Module, args []*tensor.Tensor) ([]*tensor.Tensor, error) {
			if args == nil {
				args = []*tensor.Tensor{}
			}
			return loss(m, args)
		}, opts...),
	}
}

// Apply returns the loss outputs and the gradients keyed by parameter path.
func (l *ListValueAndGrad) Apply(model Module, args []*tensor.Tensor) ([]*tensor.Tensor, *ParameterCollection, error) {
	return l.vg.Apply(model, args)
}

// Close releases the cached kernel.
func (l *ListValueAndGrad) Close() error {
	return l.vg.Close()
}
