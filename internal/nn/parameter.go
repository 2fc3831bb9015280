package nn

import (
	"github.com/pkg/errors"

	"github.com/born-ml/kiln/internal/tensor"
)

// slot is a named, owned tensor.
type slot struct {
	name   string
	value  *tensor.Tensor
	closed bool
}

// Name returns the slot name (e.g. "weight").
func (s *slot) Name() string {
	return s.name
}

// Value returns the current tensor. Ownership stays with the slot.
func (s *slot) Value() *tensor.Tensor {
	return s.value
}

// SetValue replaces the tensor held by the slot.
//
// When disposeCurrent is set the previous tensor is released, unless it is v
// itself. Pass false when the previous tensor is owned elsewhere or will be put
// back later.
func (s *slot) SetValue(v *tensor.Tensor, disposeCurrent bool) error {
	if s.closed {
		return errors.Wrapf(ErrDisposed, "set %q", s.name)
	}
	if v == nil {
		return errors.Errorf("set %q: nil tensor", s.name)
	}
	prev := s.value
	s.value = v
	if disposeCurrent && prev != nil && prev != v && !prev.Freed() {
		if err := prev.Free(); err != nil {
			return errors.Wrapf(err, "release previous value of %q", s.name)
		}
	}
	return nil
}

// Close releases the held tensor. It is safe to call more than once.
func (s *slot) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.value == nil || s.value.Freed() {
		return nil
	}
	return errors.Wrapf(s.value.Free(), "release %q", s.name)
}

// Parameter is a named tensor owned by one module. It takes part in gradient
// computation unless frozen.
//
// Example:
//
//	w := m.RegisterParameter("weight", ctx.Zeros(tensor.Shape{4, 2}), true)
//	w.SetTrainable(false) // freeze just this parameter
type Parameter struct {
	slot
	trainable bool
}

// Trainable reports whether gradients are computed for the parameter.
func (p *Parameter) Trainable() bool {
	return p.trainable
}

// SetTrainable freezes (false) or unfreezes (true) the parameter.
func (p *Parameter) SetTrainable(v bool) {
	p.trainable = v
}

// Buffer is a named tensor owned by one module that never receives gradients,
// such as the scales of a quantized layer.
type Buffer struct {
	slot
}
