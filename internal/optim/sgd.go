package optim

import (
	"github.com/born-ml/kiln/internal/nn"
)

// SGD implements Stochastic Gradient Descent optimizer with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * gradient
//
// Update rule with momentum:
//
//	velocity = momentum * velocity + gradient
//	param = param - lr * velocity
//
// Momentum helps accelerate SGD in relevant directions and dampens oscillations.
//
// Example:
//
//	optimizer := optim.NewSGD(optim.SGDConfig{
//	    LR:       0.01,
//	    Momentum: 0.9,
//	})
//	err := optimizer.Update(model, grads)
type SGD struct {
	lr         float32
	momentum   float32
	velocities map[string][]float32 // keyed by parameter path
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR       float32 // Learning rate (default: 0.01)
	Momentum float32 // Momentum factor (default: 0.0, range: [0, 1))
}

// NewSGD creates a new SGD optimizer.
func NewSGD(config SGDConfig) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD{
		lr:         config.LR,
		momentum:   config.Momentum,
		velocities: make(map[string][]float32),
	}
}

// Update performs a single optimization step.
//
//   - Without momentum: param -= lr * grad
//   - With momentum: velocity = momentum * velocity + grad, param -= lr * velocity
func (s *SGD) Update(model nn.Module, grads *nn.ParameterCollection) error {
	return apply(model, grads, func(path string, param, grad []float32) {
		if s.momentum == 0 {
			for i, g := range grad {
				param[i] -= s.lr * g
			}
			return
		}
		velocity := state(s.velocities, path, len(param))
		for i, g := range grad {
			velocity[i] = s.momentum*velocity[i] + g
			param[i] -= s.lr * velocity[i]
		}
	})
}

// LR returns the current learning rate.
func (s *SGD) LR() float32 {
	return s.lr
}

// SetLR sets the learning rate.
func (s *SGD) SetLR(lr float32) {
	s.lr = lr
}
