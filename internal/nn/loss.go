package nn

import (
	"github.com/pkg/errors"

	"github.com/born-ml/kiln/internal/tensor"
)

// Reduction selects how per-element losses are combined.
type Reduction int

const (
	// ReductionMean averages over every element.
	ReductionMean Reduction = iota
	// ReductionSum adds every element.
	ReductionSum
	// ReductionNone returns the per-element losses.
	ReductionNone
)

// String returns the reduction name.
func (r Reduction) String() string {
	switch r {
	case ReductionMean:
		return "mean"
	case ReductionSum:
		return "sum"
	case ReductionNone:
		return "none"
	default:
		return "unknown"
	}
}

// reduce consumes loss.
func (r Reduction) reduce(loss *tensor.Tensor) (*tensor.Tensor, error) {
	switch r {
	case ReductionNone:
		return loss, nil
	case ReductionMean:
		defer release(loss)
		return loss.Mean(), nil
	case ReductionSum:
		defer release(loss)
		return loss.Sum(), nil
	default:
		release(loss)
		return nil, errors.Errorf("unknown loss reduction %d", int(r))
	}
}

func checkLossShapes(name string, pred, target *tensor.Tensor) error {
	if _, err := tensor.BroadcastShapes(pred.Shape(), target.Shape()); err != nil {
		return errors.Wrapf(err, "%s: predictions %v and targets %v", name, pred.Shape(), target.Shape())
	}
	return nil
}

// MSELoss computes the mean squared error (pred - target)^2.
//
// Example:
//
//	loss, err := nn.MSELoss(pred, target, nn.ReductionMean)
func MSELoss(pred, target *tensor.Tensor, reduction Reduction) (*tensor.Tensor, error) {
	if err := checkLossShapes("mse loss", pred, target); err != nil {
		return nil, err
	}
	diff := pred.Sub(target)
	defer release(diff)
	return reduction.reduce(diff.Square())
}

// L1Loss computes the absolute error |pred - target|.
func L1Loss(pred, target *tensor.Tensor, reduction Reduction) (*tensor.Tensor, error) {
	if err := checkLossShapes("l1 loss", pred, target); err != nil {
		return nil, err
	}
	diff := pred.Sub(target)
	defer release(diff)
	return reduction.reduce(diff.Abs())
}
