package nn

import "github.com/pkg/errors"

// Sentinel errors. Returned errors wrap these with context; test with errors.Is.
var (
	// ErrNotFound is returned by a strict update when a path does not resolve.
	ErrNotFound = errors.New("path not found")

	// ErrIncompleteUpdate is returned by a strict update that does not supply
	// every existing path.
	ErrIncompleteUpdate = errors.New("strict update does not cover every path")

	// ErrDisposed is returned when a closed module or kernel is used.
	ErrDisposed = errors.New("use of disposed object")

	// ErrModelMismatch is returned when a value-and-grad function is invoked with
	// a model other than the one it was built for.
	ErrModelMismatch = errors.New("model does not match the model captured at build time")

	// ErrOutputCount is returned when a loss yields the wrong number of outputs.
	ErrOutputCount = errors.New("unexpected number of loss outputs")

	// ErrNoTrainableParameters is returned when gradients are requested for a
	// model whose parameters are all frozen.
	ErrNoTrainableParameters = errors.New("model has no trainable parameters")
)
