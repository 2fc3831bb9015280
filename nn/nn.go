// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/kiln/internal/nn"
	"github.com/born-ml/kiln/tensor"
)

// Module is the common interface of every node in a module tree.
type Module = nn.Module

// Base carries the parameters, buffers and children of a module. Custom
// modules embed it and call Init with themselves.
type Base = nn.Base

// UnaryLayer is a module mapping one tensor to another.
type UnaryLayer = nn.UnaryLayer

// Parameter is a named tensor slot with a trainable flag.
type Parameter = nn.Parameter

// Buffer is a named tensor slot that is never trained.
type Buffer = nn.Buffer

// TrainHook is implemented by modules that react to Train. DidSetTrain runs
// after the module's own flag changes and before its children are visited.
type TrainHook = nn.TrainHook

// Register attaches m to parent under name and returns it.
//
// Example:
//
//	m.fc = nn.Register(&m.Base, "fc", nn.NewLinear(ctx, 4, 2, true))
func Register[M Module](parent *Base, name string, m M) M {
	return nn.Register(parent, name, m)
}

// Collections

// ParameterCollection maps dotted paths to tensors.
type ParameterCollection = nn.ParameterCollection

// ParameterEntry is one value of a ParameterCollection.
type ParameterEntry = nn.ParameterEntry

// NewParameterCollection creates an empty collection.
func NewParameterCollection() *ParameterCollection {
	return nn.NewParameterCollection()
}

// ParameterLayout is the ordered set of paths and shapes of a collection.
type ParameterLayout = nn.ParameterLayout

// NewParameterLayout records the layout of c.
func NewParameterLayout(c *ParameterCollection) *ParameterLayout {
	return nn.NewParameterLayout(c)
}

// Options

// Option configures traversal, freezing and update operations.
type Option = nn.Option

// Recursive controls whether an operation descends into children.
func Recursive(v bool) Option { return nn.Recursive(v) }

// IncludeFrozen controls whether frozen parameters are visited.
func IncludeFrozen(v bool) Option { return nn.IncludeFrozen(v) }

// IncludeSelf controls whether FlattenModules reports the root under "".
func IncludeSelf(v bool) Option { return nn.IncludeSelf(v) }

// Strict makes updates fail on unknown or missing paths.
func Strict(v bool) Option { return nn.Strict(v) }

// DisposeReplaced releases values replaced by an update.
func DisposeReplaced(v bool) Option { return nn.DisposeReplaced(v) }

// Paths restricts an operation to the given dotted paths.
func Paths(paths ...string) Option { return nn.Paths(paths...) }

// Errors
var (
	ErrNotFound              = nn.ErrNotFound
	ErrIncompleteUpdate      = nn.ErrIncompleteUpdate
	ErrDisposed              = nn.ErrDisposed
	ErrModelMismatch         = nn.ErrModelMismatch
	ErrOutputCount           = nn.ErrOutputCount
	ErrNoTrainableParameters = nn.ErrNoTrainableParameters
)

// Layers

// Linear is a fully connected layer computing x @ Wᵀ + b.
type Linear = nn.Linear

// NewLinear creates a linear layer initialized from U(-1/sqrt(in), 1/sqrt(in)).
//
// Example:
//
//	ctx := tensor.NewContext(cpu.New(), 42)
//	layer := nn.NewLinear(ctx, 784, 128, true)
func NewLinear(ctx *tensor.Context, inFeatures, outFeatures int, bias bool) *Linear {
	return nn.NewLinear(ctx, inFeatures, outFeatures, bias)
}

// NewLinearFrom wraps existing weight [out, in] and optional bias [out] tensors.
func NewLinearFrom(weight, bias *tensor.Tensor) *Linear {
	return nn.NewLinearFrom(weight, bias)
}

// Embedding is a lookup table of count vectors of size dims.
type Embedding = nn.Embedding

// NewEmbedding creates an embedding initialized from N(0, 1/sqrt(dims)).
func NewEmbedding(ctx *tensor.Context, count, dims int) *Embedding {
	return nn.NewEmbedding(ctx, count, dims)
}

// NewEmbeddingFrom wraps an existing [count, dims] weight.
func NewEmbeddingFrom(weight *tensor.Tensor, trainable bool) *Embedding {
	return nn.NewEmbeddingFrom(weight, trainable)
}

// Sequential chains layers registered as children "0", "1", ...
type Sequential = nn.Sequential

// NewSequential creates a sequential container.
//
// Example:
//
//	model := nn.NewSequential(
//	    nn.NewLinear(ctx, 784, 128, true),
//	    nn.NewReLU(),
//	    nn.NewLinear(ctx, 128, 10, true),
//	)
func NewSequential(layers ...UnaryLayer) *Sequential {
	return nn.NewSequential(layers...)
}

// Dropout zeroes inputs with probability p in training mode.
type Dropout = nn.Dropout

// NewDropout creates a dropout layer. p must be in [0, 1).
func NewDropout(p float32) *Dropout {
	return nn.NewDropout(p)
}

// Dropout2d zeroes whole channels of [N, C, H, W] or [C, H, W] inputs.
type Dropout2d = nn.Dropout2d

// NewDropout2d creates a channel dropout layer for 2D feature maps.
func NewDropout2d(p float32) *Dropout2d { return nn.NewDropout2d(p) }

// Dropout3d zeroes whole channels of [N, C, D, H, W] or [C, D, H, W] inputs.
type Dropout3d = nn.Dropout3d

// NewDropout3d creates a channel dropout layer for 3D feature maps.
func NewDropout3d(p float32) *Dropout3d { return nn.NewDropout3d(p) }

// LayerNorm normalizes over the last dimension with a learnable weight and bias.
type LayerNorm = nn.LayerNorm

// NewLayerNorm creates a layer norm over a last dimension of size dims.
//
// Example:
//
//	norm := nn.NewLayerNorm(ctx, 768, 1e-5, true)
func NewLayerNorm(ctx *tensor.Context, dims int, eps float32, affine bool) *LayerNorm {
	return nn.NewLayerNorm(ctx, dims, eps, affine)
}

// RMSNorm scales by the reciprocal root mean square of the last dimension.
type RMSNorm = nn.RMSNorm

// NewRMSNorm creates an RMS norm over a last dimension of size dims.
func NewRMSNorm(ctx *tensor.Context, dims int, eps float32) *RMSNorm {
	return nn.NewRMSNorm(ctx, dims, eps)
}

// Activations

// Identity returns its input.
type Identity = nn.Identity

// NewIdentity creates an identity layer.
func NewIdentity() *Identity { return nn.NewIdentity() }

// ReLU computes max(x, 0).
type ReLU = nn.ReLU

// NewReLU creates a ReLU activation layer.
func NewReLU() *ReLU { return nn.NewReLU() }

// LeakyReLU computes max(x, slope*x).
type LeakyReLU = nn.LeakyReLU

// NewLeakyReLU creates a leaky ReLU activation layer.
func NewLeakyReLU(slope float32) *LeakyReLU { return nn.NewLeakyReLU(slope) }

// Sigmoid computes 1 / (1 + exp(-x)).
type Sigmoid = nn.Sigmoid

// NewSigmoid creates a sigmoid activation layer.
func NewSigmoid() *Sigmoid { return nn.NewSigmoid() }

// Tanh computes the hyperbolic tangent.
type Tanh = nn.Tanh

// NewTanh creates a tanh activation layer.
func NewTanh() *Tanh { return nn.NewTanh() }

// SiLU computes x * sigmoid(x).
type SiLU = nn.SiLU

// NewSiLU creates a SiLU activation layer.
func NewSiLU() *SiLU { return nn.NewSiLU() }

// GELU computes the exact Gaussian error linear unit.
type GELU = nn.GELU

// NewGELU creates a GELU activation layer.
func NewGELU() *GELU { return nn.NewGELU() }

// Softmax normalizes along an axis into probabilities.
type Softmax = nn.Softmax

// NewSoftmax creates a softmax over axis.
func NewSoftmax(axis int) *Softmax { return nn.NewSoftmax(axis) }

// Loss functions

// Reduction selects how elementwise losses are combined.
type Reduction = nn.Reduction

// Reductions.
const (
	ReductionMean = nn.ReductionMean
	ReductionSum  = nn.ReductionSum
	ReductionNone = nn.ReductionNone
)

// MSELoss computes the squared error between pred and target.
func MSELoss(pred, target *tensor.Tensor, reduction Reduction) (*tensor.Tensor, error) {
	return nn.MSELoss(pred, target, reduction)
}

// L1Loss computes the absolute error between pred and target.
func L1Loss(pred, target *tensor.Tensor, reduction Reduction) (*tensor.Tensor, error) {
	return nn.L1Loss(pred, target, reduction)
}
