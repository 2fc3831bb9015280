package optim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/kiln/internal/native/cpu"
	"github.com/born-ml/kiln/internal/nn"
	"github.com/born-ml/kiln/internal/optim"
	"github.com/born-ml/kiln/internal/tensor"
)

func newScalarModel(t *testing.T, value float32) (*nn.Linear, *tensor.Context, *cpu.Runtime) {
	t.Helper()
	rt := cpu.New()
	ctx := tensor.NewContext(rt, 3)
	w, err := ctx.FromFloat32([]float32{value}, tensor.Shape{1, 1})
	require.NoError(t, err)
	return nn.NewLinearFrom(w, nil), ctx, rt
}

func gradient(t *testing.T, ctx *tensor.Context, path string, g float32) *nn.ParameterCollection {
	t.Helper()
	v, err := ctx.FromFloat32([]float32{g}, tensor.Shape{1, 1})
	require.NoError(t, err)
	c := nn.NewParameterCollection()
	c.Set(path, v, true)
	return c
}

func weightOf(m *nn.Linear) float32 {
	return m.Weight().Value().Float32s()[0]
}

// TestSGD_SimpleUpdate tests SGD without momentum.
func TestSGD_SimpleUpdate(t *testing.T) {
	model, ctx, rt := newScalarModel(t, 2)
	opt := optim.NewSGD(optim.SGDConfig{LR: 0.1})
	grads := gradient(t, ctx, "weight", 1)

	before := model.Weight().Value()
	require.NoError(t, opt.Update(model, grads))

	// x_new = x_old - lr * grad = 2.0 - 0.1 * 1.0 = 1.9
	assert.InDelta(t, 1.9, weightOf(model), 1e-6)
	assert.True(t, before.Freed(), "previous value is released")
	assert.True(t, model.Weight().Trainable())

	require.NoError(t, grads.Free())
	require.NoError(t, model.Close())
	assert.Zero(t, rt.LiveArrays())
}

// TestSGD_WithMomentum tests SGD with momentum.
func TestSGD_WithMomentum(t *testing.T) {
	model, ctx, _ := newScalarModel(t, 1)
	defer model.Close()
	opt := optim.NewSGD(optim.SGDConfig{LR: 0.1, Momentum: 0.9})
	grads := gradient(t, ctx, "weight", 1)
	defer grads.Free()

	// v1 = 1, x = 1 - 0.1 = 0.9
	require.NoError(t, opt.Update(model, grads))
	assert.InDelta(t, 0.9, weightOf(model), 1e-6)

	// v2 = 0.9 + 1 = 1.9, x = 0.9 - 0.19 = 0.71
	require.NoError(t, opt.Update(model, grads))
	assert.InDelta(t, 0.71, weightOf(model), 1e-6)
}

func TestSGD_Defaults(t *testing.T) {
	assert.InDelta(t, 0.01, optim.NewSGD(optim.SGDConfig{}).LR(), 1e-9)
	assert.InDelta(t, 0.001, optim.NewAdam(optim.AdamConfig{}).LR(), 1e-9)

	opt := optim.NewSGD(optim.SGDConfig{LR: 0.5})
	opt.SetLR(0.25)
	assert.InDelta(t, 0.25, opt.LR(), 1e-9)
}

// TestAdam_FirstStep checks that the bias-corrected first step moves each
// parameter by about lr.
func TestAdam_FirstStep(t *testing.T) {
	model, ctx, _ := newScalarModel(t, 1)
	defer model.Close()
	opt := optim.NewAdam(optim.AdamConfig{LR: 0.1})
	grads := gradient(t, ctx, "weight", 4)
	defer grads.Free()

	require.NoError(t, opt.Update(model, grads))
	assert.InDelta(t, 0.9, weightOf(model), 1e-5)
	assert.Equal(t, 1, opt.Steps())

	require.NoError(t, opt.Update(model, grads))
	assert.InDelta(t, 0.8, weightOf(model), 1e-4)
}

func TestUpdate_SkipsUnknownPaths(t *testing.T) {
	model, ctx, _ := newScalarModel(t, 1)
	defer model.Close()
	grads := gradient(t, ctx, "missing", 1)
	defer grads.Free()

	before := model.Weight().Value()
	require.NoError(t, optim.NewSGD(optim.SGDConfig{}).Update(model, grads))
	assert.Same(t, before, model.Weight().Value())
}

func TestUpdate_ShapeMismatch(t *testing.T) {
	model, ctx, _ := newScalarModel(t, 1)
	defer model.Close()
	wrong, err := ctx.FromFloat32([]float32{1, 2}, tensor.Shape{2})
	require.NoError(t, err)
	grads := nn.NewParameterCollection()
	grads.Set("weight", wrong, true)
	defer grads.Free()

	assert.Error(t, optim.NewSGD(optim.SGDConfig{}).Update(model, grads))
}

// TestTraining fits y = 2x + 1 with value-and-grad and each optimizer.
func TestTraining(t *testing.T) {
	tests := []struct {
		name string
		opt  optim.Optimizer
	}{
		{"sgd", optim.NewSGD(optim.SGDConfig{LR: 0.05, Momentum: 0.5})},
		{"adam", optim.NewAdam(optim.AdamConfig{LR: 0.1})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := cpu.New()
			ctx := tensor.NewContext(rt, 11)
			model := nn.NewLinear(ctx, 1, 1, true)
			x, err := ctx.FromFloat32([]float32{0, 1, 2, 3}, tensor.Shape{4, 1})
			require.NoError(t, err)
			y, err := ctx.FromFloat32([]float32{1, 3, 5, 7}, tensor.Shape{4, 1})
			require.NoError(t, err)

			step := nn.BuildValueAndGrad(model, func(m nn.Module, x, y *tensor.Tensor) (*tensor.Tensor, error) {
				pred := m.(*nn.Linear).Forward(x)
				defer pred.Free()
				return nn.MSELoss(pred, y, nn.ReductionMean)
			})

			var first, last float32
			for i := range 200 {
				loss, grads, err := step.Apply(model, x, y)
				require.NoError(t, err)
				if i == 0 {
					first = loss.Item()
				}
				last = loss.Item()
				require.NoError(t, tt.opt.Update(model, grads))
				require.NoError(t, loss.Free())
				require.NoError(t, grads.Free())
			}
			assert.Less(t, last, first/10, "loss %v -> %v", first, last)

			require.NoError(t, step.Close())
			require.NoError(t, x.Free())
			require.NoError(t, y.Free())
			require.NoError(t, model.Close())
			assert.Zero(t, rt.LiveArrays())
			assert.Zero(t, rt.LiveClosures())
		})
	}
}
