package nn_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/born-ml/kiln/internal/native/cpu"
	"github.com/born-ml/kiln/internal/nn"
	"github.com/born-ml/kiln/internal/tensor"
)

func newContext() (*tensor.Context, *cpu.Runtime) {
	rt := cpu.New()
	return tensor.NewContext(rt, 7), rt
}

func fromFloat32(t *testing.T, ctx *tensor.Context, data []float32, shape ...int) *tensor.Tensor {
	t.Helper()
	x, err := ctx.FromFloat32(data, tensor.Shape(shape))
	require.NoError(t, err)
	return x
}

// scaled is a module with a parameter and a buffer of its own plus a child.
type scaled struct {
	nn.Base
	scale   *nn.Parameter
	running *nn.Buffer
	inner   *nn.Linear
}

func newScaled(ctx *tensor.Context) *scaled {
	m := &scaled{}
	m.Init(m)
	m.scale = m.RegisterParameter("scale", ctx.Ones(tensor.Shape{1}), true)
	m.running = m.RegisterBuffer("running", ctx.Zeros(tensor.Shape{2}))
	m.inner = nn.Register(&m.Base, "inner", nn.NewLinear(ctx, 2, 2, true))
	return m
}

// dual holds two linear layers.
type dual struct {
	nn.Base
}

func newDual(ctx *tensor.Context, in, out int) *dual {
	m := &dual{}
	m.Init(m)
	m.RegisterModule("first", nn.NewLinear(ctx, in, out, true))
	m.RegisterModule("second", nn.NewLinear(ctx, in, out, true))
	return m
}

// line is y = w*x + b with w = 1 and b = 0.
func newLine(t *testing.T, ctx *tensor.Context) *nn.Linear {
	return nn.NewLinearFrom(fromFloat32(t, ctx, []float32{1}, 1, 1), fromFloat32(t, ctx, []float32{0}, 1))
}

func mseStep(m nn.Module, x, y *tensor.Tensor) (*tensor.Tensor, error) {
	pred := m.(nn.UnaryLayer).Forward(x)
	defer pred.Free()
	return nn.MSELoss(pred, y, nn.ReductionMean)
}

func modulesByType(m nn.Module) map[string]string {
	out := make(map[string]string)
	for path, sub := range m.FlattenModules() {
		out[path] = fmt.Sprintf("%T", sub)
	}
	return out
}
