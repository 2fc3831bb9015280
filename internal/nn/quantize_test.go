package nn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/kiln/internal/nn"
	"github.com/born-ml/kiln/internal/tensor"
)

func TestQuantize_FilterMatchingNothingLeavesTreeUnchanged(t *testing.T) {
	ctx, _ := newContext()
	model := newDual(ctx, 64, 4)
	defer model.Close()

	before := modulesByType(model)
	params := model.Parameters()

	err := nn.Quantize(model, nn.WithGroupSize(32), nn.WithFilter(func(string, nn.Module) bool { return false }))
	require.NoError(t, err)

	assert.Equal(t, before, modulesByType(model))
	for path, e := range model.Parameters().All() {
		assert.Same(t, params.Value(path), e.Value, path)
	}
}

func TestQuantize_Filter(t *testing.T) {
	ctx, _ := newContext()
	model := newDual(ctx, 64, 4)
	defer model.Close()
	first := model.Child("first")
	second := model.Child("second")

	err := nn.Quantize(model, nn.WithGroupSize(32), nn.WithFilter(func(path string, _ nn.Module) bool {
		return path == "second"
	}))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"first":  "*nn.Linear",
		"second": "*nn.QuantizedLinear",
	}, modulesByType(model))
	assert.Same(t, first, model.Child("first"))
	assert.True(t, second.(*nn.Linear).Closed(), "replaced layer is disposed")

	q := model.Child("second").(*nn.QuantizedLinear)
	assert.Equal(t, 32, q.GroupSize())
	assert.Equal(t, 4, q.Bits())
	assert.Equal(t, nn.Affine, q.Mode())
	assert.Equal(t, []string{"first.weight", "first.bias"}, model.TrainableParameters().Keys())
	assert.Equal(t, []string{"second.scales", "second.quant_biases"}, model.Buffers().Keys())
	assert.Equal(t, []string{"first.weight", "first.bias", "second.weight", "second.bias"}, model.Parameters().Keys(),
		"paths survive the replacement")
}

func TestQuantize_BestEffort(t *testing.T) {
	ctx, _ := newContext()
	model := nn.NewSequential(nn.NewLinear(ctx, 64, 8, true), nn.NewReLU(), nn.NewLinear(ctx, 8, 2, true))
	defer model.Close()
	model.Eval()

	// The last layer has too few inputs for a group and stays in full precision.
	require.NoError(t, nn.Quantize(model))
	assert.Equal(t, map[string]string{
		"0": "*nn.QuantizedLinear",
		"1": "*nn.ReLU",
		"2": "*nn.Linear",
	}, modulesByType(model))
	assert.False(t, model.Child("0").Training(), "replacement adopts the parent's mode")

	// Quantizing again changes nothing.
	before := model.Child("0")
	require.NoError(t, nn.Quantize(model))
	assert.Same(t, before, model.Child("0"))
}

func TestQuantizeSingle(t *testing.T) {
	ctx, _ := newContext()
	linear := nn.NewLinear(ctx, 32, 4, true)
	defer linear.Close()

	q := nn.QuantizeSingle(linear, 32, 4, nn.Affine)
	require.NotNil(t, q)
	defer q.Close()
	assert.IsType(t, &nn.QuantizedLinear{}, q)
	assert.False(t, linear.Closed(), "the source layer is untouched")

	assert.Nil(t, nn.QuantizeSingle(q, 32, 4, nn.Affine), "already quantized")
	assert.Nil(t, nn.QuantizeSingle(nn.NewReLU(), 32, 4, nn.Affine), "not quantizable")
	assert.Nil(t, nn.QuantizeSingle(linear, 32, 4, nn.MXFP4), "unsupported by the engine")
	assert.Nil(t, nn.QuantizeSingle(linear, 48, 4, nn.Affine), "invalid group size")
}

func TestQuantizedLinear_ApproximatesLinear(t *testing.T) {
	ctx, _ := newContext()
	linear := nn.NewLinear(ctx, 64, 4, true)
	defer linear.Close()
	x := ctx.Normal(tensor.Shape{3, 64}, 0, 1)
	defer x.Free()

	q, err := nn.NewQuantizedLinearFrom(linear, 32, 8, nn.Affine)
	require.NoError(t, err)
	defer q.Close()

	want := linear.Forward(x)
	defer want.Free()
	got := q.Forward(x)
	defer got.Free()

	assert.Equal(t, want.Shape(), got.Shape())
	assert.InDeltaSlice(t, want.Float32s(), got.Float32s(), 0.02)
	assert.Empty(t, q.TrainableParameters().Keys())
}

func TestQuantizedEmbedding_ApproximatesEmbedding(t *testing.T) {
	ctx, _ := newContext()
	embed := nn.NewEmbedding(ctx, 10, 32)
	defer embed.Close()

	quantized, err := embed.ToQuantized(32, 8, nn.Affine)
	require.NoError(t, err)
	defer quantized.Close()
	q := quantized.(*nn.QuantizedEmbedding)

	indices, err := ctx.FromInt32([]int32{1, 3, 9, 0}, tensor.Shape{2, 2})
	require.NoError(t, err)
	defer indices.Free()

	want := embed.Forward(indices)
	defer want.Free()
	got := q.Forward(indices)
	defer got.Free()
	assert.Equal(t, tensor.Shape{2, 2, 32}, got.Shape())
	assert.InDeltaSlice(t, want.Float32s(), got.Float32s(), 0.01)

	x := ctx.Normal(tensor.Shape{2, 32}, 0, 1)
	defer x.Free()
	wantLogits := embed.AsLinear(x)
	defer wantLogits.Free()
	gotLogits := q.AsLinear(x)
	defer gotLogits.Free()
	assert.Equal(t, tensor.Shape{2, 10}, gotLogits.Shape())
	assert.InDeltaSlice(t, wantLogits.Float32s(), gotLogits.Float32s(), 0.05)
}

func TestQuantizeWith(t *testing.T) {
	ctx, _ := newContext()
	model := newDual(ctx, 64, 4)
	defer model.Close()

	var visited []string
	err := nn.QuantizeWith(model, func(path string, _ nn.Module) *nn.Selection {
		visited = append(visited, path)
		switch path {
		case "first":
			return &nn.Selection{GroupSize: 32, Bits: 8, Mode: nn.Affine}
		case "second":
			return &nn.Selection{GroupSize: 64, Bits: 2, Mode: nn.Affine}
		}
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"first", "second"}, visited)

	first := model.Child("first").(*nn.QuantizedLinear)
	second := model.Child("second").(*nn.QuantizedLinear)
	assert.Equal(t, 8, first.Bits())
	assert.Equal(t, 32, first.GroupSize())
	assert.Equal(t, 2, second.Bits())
	assert.Equal(t, 64, second.GroupSize())
}

func TestQuantizeWith_IntermediateModules(t *testing.T) {
	ctx, _ := newContext()
	model := nn.NewSequential(nn.NewSequential(nn.NewLinear(ctx, 32, 4, true)), nn.NewReLU())
	defer model.Close()
	before := modulesByType(model)

	var visited []string
	custom := func(m nn.Module, groupSize, bits int, mode nn.QuantizationMode) nn.Module {
		if _, ok := m.(*nn.Sequential); ok {
			return nn.NewIdentity()
		}
		return nil
	}
	selectAll := func(path string, _ nn.Module) *nn.Selection {
		visited = append(visited, path)
		return &nn.Selection{GroupSize: 32, Bits: 4, Mode: nn.Affine}
	}

	require.NoError(t, nn.QuantizeWith(model, func(string, nn.Module) *nn.Selection { return nil }))
	assert.Equal(t, before, modulesByType(model))

	require.NoError(t, nn.QuantizeWith(model, selectAll, nn.WithQuantizer(custom)))
	assert.ElementsMatch(t, []string{"0", "0.0", "1"}, visited, "intermediate nodes are visited")
	assert.Equal(t, map[string]string{"0": "*nn.Identity", "1": "*nn.ReLU"}, modulesByType(model))
}

func TestQuantize_CustomQuantizer(t *testing.T) {
	ctx, _ := newContext()
	model := newDual(ctx, 64, 4)
	defer model.Close()

	var calls []string
	err := nn.Quantize(model, nn.WithBits(8), nn.WithGroupSize(32), nn.WithQuantizer(
		func(m nn.Module, groupSize, bits int, mode nn.QuantizationMode) nn.Module {
			calls = append(calls, string(mode))
			assert.Equal(t, 32, groupSize)
			assert.Equal(t, 8, bits)
			return nil
		}))
	require.NoError(t, err)
	assert.Equal(t, []string{"affine", "affine"}, calls)
	assert.Equal(t, map[string]string{"first": "*nn.Linear", "second": "*nn.Linear"}, modulesByType(model))
}
