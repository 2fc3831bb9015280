package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/kiln/internal/native"
	"github.com/born-ml/kiln/internal/native/cpu"
	"github.com/born-ml/kiln/internal/tensor"
)

func newContext() (*tensor.Context, *cpu.Runtime) {
	rt := cpu.New()
	return tensor.NewContext(rt, 1), rt
}

func TestFromFloat32(t *testing.T) {
	ctx, rt := newContext()

	x, err := ctx.FromFloat32([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, x.Shape())
	assert.Equal(t, tensor.Float32, x.DType())
	assert.Equal(t, 6, x.Size())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, x.Float32s())

	_, err = ctx.FromFloat32([]float32{1, 2}, tensor.Shape{3})
	assert.Error(t, err)
	_, err = ctx.FromFloat32(nil, tensor.Shape{0})
	assert.Error(t, err)

	require.NoError(t, x.Free())
	assert.Equal(t, 0, rt.LiveArrays())
}

func TestFreeTwice(t *testing.T) {
	ctx, _ := newContext()
	x := ctx.Scalar(3)
	require.NoError(t, x.Free())
	assert.ErrorIs(t, x.Free(), tensor.ErrFreed)
	assert.True(t, x.Freed())
}

func TestUseAfterFreePanics(t *testing.T) {
	ctx, _ := newContext()
	x := ctx.Ones(tensor.Shape{2})
	require.NoError(t, x.Free())

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(*native.StatusError)
		require.True(t, ok, "panic value %T", r)
		assert.Equal(t, native.StatusInvalidHandle, err.Code)
	}()
	_ = x.Neg()
}

func TestArithmetic(t *testing.T) {
	ctx, _ := newContext()
	a, _ := ctx.FromFloat32([]float32{1, -2, 3, -4}, tensor.Shape{2, 2})
	b, _ := ctx.FromFloat32([]float32{2, 2}, tensor.Shape{2})

	tests := []struct {
		name string
		got  *tensor.Tensor
		want []float32
	}{
		{"add", a.Add(b), []float32{3, 0, 5, -2}},
		{"sub", a.Sub(b), []float32{-1, -4, 1, -6}},
		{"mul", a.Mul(b), []float32{2, -4, 6, -8}},
		{"div", a.Div(b), []float32{0.5, -1, 1.5, -2}},
		{"relu", a.ReLU(), []float32{1, 0, 3, 0}},
		{"abs", a.Abs(), []float32{1, 2, 3, 4}},
		{"neg", a.Neg(), []float32{-1, 2, -3, 4}},
		{"add scalar", a.AddScalar(1), []float32{2, -1, 4, -3}},
		{"mul scalar", a.MulScalar(-1), []float32{-1, 2, -3, 4}},
		{"transpose", a.T(), []float32{1, 3, -2, -4}},
		{"matmul", a.MatMul(a), []float32{-5, 6, -9, 10}},
		{"sum rows", a.Sum(1), []float32{-1, -1}},
		{"mean", a.Mean(), []float32{-0.5}},
		{"mean keep dims", a.MeanKeepDims(-1), []float32{-0.5, -0.5}},
		{"max keep dims", a.MaxKeepDims(-1), []float32{1, 3}},
		{"erf", a.Erf(), []float32{0.84270079, -0.99532227, 0.99997791, -0.99999998}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDeltaSlice(t, tt.want, tt.got.Float32s(), 1e-6)
		})
	}
}

func TestTakeAndReshape(t *testing.T) {
	ctx, _ := newContext()
	table, _ := ctx.FromFloat32([]float32{0, 1, 2, 3, 4, 5}, tensor.Shape{3, 2})
	idx, err := ctx.FromInt32([]int32{1, 1, 0}, tensor.Shape{3})
	require.NoError(t, err)

	rows := table.Take(idx, 0)
	assert.Equal(t, tensor.Shape{3, 2}, rows.Shape())
	assert.Equal(t, []float32{2, 3, 2, 3, 0, 1}, rows.Float32s())

	flat := rows.Reshape(-1)
	assert.Equal(t, tensor.Shape{6}, flat.Shape())
	assert.Equal(t, []int32{1, 1, 0}, idx.Int32s())
}

func TestRandomCreationIsDeterministic(t *testing.T) {
	a := tensor.NewContext(cpu.New(), 7)
	b := tensor.NewContext(cpu.New(), 7)

	assert.Equal(t, a.Uniform(tensor.Shape{8}, -1, 1).Float32s(), b.Uniform(tensor.Shape{8}, -1, 1).Float32s())
	assert.Equal(t, a.Normal(tensor.Shape{8}, 0, 1).Float32s(), b.Normal(tensor.Shape{8}, 0, 1).Float32s())

	for _, v := range a.Uniform(tensor.Shape{64}, -0.5, 0.5).Float32s() {
		assert.GreaterOrEqual(t, v, float32(-0.5))
		assert.Less(t, v, float32(0.5))
	}
	for _, v := range a.Bernoulli(tensor.Shape{64}, 0.5).Float32s() {
		assert.Contains(t, []float32{0, 1}, v)
	}
}

func TestItem(t *testing.T) {
	ctx, _ := newContext()
	assert.Equal(t, float32(2.5), ctx.Scalar(2.5).Item())
	assert.Panics(t, func() { ctx.Ones(tensor.Shape{2}).Item() })
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		a, b    tensor.Shape
		want    tensor.Shape
		wantErr bool
	}{
		{tensor.Shape{3, 1}, tensor.Shape{3, 5}, tensor.Shape{3, 5}, false},
		{tensor.Shape{5}, tensor.Shape{3, 5}, tensor.Shape{3, 5}, false},
		{tensor.Shape{}, tensor.Shape{2}, tensor.Shape{2}, false},
		{tensor.Shape{3, 4}, tensor.Shape{3, 5}, nil, true},
	}
	for _, tt := range tests {
		got, err := tensor.BroadcastShapes(tt.a, tt.b)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
