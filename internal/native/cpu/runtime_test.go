package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/kiln/internal/native"
	"github.com/born-ml/kiln/internal/parallel"
)

func mustArray(t *testing.T, r *Runtime, data []float32, shape ...int) native.Array {
	t.Helper()
	a, st := r.ArrayFromFloat32(data, shape)
	require.Equal(t, native.StatusOK, st)
	return a
}

func values(t *testing.T, r *Runtime, a native.Array) []float32 {
	t.Helper()
	v, st := r.ArrayFloat32(a)
	require.Equal(t, native.StatusOK, st)
	return v
}

func TestArrayLifecycle(t *testing.T) {
	r := New()
	a := mustArray(t, r, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, 1, r.LiveArrays())

	shape, st := r.ArrayShape(a)
	require.Equal(t, native.StatusOK, st)
	assert.Equal(t, []int{2, 3}, shape)

	dt, st := r.ArrayDtype(a)
	require.Equal(t, native.StatusOK, st)
	assert.Equal(t, native.Float32, dt)

	assert.Equal(t, native.StatusOK, r.ArrayFree(a))
	assert.Equal(t, native.StatusInvalidHandle, r.ArrayFree(a))
	assert.Equal(t, 0, r.LiveArrays())

	_, st = r.ArrayFromFloat32([]float32{1, 2}, []int{3})
	assert.Equal(t, native.StatusShapeMismatch, st)
}

func TestVectorOwnership(t *testing.T) {
	r := New()
	a := mustArray(t, r, []float32{1}, 1)
	b := mustArray(t, r, []float32{2}, 1)

	v, st := r.VectorNew([]native.Array{a, b})
	require.Equal(t, native.StatusOK, st)

	// The vector keeps its own references.
	require.Equal(t, native.StatusOK, r.ArrayFree(a))
	require.Equal(t, native.StatusOK, r.ArrayFree(b))

	n, st := r.VectorSize(v)
	require.Equal(t, native.StatusOK, st)
	assert.Equal(t, 2, n)

	got, st := r.VectorGet(v, 1)
	require.Equal(t, native.StatusOK, st)
	assert.Equal(t, []float32{2}, values(t, r, got))
	require.Equal(t, native.StatusOK, r.ArrayFree(got))

	_, st = r.VectorGet(v, 2)
	assert.Equal(t, native.StatusInvalidArgument, st)

	assert.Equal(t, native.StatusOK, r.VectorFree(v))
	assert.Equal(t, native.StatusInvalidHandle, r.VectorFree(v))
	assert.Equal(t, 0, r.LiveArrays())
}

func TestBinaryBroadcast(t *testing.T) {
	r := New()
	a := mustArray(t, r, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := mustArray(t, r, []float32{10, 20, 30}, 3)

	tests := []struct {
		op   native.BinaryOp
		want []float32
	}{
		{native.OpAdd, []float32{11, 22, 33, 14, 25, 36}},
		{native.OpSubtract, []float32{-9, -18, -27, -6, -15, -24}},
		{native.OpMultiply, []float32{10, 40, 90, 40, 100, 180}},
		{native.OpMaximum, []float32{10, 20, 30, 10, 20, 30}},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			out, st := r.Binary(tt.op, a, b)
			require.Equal(t, native.StatusOK, st)
			assert.InDeltaSlice(t, tt.want, values(t, r, out), 1e-5)
		})
	}

	c := mustArray(t, r, []float32{1, 2}, 2)
	_, st := r.Binary(native.OpAdd, a, c)
	assert.Equal(t, native.StatusShapeMismatch, st)
}

func TestUnary(t *testing.T) {
	r := New()
	x := mustArray(t, r, []float32{-1, 0, 4}, 3)

	tests := []struct {
		op   native.UnaryOp
		want []float32
	}{
		{native.OpNegative, []float32{1, 0, -4}},
		{native.OpSquare, []float32{1, 0, 16}},
		{native.OpAbs, []float32{1, 0, 4}},
		{native.OpSigmoid, []float32{0.26894142, 0.5, 0.98201379}},
		{native.OpTanh, []float32{-0.76159416, 0, 0.99932930}},
		{native.OpErf, []float32{-0.84270079, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			out, st := r.Unary(tt.op, x)
			require.Equal(t, native.StatusOK, st)
			assert.InDeltaSlice(t, tt.want, values(t, r, out), 1e-5)
		})
	}
}

func TestUnary_Parallel(t *testing.T) {
	saved := workers
	workers = parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 16}
	defer func() { workers = saved }()

	r := New()
	data := make([]float32, 1000)
	want := make([]float32, len(data))
	for i := range data {
		data[i] = float32(i) - 500
		want[i] = data[i] * data[i]
	}
	x := mustArray(t, r, data, 10, 100)
	out, st := r.Unary(native.OpSquare, x)
	require.Equal(t, native.StatusOK, st)
	assert.Equal(t, want, values(t, r, out))
}

func TestMatmulTransposeReshape(t *testing.T) {
	r := New()
	a := mustArray(t, r, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := mustArray(t, r, []float32{1, 0, 0, 1, 1, 1}, 3, 2)

	out, st := r.Matmul(a, b)
	require.Equal(t, native.StatusOK, st)
	assert.Equal(t, []float32{4, 5, 10, 11}, values(t, r, out))

	at, st := r.Transpose(a, nil)
	require.Equal(t, native.StatusOK, st)
	shape, _ := r.ArrayShape(at)
	assert.Equal(t, []int{3, 2}, shape)
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, values(t, r, at))

	flat, st := r.Reshape(a, []int{-1})
	require.Equal(t, native.StatusOK, st)
	shape, _ = r.ArrayShape(flat)
	assert.Equal(t, []int{6}, shape)

	_, st = r.Reshape(a, []int{4})
	assert.Equal(t, native.StatusShapeMismatch, st)

	_, st = r.Matmul(a, a)
	assert.Equal(t, native.StatusShapeMismatch, st)
}

func TestReduce(t *testing.T) {
	r := New()
	a := mustArray(t, r, []float32{1, 2, 3, 4, 5, 6}, 2, 3)

	sum, st := r.Reduce(native.OpSum, a, []int{1}, false)
	require.Equal(t, native.StatusOK, st)
	assert.Equal(t, []float32{6, 15}, values(t, r, sum))

	mean, st := r.Reduce(native.OpMean, a, []int{0}, true)
	require.Equal(t, native.StatusOK, st)
	shape, _ := r.ArrayShape(mean)
	assert.Equal(t, []int{1, 3}, shape)
	assert.Equal(t, []float32{2.5, 3.5, 4.5}, values(t, r, mean))

	all, st := r.Reduce(native.OpSum, a, nil, false)
	require.Equal(t, native.StatusOK, st)
	shape, _ = r.ArrayShape(all)
	assert.Empty(t, shape)
	assert.Equal(t, []float32{21}, values(t, r, all))

	peak, st := r.Reduce(native.OpMax, a, []int{-1}, true)
	require.Equal(t, native.StatusOK, st)
	shape, _ = r.ArrayShape(peak)
	assert.Equal(t, []int{2, 1}, shape)
	assert.Equal(t, []float32{3, 6}, values(t, r, peak))
}

func TestTake(t *testing.T) {
	r := New()
	table := mustArray(t, r, []float32{0, 1, 10, 11, 20, 21}, 3, 2)
	idx, st := r.ArrayFromInt32([]int32{2, 0}, []int{2})
	require.Equal(t, native.StatusOK, st)

	out, st := r.Take(table, idx, 0)
	require.Equal(t, native.StatusOK, st)
	assert.Equal(t, []float32{20, 21, 0, 1}, values(t, r, out))

	bad, _ := r.ArrayFromInt32([]int32{3}, []int{1})
	_, st = r.Take(table, bad, 0)
	assert.Equal(t, native.StatusInvalidArgument, st)
}

func TestQuantizeRoundTrip(t *testing.T) {
	r := New()
	data := make([]float32, 2*64)
	for i := range data {
		data[i] = float32(i%17)/8 - 1
	}
	w := mustArray(t, r, data, 2, 64)

	packed, scales, biases, st := r.Quantize(w, 32, 8, "affine")
	require.Equal(t, native.StatusOK, st)
	shape, _ := r.ArrayShape(packed)
	assert.Equal(t, []int{2, 16}, shape)
	shape, _ = r.ArrayShape(scales)
	assert.Equal(t, []int{2, 2}, shape)
	dt, _ := r.ArrayDtype(packed)
	assert.Equal(t, native.Uint32, dt)

	back, st := r.Dequantize(packed, scales, biases, 32, 8, "affine")
	require.Equal(t, native.StatusOK, st)
	assert.InDeltaSlice(t, data, values(t, r, back), 0.01)

	_, _, _, st = r.Quantize(w, 32, 4, "mxfp4")
	assert.Equal(t, native.StatusUnsupported, st)
	_, _, _, st = r.Quantize(w, 48, 4, "affine")
	assert.Equal(t, native.StatusInvalidArgument, st)
}

func TestQuantizedMatmul(t *testing.T) {
	r := New()
	wData := make([]float32, 3*32)
	for i := range wData {
		wData[i] = float32(i%5) * 0.25
	}
	w := mustArray(t, r, wData, 3, 32)
	xData := make([]float32, 32)
	for i := range xData {
		xData[i] = 1
	}
	x := mustArray(t, r, xData, 1, 32)

	packed, scales, biases, st := r.Quantize(w, 32, 4, "affine")
	require.Equal(t, native.StatusOK, st)

	wt, _ := r.Transpose(w, nil)
	want, _ := r.Matmul(x, wt)
	got, st := r.QuantizedMatmul(x, packed, scales, biases, true, 32, 4, "affine")
	require.Equal(t, native.StatusOK, st)
	assert.InDeltaSlice(t, values(t, r, want), values(t, r, got), 0.5)
}
