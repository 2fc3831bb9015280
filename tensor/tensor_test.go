// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/kiln/backend/cpu"
	"github.com/born-ml/kiln/tensor"
)

func TestPublicAPI(t *testing.T) {
	rt := cpu.New()
	ctx := tensor.NewContext(rt, 42)

	x, err := ctx.FromFloat32([]float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	require.NoError(t, err)
	y := x.MatMul(x)
	assert.Equal(t, []float32{7, 10, 15, 22}, y.Float32s())
	assert.Equal(t, tensor.Float32, y.DType())

	shape, err := tensor.BroadcastShapes(tensor.Shape{3, 1}, tensor.Shape{1, 4})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 4}, shape)

	require.NoError(t, y.Free())
	require.NoError(t, x.Free())
	assert.Zero(t, rt.LiveArrays())
}
