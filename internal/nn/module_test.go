package nn_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/kiln/internal/nn"
	"github.com/born-ml/kiln/internal/tensor"
)

func TestRegister_DuplicateNamePanics(t *testing.T) {
	ctx, _ := newContext()
	m := newScaled(ctx)
	defer m.Close()

	assert.Panics(t, func() { m.RegisterParameter("scale", ctx.Ones(tensor.Shape{1}), true) })
	assert.Panics(t, func() { m.RegisterBuffer("running", ctx.Ones(tensor.Shape{1})) })
	assert.Panics(t, func() { m.RegisterModule("inner", nn.NewReLU()) })

	// Parameters, buffers and children have separate namespaces.
	assert.NotPanics(t, func() { m.RegisterBuffer("scale", ctx.Ones(tensor.Shape{1})) })
}

func TestRegister_SameNameOnDifferentModules(t *testing.T) {
	ctx, _ := newContext()
	m := newDual(ctx, 2, 3)
	defer m.Close()

	assert.Equal(t, []string{"first.weight", "first.bias", "second.weight", "second.bias"}, m.Parameters().Keys())
}

func TestRegister_InvalidNamePanics(t *testing.T) {
	ctx, _ := newContext()
	m := newScaled(ctx)
	defer m.Close()

	for _, name := range []string{"", "a.b"} {
		assert.Panics(t, func() { m.RegisterParameter(name, ctx.Ones(tensor.Shape{1}), true) }, name)
		assert.Panics(t, func() { m.RegisterModule(name, nn.NewReLU()) }, name)
	}
}

func TestParameters_Paths(t *testing.T) {
	ctx, _ := newContext()
	m := newScaled(ctx)
	defer m.Close()

	assert.Equal(t, []string{"scale", "inner.weight", "inner.bias"}, m.Parameters().Keys())
	assert.Equal(t, []string{"scale"}, m.Parameters(nn.Recursive(false)).Keys())
	assert.Equal(t, []string{"running"}, m.Buffers().Keys())
	assert.Same(t, m.inner.Weight().Value(), m.Parameters().Value("inner.weight"))

	assert.Equal(t, []string{"inner"}, m.ChildNames())
	assert.Same(t, m.inner, m.Child("inner"))
	assert.Nil(t, m.Child("missing"))
}

func TestFlattenModules(t *testing.T) {
	ctx, _ := newContext()
	inner := nn.NewSequential(nn.NewLinear(ctx, 2, 2, true), nn.NewReLU())
	model := nn.NewSequential(inner, nn.NewLinear(ctx, 2, 1, false))
	defer model.Close()

	flat := model.FlattenModules()
	assert.Len(t, flat, 4)
	assert.Same(t, inner, flat["0"])
	assert.Contains(t, flat, "0.0")
	assert.Contains(t, flat, "0.1")
	assert.Contains(t, flat, "1")

	withSelf := model.FlattenModules(nn.IncludeSelf(true))
	assert.Same(t, model, withSelf[""])

	leaves := model.LeafModules()
	assert.Len(t, leaves, 3)
	assert.NotContains(t, leaves, "0")
}

// TestFreeze covers scope and idempotence of Freeze and Unfreeze.
func TestFreeze(t *testing.T) {
	ctx, _ := newContext()
	m := newScaled(ctx)
	defer m.Close()

	all := []string{"scale", "inner.weight", "inner.bias"}

	m.Freeze()
	assert.Zero(t, m.TrainableParameters().Len())
	assert.Equal(t, all, m.Parameters().Keys(), "frozen parameters are still parameters")
	m.Freeze()
	assert.Zero(t, m.TrainableParameters().Len())

	m.Unfreeze()
	assert.Equal(t, all, m.TrainableParameters().Keys())
	m.Unfreeze()
	assert.Equal(t, all, m.TrainableParameters().Keys())

	m.Freeze(nn.Recursive(false))
	assert.Equal(t, []string{"inner.weight", "inner.bias"}, m.TrainableParameters().Keys())
	m.Unfreeze(nn.Recursive(false))
	assert.Equal(t, all, m.TrainableParameters().Keys())

	m.Freeze(nn.Recursive(true))
	m.Unfreeze(nn.Recursive(false))
	assert.Equal(t, []string{"scale"}, m.TrainableParameters().Keys())
	m.Unfreeze()

	m.Freeze(nn.Paths("inner.bias", "missing"))
	assert.Equal(t, []string{"scale", "inner.weight"}, m.TrainableParameters().Keys())
	assert.False(t, m.inner.Bias().Trainable())

	e, ok := m.Parameters().Get("inner.bias")
	require.True(t, ok)
	assert.False(t, e.Trainable)
}

// TestTrain covers the training-mode cascade.
func TestTrain(t *testing.T) {
	ctx, _ := newContext()
	drop := nn.NewDropout(0.5)
	model := nn.NewSequential(nn.NewLinear(ctx, 2, 2, true), drop)
	defer model.Close()

	assert.True(t, model.Training())
	assert.True(t, drop.Training())

	model.Eval()
	assert.False(t, model.Training())
	for path, m := range model.FlattenModules() {
		assert.False(t, m.Training(), path)
	}
	model.Eval()
	assert.False(t, drop.Training())

	model.Train(true)
	for path, m := range model.FlattenModules() {
		assert.True(t, m.Training(), path)
	}

	// A child registered on an eval-mode parent adopts eval mode.
	parent := newScaled(ctx)
	defer parent.Close()
	parent.Eval()
	child := nn.NewDropout(0.1)
	parent.RegisterModule("drop", child)
	assert.False(t, child.Training())
}

func TestUpdateParameters_Strict(t *testing.T) {
	ctx, rt := newContext()
	m := newScaled(ctx)

	before := m.scale.Value()
	replacement := ctx.Full(tensor.Shape{1}, 3)

	partial := nn.NewParameterCollection()
	partial.Set("scale", replacement, true)
	err := m.UpdateParameters(partial)
	assert.True(t, errors.Is(err, nn.ErrIncompleteUpdate), "got %v", err)
	assert.Same(t, before, m.scale.Value(), "nothing is applied on failure")

	unknown := m.Parameters()
	unknown.Set("inner.missing", replacement, true)
	err = m.UpdateParameters(unknown)
	assert.True(t, errors.Is(err, nn.ErrNotFound), "got %v", err)
	assert.Same(t, before, m.scale.Value())

	partial.Set("missing", ctx.Ones(tensor.Shape{1}), true)
	require.NoError(t, m.UpdateParameters(partial, nn.Strict(false)))
	assert.Same(t, replacement, m.scale.Value())
	assert.True(t, before.Freed(), "replaced values are released by default")
	require.NoError(t, partial.Value("missing").Free())

	full := m.Parameters()
	kept := ctx.Full(tensor.Shape{1}, 5)
	full.Set("scale", kept, false)
	require.NoError(t, m.UpdateParameters(full, nn.DisposeReplaced(false)))
	assert.False(t, replacement.Freed())
	assert.False(t, m.scale.Trainable(), "trainable flag comes from the entry")
	require.NoError(t, replacement.Free())

	require.NoError(t, m.Close())
	assert.Zero(t, rt.LiveArrays())
}

func TestUpdateBuffers(t *testing.T) {
	ctx, _ := newContext()
	m := newScaled(ctx)
	defer m.Close()

	err := m.UpdateBuffers(nn.NewParameterCollection())
	assert.True(t, errors.Is(err, nn.ErrIncompleteUpdate), "got %v", err)

	c := nn.NewParameterCollection()
	next := ctx.Full(tensor.Shape{2}, 1)
	c.Set("running", next, true)
	require.NoError(t, m.UpdateBuffers(c))
	assert.Same(t, next, m.running.Value())
	e, ok := m.Buffers().Get("running")
	require.True(t, ok)
	assert.False(t, e.Trainable)
}

func TestUpdateModules(t *testing.T) {
	ctx, _ := newContext()
	m := newScaled(ctx)
	defer m.Close()
	m.Eval()

	old := m.inner
	next := nn.NewLinear(ctx, 2, 2, false)
	require.NoError(t, m.UpdateModules(map[string]nn.Module{"inner": next}))

	assert.Same(t, next, m.Child("inner"))
	assert.True(t, old.Closed(), "replaced module is disposed")
	assert.False(t, next.Training(), "replacement adopts the parent's mode")
	assert.Equal(t, []string{"scale", "inner.weight"}, m.Parameters().Keys())

	err := m.UpdateModules(map[string]nn.Module{"missing": nn.NewReLU()})
	assert.True(t, errors.Is(err, nn.ErrNotFound), "got %v", err)

	again := nn.NewLinear(ctx, 2, 2, true)
	require.NoError(t, m.UpdateModules(map[string]nn.Module{"inner": again}, nn.DisposeReplaced(false)))
	assert.False(t, next.Closed())
	require.NoError(t, next.Close())
}

func TestUpdateModules_Nested(t *testing.T) {
	ctx, _ := newContext()
	model := nn.NewSequential(nn.NewSequential(nn.NewLinear(ctx, 2, 2, true)), nn.NewReLU())
	defer model.Close()

	outer := nn.NewIdentity()
	nested := nn.NewTanh()

	err := model.UpdateModules(map[string]nn.Module{"0": outer, "0.0": nested})
	require.True(t, errors.Is(err, nn.ErrNotFound), "got %v", err)
	assert.IsType(t, &nn.Sequential{}, model.Child("0"), "strict failure applies nothing")

	require.NoError(t, model.UpdateModules(map[string]nn.Module{"0": outer, "0.0": nested}, nn.Strict(false)))
	assert.Same(t, outer, model.Child("0"))
	assert.Equal(t, map[string]string{"0": "*nn.Identity", "1": "*nn.ReLU"}, modulesByType(model))
	require.NoError(t, nested.Close())
}

func TestClose(t *testing.T) {
	ctx, rt := newContext()
	m := newScaled(ctx)
	values := m.Parameters()

	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
	assert.True(t, m.inner.Closed())
	for path, e := range values.All() {
		assert.True(t, e.Value.Freed(), path)
	}
	assert.Zero(t, rt.LiveArrays())

	require.NoError(t, m.Close())
	err := m.UpdateParameters(nn.NewParameterCollection())
	assert.True(t, errors.Is(err, nn.ErrDisposed), "got %v", err)
	err = m.UpdateBuffers(nn.NewParameterCollection())
	assert.True(t, errors.Is(err, nn.ErrDisposed), "got %v", err)
	err = m.UpdateModules(map[string]nn.Module{})
	assert.True(t, errors.Is(err, nn.ErrDisposed), "got %v", err)
	assert.Panics(t, func() { m.RegisterParameter("late", ctx.Ones(tensor.Shape{1}), true) })
	assert.Panics(t, func() { m.Freeze() })
	assert.Panics(t, func() { m.Unfreeze() })
	assert.Panics(t, func() { m.Train(false) })
	assert.Panics(t, func() { m.Train(true) })

	assert.Zero(t, m.Parameters().Len(), "a closed module exposes no freed tensors")
	assert.Zero(t, m.TrainableParameters().Len())
	assert.Zero(t, m.Buffers().Len())
	assert.Empty(t, m.ChildNames())
	assert.Empty(t, m.FlattenModules())
}

// trainCounter records the training flags it is switched to.
type trainCounter struct {
	nn.Base
	modes []bool
}

func (m *trainCounter) DidSetTrain(mode bool) {
	m.modes = append(m.modes, mode)
}

func TestTrain_Hook(t *testing.T) {
	ctx, _ := newContext()
	parent := newScaled(ctx)
	defer parent.Close()
	hook := &trainCounter{}
	hook.Init(hook)
	parent.RegisterModule("hook", hook)

	parent.Eval()
	parent.Eval()
	parent.Train(true)
	assert.Equal(t, []bool{false, true}, hook.modes, "called once per change")

	var _ nn.TrainHook = hook
}
