// Package tensor binds kiln to a native tensor engine.
//
// A Tensor owns exactly one native array handle and releases it with Free.
// Operations return new tensors owned by the caller. They panic with a
// *native.StatusError when the engine rejects a call, the same way shape
// misuse panics elsewhere in the framework.
package tensor

import (
	"math/rand/v2"
	"sync"

	"github.com/born-ml/kiln/internal/native"
)

// Context bundles a native runtime with the random source used to initialize
// tensors. Every tensor remembers the context that created it.
//
// A Context is safe for concurrent use.
type Context struct {
	rt native.Runtime

	mu  sync.Mutex
	rng *rand.Rand
}

// NewContext creates a context over rt with a deterministic random source.
//
// Example:
//
//	ctx := tensor.NewContext(cpu.New(), 42)
//	w := ctx.Uniform(tensor.Shape{4, 2}, -0.5, 0.5)
func NewContext(rt native.Runtime, seed uint64) *Context {
	return &Context{
		rt:  rt,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Runtime returns the native engine behind this context.
func (c *Context) Runtime() native.Runtime {
	return c.rt
}

// Adopt wraps an owned array handle. The returned tensor takes over the
// caller's reference.
func (c *Context) Adopt(h native.Array) *Tensor {
	return &Tensor{ctx: c, handle: h}
}

// Float64 draws a value in [0, 1) from the context's random source.
func (c *Context) Float64() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Float64()
}

func (c *Context) fill(n int, draw func(r *rand.Rand) float32) []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	data := make([]float32, n)
	for i := range data {
		data[i] = draw(c.rng)
	}
	return data
}
