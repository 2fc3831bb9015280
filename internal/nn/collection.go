package nn

import (
	"iter"

	"github.com/pkg/errors"

	"github.com/born-ml/kiln/internal/tensor"
)

// ParameterEntry is one value of a ParameterCollection.
type ParameterEntry struct {
	Value     *tensor.Tensor
	Trainable bool
}

// ParameterCollection is an ordered mapping from dotted path to tensor.
//
// A collection is a detached snapshot: changing it does not change the module
// tree it came from. Apply it back with Module.UpdateParameters. Collections
// alias tensors owned elsewhere and carry no release obligation, except those
// built to hold fresh tensors (gradients, optimizer results); release those
// with Free once they are no longer needed.
type ParameterCollection struct {
	keys    []string
	entries map[string]ParameterEntry
}

// NewParameterCollection creates an empty collection.
func NewParameterCollection() *ParameterCollection {
	return &ParameterCollection{entries: make(map[string]ParameterEntry)}
}

// Set inserts or replaces the entry at path. A replaced entry keeps its
// position.
func (c *ParameterCollection) Set(path string, value *tensor.Tensor, trainable bool) {
	if _, ok := c.entries[path]; !ok {
		c.keys = append(c.keys, path)
	}
	c.entries[path] = ParameterEntry{Value: value, Trainable: trainable}
}

// Get returns the entry at path.
func (c *ParameterCollection) Get(path string) (ParameterEntry, bool) {
	e, ok := c.entries[path]
	return e, ok
}

// Value returns the tensor at path, or nil.
func (c *ParameterCollection) Value(path string) *tensor.Tensor {
	return c.entries[path].Value
}

// Has reports whether path is present.
func (c *ParameterCollection) Has(path string) bool {
	_, ok := c.entries[path]
	return ok
}

// Len returns the number of entries.
func (c *ParameterCollection) Len() int {
	return len(c.keys)
}

// Keys returns the paths in insertion order.
func (c *ParameterCollection) Keys() []string {
	return append([]string(nil), c.keys...)
}

// All iterates over the entries in insertion order.
func (c *ParameterCollection) All() iter.Seq2[string, ParameterEntry] {
	return func(yield func(string, ParameterEntry) bool) {
		for _, k := range c.keys {
			if !yield(k, c.entries[k]) {
				return
			}
		}
	}
}

// Clone returns a shallow copy. Tensors are shared.
func (c *ParameterCollection) Clone() *ParameterCollection {
	out := &ParameterCollection{
		keys:    append([]string(nil), c.keys...),
		entries: make(map[string]ParameterEntry, len(c.entries)),
	}
	for k, v := range c.entries {
		out.entries[k] = v
	}
	return out
}

// Filter returns the entries accepted by keep, in order. Tensors are shared.
func (c *ParameterCollection) Filter(keep func(path string, e ParameterEntry) bool) *ParameterCollection {
	out := NewParameterCollection()
	for k, e := range c.All() {
		if keep(k, e) {
			out.Set(k, e.Value, e.Trainable)
		}
	}
	return out
}

// Free releases every tensor in the collection. Tensors already released are
// skipped. The first failure is returned after all entries are visited.
func (c *ParameterCollection) Free() error {
	var first error
	for k, e := range c.All() {
		if e.Value == nil || e.Value.Freed() {
			continue
		}
		if err := e.Value.Free(); err != nil && first == nil {
			first = errors.Wrapf(err, "release %q", k)
		}
	}
	return first
}
