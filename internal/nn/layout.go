package nn

import (
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/kiln/internal/native"
	"github.com/born-ml/kiln/internal/tensor"
)

type layoutEntry struct {
	path      string
	trainable bool
}

// ParameterLayout fixes the positional order of a parameter set.
//
// Entries are sorted by path, so the i-th native argument (or gradient) always
// belongs to the i-th path. Two layouts match when they hold the same paths
// with the same trainable flags; tensor values play no part.
type ParameterLayout struct {
	entries []layoutEntry
}

// NewParameterLayout derives the layout of c.
func NewParameterLayout(c *ParameterCollection) *ParameterLayout {
	entries := make([]layoutEntry, 0, c.Len())
	for path, e := range c.All() {
		entries = append(entries, layoutEntry{path: path, trainable: e.Trainable})
	}
	slices.SortFunc(entries, func(a, b layoutEntry) int {
		return strings.Compare(a.path, b.path)
	})
	return &ParameterLayout{entries: entries}
}

// Len returns the number of entries.
func (l *ParameterLayout) Len() int {
	return len(l.entries)
}

// Paths returns the paths in layout order.
func (l *ParameterLayout) Paths() []string {
	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.path
	}
	return out
}

// Matches reports whether other has the same paths and trainable flags.
func (l *ParameterLayout) Matches(other *ParameterLayout) bool {
	if other == nil {
		return false
	}
	return slices.Equal(l.entries, other.entries)
}

// Handles returns the native handles of c in layout order. Ownership is not
// transferred.
func (l *ParameterLayout) Handles(c *ParameterCollection) ([]native.Array, error) {
	out := make([]native.Array, len(l.entries))
	for i, e := range l.entries {
		v := c.Value(e.path)
		if v == nil {
			return nil, errors.Wrapf(ErrNotFound, "layout path %q", e.path)
		}
		out[i] = v.Handle()
	}
	return out, nil
}

// Rehydrate pairs values, given in layout order, with their paths.
func (l *ParameterLayout) Rehydrate(values []*tensor.Tensor) (*ParameterCollection, error) {
	if len(values) != len(l.entries) {
		return nil, errors.Errorf("layout has %d entries, got %d values", len(l.entries), len(values))
	}
	c := NewParameterCollection()
	for i, e := range l.entries {
		c.Set(e.path, values[i], e.trainable)
	}
	return c, nil
}
