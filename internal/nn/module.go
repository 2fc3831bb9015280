// Package nn implements the module tree of the kiln framework.
//
// This package provides:
//   - Base: embeddable node owning parameters, buffers and named children
//   - ParameterCollection / ParameterLayout: path-keyed parameter snapshots
//   - ValueAndGrad: loss functions differentiated by the native engine
//   - Quantize: structural replacement of layers by quantized variants
//   - Layers: Linear, Embedding, Sequential, Dropout, activations, losses
//
// Every tensor slot in a tree has a stable dotted path ("encoder.0.weight").
// Paths, not object identity, are how gradients, optimizers and quantization
// address the tree, so they survive the replacement of the module owning them.
//
// Modules embed Base and register their state in the constructor:
//
//	type MLP struct {
//	    nn.Base
//	    hidden, out *nn.Linear
//	}
//
//	func NewMLP(ctx *tensor.Context) *MLP {
//	    m := &MLP{}
//	    m.Init(m)
//	    m.hidden = nn.Register(&m.Base, "hidden", nn.NewLinear(ctx, 4, 8, true))
//	    m.out = nn.Register(&m.Base, "out", nn.NewLinear(ctx, 8, 1, true))
//	    return m
//	}
//
// A tree is not safe for concurrent mutation.
package nn

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/kiln/internal/tensor"
)

// Module is a node of the module tree. Implementations embed Base.
type Module interface {
	base() *Base

	// Train sets the training flag on this module and its descendants.
	Train(mode bool)
	// Eval is Train(false).
	Eval()
	// Training reports the training flag.
	Training() bool

	Parameters(opts ...Option) *ParameterCollection
	TrainableParameters() *ParameterCollection
	Buffers(opts ...Option) *ParameterCollection

	Children() map[string]Module
	ChildNames() []string
	FlattenModules(opts ...Option) map[string]Module
	LeafModules() map[string]Module

	UpdateParameters(c *ParameterCollection, opts ...Option) error
	UpdateBuffers(c *ParameterCollection, opts ...Option) error
	UpdateModules(replacements map[string]Module, opts ...Option) error

	Freeze(opts ...Option)
	Unfreeze(opts ...Option)

	// Close releases every tensor owned by the subtree.
	Close() error
}

type child struct {
	name   string
	module Module
}

// Base holds the state shared by all modules. The zero value is a live module
// in training mode.
type Base struct {
	this     Module
	params   []*Parameter
	buffers  []*Buffer
	children []child
	eval     bool
	closed   bool
}

func (b *Base) base() *Base {
	return b
}

// Init records the module embedding b. It is needed for IncludeSelf and is
// done automatically for modules registered as children.
func (b *Base) Init(self Module) {
	b.this = self
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func checkName(kind, name string) {
	if name == "" || strings.Contains(name, ".") {
		panic(fmt.Sprintf("nn: invalid %s name %q", kind, name))
	}
}

func (b *Base) checkOpen(kind, name string) {
	if b.closed {
		panic(fmt.Sprintf("nn: register %s %q on a disposed module", kind, name))
	}
}

// RegisterParameter adds a parameter named name holding value. Ownership of
// value moves to the parameter.
//
// It panics if name is already used by a parameter of this module, or if the
// module has been closed.
func (b *Base) RegisterParameter(name string, value *tensor.Tensor, trainable bool) *Parameter {
	checkName("parameter", name)
	b.checkOpen("parameter", name)
	if value == nil {
		panic(fmt.Sprintf("nn: parameter %q has no value", name))
	}
	for _, p := range b.params {
		if p.name == name {
			panic(fmt.Sprintf("nn: parameter %q already registered", name))
		}
	}
	p := &Parameter{slot: slot{name: name, value: value}, trainable: trainable}
	b.params = append(b.params, p)
	return p
}

// RegisterBuffer adds a buffer named name holding value. Buffers live in their
// own namespace; the same rules as RegisterParameter apply.
func (b *Base) RegisterBuffer(name string, value *tensor.Tensor) *Buffer {
	checkName("buffer", name)
	b.checkOpen("buffer", name)
	if value == nil {
		panic(fmt.Sprintf("nn: buffer %q has no value", name))
	}
	for _, buf := range b.buffers {
		if buf.name == name {
			panic(fmt.Sprintf("nn: buffer %q already registered", name))
		}
	}
	buf := &Buffer{slot: slot{name: name, value: value}}
	b.buffers = append(b.buffers, buf)
	return buf
}

// RegisterModule adds m as the child called name and aligns its training flag
// with this module.
//
// It panics if name is already used by a child of this module, or if the
// module has been closed.
func (b *Base) RegisterModule(name string, m Module) Module {
	checkName("module", name)
	b.checkOpen("module", name)
	if m == nil {
		panic(fmt.Sprintf("nn: module %q is nil", name))
	}
	if b.childIndex(name) >= 0 {
		panic(fmt.Sprintf("nn: module %q already registered", name))
	}
	bind(m)
	m.Train(b.Training())
	b.children = append(b.children, child{name: name, module: m})
	return m
}

// Register is RegisterModule preserving the concrete type of m.
func Register[M Module](parent *Base, name string, m M) M {
	parent.RegisterModule(name, m)
	return m
}

func bind(m Module) {
	if mb := m.base(); mb.this == nil {
		mb.this = m
	}
}

func (b *Base) childIndex(name string) int {
	for i, c := range b.children {
		if c.name == name {
			return i
		}
	}
	return -1
}

// TrainHook is implemented by modules that react to a change of their
// training flag. Base.Train calls DidSetTrain after the flag changes and
// before the children are updated.
type TrainHook interface {
	DidSetTrain(mode bool)
}

// Train sets the training flag. Nothing happens when the flag already has
// the requested value; otherwise every child is updated as well.
//
// It panics if the module has been closed.
func (b *Base) Train(mode bool) {
	if b.closed {
		panic("nn: train on a disposed module")
	}
	if b.Training() == mode {
		return
	}
	b.eval = !mode
	if h, ok := b.this.(TrainHook); ok {
		h.DidSetTrain(mode)
	}
	for _, c := range b.children {
		c.module.Train(mode)
	}
}

// Eval switches the subtree to evaluation mode.
func (b *Base) Eval() {
	b.Train(false)
}

// Training reports whether the module is in training mode.
func (b *Base) Training() bool {
	return !b.eval
}

// walkParameters visits every parameter in pre-order: a module's own
// parameters in registration order, then each child in registration order.
func (b *Base) walkParameters(prefix string, recursive bool, visit func(path string, p *Parameter)) {
	for _, p := range b.params {
		visit(joinPath(prefix, p.name), p)
	}
	if !recursive {
		return
	}
	for _, c := range b.children {
		c.module.base().walkParameters(joinPath(prefix, c.name), true, visit)
	}
}

func (b *Base) walkBuffers(prefix string, recursive bool, visit func(path string, buf *Buffer)) {
	for _, buf := range b.buffers {
		visit(joinPath(prefix, buf.name), buf)
	}
	if !recursive {
		return
	}
	for _, c := range b.children {
		c.module.base().walkBuffers(joinPath(prefix, c.name), true, visit)
	}
}

func (b *Base) walkModules(prefix string, visit func(path string, m Module)) {
	for _, c := range b.children {
		path := joinPath(prefix, c.name)
		visit(path, c.module)
		c.module.base().walkModules(path, visit)
	}
}

// Parameters returns the parameters of the subtree keyed by dotted path.
//
// Options: Recursive (default true) and IncludeFrozen (default true). A frozen
// parameter is skipped, but its module is still traversed.
func (b *Base) Parameters(opts ...Option) *ParameterCollection {
	o := buildOptions(opts)
	out := NewParameterCollection()
	b.walkParameters("", o.recursive, func(path string, p *Parameter) {
		if !o.includeFrozen && !p.trainable {
			return
		}
		out.Set(path, p.value, p.trainable)
	})
	return out
}

// TrainableParameters returns Parameters(Recursive(true), IncludeFrozen(false)).
func (b *Base) TrainableParameters() *ParameterCollection {
	return b.Parameters(IncludeFrozen(false))
}

// Buffers returns the buffers of the subtree keyed by dotted path. Entries are
// never trainable.
func (b *Base) Buffers(opts ...Option) *ParameterCollection {
	o := buildOptions(opts)
	out := NewParameterCollection()
	b.walkBuffers("", o.recursive, func(path string, buf *Buffer) {
		out.Set(path, buf.value, false)
	})
	return out
}

// Children returns the direct children by name.
func (b *Base) Children() map[string]Module {
	out := make(map[string]Module, len(b.children))
	for _, c := range b.children {
		out[c.name] = c.module
	}
	return out
}

// ChildNames returns the names of the direct children in registration order.
func (b *Base) ChildNames() []string {
	out := make([]string, len(b.children))
	for i, c := range b.children {
		out[i] = c.name
	}
	return out
}

// Child returns the direct child called name, or nil.
func (b *Base) Child(name string) Module {
	if i := b.childIndex(name); i >= 0 {
		return b.children[i].module
	}
	return nil
}

// FlattenModules returns every descendant keyed by dotted path. With
// IncludeSelf(true) the module itself is added under "".
func (b *Base) FlattenModules(opts ...Option) map[string]Module {
	o := buildOptions(opts)
	out := make(map[string]Module)
	if o.includeSelf {
		if b.this == nil {
			panic("nn: FlattenModules(IncludeSelf(true)) on a module that was never initialized with Init")
		}
		out[""] = b.this
	}
	b.walkModules("", func(path string, m Module) {
		out[path] = m
	})
	return out
}

// LeafModules returns the descendants that have no children.
func (b *Base) LeafModules() map[string]Module {
	out := make(map[string]Module)
	b.walkModules("", func(path string, m Module) {
		if len(m.base().children) == 0 {
			out[path] = m
		}
	})
	return out
}

// UpdateParameters applies c to the parameters of the subtree.
//
// Each entry replaces the value and trainable flag of the parameter at its
// path. With Strict (the default) every path must resolve (ErrNotFound) and
// every parameter of the subtree must be supplied (ErrIncompleteUpdate); both
// are checked before anything is applied. Without Strict unresolved paths are
// skipped. DisposeReplaced (default true) releases the superseded tensors.
func (b *Base) UpdateParameters(c *ParameterCollection, opts ...Option) error {
	if b.closed {
		return errors.Wrap(ErrDisposed, "update parameters")
	}
	o := buildOptions(opts)
	slots := make(map[string]*Parameter)
	var order []string
	b.walkParameters("", true, func(path string, p *Parameter) {
		slots[path] = p
		order = append(order, path)
	})
	if o.strict {
		if err := checkComplete("parameter", c, order, func(path string) bool { return slots[path] != nil }); err != nil {
			return err
		}
	}
	for path, e := range c.All() {
		p, ok := slots[path]
		if !ok {
			continue
		}
		if err := p.SetValue(e.Value, o.disposeReplaced); err != nil {
			return errors.Wrapf(err, "update parameter %q", path)
		}
		p.trainable = e.Trainable
	}
	return nil
}

// UpdateBuffers applies c to the buffers of the subtree with the same rules as
// UpdateParameters. Trainable flags in c are ignored.
func (b *Base) UpdateBuffers(c *ParameterCollection, opts ...Option) error {
	if b.closed {
		return errors.Wrap(ErrDisposed, "update buffers")
	}
	o := buildOptions(opts)
	slots := make(map[string]*Buffer)
	var order []string
	b.walkBuffers("", true, func(path string, buf *Buffer) {
		slots[path] = buf
		order = append(order, path)
	})
	if o.strict {
		if err := checkComplete("buffer", c, order, func(path string) bool { return slots[path] != nil }); err != nil {
			return err
		}
	}
	for path, e := range c.All() {
		buf, ok := slots[path]
		if !ok {
			continue
		}
		if err := buf.SetValue(e.Value, o.disposeReplaced); err != nil {
			return errors.Wrapf(err, "update buffer %q", path)
		}
	}
	return nil
}

func checkComplete(kind string, c *ParameterCollection, existing []string, resolves func(string) bool) error {
	for path := range c.All() {
		if !resolves(path) {
			return errors.Wrapf(ErrNotFound, "%s %q", kind, path)
		}
	}
	for _, path := range existing {
		if !c.Has(path) {
			return errors.Wrapf(ErrIncompleteUpdate, "%s %q not supplied", kind, path)
		}
	}
	return nil
}

// UpdateModules swaps the children at the given paths.
//
// Replacements are applied in sorted path order against the tree as it was
// when the call started. A path nested under another path replaced in the same
// call no longer resolves. Each new module takes the training flag of its new
// parent. With DisposeReplaced (default true) a superseded module is closed
// unless it is the replacement itself. With Strict (default true) an
// unresolved path fails with ErrNotFound before anything is applied.
func (b *Base) UpdateModules(replacements map[string]Module, opts ...Option) error {
	if b.closed {
		return errors.Wrap(ErrDisposed, "update modules")
	}
	o := buildOptions(opts)
	current := b.FlattenModules()

	type swap struct {
		parent *Base
		name   string
		path   string
		module Module
	}
	var (
		swaps    []swap
		replaced []string
	)
	for _, path := range slices.Sorted(maps.Keys(replacements)) {
		m := replacements[path]
		_, ok := current[path]
		if ok {
			for _, r := range replaced {
				if strings.HasPrefix(path, r+".") {
					ok = false
					break
				}
			}
		}
		if !ok || m == nil {
			if o.strict {
				return errors.Wrapf(ErrNotFound, "module %q", path)
			}
			continue
		}
		parent := b
		name := path
		if i := strings.LastIndexByte(path, '.'); i >= 0 {
			parent = current[path[:i]].base()
			name = path[i+1:]
		}
		swaps = append(swaps, swap{parent: parent, name: name, path: path, module: m})
		replaced = append(replaced, path)
	}

	for _, s := range swaps {
		i := s.parent.childIndex(s.name)
		old := s.parent.children[i].module
		bind(s.module)
		s.module.Train(s.parent.Training())
		s.parent.children[i].module = s.module
		if o.disposeReplaced && old != s.module {
			if err := old.Close(); err != nil {
				return errors.Wrapf(err, "dispose replaced module %q", s.path)
			}
		}
	}
	return nil
}

// Freeze marks parameters as non-trainable.
//
// Without Paths every parameter of the subtree is frozen; Recursive(false)
// limits this to the module's own parameters. With Paths only the named
// parameters are frozen and unknown paths are ignored. It panics if the module
// has been closed.
func (b *Base) Freeze(opts ...Option) {
	b.setTrainable(false, buildOptions(opts))
}

// Unfreeze marks parameters as trainable. It accepts the same options as
// Freeze.
func (b *Base) Unfreeze(opts ...Option) {
	b.setTrainable(true, buildOptions(opts))
}

func (b *Base) setTrainable(v bool, o options) {
	if b.closed {
		panic("nn: freeze or unfreeze on a disposed module")
	}
	if o.paths != nil {
		want := make(map[string]bool, len(o.paths))
		for _, p := range o.paths {
			want[p] = true
		}
		b.walkParameters("", true, func(path string, p *Parameter) {
			if want[path] {
				p.trainable = v
			}
		})
		return
	}
	b.walkParameters("", o.recursive, func(_ string, p *Parameter) {
		p.trainable = v
	})
}

// Close releases the tensors of the module and closes its children. The
// module is left empty: later updates fail with ErrDisposed, and later
// registrations, Train, Freeze and Unfreeze panic. Closing twice is a no-op.
func (b *Base) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for _, p := range b.params {
		keep(p.Close())
	}
	for _, buf := range b.buffers {
		keep(buf.Close())
	}
	for _, c := range b.children {
		keep(errors.Wrapf(c.module.Close(), "close %q", c.name))
	}
	b.params, b.buffers, b.children = nil, nil, nil
	return first
}

// Closed reports whether Close has been called.
func (b *Base) Closed() bool {
	return b.closed
}
