package nn

// Option configures tree traversal, updates and freezing.
//
// Each operation reads only the options that apply to it:
//   - Parameters, Buffers: Recursive, IncludeFrozen
//   - FlattenModules: IncludeSelf
//   - UpdateParameters, UpdateBuffers, UpdateModules: Strict, DisposeReplaced
//   - Freeze, Unfreeze: Paths, Recursive
type Option func(*options)

type options struct {
	recursive       bool
	includeFrozen   bool
	includeSelf     bool
	strict          bool
	disposeReplaced bool
	paths           []string
}

func buildOptions(opts []Option) options {
	o := options{
		recursive:       true,
		includeFrozen:   true,
		strict:          true,
		disposeReplaced: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Recursive controls whether descendants are visited. Default true.
func Recursive(v bool) Option {
	return func(o *options) { o.recursive = v }
}

// IncludeFrozen controls whether non-trainable parameters are reported.
// Default true.
func IncludeFrozen(v bool) Option {
	return func(o *options) { o.includeFrozen = v }
}

// IncludeSelf adds the receiving module under the empty path. Default false.
func IncludeSelf(v bool) Option {
	return func(o *options) { o.includeSelf = v }
}

// Strict makes updates fail on unresolved paths and require every existing
// path to be supplied. Default true.
func Strict(v bool) Option {
	return func(o *options) { o.strict = v }
}

// DisposeReplaced releases values (or modules) superseded by an update.
// Default true.
func DisposeReplaced(v bool) Option {
	return func(o *options) { o.disposeReplaced = v }
}

// Paths restricts Freeze and Unfreeze to the named parameter paths. Unknown
// paths are ignored.
func Paths(paths ...string) Option {
	return func(o *options) { o.paths = append(o.paths, paths...) }
}
