package reactor

// sourceOptions holds configuration shared by Create and the operators that
// accept SourceOption.
type sourceOptions struct {
	onBackpressureOverflow func(dropped int)
	bufferCapacity         int
}

// SourceOption configures a Source built by Create or certain operators.
type SourceOption interface {
	applySource(*sourceOptions)
}

// sourceOptionImpl implements SourceOption via a closure, mirroring the
// corpus's functional-options idiom.
type sourceOptionImpl struct {
	fn func(*sourceOptions)
}

func (o *sourceOptionImpl) applySource(opts *sourceOptions) { o.fn(opts) }

// WithBufferCapacity bounds the internal queue an emitter-backed Source
// uses to hold values produced faster than they are requested. The default
// is unbounded.
func WithBufferCapacity(n int) SourceOption {
	return &sourceOptionImpl{func(opts *sourceOptions) {
		opts.bufferCapacity = n
	}}
}

// WithOverflowHandler installs a callback invoked whenever a bounded
// internal buffer drops a value because it could not accept it and no
// onBackpressure strategy recovered it.
func WithOverflowHandler(fn func(dropped int)) SourceOption {
	return &sourceOptionImpl{func(opts *sourceOptions) {
		opts.onBackpressureOverflow = fn
	}}
}

// resolveSourceOptions applies SourceOption instances to a fresh
// sourceOptions, skipping nils gracefully.
func resolveSourceOptions(opts []SourceOption) *sourceOptions {
	cfg := &sourceOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applySource(cfg)
	}
	return cfg
}
