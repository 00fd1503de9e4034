package clog

// Options holds configuration options for a clog logger instance.
type Options struct {
	// Namespace is the root namespace, typically the binary name.
	Namespace string
}

// Option configures clog options.
type Option func(*Options)

// WithNamespace sets the root namespace for the logger.
//
//	logger, err := clog.New(ctx, config, clog.WithNamespace("shortlink-alloc"))
func WithNamespace(namespace string) Option {
	return func(opts *Options) {
		opts.Namespace = namespace
	}
}

// ParseOptions applies the provided options over the defaults.
func ParseOptions(opts ...Option) *Options {
	result := &Options{}
	for _, opt := range opts {
		opt(result)
	}
	return result
}
