package coord

import "github.com/EatingXiGua/shortlink/clog"

// Options holds configuration for the coordinator.
type Options struct {
	Logger clog.Logger
}

// Option configures a coordinator.
type Option func(*Options)

// WithLogger provides a logger for the coordinator.
func WithLogger(logger clog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func parseOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	if options.Logger == nil {
		options.Logger = clog.Namespace("coord")
	}
	return options
}
