package gpusort

import "log/slog"

// Option configures a Sorter during creation.
// Use functional options to customize Sorter behavior.
//
// Example:
//
//	// Default in-process simulator
//	s, err := gpusort.New()
//
//	// GPU device (dependency injection)
//	s, err := gpusort.New(gpusort.WithDevice(dev), gpusort.WithConcurrency(4))
type Option func(*options)

// options holds optional configuration for Sorter creation.
type options struct {
	device      Device
	logger      *slog.Logger
	concurrency int
}

// WithDevice sets the device the Sorter dispatches to. The Sorter takes
// ownership and closes the device in Close, or in New if New fails.
//
// Without WithDevice, New creates a simulator device.
func WithDevice(d Device) Option {
	return func(o *options) {
		o.device = d
	}
}

// WithLogger sets the logger for the Sorter's own messages instead of the
// package logger. The logger is also passed to the device if it accepts
// one. Backend loggers are package-wide, so this retargets every device of
// that backend, not only this Sorter's.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithConcurrency bounds the number of sorts SortMany runs at once.
// Values <= 0 select GOMAXPROCS.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}
