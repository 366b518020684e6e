package ingest

import "time"

var ErrStopped = errStopped

// WithTeardownGrace overrides how long Run waits for the second subsystem
// after the first one has stopped.
func WithTeardownGrace(d time.Duration) Option {
	return func(o *options) {
		o.teardownGrace = d
	}
}
