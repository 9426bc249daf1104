package checkin

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a Scanner or Reconciler.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *zap.Logger
}

func newOptions(opts []Option) options {
	o := options{
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides the wall clock used to decide which weeks are in the future.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
