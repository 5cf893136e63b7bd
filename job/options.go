package job

import "time"

// Options configures per-job behavior.
type Options struct {
	// MaxAttempts is the total attempt budget before the job fails
	// terminally.
	MaxAttempts int

	// ScheduledAt schedules the job for future execution. Zero means due
	// immediately.
	ScheduledAt time.Time
}

// DefaultOptions returns Options with the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithMaxAttempts sets the total attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithScheduledAt schedules the job for execution at a specific time.
func WithScheduledAt(t time.Time) Option {
	return func(o *Options) {
		o.ScheduledAt = t
	}
}
