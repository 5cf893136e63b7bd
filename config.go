package disparo

import "time"

// Config holds configuration for the scheduler and its executor.
type Config struct {
	// MaxConcurrentJobs is the maximum number of jobs executing at once.
	// When the in-flight count reaches this limit a poll tick is skipped
	// entirely; the scheduler never blocks waiting for capacity.
	MaxConcurrentJobs int

	// PollInterval is how often the scheduler polls the store for due jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time Stop waits for in-flight jobs
	// to drain before giving up.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running jobs renew their lease.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long a running job may go without a
	// heartbeat before its claim is considered abandoned and reclaimed.
	StaleJobThreshold time.Duration

	// RetryInitialDelay is the backoff delay after the first failed attempt.
	RetryInitialDelay time.Duration

	// RetryMaxDelay caps the backoff delay regardless of attempt count.
	RetryMaxDelay time.Duration

	// DefaultMaxAttempts is the attempt budget for jobs that do not set
	// their own.
	DefaultMaxAttempts int

	// RetentionDays is how long terminal jobs (completed, failed,
	// cancelled) are kept before the cleanup job deletes them.
	RetentionDays int
}

// DefaultConfig returns a Config with the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs:  3,
		PollInterval:       30 * time.Second,
		ShutdownTimeout:    5 * time.Minute,
		HeartbeatInterval:  15 * time.Second,
		StaleJobThreshold:  2 * time.Minute,
		RetryInitialDelay:  5 * time.Second,
		RetryMaxDelay:      5 * time.Minute,
		DefaultMaxAttempts: 3,
		RetentionDays:      30,
	}
}
