package actor

import "time"

// Config holds the per-actor runtime tunables. The `config` package
// loads one of these per actor kind from TOML; tests construct it
// directly.
type Config struct {
	StateSaveInterval time.Duration

	ActionTimeout          time.Duration
	OnConnectTimeout       time.Duration
	CreateConnStateTimeout time.Duration
	CreateVarsTimeout      time.Duration
	OnSleepTimeout         time.Duration
	OnDestroyTimeout       time.Duration
	RunStopTimeout         time.Duration
	WaitUntilTimeout       time.Duration

	SleepTimeout time.Duration
	NoSleep      bool

	MaxQueueSize        int
	MaxQueueMessageSize int

	// BackoffInitial/BackoffMax govern the Queue Manager's in-flight
	// recovery backoff.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		StateSaveInterval: 100 * time.Millisecond,

		ActionTimeout:          30 * time.Second,
		OnConnectTimeout:       10 * time.Second,
		CreateConnStateTimeout: 10 * time.Second,
		CreateVarsTimeout:      10 * time.Second,
		OnSleepTimeout:         10 * time.Second,
		OnDestroyTimeout:       10 * time.Second,
		RunStopTimeout:         10 * time.Second,
		WaitUntilTimeout:       30 * time.Second,

		SleepTimeout: 30 * time.Second,
		NoSleep:      false,

		MaxQueueSize:        10000,
		MaxQueueMessageSize: 128 * 1024,

		BackoffInitial: 1 * time.Second,
		BackoffMax:     5 * time.Minute,
	}
}

// backoff computes the redelivery delay for a message that has failed
// failureCount times: delay =
// min(BACKOFF_MAX, BACKOFF_INITIAL * 2^(failureCount-1)).
func (c Config) backoff(failureCount int) time.Duration {
	if failureCount <= 0 {
		return 0
	}
	d := c.BackoffInitial
	for i := 1; i < failureCount; i++ {
		d *= 2
		if d >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	if d > c.BackoffMax {
		return c.BackoffMax
	}
	return d
}
