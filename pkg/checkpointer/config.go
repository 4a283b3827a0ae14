package checkpointer

import "time"

// Config holds the retry policy applied to checkpoint writes.
type Config struct {
	WriteTimeout    time.Duration // Timeout for each checkpoint write operation
	MaxRetries      int           // Maximum number of retry attempts for failed writes
	RetryBackoff    time.Duration // Backoff before the first retry, doubled on each further retry
	MaxRetryBackoff time.Duration // Upper bound for the backoff between retries
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    1 * time.Second,
		MaxRetries:      3,
		RetryBackoff:    300 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}
