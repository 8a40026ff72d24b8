// Package retry provides bounded retry loops for operations that fail
// transiently: OpenStack API calls that hit locked resources, base image
// downloads, and the wait for a build VM to finish provisioning.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config holds retry parameters.
type Config struct {
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// Option adjusts the retry configuration.
type Option func(*Config)

// Do runs operation until it succeeds, returns a fatal error, the
// context is cancelled, or MaxAttempts is exhausted. The delay between
// attempts grows by Multiplier up to MaxDelay; a Multiplier of 1 gives
// the fixed-interval polling the VM completion wait uses.
func Do(ctx context.Context, operation func() error, opts ...Option) error {
	cfg := &Config{
		MaxAttempts: 5,
		Delay:       time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	delay := cfg.Delay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsFatal(err) {
			return fmt.Errorf("fatal error (not retrying): %w", err)
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("cancelled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// WithMaxAttempts sets the total number of attempts.
func WithMaxAttempts(n int) Option {
	return func(c *Config) { c.MaxAttempts = n }
}

// WithDelay sets the initial delay between attempts.
func WithDelay(d time.Duration) Option {
	return func(c *Config) { c.Delay = d }
}

// WithFixedInterval makes every delay equal to d, with no backoff.
func WithFixedInterval(d time.Duration) Option {
	return func(c *Config) {
		c.Delay = d
		c.MaxDelay = d
		c.Multiplier = 1.0
	}
}

// FatalError marks an error as not worth retrying.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so Do stops immediately instead of retrying.
func Fatal(err error) error {
	return &FatalError{Err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
