package util

import (
	"context"
	"time"
)

// Retry executes fn with retries and backoff.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	return RetryIf(ctx, attempts, backoff, func(error) bool { return true }, fn)
}

// RetryIf is Retry that gives up as soon as retryable reports false.
func RetryIf(ctx context.Context, attempts int, backoff time.Duration, retryable func(error) bool, fn func() error) error {
	if attempts <= 1 {
		return fn()
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
