package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
)

// WithRetry runs fn up to maxRetries times, backing off between attempts.
// Not-found and context errors are returned immediately.
func WithRetry(fn func() error) error {
	var err error
	backoff := initialBackoff
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
		if attempt < maxRetries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return err
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrInvalidValue):
		return false
	}
	return true
}
