package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/outreach-tracker/internal/pkg/logger"
)

const (
	maxAttempts  = 3
	retryBackoff = 25 * time.Millisecond
)

// retryable reports serialization failures and deadlocks, which Postgres
// expects the client to simply run again.
func retryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return true
	}
	return false
}

func uniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// withRetry runs fn until it succeeds, fails with a non-retryable error, or
// runs out of attempts.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
		logger.Warn("postgres: retrying after conflict", "op", op, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return err
}
