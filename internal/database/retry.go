package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/example/retentiond/pkg/models"
)

// withReadRetry retries a read against the store with bounded exponential
// backoff. Not-found results are never retried; everything else is treated
// as transient up to the retry budget.
func withReadRetry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(readPolicy(), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, models.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func readPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 3 * time.Second
	return b
}
