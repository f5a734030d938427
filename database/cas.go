package database

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"gorm.io/gorm"
)

// CompareAndSwap runs fn in a transaction. When fn returns ErrVersionConflict
// the transaction is rolled back and fn is retried with exponential backoff,
// up to maxTries attempts. Any other error stops immediately.
func CompareAndSwap(ctx context.Context, db *gorm.DB, maxTries uint, fn func(tx *gorm.DB) error) error {
	if maxTries == 0 {
		maxTries = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := db.WithContext(ctx).Transaction(fn)
		if err == nil || errors.Is(err, ErrVersionConflict) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(Classify(err))
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxTries))
	return err
}
