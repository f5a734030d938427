// Package locker provides exclusive locks scoped to a single logical key,
// such as one user row or one chat. Locks on different keys never contend.
package locker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrLockTimeout is matched when a lock could not be acquired in time. It is
// safe to retry the operation.
var ErrLockTimeout = errors.New("lock timeout")

// TimeoutError reports the key that could not be locked.
type TimeoutError struct {
	Key  string
	Wait time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s after %s", ErrLockTimeout, e.Key, e.Wait)
}

func (e *TimeoutError) Unwrap() error { return ErrLockTimeout }

// ErrUnavailable is matched when the lock service cannot be reached.
var ErrUnavailable = errors.New("lock service unavailable")

// UnavailableError carries the connection failure seen while locking Key.
type UnavailableError struct {
	Key string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrUnavailable, e.Key, e.Err)
}

func (e *UnavailableError) Unwrap() []error { return []error{ErrUnavailable, e.Err} }

// Unlock releases a held lock. It must be called exactly once.
type Unlock func()

// Locker acquires an exclusive lock on key, blocking until it is held, the
// configured timeout elapses or ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Key builds the lock key for one entity.
func Key(kind string, id uint) string {
	return kind + ":" + strconv.FormatUint(uint64(id), 10)
}

// waitContext bounds ctx by timeout when timeout is positive.
func waitContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// waitError distinguishes the caller giving up from our own timeout firing.
func waitError(parent context.Context, key string, timeout time.Duration) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return &TimeoutError{Key: key, Wait: timeout}
}
