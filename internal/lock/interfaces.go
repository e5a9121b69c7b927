// Package lock provides distributed and local locking abstractions.
// A single client process uses memory locks; processes sharing a credential
// cache use Redis locks so only one of them refreshes at a time.
package lock

import (
	"context"
	"time"
)

// Locker defines the interface for distributed/local locking.
type Locker interface {
	// Acquire attempts to acquire a lock.
	// Returns true if the lock was acquired, false if it's held by another owner.
	// The lock will automatically expire after the specified TTL.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// AcquireWithRetry attempts to acquire a lock with retries.
	// Will retry up to maxRetries times with retryDelay between attempts.
	AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error)

	// Release releases a lock acquired by this locker.
	// Returns false if the lock was not held or had been taken over after expiry.
	Release(ctx context.Context, key string) (bool, error)
}

// retry runs acquire until it succeeds, fails, or maxRetries is exhausted.
func retry(ctx context.Context, maxRetries int, retryDelay time.Duration, acquire func() (bool, error)) (bool, error) {
	for i := 0; i <= maxRetries; i++ {
		acquired, err := acquire()
		if err != nil {
			return false, err
		}
		if acquired {
			return true, nil
		}

		// Don't sleep on the last attempt.
		if i < maxRetries {
			timer := time.NewTimer(retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return false, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return false, nil
}

// Keys provides lock key generation.
var Keys = lockKeys{}

type lockKeys struct{}

// CredentialRefresh returns the lock key guarding a credential fetch.
func (lockKeys) CredentialRefresh(name string) string {
	return "lock:credentials:refresh:" + name
}

// Transfer returns the lock key guarding a download destination.
func (lockKeys) Transfer(dest string) string {
	return "lock:transfer:" + dest
}
