package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/logging"
)

// LockTTL is how long a lock may sit before another process treats it as
// abandoned and reclaims it.
const LockTTL = 10 * time.Minute

// lockPollInterval is how often lock acquisition retries while waiting.
const lockPollInterval = 2 * time.Second

// Backend defines the interface for state storage backends.
type Backend interface {
	// ReadState loads the state snapshot, returning a fresh empty state if
	// none has been written yet.
	ReadState(ctx context.Context) (*ir.State, error)

	// WriteState persists the state snapshot. lockID must be the token of
	// the currently held lock when the backend supports locking.
	WriteState(ctx context.Context, state *ir.State, lockID string) error

	// Lock attempts to acquire the exclusive state lock once. On success it
	// returns an opaque token; if another holder has it, the error is a
	// *LockError carrying the holder's info.
	Lock(ctx context.Context, info *LockInfo) (string, error)

	// Unlock releases the lock identified by token.
	Unlock(ctx context.Context, token string) error
}

// LockInfo describes a held or requested state lock.
type LockInfo struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	Who       string    `json:"who"`
	Created   time.Time `json:"created"`
}

// NewLockInfo returns lock metadata for the given operation with a fresh token.
func NewLockInfo(operation string) *LockInfo {
	host, _ := os.Hostname()
	return &LockInfo{
		ID:        uuid.NewString(),
		Operation: operation,
		Who:       fmt.Sprintf("%s@%d", host, os.Getpid()),
		Created:   time.Now().UTC(),
	}
}

// IsStale reports whether the lock is older than the TTL.
func (l *LockInfo) IsStale() bool {
	return time.Since(l.Created) > LockTTL
}

// LockError is returned when the state lock is held by someone else.
type LockError struct {
	Holder *LockInfo
	Err    error
}

func (e *LockError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("state is locked by %s (operation %q, since %s)",
			e.Holder.Who, e.Holder.Operation, e.Holder.Created.Format(time.RFC3339))
	}
	return fmt.Sprintf("failed to lock state: %v", e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }

// verifyHeldLock checks that a state write is backed by a live lock: a record
// must exist, carry the writer's token, and not have expired.
func verifyHeldLock(holder *LockInfo, lockID string) error {
	switch {
	case holder == nil:
		return &LockError{Err: errors.New("state write requires the lock to be held")}
	case holder.ID != lockID:
		return &LockError{Holder: holder}
	case holder.IsStale():
		return &LockError{Holder: holder, Err: errors.New("state lock has expired")}
	}
	return nil
}

// NewBackend creates a state backend from configuration. A nil configuration
// selects the local backend with its default path under workdir.
func NewBackend(cfg *ir.BackendConfig, workdir string) (Backend, error) {
	if cfg == nil {
		return NewLocalBackend(defaultLocalPath(workdir)), nil
	}
	switch cfg.Type {
	case "local", "":
		path := cfg.Config["path"]
		if path == "" {
			path = defaultLocalPath(workdir)
		}
		return NewLocalBackend(path), nil
	case "s3":
		return newS3Backend(cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// AcquireLock polls Lock until it succeeds or maxWait elapses. A zero maxWait
// means a single attempt. Any *LockError is retried within the deadline: a
// holderless one can come out of a momentary creation race and clears on the
// next attempt. Other errors fail immediately.
func AcquireLock(ctx context.Context, b Backend, info *LockInfo, maxWait time.Duration) (string, error) {
	deadline := time.Now().Add(maxWait)
	for {
		token, err := b.Lock(ctx, info)
		if err == nil {
			return token, nil
		}
		var lockErr *LockError
		if !errors.As(err, &lockErr) {
			return "", err
		}
		if time.Now().Add(lockPollInterval).After(deadline) {
			return "", err
		}
		holder := "unknown"
		if lockErr.Holder != nil {
			holder = lockErr.Holder.Who
		}
		logging.Debug("state lock held, waiting", "holder", holder)
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("lock acquisition cancelled: %w", ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
}
