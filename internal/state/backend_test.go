package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrane-io/terrane/internal/ir"
)

// racyBackend fails Lock with a holderless *LockError a fixed number of
// times, mimicking the window where a contender lost the lock-file creation
// race before the winner's record was readable.
type racyBackend struct {
	failures int
	attempts int
	lockErr  error
}

func (b *racyBackend) ReadState(ctx context.Context) (*ir.State, error) { return NewState(), nil }

func (b *racyBackend) WriteState(ctx context.Context, state *ir.State, lockID string) error {
	return nil
}

func (b *racyBackend) Lock(ctx context.Context, info *LockInfo) (string, error) {
	b.attempts++
	if b.attempts <= b.failures {
		return "", b.lockErr
	}
	return info.ID, nil
}

func (b *racyBackend) Unlock(ctx context.Context, token string) error { return nil }

func TestAcquireLock_RetriesHolderlessLockError(t *testing.T) {
	b := &racyBackend{failures: 1, lockErr: &LockError{Err: errors.New("lock file appeared mid-create")}}

	token, err := AcquireLock(context.Background(), b, NewLockInfo("apply"), 30*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, 2, b.attempts)
}

func TestAcquireLock_NonLockErrorFailsFast(t *testing.T) {
	b := &racyBackend{failures: 1, lockErr: errors.New("permission denied")}

	_, err := AcquireLock(context.Background(), b, NewLockInfo("apply"), 30*time.Second)
	require.Error(t, err)
	assert.Equal(t, 1, b.attempts)
}

func TestVerifyHeldLock(t *testing.T) {
	live := &LockInfo{ID: "tok", Operation: "apply", Who: "a@1", Created: time.Now()}
	expired := &LockInfo{ID: "tok", Operation: "apply", Who: "a@1", Created: time.Now().Add(-LockTTL - time.Minute)}

	assert.NoError(t, verifyHeldLock(live, "tok"))

	var lockErr *LockError
	require.ErrorAs(t, verifyHeldLock(nil, "tok"), &lockErr)
	require.ErrorAs(t, verifyHeldLock(live, "other"), &lockErr)
	assert.Equal(t, live, lockErr.Holder)
	require.ErrorAs(t, verifyHeldLock(expired, "tok"), &lockErr)
}
