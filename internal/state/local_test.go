package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrane-io/terrane/internal/ir"
)

func testBackend(t *testing.T) Backend {
	t.Helper()
	return NewLocalBackend(filepath.Join(t.TempDir(), "terrane.tfstate.json"))
}

func TestLocalBackend_ReadEmpty(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	st, err := b.ReadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateVersion, st.Version)
	assert.Equal(t, 0, st.Serial)
	assert.NotEmpty(t, st.Lineage)
	assert.Empty(t, st.Resources)
}

func TestLocalBackend_WriteReadRoundTrip(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	st := NewState()
	st.Serial = 7
	st.Resources = []*ir.ResourceState{{
		Type:       "aws_s3_bucket",
		Name:       "assets",
		Provider:   "aws",
		Inputs:     map[string]any{"bucket": "my-assets"},
		InputsHash: "hash123",
		Outputs:    map[string]any{"id": "my-assets"},
	}}
	st.Outputs = map[string]any{"bucket_name": "my-assets"}

	token, err := b.Lock(ctx, NewLockInfo("test"))
	require.NoError(t, err)
	require.NoError(t, b.WriteState(ctx, st, token))
	require.NoError(t, b.Unlock(ctx, token))

	got, err := b.ReadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, st.Serial, got.Serial)
	assert.Equal(t, st.Lineage, got.Lineage)
	require.Len(t, got.Resources, 1)
	assert.Equal(t, "aws_s3_bucket.assets", got.Resources[0].Addr())
	assert.Equal(t, "my-assets", got.Resources[0].Outputs["id"])
	assert.Equal(t, "my-assets", got.Outputs["bucket_name"])
}

func TestLocalBackend_LockContention(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	token, err := b.Lock(ctx, NewLockInfo("apply"))
	require.NoError(t, err)

	_, err = b.Lock(ctx, NewLockInfo("apply"))
	require.Error(t, err)
	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	require.NotNil(t, lockErr.Holder)
	assert.Equal(t, "apply", lockErr.Holder.Operation)

	// After release the lock is free again.
	require.NoError(t, b.Unlock(ctx, token))
	token2, err := b.Lock(ctx, NewLockInfo("plan"))
	require.NoError(t, err)
	require.NoError(t, b.Unlock(ctx, token2))
}

func TestLocalBackend_UnlockWrongToken(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	token, err := b.Lock(ctx, NewLockInfo("apply"))
	require.NoError(t, err)

	err = b.Unlock(ctx, "not-the-token")
	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)

	// The real holder can still release.
	require.NoError(t, b.Unlock(ctx, token))
}

func TestLocalBackend_WriteRequiresHeldLock(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	_, err := b.Lock(ctx, NewLockInfo("apply"))
	require.NoError(t, err)

	err = b.WriteState(ctx, NewState(), "someone-else")
	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
}

func TestLocalBackend_WriteWithoutLock(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	// No lock was ever taken; the write must be refused.
	err := b.WriteState(ctx, NewState(), "never-issued")
	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	assert.Nil(t, lockErr.Holder)
}

func TestLocalBackend_WriteWithExpiredLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terrane.tfstate.json")
	b := NewLocalBackend(path)
	ctx := context.Background()

	expired := &LockInfo{
		ID:        "expired-token",
		Operation: "apply",
		Who:       "slow@1",
		Created:   time.Now().Add(-LockTTL - time.Minute),
	}
	data, err := json.Marshal(expired)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path+".lock", data, 0644))

	// Even the original holder may not write once the lock passed its TTL.
	err = b.WriteState(ctx, NewState(), "expired-token")
	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	require.NotNil(t, lockErr.Err)
	assert.Contains(t, lockErr.Err.Error(), "expired")
}

func TestLocalBackend_StaleLockReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terrane.tfstate.json")
	b := NewLocalBackend(path)
	ctx := context.Background()

	stale := &LockInfo{
		ID:        "stale-token",
		Operation: "apply",
		Who:       "ghost@1",
		Created:   time.Now().Add(-LockTTL - time.Minute),
	}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path+".lock", data, 0644))

	// A fresh contender reclaims the abandoned lock.
	token, err := b.Lock(ctx, NewLockInfo("apply"))
	require.NoError(t, err)
	require.NoError(t, b.Unlock(ctx, token))
}

func TestLocalBackend_ConcurrentLockExclusive(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	const contenders = 16
	var wg sync.WaitGroup
	winners := make(chan string, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := b.Lock(ctx, NewLockInfo("race"))
			if err == nil {
				winners <- token
			}
		}()
	}
	wg.Wait()
	close(winners)

	var tokens []string
	for tok := range winners {
		tokens = append(tokens, tok)
	}
	require.Len(t, tokens, 1, "exactly one contender may win the lock")
	require.NoError(t, b.Unlock(ctx, tokens[0]))
}

func TestAcquireLock_WaitsForRelease(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	token, err := b.Lock(ctx, NewLockInfo("apply"))
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = b.Unlock(ctx, token)
		close(released)
	}()

	token2, err := AcquireLock(ctx, b, NewLockInfo("apply"), 30*time.Second)
	require.NoError(t, err)
	<-released
	require.NoError(t, b.Unlock(ctx, token2))
}

func TestAcquireLock_TimesOut(t *testing.T) {
	b := testBackend(t)
	ctx := context.Background()

	token, err := b.Lock(ctx, NewLockInfo("apply"))
	require.NoError(t, err)
	defer b.Unlock(ctx, token)

	_, err = AcquireLock(ctx, b, NewLockInfo("apply"), 10*time.Millisecond)
	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
}
