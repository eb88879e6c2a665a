package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/terrane-io/terrane/internal/ir"
)

// localBackend stores state in a file next to the configuration, with a
// sibling .lock file implementing the lock protocol.
type localBackend struct {
	path string
}

// NewLocalBackend returns a backend storing state at path.
func NewLocalBackend(path string) Backend {
	return &localBackend{path: path}
}

func (b *localBackend) ReadState(ctx context.Context) (*ir.State, error) {
	raw, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", b.path, err)
	}
	state, err := ParseState(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", b.path, err)
	}
	return state, nil
}

func (b *localBackend) WriteState(ctx context.Context, state *ir.State, lockID string) error {
	holder, err := b.readLock()
	if err != nil {
		return fmt.Errorf("failed to verify state lock: %w", err)
	}
	if err := verifyHeldLock(holder, lockID); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := SerializeState(state)
	if err != nil {
		return err
	}

	// Write to a sibling temp file then rename, so a crash mid-write never
	// leaves a truncated snapshot.
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func (b *localBackend) Lock(ctx context.Context, info *LockInfo) (string, error) {
	lockPath := b.lockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create lock directory: %w", err)
	}

	if holder, err := b.readLock(); err == nil && holder != nil {
		if !holder.IsStale() {
			return "", &LockError{Holder: holder}
		}
		os.Remove(lockPath)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("failed to marshal lock info: %w", err)
	}
	// O_EXCL makes concurrent creation race-free: exactly one contender wins.
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			holder, readErr := b.readLock()
			if readErr != nil {
				holder = nil
			}
			return "", &LockError{Holder: holder, Err: err}
		}
		return "", fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(lockPath)
		return "", fmt.Errorf("failed to write lock file: %w", err)
	}
	return info.ID, nil
}

func (b *localBackend) Unlock(ctx context.Context, token string) error {
	holder, err := b.readLock()
	if err != nil || holder == nil {
		return nil
	}
	if holder.ID != token {
		return &LockError{Holder: holder}
	}
	if err := os.Remove(b.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (b *localBackend) readLock() (*LockInfo, error) {
	raw, err := os.ReadFile(b.lockPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	return &info, nil
}

func (b *localBackend) lockPath() string {
	return b.path + ".lock"
}
