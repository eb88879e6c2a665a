package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrane-io/terrane/internal/ir"
)

func TestEncryptState_NoKeyPassthrough(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "")

	content := []byte(`{"version": 1}`)
	out, err := EncryptState(content)
	require.NoError(t, err)
	assert.Equal(t, content, out)
	assert.False(t, IsEncrypted(out))
}

func TestEncryptState_RoundTrip(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "test-encryption-key")

	content := []byte(`{"version": 1, "serial": 5}`)
	encrypted, err := EncryptState(content)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(encrypted))
	assert.NotContains(t, string(encrypted), "serial")

	decrypted, err := DecryptState(encrypted)
	require.NoError(t, err)
	assert.Equal(t, content, decrypted)
}

func TestDecryptState_WrongKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "correct-key")
	encrypted, err := EncryptState([]byte(`{"version": 1}`))
	require.NoError(t, err)

	t.Setenv(EncryptionKeyEnvVar, "different-key")
	_, err = DecryptState(encrypted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypt")
}

func TestDecryptState_MissingKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "some-key")
	encrypted, err := EncryptState([]byte(`{"version": 1}`))
	require.NoError(t, err)

	t.Setenv(EncryptionKeyEnvVar, "")
	_, err = DecryptState(encrypted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), EncryptionKeyEnvVar)
}

func TestDecryptState_PlaintextPassthrough(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "")
	content := []byte(`{"version": 1}`)
	out, err := DecryptState(content)
	require.NoError(t, err)
	assert.Equal(t, content, out)
}

func TestLocalBackend_EncryptedAtRest(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "at-rest-key")

	path := filepath.Join(t.TempDir(), "terrane.tfstate.json")
	b := NewLocalBackend(path)
	ctx := context.Background()

	st := NewState()
	st.Resources = []*ir.ResourceState{{
		Type: "null_resource", Name: "secret", Provider: "null",
		Inputs: map[string]any{"token": "s3cr3t"},
	}}

	token, err := b.Lock(ctx, NewLockInfo("test"))
	require.NoError(t, err)
	require.NoError(t, b.WriteState(ctx, st, token))
	require.NoError(t, b.Unlock(ctx, token))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(raw))
	assert.NotContains(t, string(raw), "s3cr3t")

	got, err := b.ReadState(ctx)
	require.NoError(t, err)
	require.Len(t, got.Resources, 1)
	assert.Equal(t, "s3cr3t", got.Resources[0].Inputs["token"])
}
