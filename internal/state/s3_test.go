package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrane-io/terrane/internal/ir"
)

func TestNewS3BackendRequiresBucket(t *testing.T) {
	_, err := newS3Backend(map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestNewS3BackendDefaults(t *testing.T) {
	config := map[string]string{
		"bucket": "my-bucket",
	}
	b, err := newS3Backend(config)
	// May fail on AWS config load in CI without credentials, which is expected
	if err != nil {
		t.Skipf("Skipping S3 backend test (no AWS credentials): %v", err)
	}
	s3b, ok := b.(*s3Backend)
	require.True(t, ok)
	assert.Equal(t, "my-bucket", s3b.bucket)
	assert.Equal(t, "terrane/state.json", s3b.key)
	assert.Equal(t, "us-east-1", s3b.region)
	assert.Empty(t, s3b.dynamoDBTable)
	assert.False(t, s3b.encrypt)
	assert.Nil(t, s3b.dbClient)
}

func TestNewS3BackendCustomConfig(t *testing.T) {
	config := map[string]string{
		"bucket":         "custom-bucket",
		"key":            "custom/path/state.json",
		"region":         "eu-west-1",
		"dynamodb_table": "terrane-locks",
		"encrypt":        "true",
		"profile":        "staging",
	}
	b, err := newS3Backend(config)
	if err != nil {
		t.Skipf("Skipping S3 backend test (no AWS credentials): %v", err)
	}
	s3b, ok := b.(*s3Backend)
	require.True(t, ok)
	assert.Equal(t, "custom-bucket", s3b.bucket)
	assert.Equal(t, "custom/path/state.json", s3b.key)
	assert.Equal(t, "eu-west-1", s3b.region)
	assert.Equal(t, "terrane-locks", s3b.dynamoDBTable)
	assert.True(t, s3b.encrypt)
	assert.NotNil(t, s3b.dbClient)
	assert.Equal(t, "custom-bucket/custom/path/state.json", s3b.lockKey())
}

func TestNewBackendDefaultsToLocal(t *testing.T) {
	b, err := NewBackend(nil, t.TempDir())
	require.NoError(t, err)
	_, ok := b.(*localBackend)
	assert.True(t, ok)
}

func TestNewBackendRejectsUnknownType(t *testing.T) {
	_, err := NewBackend(&ir.BackendConfig{Type: "redis"}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend type")
}
