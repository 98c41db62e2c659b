package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePerBinary(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	require.NoError(t, Load())

	t.Run("worker needs no object storage", func(t *testing.T) {
		assert.NoError(t, Validate())
	})

	t.Run("server requires object storage", func(t *testing.T) {
		assert.Error(t, ValidateServer())

		t.Setenv("MINIO_ENDPOINT", "localhost:9000")
		t.Setenv("MINIO_ACCESS_KEY", "minio")
		t.Setenv("MINIO_SECRET_KEY", "minio123")
		t.Setenv("MINIO_BUCKET", "documents")
		assert.NoError(t, ValidateServer())
	})
}

func TestValidateRequiresCoreKeys(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	require.NoError(t, Load())
	assert.Error(t, Validate())

	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("REDIS_ADDR", "")
	require.NoError(t, Load())
	assert.Error(t, Validate())
}
