package gcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datatap/datatap/internal/config"
)

func TestNewMissingBucket(t *testing.T) {
	_, err := New(&config.GCSStorageConfig{})
	assert.Error(t, err)
}

func TestNewEmulatorEndpoint(t *testing.T) {
	s, err := New(&config.GCSStorageConfig{
		Bucket:   "archive",
		Endpoint: "http://localhost:4443/storage/v1/",
	})
	require.NoError(t, err)
	assert.Equal(t, "archive", s.bucket)
	assert.NoError(t, s.Close())
}
