package storage

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datatap/datatap/internal/config"
)

type memStorage struct{ objects map[string]string }

func (m *memStorage) Upload(ctx context.Context, path string, r io.Reader) (*UploadResult, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.objects[path] = string(b)
	return &UploadResult{Path: path, Size: int64(len(b))}, nil
}

func (m *memStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	return nil, ErrNotFound
}

func (m *memStorage) Delete(ctx context.Context, path string) error {
	delete(m.objects, path)
	return nil
}

func (m *memStorage) Exists(ctx context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

func TestNewDisabled(t *testing.T) {
	for _, backend := range []string{"", "none", " NONE "} {
		s, err := New(config.StorageConfig{Backend: backend})
		require.NoError(t, err, "backend %q", backend)
		assert.Nil(t, s, "backend %q", backend)
	}
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(config.StorageConfig{Backend: "tape"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage backend: tape")
}

func TestRegisterAndNew(t *testing.T) {
	mem := &memStorage{objects: map[string]string{}}
	Register("mem-test", func(cfg config.StorageConfig) (Storage, error) {
		return mem, nil
	})

	s, err := New(config.StorageConfig{Backend: "MEM-TEST"})
	require.NoError(t, err)
	assert.Same(t, mem, s)
	assert.Contains(t, Backends(), "mem-test")
}

func TestDatasetObjectPath(t *testing.T) {
	at := time.Unix(1700000000, 0)

	tests := []struct {
		filename string
		want     string
	}{
		{"people.csv", "datasets/7/1700000000-people.csv"},
		{"../../etc/passwd", "datasets/7/1700000000-passwd"},
		{`C:\Users\me\data.json`, "datasets/7/1700000000-data.json"},
		{"", "datasets/7/1700000000-upload"},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, DatasetObjectPath(7, tt.filename, at))
		})
	}
}
