package azure

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/storage"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AzureStorageConfig
	}{
		{"missing account", config.AzureStorageConfig{AccountKey: "a2V5", Container: "c"}},
		{"missing key", config.AzureStorageConfig{AccountName: "acct", Container: "c"}},
		{"missing container", config.AzureStorageConfig{AccountName: "acct", AccountKey: "a2V5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&tt.cfg)
			assert.Error(t, err)
		})
	}
}

// newMockAzure imitates the blob endpoints used by Storage.
func newMockAzure(t *testing.T) *Storage {
	t.Helper()

	var mu sync.Mutex
	blobs := map[string][]byte{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/")

		mu.Lock()
		defer mu.Unlock()

		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			blobs[key] = data
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet, http.MethodHead:
			data, ok := blobs[key]
			if !ok {
				w.Header().Set("x-ms-error-code", "BlobNotFound")
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.WriteHeader(http.StatusOK)
			if r.Method == http.MethodGet {
				_, _ = w.Write(data)
			}
		case http.MethodDelete:
			if _, ok := blobs[key]; !ok {
				w.Header().Set("x-ms-error-code", "BlobNotFound")
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(blobs, key)
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := azblob.NewClientWithNoCredential(srv.URL, nil)
	require.NoError(t, err)
	return &Storage{client: client, container: "archive"}
}

func TestBlobLifecycle(t *testing.T) {
	s := newMockAzure(t)
	ctx := t.Context()

	data := []byte(`[{"id":1,"name":"a"}]`)
	res, err := s.Upload(ctx, "datasets/3/1-people.json", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, res.Checksum, 64)

	ok, err := s.Exists(ctx, "datasets/3/1-people.json")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Download(ctx, "datasets/3/1-people.json")
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, data, got)

	require.NoError(t, s.Delete(ctx, "datasets/3/1-people.json"))
	require.NoError(t, s.Delete(ctx, "datasets/3/1-people.json"), "second delete is a no-op")

	ok, err = s.Exists(ctx, "datasets/3/1-people.json")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Download(ctx, "datasets/3/1-people.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
