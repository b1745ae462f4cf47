// Package storage archives the original bytes of dataset uploads.
//
// Backends live in sub-packages and register themselves from init():
//
//	func init() {
//	    storage.Register("mybackend", func(cfg config.StorageConfig) (storage.Storage, error) {
//	        return New(&cfg.MyBackend)
//	    })
//	}
//
// The binary pulls each backend in with a blank import, so adding one needs
// no change to this package.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/datatap/datatap/internal/config"
)

// BackendNone disables upload archiving.
const BackendNone = "none"

// ErrNotFound is returned by Download when no object exists at the path.
var ErrNotFound = errors.New("storage: object not found")

// Storage is implemented by every archive backend.
type Storage interface {
	// Upload stores the reader's content at path and returns its SHA-256.
	Upload(ctx context.Context, path string, reader io.Reader) (*UploadResult, error)

	// Download opens the object stored at path.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether an object is stored at path.
	Exists(ctx context.Context, path string) (bool, error)
}

// UploadResult describes a stored object.
type UploadResult struct {
	Path     string
	Size     int64
	Checksum string // hex SHA-256 of the content
}

// FactoryFunc builds a backend from the storage configuration.
type FactoryFunc func(cfg config.StorageConfig) (Storage, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]FactoryFunc)
)

// Register makes a backend available under name.
func Register(name string, factory FactoryFunc) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// Backends lists the registered backend names.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the backend selected by cfg.Backend. It returns nil, nil when
// archiving is disabled.
func New(cfg config.StorageConfig) (Storage, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" || backend == BackendNone {
		return nil, nil
	}

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend: %s (registered: %s)", cfg.Backend, strings.Join(Backends(), ", "))
	}
	return factory(cfg)
}

// DatasetObjectPath returns the archive path for an upload of filename to
// dataset id: datasets/<id>/<unix>-<filename>.
func DatasetObjectPath(datasetID int64, filename string, at time.Time) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return fmt.Sprintf("datasets/%d/%d-%s", datasetID, at.Unix(), name)
}
