// Package gcs archives uploads in Google Cloud Storage. Without a
// credentials file the client uses Application Default Credentials.
package gcs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/storage"
)

func init() {
	storage.Register("gcs", func(cfg config.StorageConfig) (storage.Storage, error) {
		return New(&cfg.GCS)
	})
}

// Storage stores objects in a single bucket.
type Storage struct {
	client *gcstorage.Client
	bucket string
}

// New builds a GCS client. Endpoint points the client at an emulator.
func New(cfg *config.GCSStorageConfig) (*Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := gcstorage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &Storage{client: client, bucket: cfg.Bucket}, nil
}

// Close releases the client.
func (s *Storage) Close() error {
	return s.client.Close()
}

// Upload streams the object through a hashing writer.
func (s *Storage) Upload(ctx context.Context, path string, reader io.Reader) (*storage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	w.Metadata = map[string]string{"sha256": checksum}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close object writer: %w", err)
	}

	return &storage.UploadResult{Path: path, Size: int64(len(data)), Checksum: checksum}, nil
}

// Download opens a reader on the object.
func (s *Storage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read object: %w", err)
	}
	return r, nil
}

// Delete removes the object, ignoring a missing one.
func (s *Storage) Delete(ctx context.Context, path string) error {
	err := s.client.Bucket(s.bucket).Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, gcstorage.ErrObjectNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// Exists fetches the object attributes.
func (s *Storage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcstorage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("object attrs: %w", err)
	}
	return true, nil
}
