// Package objstore abstracts the S3-compatible blob backend holding
// uploaded spreadsheets and extracted table artifacts. Keys are run-scoped
// (<prefix>/<runID>/<table>.<ext>) so concurrent or repeated runs never
// collide.
package objstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
)

// Location describes where an uploaded object landed.
type Location struct {
	Bucket string
	Key    string
	Size   int64
}

// Store defines the object storage operations used by the pipeline.
type Store interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string, metadata map[string]string) (Location, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// List returns all keys under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config holds S3/MinIO connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// minioStore implements Store using the minio-go SDK.
type minioStore struct {
	client *minio.Client
	bucket string
}

// NewMinio creates a Store backed by a MinIO/S3 endpoint.
func NewMinio(cfg Config) (Store, error) {
	if cfg.Endpoint == "" {
		return nil, eris.New("objstore: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, eris.New("objstore: bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, eris.Wrap(err, "objstore: create client")
	}

	return &minioStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *minioStore) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string, metadata map[string]string) (Location, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	if err != nil {
		return Location{}, eris.Wrapf(err, "objstore: upload %s", key)
	}
	return Location{Bucket: s.bucket, Key: key, Size: info.Size}, nil
}

func (s *minioStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "objstore: download %s", key)
	}
	// GetObject is lazy; surface missing keys now instead of on first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, eris.Wrapf(err, "objstore: stat %s", key)
	}
	return obj, nil
}

func (s *minioStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	return eris.Wrapf(err, "objstore: delete %s", key)
}

func (s *minioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, eris.Wrapf(obj.Err, "objstore: list %s", prefix)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Memory is an in-memory Store for tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Put seeds an object directly, bypassing Upload.
func (m *Memory) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
}

// Upload implements Store.
func (m *Memory) Upload(_ context.Context, key string, body io.Reader, _ int64, _ string, _ map[string]string) (Location, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return Location{}, eris.Wrap(err, "objstore: read body")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return Location{Bucket: "memory", Key: key, Size: int64(len(data))}, nil
}

// Download implements Store.
func (m *Memory) Download(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, eris.Errorf("objstore: key not found: %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// List implements Store.
func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
