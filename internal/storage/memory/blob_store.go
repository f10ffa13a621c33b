package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Eli-Gooding/research-v1-sub000/internal/research"
)

type object struct {
	data       []byte
	uploadedAt time.Time
}

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]object
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]object)}
}

// Put persists the content and returns a memory:// URI.
func (s *BlobStore) Put(_ context.Context, key string, _ string, r io.Reader) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{
		data:       append([]byte(nil), data...),
		uploadedAt: time.Now().UTC(),
	}
	return fmt.Sprintf("memory://%s", key), nil
}

// Get returns the content stored under key.
func (s *BlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, research.ErrBlobNotFound
	}
	return append([]byte(nil), obj.data...), nil
}

// List returns every object whose key starts with prefix, ordered by key.
func (s *BlobStore) List(_ context.Context, prefix string) ([]research.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	infos := make([]research.ObjectInfo, 0, len(s.objects))
	for key, obj := range s.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		infos = append(infos, research.ObjectInfo{
			Key:        key,
			Size:       int64(len(obj.data)),
			UploadedAt: obj.uploadedAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}
