package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Object describes an uploaded object.
type Object struct {
	Key         string
	PublicURL   string
	Size        int64
	ContentType string
}

// ObjectStore stores uploaded files and issues their public URLs.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (*Object, error)
	Delete(ctx context.Context, key string) error
}

// AttachmentKey returns a fresh object key for a topic attachment.
func AttachmentKey(topicID uint, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	return fmt.Sprintf("attachments/%d/%s%s", topicID, uuid.NewString(), ext)
}

// AvatarKey returns a fresh object key for a user avatar.
func AvatarKey(userID uint) string {
	return fmt.Sprintf("avatars/%d/%s.jpg", userID, uuid.NewString())
}

// MemoryStore keeps objects in memory. Used when S3 is disabled.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string][]byte
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{baseURL: strings.TrimRight(baseURL, "/"), objects: map[string][]byte{}}
}

func (m *MemoryStore) Put(ctx context.Context, key string, body io.Reader, _ int64, contentType string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return &Object{Key: key, PublicURL: m.baseURL + "/" + key, Size: int64(len(data)), ContentType: contentType}, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Get returns a stored object's bytes.
func (m *MemoryStore) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	return data, ok
}
