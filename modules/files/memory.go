package files

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryObjectStore is an in-process ObjectStore used in development and
// tests when NATS is not available.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
	modTime     time.Time
}

// NewMemoryObjectStore creates an empty in-memory object store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		objects: make(map[string]memoryObject),
	}
}

// Put stores a file in memory.
func (s *MemoryObjectStore) Put(_ context.Context, name string, data []byte, contentType string) (*ObjectInfo, error) {
	if name == "" {
		return nil, fmt.Errorf("object name is required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	s.objects[name] = memoryObject{
		data:        stored,
		contentType: contentType,
		modTime:     time.Now(),
	}
	s.mu.Unlock()

	return &ObjectInfo{
		Name:        name,
		Size:        uint64(len(stored)),
		ContentType: contentType,
		ModTime:     time.Now(),
	}, nil
}

// Get retrieves a file from memory.
func (s *MemoryObjectStore) Get(_ context.Context, name string) ([]byte, *ObjectInfo, error) {
	s.mu.RLock()
	obj, ok := s.objects[name]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, fmt.Errorf("object not found: %s", name)
	}

	data := make([]byte, len(obj.data))
	copy(data, obj.data)

	return data, &ObjectInfo{
		Name:        name,
		Size:        uint64(len(obj.data)),
		ContentType: obj.contentType,
		ModTime:     obj.modTime,
	}, nil
}

// Delete removes a file from memory.
func (s *MemoryObjectStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[name]; !ok {
		return fmt.Errorf("object not found: %s", name)
	}
	delete(s.objects, name)
	return nil
}

// List returns all stored objects sorted by name.
func (s *MemoryObjectStore) List(_ context.Context) ([]*ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects := make([]*ObjectInfo, 0, len(s.objects))
	for name, obj := range s.objects {
		objects = append(objects, &ObjectInfo{
			Name:        name,
			Size:        uint64(len(obj.data)),
			ContentType: obj.contentType,
			ModTime:     obj.modTime,
		})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Name < objects[j].Name })
	return objects, nil
}
