package files

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	domain "github.com/example/agent-chat/domain/chat"
)

// Service maps uploads onto the object store and produces the file
// references the chat protocol carries around.
type Service struct {
	store ObjectStore
}

// NewService creates a new file service.
func NewService(store ObjectStore) *Service {
	return &Service{store: store}
}

// Upload stores a file for the given owner and returns a reference suitable
// for attaching to messages. Storage paths are namespaced per owner so that
// one user cannot reference another user's uploads.
func (s *Service) Upload(ctx context.Context, ownerID, filename string, data []byte, contentType string) (*domain.FileRef, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner ID is required")
	}
	if filename == "" {
		return nil, fmt.Errorf("file name is required")
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("file data is empty")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	path := fmt.Sprintf("%s/%s/%s", ownerID, uuid.New().String(), filename)

	info, err := s.store.Put(ctx, path, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	return &domain.FileRef{
		Filename: filename,
		Path:     path,
		MimeType: contentType,
		Size:     int64(info.Size),
	}, nil
}

// ListRefs returns references for all files owned by the given user, newest
// first. This backs @filename referencing of existing uploads.
func (s *Service) ListRefs(ctx context.Context, ownerID string) ([]domain.FileRef, error) {
	objects, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	prefix := ownerID + "/"
	refs := make([]domain.FileRef, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Name, prefix) {
			continue
		}
		// Path layout is owner/uuid/filename.
		parts := strings.SplitN(obj.Name, "/", 3)
		if len(parts) != 3 {
			continue
		}
		refs = append(refs, domain.FileRef{
			Filename: parts[2],
			Path:     obj.Name,
			MimeType: obj.ContentType,
			Size:     int64(obj.Size),
		})
	}
	return refs, nil
}

// Fetch retrieves a stored file's content by reference path, verifying the
// owner namespace.
func (s *Service) Fetch(ctx context.Context, ownerID, path string) ([]byte, *ObjectInfo, error) {
	if !strings.HasPrefix(path, ownerID+"/") {
		return nil, nil, fmt.Errorf("file not found: %s", path)
	}
	return s.store.Get(ctx, path)
}

// Delete removes a stored file by reference path, verifying the owner
// namespace.
func (s *Service) Delete(ctx context.Context, ownerID, path string) error {
	if !strings.HasPrefix(path, ownerID+"/") {
		return fmt.Errorf("file not found: %s", path)
	}
	return s.store.Delete(ctx, path)
}
