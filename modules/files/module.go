package files

import (
	"context"
	"log"
	"os"

	"github.com/go-monolith/mono"
)

// FilesModule provides attachment storage for chat messages.
type FilesModule struct {
	service *Service
	js      *JetStreamObjectStore
	natsURL string
	bucket  string
}

// Compile-time interface checks.
var _ mono.Module = (*FilesModule)(nil)
var _ mono.HealthCheckableModule = (*FilesModule)(nil)

// NewModule creates a new FilesModule. When FILES_BACKEND=memory the module
// keeps uploads in process memory instead of NATS JetStream.
func NewModule() *FilesModule {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}
	bucket := os.Getenv("FILES_BUCKET")
	if bucket == "" {
		bucket = "chat-attachments"
	}
	return &FilesModule{
		natsURL: natsURL,
		bucket:  bucket,
	}
}

// Name returns the module name.
func (m *FilesModule) Name() string {
	return "files"
}

// Start initializes the object store backend.
func (m *FilesModule) Start(ctx context.Context) error {
	if os.Getenv("FILES_BACKEND") == "memory" {
		m.service = NewService(NewMemoryObjectStore())
		log.Println("[files] Module started - in-memory object store")
		return nil
	}

	js, err := NewJetStreamObjectStore(ctx, m.natsURL, m.bucket)
	if err != nil {
		return err
	}

	m.js = js
	m.service = NewService(js)
	log.Printf("[files] Module started - JetStream bucket %q", m.bucket)
	return nil
}

// Stop shuts down the module.
func (m *FilesModule) Stop(_ context.Context) error {
	if m.js != nil {
		m.js.Close()
	}
	return nil
}

// Health returns the health status.
func (m *FilesModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: m.service != nil,
		Message: "operational",
	}
}

// Service returns the file service for the API module to use.
func (m *FilesModule) Service() *Service {
	return m.service
}
