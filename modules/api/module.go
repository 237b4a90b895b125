package api

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-monolith/mono"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	domain "github.com/example/agent-chat/domain/chat"
	"github.com/example/agent-chat/modules/auth"
	"github.com/example/agent-chat/modules/files"
	"github.com/example/agent-chat/modules/sessions"
)

// Transcript is the transcript surface the API needs: persist-and-publish for
// inbound user messages, ordered history, idempotent clear.
type Transcript interface {
	AppendUserMessage(userID, timezone string, msg domain.Message) error
	History(userID string) ([]domain.Message, error)
	Clear(userID string) error
}

// APIModule is the HTTP API module with WebSocket support.
type APIModule struct {
	app        *fiber.App
	auth       *auth.AuthModule
	transcript Transcript
	files      *files.Service
	hub        *sessions.Hub
	port       string
}

// Compile-time interface checks.
var _ mono.Module = (*APIModule)(nil)
var _ mono.HealthCheckableModule = (*APIModule)(nil)

// NewModule creates a new APIModule.
func NewModule() *APIModule {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	return &APIModule{
		port: port,
	}
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// SetAuth sets the auth module (called from main.go).
func (m *APIModule) SetAuth(a *auth.AuthModule) {
	m.auth = a
}

// SetTranscript sets the transcript store (called from main.go).
func (m *APIModule) SetTranscript(t Transcript) {
	m.transcript = t
}

// SetFiles sets the file service (called from main.go).
func (m *APIModule) SetFiles(s *files.Service) {
	m.files = s
}

// SetHub sets the session hub (called from main.go).
func (m *APIModule) SetHub(hub *sessions.Hub) {
	m.hub = hub
}

// Start initializes the Fiber HTTP server.
func (m *APIModule) Start(_ context.Context) error {
	if m.auth == nil {
		return fmt.Errorf("auth module dependency not set")
	}
	if m.transcript == nil {
		return fmt.Errorf("transcript module dependency not set")
	}
	if m.hub == nil {
		return fmt.Errorf("session hub dependency not set")
	}

	m.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	m.app.Use(recover.New())
	m.app.Use(loggerMiddleware())

	m.setupRoutes()

	go func() {
		if err := m.app.Listen(":" + m.port); err != nil {
			log.Printf("[api] HTTP server error: %v", err)
		}
	}()

	log.Printf("[api] HTTP server started on :%s", m.port)
	return nil
}

// Stop shuts down the Fiber HTTP server.
func (m *APIModule) Stop(_ context.Context) error {
	if m.app == nil {
		return nil
	}
	log.Println("[api] Shutting down HTTP server...")
	return m.app.Shutdown()
}

// Health returns the health status.
func (m *APIModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: map[string]any{
			"port":               m.port,
			"connected_sessions": m.hub.SessionCount(),
		},
	}
}

// setupRoutes configures all HTTP routes.
func (m *APIModule) setupRoutes() {
	m.app.Get("/health", m.healthHandler)

	m.app.Post("/auth/ticket", m.requireAuth(), m.issueTicket)
	m.app.Post("/auth/token", m.mintDevToken)

	m.app.Delete("/chat/clear", m.requireAuth(), m.clearHistory)

	m.app.Post("/files", m.requireAuth(), m.uploadFile)
	m.app.Get("/files", m.requireAuth(), m.listFiles)
	m.app.Get("/files/*", m.requireAuth(), m.downloadFile)
	m.app.Delete("/files/*", m.requireAuth(), m.deleteFile)

	// WebSocket endpoint; the ticket is redeemed before the upgrade
	m.app.Use("/ws/chat", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return m.redeemTicket(c)
	})
	m.app.Get("/ws/chat", websocket.New(m.handleChatSocket))
}

// customErrorHandler handles Fiber errors.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}

// loggerMiddleware returns a Fiber middleware for request logging.
func loggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip logging for WebSocket upgrade requests
		if c.Get("Upgrade") == "websocket" {
			return c.Next()
		}
		err := c.Next()
		log.Printf("[api] %s %s %d", c.Method(), c.Path(), c.Response().StatusCode())
		return err
	}
}
