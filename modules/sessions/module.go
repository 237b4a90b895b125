package sessions

import (
	"context"
	"fmt"
	"log"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	domain "github.com/example/agent-chat/domain/chat"
	"github.com/example/agent-chat/events"
)

// SessionsModule is an EventConsumerModule that routes agent status and reply
// events to the owning user's live WebSocket session.
type SessionsModule struct {
	hub       *Hub
	cancelHub context.CancelFunc
}

// Compile-time interface checks.
var _ mono.Module = (*SessionsModule)(nil)
var _ mono.EventConsumerModule = (*SessionsModule)(nil)
var _ mono.HealthCheckableModule = (*SessionsModule)(nil)

// NewModule creates a new SessionsModule.
func NewModule() *SessionsModule {
	return &SessionsModule{
		hub: NewHub(),
	}
}

// Name returns the module name.
func (m *SessionsModule) Name() string {
	return "sessions"
}

// Start initializes the module and starts the hub.
func (m *SessionsModule) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelHub = cancel
	go m.hub.Run(ctx)
	log.Println("[sessions] Module started - session hub running")
	return nil
}

// Stop shuts down the module.
func (m *SessionsModule) Stop(_ context.Context) error {
	count := m.hub.SessionCount()
	if m.cancelHub != nil {
		m.cancelHub()
		m.hub.Wait()
	}
	log.Printf("[sessions] Module stopped - %d sessions were connected", count)
	return nil
}

// Health returns the health status.
func (m *SessionsModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connected_sessions": m.hub.SessionCount(),
		},
	}
}

// RegisterEventConsumers registers event handlers.
func (m *SessionsModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.AgentStatusV1, m.handleAgentStatus, m,
	); err != nil {
		return fmt.Errorf("failed to register AgentStatus consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.AgentReplyV1, m.handleAgentReply, m,
	); err != nil {
		return fmt.Errorf("failed to register AgentReply consumer: %w", err)
	}

	log.Println("[sessions] Registered event consumers: AgentStatus, AgentReply")
	return nil
}

func (m *SessionsModule) handleAgentStatus(_ context.Context, event events.AgentStatusEvent, _ *mono.Msg) error {
	m.hub.Deliver(event.UserID, domain.StatusFrame(event.Status))
	return nil
}

func (m *SessionsModule) handleAgentReply(_ context.Context, event events.AgentReplyEvent, _ *mono.Msg) error {
	m.hub.Deliver(event.UserID, domain.MessageFrame(event.Message))
	return nil
}

// GetHub returns the session hub for the API module to use.
func (m *SessionsModule) GetHub() *Hub {
	return m.hub
}
