package agent

import (
	"context"
	"fmt"
	"log"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	domain "github.com/example/agent-chat/domain/chat"
	"github.com/example/agent-chat/events"
)

// AgentModule consumes user messages and emits status updates followed by a
// reply. The reply logic itself is pluggable via Responder.
type AgentModule struct {
	responder Responder
	eventBus  mono.EventBus
}

// Compile-time interface checks.
var _ mono.Module = (*AgentModule)(nil)
var _ mono.EventBusAwareModule = (*AgentModule)(nil)
var _ mono.EventEmitterModule = (*AgentModule)(nil)
var _ mono.EventConsumerModule = (*AgentModule)(nil)

// NewModule creates a new AgentModule with the given responder.
func NewModule(responder Responder) *AgentModule {
	if responder == nil {
		responder = NewEchoResponder()
	}
	return &AgentModule{
		responder: responder,
	}
}

// Name returns the module name.
func (m *AgentModule) Name() string {
	return "agent"
}

// SetEventBus receives the EventBus from the framework.
func (m *AgentModule) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *AgentModule) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.AgentStatusV1.ToBase(),
		events.AgentReplyV1.ToBase(),
	}
}

// RegisterEventConsumers subscribes to user messages.
func (m *AgentModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.UserMessageV1, m.handleUserMessage, m,
	); err != nil {
		return fmt.Errorf("failed to register UserMessage consumer: %w", err)
	}

	log.Println("[agent] Registered event consumers: UserMessage")
	return nil
}

// Start initializes the module.
func (m *AgentModule) Start(_ context.Context) error {
	log.Println("[agent] Module started")
	return nil
}

// Stop shuts down the module.
func (m *AgentModule) Stop(_ context.Context) error {
	log.Println("[agent] Module stopped")
	return nil
}

func (m *AgentModule) handleUserMessage(ctx context.Context, event events.UserMessageEvent, _ *mono.Msg) error {
	req := Request{
		UserID:   event.UserID,
		Timezone: event.Timezone,
		Message:  event.Message,
	}

	status := func(s domain.Status) {
		statusEvent := events.AgentStatusEvent{UserID: event.UserID, Status: s}
		if err := events.AgentStatusV1.Publish(m.eventBus, statusEvent, nil); err != nil {
			log.Printf("[agent] Failed to publish status for %s: %v", event.UserID, err)
		}
	}

	reply, err := m.responder.Respond(ctx, req, status)
	if err != nil {
		log.Printf("[agent] Responder failed for %s: %v", event.UserID, err)
		return err
	}

	replyEvent := events.AgentReplyEvent{UserID: event.UserID, Message: reply}
	if err := events.AgentReplyV1.Publish(m.eventBus, replyEvent, nil); err != nil {
		return fmt.Errorf("failed to publish agent reply: %w", err)
	}
	return nil
}
