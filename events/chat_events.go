package events

import (
	"github.com/go-monolith/mono/pkg/helper"

	domain "github.com/example/agent-chat/domain/chat"
)

// UserMessageEvent is emitted when a user message arrives over a WebSocket
// session and has been persisted.
type UserMessageEvent struct {
	UserID   string         `json:"user_id"`
	Timezone string         `json:"timezone"`
	Message  domain.Message `json:"message"`
}

// AgentStatusEvent is emitted while the agent works on a request. It maps to
// a transient status frame and is never persisted.
type AgentStatusEvent struct {
	UserID string        `json:"user_id"`
	Status domain.Status `json:"status"`
}

// AgentReplyEvent is emitted when the agent finishes a request.
type AgentReplyEvent struct {
	UserID  string         `json:"user_id"`
	Message domain.Message `json:"message"`
}

// Event definitions for the chat domain.
var (
	UserMessageV1 = helper.EventDefinition[UserMessageEvent](
		"chat",
		"UserMessage",
		"v1",
	)

	AgentStatusV1 = helper.EventDefinition[AgentStatusEvent](
		"chat",
		"AgentStatus",
		"v1",
	)

	AgentReplyV1 = helper.EventDefinition[AgentReplyEvent](
		"chat",
		"AgentReply",
		"v1",
	)
)
