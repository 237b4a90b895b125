package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/example/agent-chat/domain/chat"
)

// Request is one user message handed to the responder, with the session
// timezone so relative dates can be localized.
type Request struct {
	UserID   string
	Timezone string
	Message  domain.Message
}

// StatusFunc reports transient progress to the requesting session.
type StatusFunc func(domain.Status)

// Responder produces an agent reply for a user message. Implementations may
// call status any number of times before returning; the returned message is
// delivered and persisted by the surrounding modules.
type Responder interface {
	Respond(ctx context.Context, req Request, status StatusFunc) (domain.Message, error)
}

// EchoResponder is the default responder. It acknowledges the message and any
// attachments without interpreting the content; real language understanding
// lives behind the Responder interface, outside this repository.
type EchoResponder struct{}

// NewEchoResponder creates the default responder.
func NewEchoResponder() *EchoResponder {
	return &EchoResponder{}
}

// Respond builds an acknowledgement reply.
func (r *EchoResponder) Respond(_ context.Context, req Request, status StatusFunc) (domain.Message, error) {
	status(domain.Status{Content: "Thinking...", Icon: "⏳"})

	loc, err := time.LoadLocation(req.Timezone)
	if err != nil {
		loc = time.UTC
	}
	received := time.UnixMilli(req.Message.Timestamp).In(loc)

	var b strings.Builder
	fmt.Fprintf(&b, "Received your message at %s.", received.Format("15:04"))
	if req.Message.Content != "" {
		fmt.Fprintf(&b, " You said: %q.", req.Message.Content)
	}
	if len(req.Message.Files) > 0 {
		status(domain.Status{Content: "Reading attached files...", Icon: "\U0001f4c1"})
		names := make([]string, 0, len(req.Message.Files))
		for _, f := range req.Message.Files {
			names = append(names, f.Filename)
		}
		fmt.Fprintf(&b, " Attached: %s.", strings.Join(names, ", "))
	}

	return domain.NewAgentMessage(b.String(), nil), nil
}
