package chat

import "time"

// Sender identifies which side of the conversation produced a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// FileRef points at a previously uploaded file. It is opaque to the chat
// protocol and reusable across messages without re-uploading.
type FileRef struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Message is one ordered unit of conversation. Timestamp is epoch
// milliseconds, client-assigned for user messages and server-assigned for
// agent messages; it is used for display only, not for causal ordering.
type Message struct {
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content,omitempty"`
	Files     []FileRef `json:"files"`
	Timestamp int64     `json:"timestamp"`
}

// Status is a transient work-in-progress indicator. It is never persisted;
// the next message, history or error frame supersedes it.
type Status struct {
	Content string `json:"content"`
	Icon    string `json:"icon"`
}

// NewUserMessage builds a user message stamped with the current time.
func NewUserMessage(content string, files []FileRef) Message {
	if files == nil {
		files = []FileRef{}
	}
	return Message{
		Sender:    SenderUser,
		Content:   content,
		Files:     files,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewAgentMessage builds an agent message stamped with the current time.
func NewAgentMessage(content string, files []FileRef) Message {
	if files == nil {
		files = []FileRef{}
	}
	return Message{
		Sender:    SenderAgent,
		Content:   content,
		Files:     files,
		Timestamp: time.Now().UnixMilli(),
	}
}
