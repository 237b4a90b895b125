package chat

import (
	"encoding/json"
	"fmt"
)

// Frame types carried over the WebSocket channel.
const (
	FrameHistory = "history"
	FrameMessage = "message"
	FrameStatus  = "status"
	FrameError   = "error"
)

// Error codes reported by the server in error frames.
const (
	CodeAuthRequired = "AUTH_REQUIRED"
	CodeRateLimited  = "RATE_LIMITED"
)

// Frame is the tagged union exchanged over the channel, one JSON object per
// frame. Only the fields relevant to the given Type are populated.
type Frame struct {
	Type string `json:"type"`

	// history
	Messages []Message `json:"messages,omitempty"`

	// message
	Sender    Sender    `json:"sender,omitempty"`
	Files     []FileRef `json:"files,omitempty"`
	Timestamp int64     `json:"timestamp,omitempty"`

	// message, status and error all carry content
	Content string `json:"content,omitempty"`

	// status
	Icon string `json:"icon,omitempty"`

	// error
	Code string `json:"code,omitempty"`
}

// HistoryFrame wraps an ordered transcript into a history frame.
func HistoryFrame(messages []Message) Frame {
	if messages == nil {
		messages = []Message{}
	}
	return Frame{Type: FrameHistory, Messages: messages}
}

// MessageFrame wraps a single message into a message frame.
func MessageFrame(msg Message) Frame {
	files := msg.Files
	if files == nil {
		files = []FileRef{}
	}
	return Frame{
		Type:      FrameMessage,
		Sender:    msg.Sender,
		Content:   msg.Content,
		Files:     files,
		Timestamp: msg.Timestamp,
	}
}

// StatusFrame wraps a transient status indicator into a status frame.
func StatusFrame(status Status) Frame {
	return Frame{Type: FrameStatus, Content: status.Content, Icon: status.Icon}
}

// ErrorFrame builds an error frame with the given code and user-facing text.
func ErrorFrame(code, content string) Frame {
	return Frame{Type: FrameError, Code: code, Content: content}
}

// Message extracts the message carried by a message frame.
func (f Frame) Message() Message {
	files := f.Files
	if files == nil {
		files = []FileRef{}
	}
	return Message{
		Sender:    f.Sender,
		Content:   f.Content,
		Files:     files,
		Timestamp: f.Timestamp,
	}
}

// Per-type wire shapes. Each frame type serializes exactly the fields it
// defines; in particular message frames always carry a files array, even
// when empty.
type historyWire struct {
	Type     string    `json:"type"`
	Messages []Message `json:"messages"`
}

type messageWire struct {
	Type      string    `json:"type"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Files     []FileRef `json:"files"`
	Timestamp int64     `json:"timestamp"`
}

type statusWire struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Icon    string `json:"icon"`
}

type errorWire struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Content string `json:"content"`
}

// MarshalJSON emits the wire shape for the frame's type.
func (f Frame) MarshalJSON() ([]byte, error) {
	switch f.Type {
	case FrameHistory:
		messages := f.Messages
		if messages == nil {
			messages = []Message{}
		}
		return json.Marshal(historyWire{Type: f.Type, Messages: messages})
	case FrameMessage:
		files := f.Files
		if files == nil {
			files = []FileRef{}
		}
		return json.Marshal(messageWire{
			Type:      f.Type,
			Sender:    f.Sender,
			Content:   f.Content,
			Files:     files,
			Timestamp: f.Timestamp,
		})
	case FrameStatus:
		return json.Marshal(statusWire{Type: f.Type, Content: f.Content, Icon: f.Icon})
	case FrameError:
		return json.Marshal(errorWire{Type: f.Type, Code: f.Code, Content: f.Content})
	default:
		return nil, fmt.Errorf("cannot encode frame type %q", f.Type)
	}
}

// DecodeFrame parses one wire frame. A frame without a type field is invalid;
// a frame with an unrecognized type is returned as-is and left to the caller
// to ignore.
func DecodeFrame(data []byte) (Frame, error) {
	// Alias type avoids any custom (un)marshaling on Frame.
	type plain Frame
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return Frame{}, fmt.Errorf("malformed frame: %w", err)
	}
	if p.Type == "" {
		return Frame{}, fmt.Errorf("frame missing type field")
	}
	return Frame(p), nil
}

// EncodeFrame serializes one wire frame.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return data, nil
}
