package client

import (
	"log/slog"
	"sync"

	domain "github.com/example/agent-chat/domain/chat"
)

// NoticeKind classifies the failures surfaced to the user.
type NoticeKind int

const (
	// NoticeSessionExpired: the server reported AUTH_REQUIRED.
	NoticeSessionExpired NoticeKind = iota
	// NoticeConnectionLost: a send was attempted without an open channel.
	NoticeConnectionLost
	// NoticeUploadFailed: a staged file failed to upload; the send was aborted.
	NoticeUploadFailed
	// NoticeError: any other server-reported or local failure.
	NoticeError
)

// Notice is a user-visible failure report.
type Notice struct {
	Kind NoticeKind
	Text string
}

// Notifier receives notices. The UI shell decides how to present them; the
// connector never blocks on it.
type Notifier interface {
	Notify(notice Notice)
}

// NopNotifier drops all notices.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(Notice) {}

// model holds the conversation state the connector exposes: the ordered
// transcript and the transient status indicator. The transcript is
// append-only except for the one-time full replacement a history frame
// performs at connection start.
type model struct {
	mu       sync.RWMutex
	messages []domain.Message
	status   *domain.Status
}

func newModel() *model {
	return &model{}
}

// Apply folds one inbound frame into the model. Unrecognized frame types are
// logged and ignored without touching any state.
func (m *model) Apply(frame domain.Frame, notifier Notifier, logger *slog.Logger) {
	switch frame.Type {
	case domain.FrameHistory:
		m.mu.Lock()
		m.messages = append([]domain.Message(nil), frame.Messages...)
		m.status = nil
		m.mu.Unlock()
	case domain.FrameMessage:
		m.mu.Lock()
		m.messages = append(m.messages, frame.Message())
		m.status = nil
		m.mu.Unlock()
	case domain.FrameStatus:
		m.mu.Lock()
		m.status = &domain.Status{Content: frame.Content, Icon: frame.Icon}
		m.mu.Unlock()
	case domain.FrameError:
		m.mu.Lock()
		m.status = nil
		m.mu.Unlock()
		if frame.Code == domain.CodeAuthRequired {
			notifier.Notify(Notice{Kind: NoticeSessionExpired, Text: frame.Content})
		} else {
			notifier.Notify(Notice{Kind: NoticeError, Text: frame.Content})
		}
	default:
		logger.Warn("Ignoring unrecognized frame", "type", frame.Type)
	}
}

// Append adds one message to the transcript and clears the status.
func (m *model) Append(msg domain.Message) {
	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
}

// Clear empties the transcript.
func (m *model) Clear() {
	m.mu.Lock()
	m.messages = nil
	m.mu.Unlock()
}

// SetStatus replaces the current status indicator.
func (m *model) SetStatus(status domain.Status) {
	m.mu.Lock()
	m.status = &status
	m.mu.Unlock()
}

// ClearStatus removes the status indicator.
func (m *model) ClearStatus() {
	m.mu.Lock()
	m.status = nil
	m.mu.Unlock()
}

// Messages returns a copy of the transcript in order.
func (m *model) Messages() []domain.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Status returns the current status indicator, if any.
func (m *model) Status() (domain.Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == nil {
		return domain.Status{}, false
	}
	return *m.status, true
}
