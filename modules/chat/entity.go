package chat

import (
	"encoding/json"
	"time"

	domain "github.com/example/agent-chat/domain/chat"
)

// TranscriptEntry is one persisted message in a user's transcript.
type TranscriptEntry struct {
	ID        string    `gorm:"primarykey;size:36" json:"id"`
	UserID    string    `gorm:"size:64;index;not null" json:"user_id"`
	Sender    string    `gorm:"size:16;not null" json:"sender"`
	Content   string    `gorm:"size:8192" json:"content"`
	Files     string    `gorm:"size:8192" json:"files"` // JSON-encoded []FileRef
	Timestamp int64     `gorm:"not null" json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for TranscriptEntry.
func (TranscriptEntry) TableName() string {
	return "transcript_entries"
}

// ToMessage converts a stored entry back into a wire message.
func (e *TranscriptEntry) ToMessage() domain.Message {
	files := []domain.FileRef{}
	if e.Files != "" {
		// A decode failure leaves the message files-less rather than
		// dropping the whole entry.
		_ = json.Unmarshal([]byte(e.Files), &files)
	}
	return domain.Message{
		Sender:    domain.Sender(e.Sender),
		Content:   e.Content,
		Files:     files,
		Timestamp: e.Timestamp,
	}
}

// encodeFiles serializes a file list for storage.
func encodeFiles(files []domain.FileRef) (string, error) {
	if len(files) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(files)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
