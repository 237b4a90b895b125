package chat

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/example/agent-chat/domain/chat"
)

// Repository provides access to transcript storage.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new transcript repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Append stores one message at the end of a user's transcript.
func (r *Repository) Append(userID string, msg domain.Message) error {
	files, err := encodeFiles(msg.Files)
	if err != nil {
		return fmt.Errorf("failed to encode file list: %w", err)
	}

	entry := &TranscriptEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		Sender:    string(msg.Sender),
		Content:   msg.Content,
		Files:     files,
		Timestamp: msg.Timestamp,
	}
	if err := r.db.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append transcript entry: %w", err)
	}
	return nil
}

// History returns a user's full transcript in insertion order.
func (r *Repository) History(userID string) ([]domain.Message, error) {
	var entries []TranscriptEntry
	if err := r.db.Where("user_id = ?", userID).Order("created_at asc").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}

	messages := make([]domain.Message, 0, len(entries))
	for i := range entries {
		messages = append(messages, entries[i].ToMessage())
	}
	return messages, nil
}

// Clear deletes a user's entire transcript. Clearing an empty transcript is
// not an error.
func (r *Repository) Clear(userID string) error {
	if err := r.db.Where("user_id = ?", userID).Delete(&TranscriptEntry{}).Error; err != nil {
		return fmt.Errorf("failed to clear transcript: %w", err)
	}
	return nil
}

// Count returns the number of stored entries for a user.
func (r *Repository) Count(userID string) (int64, error) {
	var count int64
	if err := r.db.Model(&TranscriptEntry{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count transcript entries: %w", err)
	}
	return count, nil
}
