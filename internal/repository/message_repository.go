package repository

import (
	"fmt"

	"gorm.io/gorm"

	"kbring/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(message *model.Message) error {
	if err := r.db.Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

// CreateWithCitations writes the message and its citations atomically. The
// citations arrive without a message id; it is assigned from the created row.
func (r *MessageRepository) CreateWithCitations(message *model.Message, citations []model.Citation) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		if len(citations) == 0 {
			return nil
		}
		for i := range citations {
			citations[i].MessageID = message.ID
		}
		return tx.Create(&citations).Error
	})
	if err != nil {
		return fmt.Errorf("create message with citations failed: %w", err)
	}
	return nil
}

func (r *MessageRepository) ListBySessionID(sessionID uint, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	var messages []model.Message
	if err := r.db.Where("session_id = ?", sessionID).Order("created_at ASC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, nil
}

// ListRecentBySessionID returns the last limit messages in chronological
// order, for prompt context.
func (r *MessageRepository) ListRecentBySessionID(sessionID uint, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var messages []model.Message
	if err := r.db.Where("session_id = ?", sessionID).
		Order("created_at DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list recent messages failed: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *MessageRepository) DeleteBySessionID(sessionID uint) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var messageIDs []uint
		if err := tx.Model(&model.Message{}).Where("session_id = ?", sessionID).
			Pluck("id", &messageIDs).Error; err != nil {
			return err
		}
		if len(messageIDs) > 0 {
			if err := tx.Where("message_id IN ?", messageIDs).Delete(&model.Citation{}).Error; err != nil {
				return err
			}
		}
		return tx.Where("session_id = ?", sessionID).Delete(&model.Message{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete messages by session failed: %w", err)
	}
	return nil
}

// ListCitationsForMessage returns the citations of one message, restricted
// to the given session. The session filter keeps a caller who owns some
// session from reading citation rows of another user's message.
func (r *MessageRepository) ListCitationsForMessage(sessionID, messageID uint) ([]model.Citation, error) {
	var citations []model.Citation
	err := r.db.Model(&model.Citation{}).
		Joins("JOIN messages ON messages.id = citations.message_id").
		Where("citations.message_id = ? AND messages.session_id = ?", messageID, sessionID).
		Order("citations.score DESC").
		Find(&citations).Error
	if err != nil {
		return nil, fmt.Errorf("list citations failed: %w", err)
	}
	return citations, nil
}
