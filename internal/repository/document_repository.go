package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"kbring/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// CreateWithJob writes the document and its index job in one transaction so
// a document can never exist without a queued job and vice versa.
func (r *DocumentRepository) CreateWithJob(doc *model.Document, job *model.Job) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return err
		}
		payload, err := model.EncodeIndexDocumentPayload(doc.ID)
		if err != nil {
			return err
		}
		job.Payload = payload
		return tx.Create(job).Error
	})
	if err != nil {
		return fmt.Errorf("create document with job failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) ListByUserID(userID uint) ([]model.Document, error) {
	var list []model.Document
	if err := r.db.Select("id", "user_id", "source", "source_ref", "uri", "doc_type", "title", "content_sha", "created_at").
		Where("user_id = ?", userID).Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return list, nil
}

func (r *DocumentRepository) GetByIDAndUserID(id, userID uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

// GetByID is the worker-side lookup; job payloads are trusted to carry ids
// enqueued by the owner.
func (r *DocumentRepository) GetByID(id uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document by id failed: %w", err)
	}
	return &doc, nil
}

// DeleteByIDAndUserID removes the document together with its chunks and
// their embeddings.
func (r *DocumentRepository) DeleteByIDAndUserID(id, userID uint) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&model.Document{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		var chunkIDs []uint
		if err := tx.Model(&model.Chunk{}).Where("document_id = ?", id).Pluck("id", &chunkIDs).Error; err != nil {
			return err
		}
		if len(chunkIDs) > 0 {
			if err := tx.Where("chunk_id IN ?", chunkIDs).Delete(&model.Embedding{}).Error; err != nil {
				return err
			}
		}
		return tx.Where("document_id = ?", id).Delete(&model.Chunk{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete document failed: %w", err)
	}
	return nil
}
