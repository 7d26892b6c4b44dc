package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kbring/internal/model"
	"kbring/internal/retrieval"
)

type ChunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// UpsertBatch writes chunks keyed by (document_id, chunk_index). Re-indexing
// an existing slot replaces its content in place, preserving the chunk id so
// unchanged embeddings stay attached.
func (r *ChunkRepository) UpsertBatch(chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}, {Name: "chunk_index"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "content_sha", "lexeme", "updated_at"}),
	}).Create(&chunks).Error
	if err != nil {
		return fmt.Errorf("upsert chunks failed: %w", err)
	}
	return nil
}

// DeleteTail removes chunk slots at or beyond fromIndex, with their
// embeddings. Used when a re-indexed document shrank.
func (r *ChunkRepository) DeleteTail(documentID uint, fromIndex int) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var chunkIDs []uint
		if err := tx.Model(&model.Chunk{}).
			Where("document_id = ? AND chunk_index >= ?", documentID, fromIndex).
			Pluck("id", &chunkIDs).Error; err != nil {
			return err
		}
		if len(chunkIDs) == 0 {
			return nil
		}
		if err := tx.Where("chunk_id IN ?", chunkIDs).Delete(&model.Embedding{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", chunkIDs).Delete(&model.Chunk{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete chunk tail failed: %w", err)
	}
	return nil
}

func (r *ChunkRepository) ListByDocumentID(documentID uint) ([]model.Chunk, error) {
	var chunks []model.Chunk
	if err := r.db.Where("document_id = ?", documentID).Order("chunk_index ASC").Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list chunks by document failed: %w", err)
	}
	return chunks, nil
}

func (r *ChunkRepository) CountByDocumentID(documentID uint) (int64, error) {
	var n int64
	if err := r.db.Model(&model.Chunk{}).Where("document_id = ?", documentID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count chunks failed: %w", err)
	}
	return n, nil
}

// SearchLexical ranks the owner's chunks by full-text relevance. The join on
// documents enforces ownership scoping inside the query.
func (r *ChunkRepository) SearchLexical(ctx context.Context, userID uint, query string, limit int) ([]retrieval.ScoredChunk, error) {
	if limit <= 0 {
		limit = retrieval.DefaultCandidateLimit
	}
	var rows []struct {
		ChunkID uint
		Score   float64
	}
	err := r.db.WithContext(ctx).Raw(`
		SELECT chunks.id AS chunk_id,
		       MATCH(chunks.lexeme) AGAINST (? IN NATURAL LANGUAGE MODE) AS score
		FROM chunks
		JOIN documents ON documents.id = chunks.document_id
		WHERE documents.user_id = ?
		  AND MATCH(chunks.lexeme) AGAINST (? IN NATURAL LANGUAGE MODE)
		ORDER BY score DESC, chunks.id ASC
		LIMIT ?`, query, userID, query, limit).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	out := make([]retrieval.ScoredChunk, len(rows))
	for i, row := range rows {
		out[i] = retrieval.ScoredChunk{ChunkID: row.ChunkID, Score: row.Score}
	}
	return out, nil
}

// LoadCandidates attaches chunk content and document title/URI for the fused
// top hits, scoped to the owner.
func (r *ChunkRepository) LoadCandidates(ctx context.Context, userID uint, chunkIDs []uint) (map[uint]retrieval.Candidate, error) {
	if len(chunkIDs) == 0 {
		return map[uint]retrieval.Candidate{}, nil
	}
	var rows []struct {
		ChunkID    uint
		DocumentID uint
		Title      string
		URI        string
		Content    string
	}
	err := r.db.WithContext(ctx).
		Table("chunks").
		Select("chunks.id AS chunk_id, chunks.document_id, documents.title, documents.uri, chunks.content").
		Joins("JOIN documents ON documents.id = chunks.document_id").
		Where("chunks.id IN ? AND documents.user_id = ?", chunkIDs, userID).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load candidates failed: %w", err)
	}
	out := make(map[uint]retrieval.Candidate, len(rows))
	for _, row := range rows {
		out[row.ChunkID] = retrieval.Candidate{
			ChunkID:    row.ChunkID,
			DocumentID: row.DocumentID,
			Title:      row.Title,
			URI:        row.URI,
			Content:    row.Content,
		}
	}
	return out, nil
}
