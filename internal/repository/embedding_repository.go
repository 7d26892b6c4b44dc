package repository

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kbring/internal/embedding"
	"kbring/internal/model"
	"kbring/internal/retrieval"
)

type EmbeddingRepository struct {
	db *gorm.DB
}

func NewEmbeddingRepository(db *gorm.DB) *EmbeddingRepository {
	return &EmbeddingRepository{db: db}
}

// HashesByChunkID returns the stored content hash per chunk for one model.
// The indexer compares these against current chunk hashes to skip unchanged
// chunks.
func (r *EmbeddingRepository) HashesByChunkID(chunkIDs []uint, modelName string) (map[uint]string, error) {
	if len(chunkIDs) == 0 {
		return map[uint]string{}, nil
	}
	var rows []model.Embedding
	if err := r.db.Select("chunk_id", "chunk_sha").
		Where("chunk_id IN ? AND model = ?", chunkIDs, modelName).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list embedding hashes failed: %w", err)
	}
	out := make(map[uint]string, len(rows))
	for _, row := range rows {
		out[row.ChunkID] = row.ChunkSHA
	}
	return out, nil
}

// UpsertBatch writes embeddings keyed by (chunk_id, model), replacing stale
// vectors in place.
func (r *EmbeddingRepository) UpsertBatch(embeddings []model.Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chunk_id"}, {Name: "model"}},
		DoUpdates: clause.AssignmentColumns([]string{"dims", "chunk_sha", "vector", "updated_at"}),
	}).Create(&embeddings).Error
	if err != nil {
		return fmt.Errorf("upsert embeddings failed: %w", err)
	}
	return nil
}

// SearchVector ranks the owner's chunks by dot product against the query
// vector. Vectors are unit length so the dot product is cosine similarity.
// Rows are streamed in batches and scored in-process.
func (r *EmbeddingRepository) SearchVector(ctx context.Context, userID uint, queryVec []float32, modelName string, limit int) ([]retrieval.ScoredChunk, error) {
	if limit <= 0 {
		limit = retrieval.DefaultCandidateLimit
	}

	var scored []retrieval.ScoredChunk
	var batch []struct {
		ChunkID uint
		Vector  string
	}
	err := r.db.WithContext(ctx).
		Table("embeddings").
		Select("embeddings.chunk_id, embeddings.vector").
		Joins("JOIN chunks ON chunks.id = embeddings.chunk_id").
		Joins("JOIN documents ON documents.id = chunks.document_id").
		Where("documents.user_id = ? AND embeddings.model = ? AND embeddings.dims = ?",
			userID, modelName, len(queryVec)).
		FindInBatches(&batch, 1000, func(_ *gorm.DB, _ int) error {
			for _, row := range batch {
				vec, err := embedding.Decode(row.Vector)
				if err != nil || len(vec) != len(queryVec) {
					continue
				}
				scored = append(scored, retrieval.ScoredChunk{
					ChunkID: row.ChunkID,
					Score:   embedding.Dot(queryVec, vec),
				})
			}
			return nil
		}).Error
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ChunkID < scored[j].ChunkID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}
