package model

import "time"

// Chunk is one fixed-size slice of a document body. Identity is
// (document_id, chunk_index); re-indexing upserts in place. Lexeme holds the
// normalized full-text representation indexed for lexical search.
type Chunk struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DocumentID uint      `gorm:"not null;uniqueIndex:uk_chunk_doc_idx,priority:1" json:"document_id"`
	ChunkIndex int       `gorm:"not null;uniqueIndex:uk_chunk_doc_idx,priority:2" json:"chunk_index"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	ContentSHA string    `gorm:"size:64;not null" json:"content_sha256"`
	Lexeme     string    `gorm:"type:text;not null;index:idx_chunk_lexeme,class:FULLTEXT" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
